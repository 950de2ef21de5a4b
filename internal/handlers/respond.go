package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sijeecodes/SaveTheShip/internal/matchmaking"
	"github.com/sijeecodes/SaveTheShip/internal/store"
	"github.com/sirupsen/logrus"
)

// statusFor maps coordinator and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, matchmaking.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, matchmaking.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Message string `json:"message"`
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

// writeError logs server faults and answers with a {message} body.
func writeError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusNotFound:
		msg = "Lobby not found"
	case http.StatusInternalServerError:
		logger.WithError(err).Error("request failed")
		msg = "internal error"
	}
	writeMessage(w, status, msg)
}
