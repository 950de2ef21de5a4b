package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sijeecodes/SaveTheShip/internal/matchmaking"
	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sirupsen/logrus"
)

type matchmakingRequest struct {
	Action     string `json:"action"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	LobbyID    string `json:"lobbyId"`
	PKLobbyID  string `json:"pkLobbyId"`
}

// lobbyID accepts both the current and the legacy field name.
func (r matchmakingRequest) lobbyID() string {
	if id := strings.TrimSpace(r.LobbyID); id != "" {
		return id
	}
	return strings.TrimSpace(r.PKLobbyID)
}

type transitionResponse struct {
	LobbyID string               `json:"lobbyId"`
	Status  models.LobbyStatus   `json:"status"`
	Message string               `json:"message"`
	Players []models.LobbyPlayer `json:"players,omitempty"`
}

// MatchmakingHandler serves POST /matchmaking.
func MatchmakingHandler(logger *logrus.Logger, coord *matchmaking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req matchmakingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}
		ctx := r.Context()
		action := strings.TrimSpace(req.Action)

		switch action {
		case "matchmake":
			res, err := coord.Matchmake(ctx, matchmaking.MatchmakeRequest{
				PlayerID:   req.PlayerID,
				PlayerName: req.PlayerName,
			})
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, res)

		case "start":
			if req.lobbyID() == "" {
				writeMessage(w, http.StatusBadRequest, "lobbyId required")
				return
			}
			players, err := coord.StartGame(ctx, req.lobbyID())
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, transitionResponse{
				LobbyID: req.lobbyID(),
				Status:  models.StatusInProgress,
				Message: fmt.Sprintf("Lobby set to %s", models.StatusInProgress),
				Players: players,
			})

		case "finish", "expire":
			if req.lobbyID() == "" {
				writeMessage(w, http.StatusBadRequest, "lobbyId required")
				return
			}
			transition := coord.Finish
			if action == "expire" {
				transition = coord.Expire
			}
			lobby, err := transition(ctx, req.lobbyID())
			if err != nil {
				writeError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, transitionResponse{
				LobbyID: lobby.ID,
				Status:  lobby.Status,
				Message: fmt.Sprintf("Lobby set to %s", lobby.Status),
			})

		default:
			writeMessage(w, http.StatusBadRequest, "Invalid action")
		}
	}
}

type lobbyResponse struct {
	LobbyID     string               `json:"lobbyId"`
	Status      models.LobbyStatus   `json:"status"`
	PlayerCount int                  `json:"playerCount"`
	MaxPlayers  int                  `json:"maxPlayers"`
	CreatedAt   time.Time            `json:"createdAt"`
	ExpiresAt   time.Time            `json:"expiresAt"`
	Players     []models.LobbyPlayer `json:"players"`
}

// LobbyHandler serves GET /lobby?lobbyId=.
func LobbyHandler(logger *logrus.Logger, coord *matchmaking.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.URL.Query().Get("lobbyId"))
		if id == "" {
			writeMessage(w, http.StatusBadRequest, "lobbyId is required")
			return
		}
		lobby, err := coord.GetLobby(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		players, err := coord.ListPlayers(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, lobbyResponse{
			LobbyID:     lobby.ID,
			Status:      lobby.Status,
			PlayerCount: lobby.PlayerCount,
			MaxPlayers:  lobby.MaxPlayers,
			CreatedAt:   lobby.CreatedAt,
			ExpiresAt:   lobby.ExpiresAt,
			Players:     players,
		})
	}
}
