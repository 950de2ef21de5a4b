// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sijeecodes/SaveTheShip/internal/middleware"
	"github.com/sijeecodes/SaveTheShip/internal/room"
	"github.com/sirupsen/logrus"
)

// RoomWSHandler upgrades the request and attaches the connection to srv.
func RoomWSHandler(logger *logrus.Logger, srv *room.Server, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		client := srv.NewClient(r.RemoteAddr)
		go writePump(ctx, c, client, logger)

		err = readPump(ctx, c, client, logger)
		client.Close()
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)

		switch {
		case errors.Is(err, room.ErrServerStopped):
			c.Close(ServerStoppedError, "server shutting down")
		case errors.Is(err, room.ErrJoinRejected):
			c.Close(JoinRejectedError, "connection rejected")
		default:
			c.Close(websocket.StatusNormalClosure, "")
		}
	}
}

// readPump feeds inbound frames to the client until the connection ends.
// A nil or close-status error means the peer went away normally.
func readPump(ctx context.Context, c *websocket.Conn, client *room.Client, logger *logrus.Logger) error {
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.WithFields(logrus.Fields{
				"player": client.ID(),
				"status": status,
			}).WithError(err).Debug("read error")
			return err
		}
		if typ != websocket.MessageText {
			logger.WithField("player", client.ID()).Warnf("ignoring non-text message type %d", typ)
			continue
		}
		if err := client.Handle(ctx, data); err != nil {
			return err
		}
	}
}

// writePump drains the client's outbox onto the socket and pings periodically.
func writePump(ctx context.Context, c *websocket.Conn, client *room.Client, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-client.Outbox():
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("failed to marshal outgoing msg for player %s: %v", client.ID(), err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket for player %s: %v", client.ID(), err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("failed to ping player %s: %v", client.ID(), err)
				return
			}
		}
	}
}

// RoomsHandler serves GET /rooms, a debug listing of live rooms.
func RoomsHandler(logger *logrus.Logger, srv *room.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := srv.Rooms(r.Context())
		if err != nil {
			logger.WithError(err).Error("list rooms")
			writeMessage(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}
