// internal/handlers/api_server.go
package handlers

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sijeecodes/SaveTheShip/internal/matchmaking"
	"github.com/sijeecodes/SaveTheShip/internal/middleware"
	"github.com/sijeecodes/SaveTheShip/internal/room"
	"github.com/sirupsen/logrus"
)

func baseRouter(logger *logrus.Logger, allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	if slices.Contains(allowedOrigins, "*") {
		r.Use(anyOrigin)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(logger))
	r.Use(chimw.Heartbeat("/ping"))
	return r
}

// anyOrigin marks every response readable cross-origin. The cors handler only
// answers requests that carry an Origin header.
func anyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		next.ServeHTTP(w, r)
	})
}

// NewMatchmakerRouter exposes the coordinator over HTTP.
func NewMatchmakerRouter(logger *logrus.Logger, coord *matchmaking.Coordinator, allowedOrigins []string) http.Handler {
	r := baseRouter(logger, allowedOrigins)
	r.Post("/matchmaking", MatchmakingHandler(logger, coord))
	r.Get("/lobby", LobbyHandler(logger, coord))
	return r
}

// NewRoomRouter exposes the room server's websocket endpoint and debug listing.
func NewRoomRouter(logger *logrus.Logger, srv *room.Server, allowedOrigins []string) http.Handler {
	r := baseRouter(logger, allowedOrigins)
	ws := RoomWSHandler(logger, srv, originPatterns(allowedOrigins))
	r.Get("/", ws)
	r.Get("/ws", ws)
	r.Get("/rooms", RoomsHandler(logger, srv))
	return r
}

// originPatterns converts CORS origins to websocket host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u := stripScheme(o); u != "" {
			out = append(out, u)
		}
	}
	return out
}
