// cmd/matchmaker/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sijeecodes/SaveTheShip/internal/config"
	"github.com/sijeecodes/SaveTheShip/internal/handlers"
	"github.com/sijeecodes/SaveTheShip/internal/matchmaking"
	"github.com/sijeecodes/SaveTheShip/internal/random"
	"github.com/sijeecodes/SaveTheShip/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lobbies, closeStore, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to open lobby store: %v", err)
	}
	defer closeStore()

	coord := matchmaking.NewCoordinator(matchmaking.Config{
		MaxPlayers:     cfg.LobbyMaxPlayers,
		Attempts:       cfg.MatchmakeAttempts,
		LobbyTTL:       cfg.LobbyTTL,
		SaboteurCount:  cfg.SaboteurCount,
		ServerEndpoint: cfg.ServerEndpoint,
	}, lobbies, random.New(), logger)

	go matchmaking.NewReaper(lobbies, cfg.ReapInterval, logger).Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.MatchmakerPort,
		Handler: handlers.NewMatchmakerRouter(logger, coord, cfg.AllowedOrigins),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Matchmaker running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
}
