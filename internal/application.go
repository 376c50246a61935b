package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rocketscienceinc/chessroom-backend/internal/config"
	"github.com/rocketscienceinc/chessroom-backend/internal/repository"
	"github.com/rocketscienceinc/chessroom-backend/internal/repository/storage"
	"github.com/rocketscienceinc/chessroom-backend/internal/room"
	"github.com/rocketscienceinc/chessroom-backend/internal/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

const shutdownTimeout = 10 * time.Second

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, redisAddrString)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	roomRepo := repository.NewRoomRepository(redisStorage)
	sessionRepo := repository.NewSessionRepository(redisStorage)

	supervisor := room.NewSupervisor(ctx, logger, roomRepo, sessionRepo, conf.RoomIdleTimeout)
	go supervisor.Run(ctx)

	wsServer := websocket.New(logger, supervisor)

	srv := &http.Server{
		Addr:        ":" + conf.HTTPPort,
		Handler:     wsServer.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", conf.HTTPPort)
		if httpErr := srv.ListenAndServe(); httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			httpErrCh <- httpErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err = srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil
	}
}
