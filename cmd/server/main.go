// Command server runs the messenger HTTP and WebSocket service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/messenger/internal/conversation"
	"github.com/Tyrowin/messenger/internal/logging"
	"github.com/Tyrowin/messenger/internal/responder"
	"github.com/Tyrowin/messenger/internal/server"
	"github.com/Tyrowin/messenger/internal/session"
	"github.com/Tyrowin/messenger/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := server.LoadConfig(envFile)
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	store, err := storage.Open(cfg.Storage(), log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		log.Info("closing store")
		_ = store.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, err := openSessions(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = sessions.Close() }()

	batcher := conversation.NewBatcher(store, cfg.Batcher(), log)
	rooms, err := server.SeedRooms(ctx, store, batcher)
	if err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}
	log.Info("tracking rooms", slog.Int("count", rooms))

	responders, err := openResponders(cfg, log)
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Config:     cfg,
		Log:        log,
		Sessions:   sessions,
		Users:      store,
		Store:      store,
		Buffers:    batcher,
		Responders: responders,
	})
	srv.Start()

	httpServer := server.CreateServer(cfg.Port, srv.Handler())
	errChan := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, log); err != nil && !server.IsServerClosed(err) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-errChan:
		return err
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout, log); err != nil {
		log.Warn("http server did not shut down cleanly", slog.String("error", err.Error()))
	}
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		log.Warn("broker did not shut down cleanly", slog.String("error", err.Error()))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := batcher.Close(flushCtx); err != nil {
		log.Warn("pending conversations were not all flushed", slog.String("error", err.Error()))
	}

	log.Info("program stopped cleanly")
	return nil
}

func openSessions(ctx context.Context, cfg server.Config, log *slog.Logger) (session.Store, error) {
	if cfg.SessionBackend == "redis" {
		store, err := session.NewRedisStore(ctx, cfg.Redis(), log)
		if err != nil {
			return nil, fmt.Errorf("connect session store: %w", err)
		}
		return store, nil
	}
	return session.NewMemoryStore(log), nil
}

func openResponders(cfg server.Config, log *slog.Logger) (map[string]responder.Responder, error) {
	roast, err := responder.ParseCommand(server.ResponderRoast, cfg.RoastCommand, log)
	if err != nil {
		return nil, err
	}
	factcheck, err := responder.ParseCommand(server.ResponderFactcheck, cfg.FactcheckCommand, log)
	if err != nil {
		return nil, err
	}
	return map[string]responder.Responder{
		server.ResponderRoast:     roast,
		server.ResponderFactcheck: factcheck,
	}, nil
}
