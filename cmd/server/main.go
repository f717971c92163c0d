// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/werewolf/internal/auth"
	"github.com/jason-s-yu/werewolf/internal/cache"
	"github.com/jason-s-yu/werewolf/internal/config"
	"github.com/jason-s-yu/werewolf/internal/database"
	"github.com/jason-s-yu/werewolf/internal/handlers"
	"github.com/jason-s-yu/werewolf/internal/history"
	"github.com/jason-s-yu/werewolf/internal/hub"
	"github.com/jason-s-yu/werewolf/internal/orchestrator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, err := newSessions(cfg)
	if err != nil {
		logger.Fatalf("sessions: %v", err)
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("history store: %v", err)
	}
	defer closeStore()

	h := hub.New(logger)
	orch := orchestrator.New(cfg.Orchestrator(), cfg.Rules(), store, h, logger)
	orch.OnFault = func(gameID, channelID uuid.UUID, err error) {
		logger.WithFields(logrus.Fields{"game": gameID, "channel": channelID}).
			Errorf("game frozen, the channel admin must abort it: %v", err)
	}

	srv := handlers.NewServer(orch, h, sessions, logger)
	srv.AllowedOrigins = cfg.AllowedOrigins
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		logger.Infof("Running on %s (history backend %s)", httpSrv.Addr, cfg.HistoryBackend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("server stopped")
}

func newSessions(cfg config.Config) (*auth.Sessions, error) {
	if cfg.PrivateKeyPath != "" {
		return auth.NewSessionsFromFiles(cfg.PrivateKeyPath, cfg.PublicKeyPath, cfg.TokenTTL)
	}
	return auth.NewSessions(cfg.TokenTTL)
}

// openStore builds the configured history backend and its cleanup.
func openStore(ctx context.Context, cfg config.Config) (history.Store, func(), error) {
	if cfg.HistoryBackend == config.BackendMemory {
		return history.NewMemoryStore(), func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	pg := database.NewStore(pool)
	if cfg.HistoryBackend == config.BackendPostgres {
		return pg, pool.Close, nil
	}

	rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return cache.NewQueueStore(rdb, cfg.Redis.Queue, pg), func() {
		rdb.Close()
		pool.Close()
	}, nil
}
