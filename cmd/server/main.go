package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jacksonlee411/hr-batch-adjust/internal/config"
	"github.com/jacksonlee411/hr-batch-adjust/internal/logging"
	"github.com/jacksonlee411/hr-batch-adjust/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := server.HandlerOptions{Config: cfg, Logger: logger}
	if cfg.Store == config.StorePostgres {
		pool, err := pgxpool.New(ctx, cfg.DSN())
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		defer pool.Close()
		opts.Pool = pool
	}

	h, err := server.NewHandlerWithOptions(opts)
	if err != nil {
		logger.Fatal("build handler", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ExecuteTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}
