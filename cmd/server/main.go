package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/tactical-initiative/internal/config"
	"github.com/DoyleJ11/tactical-initiative/internal/httpapi"
	"github.com/DoyleJ11/tactical-initiative/internal/hub"
	"github.com/DoyleJ11/tactical-initiative/internal/logging"
	"github.com/DoyleJ11/tactical-initiative/internal/storage"
	"github.com/DoyleJ11/tactical-initiative/internal/telemetry"
	"github.com/DoyleJ11/tactical-initiative/internal/ws"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}

	hubOpts := []hub.Option{hub.WithLogger(logger)}
	var db *storage.Store
	if cfg.DatabaseURL != "" {
		db, err = storage.Open(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		hubOpts = append(hubOpts, hub.WithStore(db))
	} else {
		logger.Warn("no database configured; rooms live in memory only")
	}

	h := hub.NewHub(ctx, hubOpts...)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, ws.Options{
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		DiceTimeout:       cfg.DiceTimeout,
		DiceDetectTimeout: cfg.DiceDetectTimeout,
		OriginPatterns:    cfg.OriginPatterns,
	}, logger)

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(sctx)
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		// rooms flush their queued writes before the database goes away
		select {
		case <-h.Done():
		case <-sctx.Done():
			err = multierr.Append(err, sctx.Err())
		}
		err = multierr.Append(err, shutdownTracing(sctx))
		if db != nil {
			err = multierr.Append(err, db.Close())
		}
		return err
	})

	return g.Wait()
}
