package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bistro/internal/config"
	"bistro/internal/devserver"
	"bistro/internal/logging"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		os.Stderr.WriteString("failed to load .env: " + err.Error() + "\n")
	}
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	seed := []devserver.Customer{
		{Email: cfg.DemoEmail, Password: cfg.DemoPassword, Points: 450},
	}

	var store devserver.Store
	if cfg.StoreMode == "postgres" && cfg.DatabaseURL != "" {
		pgStore, err := devserver.NewPostgresStore(cfg.DatabaseURL)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = pgStore.EnsureSchema(ctx, seed)
			cancel()
		}
		if err != nil {
			log.WithError(err).Warn("postgres store unavailable, falling back to memory store")
			store = devserver.NewMemoryStore(seed)
		} else {
			store = pgStore
		}
	} else {
		store = devserver.NewMemoryStore(seed)
	}

	srv := devserver.NewServer(cfg, store, log)
	httpServer := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     srv.Router(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No write timeout: the order-status streams stay open indefinitely.
	}

	go func() {
		log.Infof("bistro dev backend listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}
