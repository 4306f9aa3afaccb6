package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	httpadapter "arbiter/internal/adapters/http"
	"arbiter/internal/adapters/memory"
	pg "arbiter/internal/adapters/postgres"
	"arbiter/internal/config"
	"arbiter/internal/ports"
	"arbiter/internal/registry"
	"arbiter/internal/routing"
	"arbiter/internal/services/aggregator"
	"arbiter/internal/services/assignment"
	"arbiter/internal/services/autocreate"
	"arbiter/internal/services/ledger"
	"arbiter/internal/services/lifecycle"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Warn("config", "warning", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		store    ports.Store
		profiles ports.Profile
		evidence ports.Evidence
		apps     ports.Application
	)
	if cfg.DatabaseURL != "" {
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("db connect", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := pg.Migrate(ctx, db); err != nil {
			log.Error("db migrate", "error", err)
			os.Exit(1)
		}
		store = pg.NewStore(db)
		profiles = pg.NewProfiles(db)
		evidence = pg.NewEvidenceLinks(db)
		apps = pg.NewApplications(db)
	} else {
		store = memory.New()
		profiles = memory.NewProfiles()
		evidence = memory.NewEvidenceLinks()
		apps = memory.NewApplications()
		log.Warn("running with in-memory store; state is not durable")
	}

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		log.Error("registry load", "error", err)
		os.Exit(1)
	}

	resolver := routing.New(reg, log)
	led := ledger.New()
	agg := aggregator.New(resolver, log)
	eval := autocreate.New(store, reg, evidence, profiles, apps, agg, led, log)
	assign := assignment.New(store, agg, led, log)
	lc := lifecycle.New(store, agg, led, log)

	srv := httpadapter.New(store, eval, agg, assign, lc, reg, log)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	log.Info("listening", "addr", cfg.ListenAddr, "env", cfg.Env)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		log.Error("server", "error", fmt.Errorf("server error: %w", err))
		os.Exit(1)
	}
}
