package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"challenge-core/internal/account"
	"challenge-core/internal/engine"
	"challenge-core/internal/events"
	"challenge-core/internal/rules"
	"challenge-core/internal/sweeper"
	"challenge-core/pkg/config"
	"challenge-core/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg)
	log.Info().Str("db_path", cfg.DBPath).Str("port", cfg.Port).Msg("challenge core starting")

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}
	store := db.NewStore(database)

	catalog := loadCatalog(cfg, log)

	bus := events.NewBus()
	notifier := events.Multi{
		events.BusNotifier{Bus: bus},
		events.NewAuditNotifier(store, log),
	}

	registry := account.NewRegistry(store, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load accounts")
	}
	log.Info().Int("accounts", registry.Count()).Msg("accounts loaded")

	// Real platform adapters plug in here; until they exist only dry-run
	// mode is startable, so a misconfigured deployment cannot silently run
	// with no-op trade closing and suspension.
	if !cfg.DryRun {
		log.Fatal().Msg("no platform adapters available; set DRY_RUN=true")
	}
	collab := engine.NopCollaborators()

	eng := engine.New(engine.Config{
		Registry:      registry,
		Catalog:       catalog,
		Notifier:      notifier,
		Store:         store,
		Collaborators: collab,
		TickRate:      cfg.TickRate,
		Logger:        log,
	})

	sw := sweeper.New(registry, catalog, eng, collab.Closer, log)
	if err := sw.Start(ctx, cfg.SweepSpec); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.SweepSpec).Msg("failed to start sweeper")
	}
	defer sw.Stop()

	hub := events.NewHub(bus, log)
	go hub.Run(ctx.Done())

	mux := http.NewServeMux()
	mux.Handle("/ws/events", hub)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("event stream server stopped")
		}
	}()
	log.Info().Str("addr", srv.Addr).Msg("event stream listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("event stream shutdown failed")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.LogPretty {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// loadCatalog reads the tier rule catalog; the built-in standard tier is the
// fallback when no file is configured.
func loadCatalog(cfg *config.Config, log zerolog.Logger) *rules.Catalog {
	if cfg.TiersPath == "" {
		log.Info().Msg("no tier catalog configured, using built-in defaults")
		return rules.NewCatalog(rules.Default())
	}
	catalog, err := rules.LoadCatalog(cfg.TiersPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.TiersPath).Msg("failed to load tier catalog")
	}
	log.Info().Strs("tiers", catalog.Tiers()).Str("path", cfg.TiersPath).Msg("tier catalog loaded")
	return catalog
}
