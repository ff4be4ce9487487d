package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gallerygrab/internal/api"
	"gallerygrab/internal/config"
	fileutil "gallerygrab/internal/file"
	"gallerygrab/internal/gallery"
	"gallerygrab/internal/run"
	"gallerygrab/internal/sink"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	manager := buildRunManager(cfg)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger())
	api.NewAPI(manager).RegisterRoutes(router)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Str("listing_url", cfg.ListingURL).Msg("server started")

	waitForShutdownSignal()
	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
}

func buildRunManager(cfg config.Config) *run.Manager {
	opts := run.Options{
		Sink:           sink.NewDir(cfg.DataDir),
		PageSize:       cfg.PageSize,
		FetchTimeout:   cfg.FetchTimeout(),
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay(),
	}
	if cfg.ListingURL != "" {
		opts.Lister = gallery.NewClient(cfg.ListingURL, cfg.ListingRequestTimeout())
	} else {
		log.Warn().Msg("no listing_url configured, runs must supply their own item lists")
	}
	return run.NewManager(opts)
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, m *run.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !m.WaitAll(ctx) {
		log.Warn().Msg("active run did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
