package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	minutesui "github.com/MegaGrindStone/minutes-web-ui"
	"github.com/MegaGrindStone/minutes-web-ui/internal/handlers"
	"github.com/MegaGrindStone/minutes-web-ui/internal/results"
	"github.com/MegaGrindStone/minutes-web-ui/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const metricsNamespace = "minutesview"

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the result panel and chat widget",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			return serve(cfg, logger)
		},
	}
}

func serve(cfg config, logger zerolog.Logger) error {
	endpoint, err := cfg.endpoint()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := services.NewMetrics(reg, metricsNamespace)
	if err != nil {
		return err
	}

	client := services.NewQueryClient(endpoint, logger,
		services.WithMetrics(metrics),
		services.WithRequestTimeout(cfg.RequestTimeout),
	)

	opts := []handlers.Option{
		handlers.WithLogger(logger),
		handlers.WithGreeting(cfg.Greeting),
		handlers.WithSessionLimits(cfg.Sessions.Max, cfg.Sessions.IdleTimeout),
	}
	if cfg.Store.Path != "" {
		boltDB, err := openArchive(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer boltDB.Close()
		opts = append(opts, handlers.WithArchive(boltDB))
	}

	m, err := handlers.NewMain(client, results.NewState(), opts...)
	if err != nil {
		return fmt.Errorf("error creating handlers: %w", err)
	}

	staticFS, err := fs.Sub(minutesui.StaticFS, "static")
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newMux(m, staticFS, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown sse server")
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("query", endpoint).Msg("Server starting")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Start shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
			if err := srv.Close(); err != nil {
				return fmt.Errorf("forcing server close: %w", err)
			}
		}
		if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	return nil
}

func newMux(m handlers.Main, staticFS fs.FS, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	mux.Handle("/metrics", metrics)

	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/sse", m.HandleSSE)

	mux.HandleFunc("/chat", m.HandleChat)
	mux.HandleFunc("/chat/retry", m.HandleRetry)
	mux.HandleFunc("/chat/cancel", m.HandleCancel)
	mux.HandleFunc("/chat/toggle", m.HandleToggle)

	mux.HandleFunc("/api/jobs", m.HandleJobs)
	mux.HandleFunc("/api/jobs/result", m.HandleJobResult)
	mux.HandleFunc("/api/transcript", m.HandleTranscript)

	return mux
}

func openArchive(path string) (services.BoltDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return services.BoltDB{}, fmt.Errorf("error creating store directory: %w", err)
	}
	return services.NewBoltDB(path)
}
