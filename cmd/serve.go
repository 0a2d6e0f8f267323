package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"crowd-radio/internal/encoder"
	"crowd-radio/internal/metrics"
	"crowd-radio/internal/server"
	"crowd-radio/internal/station"
	"crowd-radio/internal/stream"
	"crowd-radio/internal/version"
	"crowd-radio/pkg/deps"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the conversion worker",
		Long: `Run the HTTP server and the background conversion worker until interrupted.

Examples:
  crowd-radio serve
  RADIO_ADDR=:9000 crowd-radio serve --config /etc/crowd-radio.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, a)
		},
	}
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := a.log

	log.Info().Str("version", version.String()).Msg("Starting crowd-radio")

	if err := deps.NewChecker(cfg.Encoder.Binary).CheckAll(); err != nil {
		log.Warn().Err(err).Msg("Conversions will fail until the transcoder is installed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	transcoder := encoder.NewFFmpegTranscoder(cfg.TranscoderConfig(), log)
	pipeline := encoder.NewPipeline(transcoder, cfg.Layout(), cfg.Encoder.QueueSize, log, m)

	api := server.NewAPI(server.Deps{
		Store:       a.store,
		Streamer:    stream.NewStreamer(cfg.Server.MaxStreamBytes, log, m),
		Converter:   pipeline,
		Frequencies: station.NewAllocator(a.stations, log, station.WithMetrics(m)),
		Stations:    station.NewDirectory(a.stations, a.store),
		Metrics:     m,
		Logger:      log,
	}, server.Options{
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		RadioUsername:  cfg.Radio.Username,
		RadioPassword:  cfg.Radio.Password,
	})

	if cfg.Radio.Password == "" {
		log.Warn().Msg("No radio password configured; the station list is disabled")
	}

	router := server.SetupRouter(api, server.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Metrics:        m,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pipeline.Run(gctx)
	})

	g.Go(func() error {
		log.Info().Str("address", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		pipeline.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
