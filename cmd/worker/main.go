// Package main provides the entrypoint for the OpenTaqwa worker. The worker
// keeps a live schedule, broadcasts it to displays over MQTT and runs jobs
// received from Pub/Sub.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/api/handler"
	"github.com/opentaqwa/opentaqwa/internal/api/response"
	"github.com/opentaqwa/opentaqwa/internal/bootstrap"
	"github.com/opentaqwa/opentaqwa/internal/broadcast"
	"github.com/opentaqwa/opentaqwa/internal/config"
	"github.com/opentaqwa/opentaqwa/internal/telemetry"
	"github.com/opentaqwa/opentaqwa/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "opentaqwa-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting OpenTaqwa worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Logger:         log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	comps, err := bootstrap.Build(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build prayer schedule pipeline")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := comps.Engine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("engine stopped")
		}
	}()

	var publisher *broadcast.Publisher
	if cfg.MQTT.Enabled() {
		broker, err := broadcast.DialMQTT(broadcast.MQTTConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Logger:    log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to MQTT broker")
			os.Exit(1)
		}
		defer broker.Close()

		publisher = broadcast.NewPublisher(broadcast.PublisherConfig{
			Broker:      broker,
			Logger:      log.With().Str("component", "broadcast").Logger(),
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})

		updates, unsubscribe := comps.Engine.Subscribe()
		defer unsubscribe()
		go publisher.Run(ctx, updates)

		log.Info().Str("topic_prefix", cfg.MQTT.TopicPrefix).Msg("display broadcast enabled")
	} else {
		log.Info().Msg("MQTT not configured, display broadcast disabled")
	}

	sweep := newSweep(cfg, comps, publisher, log)
	if sweep != nil {
		go sweep.Run(ctx)
	}

	if cfg.PubSub.Enabled() {
		pubsubHandler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.SubscriptionID,
			Dispatcher:       worker.NewDispatcher(comps.Engine, sweep, log.With().Str("component", "jobs").Logger()),
			Logger:           log.With().Str("component", "pubsub").Logger(),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create pubsub handler")
			os.Exit(1)
		}
		defer func() {
			if err := pubsubHandler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := pubsubHandler.Start(ctx); err != nil {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		log.Info().Msg("Pub/Sub not configured, job triggers disabled")
	}

	// Worker also exposes health endpoints for Cloud Run
	ops := handler.NewOpsHandler(handler.OpsConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Engine:    comps.Engine,
		Registry:  comps.Registry,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", ops.HealthCheck)
	mux.HandleFunc("GET /ready", ops.ReadinessCheck)
	mux.HandleFunc("GET /status", ops.SystemStatus)
	if sweep != nil {
		mux.HandleFunc("GET /sweep", func(w http.ResponseWriter, r *http.Request) {
			response.JSON(w, r, http.StatusOK, sweep.MetricsSnapshot())
		})
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down worker")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn().Msg("engine did not stop before shutdown deadline")
	}

	log.Info().Msg("worker stopped")
}

// newSweep builds the site sweep job, or returns nil when no site list is
// configured or there is no broker to publish to.
func newSweep(cfg config.Config, comps *bootstrap.Components, publisher *broadcast.Publisher, log zerolog.Logger) *worker.SweepJob {
	if cfg.Worker.SweepConfigPath == "" {
		return nil
	}
	if publisher == nil {
		log.Warn().
			Str("path", cfg.Worker.SweepConfigPath).
			Msg("site sweep needs MQTT, sweep disabled")
		return nil
	}

	sweepCfg, err := worker.LoadSweepConfig(cfg.Worker.SweepConfigPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load sweep configuration")
		os.Exit(1)
	}

	log.Info().
		Int("sites", sweepCfg.TotalSites()).
		Msg("site sweep enabled")

	return worker.NewSweepJob(worker.SweepJobConfig{
		Config:    sweepCfg,
		Fetcher:   comps.Fetcher,
		Publisher: publisher,
		Logger:    log.With().Str("component", "sweep").Logger(),
		Location:  comps.Location,
	})
}
