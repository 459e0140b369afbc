package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rentme-deposits/internal/app/schedule"
	"rentme-deposits/internal/infra/broker/kafka"
	grpchealth "rentme-deposits/internal/infra/grpc"
	ginserver "rentme-deposits/internal/infra/http/gin"
	"rentme-deposits/internal/infra/obs"
	infraoutbox "rentme-deposits/internal/infra/outbox"
	"rentme-deposits/internal/infra/security"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, sweep scheduler, outbox relay and sweep trigger consumer",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	handlers := ginserver.Handlers{
		Deposit: ginserver.DepositHandler{Commands: app.commands, Queries: app.queries},
		Ops:     ginserver.OpsHandler{Commands: app.commands, Keys: security.OpsKeyVerifier{Hash: cfg.OpsKeyHash}},
		AuthMiddleware: ginserver.AuthMiddleware{
			Tokens: security.TokenVerifier{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer},
			Logger: logger,
		}.Handle,
		Metrics: app.metrics.Handler(),
	}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger, Metrics: app.metrics}, obs.HealthHandlers{Ready: app.ready}, handlers)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("HTTP server stopped")
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	scheduler := &schedule.SweepScheduler{
		Commands: app.commands,
		Interval: cfg.SweepInterval,
		Limit:    cfg.SweepLimit,
		Live:     cfg.SweepLive,
		Logger:   logger,
	}
	g.Go(func() error { return ignoreCanceled(scheduler.Run(ctx)) })

	if cfg.GRPCHealthAddr != "" {
		hs := &grpchealth.HealthServer{Addr: cfg.GRPCHealthAddr, Probe: app.ready, Logger: logger}
		g.Go(func() error { return ignoreCanceled(hs.Run(ctx)) })
	}

	if cfg.KafkaEnabled() {
		if err := startKafka(ctx, g, app); err != nil {
			return err
		}
	}

	if !cfg.SweepLive {
		logger.Warn("scheduled sweeps run as dry runs; set SWEEP_LIVE=true to release deposits")
	}
	return g.Wait()
}

func startKafka(ctx context.Context, g *errgroup.Group, app *application) error {
	if app.queue != nil {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, "rentme-deposits-outbox", nil)
		if err != nil {
			return err
		}
		app.onClose(func(context.Context) error { return producer.Close() })
		worker := &infraoutbox.Worker{
			Store:       app.queue,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
			Logger:      logger,
		}
		g.Go(func() error { return ignoreCanceled(worker.Run(ctx)) })
	} else {
		logger.Warn("outbox relay disabled: Kafka needs the Mongo outbox (set MONGO_URI)")
	}

	trigger := &kafka.SweepTrigger{
		Commands: app.commands,
		Inbox:    app.inbox,
		Logger:   logger,
		Live:     cfg.SweepLive,
	}
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  []string{cfg.KafkaSweepTopic},
		Backoff: cfg.RetryBackoff,
	}, trigger, logger)
	if err != nil {
		return err
	}
	app.onClose(func(context.Context) error { return consumer.Close() })
	g.Go(func() error { return ignoreCanceled(consumer.Run(ctx)) })
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
