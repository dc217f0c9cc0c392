package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"veda/internal/artifactstore"
	"veda/internal/platform/config"
	"veda/internal/platform/httpserver"
	"veda/internal/platform/kafka"
	"veda/internal/platform/logger"
	"veda/internal/platform/metrics"
	"veda/internal/platform/postgres"
	"veda/internal/scheduler"
)

// main wires the expiry machinery: the sweep loops that enqueue delayed
// expiry messages, and the delay drivers that hold those messages until
// due and forward them to the processing queue.
func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		bootLog := logger.New("production")
		for _, err := range errs {
			bootLog.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers,
		kafka.TopicProcessing,
		kafka.TopicConsentExpiryDelay, kafka.TopicDataExpiryDelay,
	); err != nil {
		log.Error("topic provisioning failed", "error", err)
		os.Exit(1)
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		log.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	latest := artifactstore.NewPostgres(db)
	scanner := scheduler.NewScanner(latest,
		scheduler.NewStoreNotifier(latest),
		scheduler.NewPostgresRenewals(db),
		producer,
		log,
		scheduler.WithScanInterval(cfg.ScanInterval),
		scheduler.WithConsentWindow(cfg.ConsentWindow),
		scheduler.WithRetentionWindow(cfg.RetentionWindow))

	// One consumer group per delay topic: a held consent-expiry record
	// must not block retention-erasure delivery, and vice versa.
	delay := scheduler.NewDelayDriver(producer, log)
	consentDelay, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup+"-consent-delay", map[string]kafka.Handler{
		kafka.TopicConsentExpiryDelay: delay.Handle,
	}, log)
	if err != nil {
		log.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	retentionDelay, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup+"-retention-delay", map[string]kafka.Handler{
		kafka.TopicDataExpiryDelay: delay.Handle,
	}, log)
	if err != nil {
		log.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := httpserver.New(cfg.Addr, mux)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scanner.RunConsentExpiry(ctx) })
	g.Go(func() error { return scanner.RunDataRetention(ctx) })
	g.Go(func() error { return consentDelay.Run(ctx) })
	g.Go(func() error { return retentionDelay.Run(ctx) })
	g.Go(func() error { return httpserver.Run(ctx, srv) })

	log.Info("consent scheduler running",
		"scan_interval", cfg.ScanInterval.String(), "metrics_addr", cfg.Addr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scheduler stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
