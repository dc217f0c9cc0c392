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
	"veda/internal/bulk"
	"veda/internal/chainlock"
	"veda/internal/events"
	"veda/internal/ledger"
	"veda/internal/platform/config"
	"veda/internal/platform/httpserver"
	"veda/internal/platform/kafka"
	"veda/internal/platform/logger"
	"veda/internal/platform/metrics"
	"veda/internal/platform/objectstore"
	"veda/internal/platform/postgres"
	redisplatform "veda/internal/platform/redis"
	"veda/internal/verification"
	"veda/internal/worker"
)

// main wires the processing pipeline: the consent worker consuming the
// processing queue, the bulk verification consumer, and the chain lock
// janitor. This binary is the only writer of audit chains.
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

	rdb, err := redisplatform.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	signer, err := ledger.NewSigner([]byte(cfg.PrivateKeyPEM), cfg.SigningKeyID)
	if err != nil {
		log.Error("load signing key failed", "key_id", cfg.SigningKeyID, "error", err)
		os.Exit(1)
	}

	objects, err := objectstore.NewS3(objectstore.Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
	if err != nil {
		log.Error("object store init failed", "error", err)
		os.Exit(1)
	}

	if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers,
		kafka.TopicProcessing, kafka.TopicEvents,
		kafka.TopicConsentExpiryDelay, kafka.TopicDataExpiryDelay,
		kafka.TopicProcessingDLQ, kafka.TopicBulkVerification,
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

	locks := chainlock.NewRedis(rdb.Client, log, chainlock.WithStaleAfter(cfg.LockStaleAfter))
	latest := artifactstore.NewPostgres(db)
	audit := ledger.NewPostgres(db)
	bus := events.NewKafka(producer)

	svc := worker.NewService(locks, latest, audit, signer, bus, log)
	// A Latest-State row ahead of its chain tip means a previous run
	// crashed mid-commit; refuse to consume until reconciled.
	if err := svc.RecoveryScan(ctx); err != nil {
		log.Error("recovery scan failed, refusing to start", "error", err)
		os.Exit(1)
	}

	engine := verification.NewService(latest,
		verification.NewPostgresLogs(db),
		verification.NewPostgresNotifications(db),
		log)
	proc := bulk.NewProcessor(bulk.NewPostgresFiles(db), objects, engine, bus,
		cfg.UnprocessedBucket, cfg.ProcessedBucket, log)

	workerConsumer := worker.NewConsumer(svc, producer, log, cfg.MaxAttempts)
	bulkConsumer := bulk.NewConsumer(proc, log)

	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, map[string]kafka.Handler{
		kafka.TopicProcessing:       workerConsumer.HandleProcessing,
		kafka.TopicBulkVerification: bulkConsumer.HandleBulk,
	}, log)
	if err != nil {
		log.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := httpserver.New(cfg.Addr, mux)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(ctx) })
	g.Go(func() error { return locks.RunJanitor(ctx, cfg.LockStaleAfter) })
	g.Go(func() error { return httpserver.Run(ctx, srv) })

	log.Info("consent worker running",
		"group", cfg.ConsumerGroup, "metrics_addr", cfg.Addr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
