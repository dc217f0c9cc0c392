package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"veda/internal/artifactstore"
	"veda/internal/bulk"
	"veda/internal/ledger"
	"veda/internal/platform/config"
	"veda/internal/platform/httpserver"
	"veda/internal/platform/kafka"
	"veda/internal/platform/logger"
	"veda/internal/platform/objectstore"
	"veda/internal/platform/postgres"
	httptransport "veda/internal/transport/http"
	"veda/internal/verification"
)

// main wires the HTTP surface: verification RPCs, bulk file intake,
// logs, stats and the audit integrity endpoint. Chain mutation lives in
// the worker binary.
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
	logSummary(log, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

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

	verifier := ledger.NewVerifier()
	if err := verifier.AddKey(cfg.SigningKeyID, []byte(cfg.PublicKeyPEM)); err != nil {
		log.Error("load verification key failed", "key_id", cfg.SigningKeyID, "error", err)
		os.Exit(1)
	}

	latest := artifactstore.NewPostgres(db)
	verify := verification.NewService(latest,
		verification.NewPostgresLogs(db),
		verification.NewPostgresNotifications(db),
		log)

	handler := httptransport.NewHandler(verify,
		bulk.NewPostgresFiles(db),
		objects,
		producer,
		ledger.NewPostgres(db),
		verifier,
		cfg.UnprocessedBucket,
		log)

	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))
	log.Info("consent core API listening", "addr", cfg.Addr)
	if err := httpserver.Run(ctx, srv); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func logSummary(log *slog.Logger, cfg *config.Config) {
	summary := cfg.LogSummary()
	attrs := make([]any, 0, 2*len(summary))
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	log.Info("configuration loaded", attrs...)
}
