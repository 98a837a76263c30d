package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/classify"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/ingest"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/store"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/kafka"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/logger"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/metrics"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	filePath := flag.String("file", "", "ingest a JSON-lines file and exit instead of consuming Kafka")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestor service", "workers", cfg.Ingest.Workers)

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	classifier, err := buildClassifier(cfg)
	if err != nil {
		slog.Error("classifier init failed", "error", err)
		os.Exit(1)
	}
	slog.Info("classifier ready", "artifact_version", classifier.ArtifactVersion())

	var durable store.Durable
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer pgClient.Close()
		pg, err := store.NewPostgresStore(ctx, pgClient)
		if err != nil {
			slog.Error("postgres store init failed", "error", err)
			os.Exit(1)
		}
		durable = pg
	}
	st := store.New(cfg.Store.NumShards, durable, m)
	if durable != nil {
		loaded, err := st.LoadFromDurable(ctx)
		if err != nil {
			slog.Error("loading from postgres failed", "error", err)
			os.Exit(1)
		}
		slog.Info("store loaded", "questions", loaded)
	}

	// File mode keeps rejections in the report; streaming mode also
	// publishes them to the quarantine topic.
	var quarantiner ingest.Quarantiner
	if *filePath == "" {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Quarantine)
		defer producer.Close()
		quarantiner = ingest.NewKafkaQuarantiner(producer)
	}

	pipeline := ingest.New(classifier, st, quarantiner, cfg.Ingest, m)

	if *filePath != "" {
		report, err := pipeline.IngestFile(ctx, *filePath)
		if report != nil {
			slog.Info("file ingest finished",
				"file", *filePath,
				"ingested", report.Ingested,
				"quarantined", report.Quarantined,
			)
		}
		if err != nil {
			slog.Error("file ingest failed", "error", err)
			os.Exit(1)
		}
		if _, err := st.Snapshot(cfg.Store.DataDir); err != nil {
			slog.Error("snapshot after ingest failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RawQuestions, pipeline.Handler())
	defer consumer.Close()

	slog.Info("consuming raw questions", "topic", cfg.Kafka.Topics.RawQuestions)
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestor stopped")
}

// buildClassifier loads the configured artifact, falling back to the
// built-in keyword bootstrap when no artifact file exists.
func buildClassifier(cfg *config.Config) (*classify.Classifier, error) {
	artifact, err := classify.LoadArtifact(cfg.Classifier.ArtifactPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		slog.Warn("artifact not found, using keyword bootstrap",
			"path", cfg.Classifier.ArtifactPath)
		artifact, err = classify.KeywordArtifact("bootstrap-v1",
			classify.DefaultKindKeywords, classify.DefaultSubjectKeywords)
		if err != nil {
			return nil, err
		}
	}
	return classify.New(artifact, cfg.Classifier)
}
