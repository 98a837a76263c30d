// Command rebuild reconstructs the store from its durable layer or latest
// snapshot, reprojects the facet index, optionally re-runs the classifier
// over every record, and writes a fresh snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/classify"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/store"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/logger"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	reclassify := flag.Bool("reclassify", false, "re-run the classifier over every stored question")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	st := store.New(cfg.Store.NumShards, durable, nil)
	switch {
	case durable != nil:
		loaded, err := st.LoadFromDurable(ctx)
		if err != nil {
			slog.Error("loading from postgres failed", "error", err)
			os.Exit(1)
		}
		slog.Info("records loaded", "source", "postgres", "questions", loaded)
	default:
		path, ok := store.LatestSnapshot(cfg.Store.DataDir)
		if !ok {
			slog.Error("no snapshot found and postgres disabled", "data_dir", cfg.Store.DataDir)
			os.Exit(1)
		}
		loaded, err := st.LoadFromSnapshot(path)
		if err != nil {
			slog.Error("loading snapshot failed", "path", path, "error", err)
			os.Exit(1)
		}
		slog.Info("records loaded", "source", path, "questions", loaded)
	}

	if *reclassify {
		artifact, err := classify.LoadArtifact(cfg.Classifier.ArtifactPath)
		if err != nil {
			slog.Error("artifact load failed", "error", err)
			os.Exit(1)
		}
		classifier, err := classify.New(artifact, cfg.Classifier)
		if err != nil {
			slog.Error("classifier init failed", "error", err)
			os.Exit(1)
		}
		relabeled := 0
		var failed error
		var batch []question.Question
		st.ForEach(func(q *question.Question) bool {
			cp := *q
			cp.Label = classifier.ClassifyText(cp.Text)
			batch = append(batch, cp)
			return true
		})
		for i := range batch {
			if err := st.Upsert(ctx, &batch[i]); err != nil {
				failed = err
				break
			}
			relabeled++
		}
		if failed != nil {
			slog.Error("reclassification failed", "relabeled", relabeled, "error", failed)
			os.Exit(1)
		}
		slog.Info("reclassification complete",
			"relabeled", relabeled,
			"artifact_version", classifier.ArtifactVersion(),
		)
	}

	st.RebuildIndex()
	if err := st.CheckConsistency(); err != nil {
		slog.Error("consistency check failed after rebuild", "error", err)
		os.Exit(1)
	}

	path, err := st.Snapshot(cfg.Store.DataDir)
	if err != nil {
		slog.Error("snapshot failed", "error", err)
		os.Exit(1)
	}
	slog.Info("rebuild complete", "snapshot", path, "questions", st.Count())
}
