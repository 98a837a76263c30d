// Package ingest runs raw records through normalize, classify, and store.
// Normalization and classification are CPU-bound and run on a bounded
// worker group; store writes serialize per shard inside the store itself.
// Quarantined records never fail a batch: they are counted, logged, and
// optionally published to the quarantine topic.
package ingest

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/classify"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/normalize"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/store"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/metrics"
)

// Quarantiner receives records the normalizer rejected. Implementations
// must be safe for concurrent use.
type Quarantiner interface {
	Quarantine(ctx context.Context, rej *normalize.Rejection) error
}

// Report summarises one batch.
type Report struct {
	Ingested    int
	Quarantined int
	Rejections  []normalize.Rejection
}

// Pipeline wires the normalizer, classifier, and store together.
type Pipeline struct {
	normalizer  *normalize.Normalizer
	classifier  *classify.Classifier
	store       *store.Store
	quarantiner Quarantiner
	cfg         config.IngestConfig
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Pipeline. quarantiner and m may be nil.
func New(
	classifier *classify.Classifier,
	st *store.Store,
	quarantiner Quarantiner,
	cfg config.IngestConfig,
	m *metrics.Metrics,
) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Pipeline{
		normalizer:  normalize.New(),
		classifier:  classifier,
		store:       st,
		quarantiner: quarantiner,
		cfg:         cfg,
		metrics:     m,
		logger:      slog.Default().With("component", "ingest-pipeline"),
	}
}

// IngestOne processes a single raw record. A quarantined record returns a
// nil error and a non-nil rejection.
func (p *Pipeline) IngestOne(ctx context.Context, rec question.RawRecord) (*normalize.Rejection, error) {
	q, rej := p.normalizer.Normalize(rec)
	if rej != nil {
		p.recordQuarantine(ctx, rej)
		return rej, nil
	}
	q.Label = p.classifier.ClassifyText(q.Text)
	if err := p.store.Upsert(ctx, q); err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.QuestionsIngested.Inc()
		p.metrics.LabelsAssigned.WithLabelValues("kind", string(q.Label.Kind)).Inc()
		p.metrics.LabelsAssigned.WithLabelValues("subject", q.Label.Subject).Inc()
	}
	return nil, nil
}

// IngestBatch processes records on cfg.Workers goroutines. The batch stops
// at the first store error; quarantines do not stop it. Re-ingesting the
// same batch is idempotent because ids are stable and upserts replace.
func (p *Pipeline) IngestBatch(ctx context.Context, records []question.RawRecord) (*Report, error) {
	report := &Report{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			rej, err := p.IngestOne(ctx, rec)
			if err != nil {
				return err
			}
			mu.Lock()
			if rej != nil {
				report.Quarantined++
				report.Rejections = append(report.Rejections, *rej)
			} else {
				report.Ingested++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	p.logger.Info("batch ingested",
		"records", len(records),
		"ingested", report.Ingested,
		"quarantined", report.Quarantined,
	)
	return report, nil
}

// Retract removes a previously ingested question.
func (p *Pipeline) Retract(ctx context.Context, id string) error {
	return p.store.Retract(ctx, id)
}

func (p *Pipeline) recordQuarantine(ctx context.Context, rej *normalize.Rejection) {
	p.logger.Warn("record quarantined",
		"source_doc", rej.Record.SourceDoc,
		"position", rej.Record.Position,
		"reason", rej.Reason,
		"detail", rej.Detail,
	)
	if p.metrics != nil {
		p.metrics.QuestionsQuarantined.WithLabelValues(rej.Reason).Inc()
	}
	if p.quarantiner != nil {
		if err := p.quarantiner.Quarantine(ctx, rej); err != nil {
			p.logger.Error("quarantine publish failed",
				"source_doc", rej.Record.SourceDoc,
				"position", rej.Record.Position,
				"error", err,
			)
		}
	}
}
