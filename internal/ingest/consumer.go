package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/normalize"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/kafka"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/resilience"
)

// QuarantineEvent is the payload published to the quarantine topic.
type QuarantineEvent struct {
	Record       question.RawRecord `json:"record"`
	Reason       string             `json:"reason"`
	Detail       string             `json:"detail,omitempty"`
	QuarantineAt time.Time          `json:"quarantined_at"`
}

// KafkaQuarantiner publishes rejections to the quarantine topic.
type KafkaQuarantiner struct {
	producer *kafka.Producer
	retry    resilience.RetryConfig
}

// NewKafkaQuarantiner wraps a producer for the quarantine topic.
func NewKafkaQuarantiner(producer *kafka.Producer) *KafkaQuarantiner {
	return &KafkaQuarantiner{producer: producer}
}

// Quarantine publishes the rejection, keyed by source document so all of a
// document's rejects land on one partition.
func (k *KafkaQuarantiner) Quarantine(ctx context.Context, rej *normalize.Rejection) error {
	event := kafka.Event{
		Key: rej.Record.SourceDoc,
		Value: QuarantineEvent{
			Record:       rej.Record,
			Reason:       rej.Reason,
			Detail:       rej.Detail,
			QuarantineAt: time.Now().UTC(),
		},
	}
	return resilience.Retry(ctx, "quarantine-publish", k.retry, func() error {
		return k.producer.Publish(ctx, event)
	})
}

// Handler returns a kafka.MessageHandler that feeds raw question records
// into the pipeline. Malformed payloads quarantine rather than fail the
// consume loop.
func (p *Pipeline) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		rec, err := kafka.DecodeJSON[question.RawRecord](value)
		if err != nil {
			p.recordQuarantine(ctx, &normalize.Rejection{
				Record: question.RawRecord{SourceDoc: string(key)},
				Reason: normalize.ReasonMalformedPayload,
				Detail: err.Error(),
			})
			return nil
		}
		if _, err := p.IngestOne(ctx, rec); err != nil {
			return fmt.Errorf("ingesting %s/%d: %w", rec.SourceDoc, rec.Position, err)
		}
		return nil
	}
}
