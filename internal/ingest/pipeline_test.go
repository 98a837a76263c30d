package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/classify"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/normalize"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/store"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
)

type memQuarantiner struct {
	mu         sync.Mutex
	rejections []normalize.Rejection
}

func (m *memQuarantiner) Quarantine(ctx context.Context, rej *normalize.Rejection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, *rej)
	return nil
}

func testPipeline(t *testing.T) (*Pipeline, *store.Store, *memQuarantiner) {
	t.Helper()
	artifact, err := classify.KeywordArtifact("bootstrap-v1",
		classify.DefaultKindKeywords, classify.DefaultSubjectKeywords)
	if err != nil {
		t.Fatal(err)
	}
	classifier, err := classify.New(artifact, config.ClassifierConfig{
		KindThreshold:    0.5,
		SubjectThreshold: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(4, nil, nil)
	quarantiner := &memQuarantiner{}
	p := New(classifier, st, quarantiner, config.IngestConfig{Workers: 4, BatchSize: 100}, nil)
	return p, st, quarantiner
}

func rawRecord(pos int, text string) question.RawRecord {
	return question.RawRecord{
		SourceDoc: "order-paper-2023-06-14.pdf",
		Position:  pos,
		Text:      text,
		AskedBy:   "Mr J. Banda (Kabwe Central)",
		Date:      "14th June, 2023",
	}
}

func TestIngestOneClassifiesAndStores(t *testing.T) {
	p, st, _ := testPipeline(t)
	rec := rawRecord(0, "When will boreholes be sunk to improve water supply in the chiefdom?")
	rej, err := p.IngestOne(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	q, err := st.Get(question.ComputeID(rec.SourceDoc, rec.Position))
	if err != nil {
		t.Fatal(err)
	}
	if q.Label.Subject != "water" {
		t.Errorf("subject = %q, want water", q.Label.Subject)
	}
	if q.Label.ArtifactVersion != "bootstrap-v1" {
		t.Errorf("artifact version = %q", q.Label.ArtifactVersion)
	}
}

func TestIngestBatchCountsAndQuarantine(t *testing.T) {
	p, st, quarantiner := testPipeline(t)
	records := []question.RawRecord{
		rawRecord(0, "Construction of the district hospital and a rural health clinic."),
		rawRecord(1, "Tarring of the road and a new bridge across the river."),
		{SourceDoc: "order-paper-2023-06-14.pdf", Position: 2, Text: "", Date: "14th June, 2023"},
	}
	report, err := p.IngestBatch(context.Background(), records)
	if err != nil {
		t.Fatal(err)
	}
	if report.Ingested != 2 || report.Quarantined != 1 {
		t.Fatalf("report = %+v, want 2 ingested, 1 quarantined", report)
	}
	if len(report.Rejections) != 1 || report.Rejections[0].Reason != normalize.ReasonMissingText {
		t.Errorf("rejections = %+v", report.Rejections)
	}
	if len(quarantiner.rejections) != 1 {
		t.Errorf("quarantiner received %d rejections, want 1", len(quarantiner.rejections))
	}
	if st.Count() != 2 {
		t.Errorf("store count = %d, want 2", st.Count())
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	p, st, _ := testPipeline(t)
	records := []question.RawRecord{
		rawRecord(0, "Water supply and borehole maintenance."),
		rawRecord(1, "School and university scholarship funding."),
	}
	for i := 0; i < 3; i++ {
		report, err := p.IngestBatch(context.Background(), records)
		if err != nil {
			t.Fatal(err)
		}
		if report.Ingested != 2 {
			t.Fatalf("pass %d ingested = %d, want 2", i, report.Ingested)
		}
	}
	if st.Count() != 2 {
		t.Errorf("store count = %d after re-ingesting, want 2", st.Count())
	}
}

func TestReadRecords(t *testing.T) {
	input := strings.Join([]string{
		`{"source_doc":"op.pdf","position":0,"text":"water supply","date":"2023-06-14"}`,
		``,
		`not json at all`,
		`{"source_doc":"op.pdf","position":1,"text":"school funding","date":"2023-06-14"}`,
	}, "\n")
	records, rejections, err := ReadRecords(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
	if len(rejections) != 1 || rejections[0].Reason != normalize.ReasonMalformedPayload {
		t.Errorf("rejections = %+v", rejections)
	}
}

func TestHandlerQuarantinesMalformedPayload(t *testing.T) {
	p, st, quarantiner := testPipeline(t)
	handler := p.Handler()

	if err := handler(context.Background(), []byte("op.pdf"), []byte("{broken")); err != nil {
		t.Fatalf("malformed payload must not fail the consume loop: %v", err)
	}
	if len(quarantiner.rejections) != 1 || quarantiner.rejections[0].Reason != normalize.ReasonMalformedPayload {
		t.Errorf("rejections = %+v", quarantiner.rejections)
	}

	good := []byte(`{"source_doc":"op.pdf","position":0,"text":"borehole drilling","date":"2023-06-14"}`)
	if err := handler(context.Background(), []byte("op.pdf"), good); err != nil {
		t.Fatal(err)
	}
	if st.Count() != 1 {
		t.Errorf("store count = %d, want 1", st.Count())
	}
}
