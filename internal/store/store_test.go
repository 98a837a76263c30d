package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	apperrors "github.com/zambia-civic-lab/orderpaper-miner/pkg/errors"
)

func testQuestion(doc string, pos int) *question.Question {
	return &question.Question{
		ID:           question.ComputeID(doc, pos),
		RawText:      "raw",
		Text:         "water boreholes in the chiefdom",
		MP:           "Mr J. Banda",
		Minister:     "Minister of Water Development",
		Constituency: "Kabwe Central",
		District:     "Kabwe",
		Year:         2023,
		Date:         time.Date(2023, time.June, 14, 0, 0, 0, 0, time.UTC),
		Label: question.Label{
			Kind:    question.KindWritten,
			Subject: "water",
		},
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := New(4, nil, nil)
	q := testQuestion("doc.pdf", 1)
	if err := s.Upsert(context.Background(), q); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, q) {
		t.Errorf("Get = %+v, want %+v", got, q)
	}
	// The store holds its own copy.
	got.MP = "mutated"
	again, _ := s.Get(q.ID)
	if again.MP != "Mr J. Banda" {
		t.Error("Get returned a reference into the store")
	}
}

func TestGetMissing(t *testing.T) {
	s := New(4, nil, nil)
	if _, err := s.Get("nope"); !errors.Is(err, apperrors.ErrQuestionNotFound) {
		t.Errorf("error = %v, want ErrQuestionNotFound", err)
	}
}

func TestUpsertReplacesStaleBuckets(t *testing.T) {
	s := New(4, nil, nil)
	ctx := context.Background()
	q := testQuestion("doc.pdf", 1)
	if err := s.Upsert(ctx, q); err != nil {
		t.Fatal(err)
	}

	relabeled := *q
	relabeled.Label.Subject = "infrastructure"
	relabeled.Text = "road construction in the district"
	if err := s.Upsert(ctx, &relabeled); err != nil {
		t.Fatal(err)
	}

	if ids := s.FacetIDs(question.FacetSubject, "water"); len(ids) != 0 {
		t.Errorf("stale subject bucket still holds %v", ids)
	}
	if ids := s.FacetIDs(question.FacetSubject, "infrastructure"); len(ids) != 1 {
		t.Errorf("new subject bucket = %v, want one id", ids)
	}
	if ids := s.TokenIDs("borehol"); len(ids) != 0 {
		t.Errorf("stale token bucket still holds %v", ids)
	}
	if ids := s.TokenIDs("construct"); len(ids) != 1 {
		t.Errorf("new token bucket = %v, want one id", ids)
	}
	if s.Count() != 1 {
		t.Errorf("count = %d, want 1", s.Count())
	}
	if err := s.CheckConsistency(); err != nil {
		t.Errorf("index inconsistent after replace: %v", err)
	}
}

func TestRetract(t *testing.T) {
	s := New(4, nil, nil)
	ctx := context.Background()
	q := testQuestion("doc.pdf", 1)
	if err := s.Upsert(ctx, q); err != nil {
		t.Fatal(err)
	}
	if err := s.Retract(ctx, q.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(q.ID); !errors.Is(err, apperrors.ErrQuestionNotFound) {
		t.Errorf("retracted record still readable")
	}
	if ids := s.FacetIDs(question.FacetMP, "Mr J. Banda"); len(ids) != 0 {
		t.Errorf("retracted record still in facet index: %v", ids)
	}
	if err := s.Retract(ctx, q.ID); !errors.Is(err, apperrors.ErrQuestionNotFound) {
		t.Errorf("second retract error = %v, want ErrQuestionNotFound", err)
	}
}

func TestFacetIDsSorted(t *testing.T) {
	s := New(4, nil, nil)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := s.Upsert(ctx, testQuestion("doc.pdf", i)); err != nil {
			t.Fatal(err)
		}
	}
	ids := s.FacetIDs(question.FacetYear, "2023")
	if len(ids) != 20 {
		t.Fatalf("got %d ids, want 20", len(ids))
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("facet ids not sorted")
	}
	if all := s.AllIDs(); !reflect.DeepEqual(all, ids) {
		t.Error("AllIDs disagrees with the year bucket")
	}
}

func TestGenerationAdvances(t *testing.T) {
	s := New(4, nil, nil)
	ctx := context.Background()
	g0 := s.Generation()
	if err := s.Upsert(ctx, testQuestion("doc.pdf", 1)); err != nil {
		t.Fatal(err)
	}
	if s.Generation() == g0 {
		t.Error("generation unchanged after upsert")
	}
}

func TestStats(t *testing.T) {
	s := New(4, nil, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		q := testQuestion("doc.pdf", i)
		if i >= 3 {
			q.MP = "Ms C. Phiri"
			q.Label.Kind = question.KindOral
		}
		if err := s.Upsert(ctx, q); err != nil {
			t.Fatal(err)
		}
	}
	stats := s.Stats()
	if stats.TotalQuestions != 5 {
		t.Errorf("total = %d, want 5", stats.TotalQuestions)
	}
	if stats.PerKind["written"] != 3 || stats.PerKind["oral"] != 2 {
		t.Errorf("per kind = %v", stats.PerKind)
	}
	if stats.PerYear["2023"] != 5 {
		t.Errorf("per year = %v", stats.PerYear)
	}
	if len(stats.TopMPs) != 2 || stats.TopMPs[0].Name != "Mr J. Banda" || stats.TopMPs[0].Count != 3 {
		t.Errorf("top mps = %v", stats.TopMPs)
	}
}

func TestTopNStableOnTies(t *testing.T) {
	counts := map[string]int{"b": 2, "a": 2, "c": 5}
	got := topN(counts, 3)
	want := []NameCount{{"c", 5}, {"a", 2}, {"b", 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("topN = %v, want %v", got, want)
	}
}

func TestConsistencyViolationBlocksWrites(t *testing.T) {
	s := New(2, nil, nil)
	ctx := context.Background()
	q := testQuestion("doc.pdf", 1)
	if err := s.Upsert(ctx, q); err != nil {
		t.Fatal(err)
	}

	// Corrupt one shard: drop the record but leave its index entries.
	sh := s.shardFor(q.ID)
	sh.mu.Lock()
	delete(sh.records, q.ID)
	sh.mu.Unlock()

	if err := s.CheckConsistency(); !errors.Is(err, apperrors.ErrIndexInconsistent) {
		t.Fatalf("error = %v, want ErrIndexInconsistent", err)
	}
	if err := s.Upsert(ctx, testQuestion("doc.pdf", 2)); !errors.Is(err, apperrors.ErrWritesBlocked) {
		t.Errorf("upsert while blocked = %v, want ErrWritesBlocked", err)
	}

	s.RebuildIndex()
	if err := s.CheckConsistency(); err != nil {
		t.Errorf("still inconsistent after rebuild: %v", err)
	}
	if err := s.Upsert(ctx, testQuestion("doc.pdf", 2)); err != nil {
		t.Errorf("upsert after rebuild failed: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(4, nil, nil)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := s.Upsert(ctx, testQuestion("doc.pdf", i)); err != nil {
			t.Fatal(err)
		}
	}
	path, err := s.Snapshot(dir)
	if err != nil {
		t.Fatal(err)
	}

	restored := New(4, nil, nil)
	loaded, err := restored.LoadFromSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded != 10 || restored.Count() != 10 {
		t.Fatalf("loaded %d records, count %d, want 10", loaded, restored.Count())
	}
	if !reflect.DeepEqual(restored.AllIDs(), s.AllIDs()) {
		t.Error("restored ids differ from original")
	}
	// The facet index is rebuilt as a projection of the records.
	if ids := restored.FacetIDs(question.FacetConstituency, "Kabwe Central"); len(ids) != 10 {
		t.Errorf("constituency bucket = %d ids, want 10", len(ids))
	}
	if err := restored.CheckConsistency(); err != nil {
		t.Errorf("restored store inconsistent: %v", err)
	}
}

func TestReadSnapshotRejectsCorruption(t *testing.T) {
	dir := t.TempDir()
	s := New(2, nil, nil)
	if err := s.Upsert(context.Background(), testQuestion("doc.pdf", 1)); err != nil {
		t.Fatal(err)
	}
	path, err := s.Snapshot(dir)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[snapHeaderSize+2] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Error("corrupted snapshot read succeeded")
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	if _, ok := LatestSnapshot(dir); ok {
		t.Error("empty dir reported a snapshot")
	}
	s := New(2, nil, nil)
	if err := s.Upsert(context.Background(), testQuestion("doc.pdf", 1)); err != nil {
		t.Fatal(err)
	}
	var last string
	for i := 0; i < 3; i++ {
		p, err := s.Snapshot(dir)
		if err != nil {
			t.Fatal(err)
		}
		last = p
	}
	got, ok := LatestSnapshot(dir)
	if !ok || got != last {
		t.Errorf("LatestSnapshot = (%q, %v), want %q", got, ok, last)
	}
}

func BenchmarkUpsert(b *testing.B) {
	s := New(8, nil, nil)
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		q := testQuestion("bench.pdf", i)
		if err := s.Upsert(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFacetIDs(b *testing.B) {
	s := New(8, nil, nil)
	ctx := context.Background()
	for i := 0; i < 10000; i++ {
		q := testQuestion("bench.pdf", i)
		q.MP = fmt.Sprintf("MP %d", i%50)
		if err := s.Upsert(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = s.FacetIDs(question.FacetMP, "MP 7")
	}
}
