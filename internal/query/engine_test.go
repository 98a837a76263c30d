package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/store"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
	apperrors "github.com/zambia-civic-lab/orderpaper-miner/pkg/errors"
)

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(4, nil, nil)
	ctx := context.Background()
	seed := []question.Question{
		{
			ID: question.ComputeID("op-2021.pdf", 0), Text: "boreholes and water supply in Lundazi",
			MP: "Mr J. Banda", Minister: "Minister of Water Development",
			Constituency: "Lundazi", District: "Lundazi", Year: 2021,
			Date:  time.Date(2021, time.March, 3, 0, 0, 0, 0, time.UTC),
			Label: question.Label{Kind: question.KindWritten, Subject: "water"},
		},
		{
			ID: question.ComputeID("op-2021.pdf", 1), Text: "construction of the district hospital",
			MP: "Mr J. Banda", Minister: "Minister of Health",
			Constituency: "Lundazi", District: "Lundazi", Year: 2021,
			// Year known, exact date unrecoverable.
			Label: question.Label{Kind: question.KindOral, Subject: "health"},
		},
		{
			ID: question.ComputeID("op-2023.pdf", 0), Text: "tarring of the Kabwe to Kapiri road",
			MP: "Ms C. Phiri", Minister: "Minister of Infrastructure",
			Constituency: "Kabwe Central", District: "Kabwe", Year: 2023,
			Date:  time.Date(2023, time.June, 14, 0, 0, 0, 0, time.UTC),
			Label: question.Label{Kind: question.KindWritten, Subject: "infrastructure"},
		},
		{
			ID: question.ComputeID("op-2023.pdf", 1), Text: "water reticulation in Kabwe township",
			MP: "Ms C. Phiri", Minister: "Minister of Water Development",
			Constituency: "Kabwe Central", District: "Kabwe", Year: 2023,
			Date:  time.Date(2023, time.June, 14, 0, 0, 0, 0, time.UTC),
			Label: question.Label{Kind: question.KindUrgent, Subject: "water"},
		},
	}
	for i := range seed {
		if err := s.Upsert(ctx, &seed[i]); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func testEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s := seedStore(t)
	return NewEngine(s, config.QueryConfig{DefaultLimit: 50, MaxResults: 1000}, nil), s
}

func TestExecuteYearFilterIsExact(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.Execute(context.Background(), &Spec{Year: 2021})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2", res.Total)
	}
	for _, q := range res.Questions {
		if q.Year != 2021 {
			t.Errorf("year filter returned record from %d", q.Year)
		}
	}
}

func TestExecuteFiltersCombineWithAND(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.Execute(context.Background(), &Spec{
		Year:    2023,
		Subject: "water",
		MP:      "Ms C. Phiri",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 {
		t.Fatalf("total = %d, want 1", res.Total)
	}
	q := res.Questions[0]
	if q.Year != 2023 || q.Label.Subject != "water" || q.MP != "Ms C. Phiri" {
		t.Errorf("record violates a filter: %+v", q)
	}
}

func TestExecuteKeywordConstraint(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.Execute(context.Background(), &Spec{Keywords: []string{"water"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2 records mentioning water", res.Total)
	}
}

func TestExecuteStopWordKeywordMatchesNothing(t *testing.T) {
	e, _ := testEngine(t)
	// These tokenize to nothing, so the keyword is an unsatisfiable
	// constraint, not an absent one.
	for _, kw := range []string{"the", "a", ""} {
		res, err := e.Execute(context.Background(), &Spec{Keywords: []string{kw}})
		if err != nil {
			t.Fatal(err)
		}
		if res.Total != 0 {
			t.Errorf("keyword %q matched %d records, want 0", kw, res.Total)
		}
	}
}

func TestExecuteOpenEndedTimeframe(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.Execute(context.Background(), &Spec{StartDate: "2022-01-01"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want the 2 records from 2023", res.Total)
	}
	for _, q := range res.Questions {
		if q.Year != 2023 {
			t.Errorf("open-ended window returned record from %d", q.Year)
		}
	}
	// Open start as well.
	res, err = e.Execute(context.Background(), &Spec{EndDate: "2021-12-31"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want the 2 records from 2021", res.Total)
	}
}

func TestExecuteNoConstraintsReturnsAll(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.Execute(context.Background(), &Spec{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 4 {
		t.Fatalf("total = %d, want 4", res.Total)
	}
	for i := 1; i < len(res.Questions); i++ {
		if res.Questions[i].ID <= res.Questions[i-1].ID {
			t.Error("results not in ascending id order")
		}
	}
}

func TestExecuteEmptyResult(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.Execute(context.Background(), &Spec{MP: "Nobody"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 0 || len(res.Questions) != 0 || res.NextCursor != "" {
		t.Errorf("empty query returned %+v", res)
	}
}

func TestExecuteTimeframe(t *testing.T) {
	e, _ := testEngine(t)
	res, err := e.Execute(context.Background(), &Spec{
		StartDate: "2021-01-01",
		EndDate:   "2021-12-31",
	})
	if err != nil {
		t.Fatal(err)
	}
	// Both 2021 records match: one by exact date, one by year fallback.
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2", res.Total)
	}

	res, err = e.Execute(context.Background(), &Spec{
		StartDate: "2021-03-04",
		EndDate:   "2021-12-31",
	})
	if err != nil {
		t.Fatal(err)
	}
	// The dated record (March 3) falls outside; the year-only record stays.
	if res.Total != 1 {
		t.Fatalf("total = %d, want 1", res.Total)
	}
	if !res.Questions[0].Date.IsZero() {
		t.Errorf("expected the year-only record, got %+v", res.Questions[0])
	}
}

func TestExecuteInvalidSpecs(t *testing.T) {
	e, _ := testEngine(t)
	cases := []Spec{
		{Year: -1},
		{Limit: -5},
		{Kind: "spoken"},
		{StartDate: "14/06/2023"},
		{StartDate: "2023-06-14", EndDate: "2021-01-01"},
	}
	for _, spec := range cases {
		if _, err := e.Execute(context.Background(), &spec); !errors.Is(err, apperrors.ErrInvalidQuery) {
			t.Errorf("spec %+v: error = %v, want ErrInvalidQuery", spec, err)
		}
	}
}

func TestPaginationIsStableAndComplete(t *testing.T) {
	s := store.New(4, nil, nil)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		q := question.Question{
			ID:   question.ComputeID("bulk.pdf", i),
			Text: "school staffing levels",
			MP:   "Mr K. Tembo",
			Year: 2022,
			Label: question.Label{
				Kind:    question.KindWritten,
				Subject: "education",
			},
		}
		if err := s.Upsert(ctx, &q); err != nil {
			t.Fatal(err)
		}
	}
	e := NewEngine(s, config.QueryConfig{DefaultLimit: 50, MaxResults: 1000}, nil)

	full, err := e.Execute(ctx, &Spec{Year: 2022})
	if err != nil {
		t.Fatal(err)
	}
	if full.Total != 25 {
		t.Fatalf("total = %d, want 25", full.Total)
	}

	var paged []string
	spec := Spec{Year: 2022, Limit: 7}
	for {
		res, err := e.Execute(ctx, &spec)
		if err != nil {
			t.Fatal(err)
		}
		if res.Total != 25 {
			t.Errorf("page total = %d, want 25 on every page", res.Total)
		}
		for _, q := range res.Questions {
			paged = append(paged, q.ID)
		}
		if res.NextCursor == "" {
			break
		}
		spec.Cursor = res.NextCursor
	}
	if len(paged) != 25 {
		t.Fatalf("pagination yielded %d ids, want 25", len(paged))
	}
	seen := make(map[string]struct{})
	for i, id := range paged {
		if _, dup := seen[id]; dup {
			t.Errorf("id %q appeared on two pages", id)
		}
		seen[id] = struct{}{}
		if i > 0 && paged[i-1] >= id {
			t.Error("ids not globally ascending across pages")
		}
	}
}

func TestExecuteLimitCapped(t *testing.T) {
	s := seedStore(t)
	e := NewEngine(s, config.QueryConfig{DefaultLimit: 2, MaxResults: 3}, nil)
	res, err := e.Execute(context.Background(), &Spec{Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Questions) > 3 {
		t.Errorf("returned %d records, cap is 3", len(res.Questions))
	}
}

func TestAllFollowsCursorsToTheEnd(t *testing.T) {
	s := store.New(4, nil, nil)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		q := question.Question{
			ID:    question.ComputeID("bulk.pdf", i),
			Text:  "clinic staffing",
			Year:  2022,
			Label: question.Label{Kind: question.KindWritten, Subject: "health"},
		}
		if err := s.Upsert(ctx, &q); err != nil {
			t.Fatal(err)
		}
	}
	e := NewEngine(s, config.QueryConfig{DefaultLimit: 5, MaxResults: 5}, nil)
	all, err := e.All(ctx, &Spec{Year: 2022}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 12 {
		t.Errorf("All returned %d records, want 12", len(all))
	}
	capped, err := e.All(ctx, &Spec{Year: 2022}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(capped) != 4 {
		t.Errorf("capped All returned %d records, want 4", len(capped))
	}
}

func TestCacheNilClientComputes(t *testing.T) {
	e, s := testEngine(t)
	var c *Cache
	res, hit, err := c.GetOrCompute(context.Background(), &Spec{Year: 2021}, s.Generation(), func() (*Result, error) {
		return e.Execute(context.Background(), &Spec{Year: 2021})
	})
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("nil cache reported a hit")
	}
	if res.Total != 2 {
		t.Errorf("total = %d, want 2", res.Total)
	}
}

func TestCacheKeyVariesWithGeneration(t *testing.T) {
	c := NewCache(nil, config.RedisConfig{}, nil)
	spec := &Spec{Year: 2021}
	if c.buildKey(spec, 1) == c.buildKey(spec, 2) {
		t.Error("cache key ignores store generation")
	}
	other := &Spec{Year: 2022}
	if c.buildKey(spec, 1) == c.buildKey(other, 1) {
		t.Error("cache key ignores the spec")
	}
}

func BenchmarkExecuteFacetQuery(b *testing.B) {
	s := store.New(8, nil, nil)
	ctx := context.Background()
	for i := 0; i < 5000; i++ {
		q := question.Question{
			ID:   question.ComputeID("bench.pdf", i),
			Text: "water supply in the district",
			MP:   fmt.Sprintf("MP %d", i%40),
			Year: 2019 + i%5,
			Label: question.Label{
				Kind:    question.KindWritten,
				Subject: "water",
			},
		}
		if err := s.Upsert(ctx, &q); err != nil {
			b.Fatal(err)
		}
	}
	e := NewEngine(s, config.QueryConfig{DefaultLimit: 50, MaxResults: 1000}, nil)
	spec := &Spec{Year: 2021, MP: "MP 7"}
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := e.Execute(ctx, spec); err != nil {
			b.Fatal(err)
		}
	}
}
