package query

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/feature"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/store"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/metrics"
)

// Engine resolves query specs against the store's facet and token indexes.
type Engine struct {
	store   *store.Store
	cfg     config.QueryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine creates a query engine. m may be nil.
func NewEngine(st *store.Store, cfg config.QueryConfig, m *metrics.Metrics) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 1000
	}
	return &Engine{
		store:   st,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "query-engine"),
	}
}

// Execute runs the spec and returns one page of matches. Constraint sets
// are intersected smallest-first; the timeframe contributes a year-bucket
// union as its candidate set and an exact predicate after intersection.
func (e *Engine) Execute(ctx context.Context, spec *Spec) (*Result, error) {
	start := time.Now()
	if err := spec.validate(); err != nil {
		return nil, err
	}
	tf, err := spec.parseTimeframe()
	if err != nil {
		return nil, err
	}
	limit := spec.Limit
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxResults {
		limit = e.cfg.MaxResults
	}

	candidateSets := e.candidateSets(spec, tf)
	var matched []string
	switch {
	case candidateSets == nil:
		// No indexable constraint: every record is a candidate.
		matched = e.store.AllIDs()
	case len(candidateSets) == 0:
		matched = nil
	default:
		matched = intersect(candidateSets)
	}

	// Exact timeframe predicate and defensive re-check happen on the
	// record itself.
	ids := make([]string, 0, len(matched))
	for _, id := range matched {
		q, err := e.store.Get(id)
		if err != nil {
			continue
		}
		if tf.active && !tf.contains(q) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	total := len(ids)

	if spec.Cursor != "" {
		from := sort.SearchStrings(ids, spec.Cursor)
		for from < len(ids) && ids[from] <= spec.Cursor {
			from++
		}
		ids = ids[from:]
	}
	nextCursor := ""
	if len(ids) > limit {
		ids = ids[:limit]
		nextCursor = ids[len(ids)-1]
	}

	questions := make([]question.Question, 0, len(ids))
	for _, id := range ids {
		q, err := e.store.Get(id)
		if err != nil {
			continue
		}
		questions = append(questions, *q)
	}

	if e.metrics != nil {
		e.metrics.QueryResultsCount.Observe(float64(total))
	}
	e.logger.Debug("query executed",
		"total", total,
		"page", len(questions),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Result{Questions: questions, Total: total, NextCursor: nextCursor}, nil
}

// All returns every match of the spec without pagination, capped at
// maxRows (0 means no cap). Exports use this path.
func (e *Engine) All(ctx context.Context, spec *Spec, maxRows int) ([]question.Question, error) {
	flat := *spec
	flat.Cursor = ""
	flat.Limit = e.cfg.MaxResults
	var out []question.Question
	for {
		res, err := e.Execute(ctx, &flat)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Questions...)
		if maxRows > 0 && len(out) >= maxRows {
			return out[:maxRows], nil
		}
		if res.NextCursor == "" {
			return out, nil
		}
		flat.Cursor = res.NextCursor
	}
}

// candidateSets collects one id set per indexable constraint. A nil return
// means the spec has no indexable constraint at all; an empty non-nil
// return means some constraint matched nothing.
func (e *Engine) candidateSets(spec *Spec, tf timeframe) [][]string {
	var sets [][]string
	constrained := false

	for facet, value := range spec.facetFilters() {
		constrained = true
		ids := e.store.FacetIDs(facet, value)
		if len(ids) == 0 {
			return [][]string{}
		}
		sets = append(sets, ids)
	}

	for _, kw := range spec.Keywords {
		constrained = true
		tokens := feature.Tokenize(kw)
		// A keyword of only stop words or single characters can never
		// appear in the token index, so it is a constraint that matches
		// nothing rather than no constraint at all.
		if len(tokens) == 0 {
			return [][]string{}
		}
		for _, tok := range tokens {
			ids := e.store.TokenIDs(tok.Term)
			if len(ids) == 0 {
				return [][]string{}
			}
			sets = append(sets, ids)
		}
	}

	if tf.active {
		constrained = true
		// Year buckets over-approximate the window; the exact predicate
		// prunes afterwards. Only years the index actually holds are
		// visited, so an open-ended window never walks empty buckets.
		union := make(map[string]struct{})
		for value := range e.store.FacetCardinality(question.FacetYear) {
			y, err := strconv.Atoi(value)
			if err != nil || y < tf.start.Year() || y > tf.end.Year() {
				continue
			}
			for _, id := range e.store.FacetIDs(question.FacetYear, value) {
				union[id] = struct{}{}
			}
		}
		if len(union) == 0 {
			return [][]string{}
		}
		ids := make([]string, 0, len(union))
		for id := range union {
			ids = append(ids, id)
		}
		sets = append(sets, ids)
	}

	if !constrained {
		return nil
	}
	return sets
}

// intersect combines the sets smallest-first, so membership checks run
// against the fewest candidates.
func intersect(sets [][]string) []string {
	sort.Slice(sets, func(i, j int) bool {
		return len(sets[i]) < len(sets[j])
	})
	lookups := make([]map[string]struct{}, 0, len(sets)-1)
	for _, s := range sets[1:] {
		m := make(map[string]struct{}, len(s))
		for _, id := range s {
			m[id] = struct{}{}
		}
		lookups = append(lookups, m)
	}
	var out []string
next:
	for _, id := range sets[0] {
		for _, m := range lookups {
			if _, ok := m[id]; !ok {
				continue next
			}
		}
		out = append(out, id)
	}
	return out
}
