// Package store implements the sharded in-memory record store and its facet
// index. Records are routed to a fixed number of shards by id hash; each
// shard guards its records, facet buckets, and token postings with one
// RWMutex so an upsert replaces every stale bucket entry atomically. The
// facet index is a derived projection and can always be rebuilt from the
// records alone. An optional durable layer receives every write first, so
// the in-memory state can be reconstructed after a restart.
package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/feature"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	apperrors "github.com/zambia-civic-lab/orderpaper-miner/pkg/errors"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/metrics"
)

// Durable is the write-through persistence layer behind the in-memory
// store. A nil Durable means memory-only operation.
type Durable interface {
	UpsertQuestion(ctx context.Context, q *question.Question) error
	DeleteQuestion(ctx context.Context, id string) error
	// LoadQuestions streams every persisted question into fn, in no
	// particular order.
	LoadQuestions(ctx context.Context, fn func(q *question.Question) error) error
}

type shard struct {
	mu      sync.RWMutex
	records map[string]*question.Question
	// facets maps facet name -> value -> id set.
	facets map[string]map[string]map[string]struct{}
	// tokens maps stemmed term -> id set for keyword constraints.
	tokens map[string]map[string]struct{}
}

func newShard() *shard {
	return &shard{
		records: make(map[string]*question.Question),
		facets:  make(map[string]map[string]map[string]struct{}),
		tokens:  make(map[string]map[string]struct{}),
	}
}

// Store routes question records across numShards independent shards.
type Store struct {
	shards    []*shard
	numShards int
	durable   Durable
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// generation increments on every successful mutation; the query cache
	// keys on it so stale entries die naturally.
	generation    atomic.Uint64
	writesBlocked atomic.Bool
}

// New creates a Store with the given shard count. durable and m may be nil.
func New(numShards int, durable Durable, m *metrics.Metrics) *Store {
	if numShards <= 0 {
		numShards = 1
	}
	s := &Store{
		shards:    make([]*shard, numShards),
		numShards: numShards,
		durable:   durable,
		metrics:   m,
		logger:    slog.Default().With("component", "record-store"),
	}
	for i := range s.shards {
		s.shards[i] = newShard()
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[int(h.Sum32())%s.numShards]
}

func (s *Store) shardIndex(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32()) % s.numShards
}

// facetValues projects a question onto its facet buckets. Empty values
// produce no bucket entry.
func facetValues(q *question.Question) map[string]string {
	vals := map[string]string{
		question.FacetMP:           q.MP,
		question.FacetMinister:     q.Minister,
		question.FacetSession:      q.Session,
		question.FacetConstituency: q.Constituency,
		question.FacetChiefdom:     q.Chiefdom,
		question.FacetDistrict:     q.District,
		question.FacetWard:         q.Ward,
		question.FacetKind:         string(q.Label.Kind),
		question.FacetSubject:      q.Label.Subject,
	}
	if q.Year > 0 {
		vals[question.FacetYear] = strconv.Itoa(q.Year)
	}
	for k, v := range vals {
		if v == "" {
			delete(vals, k)
		}
	}
	return vals
}

// indexLocked inserts q into the shard's facet and token buckets. Caller
// holds sh.mu.
func (sh *shard) indexLocked(q *question.Question) {
	for facet, value := range facetValues(q) {
		buckets, ok := sh.facets[facet]
		if !ok {
			buckets = make(map[string]map[string]struct{})
			sh.facets[facet] = buckets
		}
		ids, ok := buckets[value]
		if !ok {
			ids = make(map[string]struct{})
			buckets[value] = ids
		}
		ids[q.ID] = struct{}{}
	}
	for _, tok := range feature.Tokenize(q.Text) {
		ids, ok := sh.tokens[tok.Term]
		if !ok {
			ids = make(map[string]struct{})
			sh.tokens[tok.Term] = ids
		}
		ids[q.ID] = struct{}{}
	}
}

// unindexLocked removes q from every bucket it occupies, pruning emptied
// buckets. Caller holds sh.mu.
func (sh *shard) unindexLocked(q *question.Question) {
	for facet, value := range facetValues(q) {
		if ids, ok := sh.facets[facet][value]; ok {
			delete(ids, q.ID)
			if len(ids) == 0 {
				delete(sh.facets[facet], value)
			}
		}
	}
	for _, tok := range feature.Tokenize(q.Text) {
		if ids, ok := sh.tokens[tok.Term]; ok {
			delete(ids, q.ID)
			if len(ids) == 0 {
				delete(sh.tokens, tok.Term)
			}
		}
	}
}

// Upsert inserts or replaces the record with q.ID. When a durable layer is
// configured it is written first; a durable failure leaves the in-memory
// state untouched. Replacing a record removes its stale facet and token
// entries under the same shard lock that inserts the new ones.
func (s *Store) Upsert(ctx context.Context, q *question.Question) error {
	if s.writesBlocked.Load() {
		return apperrors.ErrWritesBlocked
	}
	if q.ID == "" {
		return fmt.Errorf("upsert: %w: empty id", apperrors.ErrInvalidQuery)
	}
	if s.durable != nil {
		if err := s.durable.UpsertQuestion(ctx, q); err != nil {
			return fmt.Errorf("durable upsert %s: %w", q.ID, err)
		}
	}
	idx := s.shardIndex(q.ID)
	sh := s.shards[idx]
	sh.mu.Lock()
	if old, ok := sh.records[q.ID]; ok {
		sh.unindexLocked(old)
	}
	cp := *q
	sh.records[q.ID] = &cp
	sh.indexLocked(&cp)
	count := len(sh.records)
	sh.mu.Unlock()

	s.generation.Add(1)
	if s.metrics != nil {
		s.metrics.ShardQuestionCount.WithLabelValues(strconv.Itoa(idx)).Set(float64(count))
	}
	return nil
}

// Retract removes the record with the given id from the durable layer, the
// records map, and every index bucket.
func (s *Store) Retract(ctx context.Context, id string) error {
	if s.writesBlocked.Load() {
		return apperrors.ErrWritesBlocked
	}
	idx := s.shardIndex(id)
	sh := s.shards[idx]

	sh.mu.RLock()
	_, exists := sh.records[id]
	sh.mu.RUnlock()
	if !exists {
		return fmt.Errorf("retract %s: %w", id, apperrors.ErrQuestionNotFound)
	}
	if s.durable != nil {
		if err := s.durable.DeleteQuestion(ctx, id); err != nil {
			return fmt.Errorf("durable delete %s: %w", id, err)
		}
	}

	sh.mu.Lock()
	old, ok := sh.records[id]
	if ok {
		sh.unindexLocked(old)
		delete(sh.records, id)
	}
	count := len(sh.records)
	sh.mu.Unlock()
	if !ok {
		return fmt.Errorf("retract %s: %w", id, apperrors.ErrQuestionNotFound)
	}

	s.generation.Add(1)
	if s.metrics != nil {
		s.metrics.QuestionsRetracted.Inc()
		s.metrics.ShardQuestionCount.WithLabelValues(strconv.Itoa(idx)).Set(float64(count))
	}
	return nil
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (*question.Question, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	q, ok := sh.records[id]
	if !ok {
		return nil, apperrors.ErrQuestionNotFound
	}
	cp := *q
	return &cp, nil
}

// Count returns the total number of records across all shards.
func (s *Store) Count() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.records)
		sh.mu.RUnlock()
	}
	return total
}

// Generation returns the current mutation counter.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// WritesBlocked reports whether mutations are currently rejected.
func (s *Store) WritesBlocked() bool {
	return s.writesBlocked.Load()
}

// FacetIDs returns the sorted ids of every record whose facet carries the
// given value.
func (s *Store) FacetIDs(facet, value string) []string {
	var ids []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id := range sh.facets[facet][value] {
			ids = append(ids, id)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// TokenIDs returns the sorted ids of every record whose normalized text
// contains the given stemmed term.
func (s *Store) TokenIDs(term string) []string {
	var ids []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id := range sh.tokens[term] {
			ids = append(ids, id)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// FacetCardinality returns how many records fall into each value of the
// named facet.
func (s *Store) FacetCardinality(facet string) map[string]int {
	counts := make(map[string]int)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for value, ids := range sh.facets[facet] {
			counts[value] += len(ids)
		}
		sh.mu.RUnlock()
	}
	return counts
}

// ForEach calls fn for every record. Iteration holds one shard's read lock
// at a time; fn must not mutate the store.
func (s *Store) ForEach(fn func(q *question.Question) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, q := range sh.records {
			if !fn(q) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// AllIDs returns every record id in ascending order.
func (s *Store) AllIDs() []string {
	ids := make([]string, 0, s.Count())
	for _, sh := range s.shards {
		sh.mu.RLock()
		for id := range sh.records {
			ids = append(ids, id)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

// CheckConsistency verifies that every facet and token bucket entry points
// at an existing record and that every record appears in the buckets its
// fields imply. On a violation it blocks writes and returns
// ErrIndexInconsistent; call RebuildIndex to recover.
func (s *Store) CheckConsistency() error {
	for i, sh := range s.shards {
		sh.mu.RLock()
		err := sh.checkLocked()
		sh.mu.RUnlock()
		if err != nil {
			s.writesBlocked.Store(true)
			s.logger.Error("facet index inconsistent, blocking writes",
				"shard_id", i, "error", err)
			return fmt.Errorf("shard %d: %w", i, apperrors.ErrIndexInconsistent)
		}
	}
	return nil
}

func (sh *shard) checkLocked() error {
	for facet, buckets := range sh.facets {
		for value, ids := range buckets {
			for id := range ids {
				q, ok := sh.records[id]
				if !ok {
					return fmt.Errorf("facet %s=%q references missing record %s", facet, value, id)
				}
				if facetValues(q)[facet] != value {
					return fmt.Errorf("facet %s=%q holds record %s whose field disagrees", facet, value, id)
				}
			}
		}
	}
	for _, q := range sh.records {
		for facet, value := range facetValues(q) {
			if _, ok := sh.facets[facet][value][q.ID]; !ok {
				return fmt.Errorf("record %s missing from facet %s=%q", q.ID, facet, value)
			}
		}
	}
	for term, ids := range sh.tokens {
		for id := range ids {
			if _, ok := sh.records[id]; !ok {
				return fmt.Errorf("token %q references missing record %s", term, id)
			}
		}
	}
	return nil
}

// RebuildIndex discards every facet and token bucket and reprojects them
// from the records, then unblocks writes.
func (s *Store) RebuildIndex() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.facets = make(map[string]map[string]map[string]struct{})
		sh.tokens = make(map[string]map[string]struct{})
		for _, q := range sh.records {
			sh.indexLocked(q)
		}
		sh.mu.Unlock()
	}
	s.writesBlocked.Store(false)
	s.generation.Add(1)
	if s.metrics != nil {
		s.metrics.IndexRebuildsTotal.Inc()
	}
	s.logger.Info("facet index rebuilt", "questions", s.Count())
}

// LoadFromDurable replaces the in-memory state with the contents of the
// durable layer. Used at startup and by the rebuild tool.
func (s *Store) LoadFromDurable(ctx context.Context) (int, error) {
	if s.durable == nil {
		return 0, fmt.Errorf("no durable layer configured")
	}
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.records = make(map[string]*question.Question)
		sh.facets = make(map[string]map[string]map[string]struct{})
		sh.tokens = make(map[string]map[string]struct{})
		sh.mu.Unlock()
	}
	loaded := 0
	err := s.durable.LoadQuestions(ctx, func(q *question.Question) error {
		sh := s.shardFor(q.ID)
		sh.mu.Lock()
		cp := *q
		sh.records[cp.ID] = &cp
		sh.indexLocked(&cp)
		sh.mu.Unlock()
		loaded++
		return nil
	})
	if err != nil {
		return loaded, fmt.Errorf("loading questions: %w", err)
	}
	s.generation.Add(1)
	if s.metrics != nil {
		for i, sh := range s.shards {
			sh.mu.RLock()
			s.metrics.ShardQuestionCount.WithLabelValues(strconv.Itoa(i)).Set(float64(len(sh.records)))
			sh.mu.RUnlock()
		}
	}
	s.logger.Info("store loaded from durable layer", "questions", loaded)
	return loaded, nil
}
