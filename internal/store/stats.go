package store

import (
	"sort"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
)

// NameCount is one entry of a ranked facet summary.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats is the corpus-level summary served by GET /stats.
type Stats struct {
	TotalQuestions int            `json:"total_questions"`
	PerYear        map[string]int `json:"per_year"`
	PerKind        map[string]int `json:"per_kind"`
	PerSubject     map[string]int `json:"per_subject"`
	TopMPs         []NameCount    `json:"top_mps"`
	TopMinisters   []NameCount    `json:"top_ministers"`
}

// topN converts facet counts into a ranked list, highest count first, name
// ascending on ties so the output is stable.
func topN(counts map[string]int, n int) []NameCount {
	ranked := make([]NameCount, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, NameCount{Name: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Stats summarises the corpus from the facet index.
func (s *Store) Stats() Stats {
	return Stats{
		TotalQuestions: s.Count(),
		PerYear:        s.FacetCardinality(question.FacetYear),
		PerKind:        s.FacetCardinality(question.FacetKind),
		PerSubject:     s.FacetCardinality(question.FacetSubject),
		TopMPs:         topN(s.FacetCardinality(question.FacetMP), 20),
		TopMinisters:   topN(s.FacetCardinality(question.FacetMinister), 20),
	}
}
