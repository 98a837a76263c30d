// Package query executes faceted queries against the record store: facet
// equality filters, keyword constraints against the token index, and an
// optional timeframe, all combined with AND semantics. Results are ordered
// by ascending question id, which makes pagination cursors and exports
// stable across identical store states.
package query

import (
	"fmt"
	"time"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	apperrors "github.com/zambia-civic-lab/orderpaper-miner/pkg/errors"
)

// DateLayout is the wire format for timeframe bounds.
const DateLayout = "2006-01-02"

// Spec is a faceted query as received from the API. Zero values mean the
// constraint is absent.
type Spec struct {
	Year         int      `json:"year,omitempty"`
	MP           string   `json:"mp,omitempty"`
	Minister     string   `json:"minister,omitempty"`
	Session      string   `json:"session,omitempty"`
	Constituency string   `json:"constituency,omitempty"`
	Chiefdom     string   `json:"chiefdom,omitempty"`
	District     string   `json:"district,omitempty"`
	Ward         string   `json:"ward,omitempty"`
	Kind         string   `json:"kind,omitempty"`
	Subject      string   `json:"subject,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
	Cursor       string   `json:"cursor,omitempty"`
	Limit        int      `json:"limit,omitempty"`
}

// Result is one page of matches. Total counts every match, not just the
// page; NextCursor is empty on the last page.
type Result struct {
	Questions  []question.Question `json:"questions"`
	Total      int                 `json:"total"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// timeframe is the parsed date window of a Spec.
type timeframe struct {
	start, end time.Time
	active     bool
}

func (s *Spec) parseTimeframe() (timeframe, error) {
	var tf timeframe
	if s.StartDate == "" && s.EndDate == "" {
		return tf, nil
	}
	tf.active = true
	tf.start = time.Time{}
	tf.end = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	if s.StartDate != "" {
		t, err := time.Parse(DateLayout, s.StartDate)
		if err != nil {
			return tf, fmt.Errorf("%w: bad start_date %q", apperrors.ErrInvalidQuery, s.StartDate)
		}
		tf.start = t
	}
	if s.EndDate != "" {
		t, err := time.Parse(DateLayout, s.EndDate)
		if err != nil {
			return tf, fmt.Errorf("%w: bad end_date %q", apperrors.ErrInvalidQuery, s.EndDate)
		}
		tf.end = t
	}
	if tf.end.Before(tf.start) {
		return tf, fmt.Errorf("%w: end_date before start_date", apperrors.ErrInvalidQuery)
	}
	return tf, nil
}

// contains reports whether q falls inside the window. A record without an
// exact date is matched on its year alone.
func (tf timeframe) contains(q *question.Question) bool {
	if !tf.active {
		return true
	}
	if !q.Date.IsZero() {
		return !q.Date.Before(tf.start) && !q.Date.After(tf.end)
	}
	return q.Year >= tf.start.Year() && q.Year <= tf.end.Year()
}

func (s *Spec) validate() error {
	if s.Year < 0 {
		return fmt.Errorf("%w: negative year", apperrors.ErrInvalidQuery)
	}
	if s.Limit < 0 {
		return fmt.Errorf("%w: negative limit", apperrors.ErrInvalidQuery)
	}
	if s.Kind != "" && !question.ValidKind(question.Kind(s.Kind)) {
		return fmt.Errorf("%w: unknown kind %q", apperrors.ErrInvalidQuery, s.Kind)
	}
	return nil
}

// facetFilters lists the equality constraints present in the spec.
func (s *Spec) facetFilters() map[string]string {
	filters := make(map[string]string)
	if s.Year > 0 {
		filters[question.FacetYear] = fmt.Sprintf("%d", s.Year)
	}
	add := func(facet, value string) {
		if value != "" {
			filters[facet] = value
		}
	}
	add(question.FacetMP, s.MP)
	add(question.FacetMinister, s.Minister)
	add(question.FacetSession, s.Session)
	add(question.FacetConstituency, s.Constituency)
	add(question.FacetChiefdom, s.Chiefdom)
	add(question.FacetDistrict, s.District)
	add(question.FacetWard, s.Ward)
	add(question.FacetKind, s.Kind)
	add(question.FacetSubject, s.Subject)
	return filters
}
