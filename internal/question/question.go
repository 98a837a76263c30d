// Package question defines the canonical record types shared by the
// ingestion pipeline, record store, query engine, and exporter: the raw
// input record as received from upstream scrapers, the normalized Question,
// and its classification labels.
package question

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Kind is the procedural category of a parliamentary question.
type Kind string

const (
	KindWritten      Kind = "written"
	KindOral         Kind = "oral"
	KindUrgent       Kind = "urgent"
	KindUnclassified Kind = "unclassified"
)

// SubjectUnclassified is assigned when the classifier's confidence for the
// subject axis falls below the configured threshold.
const SubjectUnclassified = "unclassified"

// ValidKind reports whether k is one of the recognised procedural kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindWritten, KindOral, KindUrgent, KindUnclassified:
		return true
	}
	return false
}

// Label is a classification result for one question. Kind and Subject are
// produced independently, each with its own confidence in [0,1].
type Label struct {
	Kind              Kind    `json:"kind"`
	KindConfidence    float64 `json:"kind_confidence"`
	Subject           string  `json:"subject"`
	SubjectConfidence float64 `json:"subject_confidence"`
	ArtifactVersion   string  `json:"artifact_version,omitempty"`
}

// RawRecord is a single raw question as produced by an upstream collector
// (scraper, OCR, manual entry). Metadata fields may be partially missing;
// the normalizer decides what is recoverable and what must be quarantined.
type RawRecord struct {
	SourceDoc    string `json:"source_doc"`
	Position     int    `json:"position"`
	Text         string `json:"text"`
	AskedBy      string `json:"asked_by,omitempty"`
	Minister     string `json:"minister,omitempty"`
	Section      string `json:"section,omitempty"`
	Session      string `json:"session,omitempty"`
	Date         string `json:"date,omitempty"`
	Constituency string `json:"constituency,omitempty"`
	Chiefdom     string `json:"chiefdom,omitempty"`
	District     string `json:"district,omitempty"`
	Ward         string `json:"ward,omitempty"`
}

// Question is the canonical, immutable record produced by the normalizer.
// ID is a stable hash of (SourceDoc, Position), so re-ingesting identical
// raw input always yields the same record.
type Question struct {
	ID           string    `json:"id"`
	RawText      string    `json:"raw_text"`
	Text         string    `json:"text"`
	MP           string    `json:"mp"`
	Minister     string    `json:"minister,omitempty"`
	Session      string    `json:"session,omitempty"`
	Constituency string    `json:"constituency,omitempty"`
	Chiefdom     string    `json:"chiefdom,omitempty"`
	District     string    `json:"district,omitempty"`
	Ward         string    `json:"ward,omitempty"`
	Year         int       `json:"year"`
	Date         time.Time `json:"date,omitempty"`
	Label        Label     `json:"label"`
}

// ComputeID derives the stable question id from the source document name and
// the question's position within it.
func ComputeID(sourceDoc string, position int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s\x00%d", sourceDoc, position))
	return fmt.Sprintf("%x", sum[:16])
}

// Excerpt returns the first n runes of the normalized text, with a trailing
// ellipsis when truncated. Exports and stats samples use n=100.
func (q *Question) Excerpt(n int) string {
	runes := []rune(q.Text)
	if len(runes) <= n {
		return q.Text
	}
	return string(runes[:n]) + "…"
}

// Facet names recognised by the record store and query engine. Keyword
// constraints resolve against the token index rather than a named bucket.
const (
	FacetYear         = "year"
	FacetMP           = "mp"
	FacetMinister     = "minister"
	FacetSession      = "session"
	FacetConstituency = "constituency"
	FacetChiefdom     = "chiefdom"
	FacetDistrict     = "district"
	FacetWard         = "ward"
	FacetKind         = "kind"
	FacetSubject      = "subject"
)
