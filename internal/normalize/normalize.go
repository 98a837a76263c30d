// Package normalize turns raw Order Paper question records into canonical
// Question records: it fixes encoding, collapses whitespace, strips the
// Order Paper boilerplate that scrapers leave behind, parses dates and MP
// names, and quarantines records whose id-forming fields are missing.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
)

// Quarantine reason codes. Quarantined records are surfaced in the batch
// rejection log, never discarded silently and never fatal for the batch.
const (
	ReasonMissingSource   = "missing_source_doc"
	ReasonMissingText     = "missing_text"
	ReasonInvalidPosition = "invalid_position"
	ReasonNoYear          = "no_year"
	// ReasonMalformedPayload marks transport messages that could not be
	// decoded into a raw record at all.
	ReasonMalformedPayload = "malformed_payload"
)

// Rejection describes one quarantined raw record.
type Rejection struct {
	Record question.RawRecord `json:"record"`
	Reason string             `json:"reason"`
	Detail string             `json:"detail,omitempty"`
}

// Lines matching any of these are Order Paper boilerplate, not question
// content. Patterns follow the document structure on parliament.gov.zm.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*NATIONAL ASSEMBLY OF ZAMBIA\s*$`),
	regexp.MustCompile(`(?i)^\s*ORDER PAPER\b.*$`),
	regexp.MustCompile(`(?i)^\s*.*SESSION OF THE .*ASSEMBLY\s*$`),
	regexp.MustCompile(`(?i)^\s*QUESTIONS FOR (ORAL|WRITTEN) ANSWER\s*$`),
	regexp.MustCompile(`(?i)^\s*AT\s+\d{2}\d{2}\s+HOURS\s*$`),
	regexp.MustCompile(`(?i)^\s*ORDERS OF THE DAY\s*$`),
}

// mpPattern captures "Name (Constituency)" as produced by the Order Paper
// "asked_by" field.
var mpPattern = regexp.MustCompile(`^(.*?)\s*\(([^)]+)\)\s*$`)

// Normalizer converts raw records into canonical Questions.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize produces the canonical Question for a raw record, or a
// Rejection when a required field is missing. Exactly one of the two return
// values is non-nil.
func (n *Normalizer) Normalize(rec question.RawRecord) (*question.Question, *Rejection) {
	if strings.TrimSpace(rec.SourceDoc) == "" {
		return nil, &Rejection{Record: rec, Reason: ReasonMissingSource}
	}
	if rec.Position < 0 {
		return nil, &Rejection{Record: rec, Reason: ReasonInvalidPosition}
	}

	text := CleanText(rec.Text)
	if text == "" {
		return nil, &Rejection{Record: rec, Reason: ReasonMissingText}
	}

	mp, constituency := splitMP(rec.AskedBy)
	if rec.Constituency != "" {
		constituency = strings.TrimSpace(rec.Constituency)
	}

	date, hasDate := ParseDate(rec.Date)
	year := 0
	if hasDate {
		year = date.Year()
	} else {
		year = extractYear(rec.Date, rec.Session, rec.SourceDoc)
	}
	if year == 0 {
		return nil, &Rejection{
			Record: rec,
			Reason: ReasonNoYear,
			Detail: "no parseable date and no recoverable year in metadata",
		}
	}

	q := &question.Question{
		ID:           question.ComputeID(rec.SourceDoc, rec.Position),
		RawText:      rec.Text,
		Text:         text,
		MP:           mp,
		Minister:     strings.TrimSpace(rec.Minister),
		Session:      ExtractSession(rec.Session),
		Constituency: constituency,
		Chiefdom:     strings.TrimSpace(rec.Chiefdom),
		District:     strings.TrimSpace(rec.District),
		Ward:         strings.TrimSpace(rec.Ward),
		Year:         year,
	}
	if hasDate {
		q.Date = date
	}
	q.Label = question.Label{
		Kind:    question.KindUnclassified,
		Subject: question.SubjectUnclassified,
	}
	return q, nil
}

// CleanText fixes encoding, removes boilerplate lines, and collapses all
// whitespace runs to single spaces. The result is the deterministic input
// to feature extraction.
func CleanText(raw string) string {
	s := strings.ToValidUTF8(raw, "")
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' || r == ' ' {
			return ' '
		}
		if unicode.IsControl(r) && r != '\n' {
			return ' '
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if isBoilerplate(line) {
			continue
		}
		kept = append(kept, line)
	}
	s = strings.Join(kept, " ")
	return strings.Join(strings.Fields(s), " ")
}

func isBoilerplate(line string) bool {
	for _, p := range boilerplatePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// splitMP separates "Mr J. Banda (Kabwe Central)" into the MP name and the
// constituency. Both are trimmed; missing parentheses leave the
// constituency empty.
func splitMP(askedBy string) (mp, constituency string) {
	askedBy = strings.TrimSpace(askedBy)
	if m := mpPattern.FindStringSubmatch(askedBy); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return askedBy, ""
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// extractYear scans fallback metadata for a plausible four-digit year when
// the date string itself could not be parsed.
func extractYear(candidates ...string) int {
	for _, c := range candidates {
		if m := yearPattern.FindString(c); m != "" {
			year := 0
			for _, r := range m {
				year = year*10 + int(r-'0')
			}
			return year
		}
	}
	return 0
}
