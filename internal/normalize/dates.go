package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Order Papers carry dates in several shapes: "Friday, 1st August, 2025",
// "5th December, 2023", ISO dates from newer scrapers, and slashed forms
// from manual entry. ParseDate tries the ordinal pattern first, then a
// fixed list of layouts.

var ordinalDatePattern = regexp.MustCompile(`(?i)(\d{1,2})(?:st|nd|rd|th)?\s+([A-Za-z]+),?\s+(\d{4})`)

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"2 January 2006",
	"January 2, 2006",
	"Monday, 2 January 2006",
	"Monday, 2 January, 2006",
}

// ParseDate parses an Order Paper date string. The boolean reports whether
// a full date was recovered; callers fall back to year extraction when it
// is false.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if m := ordinalDatePattern.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, ok := months[strings.ToLower(m[2])]
		year, _ := strconv.Atoi(m[3])
		if ok && day >= 1 && day <= 31 {
			return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var sessionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+(?:st|nd|rd|th)\s+Session)`),
	regexp.MustCompile(`(?i)((?:first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth|eleventh|twelfth)\s+Session)`),
	regexp.MustCompile(`(?i)(Session\s+\d+)`),
	regexp.MustCompile(`(\d{4}\s*[-/]\s*\d{2,4})`),
}

// ExtractSession pulls a parliamentary session identifier ("3rd Session",
// "2023-2024") out of free-form session metadata. Unrecognised input is
// returned trimmed as-is.
func ExtractSession(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, p := range sessionPatterns {
		if m := p.FindStringSubmatch(s); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return s
}
