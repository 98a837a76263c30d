package classify

import (
	"fmt"
	"sort"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/feature"
)

// DefaultSubjectKeywords is subject vocabulary v1: the ministerial sectors
// observed in the corpus, each with its indicator keywords. It seeds the
// bootstrap artifact used before a trained model is available; a trained
// artifact supersedes it without code changes.
var DefaultSubjectKeywords = map[string][]string{
	"agriculture":      {"farming", "agriculture", "crop", "farmer", "livestock", "maize", "fertilizer", "irrigation", "fisp", "harvest"},
	"education":        {"education", "school", "university", "teacher", "student", "curriculum", "scholarship", "college", "learning"},
	"energy":           {"electricity", "power", "energy", "fuel", "solar", "hydro", "coal", "petroleum", "zesco"},
	"finance":          {"finance", "budget", "money", "kwacha", "tax", "revenue", "banking", "loan", "expenditure"},
	"governance":       {"government", "ministry", "policy", "administration", "governance"},
	"health":           {"health", "hospital", "clinic", "medical", "doctor", "nurse", "disease", "medicine", "patient"},
	"infrastructure":   {"road", "bridge", "construction", "building", "highway", "housing", "infrastructure"},
	"manufacturing":    {"manufacturing", "factory", "industry", "production", "industrial", "processing"},
	"mines":            {"mining", "copper", "mineral", "mine", "extraction", "emerald", "quarry"},
	"security":         {"police", "security", "crime", "safety", "law", "order"},
	"technology":       {"technology", "digital", "internet", "computer", "ict", "broadband", "fiber"},
	"tourism":          {"tourism", "tourist", "hotel", "wildlife", "safari", "resort"},
	"transport":        {"transport", "railway", "airport", "bus", "taxi", "logistics"},
	"waste_management": {"waste", "garbage", "sanitation", "sewage", "pollution", "drainage", "refuse"},
	"water":            {"water", "borehole", "well", "dam", "supply"},
}

// DefaultKindKeywords seeds the bootstrap kind model. Order Papers signal
// urgency lexically; oral and written markers come from the section
// phrasing that survives into question text.
var DefaultKindKeywords = map[string][]string{
	"oral":    {"oral", "orally", "floor"},
	"urgent":  {"urgent", "immediate", "crisis", "emergency", "critical"},
	"written": {"written", "writing", "tabled"},
}

// keywordGain scales indicator weights so that a single keyword match in an
// L2-normalised vector saturates the softmax confidence.
const keywordGain = 25.0

// KeywordArtifact builds a deterministic indicator-keyword artifact: the
// vocabulary is the union of all keywords (stemmed with the running
// tokenizer, IDF 1) and each label's weight row activates its own keywords.
func KeywordArtifact(version string, kindKeywords, subjectKeywords map[string][]string) (*Artifact, error) {
	termSet := make(map[string]struct{})
	collect := func(keywords map[string][]string) {
		for _, words := range keywords {
			for _, w := range words {
				for _, tok := range feature.Tokenize(w) {
					termSet[tok.Term] = struct{}{}
				}
			}
		}
	}
	collect(kindKeywords)
	collect(subjectKeywords)
	if len(termSet) == 0 {
		return nil, fmt.Errorf("no vocabulary terms derived from keywords")
	}

	terms := make([]string, 0, len(termSet))
	for t := range termSet {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	idf := make([]float64, len(terms))
	index := make(map[string]int, len(terms))
	for i, t := range terms {
		idf[i] = 1
		index[t] = i
	}

	a := &Artifact{
		Version:        version,
		FeatureVersion: feature.Version,
		Vocabulary: ArtifactVocab{
			Version: version + "-vocab",
			Terms:   terms,
			IDF:     idf,
		},
		KindModel:    keywordModel(kindKeywords, index, len(terms)),
		SubjectModel: keywordModel(subjectKeywords, index, len(terms)),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func keywordModel(keywords map[string][]string, index map[string]int, dim int) LinearModel {
	labels := make([]string, 0, len(keywords))
	for label := range keywords {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	m := LinearModel{
		Labels:  labels,
		Weights: make([][]float64, len(labels)),
		Bias:    make([]float64, len(labels)),
	}
	for i, label := range labels {
		row := make([]float64, dim)
		for _, w := range keywords[label] {
			for _, tok := range feature.Tokenize(w) {
				if idx, ok := index[tok.Term]; ok {
					row[idx] = keywordGain
				}
			}
		}
		m.Weights[i] = row
	}
	return m
}
