package feature

import "math"

// Version identifies the running feature-extraction scheme. A classifier
// artifact must declare the same version or it is rejected at load time.
const Version = "tfidf-v1"

// Entry is one non-zero component of a sparse vector.
type Entry struct {
	Index  int
	Weight float64
}

// Vector is a sparse weighted term vector. Entries are sorted by Index, so
// two vectors over the same vocabulary compare deterministically.
type Vector struct {
	Entries []Entry
	Norm    float64
}

// Dot computes the sparse dot product with a dense weight slice. Entries
// beyond len(weights) contribute nothing, which only happens when an
// artifact is malformed.
func (v Vector) Dot(weights []float64) float64 {
	var sum float64
	for _, e := range v.Entries {
		if e.Index < len(weights) {
			sum += e.Weight * weights[e.Index]
		}
	}
	return sum
}

// Extractor maps normalized text to TF-IDF vectors over one vocabulary.
type Extractor struct {
	vocab *Vocabulary
}

// NewExtractor creates an Extractor for the given vocabulary.
func NewExtractor(vocab *Vocabulary) *Extractor {
	return &Extractor{vocab: vocab}
}

// Vocabulary returns the vocabulary this extractor operates over.
func (e *Extractor) Vocabulary() *Vocabulary {
	return e.vocab
}

// Extract computes the TF-IDF vector for normalized text. Term frequency is
// normalised by token count, weighted by the vocabulary's IDF, and the
// vector is L2-normalised. Out-of-vocabulary terms are dropped.
func (e *Extractor) Extract(text string) Vector {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return Vector{}
	}

	counts := make(map[int]int)
	for _, tok := range tokens {
		if idx, ok := e.vocab.Index(tok.Term); ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return Vector{}
	}

	entries := make([]Entry, 0, len(counts))
	total := float64(len(tokens))
	for idx, count := range counts {
		tf := float64(count) / total
		entries = append(entries, Entry{Index: idx, Weight: tf * e.vocab.IDF[idx]})
	}
	sortEntries(entries)

	var sumSq float64
	for _, en := range entries {
		sumSq += en.Weight * en.Weight
	}
	norm := math.Sqrt(sumSq)
	if norm > 0 {
		for i := range entries {
			entries[i].Weight /= norm
		}
	}
	return Vector{Entries: entries, Norm: norm}
}

// sortEntries orders entries by index ascending. Entry counts are small, so
// insertion sort is sufficient and allocation-free.
func sortEntries(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Index < entries[j-1].Index; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
