package feature

import (
	"fmt"
)

// Vocabulary is the fixed, versioned term list a classifier artifact was
// trained against, with per-term inverse document frequencies. Vector index
// i is term i of the artifact's serialised term list, so model weight rows
// trained against that list stay aligned.
type Vocabulary struct {
	Version string
	Terms   []string
	IDF     []float64
	index   map[string]int
}

// NewVocabulary builds a Vocabulary from parallel term and IDF slices. The
// terms must be unique; their order is preserved, since it defines the
// vector index every weight row is addressed by.
func NewVocabulary(version string, terms []string, idf []float64) (*Vocabulary, error) {
	if version == "" {
		return nil, fmt.Errorf("vocabulary version is required")
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("vocabulary has no terms")
	}
	if len(idf) != len(terms) {
		return nil, fmt.Errorf("vocabulary has %d terms but %d idf weights", len(terms), len(idf))
	}

	v := &Vocabulary{
		Version: version,
		Terms:   make([]string, len(terms)),
		IDF:     make([]float64, len(terms)),
		index:   make(map[string]int, len(terms)),
	}
	for i, term := range terms {
		if _, dup := v.index[term]; dup {
			return nil, fmt.Errorf("duplicate vocabulary term %q", term)
		}
		v.Terms[i] = term
		v.IDF[i] = idf[i]
		v.index[term] = i
	}
	return v, nil
}

// Index returns the vector index for a term, or false for out-of-vocabulary
// terms.
func (v *Vocabulary) Index(term string) (int, bool) {
	i, ok := v.index[term]
	return i, ok
}

// Size returns the vector dimensionality.
func (v *Vocabulary) Size() int {
	return len(v.Terms)
}
