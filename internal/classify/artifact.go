// Package classify performs inference over the versioned classifier
// artifact: given a feature vector it produces independent (Kind, Subject)
// labels with per-axis confidences. Training and model selection happen
// elsewhere; this package only loads a trained bundle and scores vectors.
package classify

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/feature"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	apperrors "github.com/zambia-civic-lab/orderpaper-miner/pkg/errors"
)

// Artifact is the on-disk classifier bundle: a vocabulary plus one linear
// model per label axis. FeatureVersion must match the running extractor or
// the artifact is rejected at load time.
type Artifact struct {
	Version        string          `json:"version"`
	FeatureVersion string          `json:"feature_version"`
	Vocabulary     ArtifactVocab   `json:"vocabulary"`
	KindModel      LinearModel     `json:"kind_model"`
	SubjectModel   LinearModel     `json:"subject_model"`
}

// ArtifactVocab is the serialised vocabulary section of an artifact.
type ArtifactVocab struct {
	Version string    `json:"version"`
	Terms   []string  `json:"terms"`
	IDF     []float64 `json:"idf"`
}

// LinearModel is a one-vs-all linear scorer: one weight row and bias per
// label. Labels and their rows are sorted lexicographically at load so
// ties resolve to the smallest label identifier.
type LinearModel struct {
	Labels  []string    `json:"labels"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// LoadArtifact reads and validates an artifact file. A declared feature
// version other than the running one is fatal: classifying with mismatched
// features would silently mislabel the corpus.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading classifier artifact %s: %w", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing classifier artifact %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks internal consistency and the feature-version contract.
func (a *Artifact) Validate() error {
	if a.Version == "" {
		return fmt.Errorf("artifact has no version")
	}
	if a.FeatureVersion != feature.Version {
		return apperrors.Newf(apperrors.ErrArtifactMismatch, 500,
			"artifact %s declares feature version %q, running %q",
			a.Version, a.FeatureVersion, feature.Version)
	}
	dim := len(a.Vocabulary.Terms)
	if dim == 0 {
		return fmt.Errorf("artifact %s has an empty vocabulary", a.Version)
	}
	if len(a.Vocabulary.IDF) != dim {
		return fmt.Errorf("artifact %s: %d terms but %d idf weights",
			a.Version, dim, len(a.Vocabulary.IDF))
	}
	if err := a.KindModel.validate("kind_model", dim); err != nil {
		return fmt.Errorf("artifact %s: %w", a.Version, err)
	}
	if err := a.SubjectModel.validate("subject_model", dim); err != nil {
		return fmt.Errorf("artifact %s: %w", a.Version, err)
	}
	for _, label := range a.KindModel.Labels {
		k := question.Kind(label)
		if !question.ValidKind(k) || k == question.KindUnclassified {
			return fmt.Errorf("artifact %s: kind_model has invalid label %q", a.Version, label)
		}
	}
	return nil
}

func (m *LinearModel) validate(name string, dim int) error {
	if len(m.Labels) == 0 {
		return fmt.Errorf("%s has no labels", name)
	}
	if len(m.Weights) != len(m.Labels) || len(m.Bias) != len(m.Labels) {
		return fmt.Errorf("%s has %d labels, %d weight rows, %d biases",
			name, len(m.Labels), len(m.Weights), len(m.Bias))
	}
	seen := make(map[string]struct{}, len(m.Labels))
	for i, label := range m.Labels {
		if label == "" {
			return fmt.Errorf("%s has an empty label", name)
		}
		if _, dup := seen[label]; dup {
			return fmt.Errorf("%s has duplicate label %q", name, label)
		}
		seen[label] = struct{}{}
		if len(m.Weights[i]) != dim {
			return fmt.Errorf("%s label %q has %d weights, vocabulary has %d terms",
				name, label, len(m.Weights[i]), dim)
		}
	}
	return nil
}

// sortByLabel reorders the model rows lexicographically by label.
// Classification scans rows in order and replaces the best candidate only
// on a strictly greater score, so after sorting, equal top scores resolve
// to the smallest label.
func (m *LinearModel) sortByLabel() {
	order := make([]int, len(m.Labels))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return m.Labels[order[i]] < m.Labels[order[j]] })

	labels := make([]string, len(m.Labels))
	weights := make([][]float64, len(m.Weights))
	bias := make([]float64, len(m.Bias))
	for dst, src := range order {
		labels[dst] = m.Labels[src]
		weights[dst] = m.Weights[src]
		bias[dst] = m.Bias[src]
	}
	m.Labels, m.Weights, m.Bias = labels, weights, bias
}
