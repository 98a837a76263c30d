package classify

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/feature"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
)

// Classifier scores feature vectors against the loaded artifact. Kind and
// Subject are scored independently; an axis whose confidence falls below
// its threshold resolves to unclassified rather than a forced best guess.
type Classifier struct {
	artifact         *Artifact
	extractor        *feature.Extractor
	kindThreshold    float64
	subjectThreshold float64
	logger           *slog.Logger
}

// New builds a Classifier (and its matching feature extractor) from a
// validated artifact.
func New(artifact *Artifact, cfg config.ClassifierConfig) (*Classifier, error) {
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	vocab, err := feature.NewVocabulary(artifact.Vocabulary.Version, artifact.Vocabulary.Terms, artifact.Vocabulary.IDF)
	if err != nil {
		return nil, fmt.Errorf("building vocabulary from artifact %s: %w", artifact.Version, err)
	}
	artifact.KindModel.sortByLabel()
	artifact.SubjectModel.sortByLabel()
	return &Classifier{
		artifact:         artifact,
		extractor:        feature.NewExtractor(vocab),
		kindThreshold:    cfg.KindThreshold,
		subjectThreshold: cfg.SubjectThreshold,
		logger:           slog.Default().With("component", "classifier", "artifact", artifact.Version),
	}, nil
}

// Extractor returns the feature extractor bound to the artifact vocabulary.
func (c *Classifier) Extractor() *feature.Extractor {
	return c.extractor
}

// ArtifactVersion returns the loaded artifact's version string.
func (c *Classifier) ArtifactVersion() string {
	return c.artifact.Version
}

// Classify scores a feature vector on both axes and returns the combined
// label. It never fails: low confidence is a valid outcome, not an error.
func (c *Classifier) Classify(vec feature.Vector) question.Label {
	kindLabel, kindConf := score(&c.artifact.KindModel, vec)
	subjectLabel, subjectConf := score(&c.artifact.SubjectModel, vec)

	label := question.Label{
		Kind:              question.Kind(kindLabel),
		KindConfidence:    kindConf,
		Subject:           subjectLabel,
		SubjectConfidence: subjectConf,
		ArtifactVersion:   c.artifact.Version,
	}
	if kindConf < c.kindThreshold {
		label.Kind = question.KindUnclassified
	}
	if subjectConf < c.subjectThreshold {
		label.Subject = question.SubjectUnclassified
	}
	return label
}

// ClassifyText is Extract followed by Classify, for single-record callers.
func (c *Classifier) ClassifyText(text string) question.Label {
	return c.Classify(c.extractor.Extract(text))
}

// score runs a linear model over the vector and returns the winning label
// with its softmax confidence. Rows are pre-sorted by label and the best
// candidate is replaced only on a strictly greater score, so equal top
// scores deterministically pick the lexicographically smallest label.
func score(m *LinearModel, vec feature.Vector) (string, float64) {
	scores := make([]float64, len(m.Labels))
	best := 0
	for i := range m.Labels {
		scores[i] = vec.Dot(m.Weights[i]) + m.Bias[i]
		if scores[i] > scores[best] {
			best = i
		}
	}
	return m.Labels[best], softmax(scores, best)
}

// softmax returns the normalised probability of scores[idx], shifted by the
// max score for numeric stability.
func softmax(scores []float64, idx int) float64 {
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - maxScore)
	}
	if sum == 0 {
		return 0
	}
	return math.Exp(scores[idx]-maxScore) / sum
}
