package classify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/zambia-civic-lab/orderpaper-miner/internal/feature"
	"github.com/zambia-civic-lab/orderpaper-miner/internal/question"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
	apperrors "github.com/zambia-civic-lab/orderpaper-miner/pkg/errors"
)

// testArtifact builds a small artifact over terms that stem to themselves,
// so test sentences map 1:1 onto vocabulary indices.
func testArtifact() *Artifact {
	return &Artifact{
		Version:        "test-v1",
		FeatureVersion: feature.Version,
		Vocabulary: ArtifactVocab{
			Version: "test-vocab",
			Terms:   []string{"health", "hospital", "road", "school"},
			IDF:     []float64{1, 1, 1, 1},
		},
		KindModel: LinearModel{
			Labels: []string{"oral", "written"},
			Weights: [][]float64{
				{20, 20, 0, 0},
				{0, 0, 20, 20},
			},
			Bias: []float64{0, 0},
		},
		SubjectModel: LinearModel{
			Labels: []string{"education", "health"},
			Weights: [][]float64{
				{0, 0, 0, 20},
				{20, 20, 0, 0},
			},
			Bias: []float64{0, 0},
		},
	}
}

func testConfig() config.ClassifierConfig {
	return config.ClassifierConfig{KindThreshold: 0.5, SubjectThreshold: 0.5}
}

func TestClassifyConfident(t *testing.T) {
	c, err := New(testArtifact(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	label := c.ClassifyText("the hospital needs health workers")
	if label.Kind != question.KindOral {
		t.Errorf("kind = %q, want oral", label.Kind)
	}
	if label.Subject != "health" {
		t.Errorf("subject = %q, want health", label.Subject)
	}
	if label.KindConfidence < 0.9 || label.SubjectConfidence < 0.9 {
		t.Errorf("confidences = %v/%v, want near certainty", label.KindConfidence, label.SubjectConfidence)
	}
	if label.ArtifactVersion != "test-v1" {
		t.Errorf("artifact version = %q", label.ArtifactVersion)
	}
}

func TestClassifyBelowThresholdResolvesUnclassified(t *testing.T) {
	cfg := testConfig()
	cfg.KindThreshold = 0.99
	cfg.SubjectThreshold = 0.99
	c, err := New(testArtifact(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	// No vocabulary term present: all scores zero, confidence 1/n.
	label := c.ClassifyText("boreholes in the chiefdom")
	if label.Kind != question.KindUnclassified {
		t.Errorf("kind = %q, want unclassified", label.Kind)
	}
	if label.Subject != question.SubjectUnclassified {
		t.Errorf("subject = %q, want unclassified", label.Subject)
	}
	// Confidence is reported even when the label resolves to unclassified.
	if label.KindConfidence <= 0 {
		t.Errorf("kind confidence = %v, want > 0", label.KindConfidence)
	}
}

func TestClassifyTieBreaksLexicographically(t *testing.T) {
	a := testArtifact()
	// Both subject rows respond identically to "road", whatever order the
	// rows were serialised in.
	a.SubjectModel = LinearModel{
		Labels: []string{"transport", "infrastructure"},
		Weights: [][]float64{
			{0, 0, 20, 0},
			{0, 0, 20, 0},
		},
		Bias: []float64{0, 0},
	}
	cfg := testConfig()
	cfg.SubjectThreshold = 0.4
	c, err := New(a, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		label := c.ClassifyText("the road")
		if label.Subject != "infrastructure" {
			t.Fatalf("tie resolved to %q, want lexicographically smallest label", label.Subject)
		}
	}
}

func TestClassifyHonoursArtifactTermOrder(t *testing.T) {
	// Terms are deliberately not in lexicographic order. Weight rows are
	// addressed by serialised term position, so reordering the vocabulary
	// under them would flip every prediction while staying fully confident.
	a := &Artifact{
		Version:        "order-v1",
		FeatureVersion: feature.Version,
		Vocabulary: ArtifactVocab{
			Version: "order-vocab",
			Terms:   []string{"road", "health"},
			IDF:     []float64{1, 1},
		},
		KindModel: LinearModel{
			Labels:  []string{"oral", "written"},
			Weights: [][]float64{{0, 20}, {20, 0}},
			Bias:    []float64{0, 0},
		},
		SubjectModel: LinearModel{
			Labels:  []string{"health", "transport"},
			Weights: [][]float64{{0, 20}, {20, 0}},
			Bias:    []float64{0, 0},
		},
	}
	c, err := New(a, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	label := c.ClassifyText("health services")
	if label.Kind != question.KindOral {
		t.Errorf("kind = %q (conf %.2f), want oral", label.Kind, label.KindConfidence)
	}
	if label.Subject != "health" {
		t.Errorf("subject = %q, want health", label.Subject)
	}
	label = c.ClassifyText("the road")
	if label.Kind != question.KindWritten {
		t.Errorf("kind = %q (conf %.2f), want written", label.Kind, label.KindConfidence)
	}
	if label.Subject != "transport" {
		t.Errorf("subject = %q, want transport", label.Subject)
	}
}

func TestNewRejectsFeatureVersionMismatch(t *testing.T) {
	a := testArtifact()
	a.FeatureVersion = "tfidf-v0"
	_, err := New(a, testConfig())
	if !errors.Is(err, apperrors.ErrArtifactMismatch) {
		t.Errorf("error = %v, want ErrArtifactMismatch", err)
	}
}

func TestArtifactValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Artifact)
	}{
		{"missing version", func(a *Artifact) { a.Version = "" }},
		{"bad kind label", func(a *Artifact) { a.KindModel.Labels[0] = "spoken" }},
		{"unclassified kind label", func(a *Artifact) { a.KindModel.Labels[0] = "unclassified" }},
		{"weight row dimension", func(a *Artifact) { a.SubjectModel.Weights[0] = []float64{1} }},
		{"bias length", func(a *Artifact) { a.KindModel.Bias = []float64{0} }},
		{"idf length", func(a *Artifact) { a.Vocabulary.IDF = a.Vocabulary.IDF[:2] }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := testArtifact()
			tc.mutate(a)
			if err := a.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestKeywordArtifact(t *testing.T) {
	a, err := KeywordArtifact("bootstrap-v1", DefaultKindKeywords, DefaultSubjectKeywords)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("bootstrap artifact invalid: %v", err)
	}
	if got, want := len(a.SubjectModel.Labels), len(DefaultSubjectKeywords); got != want {
		t.Errorf("subject labels = %d, want %d", got, want)
	}
}

// TestKeywordClassifierAccuracy checks per-label precision and recall of
// the bootstrap classifier over a corpus built from each sector's own
// indicator keywords.
func TestKeywordClassifierAccuracy(t *testing.T) {
	a, err := KeywordArtifact("bootstrap-v1", DefaultKindKeywords, DefaultSubjectKeywords)
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(a, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	type sample struct {
		text string
		want string
	}
	var corpus []sample
	for subject, keywords := range DefaultSubjectKeywords {
		corpus = append(corpus,
			sample{fmt.Sprintf("what is being done about %s and %s in the area", keywords[0], keywords[1]), subject},
			sample{fmt.Sprintf("when will the %s situation improve given the state of %s there", keywords[1], keywords[2]), subject},
		)
	}

	truePos := make(map[string]int)
	falsePos := make(map[string]int)
	falseNeg := make(map[string]int)
	for _, s := range corpus {
		got := c.ClassifyText(s.text).Subject
		if got == s.want {
			truePos[s.want]++
		} else {
			falsePos[got]++
			falseNeg[s.want]++
		}
	}
	for subject := range DefaultSubjectKeywords {
		tp := float64(truePos[subject])
		precision := tp / float64(truePos[subject]+falsePos[subject])
		recall := tp / float64(truePos[subject]+falseNeg[subject])
		if precision < 0.8 {
			t.Errorf("subject %q precision = %.2f, want >= 0.80", subject, precision)
		}
		if recall < 0.8 {
			t.Errorf("subject %q recall = %.2f, want >= 0.80", subject, recall)
		}
	}
}
