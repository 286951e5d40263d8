// Package classify supplies the trainable sentiment models. The rest of the
// platform treats a model as an opaque collaborator: something that can be
// fitted to a labeled corpus and asked for class probabilities. Three
// architectures are offered (TextCNN, BiLSTM, BERT); they share one
// logistic core and differ only in how text is turned into features.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sentilab-ai/platform/pkg/ml/linear"
)

type Architecture string

const (
	TextCNN Architecture = "textcnn"
	BiLSTM  Architecture = "bilstm"
	BERT    Architecture = "bert"
)

type Language string

const (
	Chinese Language = "chinese"
	English Language = "english"
)

var (
	ErrUnknownArchitecture = errors.New("unknown architecture")
	ErrUnknownLanguage     = errors.New("unknown language")
	ErrBadInput            = errors.New("input text is empty")
	ErrNotTrained          = errors.New("model has no fitted weights")
)

func Architectures() []Architecture {
	return []Architecture{TextCNN, BiLSTM, BERT}
}

func Languages() []Language {
	return []Language{Chinese, English}
}

func ParseArchitecture(s string) (Architecture, error) {
	switch Architecture(s) {
	case TextCNN, BiLSTM, BERT:
		return Architecture(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownArchitecture, s)
}

func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case Chinese, English:
		return Language(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
}

// Example is one labeled text. Label is 0 (negative) or 1 (positive).
type Example struct {
	Text  string `json:"text"`
	Label int    `json:"label"`
}

// Corpus is a ready-to-train split of a dataset.
type Corpus struct {
	Train []Example
	Val   []Example
	Test  []Example
}

func (c Corpus) Size() int {
	return len(c.Train) + len(c.Val) + len(c.Test)
}

// Prediction is the answer to one inference call: both class probabilities
// plus the arg-max label.
type Prediction struct {
	Text          string             `json:"text"`
	Sentiment     string             `json:"sentiment"`
	Confidence    float64            `json:"confidence"`
	Class         int                `json:"predicted_class"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// SentimentLabel maps a class index to its display label.
func SentimentLabel(class int) string {
	if class == 1 {
		return "positive"
	}
	return "negative"
}

// Hyperparams carries the tunable knobs of one training run. Zero values are
// replaced by per-architecture defaults in Normalize.
type Hyperparams struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
}

// Normalize fills defaults: 10 epochs, batch 32, lr 1e-3. BERT runs are
// capped at 3 epochs and default to lr 2e-5.
func (h Hyperparams) Normalize(arch Architecture) Hyperparams {
	if h.Epochs <= 0 {
		h.Epochs = 10
	}
	if arch == BERT && h.Epochs > 3 {
		h.Epochs = 3
	}
	if h.BatchSize <= 0 {
		h.BatchSize = 32
	}
	if h.LearningRate <= 0 {
		h.LearningRate = 1e-3
		if arch == BERT {
			h.LearningRate = 2e-5
		}
	}
	return h
}

// EpochProgress is reported after every training epoch.
type EpochProgress struct {
	Epoch         int
	Total         int
	TrainLoss     float64
	TrainAccuracy float64
	ValAccuracy   float64
}

// TrainResult aggregates the metrics of a finished fit plus the persistable
// artifact.
type TrainResult struct {
	TrainMetrics    linear.Metrics
	ValMetrics      linear.Metrics
	TestMetrics     linear.Metrics
	BestValAccuracy float64
	Artifact        *Artifact
}

// Model answers inference requests.
type Model interface {
	Architecture() Architecture
	Language() Language
	Predict(text string) (Prediction, error)
	PredictBatch(texts []string) ([]Prediction, error)
}

// Trainable extends Model with a fit loop.
type Trainable interface {
	Model
	Train(ctx context.Context, corpus Corpus, hp Hyperparams, onEpoch func(EpochProgress)) (*TrainResult, error)
}

// New builds an untrained model of the requested architecture.
func New(arch Architecture, lang Language) (Trainable, error) {
	switch arch {
	case TextCNN:
		return newTextCNN(lang), nil
	case BiLSTM:
		return newBiLSTM(lang), nil
	case BERT:
		return newBERT(lang), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownArchitecture, arch)
}

// FromArtifact reconstructs a ready-to-infer model from a decoded artifact.
func FromArtifact(a *Artifact) (Model, error) {
	m, err := New(a.Architecture, a.Language)
	if err != nil {
		return nil, err
	}
	base := m.(*model)
	if len(a.Weights.Coefficients) != base.dim {
		return nil, fmt.Errorf("artifact weight dimension %d does not match %s feature space %d",
			len(a.Weights.Coefficients), a.Architecture, base.dim)
	}
	base.weights = a.Weights
	base.trained = true
	return base, nil
}
