package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/sentilab-ai/platform/pkg/ml/linear"
)

// model is the shared implementation behind every architecture. Variants
// plug in their featurizer; fitting and inference are common.
type model struct {
	arch    Architecture
	lang    Language
	feat    featurizer
	dim     int
	weights linear.Weights
	trained bool
}

func (m *model) Architecture() Architecture { return m.arch }
func (m *model) Language() Language         { return m.lang }

func (m *model) Train(ctx context.Context, corpus Corpus, hp Hyperparams, onEpoch func(EpochProgress)) (*TrainResult, error) {
	if len(corpus.Train) == 0 {
		return nil, fmt.Errorf("training corpus is empty")
	}
	hp = hp.Normalize(m.arch)

	trainX, trainY := m.encode(corpus.Train)
	valX, valY := m.encode(corpus.Val)
	testX, testY := m.encode(corpus.Test)

	bestVal := 0.0
	weights, trainMetrics, err := linear.TrainLogistic(ctx, trainX, trainY, m.dim, linear.Options{
		Epochs:       hp.Epochs,
		BatchSize:    hp.BatchSize,
		LearningRate: hp.LearningRate,
		OnEpoch: func(epoch, total int, w linear.Weights, metrics linear.Metrics) {
			val := linear.Evaluate(w, valX, valY)
			if val.Accuracy > bestVal {
				bestVal = val.Accuracy
			}
			if onEpoch != nil {
				onEpoch(EpochProgress{
					Epoch:         epoch,
					Total:         total,
					TrainLoss:     metrics.Loss,
					TrainAccuracy: metrics.Accuracy,
					ValAccuracy:   val.Accuracy,
				})
			}
		},
	})
	if err != nil {
		return nil, err
	}
	m.weights = weights
	m.trained = true

	result := &TrainResult{
		TrainMetrics:    trainMetrics,
		ValMetrics:      linear.Evaluate(weights, valX, valY),
		TestMetrics:     linear.Evaluate(weights, testX, testY),
		BestValAccuracy: bestVal,
	}
	if result.ValMetrics.Accuracy > result.BestValAccuracy {
		result.BestValAccuracy = result.ValMetrics.Accuracy
	}
	result.Artifact = &Artifact{
		Architecture: m.arch,
		Language:     m.lang,
		FeatureDim:   m.dim,
		Weights:      weights,
		Metrics: map[string]float64{
			"train_loss":        result.TrainMetrics.Loss,
			"train_accuracy":    result.TrainMetrics.Accuracy,
			"val_accuracy":      result.ValMetrics.Accuracy,
			"best_val_accuracy": result.BestValAccuracy,
			"test_accuracy":     result.TestMetrics.Accuracy,
		},
		CreatedAt: time.Now().UTC(),
	}
	return result, nil
}

func (m *model) encode(examples []Example) ([][]int, []float64) {
	samples := make([][]int, len(examples))
	labels := make([]float64, len(examples))
	for i, ex := range examples {
		samples[i] = m.feat.features(tokenize(m.lang, ex.Text))
		labels[i] = float64(ex.Label)
	}
	return samples, labels
}

func (m *model) Predict(text string) (Prediction, error) {
	if !m.trained {
		return Prediction{}, ErrNotTrained
	}
	tokens := tokenize(m.lang, text)
	if len(tokens) == 0 {
		return Prediction{}, ErrBadInput
	}

	positive := linear.Predict(m.weights, m.feat.features(tokens))
	class := 0
	confidence := 1 - positive
	if positive >= 0.5 {
		class = 1
		confidence = positive
	}

	return Prediction{
		Text:       text,
		Sentiment:  SentimentLabel(class),
		Confidence: round4(confidence),
		Class:      class,
		Probabilities: map[string]float64{
			SentimentLabel(0): round4(1 - positive),
			SentimentLabel(1): round4(positive),
		},
	}, nil
}

func (m *model) PredictBatch(texts []string) ([]Prediction, error) {
	results := make([]Prediction, 0, len(texts))
	for _, text := range texts {
		p, err := m.Predict(text)
		if err != nil {
			return nil, fmt.Errorf("predicting %q: %w", text, err)
		}
		results = append(results, p)
	}
	return results, nil
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}
