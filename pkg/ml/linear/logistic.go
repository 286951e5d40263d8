package linear

import (
	"context"
	"math"
)

// Options controls the gradient-descent loop. OnEpoch, when set, fires after
// every epoch with the weights fitted so far and training-set metrics; it is
// the only progress channel the trainer exposes.
type Options struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	OnEpoch      func(epoch, total int, w Weights, metrics Metrics)
}

type Weights struct {
	Bias         float64   `json:"bias"`
	Coefficients []float64 `json:"coefficients"`
}

type Metrics struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// TrainLogistic fits a binary logistic model over sparse samples. Each sample
// is a list of feature indices in [0, dim); repeated indices count multiply.
// The context is checked at epoch boundaries so a shutting-down caller is not
// stuck for the whole budget.
func TrainLogistic(ctx context.Context, samples [][]int, labels []float64, dim int, opts Options) (Weights, Metrics, error) {
	if opts.Epochs <= 0 {
		opts.Epochs = 200
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.01
	}
	if opts.BatchSize <= 0 || opts.BatchSize > len(samples) {
		opts.BatchSize = len(samples)
	}

	n := len(samples)
	weights := Weights{Coefficients: make([]float64, dim)}
	if n == 0 {
		return weights, Metrics{}, nil
	}

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return weights, Metrics{}, err
		}

		for start := 0; start < n; start += opts.BatchSize {
			end := start + opts.BatchSize
			if end > n {
				end = n
			}
			step(&weights, samples[start:end], labels[start:end], opts.LearningRate)
		}

		if opts.OnEpoch != nil {
			opts.OnEpoch(epoch+1, opts.Epochs, weights, Evaluate(weights, samples, labels))
		}
	}

	metrics := Evaluate(weights, samples, labels)
	return weights, metrics, nil
}

// step applies one mini-batch gradient update in place. Gradients touch only
// the features present in the batch, so updates stay sparse.
func step(w *Weights, samples [][]int, labels []float64, lr float64) {
	n := float64(len(samples))
	grad := make(map[int]float64, 64)
	var biasGrad float64

	for i, sample := range samples {
		prediction := Predict(*w, sample)
		residual := prediction - labels[i]
		for _, j := range sample {
			grad[j] += residual
		}
		biasGrad += residual
	}

	for j, g := range grad {
		w.Coefficients[j] -= lr * g / n
	}
	w.Bias -= lr * biasGrad / n
}

// Predict returns the positive-class probability for one sparse sample.
func Predict(w Weights, sample []int) float64 {
	sum := w.Bias
	for _, j := range sample {
		if j >= 0 && j < len(w.Coefficients) {
			sum += w.Coefficients[j]
		}
	}
	return sigmoid(sum)
}

// Evaluate computes mean log-loss and accuracy over a labeled sample set.
func Evaluate(w Weights, samples [][]int, labels []float64) Metrics {
	if len(samples) == 0 {
		return Metrics{}
	}
	var loss float64
	var correct int
	for i, sample := range samples {
		prediction := Predict(w, sample)
		loss += -labels[i]*math.Log(prediction+1e-9) - (1-labels[i])*math.Log(1-prediction+1e-9)
		if (prediction >= 0.5 && labels[i] == 1) || (prediction < 0.5 && labels[i] == 0) {
			correct++
		}
	}
	loss /= float64(len(samples))
	accuracy := float64(correct) / float64(len(samples))
	return Metrics{Loss: loss, Accuracy: accuracy}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
