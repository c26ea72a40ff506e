package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// CrossEntropyLoss implements softmax cross entropy for classification
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a new Cross Entropy loss function
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

// Softmax converts each row of logits (batchSize x numClasses, row-major)
// into probabilities.
func Softmax(logits []float64, numClasses int) []float64 {
	probs := make([]float64, len(logits))
	for offset := 0; offset < len(logits); offset += numClasses {
		row := logits[offset : offset+numClasses]
		out := probs[offset : offset+numClasses]

		// Find max for numerical stability
		maxVal := floats.Max(row)
		for j, v := range row {
			out[j] = math.Exp(v - maxVal)
		}
		floats.Scale(1/floats.Sum(out), out)
	}
	return probs
}

// Forward returns the loss of probs against target class indices.
func (ce *CrossEntropyLoss) Forward(probs []float64, target []int64, numClasses int) (float64, error) {
	if len(probs) != len(target)*numClasses {
		return 0, fmt.Errorf("predictions length mismatch: expected %d, got %d", len(target)*numClasses, len(probs))
	}
	var total float64
	for i, class := range target {
		if class < 0 || int(class) >= numClasses {
			return 0, fmt.Errorf("target class %d out of range [0, %d)", class, numClasses)
		}
		prob := probs[i*numClasses+int(class)]

		// Add small epsilon to prevent log(0)
		if prob < 1e-10 {
			prob = 1e-10
		}
		total -= math.Log(prob)
	}
	if ce.reduction == "mean" {
		total /= float64(len(target))
	}
	return total, nil
}

// Backward returns the gradient of the loss with respect to the logits
// that produced probs.
func (ce *CrossEntropyLoss) Backward(probs []float64, target []int64, numClasses int) ([]float64, error) {
	if len(probs) != len(target)*numClasses {
		return nil, fmt.Errorf("predictions length mismatch: expected %d, got %d", len(target)*numClasses, len(probs))
	}
	grad := append([]float64(nil), probs...)

	// Subtract 1 from the true class probabilities
	for i, class := range target {
		if class < 0 || int(class) >= numClasses {
			return nil, fmt.Errorf("target class %d out of range [0, %d)", class, numClasses)
		}
		grad[i*numClasses+int(class)] -= 1
	}
	if ce.reduction == "mean" {
		floats.Scale(1/float64(len(target)), grad)
	}
	return grad, nil
}

// Accuracy is the fraction of rows whose most probable class is the target.
func Accuracy(probs []float64, target []int64, numClasses int) float64 {
	if len(target) == 0 {
		return 0
	}
	correct := 0
	for i, class := range target {
		if int64(floats.MaxIdx(probs[i*numClasses:(i+1)*numClasses])) == class {
			correct++
		}
	}
	return float64(correct) / float64(len(target))
}
