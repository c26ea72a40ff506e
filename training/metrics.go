package training

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	// Binary Classification Metrics, class 1 is positive
	Precision MetricType = iota
	Recall
	F1Score
	Specificity

	// Multi-class Metrics
	MacroPrecision
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
)

func (mt MetricType) String() string {
	switch mt {
	case Precision:
		return "Precision"
	case Recall:
		return "Recall"
	case F1Score:
		return "F1Score"
	case Specificity:
		return "Specificity"
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix counts predictions per true class.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// ComputeConfusionMatrix counts yPred against yTrue.
func ComputeConfusionMatrix(yTrue, yPred []int64, numClasses int) (*ConfusionMatrix, error) {
	cm := NewConfusionMatrix(numClasses)
	if err := cm.Update(yTrue, yPred); err != nil {
		return nil, err
	}
	return cm, nil
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update adds predicted class indices.
func (cm *ConfusionMatrix) Update(yTrue, yPred []int64) error {
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("labels length mismatch: %d true, %d predicted", len(yTrue), len(yPred))
	}
	for i, t := range yTrue {
		p := yPred[i]
		if t < 0 || int(t) >= cm.NumClasses || p < 0 || int(p) >= cm.NumClasses {
			return fmt.Errorf("sample %d: classes (%d, %d) out of range [0, %d)", i, t, p, cm.NumClasses)
		}
		cm.Matrix[t][p]++
		cm.TotalSamples++
	}
	return nil
}

// UpdateFromPredictions adds a batch of class probabilities
// (batchSize x numClasses, row-major), taking the argmax of each row.
func (cm *ConfusionMatrix) UpdateFromPredictions(predictions []float64, trueLabels []int64) error {
	if len(predictions) != len(trueLabels)*cm.NumClasses {
		return fmt.Errorf("predictions length mismatch: expected %d, got %d",
			len(trueLabels)*cm.NumClasses, len(predictions))
	}
	return cm.Update(trueLabels, Argmax(predictions, cm.NumClasses))
}

// Argmax returns the most probable class of every row.
func Argmax(predictions []float64, numClasses int) []int64 {
	out := make([]int64, len(predictions)/numClasses)
	for i := range out {
		out[i] = int64(floats.MaxIdx(predictions[i*numClasses : (i+1)*numClasses]))
	}
	return out
}

// Normalized returns each row divided by its total. Rows of absent classes
// stay zero.
func (cm *ConfusionMatrix) Normalized() [][]float64 {
	out := make([][]float64, cm.NumClasses)
	for i, row := range cm.Matrix {
		out[i] = make([]float64, cm.NumClasses)
		total := 0
		for _, v := range row {
			total += v
		}
		if total == 0 {
			continue
		}
		for j, v := range row {
			out[i][j] = float64(v) / float64(total)
		}
	}
	return out
}

// GetMetric calculates an evaluation metric
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case Precision:
		return cm.binary(func(tp, fp, _, _ float64) (float64, float64) { return tp, tp + fp })
	case Recall:
		return cm.binary(func(tp, _, _, fn float64) (float64, float64) { return tp, tp + fn })
	case F1Score:
		return f1(cm.GetMetric(Precision), cm.GetMetric(Recall))
	case Specificity:
		return cm.binary(func(_, fp, tn, _ float64) (float64, float64) { return tn, tn + fp })
	case MacroPrecision:
		return cm.macro(func(class int) float64 { return float64(cm.columnSum(class)) })
	case MacroRecall:
		return cm.macro(func(class int) float64 { return float64(cm.rowSum(class)) })
	case MacroF1:
		return f1(cm.GetMetric(MacroPrecision), cm.GetMetric(MacroRecall))
	case MicroPrecision, MicroRecall, MicroF1:
		// every misclassification is one false positive and one false
		// negative, so all micro averages equal the accuracy
		return cm.GetAccuracy()
	default:
		return 0.0
	}
}

// binary evaluates ratio(tp, fp, tn, fn) for a two-class matrix.
func (cm *ConfusionMatrix) binary(ratio func(tp, fp, tn, fn float64) (float64, float64)) float64 {
	if cm.NumClasses != 2 {
		return 0.0
	}
	tn := float64(cm.Matrix[0][0])
	fp := float64(cm.Matrix[0][1])
	fn := float64(cm.Matrix[1][0])
	tp := float64(cm.Matrix[1][1])
	num, den := ratio(tp, fp, tn, fn)
	if den == 0 {
		return 0.0
	}
	return num / den
}

// macro averages tp/denominator(class) over classes with a non-zero
// denominator.
func (cm *ConfusionMatrix) macro(denominator func(class int) float64) float64 {
	if cm.NumClasses < 2 {
		return 0.0
	}
	sum := 0.0
	validClasses := 0
	for class := 0; class < cm.NumClasses; class++ {
		if d := denominator(class); d > 0 {
			sum += float64(cm.Matrix[class][class]) / d
			validClasses++
		}
	}
	if validClasses == 0 {
		return 0.0
	}
	return sum / float64(validClasses)
}

func (cm *ConfusionMatrix) rowSum(class int) int {
	total := 0
	for _, v := range cm.Matrix[class] {
		total += v
	}
	return total
}

func (cm *ConfusionMatrix) columnSum(class int) int {
	total := 0
	for _, row := range cm.Matrix {
		total += row[class]
	}
	return total
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0.0
	}
	return 2 * (precision * recall) / (precision + recall)
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}
