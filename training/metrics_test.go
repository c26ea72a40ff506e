package training

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfusionMatrix(t *testing.T) {
	cm, err := ComputeConfusionMatrix([]int64{0, 0, 1, 1, 2}, []int64{0, 1, 1, 1, 2}, 3)
	require.NoError(t, err)

	assert.Equal(t, [][]int{{1, 1, 0}, {0, 2, 0}, {0, 0, 1}}, cm.Matrix)
	assert.Equal(t, 5, cm.TotalSamples)
	assert.InDelta(t, 0.8, cm.GetAccuracy(), 1e-12)
	assert.Equal(t, []float64{0.5, 0.5, 0}, cm.Normalized()[0])
	assert.Equal(t, []float64{0, 0, 1}, cm.Normalized()[2])

	// recall per class: 1/2, 1, 1
	assert.InDelta(t, 2.5/3, cm.GetMetric(MacroRecall), 1e-12)
	// precision per class: 1, 2/3, 1
	assert.InDelta(t, (2+2.0/3)/3, cm.GetMetric(MacroPrecision), 1e-12)
	assert.InDelta(t, 0.8, cm.GetMetric(MicroF1), 1e-12)
	assert.Equal(t, 0.0, cm.GetMetric(Precision), "binary metrics need two classes")

	t.Run("binary", func(t *testing.T) {
		cm, err := ComputeConfusionMatrix([]int64{0, 0, 1, 1}, []int64{0, 1, 1, 0}, 2)
		require.NoError(t, err)
		assert.Equal(t, 0.5, cm.GetMetric(Precision))
		assert.Equal(t, 0.5, cm.GetMetric(Recall))
		assert.Equal(t, 0.5, cm.GetMetric(F1Score))
		assert.Equal(t, 0.5, cm.GetMetric(Specificity))
	})

	t.Run("from probabilities", func(t *testing.T) {
		cm := NewConfusionMatrix(2)
		require.NoError(t, cm.UpdateFromPredictions([]float64{0.9, 0.1, 0.3, 0.7}, []int64{0, 0}))
		assert.Equal(t, [][]int{{1, 1}, {0, 0}}, cm.Matrix)
		assert.Equal(t, []float64{0, 0}, cm.Normalized()[1])

		cm.Reset()
		assert.Equal(t, 0, cm.TotalSamples)
		assert.Equal(t, 0.0, cm.GetAccuracy())
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ComputeConfusionMatrix([]int64{0}, []int64{0, 1}, 2)
		assert.Error(t, err)
		_, err = ComputeConfusionMatrix([]int64{3}, []int64{0}, 2)
		assert.Error(t, err)
		assert.Error(t, NewConfusionMatrix(2).UpdateFromPredictions([]float64{1}, []int64{0}))
	})
}

func TestProgressBar(t *testing.T) {
	var out bytes.Buffer
	pb := NewProgressBar(&out, "linear", 10)
	pb.Update(5, map[string]float64{"val_acc": 0.5, "loss": 0.25})

	line := out.String()
	assert.Contains(t, line, "linear:  50%")
	assert.Contains(t, line, "5/10")
	assert.True(t, strings.Index(line, "loss=0.250") < strings.Index(line, "val_acc=50.00%"))

	out.Reset()
	pb.Finish(7)
	assert.Contains(t, out.String(), "7/10")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))

	assert.Equal(t, "01:05", formatDuration(65*time.Second))
}

func TestTrainingCurves(t *testing.T) {
	vc := NewVisualizationCollector("linear")
	fs := afero.NewMemMapFs()

	_, err := vc.SaveTrainingCurves(fs, "/plots/curves.png")
	assert.Error(t, err)

	for i := 0; i < 4; i++ {
		vc.Record(Evaluation{Step: i * 10, TrainLoss: 1 / float64(i+1), ValLoss: 1.2 / float64(i+1), TrainAcc: 0.5, ValAcc: 0.4})
	}
	vc.Disable()
	vc.Record(Evaluation{Step: 99})
	assert.Equal(t, 4, vc.Len())
	vc.Enable()

	paths, err := vc.SaveTrainingCurves(fs, "/plots/curves.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"/plots/curves-loss.png", "/plots/curves-accuracy.png"}, paths)
	for _, p := range paths {
		data, err := afero.ReadFile(fs, p)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), p)
	}

	_, err = vc.SaveTrainingCurves(fs, "/plots/curves")
	assert.Error(t, err)

	vc.Clear()
	assert.Equal(t, 0, vc.Len())
}
