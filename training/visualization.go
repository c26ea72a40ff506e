package training

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// VisualizationCollector gathers the learning curves of a training run.
type VisualizationCollector struct {
	modelName string
	enabled   bool

	steps              []int
	trainingLoss       []float64
	trainingAccuracy   []float64
	validationLoss     []float64
	validationAccuracy []float64
}

// NewVisualizationCollector creates an enabled collector.
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{modelName: modelName, enabled: true}
}

func (vc *VisualizationCollector) Enable() {
	vc.enabled = true
}

func (vc *VisualizationCollector) Disable() {
	vc.enabled = false
}

func (vc *VisualizationCollector) IsEnabled() bool {
	return vc.enabled
}

// Record adds one evaluation point.
func (vc *VisualizationCollector) Record(e Evaluation) {
	if !vc.enabled {
		return
	}
	vc.steps = append(vc.steps, e.Step)
	vc.trainingLoss = append(vc.trainingLoss, e.TrainLoss)
	vc.trainingAccuracy = append(vc.trainingAccuracy, e.TrainAcc)
	vc.validationLoss = append(vc.validationLoss, e.ValLoss)
	vc.validationAccuracy = append(vc.validationAccuracy, e.ValAcc)
}

// Len is the number of recorded evaluations.
func (vc *VisualizationCollector) Len() int {
	return len(vc.steps)
}

// Clear drops all recorded points.
func (vc *VisualizationCollector) Clear() {
	vc.steps = nil
	vc.trainingLoss = nil
	vc.trainingAccuracy = nil
	vc.validationLoss = nil
	vc.validationAccuracy = nil
}

func (vc *VisualizationCollector) series(values []float64) plotter.XYs {
	xys := make(plotter.XYs, len(values))
	for i, v := range values {
		xys[i].X = float64(vc.steps[i])
		xys[i].Y = v
	}
	return xys
}

func (vc *VisualizationCollector) curves(title, yLabel string, train, val []float64) (*plot.Plot, error) {
	p, err := plot.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create plot")
	}
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = yLabel
	p.Add(plotter.NewGrid())
	if err := plotutil.AddLinePoints(p,
		"train", vc.series(train),
		"validation", vc.series(val),
	); err != nil {
		return nil, errors.Wrap(err, "failed to add curves")
	}
	return p, nil
}

// GenerateLossPlot plots training and validation loss against iteration.
func (vc *VisualizationCollector) GenerateLossPlot() (*plot.Plot, error) {
	return vc.curves(vc.modelName+" loss", "loss", vc.trainingLoss, vc.validationLoss)
}

// GenerateAccuracyPlot plots training and validation accuracy against
// iteration.
func (vc *VisualizationCollector) GenerateAccuracyPlot() (*plot.Plot, error) {
	return vc.curves(vc.modelName+" accuracy", "accuracy", vc.trainingAccuracy, vc.validationAccuracy)
}

// SaveTrainingCurves writes the loss and accuracy plots next to each other
// as <base>-loss.<ext> and <base>-accuracy.<ext>. The extension of path
// selects the image format (png, svg, pdf, ...).
func (vc *VisualizationCollector) SaveTrainingCurves(fs afero.Fs, path string) ([]string, error) {
	if vc.Len() == 0 {
		return nil, errors.New("no evaluations recorded")
	}
	ext := filepath.Ext(path)
	format := strings.TrimPrefix(ext, ".")
	if format == "" {
		return nil, errors.Errorf("cannot infer image format from %q", path)
	}
	base := strings.TrimSuffix(path, ext)

	loss, err := vc.GenerateLossPlot()
	if err != nil {
		return nil, err
	}
	acc, err := vc.GenerateAccuracyPlot()
	if err != nil {
		return nil, err
	}

	paths := []string{base + "-loss" + ext, base + "-accuracy" + ext}
	for i, p := range []*plot.Plot{loss, acc} {
		if err := savePlot(fs, p, paths[i], format); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func savePlot(fs afero.Fs, p *plot.Plot, path, format string) error {
	w, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, format)
	if err != nil {
		return errors.Wrapf(err, "failed to render %s", path)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return f.Close()
}
