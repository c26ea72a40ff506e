// Package checkpoints saves and restores model weights together with the
// training and optimizer state they were produced with.
package checkpoints

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// ErrNotFound is returned by LoadCheckpoint when no checkpoint exists at
// the requested path.
var ErrNotFound = errors.New("checkpoint not found")

// snappyMagic opens every snappy framed stream.
var snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatSnappy
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatSnappy:
		return "Snappy"
	default:
		return "Unknown"
	}
}

// UnmarshalText accepts "json" or "snappy", in any case.
func (cf *CheckpointFormat) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "json":
		*cf = FormatJSON
	case "snappy":
		*cf = FormatSnappy
	default:
		return errors.Errorf("unknown checkpoint format %q", text)
	}
	return nil
}

func (cf CheckpointFormat) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(cf.String())), nil
}

// Checkpoint represents a complete model state including weights, optimizer state, and training metadata
type Checkpoint struct {
	Model   ModelInfo      `json:"model"`
	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// ModelInfo identifies the model a checkpoint belongs to.
type ModelInfo struct {
	Architecture string            `json:"architecture"`
	Scope        string            `json:"scope"`
	DataID       string            `json:"data_id"`
	InputShape   []int             `json:"input_shape"`
	NumClasses   int               `json:"n_classes"`
	Params       map[string]string `json:"params,omitempty"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState captures the training progress at the time of the save.
type TrainingState struct {
	Step         int     `json:"step"`
	LearningRate float64 `json:"learning_rate"`
	BestLoss     float64 `json:"best_loss"`
	BestAccuracy float64 `json:"best_accuracy"`
	TotalSteps   int     `json:"total_steps"`
	Patience     int     `json:"patience"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float64 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Path returns the location of the single live checkpoint of a model
// scope trained on a data set: <modelPath><scope>-<dataID>.
func Path(modelPath, scope, dataID string) string {
	return modelPath + scope + "-" + dataID
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	fs     afero.Fs
	format CheckpointFormat
}

// NewCheckpointSaver creates a checkpoint saver writing format to fs. A nil
// fs uses the OS filesystem.
func NewCheckpointSaver(fs afero.Fs, format CheckpointFormat) *CheckpointSaver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &CheckpointSaver{
		fs:     fs,
		format: format,
	}
}

// Format reports the format new checkpoints are written in.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint writes checkpoint to path, replacing any previous
// checkpoint there. The file is written beside path and renamed into place
// so a failed save leaves the previous checkpoint intact.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "mneflow"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	var buf bytes.Buffer
	switch cs.format {
	case FormatJSON:
		if err := encodeJSON(&buf, checkpoint); err != nil {
			return err
		}
	case FormatSnappy:
		w := snappy.NewBufferedWriter(&buf)
		if err := encodeJSON(w, checkpoint); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return errors.Wrap(err, "failed to compress checkpoint")
		}
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := cs.fs.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(cs.fs, tmp, buf.Bytes(), 0644); err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	if err := cs.fs.Rename(tmp, path); err != nil {
		cs.fs.Remove(tmp)
		return errors.Wrap(err, "failed to replace checkpoint file")
	}
	return nil
}

func encodeJSON(w io.Writer, checkpoint *Checkpoint) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	return nil
}

// LoadCheckpoint reads the checkpoint at path. The format is detected from
// the file contents, so a saver of either format reads both.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	file, err := cs.fs.Open(path)
	if err != nil {
		if exists, _ := afero.Exists(cs.fs, path); !exists {
			return nil, errors.Wrapf(ErrNotFound, "no checkpoint at %s", path)
		}
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	br := bufio.NewReader(file)
	var r io.Reader = br
	if head, _ := br.Peek(len(snappyMagic)); bytes.Equal(head, snappyMagic) {
		r = snappy.NewReader(br)
	}

	var checkpoint Checkpoint
	if err := json.NewDecoder(r).Decode(&checkpoint); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return &checkpoint, nil
}

// ExtractWeightsFromTensors copies named parameter tensors into checkpoint
// form. Names follow "<layer>.<type>".
func ExtractWeightsFromTensors(names []string, tensors []*tensor.Tensor) ([]WeightTensor, error) {
	if len(names) != len(tensors) {
		return nil, fmt.Errorf("weight count mismatch: %d names, %d tensors", len(names), len(tensors))
	}
	weights := make([]WeightTensor, 0, len(tensors))
	for i, t := range tensors {
		if t == nil {
			return nil, fmt.Errorf("tensor for weight %s is nil", names[i])
		}
		layer, kind := names[i], "weight"
		if dot := strings.LastIndexByte(names[i], '.'); dot >= 0 {
			layer, kind = names[i][:dot], names[i][dot+1:]
		}
		weights = append(weights, WeightTensor{
			Name:  names[i],
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float64(nil), t.Data...),
			Layer: layer,
			Type:  kind,
		})
	}
	return weights, nil
}

// LoadWeightsIntoTensors copies checkpoint weights into tensors, matched
// by position. Names are checked when provided.
func LoadWeightsIntoTensors(weights []WeightTensor, names []string, tensors []*tensor.Tensor) error {
	if len(weights) != len(tensors) {
		return fmt.Errorf("weight count mismatch: %d weights, %d tensors", len(weights), len(tensors))
	}
	for i, t := range tensors {
		weight := weights[i]
		if names != nil && names[i] != weight.Name {
			return fmt.Errorf("weight %d is %s, expected %s", i, weight.Name, names[i])
		}
		if len(t.Shape) != len(weight.Shape) {
			return fmt.Errorf("shape mismatch for weight %s: tensor %v vs weight %v",
				weight.Name, t.Shape, weight.Shape)
		}
		for j, dim := range t.Shape {
			if dim != weight.Shape[j] {
				return fmt.Errorf("dimension mismatch for weight %s at index %d: tensor %d vs weight %d",
					weight.Name, j, dim, weight.Shape[j])
			}
		}
		if len(weight.Data) != len(t.Data) {
			return fmt.Errorf("data size mismatch for weight %s: expected %d elements, got %d",
				weight.Name, len(t.Data), len(weight.Data))
		}
		copy(t.Data, weight.Data)
	}
	return nil
}
