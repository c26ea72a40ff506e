package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/jdirani/mneflow/tensor"
	"github.com/jdirani/mneflow/tfrecord"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Partition names used in record file names.
const (
	partTrain = "train"
	partVal   = "val"
	partOrig  = "orig"
)

// RecordPath is <savepath>/<out_name>_<part>_<shard>.tfrecord.
func RecordPath(savePath, outName, part string, shard int) string {
	return filepath.Join(savePath, fmt.Sprintf("%s_%s_%d.tfrecord", outName, part, shard))
}

// WriteRecords writes one tf.train.Example per trial of x, in order, with
// the flattened (channel, time) signal as float32 under "X" and y[i] under
// "y". A file left behind by a failed write is removed.
func WriteRecords(fs afero.Fs, path string, x *tensor.Tensor, y []int64, opts tfrecord.Options) error {
	_, err := writeRecords(fs, path, x, y, opts)
	return err
}

// writeRecords is WriteRecords reporting the framed bytes before
// compression.
func writeRecords(fs afero.Fs, path string, x *tensor.Tensor, y []int64, opts tfrecord.Options) (written int64, err error) {
	if x.Len() != len(y) {
		return 0, errors.Errorf("data has %d trials but %d labels", x.Len(), len(y))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return 0, errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	f, err := fs.Create(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "failed to close %s", path)
		}
		if err != nil {
			fs.Remove(path)
		}
	}()

	w, err := tfrecord.NewWriter(f, opts)
	if err != nil {
		return 0, err
	}
	row := make([]float32, x.RowSize())
	for i := 0; i < x.Len(); i++ {
		for j, v := range x.Row(i) {
			row[j] = float32(v)
		}
		if err := w.WriteExample(tfrecord.NewTrialExample(row, y[i])); err != nil {
			return 0, errors.Wrapf(err, "failed to write %s", path)
		}
	}
	if err := w.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed to finish %s", path)
	}
	return w.Written(), nil
}
