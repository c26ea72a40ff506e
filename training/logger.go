package training

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/jdirani/mneflow/models"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// LogRow is one line of the training log.
type LogRow struct {
	Architecture string  `csv:"architecture"`
	SID          string  `csv:"sid"`
	ValAcc       float64 `csv:"val_acc"`
	TestInit     string  `csv:"test_init"`
	TestUpd      string  `csv:"test_upd"`
	NEpochs      int     `csv:"n_epochs"`
	EvalStep     int     `csv:"eval_step"`
	NBatch       int     `csv:"n_batch"`
	NClasses     int     `csv:"n_classes"`
	NCh          int     `csv:"n_ch"`
	NT           int     `csv:"n_t"`
	L1Lambda     float64 `csv:"l1_lambda"`
	NLs          int     `csv:"n_ls"`
	LearnRate    float64 `csv:"learn_rate"`
	Dropout      float64 `csv:"dropout"`
	Patience     int     `csv:"patience"`
	MinDelta     float64 `csv:"min_delta"`
	NonlinIn     string  `csv:"nonlin_in"`
	NonlinHid    string  `csv:"nonlin_hid"`
	NonlinOut    string  `csv:"nonlin_out"`
	FilterLength int     `csv:"filter_length"`
	Pooling      int     `csv:"pooling"`
	TestUpdBatch string  `csv:"test_upd_batch"`
	Stride       int     `csv:"stride"`
}

// NewLogRow describes a finished run. Test results are filled in by the
// caller when they exist.
func NewLogRow(sid string, hp models.Hyperparams, cfg Config, nBatch int, res *Result) LogRow {
	row := LogRow{
		Architecture: hp.Architecture,
		SID:          sid,
		NEpochs:      cfg.NIter,
		EvalStep:     cfg.EvalStep,
		NBatch:       nBatch,
		NClasses:     hp.NumClasses,
		NCh:          hp.NChannels,
		NT:           hp.NTimes,
		L1Lambda:     hp.L1Lambda,
		NLs:          hp.NLatent,
		LearnRate:    hp.LearnRate,
		Dropout:      hp.Dropout,
		Patience:     cfg.EarlyStopping,
		MinDelta:     cfg.MinDelta,
		NonlinIn:     hp.NonlinIn,
		NonlinHid:    hp.NonlinHid,
		NonlinOut:    hp.NonlinOut,
		FilterLength: hp.FilterLength,
		Pooling:      hp.Pooling,
		Stride:       hp.Stride,
	}
	if res != nil {
		row.ValAcc = res.ValAcc
	}
	return row
}

// SetTestInit records the accuracy on held-out data.
func (r *LogRow) SetTestInit(acc float64) {
	r.TestInit = strconv.FormatFloat(acc, 'g', -1, 64)
}

// LogPath is the training log of an architecture under savepath.
func LogPath(savepath, architecture string) string {
	return filepath.Join(savepath, architecture+"-training_log.csv")
}

// AppendLog appends rows to the architecture's training log, writing the
// header only when the file is created.
func AppendLog(fs afero.Fs, savepath string, rows ...LogRow) (string, error) {
	if len(rows) == 0 {
		return "", errors.New("no rows to log")
	}
	path := LogPath(savepath, rows[0].Architecture)
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", path)
	}

	var buf bytes.Buffer
	if exists {
		err = gocsv.MarshalWithoutHeaders(&rows, &buf)
	} else {
		err = gocsv.Marshal(&rows, &buf)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to encode training log")
	}

	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", path)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "failed to write %s", path)
	}
	return path, errors.Wrapf(f.Close(), "failed to close %s", path)
}

// ReadLog loads every row of a training log.
func ReadLog(fs afero.Fs, path string) ([]LogRow, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	var rows []LogRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return rows, nil
}
