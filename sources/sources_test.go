package sources

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/jdirani/mneflow/fiff"
	"github.com/jdirani/mneflow/matfile"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// npyBytes encodes a version 1.0 .npy payload.
func npyBytes(descr string, fortran bool, shape []int, payload []byte) []byte {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	order := "False"
	if fortran {
		order = "True"
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': %s, 'shape': (%s), }", descr, order, tuple)
	for (10+len(header)+1)%64 != 0 {
		header += " "
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(payload)
	return buf.Bytes()
}

func float64Payload(values []float64) []byte {
	out := make([]byte, 0, 8*len(values))
	for _, v := range values {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return out
}

func int64Payload(values []int64) []byte {
	out := make([]byte, 0, 8*len(values))
	for _, v := range values {
		out = binary.LittleEndian.AppendUint64(out, uint64(v))
	}
	return out
}

func writeNpz(t *testing.T, fs afero.Fs, path string, entries map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name + ".npy")
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0644))
}

func signal(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestArrayFileNpz(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()
	writeNpz(t, fs, "/data/s1.npz", map[string][]byte{
		"X": npyBytes("<f8", false, []int{2, 3, 4}, float64Payload(signal(24))),
		"y": npyBytes("<i8", false, []int{2}, int64Payload([]int64{5, 7})),
	})

	src, err := FromPath(fs, "/data/s1.npz", DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "/data/s1.npz", src.Name())

	trials, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, trials.X.Shape)
	assert.Equal(t, signal(24), trials.X.Data)
	assert.Equal(t, []int64{5, 7}, trials.Codes)

	codes, err := Codes(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 7}, codes)

	t.Run("fortran order", func(t *testing.T) {
		// X[0] = [[0 1 2]; [3 4 5]] stored column by column
		writeNpz(t, fs, "/data/f.npz", map[string][]byte{
			"X": npyBytes("<f8", true, []int{1, 2, 3}, float64Payload([]float64{0, 3, 1, 4, 2, 5})),
			"y": npyBytes("<f8", false, []int{1}, float64Payload([]float64{2})),
		})
		trials, err := (&ArrayFile{Fs: fs, Path: "/data/f.npz", Keys: DefaultConfig().ArrayKeys}).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, trials.X.Data)
		assert.Equal(t, []int64{2}, trials.Codes)
	})

	t.Run("missing key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ArrayKeys.Y = "events"
		src, err := FromPath(fs, "/data/s1.npz", cfg)
		require.NoError(t, err)
		_, err = src.Load(ctx)
		assert.True(t, errors.Is(err, ErrMissingKey))
	})

	t.Run("non-integral labels", func(t *testing.T) {
		writeNpz(t, fs, "/data/bad.npz", map[string][]byte{
			"X": npyBytes("<f8", false, []int{1, 1, 1}, float64Payload([]float64{1})),
			"y": npyBytes("<f8", false, []int{1}, float64Payload([]float64{0.5})),
		})
		src, err := FromPath(fs, "/data/bad.npz", DefaultConfig())
		require.NoError(t, err)
		_, err = src.Load(ctx)
		assert.True(t, errors.Is(err, ErrBadArray))
	})
}

func TestArrayFileMat(t *testing.T) {
	fs := afero.NewMemMapFs()
	var buf bytes.Buffer
	require.NoError(t, matfile.Write(&buf, []*matfile.Array{
		{Name: "data", Class: matfile.Double, Dims: []int{3, 2, 5}, Data: signal(30)},
		{Name: "labels", Class: matfile.Int32, Dims: []int{3, 1}, Data: []float64{1, 2, 1}},
	}, matfile.WriterOptions{Compress: true}))
	require.NoError(t, afero.WriteFile(fs, "/in/s.mat", buf.Bytes(), 0644))

	cfg := Config{InputType: InputArray, ArrayKeys: ArrayKeys{X: "data", Y: "labels"}}
	src, err := FromPath(fs, "/in/s.mat", cfg)
	require.NoError(t, err)
	trials, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 5}, trials.X.Shape)
	assert.Equal(t, signal(30), trials.X.Data)
	assert.Equal(t, []int64{1, 2, 1}, trials.Codes)
}

func TestEpochsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	ep := &fiff.Epochs{
		Info: fiff.Info{SFreq: 100, Channels: []fiff.Channel{
			{Name: "EEG 001", Kind: fiff.KindEEG, Cal: 1},
			{Name: "EOG 061", Kind: fiff.KindEOG, Cal: 1},
			{Name: "EEG 002", Kind: fiff.KindEEG, Cal: 1},
		}},
		Events:  []fiff.Event{{Sample: 1, Code: 4}, {Sample: 9, Code: 8}},
		NEpochs: 2,
		NTimes:  3,
		Data:    signal(18),
	}
	var buf bytes.Buffer
	require.NoError(t, fiff.WriteEpochs(&buf, ep))
	require.NoError(t, afero.WriteFile(fs, "/in/s-epo.fif", buf.Bytes(), 0644))

	cfg := Config{InputType: InputEpochs, Picks: fiff.Picks{EEG: true}}
	src, err := FromPath(fs, "/in/s-epo.fif", cfg)
	require.NoError(t, err)

	trials, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, trials.X.Shape)
	assert.Equal(t, []float64{0, 1, 2, 6, 7, 8, 9, 10, 11, 15, 16, 17}, trials.X.Data)
	assert.Equal(t, []int64{4, 8}, trials.Codes)

	t.Run("in memory", func(t *testing.T) {
		trials, err := FromEpochs("", ep).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 3}, trials.X.Shape)
		trials.X.Data[0] = 99
		assert.Equal(t, 0.0, ep.Data[0])
	})
}

func TestFromPath(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := FromPath(fs, "/in/s.csv", DefaultConfig())
	assert.True(t, errors.Is(err, ErrUnsupportedExtension))

	_, err = FromPath(fs, "/in/s.fif", Config{InputType: "raw"})
	assert.True(t, errors.Is(err, ErrUnsupportedInputType))

	assert.True(t, errors.Is(Config{InputType: "raw"}.Validate(), ErrUnsupportedInputType))
	assert.NoError(t, DefaultConfig().Validate())

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src, err := FromPath(fs, "/in/none.npz", DefaultConfig())
		require.NoError(t, err)
		_, err = src.Load(ctx)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
