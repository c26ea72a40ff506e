package matfile

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() []byte {
	header := bytes.Repeat([]byte(" "), headerSize)
	copy(header, "MATLAB 5.0 MAT-file, test")
	binary.LittleEndian.PutUint16(header[124:], 0x0100)
	copy(header[126:], "IM")
	return header
}

func TestReadColumnMajor(t *testing.T) {
	// [[1 2 3]; [4 5 6]] stored column by column
	values := []float64{1, 4, 2, 5, 3, 6}
	data := make([]byte, 0, 48)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
	}
	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags, uint32(Double))
	dims := make([]byte, 8)
	binary.LittleEndian.PutUint32(dims, 2)
	binary.LittleEndian.PutUint32(dims[4:], 3)

	var body []byte
	body = appendElement(body, miUINT32, flags)
	body = appendElement(body, miINT32, dims)
	// small element name "X"
	body = binary.LittleEndian.AppendUint32(body, 1<<16|miINT8)
	body = append(body, 'X', 0, 0, 0)
	body = appendElement(body, miDOUBLE, data)

	raw := append(testHeader(), appendElement(nil, miMATRIX, body)...)
	f, err := Read(bytes.NewReader(raw))
	require.NoError(t, err)

	arr, ok := f.Get("X")
	require.True(t, ok)
	assert.Equal(t, Double, arr.Class)
	assert.Equal(t, []int{2, 3}, arr.Dims)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, arr.Data)
}

func TestRoundTrip(t *testing.T) {
	signal := &Array{Name: "X", Class: Double, Dims: []int{2, 3, 4}, Data: make([]float64, 24)}
	for i := range signal.Data {
		signal.Data[i] = float64(i) * 0.5
	}
	labels := &Array{Name: "y", Class: Int32, Dims: []int{5}, Data: []float64{1, -2, 3, 3, 1}}
	small := &Array{Name: "counts", Class: Uint8, Dims: []int{2, 2}, Data: []float64{0, 255, 7, 8}}

	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "compressed"
		}
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, []*Array{signal, labels, small}, WriterOptions{Compress: compress}))

			f, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, []string{"X", "y", "counts"}, f.Names())

			x, ok := f.Get("X")
			require.True(t, ok)
			assert.Equal(t, signal.Dims, x.Dims)
			assert.Equal(t, signal.Data, x.Data)

			y, ok := f.Get("y")
			require.True(t, ok)
			assert.Equal(t, Int32, y.Class)
			assert.Equal(t, []int{1, 5}, y.Dims)
			assert.Equal(t, labels.Data, y.Data)

			c, ok := f.Get("counts")
			require.True(t, ok)
			assert.Equal(t, small.Data, c.Data)
		})
	}
}

func TestReadErrors(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		_, err := Read(bytes.NewReader([]byte("MATLAB")))
		assert.True(t, errors.Is(err, ErrNotMAT))
	})

	t.Run("hdf5", func(t *testing.T) {
		header := testHeader()
		copy(header, "MATLAB 7.3 MAT-file, Platform: GLNXA64, HDF5 schema 1.00 .")
		binary.LittleEndian.PutUint16(header[124:], 0x0200)
		_, err := Read(bytes.NewReader(header))
		assert.True(t, errors.Is(err, ErrHDF5))
	})

	t.Run("element overruns file", func(t *testing.T) {
		raw := append(testHeader(), appendTag(nil, miMATRIX, 64)...)
		_, err := Read(bytes.NewReader(raw))
		assert.True(t, errors.Is(err, ErrMalformed))
	})

	t.Run("unwritable class", func(t *testing.T) {
		var buf bytes.Buffer
		err := Write(&buf, []*Array{{Name: "c", Class: Char, Dims: []int{1}, Data: []float64{1}}}, WriterOptions{})
		assert.True(t, errors.Is(err, ErrUnsupported))
	})
}

func TestColumnRowConversion(t *testing.T) {
	dims := []int{2, 3, 2}
	row := make([]float64, 12)
	for i := range row {
		row[i] = float64(i)
	}
	col := rowToColumn(row, dims)
	// element (1, 0, 0) is row offset 6 and column offset 1
	assert.Equal(t, 6.0, col[1])
	assert.Equal(t, row, columnToRow(col, dims))
}
