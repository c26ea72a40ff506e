package tfrecord

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func writeRecords(t *testing.T, opts Options, records ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, opts)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, data []byte, opts Options) ([][]byte, error) {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data), opts)
	require.NoError(t, err)
	defer r.Close()
	var out [][]byte
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func TestMaskedCRC(t *testing.T) {
	// CRC-32C("123456789") = 0xe3069283
	crc := uint32(0xe3069283)
	want := ((crc >> 15) | (crc << 17)) + maskDelta
	assert.Equal(t, want, maskedCRC([]byte("123456789")))
}

func TestFraming(t *testing.T) {
	data := writeRecords(t, Options{}, []byte("abc"))
	require.Len(t, data, 8+4+3+4)
	assert.Equal(t, []byte{3, 0, 0, 0, 0, 0, 0, 0}, data[:8])
	assert.Equal(t, []byte("abc"), data[12:15])
}

func TestRoundTrip(t *testing.T) {
	records := [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{0xff}, 1000)}
	for _, c := range []Compression{None, GZIP, ZLIB} {
		t.Run(c.String(), func(t *testing.T) {
			data := writeRecords(t, Options{Compression: c}, records...)
			got, err := readAll(t, data, Options{Compression: c})
			require.NoError(t, err)
			require.Len(t, got, len(records))
			for i := range records {
				assert.Equal(t, len(records[i]), len(got[i]))
				assert.True(t, bytes.Equal(records[i], got[i]))
			}
		})
	}
}

func TestReaderErrors(t *testing.T) {
	data := writeRecords(t, Options{}, []byte("payload one"), []byte("payload two"))

	t.Run("truncated payload", func(t *testing.T) {
		got, err := readAll(t, data[:len(data)-5], Options{})
		assert.Len(t, got, 1)
		assert.True(t, errors.Is(err, ErrTruncated))
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := readAll(t, data[:6], Options{})
		assert.True(t, errors.Is(err, ErrTruncated))
	})

	t.Run("corrupt payload", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[14] ^= 0x01
		_, err := readAll(t, bad, Options{})
		assert.True(t, errors.Is(err, ErrCorrupt))
	})

	t.Run("corrupt length", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 0x01
		_, err := readAll(t, bad, Options{})
		assert.True(t, errors.Is(err, ErrCorrupt))
	})
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": None, "none": None, "gzip": GZIP, "ZLIB": ZLIB} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("lz4")
	assert.True(t, errors.Is(err, ErrUnknownCompression))
}

func TestExample(t *testing.T) {
	t.Run("trial round trip", func(t *testing.T) {
		x := []float32{0.5, -1.25, 3e-7, 42}
		ex := NewTrialExample(x, 3)
		decoded, err := UnmarshalExample(ex.Marshal())
		require.NoError(t, err)
		gotX, gotY, err := decoded.Trial()
		require.NoError(t, err)
		assert.Equal(t, x, gotX)
		assert.Equal(t, int64(3), gotY)
	})

	t.Run("all feature kinds", func(t *testing.T) {
		ex := &Example{Features: map[string]Feature{
			"b": BytesFeature([]byte("x"), []byte("yz")),
			"f": FloatFeature(1, 2),
			"i": Int64Feature(-1, 1<<40),
		}}
		decoded, err := UnmarshalExample(ex.Marshal())
		require.NoError(t, err)
		assert.Equal(t, ex.Features, decoded.Features)
	})

	t.Run("deterministic encoding", func(t *testing.T) {
		a := NewTrialExample([]float32{1, 2}, 0).Marshal()
		b := NewTrialExample([]float32{1, 2}, 0).Marshal()
		assert.Equal(t, a, b)
	})

	t.Run("unpacked lists", func(t *testing.T) {
		var list []byte
		list = protowire.AppendTag(list, listValue, protowire.Fixed32Type)
		list = protowire.AppendFixed32(list, 0x3f800000)
		list = protowire.AppendTag(list, listValue, protowire.Fixed32Type)
		list = protowire.AppendFixed32(list, 0x40000000)
		var feature []byte
		feature = protowire.AppendTag(feature, featureFloat, protowire.BytesType)
		feature = protowire.AppendBytes(feature, list)

		f, err := unmarshalFeature(feature)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2}, f.Floats)
	})

	t.Run("missing features", func(t *testing.T) {
		ex := &Example{Features: map[string]Feature{FeatureX: FloatFeature(1)}}
		_, _, err := ex.Trial()
		assert.True(t, errors.Is(err, ErrBadExample))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := UnmarshalExample([]byte{0x0a, 0x10, 0x01})
		assert.True(t, errors.Is(err, ErrBadExample))
	})
}
