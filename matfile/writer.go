package matfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// WriterOptions controls how arrays are stored.
type WriterOptions struct {
	// Compress wraps every variable in a zlib miCOMPRESSED element (v7).
	Compress bool
	// Description fills the text field of the header.
	Description string
}

var storage = map[Class]uint32{
	Double: miDOUBLE, Single: miSINGLE,
	Int8: miINT8, Uint8: miUINT8, Int16: miINT16, Uint16: miUINT16,
	Int32: miINT32, Uint32: miUINT32, Int64: miINT64, Uint64: miUINT64,
}

// Write stores arrays as a little-endian Level 5 MAT-file.
func Write(w io.Writer, arrays []*Array, opts WriterOptions) error {
	desc := opts.Description
	if desc == "" {
		desc = "MATLAB 5.0 MAT-file, Platform: GLNXA64, Created by: mneflow"
	}
	header := bytes.Repeat([]byte(" "), headerSize)
	copy(header[:116], desc)
	for i := 116; i < 124; i++ {
		header[i] = 0
	}
	binary.LittleEndian.PutUint16(header[124:126], 0x0100)
	copy(header[126:], "IM")
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "failed to write MAT header")
	}

	for _, arr := range arrays {
		el, err := encodeMatrix(arr)
		if err != nil {
			return err
		}
		if opts.Compress {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(el); err != nil {
				return errors.Wrapf(err, "failed to compress %q", arr.Name)
			}
			if err := zw.Close(); err != nil {
				return errors.Wrapf(err, "failed to compress %q", arr.Name)
			}
			el = appendTag(nil, miCOMPRESSED, buf.Len())
			el = append(el, buf.Bytes()...)
		}
		if _, err := w.Write(el); err != nil {
			return errors.Wrapf(err, "failed to write %q", arr.Name)
		}
	}
	return nil
}

func encodeMatrix(arr *Array) ([]byte, error) {
	miType, ok := storage[arr.Class]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "cannot write class %s", arr.Class)
	}
	if len(arr.Data) != arr.Len() {
		return nil, errors.Errorf("array %q has %d values for dims %v", arr.Name, len(arr.Data), arr.Dims)
	}
	dims := arr.Dims
	if len(dims) == 1 {
		dims = []int{1, dims[0]}
	}

	flags := make([]byte, 8)
	binary.LittleEndian.PutUint32(flags, uint32(arr.Class))
	dimBytes := make([]byte, 4*len(dims))
	for i, d := range dims {
		binary.LittleEndian.PutUint32(dimBytes[4*i:], uint32(d))
	}

	var body []byte
	body = appendElement(body, miUINT32, flags)
	body = appendElement(body, miINT32, dimBytes)
	body = appendElement(body, miINT8, []byte(arr.Name))
	body = appendElement(body, miType, encodeValues(miType, rowToColumn(arr.Data, dims)))

	return appendElement(nil, miMATRIX, body), nil
}

func appendTag(b []byte, typ uint32, size int) []byte {
	var tag [8]byte
	binary.LittleEndian.PutUint32(tag[:4], typ)
	binary.LittleEndian.PutUint32(tag[4:], uint32(size))
	return append(b, tag[:]...)
}

func appendElement(b []byte, typ uint32, data []byte) []byte {
	b = appendTag(b, typ, len(data))
	b = append(b, data...)
	if pad := len(data) % 8; pad != 0 {
		b = append(b, make([]byte, 8-pad)...)
	}
	return b
}

func encodeValues(typ uint32, values []float64) []byte {
	le := binary.LittleEndian
	var out []byte
	for _, v := range values {
		switch typ {
		case miINT8:
			out = append(out, byte(int8(v)))
		case miUINT8:
			out = append(out, byte(v))
		case miINT16:
			out = le.AppendUint16(out, uint16(int16(v)))
		case miUINT16:
			out = le.AppendUint16(out, uint16(v))
		case miINT32:
			out = le.AppendUint32(out, uint32(int32(v)))
		case miUINT32:
			out = le.AppendUint32(out, uint32(v))
		case miSINGLE:
			out = le.AppendUint32(out, math.Float32bits(float32(v)))
		case miDOUBLE:
			out = le.AppendUint64(out, math.Float64bits(v))
		case miINT64:
			out = le.AppendUint64(out, uint64(int64(v)))
		case miUINT64:
			out = le.AppendUint64(out, uint64(v))
		}
	}
	return out
}
