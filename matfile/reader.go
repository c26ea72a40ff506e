package matfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

type element struct {
	typ  uint32
	data []byte
}

type decoder struct {
	order binary.ByteOrder
}

// Read decodes every numeric array in a MAT-file. Non-numeric variables
// (cells, structs, chars, sparse) are skipped.
func Read(r io.Reader) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read MAT-file")
	}
	if len(raw) < headerSize {
		return nil, errors.Wrapf(ErrNotMAT, "%d bytes is shorter than the header", len(raw))
	}

	header := raw[:headerSize]
	text := strings.TrimRight(string(header[:116]), " \x00")
	if bytes.HasPrefix(raw, []byte("\x89HDF")) || strings.Contains(text, "MATLAB 7.3") {
		return nil, ErrHDF5
	}

	d := &decoder{}
	switch string(header[126:128]) {
	case "IM":
		d.order = binary.LittleEndian
	case "MI":
		d.order = binary.BigEndian
	default:
		return nil, errors.Wrap(ErrNotMAT, "missing endian indicator")
	}
	if version := d.order.Uint16(header[124:126]); version == 0x0200 {
		return nil, ErrHDF5
	} else if version != 0x0100 {
		return nil, errors.Wrapf(ErrNotMAT, "unknown version 0x%04x", version)
	}

	f := &File{Header: text, arrays: make(map[string]*Array)}
	body := raw[headerSize:]
	for len(body) > 0 {
		el, rest, err := d.next(body, true)
		if err != nil {
			return nil, err
		}
		body = rest

		if el.typ == miCOMPRESSED {
			inflated, err := inflate(el.data)
			if err != nil {
				return nil, err
			}
			if el, _, err = d.next(inflated, false); err != nil {
				return nil, err
			}
		}
		if el.typ != miMATRIX {
			continue
		}
		arr, err := d.matrix(el.data)
		if err != nil {
			return nil, err
		}
		if arr == nil {
			continue
		}
		if _, dup := f.arrays[arr.Name]; !dup {
			f.names = append(f.names, arr.Name)
		}
		f.arrays[arr.Name] = arr
	}
	return f, nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open compressed MAT element")
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to inflate MAT element")
	}
	return out, nil
}

// next splits the first data element off b. Top-level elements are padded
// to 8 bytes except miCOMPRESSED ones.
func (d *decoder) next(b []byte, topLevel bool) (element, []byte, error) {
	if len(b) < 8 {
		return element{}, nil, errors.Wrapf(ErrMalformed, "%d trailing bytes", len(b))
	}
	first := d.order.Uint32(b[:4])

	// small data element: size and type share the first word
	if size := first >> 16; size != 0 {
		if size > 4 {
			return element{}, nil, errors.Wrapf(ErrMalformed, "small element of %d bytes", size)
		}
		return element{typ: first & 0xffff, data: b[4 : 4+size]}, b[8:], nil
	}

	typ := first
	size := int(d.order.Uint32(b[4:8]))
	if size > len(b)-8 {
		return element{}, nil, errors.Wrapf(ErrMalformed, "element of type %d claims %d bytes, %d left", typ, size, len(b)-8)
	}
	el := element{typ: typ, data: b[8 : 8+size]}
	end := 8 + size
	if typ != miCOMPRESSED || !topLevel {
		if pad := end % 8; pad != 0 {
			end += 8 - pad
		}
		if end > len(b) {
			end = len(b)
		}
	}
	return el, b[end:], nil
}

func (d *decoder) matrix(b []byte) (*Array, error) {
	if len(b) == 0 {
		return nil, nil
	}

	flags, b, err := d.next(b, false)
	if err != nil {
		return nil, errors.Wrap(err, "array flags")
	}
	if len(flags.data) < 4 {
		return nil, errors.Wrap(ErrMalformed, "short array flags")
	}
	flagWord := d.order.Uint32(flags.data[:4])
	class := Class(flagWord & 0xff)
	complexData := flagWord&0x0800 != 0

	dimsEl, b, err := d.next(b, false)
	if err != nil {
		return nil, errors.Wrap(err, "dimensions")
	}
	dimValues, err := d.numbers(dimsEl)
	if err != nil {
		return nil, err
	}
	dims := make([]int, len(dimValues))
	for i, v := range dimValues {
		dims[i] = int(v)
	}

	nameEl, b, err := d.next(b, false)
	if err != nil {
		return nil, errors.Wrap(err, "array name")
	}
	arr := &Array{Name: string(nameEl.data), Class: class, Dims: dims}

	if !class.Numeric() {
		return nil, nil
	}
	if complexData {
		return nil, errors.Wrapf(ErrUnsupported, "complex array %q", arr.Name)
	}

	realEl, _, err := d.next(b, false)
	if err != nil {
		return nil, errors.Wrapf(err, "real part of %q", arr.Name)
	}
	values, err := d.numbers(realEl)
	if err != nil {
		return nil, errors.Wrapf(err, "real part of %q", arr.Name)
	}
	if len(values) != arr.Len() {
		return nil, errors.Wrapf(ErrMalformed, "array %q has %d values for dims %v", arr.Name, len(values), dims)
	}
	arr.Data = columnToRow(values, dims)
	return arr, nil
}

// numbers decodes a numeric data element whatever its storage type.
func (d *decoder) numbers(el element) ([]float64, error) {
	b := el.data
	var width int
	switch el.typ {
	case miINT8, miUINT8:
		width = 1
	case miINT16, miUINT16:
		width = 2
	case miINT32, miUINT32, miSINGLE:
		width = 4
	case miDOUBLE, miINT64, miUINT64:
		width = 8
	default:
		return nil, errors.Wrapf(ErrUnsupported, "data type %d", el.typ)
	}
	if len(b)%width != 0 {
		return nil, errors.Wrapf(ErrMalformed, "%d bytes is not a multiple of %d", len(b), width)
	}

	out := make([]float64, len(b)/width)
	for i := range out {
		v := b[i*width : (i+1)*width]
		switch el.typ {
		case miINT8:
			out[i] = float64(int8(v[0]))
		case miUINT8:
			out[i] = float64(v[0])
		case miINT16:
			out[i] = float64(int16(d.order.Uint16(v)))
		case miUINT16:
			out[i] = float64(d.order.Uint16(v))
		case miINT32:
			out[i] = float64(int32(d.order.Uint32(v)))
		case miUINT32:
			out[i] = float64(d.order.Uint32(v))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(d.order.Uint32(v)))
		case miDOUBLE:
			out[i] = math.Float64frombits(d.order.Uint64(v))
		case miINT64:
			out[i] = float64(int64(d.order.Uint64(v)))
		case miUINT64:
			out[i] = float64(d.order.Uint64(v))
		}
	}
	return out, nil
}
