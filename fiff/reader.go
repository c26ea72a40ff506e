package fiff

import (
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/pkg/errors"
)

var be = binary.BigEndian

type tag struct {
	kind int32
	typ  uint32
	data []byte
}

func (t tag) ints() ([]int32, error) {
	if t.typ != typeInt || len(t.data)%4 != 0 {
		return nil, errors.Wrapf(ErrMalformed, "tag %d: expected int data, got type %d", t.kind, t.typ)
	}
	out := make([]int32, len(t.data)/4)
	for i := range out {
		out[i] = int32(be.Uint32(t.data[4*i:]))
	}
	return out, nil
}

func (t tag) scalar() (int32, error) {
	v, err := t.ints()
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, errors.Wrapf(ErrMalformed, "tag %d: empty int", t.kind)
	}
	return v[0], nil
}

func (t tag) number() (float64, error) {
	switch {
	case t.typ == typeFloat && len(t.data) >= 4:
		return float64(math.Float32frombits(be.Uint32(t.data))), nil
	case t.typ == typeDouble && len(t.data) >= 8:
		return math.Float64frombits(be.Uint64(t.data)), nil
	}
	return 0, errors.Wrapf(ErrMalformed, "tag %d: expected float data, got type %d", t.kind, t.typ)
}

func (t tag) str() string {
	return strings.TrimRight(string(t.data), "\x00")
}

func (t tag) channel() (Channel, error) {
	if t.typ != typeChInfo || len(t.data) < chInfoSize {
		return Channel{}, errors.Wrapf(ErrMalformed, "tag %d: expected channel info", t.kind)
	}
	b := t.data
	ch := Channel{
		ScanNo:   int32(be.Uint32(b[0:])),
		LogNo:    int32(be.Uint32(b[4:])),
		Kind:     int32(be.Uint32(b[8:])),
		Range:    math.Float32frombits(be.Uint32(b[12:])),
		Cal:      math.Float32frombits(be.Uint32(b[16:])),
		CoilType: int32(be.Uint32(b[20:])),
		Unit:     int32(be.Uint32(b[72:])),
		UnitMul:  int32(be.Uint32(b[76:])),
		Name:     strings.TrimRight(string(b[80:96]), "\x00"),
	}
	for i := range ch.Loc {
		ch.Loc[i] = math.Float32frombits(be.Uint32(b[24+4*i:]))
	}
	return ch, nil
}

// matrix decodes a dense float or double matrix. Dimensions trail the data
// in reverse order followed by their count.
func (t tag) matrix() ([]float64, []int, error) {
	if t.typ&typeCodingMask != typeMatrix {
		return nil, nil, errors.Wrapf(ErrUnsupported, "tag %d: type 0x%x is not a dense matrix", t.kind, t.typ)
	}
	b := t.data
	if len(b) < 4 {
		return nil, nil, errors.Wrapf(ErrMalformed, "tag %d: short matrix", t.kind)
	}
	ndim := int(int32(be.Uint32(b[len(b)-4:])))
	if ndim <= 0 || len(b) < 4*(ndim+1) {
		return nil, nil, errors.Wrapf(ErrMalformed, "tag %d: bad matrix rank %d", t.kind, ndim)
	}
	dimStart := len(b) - 4*(ndim+1)
	dims := make([]int, ndim)
	n := 1
	for i := 0; i < ndim; i++ {
		dims[ndim-1-i] = int(int32(be.Uint32(b[dimStart+4*i:])))
		n *= dims[ndim-1-i]
	}
	payload := b[:dimStart]

	var width int
	switch t.typ & typeBaseMask {
	case typeFloat:
		width = 4
	case typeDouble:
		width = 8
	default:
		return nil, nil, errors.Wrapf(ErrUnsupported, "tag %d: matrix element type %d", t.kind, t.typ&typeBaseMask)
	}
	if len(payload) != n*width {
		return nil, nil, errors.Wrapf(ErrMalformed, "tag %d: %d bytes for dims %v", t.kind, len(payload), dims)
	}
	out := make([]float64, n)
	for i := range out {
		if width == 4 {
			out[i] = float64(math.Float32frombits(be.Uint32(payload[4*i:])))
		} else {
			out[i] = math.Float64frombits(be.Uint64(payload[8*i:]))
		}
	}
	return out, dims, nil
}

// ReadEpochs reads an MNE epochs file. Data are multiplied by each
// channel's calibration factor.
func ReadEpochs(r io.Reader) (*Epochs, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read FIF file")
	}

	ep := &Epochs{}
	var (
		stack    []int32
		dims     []int
		haveData bool
		first    = true
	)
	top := func() int32 {
		if len(stack) == 0 {
			return 0
		}
		return stack[len(stack)-1]
	}

	pos := 0
	for pos >= 0 && pos+tagHeaderSize <= len(b) {
		t := tag{
			kind: int32(be.Uint32(b[pos:])),
			typ:  be.Uint32(b[pos+4:]),
		}
		size := int(int32(be.Uint32(b[pos+8:])))
		next := int(int32(be.Uint32(b[pos+12:])))
		start := pos + tagHeaderSize
		if size < 0 || start+size > len(b) {
			return nil, errors.Wrapf(ErrMalformed, "tag %d at %d overruns the file", t.kind, pos)
		}
		t.data = b[start : start+size]

		if first {
			if t.kind != kindFileID {
				return nil, errors.Wrap(ErrNotFIF, "missing file id tag")
			}
			first = false
		}

		switch {
		case t.kind == kindBlockStart:
			kind, err := t.scalar()
			if err != nil {
				return nil, err
			}
			stack = append(stack, kind)
		case t.kind == kindBlockEnd:
			if len(stack) == 0 {
				return nil, errors.Wrap(ErrMalformed, "unbalanced block end")
			}
			stack = stack[:len(stack)-1]
		case top() == blockMeasInfo && t.kind == kindSFreq:
			if ep.Info.SFreq, err = t.number(); err != nil {
				return nil, err
			}
		case top() == blockMeasInfo && t.kind == kindChInfo:
			ch, err := t.channel()
			if err != nil {
				return nil, err
			}
			ep.Info.Channels = append(ep.Info.Channels, ch)
		case top() == blockMNEBadChannels && t.kind == kindMNEChNameList:
			if s := t.str(); s != "" {
				ep.Info.Bads = strings.Split(s, ":")
			}
		case top() == blockMNEEvents && t.kind == kindMNEEventList:
			values, err := t.ints()
			if err != nil {
				return nil, err
			}
			if len(values)%3 != 0 {
				return nil, errors.Wrapf(ErrMalformed, "event list of %d values", len(values))
			}
			for i := 0; i < len(values); i += 3 {
				ep.Events = append(ep.Events, Event{Sample: values[i], Prev: values[i+1], Code: values[i+2]})
			}
		case top() == blockMNEEvents && t.kind == kindDescription:
			ep.EventID = parseEventID(t.str())
		case top() == blockMNEEpochs && t.kind == kindFirstSample:
			if ep.FirstSample, err = t.scalar(); err != nil {
				return nil, err
			}
		case top() == blockMNEEpochs && t.kind == kindLastSample:
			if ep.LastSample, err = t.scalar(); err != nil {
				return nil, err
			}
		case top() == blockMNEEpochs && t.kind == kindEpoch:
			if ep.Data, dims, err = t.matrix(); err != nil {
				return nil, err
			}
			haveData = true
		}

		switch {
		case next == nextNone:
			pos = -1
		case next > 0:
			if next <= pos {
				return nil, errors.Wrapf(ErrMalformed, "tag at %d points back to %d", pos, next)
			}
			pos = next
		default:
			pos = start + size
		}
	}
	if first {
		return nil, errors.Wrap(ErrNotFIF, "empty file")
	}
	if !haveData {
		return nil, ErrNoEpochs
	}

	// a single epoch may be stored as a 2-D matrix
	if len(dims) == 2 {
		dims = []int{1, dims[0], dims[1]}
	}
	if len(dims) != 3 {
		return nil, errors.Wrapf(ErrMalformed, "epochs data has rank %d", len(dims))
	}
	if dims[1] != ep.Info.NChan() {
		return nil, errors.Wrapf(ErrMalformed, "epochs data has %d channels, info lists %d", dims[1], ep.Info.NChan())
	}
	if len(ep.Events) != dims[0] {
		return nil, errors.Wrapf(ErrMalformed, "%d epochs but %d events", dims[0], len(ep.Events))
	}
	ep.NEpochs, ep.NTimes = dims[0], dims[2]

	nCh := dims[1]
	for e := 0; e < ep.NEpochs; e++ {
		for c := 0; c < nCh; c++ {
			cal := float64(ep.Info.Channels[c].Cal)
			row := ep.Data[(e*nCh+c)*ep.NTimes : (e*nCh+c+1)*ep.NTimes]
			for i := range row {
				row[i] *= cal
			}
		}
	}
	return ep, nil
}
