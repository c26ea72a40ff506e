package tfrecord

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Feature names used for trial records.
const (
	FeatureX = "X"
	FeatureY = "y"
)

// ErrBadExample is returned for payloads that are not a valid tf.train.Example.
var ErrBadExample = errors.New("malformed example")

// Kind tags which list a Feature holds.
type Kind int

const (
	BytesKind Kind = iota + 1
	FloatKind
	Int64Kind
)

// Feature is one entry of tf.train.Features.
type Feature struct {
	Kind   Kind
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

func FloatFeature(v ...float32) Feature { return Feature{Kind: FloatKind, Floats: v} }
func Int64Feature(v ...int64) Feature   { return Feature{Kind: Int64Kind, Int64s: v} }
func BytesFeature(v ...[]byte) Feature  { return Feature{Kind: BytesKind, Bytes: v} }

// Example is a tf.train.Example: a map of named feature lists.
type Example struct {
	Features map[string]Feature
}

// NewTrialExample builds the record of one trial: the flattened signal under
// "X" and its class index under "y".
func NewTrialExample(x []float32, y int64) *Example {
	return &Example{Features: map[string]Feature{
		FeatureX: FloatFeature(x...),
		FeatureY: Int64Feature(y),
	}}
}

// Trial extracts the signal and label written by NewTrialExample.
func (e *Example) Trial() ([]float32, int64, error) {
	x, ok := e.Features[FeatureX]
	if !ok || x.Kind != FloatKind {
		return nil, 0, errors.Wrapf(ErrBadExample, "missing float feature %q", FeatureX)
	}
	y, ok := e.Features[FeatureY]
	if !ok || y.Kind != Int64Kind || len(y.Int64s) != 1 {
		return nil, 0, errors.Wrapf(ErrBadExample, "missing scalar int64 feature %q", FeatureY)
	}
	return x.Floats, y.Int64s[0], nil
}

// Field numbers of the tf.train protos.
const (
	exampleFeatures = 1 // Example.features
	featuresEntry   = 1 // Features.feature (map)
	entryKey        = 1
	entryValue      = 2
	featureBytes    = 1 // Feature.bytes_list
	featureFloat    = 2 // Feature.float_list
	featureInt64    = 3 // Feature.int64_list
	listValue       = 1 // *List.value
)

// Marshal encodes e. Keys are written in sorted order so output is
// deterministic.
func (e *Example) Marshal() []byte {
	keys := make([]string, 0, len(e.Features))
	for k := range e.Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var features []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, entryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, entryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, marshalFeature(e.Features[k]))

		features = protowire.AppendTag(features, featuresEntry, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, exampleFeatures, protowire.BytesType)
	out = protowire.AppendBytes(out, features)
	return out
}

func marshalFeature(f Feature) []byte {
	var list []byte
	var field protowire.Number
	switch f.Kind {
	case BytesKind:
		field = featureBytes
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	case FloatKind:
		field = featureFloat
		if len(f.Floats) > 0 {
			packed := make([]byte, 0, 4*len(f.Floats))
			for _, v := range f.Floats {
				packed = protowire.AppendFixed32(packed, math.Float32bits(v))
			}
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	case Int64Kind:
		field = featureInt64
		if len(f.Int64s) > 0 {
			var packed []byte
			for _, v := range f.Int64s {
				packed = protowire.AppendVarint(packed, uint64(v))
			}
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	default:
		return nil
	}
	var out []byte
	out = protowire.AppendTag(out, field, protowire.BytesType)
	out = protowire.AppendBytes(out, list)
	return out
}

// UnmarshalExample decodes a serialized tf.train.Example. Packed and
// unpacked repeated encodings are both accepted; unknown fields are skipped.
func UnmarshalExample(b []byte) (*Example, error) {
	ex := &Example{Features: make(map[string]Feature)}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != exampleFeatures || typ != protowire.BytesType {
			return nil
		}
		return eachField(v, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != featuresEntry || typ != protowire.BytesType {
				return nil
			}
			key, feature, err := unmarshalEntry(entry)
			if err != nil {
				return err
			}
			ex.Features[key] = feature
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func unmarshalEntry(b []byte) (string, Feature, error) {
	var key string
	var feature Feature
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case entryKey:
			key = string(v)
		case entryValue:
			var err error
			feature, err = unmarshalFeature(v)
			return err
		}
		return nil
	})
	return key, feature, err
}

func unmarshalFeature(b []byte) (Feature, error) {
	var f Feature
	err := eachField(b, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case featureBytes:
			f.Kind = BytesKind
			return eachField(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num == listValue && typ == protowire.BytesType {
					f.Bytes = append(f.Bytes, append([]byte(nil), v...))
				}
				return nil
			})
		case featureFloat:
			f.Kind = FloatKind
			return eachRepeated(list, protowire.Fixed32Type, func(raw uint64) {
				f.Floats = append(f.Floats, math.Float32frombits(uint32(raw)))
			})
		case featureInt64:
			f.Kind = Int64Kind
			return eachRepeated(list, protowire.VarintType, func(raw uint64) {
				f.Int64s = append(f.Int64s, int64(raw))
			})
		}
		return nil
	})
	return f, err
}

// eachField walks the top-level fields of a message. For length-delimited
// fields v is the payload; for scalar fields v is the raw encoded value.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrBadExample, protowire.ParseError(n).Error())
		}
		b = b[n:]

		var v []byte
		if typ == protowire.BytesType {
			v, n = protowire.ConsumeBytes(b)
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				v = b[:n]
			}
		}
		if n < 0 {
			return errors.Wrap(ErrBadExample, protowire.ParseError(n).Error())
		}
		b = b[n:]
		if err := fn(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

// eachRepeated decodes the value field of a FloatList or Int64List in either
// packed or unpacked form.
func eachRepeated(list []byte, elem protowire.Type, fn func(raw uint64)) error {
	return eachField(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != listValue {
			return nil
		}
		switch typ {
		case protowire.BytesType:
			for len(v) > 0 {
				raw, n := consumeScalar(v, elem)
				if n < 0 {
					return errors.Wrap(ErrBadExample, protowire.ParseError(n).Error())
				}
				fn(raw)
				v = v[n:]
			}
		case elem:
			raw, n := consumeScalar(v, elem)
			if n < 0 {
				return errors.Wrap(ErrBadExample, protowire.ParseError(n).Error())
			}
			fn(raw)
		default:
			return errors.Wrapf(ErrBadExample, "unexpected wire type %d in list", typ)
		}
		return nil
	})
}

func consumeScalar(b []byte, typ protowire.Type) (uint64, int) {
	if typ == protowire.Fixed32Type {
		v, n := protowire.ConsumeFixed32(b)
		return uint64(v), n
	}
	return protowire.ConsumeVarint(b)
}
