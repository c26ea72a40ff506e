package tfrecord

import (
	"strings"

	"github.com/pkg/errors"
)

// Compression selects how a whole record file is compressed.
type Compression int

const (
	None Compression = iota
	GZIP
	ZLIB
)

// ErrUnknownCompression is returned when parsing an unrecognized compression name.
var ErrUnknownCompression = errors.New("unknown compression type")

func (c Compression) String() string {
	switch c {
	case None:
		return ""
	case GZIP:
		return "GZIP"
	case ZLIB:
		return "ZLIB"
	default:
		return "unknown"
	}
}

// ParseCompression accepts the names TensorFlow uses: "", "NONE", "GZIP" and
// "ZLIB", case-insensitively.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return None, nil
	case "GZIP":
		return GZIP, nil
	case "ZLIB":
		return ZLIB, nil
	default:
		return None, errors.Wrapf(ErrUnknownCompression, "%q", s)
	}
}

func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Compression) UnmarshalText(text []byte) error {
	parsed, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// UnmarshalYAML lets Compression appear as a plain string in config files.
func (c *Compression) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return c.UnmarshalText([]byte(s))
}

func (c Compression) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// Options mirrors TFRecordOptions.
type Options struct {
	Compression Compression `yaml:"compression" json:"compression"`
}
