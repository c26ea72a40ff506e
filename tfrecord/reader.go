package tfrecord

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

var (
	// ErrTruncated means the stream ended inside a record.
	ErrTruncated = errors.New("truncated record")
	// ErrCorrupt means a length or payload checksum did not match.
	ErrCorrupt = errors.New("corrupt record")
)

// Reader reads records framed by Writer.
type Reader struct {
	r       *bufio.Reader
	closer  io.Closer
	header  [12]byte
	footer  [4]byte
	records int
}

// NewReader wraps r according to opts. Compressed streams fail here if the
// compression header is unreadable.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	tr := &Reader{}
	switch opts.Compression {
	case None:
		tr.r = bufio.NewReader(r)
	case GZIP:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open gzip record stream")
		}
		tr.r, tr.closer = bufio.NewReader(gz), gz
	case ZLIB:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open zlib record stream")
		}
		tr.r, tr.closer = bufio.NewReader(zr), zr
	default:
		return nil, errors.Wrapf(ErrUnknownCompression, "compression %d", int(opts.Compression))
	}
	return tr, nil
}

// Read returns the next record, or io.EOF at a clean end of stream.
func (r *Reader) Read() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, r.readErr(err, "header")
	}
	length := binary.LittleEndian.Uint64(r.header[:8])
	if maskedCRC(r.header[:8]) != binary.LittleEndian.Uint32(r.header[8:]) {
		return nil, errors.Wrapf(ErrCorrupt, "record %d: length checksum mismatch", r.records)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, r.readErr(err, "payload")
	}
	if _, err := io.ReadFull(r.r, r.footer[:]); err != nil {
		return nil, r.readErr(err, "payload checksum")
	}
	if maskedCRC(data) != binary.LittleEndian.Uint32(r.footer[:]) {
		return nil, errors.Wrapf(ErrCorrupt, "record %d: payload checksum mismatch", r.records)
	}
	r.records++
	return data, nil
}

// ReadExample reads and decodes the next record.
func (r *Reader) ReadExample() (*Example, error) {
	data, err := r.Read()
	if err != nil {
		return nil, err
	}
	ex, err := UnmarshalExample(data)
	if err != nil {
		return nil, errors.Wrapf(err, "record %d", r.records-1)
	}
	return ex, nil
}

func (r *Reader) readErr(err error, part string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrapf(ErrTruncated, "record %d: incomplete %s", r.records, part)
	}
	return errors.Wrapf(err, "failed to read %s of record %d", part, r.records)
}

func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
