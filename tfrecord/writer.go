package tfrecord

import (
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Writer appends length-delimited, checksummed records to an underlying
// writer. Close must be called to flush compressed output; it does not
// close the underlying writer.
type Writer struct {
	w       io.Writer
	closer  io.Closer
	header  [12]byte
	footer  [4]byte
	records int
	written int64
	closed  bool
}

// NewWriter wraps w according to opts.
func NewWriter(w io.Writer, opts Options) (*Writer, error) {
	tw := &Writer{w: w}
	switch opts.Compression {
	case None:
	case GZIP:
		gz := gzip.NewWriter(w)
		tw.w, tw.closer = gz, gz
	case ZLIB:
		zw := zlib.NewWriter(w)
		tw.w, tw.closer = zw, zw
	default:
		return nil, errors.Wrapf(ErrUnknownCompression, "compression %d", int(opts.Compression))
	}
	return tw, nil
}

// Write frames record as
//
//	uint64 length | uint32 masked crc(length) | data | uint32 masked crc(data)
//
// with every integer little-endian.
func (w *Writer) Write(record []byte) error {
	if w.closed {
		return errors.New("write on closed record writer")
	}
	binary.LittleEndian.PutUint64(w.header[:8], uint64(len(record)))
	binary.LittleEndian.PutUint32(w.header[8:], maskedCRC(w.header[:8]))
	binary.LittleEndian.PutUint32(w.footer[:], maskedCRC(record))

	for _, chunk := range [][]byte{w.header[:], record, w.footer[:]} {
		n, err := w.w.Write(chunk)
		w.written += int64(n)
		if err != nil {
			return errors.Wrapf(err, "failed to write record %d", w.records)
		}
	}
	w.records++
	return nil
}

// WriteExample marshals ex and writes it as one record.
func (w *Writer) WriteExample(ex *Example) error {
	return w.Write(ex.Marshal())
}

// Records is the number of records written so far.
func (w *Writer) Records() int {
	return w.records
}

// Written is the number of uncompressed bytes framed so far.
func (w *Writer) Written() int64 {
	return w.written
}

func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
