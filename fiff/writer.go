package fiff

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type tagWriter struct {
	w   *bufio.Writer
	err error
}

func (tw *tagWriter) tag(kind int32, typ uint32, data []byte, next int32) {
	if tw.err != nil {
		return
	}
	var header [tagHeaderSize]byte
	be.PutUint32(header[0:], uint32(kind))
	be.PutUint32(header[4:], typ)
	be.PutUint32(header[8:], uint32(len(data)))
	be.PutUint32(header[12:], uint32(next))
	if _, err := tw.w.Write(header[:]); err != nil {
		tw.err = err
		return
	}
	if _, err := tw.w.Write(data); err != nil {
		tw.err = err
	}
}

func (tw *tagWriter) ints(kind int32, values ...int32) {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		be.PutUint32(data[4*i:], uint32(v))
	}
	tw.tag(kind, typeInt, data, nextSeq)
}

func (tw *tagWriter) str(kind int32, s string) {
	tw.tag(kind, typeString, []byte(s), nextSeq)
}

func (tw *tagWriter) startBlock(kind int32) { tw.ints(kindBlockStart, kind) }
func (tw *tagWriter) endBlock(kind int32)   { tw.ints(kindBlockEnd, kind) }

func encodeChannel(ch Channel) []byte {
	b := make([]byte, chInfoSize)
	be.PutUint32(b[0:], uint32(ch.ScanNo))
	be.PutUint32(b[4:], uint32(ch.LogNo))
	be.PutUint32(b[8:], uint32(ch.Kind))
	be.PutUint32(b[12:], math.Float32bits(ch.Range))
	be.PutUint32(b[16:], math.Float32bits(ch.Cal))
	be.PutUint32(b[20:], uint32(ch.CoilType))
	for i, v := range ch.Loc {
		be.PutUint32(b[24+4*i:], math.Float32bits(v))
	}
	be.PutUint32(b[72:], uint32(ch.Unit))
	be.PutUint32(b[76:], uint32(ch.UnitMul))
	copy(b[80:95], ch.Name)
	return b
}

func eventIDString(ids map[string]int32) string {
	names := make([]string, 0, len(ids))
	for name := range ids {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s:%d", name, ids[name])
	}
	return strings.Join(parts, ";")
}

// WriteEpochs writes ep as an MNE epochs file with single-precision data.
// Data are divided by each channel's calibration before storage so that
// ReadEpochs returns the original values.
func WriteEpochs(w io.Writer, ep *Epochs) error {
	nCh := ep.NChannels()
	if len(ep.Data) != ep.NEpochs*nCh*ep.NTimes {
		return errors.Errorf("data has %d values, expected %d x %d x %d", len(ep.Data), ep.NEpochs, nCh, ep.NTimes)
	}
	if len(ep.Events) != ep.NEpochs {
		return errors.Errorf("%d epochs but %d events", ep.NEpochs, len(ep.Events))
	}

	tw := &tagWriter{w: bufio.NewWriter(w)}

	id := make([]byte, idStructSize)
	be.PutUint32(id[0:], 0x00010003)
	be.PutUint32(id[12:], uint32(time.Now().Unix()))
	tw.tag(kindFileID, typeIDStruct, id, nextSeq)
	tw.ints(kindDirPointer, -1)

	tw.startBlock(blockMeas)
	tw.startBlock(blockMeasInfo)
	if len(ep.Info.Bads) > 0 {
		tw.startBlock(blockMNEBadChannels)
		tw.str(kindMNEChNameList, strings.Join(ep.Info.Bads, ":"))
		tw.endBlock(blockMNEBadChannels)
	}
	tw.ints(kindNChan, int32(nCh))
	sfreq := make([]byte, 4)
	be.PutUint32(sfreq, math.Float32bits(float32(ep.Info.SFreq)))
	tw.tag(kindSFreq, typeFloat, sfreq, nextSeq)
	for _, ch := range ep.Info.Channels {
		tw.tag(kindChInfo, typeChInfo, encodeChannel(ch), nextSeq)
	}
	tw.endBlock(blockMeasInfo)

	tw.startBlock(blockMNEEvents)
	events := make([]int32, 0, 3*len(ep.Events))
	for _, ev := range ep.Events {
		events = append(events, ev.Sample, ev.Prev, ev.Code)
	}
	tw.ints(kindMNEEventList, events...)
	if len(ep.EventID) > 0 {
		tw.str(kindDescription, eventIDString(ep.EventID))
	}
	tw.endBlock(blockMNEEvents)

	tw.startBlock(blockMNEEpochs)
	tw.ints(kindFirstSample, ep.FirstSample)
	tw.ints(kindLastSample, ep.LastSample)

	matrix := make([]byte, 0, 4*len(ep.Data)+16)
	for e := 0; e < ep.NEpochs; e++ {
		for c := 0; c < nCh; c++ {
			cal := float64(ep.Info.Channels[c].Cal)
			for _, v := range ep.Data[(e*nCh+c)*ep.NTimes : (e*nCh+c+1)*ep.NTimes] {
				matrix = be.AppendUint32(matrix, math.Float32bits(float32(v/cal)))
			}
		}
	}
	for _, d := range []int{ep.NTimes, nCh, ep.NEpochs, 3} {
		matrix = be.AppendUint32(matrix, uint32(d))
	}
	tw.tag(kindEpoch, typeMatrix|typeFloat, matrix, nextSeq)
	tw.endBlock(blockMNEEpochs)
	tw.endBlock(blockMeas)
	tw.tag(kindNop, typeVoid, nil, nextNone)

	if tw.err != nil {
		return errors.Wrap(tw.err, "failed to write FIF tags")
	}
	return errors.Wrap(tw.w.Flush(), "failed to flush FIF file")
}
