// Package fiff reads and writes the subset of the Neuromag FIF format that
// MNE uses for epochs files (*-epo.fif): measurement info with channel
// descriptions, the event list and a single (epoch, channel, time) data
// matrix.
package fiff

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFIF      = errors.New("not a FIF file")
	ErrMalformed   = errors.New("malformed FIF file")
	ErrNoEpochs    = errors.New("FIF file has no epochs data")
	ErrNoChannels  = errors.New("no channels match the selection")
	ErrUnsupported = errors.New("unsupported FIF data")
)

// Channel is one FIFF_CH_INFO record.
type Channel struct {
	Name     string
	ScanNo   int32
	LogNo    int32
	Kind     int32
	Range    float32
	Cal      float32
	CoilType int32
	Loc      [12]float32
	Unit     int32
	UnitMul  int32
}

// IsGrad reports whether c is a planar gradiometer.
func (c Channel) IsGrad() bool {
	return c.Kind == KindMEG && c.Unit == UnitTeslaPerMeter
}

// IsMag reports whether c is a magnetometer.
func (c Channel) IsMag() bool {
	return c.Kind == KindMEG && c.Unit == UnitTesla
}

// Info is the measurement info block.
type Info struct {
	SFreq    float64
	Channels []Channel
	Bads     []string
}

// NChan is the number of channels.
func (i *Info) NChan() int {
	return len(i.Channels)
}

// ChannelNames lists channel names in order.
func (i *Info) ChannelNames() []string {
	names := make([]string, len(i.Channels))
	for k, ch := range i.Channels {
		names[k] = ch.Name
	}
	return names
}

// Event is one row of the MNE event list.
type Event struct {
	Sample int32
	Prev   int32
	Code   int32
}

// Epochs holds calibrated epochs data in (epoch, channel, time) row-major
// order.
type Epochs struct {
	Info        Info
	Events      []Event
	EventID     map[string]int32
	FirstSample int32
	LastSample  int32
	NEpochs     int
	NTimes      int
	Data        []float64
}

// NChannels is the size of the channel axis.
func (e *Epochs) NChannels() int {
	return e.Info.NChan()
}

// Codes returns the event code (third event column) of every epoch.
func (e *Epochs) Codes() []int64 {
	codes := make([]int64, len(e.Events))
	for i, ev := range e.Events {
		codes[i] = int64(ev.Code)
	}
	return codes
}

// Pick returns a copy of e restricted to the channels at idx, in that order.
func (e *Epochs) Pick(idx []int) (*Epochs, error) {
	nCh := e.NChannels()
	out := *e
	out.Info.Channels = make([]Channel, len(idx))
	for k, ch := range idx {
		if ch < 0 || ch >= nCh {
			return nil, errors.Errorf("channel index %d out of range [0, %d)", ch, nCh)
		}
		out.Info.Channels[k] = e.Info.Channels[ch]
	}

	out.Data = make([]float64, e.NEpochs*len(idx)*e.NTimes)
	for ep := 0; ep < e.NEpochs; ep++ {
		for k, ch := range idx {
			src := (ep*nCh + ch) * e.NTimes
			dst := (ep*len(idx) + k) * e.NTimes
			copy(out.Data[dst:dst+e.NTimes], e.Data[src:src+e.NTimes])
		}
	}
	return &out, nil
}

// parseEventID decodes MNE's "name:code;name:code" description string.
func parseEventID(s string) map[string]int32 {
	out := make(map[string]int32)
	for _, pair := range strings.Split(s, ";") {
		i := strings.LastIndex(pair, ":")
		if i < 0 {
			continue
		}
		code, err := strconv.Atoi(pair[i+1:])
		if err != nil {
			continue
		}
		out[pair[:i]] = int32(code)
	}
	return out
}
