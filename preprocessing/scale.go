package preprocessing

import (
	"fmt"

	"github.com/jdirani/mneflow/tensor"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// VectorviewChannels is the channel count of an Elekta/MEGIN Vectorview
// recording: 102 magnetometers interleaved with 204 planar gradiometers.
const VectorviewChannels = 306

// Baseline selects the time window used for scaling statistics. The zero
// value spans the whole trial.
type Baseline struct {
	Start, End int
	bounded    bool
}

// BaselineUntil selects samples [0, n).
func BaselineUntil(n int) Baseline {
	return Baseline{Start: 0, End: n, bounded: true}
}

// BaselineRange selects samples [start, end).
func BaselineRange(start, end int) Baseline {
	return Baseline{Start: start, End: end, bounded: true}
}

// IsFull reports whether the baseline spans the whole trial.
func (b Baseline) IsFull() bool {
	return !b.bounded
}

// Window resolves the baseline against a trial of nTimes samples.
func (b Baseline) Window(nTimes int) (int, int, error) {
	if !b.bounded {
		return 0, nTimes, nil
	}
	if b.Start < 0 || b.End > nTimes || b.Start >= b.End {
		return 0, 0, errors.Errorf("baseline [%d, %d) is not a non-empty window of [0, %d)", b.Start, b.End, nTimes)
	}
	return b.Start, b.End, nil
}

func (b Baseline) String() string {
	if !b.bounded {
		return "full"
	}
	return fmt.Sprintf("[%d, %d)", b.Start, b.End)
}

// UnmarshalYAML accepts null (full range), an integer n ([0, n)) or a
// two-element list [a, b].
func (b *Baseline) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*b = Baseline{}
	case int:
		*b = BaselineUntil(v)
	case []interface{}:
		if len(v) != 2 {
			return errors.Errorf("baseline list must have two elements, got %d", len(v))
		}
		start, ok1 := v[0].(int)
		end, ok2 := v[1].(int)
		if !ok1 || !ok2 {
			return errors.Errorf("baseline bounds must be integers, got %v", v)
		}
		*b = BaselineRange(start, end)
	default:
		return errors.Errorf("unsupported baseline value %v", raw)
	}
	return nil
}

// MarshalYAML is the inverse of UnmarshalYAML.
func (b Baseline) MarshalYAML() (interface{}, error) {
	if !b.bounded {
		return nil, nil
	}
	if b.Start == 0 {
		return b.End, nil
	}
	return []int{b.Start, b.End}, nil
}

// ChannelGroups partitions nChannels channels into scaling groups. A
// Vectorview layout yields magnetometers (every third channel starting at
// 2) and gradiometers (the rest); any other layout is a single group.
func ChannelGroups(nChannels int) [][]int {
	if nChannels != VectorviewChannels {
		all := make([]int, nChannels)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}
	}

	var mags, grads []int
	for ch := 0; ch < nChannels; ch++ {
		if ch%3 == 2 {
			mags = append(mags, ch)
		} else {
			grads = append(grads, ch)
		}
	}
	return [][]int{mags, grads}
}

// ScaleToBaseline standardizes every trial of x (trial, channel, time)
// against its baseline window. For each trial and each channel group the
// mean and population standard deviation of the baseline samples of that
// group are computed and applied to all samples of the group's channels.
// A zero standard deviation yields non-finite values. x is not modified.
func ScaleToBaseline(x *tensor.Tensor, b Baseline) (*tensor.Tensor, error) {
	if x.Dim() != 3 {
		return nil, errors.Errorf("expected (trial, channel, time) data, got shape %v", x.Shape)
	}
	nTrials, nChannels, nTimes := x.Shape[0], x.Shape[1], x.Shape[2]
	start, end, err := b.Window(nTimes)
	if err != nil {
		return nil, err
	}

	out := x.Clone()
	out.DType = tensor.Float64
	groups := ChannelGroups(nChannels)
	window := make(stats.Float64Data, 0, (end-start)*nChannels)

	for trial := 0; trial < nTrials; trial++ {
		row := out.Row(trial)
		for _, group := range groups {
			window = window[:0]
			for _, ch := range group {
				window = append(window, row[ch*nTimes+start:ch*nTimes+end]...)
			}
			mean, err := stats.Mean(window)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to compute baseline mean of trial %d", trial)
			}
			std, err := stats.StandardDeviationPopulation(window)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to compute baseline deviation of trial %d", trial)
			}
			for _, ch := range group {
				samples := row[ch*nTimes : (ch+1)*nTimes]
				for i, v := range samples {
					samples[i] = (v - mean) / std
				}
			}
		}
	}
	return out, nil
}
