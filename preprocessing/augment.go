package preprocessing

import (
	"github.com/jdirani/mneflow/tensor"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// AugmentOptions configures sliding-window augmentation.
type AugmentOptions struct {
	SegLen int  `yaml:"aug_seg_len" json:"aug_seg_len"`
	Stride int  `yaml:"aug_stride" json:"aug_stride"`
	Demean bool `yaml:"aug_demean" json:"aug_demean"`
	Scale  bool `yaml:"aug_scale" json:"aug_scale"`
}

// SlidingWindows cuts every trial of x (trial, channel, time) into windows
// of SegLen samples starting every Stride samples. The result is ordered
// window-major: all trials at offset 0, then all trials at offset Stride,
// and so on, with codes tiled to match. Demean subtracts the across-channel
// mean at every sample; Scale divides each window by its standard deviation.
func SlidingWindows(x *tensor.Tensor, codes []int64, opts AugmentOptions) (*tensor.Tensor, []int64, error) {
	if x.Dim() != 3 {
		return nil, nil, errors.Errorf("expected (trial, channel, time) data, got shape %v", x.Shape)
	}
	nTrials, nChannels, nTimes := x.Shape[0], x.Shape[1], x.Shape[2]
	if len(codes) != nTrials {
		return nil, nil, errors.Errorf("data has %d trials but %d codes", nTrials, len(codes))
	}
	if opts.SegLen <= 0 || opts.SegLen > nTimes {
		return nil, nil, errors.Errorf("segment length %d must be in [1, %d]", opts.SegLen, nTimes)
	}
	if opts.Stride <= 0 {
		return nil, nil, errors.Errorf("stride must be positive, got %d", opts.Stride)
	}

	positions := nTimes - opts.SegLen + 1
	nWindows := (positions + opts.Stride - 1) / opts.Stride

	out, err := tensor.NewTensor([]int{nWindows * nTrials, nChannels, opts.SegLen}, tensor.Float64, nil)
	if err != nil {
		return nil, nil, err
	}
	tiled := make([]int64, 0, nWindows*nTrials)

	for w := 0; w < nWindows; w++ {
		offset := w * opts.Stride
		for trial := 0; trial < nTrials; trial++ {
			src := x.Row(trial)
			dst := out.Row(w*nTrials + trial)
			for ch := 0; ch < nChannels; ch++ {
				copy(dst[ch*opts.SegLen:(ch+1)*opts.SegLen], src[ch*nTimes+offset:ch*nTimes+offset+opts.SegLen])
			}
			if opts.Demean {
				demeanChannels(dst, nChannels, opts.SegLen)
			}
			if opts.Scale {
				scaleByStd(dst)
			}
		}
		tiled = append(tiled, codes...)
	}
	return out, tiled, nil
}

func demeanChannels(window []float64, nChannels, segLen int) {
	for t := 0; t < segLen; t++ {
		var sum float64
		for ch := 0; ch < nChannels; ch++ {
			sum += window[ch*segLen+t]
		}
		mean := sum / float64(nChannels)
		for ch := 0; ch < nChannels; ch++ {
			window[ch*segLen+t] -= mean
		}
	}
}

func scaleByStd(window []float64) {
	std, _ := stats.StandardDeviationPopulation(window)
	for i := range window {
		window[i] /= std
	}
}
