package fiff

import (
	"strings"

	"github.com/pkg/errors"
)

// MEGSelection narrows the MEG channels a Picks keeps.
type MEGSelection string

const (
	MEGNone MEGSelection = ""
	MEGAll  MEGSelection = "true"
	MEGGrad MEGSelection = "grad"
	MEGMag  MEGSelection = "mag"
)

// UnmarshalYAML accepts a boolean or one of "grad" and "mag".
func (m *MEGSelection) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*m = MEGNone
	case bool:
		if v {
			*m = MEGAll
		} else {
			*m = MEGNone
		}
	case string:
		switch sel := MEGSelection(strings.ToLower(v)); sel {
		case MEGAll, MEGGrad, MEGMag, MEGNone:
			*m = sel
		case "false":
			*m = MEGNone
		default:
			return errors.Errorf("unknown meg selection %q", v)
		}
	default:
		return errors.Errorf("unknown meg selection %v", raw)
	}
	return nil
}

// BadsToken in Exclude stands for the channels marked bad in the file.
const BadsToken = "bads"

// Picks selects channels by type the way mne.pick_types does. The zero
// value keeps every channel.
type Picks struct {
	MEG     MEGSelection `yaml:"meg" json:"meg,omitempty"`
	EEG     bool         `yaml:"eeg" json:"eeg,omitempty"`
	Stim    bool         `yaml:"stim" json:"stim,omitempty"`
	EOG     bool         `yaml:"eog" json:"eog,omitempty"`
	ECG     bool         `yaml:"ecg" json:"ecg,omitempty"`
	EMG     bool         `yaml:"emg" json:"emg,omitempty"`
	Misc    bool         `yaml:"misc" json:"misc,omitempty"`
	RefMEG  bool         `yaml:"ref_meg" json:"ref_meg,omitempty"`
	Include []string     `yaml:"include" json:"include,omitempty"`
	Exclude []string     `yaml:"exclude" json:"exclude,omitempty"`
}

// IsZero reports whether p selects nothing explicitly.
func (p Picks) IsZero() bool {
	return p.MEG == MEGNone && !p.EEG && !p.Stim && !p.EOG && !p.ECG && !p.EMG &&
		!p.Misc && !p.RefMEG && len(p.Include) == 0 && len(p.Exclude) == 0
}

func (p Picks) wants(ch Channel) bool {
	switch ch.Kind {
	case KindMEG:
		switch p.MEG {
		case MEGAll:
			return true
		case MEGGrad:
			return ch.IsGrad()
		case MEGMag:
			return ch.IsMag()
		}
		return false
	case KindEEG:
		return p.EEG
	case KindStim:
		return p.Stim
	case KindEOG:
		return p.EOG
	case KindECG:
		return p.ECG
	case KindEMG:
		return p.EMG
	case KindMisc:
		return p.Misc
	case KindRefMEG:
		return p.RefMEG
	}
	return false
}

// Select returns the ascending indices of the channels in info that p keeps.
// With no type selected every channel is a candidate, so Exclude alone can
// drop channels. Include adds channels by name regardless of type; Exclude
// (with "bads" expanding to info.Bads) wins over both.
func (p Picks) Select(info *Info) ([]int, error) {
	excluded := make(map[string]bool)
	for _, name := range p.Exclude {
		if name == BadsToken {
			for _, bad := range info.Bads {
				excluded[bad] = true
			}
			continue
		}
		excluded[name] = true
	}
	included := make(map[string]bool, len(p.Include))
	for _, name := range p.Include {
		included[name] = true
	}

	byType := p
	byType.Include, byType.Exclude = nil, nil
	allTypes := byType.IsZero()

	var picks []int
	for i, ch := range info.Channels {
		if excluded[ch.Name] {
			continue
		}
		if allTypes && len(p.Include) == 0 || p.wants(ch) || included[ch.Name] {
			picks = append(picks, i)
		}
	}
	if len(picks) == 0 {
		return nil, ErrNoChannels
	}
	return picks, nil
}
