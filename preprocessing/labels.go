package preprocessing

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyLabels is returned when labels are requested for an empty code list.
	ErrEmptyLabels = errors.New("no event codes to derive labels from")
	// ErrUnknownCode is returned when a code is outside a fixed label mapping.
	ErrUnknownCode = errors.New("event code is not part of the label mapping")
)

// LabelMapping maps raw event codes to dense, zero-based class indices.
// Indices follow the ascending order of the distinct raw codes.
type LabelMapping struct {
	codes []int64
	index map[int64]int
}

// NewLabelMapping builds a mapping from the distinct values of codes.
func NewLabelMapping(codes []int64) (*LabelMapping, error) {
	if len(codes) == 0 {
		return nil, ErrEmptyLabels
	}

	index := make(map[int64]int)
	for _, c := range codes {
		index[c] = 0
	}
	distinct := make([]int64, 0, len(index))
	for c := range index {
		distinct = append(distinct, c)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })
	for i, c := range distinct {
		index[c] = i
	}

	return &LabelMapping{codes: distinct, index: index}, nil
}

// NumClasses returns the number of distinct codes.
func (m *LabelMapping) NumClasses() int {
	return len(m.codes)
}

// Classes returns the raw codes in dense index order.
func (m *LabelMapping) Classes() []int64 {
	out := make([]int64, len(m.codes))
	copy(out, m.codes)
	return out
}

// Index returns the dense index of a raw code.
func (m *LabelMapping) Index(code int64) (int, bool) {
	idx, ok := m.index[code]
	return idx, ok
}

// OrigClasses returns the dense index -> raw code mapping.
func (m *LabelMapping) OrigClasses() map[int]int64 {
	out := make(map[int]int64, len(m.codes))
	for i, c := range m.codes {
		out[i] = c
	}
	return out
}

// Apply maps every code to its dense index, preserving order.
func (m *LabelMapping) Apply(codes []int64) ([]int64, error) {
	labels := make([]int64, len(codes))
	for i, c := range codes {
		idx, ok := m.index[c]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownCode, "code %d at position %d", c, i)
		}
		labels[i] = int64(idx)
	}
	return labels, nil
}

// LabelSet is the result of deriving labels for one batch of trials.
type LabelSet struct {
	Labels      []int64
	Total       int
	Counts      map[int]int
	Proportions map[int]float64
	OrigClasses map[int]int64
}

// Produce derives dense labels for codes using the fixed mapping m. Classes
// of m that do not occur in codes get a zero count.
func (m *LabelMapping) Produce(codes []int64) (*LabelSet, error) {
	if len(codes) == 0 {
		return nil, ErrEmptyLabels
	}
	labels, err := m.Apply(codes)
	if err != nil {
		return nil, err
	}

	counts := make(map[int]int, len(m.codes))
	for i := range m.codes {
		counts[i] = 0
	}
	for _, l := range labels {
		counts[int(l)]++
	}

	return &LabelSet{
		Labels:      labels,
		Total:       len(labels),
		Counts:      counts,
		Proportions: Proportions(counts),
		OrigClasses: m.OrigClasses(),
	}, nil
}

// ProduceLabels derives dense labels from the codes themselves.
func ProduceLabels(codes []int64) (*LabelSet, error) {
	m, err := NewLabelMapping(codes)
	if err != nil {
		return nil, err
	}
	return m.Produce(codes)
}

// Proportions turns per-class counts into fractions of the total.
func Proportions(counts map[int]int) map[int]float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	out := make(map[int]float64, len(counts))
	for k, c := range counts {
		if total == 0 {
			out[k] = 0
			continue
		}
		out[k] = float64(c) / float64(total)
	}
	return out
}
