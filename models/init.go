package models

import (
	"math"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// Initializer fills a weight matrix with fanIn inputs and fanOut outputs.
type Initializer interface {
	Set(ws []float64, fanIn, fanOut int, rng *rand.Rand)
}

type zeros struct{}

// Zeros sets every weight to 0.
func Zeros() Initializer { return zeros{} }

func (zeros) Set(ws []float64, _, _ int, _ *rand.Rand) {
	for i := range ws {
		ws[i] = 0
	}
}

type varianceScaling struct {
	factor  float64
	uniform bool
}

// GlorotUniform draws from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
func GlorotUniform() Initializer { return varianceScaling{factor: 1, uniform: true} }

// HeNormal draws from N(0, 2 / fanIn).
func HeNormal() Initializer { return varianceScaling{factor: 2} }

func (v varianceScaling) Set(ws []float64, fanIn, fanOut int, rng *rand.Rand) {
	if v.uniform {
		limit := math.Sqrt(6 * v.factor / float64(fanIn+fanOut))
		for i := range ws {
			ws[i] = (2*rng.Float64() - 1) * limit
		}
		return
	}
	sd := math.Sqrt(v.factor / float64(fanIn))
	for i := range ws {
		ws[i] = rng.NormFloat64() * sd
	}
}

// InitializerByName resolves "glorot_uniform", "he_normal" or "zeros".
func InitializerByName(name string) (Initializer, error) {
	switch strings.ToLower(name) {
	case "", "glorot_uniform", "xavier":
		return GlorotUniform(), nil
	case "he_normal", "he":
		return HeNormal(), nil
	case "zeros":
		return Zeros(), nil
	default:
		return nil, errors.Errorf("unknown initializer %q", name)
	}
}
