package preprocessing

import (
	"math"
	"math/rand"
	"time"

	"github.com/jdirani/mneflow/tensor"
	"github.com/pkg/errors"
)

// Split holds the train and validation partitions of one shard.
type Split struct {
	XTrain       *tensor.Tensor
	YTrain       []int64
	XVal         *tensor.Tensor
	YVal         []int64
	TrainIndices []int
	ValIndices   []int
}

// ValidationSize returns round(val*n), rounding halves to even.
func ValidationSize(n int, val float64) int {
	return int(math.RoundToEven(val * float64(n)))
}

// SplitSets partitions x and y using a random permutation drawn from rng.
// The first round(val*N) permuted trials form the validation set. A nil
// rng is seeded from the clock.
func SplitSets(x *tensor.Tensor, y []int64, val float64, rng *rand.Rand) (*Split, error) {
	if x.Len() != len(y) {
		return nil, errors.Errorf("data has %d trials but %d labels", x.Len(), len(y))
	}
	if val < 0 || val > 1 || math.IsNaN(val) {
		return nil, errors.Errorf("validation fraction must be in [0, 1], got %g", val)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	n := x.Len()
	perm := rng.Perm(n)
	valSize := ValidationSize(n, val)

	split := &Split{
		ValIndices:   perm[:valSize],
		TrainIndices: perm[valSize:],
	}

	var err error
	if split.XVal, err = x.Take(split.ValIndices); err != nil {
		return nil, errors.Wrap(err, "failed to gather validation trials")
	}
	if split.XTrain, err = x.Take(split.TrainIndices); err != nil {
		return nil, errors.Wrap(err, "failed to gather training trials")
	}
	split.YVal = gather(y, split.ValIndices)
	split.YTrain = gather(y, split.TrainIndices)
	return split, nil
}

func gather(y []int64, indices []int) []int64 {
	out := make([]int64, len(indices))
	for i, idx := range indices {
		out[i] = y[idx]
	}
	return out
}
