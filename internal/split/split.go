// Package split partitions processed hypotheses into train and test subsets.
package split

import (
	"fmt"
	"math/rand/v2"

	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/models"
)

// Splitter assigns each row to the first subset with probability Ratio.
// Membership is drawn independently per row, so subset sizes are only
// approximately Ratio*n and (1-Ratio)*n.
type Splitter struct {
	ratio float64
	rng   *rand.Rand
}

// New returns a Splitter. ratio must be in (0,1). The same seed yields the
// same membership for the same input order.
func New(ratio float64, seed uint64) (*Splitter, error) {
	if !(ratio > 0 && ratio < 1) {
		return nil, apperrors.NewInvalidInputError("ratio", fmt.Sprintf("must be in (0,1), got %v", ratio))
	}
	return &Splitter{ratio: ratio, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}, nil
}

// Mask returns one draw per row: true means the row goes to the first subset.
func (s *Splitter) Mask(n int) []bool {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = s.rng.Float64() < s.ratio
	}
	return mask
}

// Split partitions recs into train and test subsets and labels each copy with
// its partition. recs is not modified.
func (s *Splitter) Split(recs []models.TrimmedRecord) (train, test []models.TrimmedRecord) {
	for i, in := range s.Mask(len(recs)) {
		r := recs[i]
		if in {
			r.Partition = models.PartitionTrain
			train = append(train, r)
		} else {
			r.Partition = models.PartitionTest
			test = append(test, r)
		}
	}
	return train, test
}
