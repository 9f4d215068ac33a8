// Package distribution implements discrete probability distributions
// over action components, restricted to caller-supplied validity masks.
package distribution

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/max52015/microrts-ppo/utils/floatutils"
)

// MaskedLogit is the logit substituted for masked-out indices before
// normalization. It is large enough in magnitude that exp(MaskedLogit)
// underflows to zero, but small enough that no intermediate
// computation overflows or produces NaN.
const MaskedLogit = -1e8

var errAllMasked = errors.New("mask excludes every index")

// IsAllMasked returns whether an error reports that a distribution was
// constructed from a mask with no legal index. Such a mask signals a
// malformed environment state and is always fatal for the call that
// produced it.
func IsAllMasked(err error) bool {
	return errors.Is(err, errAllMasked)
}

// MaskedCategorical is a categorical distribution over the indices
// {0, 1, ..., n-1}, restricted to the indices marked legal by a
// boolean mask. Masked-out indices have their logits replaced by
// MaskedLogit before normalization, so they carry effectively zero
// probability mass and can never be sampled, while log-probabilities
// of legal indices remain well-defined for re-evaluating historical
// actions.
type MaskedCategorical struct {
	logits []float64 // logits after mask substitution
	mask   []bool
	logZ   float64 // log normalizing constant over legal indices
	legal  int     // number of legal indices
}

// NewMaskedCategorical creates a categorical distribution over
// len(logits) indices, restricted to the indices i with mask[i] true.
// It returns an error if the logit and mask lengths differ, if the
// distribution would be empty, or if the mask marks no index legal.
// The latter condition is distinguishable with IsAllMasked.
func NewMaskedCategorical(logits []float64, mask []bool) (MaskedCategorical,
	error) {
	if len(logits) == 0 {
		return MaskedCategorical{}, fmt.Errorf("newMaskedCategorical: " +
			"empty logits")
	}
	if len(logits) != len(mask) {
		return MaskedCategorical{}, fmt.Errorf("newMaskedCategorical: "+
			"logits and mask lengths differ \n\twant(%v)\n\thave(%v)",
			len(logits), len(mask))
	}

	legal := 0
	for _, ok := range mask {
		if ok {
			legal++
		}
	}
	if legal == 0 {
		return MaskedCategorical{}, fmt.Errorf("newMaskedCategorical: %w",
			errAllMasked)
	}

	masked := make([]float64, len(logits))
	maskCopy := make([]bool, len(mask))
	copy(maskCopy, mask)
	for i, logit := range logits {
		if mask[i] {
			masked[i] = logit
		} else {
			masked[i] = MaskedLogit
		}
	}

	return MaskedCategorical{
		logits: masked,
		mask:   maskCopy,
		logZ:   logSumExpMasked(masked, maskCopy),
		legal:  legal,
	}, nil
}

// NewCategorical creates an unmasked categorical distribution, i.e. a
// MaskedCategorical whose mask marks every index legal.
func NewCategorical(logits []float64) (MaskedCategorical, error) {
	mask := make([]bool, len(logits))
	for i := range mask {
		mask[i] = true
	}
	return NewMaskedCategorical(logits, mask)
}

// Len returns the total number of indices, legal or not.
func (m MaskedCategorical) Len() int {
	return len(m.logits)
}

// NumLegal returns the number of legal indices.
func (m MaskedCategorical) NumLegal() int {
	return m.legal
}

// Legal returns whether index i is legal under the mask.
func (m MaskedCategorical) Legal(i int) bool {
	return i >= 0 && i < len(m.mask) && m.mask[i]
}

// Sample draws a single index according to the normalized masked
// distribution. A masked-out index is never drawn.
func (m MaskedCategorical) Sample(rng *rand.Rand) int {
	u := rng.Float64()

	cum := 0.0
	last := -1
	for i := range m.logits {
		if !m.mask[i] {
			continue
		}
		last = i
		cum += math.Exp(m.logits[i] - m.logZ)
		if u < cum {
			return i
		}
	}

	// Probabilities of legal indices sum to 1 up to floating point
	// rounding, so u may exceed the final cumulative sum by a hair.
	return last
}

// Mode returns the legal index with the highest probability. Ties are
// broken by the lowest index. Used for greedy action selection during
// evaluation.
func (m MaskedCategorical) Mode() int {
	return floatutils.ArgMax(m.logits...)[0]
}

// LogProb returns the log-probability of index i under the masked
// distribution. The result is finite for every index, legal or not:
// legal indices get their normalized log-probability, masked-out
// indices get the sentinel-substituted value, which is astronomically
// negative but never NaN or -Inf. An error is returned only if i is
// out of range.
func (m MaskedCategorical) LogProb(i int) (float64, error) {
	if i < 0 || i >= len(m.logits) {
		return 0, fmt.Errorf("logProb: index out of range [%v] with "+
			"length %v", i, len(m.logits))
	}
	return m.logits[i] - m.logZ, nil
}

// Prob returns the probability of index i under the masked
// distribution. Masked-out indices have probability 0.
func (m MaskedCategorical) Prob(i int) (float64, error) {
	if i < 0 || i >= len(m.logits) {
		return 0, fmt.Errorf("prob: index out of range [%v] with "+
			"length %v", i, len(m.logits))
	}
	if !m.mask[i] {
		return 0.0, nil
	}
	return math.Exp(m.logits[i] - m.logZ), nil
}

// Entropy returns the Shannon entropy of the masked distribution.
// Only legal indices contribute: masked-out indices are excluded
// structurally rather than relying on their sentinel terms
// underflowing, so no numerical noise from the sentinel accumulates.
func (m MaskedCategorical) Entropy() float64 {
	entropy := 0.0
	for i := range m.logits {
		if !m.mask[i] {
			continue
		}
		logP := m.logits[i] - m.logZ
		entropy -= math.Exp(logP) * logP
	}
	return entropy
}

// logSumExpMasked computes log(Σᵢ exp(logits[i])) over legal indices
// only.
func logSumExpMasked(logits []float64, mask []bool) float64 {
	legal := make([]float64, 0, len(logits))
	for i, logit := range logits {
		if mask[i] {
			legal = append(legal, logit)
		}
	}
	return floatutils.LogSumExp(legal...)
}
