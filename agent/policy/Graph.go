package policy

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/max52015/microrts-ppo/distribution"
	"github.com/max52015/microrts-ppo/environment"
	"github.com/max52015/microrts-ppo/utils/tensorutils"
)

// LogSumExp calculates the log of the summed exponentials along an
// axis of a node, factoring out the per-row maximum for numerical
// stability.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil,
		[]byte{byte(along)}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// MaskedLogProbEntropy adds to the graph the differentiable twin of
// the policy's CPU-side evaluation mode: the joint log-probability and
// joint entropy of given actions under given masks, summed across the
// action components of space.
//
// logits is the actor head's output, shaped [batch, space.Total()].
// masks is a 0/1 matrix of the same shape laid out per nvec, and
// penalties must be fed (1-mask)·sentinel so that
// logits·mask + penalties substitutes the sentinel into masked-out
// positions without a conditional graph op. actionsOneHot is a
// [batch, space.Total()] matrix with a single 1 per component segment
// marking each row's stored action component.
//
// The entropy of each segment multiplies p·log p by the mask slice, so
// masked-out positions contribute exactly zero rather than sentinel
// round-off.
func MaskedLogProbEntropy(logits, masks, penalties, actionsOneHot *G.Node,
	space *environment.ActionSpace) (logProb, entropy *G.Node, err error) {
	batch := logits.Shape()[0]

	for _, node := range []*G.Node{logits, masks, penalties,
		actionsOneHot} {
		shape := node.Shape()
		if len(shape) != 2 || shape[0] != batch ||
			shape[1] != space.Total() {
			return nil, nil, fmt.Errorf("maskedLogProbEntropy: illegal "+
				"shape \n\twant(%v, %v)\n\thave(%v)", batch,
				space.Total(), shape)
		}
	}

	masked := G.Must(G.HadamardProd(logits, masks))
	masked = G.Must(G.Add(masked, penalties))

	for c := 0; c < space.NumComponents(); c++ {
		start, end := space.Bounds(c)

		segment := G.Must(G.Slice(masked,
			tensorutils.NewSlice(0, batch, 1),
			tensorutils.NewSlice(start, end, 1)))
		maskSegment := G.Must(G.Slice(masks,
			tensorutils.NewSlice(0, batch, 1),
			tensorutils.NewSlice(start, end, 1)))
		oneHotSegment := G.Must(G.Slice(actionsOneHot,
			tensorutils.NewSlice(0, batch, 1),
			tensorutils.NewSlice(start, end, 1)))

		// Normalized per-index log-probabilities of this component
		lse := LogSumExp(segment, 1)
		normalized := G.Must(G.BroadcastSub(segment, lse, nil,
			[]byte{1}))

		// Log-probability of the stored action component
		componentLogProb := G.Must(G.HadamardProd(oneHotSegment,
			normalized))
		componentLogProb = G.Must(G.Sum(componentLogProb, 1))

		// Masked entropy: p·log p terms of masked-out indices are
		// zeroed by the mask itself
		probs := G.Must(G.Exp(normalized))
		pLogP := G.Must(G.HadamardProd(probs, normalized))
		pLogP = G.Must(G.HadamardProd(pLogP, maskSegment))
		componentEntropy := G.Must(G.Neg(G.Must(G.Sum(pLogP, 1))))

		if c == 0 {
			logProb = componentLogProb
			entropy = componentEntropy
		} else {
			logProb = G.Must(G.Add(logProb, componentLogProb))
			entropy = G.Must(G.Add(entropy, componentEntropy))
		}
	}

	return logProb, entropy, nil
}

// MaskPenalties computes the penalty matrix fed alongside a 0/1 mask
// matrix: sentinel where the mask is 0 and 0 where the mask is 1, so
// that logits·mask + penalties equals the sentinel-substituted logits.
func MaskPenalties(maskData []float64) []float64 {
	penalties := make([]float64, len(maskData))
	for i, m := range maskData {
		if m <= 0.5 {
			penalties[i] = distribution.MaskedLogit
		}
	}
	return penalties
}

// ActionsOneHot expands stored actions, shaped row-major
// [batch, space.NumComponents()], into the one-hot layout consumed by
// MaskedLogProbEntropy.
func ActionsOneHot(actionData []float64,
	space *environment.ActionSpace) ([]float64, error) {
	numComps := space.NumComponents()
	if len(actionData)%numComps != 0 {
		return nil, fmt.Errorf("actionsOneHot: action data of length %v "+
			"is not divisible into %v components", len(actionData),
			numComps)
	}
	batch := len(actionData) / numComps

	oneHot := make([]float64, batch*space.Total())
	for b := 0; b < batch; b++ {
		for c := 0; c < numComps; c++ {
			start, end := space.Bounds(c)
			index := int(actionData[b*numComps+c])
			if index < 0 || index >= end-start {
				return nil, fmt.Errorf("actionsOneHot: component %v "+
					"action %v out of range [0, %v) for sub-environment "+
					"%v", c, index, end-start, b)
			}
			oneHot[b*space.Total()+start+index] = 1.0
		}
	}
	return oneHot, nil
}
