// Package policy implements policies over structured, masked action
// spaces
package policy

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/max52015/microrts-ppo/agent"
	"github.com/max52015/microrts-ppo/distribution"
	"github.com/max52015/microrts-ppo/environment"
	"github.com/max52015/microrts-ppo/network"
)

// MultiCategorical is a policy over a structured action space: the
// policy network predicts one flat logit vector per observation, which
// is split into one segment per action component, and each segment is
// turned into a masked categorical distribution using validity masks
// supplied by the environment.
//
// The policy supports the two call shapes the optimization loop needs.
// SelectActions samples fresh joint actions, querying the environment
// for the source-location mask first and the parameter mask second
// (parameter legality is only well-defined once a source slot is
// fixed), and returns the masks it used. Evaluate recomputes joint
// log-probabilities and entropies for stored actions under their
// stored masks, without touching the environment. Joint
// log-probabilities and entropies are sums of the per-component
// values: components are treated as independent beyond the
// source-then-parameter conditioning baked into mask computation.
type MultiCategorical struct {
	net network.NeuralNet
	vm  G.VM

	space  *environment.ActionSpace
	masker environment.ActionMasker

	batchSize int
	rng       *rand.Rand
}

// NewMultiCategorical creates a MultiCategorical policy over the given
// action space, with an actor-critic MLP of the given trunk
// architecture. The batch parameter fixes the number of observations
// scored per forward pass, which must match the number of
// sub-environments the masker answers for.
func NewMultiCategorical(space *environment.ActionSpace,
	masker environment.ActionMasker, features, batch int,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*network.Activation,
	seed uint64) (*MultiCategorical, error) {
	g := G.NewGraph()
	net, err := network.NewActorCriticMLP(features, batch, space.Total(),
		g, hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("newMultiCategorical: could not create "+
			"policy network: %v", err)
	}

	return FromNetwork(space, masker, net, seed)
}

// FromNetwork creates a MultiCategorical policy around an existing
// actor-critic network, e.g. one restored from a checkpoint. The
// network's actor head must predict space.Total() logits.
func FromNetwork(space *environment.ActionSpace,
	masker environment.ActionMasker, net network.NeuralNet,
	seed uint64) (*MultiCategorical, error) {
	logits := net.Prediction()[0]
	if logits.Shape()[1] != space.Total() {
		return nil, fmt.Errorf("fromNetwork: network predicts %v logits "+
			"but action space needs %v", logits.Shape()[1], space.Total())
	}

	return &MultiCategorical{
		net:       net,
		vm:        G.NewTapeMachine(net.Graph()),
		space:     space,
		masker:    masker,
		batchSize: net.BatchSize(),
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Network returns the policy's underlying network
func (p *MultiCategorical) Network() network.NeuralNet {
	return p.net
}

// Space returns the structured action space the policy acts in
func (p *MultiCategorical) Space() *environment.ActionSpace {
	return p.space
}

// Close releases the policy's virtual machine
func (p *MultiCategorical) Close() error {
	return p.vm.Close()
}

// forward runs the policy network on a batch of observations and
// returns copies of the flat logits (row-major [batch, total]) and the
// state values.
func (p *MultiCategorical) forward(obs *tensor.Dense) ([]float64,
	[]float64, error) {
	shape := obs.Shape()
	if len(shape) != 2 || shape[0] != p.batchSize ||
		shape[1] != p.net.Features() {
		return nil, nil, fmt.Errorf("forward: illegal observation shape"+
			" \n\twant(%v)\n\thave(%v)",
			tensor.Shape{p.batchSize, p.net.Features()}, shape)
	}

	if err := p.net.SetInput(obs.Data().([]float64)); err != nil {
		return nil, nil, fmt.Errorf("forward: could not set input: %v",
			err)
	}
	if err := p.vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("forward: could not run policy "+
			"network: %v", err)
	}

	logits := append([]float64{},
		p.net.Output()[0].Data().([]float64)...)
	values := append([]float64{},
		p.net.Output()[1].Data().([]float64)...)
	p.vm.Reset()

	return logits, values, nil
}

// Values returns only the critic's state-value estimates for a batch
// of observations. Used to bootstrap truncated episodes at rollout
// boundaries without sampling actions.
func (p *MultiCategorical) Values(obs *tensor.Dense) ([]float64, error) {
	_, values, err := p.forward(obs)
	if err != nil {
		return nil, errors.Wrap(err, "values")
	}
	return values, nil
}

// SelectActions samples one joint action per sub-environment. The
// source-location mask is queried and sampled before the parameter
// mask is requested, and the parameter mask query is given the chosen
// source slots. The full-length mask the policy sampled under is
// returned so it can be stored and replayed during optimization.
//
// An all-false mask for any sub-environment, in either query, is a
// fatal error: it signals the environment reached a state it claims
// has no legal action.
func (p *MultiCategorical) SelectActions(obs *tensor.Dense) (
	agent.ActionSample, error) {
	logits, values, err := p.forward(obs)
	if err != nil {
		return agent.ActionSample{}, errors.Wrap(err, "selectActions")
	}

	var (
		total      = p.space.Total()
		numComps   = p.space.NumComponents()
		sourceSize = p.space.SourceSize()
		paramTotal = p.space.ParamTotal()
	)

	sourceMasks, err := p.masker.SourceUnitMasks()
	if err != nil {
		return agent.ActionSample{}, errors.Wrap(err,
			"selectActions: could not get source unit masks")
	}
	if err := checkShape(sourceMasks, p.batchSize, sourceSize); err != nil {
		return agent.ActionSample{}, errors.Wrap(err,
			"selectActions: source unit masks")
	}
	sourceData := sourceMasks.Data().([]float64)

	sources := make([]int, p.batchSize)
	logProbs := make([]float64, p.batchSize)
	entropies := make([]float64, p.batchSize)
	actions := make([]float64, p.batchSize*numComps)

	// Stage 1: sample a source slot per sub-environment
	for b := 0; b < p.batchSize; b++ {
		segment := logits[b*total : b*total+sourceSize]
		mask := boolMask(sourceData[b*sourceSize : (b+1)*sourceSize])

		dist, err := distribution.NewMaskedCategorical(segment, mask)
		if err != nil {
			return agent.ActionSample{}, errors.Wrapf(err,
				"selectActions: source distribution for "+
					"sub-environment %d", b)
		}

		sources[b] = dist.Sample(p.rng)
		actions[b*numComps] = float64(sources[b])

		logProb, err := dist.LogProb(sources[b])
		if err != nil {
			return agent.ActionSample{}, errors.Wrap(err, "selectActions")
		}
		logProbs[b] = logProb
		entropies[b] = dist.Entropy()
	}

	// Stage 2: with sources fixed, the parameter masks are
	// well-defined
	paramMasks, err := p.masker.UnitActionMasks(sources)
	if err != nil {
		return agent.ActionSample{}, errors.Wrap(err,
			"selectActions: could not get unit action masks")
	}
	if err := checkShape(paramMasks, p.batchSize, paramTotal); err != nil {
		return agent.ActionSample{}, errors.Wrap(err,
			"selectActions: unit action masks")
	}
	paramData := paramMasks.Data().([]float64)

	for b := 0; b < p.batchSize; b++ {
		for c := 1; c < numComps; c++ {
			start, end := p.space.Bounds(c)
			segment := logits[b*total+start : b*total+end]
			mask := boolMask(paramData[b*paramTotal+start-sourceSize : b*paramTotal+end-sourceSize])

			dist, err := distribution.NewMaskedCategorical(segment, mask)
			if err != nil {
				return agent.ActionSample{}, errors.Wrapf(err,
					"selectActions: component %d distribution for "+
						"sub-environment %d (source %d)", c, b,
					sources[b])
			}

			a := dist.Sample(p.rng)
			actions[b*numComps+c] = float64(a)

			logProb, err := dist.LogProb(a)
			if err != nil {
				return agent.ActionSample{}, errors.Wrap(err,
					"selectActions")
			}
			logProbs[b] += logProb
			entropies[b] += dist.Entropy()
		}
	}

	// Concatenate source and parameter masks into the full-length
	// invalid-action mask, one row per sub-environment
	masks := make([]float64, p.batchSize*total)
	for b := 0; b < p.batchSize; b++ {
		copy(masks[b*total:b*total+sourceSize],
			sourceData[b*sourceSize:(b+1)*sourceSize])
		copy(masks[b*total+sourceSize:(b+1)*total],
			paramData[b*paramTotal:(b+1)*paramTotal])
	}

	return agent.ActionSample{
		Actions: tensor.New(
			tensor.WithShape(p.batchSize, numComps),
			tensor.WithBacking(actions),
		),
		LogProbs:  logProbs,
		Entropies: entropies,
		Masks: tensor.New(
			tensor.WithShape(p.batchSize, total),
			tensor.WithBacking(masks),
		),
		Values: values,
	}, nil
}

// Evaluate recomputes the joint log-probability and entropy of
// previously sampled actions under their previously recorded masks and
// the policy's current weights. The provided masks are split per
// component exactly as at sampling time; the environment is never
// queried. Actions and masks are echoed back unchanged so the return
// shape matches SelectActions.
func (p *MultiCategorical) Evaluate(obs, actions,
	masks *tensor.Dense) (agent.ActionSample, error) {
	logits, values, err := p.forward(obs)
	if err != nil {
		return agent.ActionSample{}, errors.Wrap(err, "evaluate")
	}

	var (
		total    = p.space.Total()
		numComps = p.space.NumComponents()
	)

	if err := checkShape(actions, p.batchSize, numComps); err != nil {
		return agent.ActionSample{}, errors.Wrap(err, "evaluate: actions")
	}
	if err := checkShape(masks, p.batchSize, total); err != nil {
		return agent.ActionSample{}, errors.Wrap(err, "evaluate: masks")
	}

	actionData := actions.Data().([]float64)
	maskData := masks.Data().([]float64)

	logProbs := make([]float64, p.batchSize)
	entropies := make([]float64, p.batchSize)

	for b := 0; b < p.batchSize; b++ {
		for c := 0; c < numComps; c++ {
			start, end := p.space.Bounds(c)
			segment := logits[b*total+start : b*total+end]
			mask := boolMask(maskData[b*total+start : b*total+end])

			dist, err := distribution.NewMaskedCategorical(segment, mask)
			if err != nil {
				return agent.ActionSample{}, errors.Wrapf(err,
					"evaluate: component %d distribution for "+
						"sub-environment %d", c, b)
			}

			index := int(actionData[b*numComps+c])
			logProb, err := dist.LogProb(index)
			if err != nil {
				return agent.ActionSample{}, errors.Wrapf(err,
					"evaluate: component %d for sub-environment %d",
					c, b)
			}
			logProbs[b] += logProb
			entropies[b] += dist.Entropy()
		}
	}

	return agent.ActionSample{
		Actions:   actions,
		LogProbs:  logProbs,
		Entropies: entropies,
		Masks:     masks,
		Values:    values,
	}, nil
}

// checkShape validates that a tensor is a [rows, cols] matrix
func checkShape(t *tensor.Dense, rows, cols int) error {
	shape := t.Shape()
	if len(shape) != 2 || shape[0] != rows || shape[1] != cols {
		return fmt.Errorf("illegal shape \n\twant(%v)\n\thave(%v)",
			tensor.Shape{rows, cols}, shape)
	}
	return nil
}

// boolMask converts a 0/1 float mask row into a boolean mask
func boolMask(vals []float64) []bool {
	mask := make([]bool, len(vals))
	for i, val := range vals {
		mask[i] = val > 0.5
	}
	return mask
}
