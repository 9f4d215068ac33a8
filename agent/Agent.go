// Package agent defines agent interfaces for vectorized environments
package agent

import (
	"gorgonia.org/tensor"

	"github.com/max52015/microrts-ppo/network"
	"github.com/max52015/microrts-ppo/timestep"
)

// ActionSample packages the result of one policy query over a batch of
// observations. Sampling a fresh action and re-evaluating a stored one
// both produce an ActionSample, so the surrounding update code can
// treat rollout collection and optimization re-evaluation uniformly.
//
// Actions is shaped [batch, numComponents] and Masks is shaped
// [batch, totalActionSize], both laid out in nvec component order.
// LogProbs and Entropies hold the per-row joint log-probability and
// joint entropy, summed over components. Values holds the critic's
// state-value estimates from the same forward pass.
type ActionSample struct {
	Actions   *tensor.Dense
	LogProbs  []float64
	Entropies []float64
	Masks     *tensor.Dense
	Values    []float64
}

// VecPolicy is a policy over a vectorized environment with a
// structured, masked action space.
type VecPolicy interface {
	// SelectActions samples a fresh joint action for every
	// sub-environment, querying the environment's masker for validity
	// masks as it goes, and returns the masks it used.
	SelectActions(obs *tensor.Dense) (ActionSample, error)

	// Evaluate recomputes log-probabilities and entropies for
	// previously sampled actions under their previously recorded
	// masks. The environment is not queried: masks are a function of
	// run-time environment state that may have since changed.
	Evaluate(obs, actions, masks *tensor.Dense) (ActionSample, error)

	// Network returns the policy's underlying network
	Network() network.NeuralNet
}

// Agent determines the implementation details of an agent or algorithm
// running on a vectorized environment.
//
// An Agent selects one joint action per sub-environment each decision
// step, observes the resulting timesteps, and updates itself when its
// learning algorithm decides enough experience has accumulated.
type Agent interface {
	// SelectActions returns one joint action per sub-environment
	SelectActions(obs *tensor.Dense) (ActionSample, error)

	// ObserveFirst records the first observations of a run
	ObserveFirst(obs *tensor.Dense) error

	// Observe records that sampled actions led to some timestep
	Observe(sample ActionSample, step timestep.VecTimeStep) error

	// Step performs a single update to the agent, if one is due
	Step() error

	Eval()        // Set agent to evaluation mode
	Train()       // Set agent to training mode
	IsEval() bool // Indicates if in evaluation mode
}
