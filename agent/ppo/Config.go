package ppo

import (
	"fmt"

	"github.com/max52015/microrts-ppo/agent"
	"github.com/max52015/microrts-ppo/environment"
	"github.com/max52015/microrts-ppo/initwfn"
	"github.com/max52015/microrts-ppo/network"
	"github.com/max52015/microrts-ppo/solver"
)

// Config implements a configuration of the PPO agent. Config's should
// be used to create PPO agents.
type Config struct {
	// Policy network architecture: shared trunk layer sizes, whether
	// each trunk layer has a bias unit, and each trunk layer's
	// activation. The actor and critic heads are always linear layers
	// with bias units.
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation
	InitWFn     *initwfn.InitWFn

	Solver *solver.Solver

	// Clipped surrogate objective
	EpsilonClip   float64 // Clipping radius for ratios and values
	EntropyCoef   float64 // Entropy bonus coefficient
	ValueCoef     float64 // Value loss coefficient
	ClipValueLoss bool    // Clip the value loss around behaviour values

	// Advantage estimation
	Gamma  float64 // Discount factor ℽ
	Lambda float64 // λ for GAE(λ)

	// Rollout and optimization schedule. One update consumes
	// NumSteps steps of every sub-environment, split into
	// NumMinibatches minibatches and replayed for UpdateEpochs epochs.
	NumSteps       int
	UpdateEpochs   int
	NumMinibatches int

	NormalizeAdvantages bool

	// Early stopping on the estimated KL divergence between the
	// behaviour policy and the updating policy. TargetKL <= 0 disables
	// the check; RollbackOnKL additionally restores the
	// pre-update weights when the check trips.
	TargetKL     float64
	RollbackOnKL bool

	// Learning rate annealing: the solver's step size is scaled by
	// (1 - update/TotalUpdates) before each update.
	AnnealLR     bool
	TotalUpdates int
}

// Validate returns an error describing whether or not the
// configuration is valid.
func (c Config) Validate() error {
	if len(c.HiddenSizes) == 0 {
		return fmt.Errorf("validate: at least one hidden layer required")
	}
	if len(c.HiddenSizes) != len(c.Biases) {
		return fmt.Errorf("validate: invalid number of biases"+
			"\n\twant(%v)\n\thave(%v)", len(c.HiddenSizes), len(c.Biases))
	}
	if len(c.HiddenSizes) != len(c.Activations) {
		return fmt.Errorf("validate: invalid number of activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.HiddenSizes),
			len(c.Activations))
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer given")
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver given")
	}

	if c.EpsilonClip <= 0 {
		return fmt.Errorf("validate: epsilon clip must be positive "+
			"\n\thave(%v)", c.EpsilonClip)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: discount must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("validate: lambda must be in [0, 1] "+
			"\n\thave(%v)", c.Lambda)
	}

	if c.NumSteps < 1 {
		return fmt.Errorf("validate: rollouts need at least one step "+
			"\n\thave(%v)", c.NumSteps)
	}
	if c.UpdateEpochs < 1 {
		return fmt.Errorf("validate: need at least one update epoch "+
			"\n\thave(%v)", c.UpdateEpochs)
	}
	if c.NumMinibatches < 1 {
		return fmt.Errorf("validate: need at least one minibatch "+
			"\n\thave(%v)", c.NumMinibatches)
	}

	if c.RollbackOnKL && c.TargetKL <= 0 {
		return fmt.Errorf("validate: rollback on KL divergence " +
			"requires a positive KL target")
	}
	if c.AnnealLR && c.TotalUpdates < 1 {
		return fmt.Errorf("validate: annealing the learning rate "+
			"requires a positive update horizon \n\thave(%v)",
			c.TotalUpdates)
	}

	return nil
}

// CreateAgent creates a new PPO agent on the given environment
func (c Config) CreateAgent(env environment.VecEnvironment,
	seed uint64) (agent.Agent, error) {
	return New(env, c, seed)
}

// ValidAgent returns whether the argument agent is a valid agent for
// this Config
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*PPO)
	return ok
}
