// Package ppo implements proximal policy optimization over vectorized
// environments with structured, masked action spaces:
// https://arxiv.org/abs/1707.06347.
//
// During a rollout, a behaviour policy with one graph row per
// sub-environment samples joint actions and records the validity masks
// it sampled under. Once enough steps have accumulated, a separate
// training network with one graph row per minibatch transition
// re-evaluates the stored actions under the stored masks and follows
// the clipped surrogate objective. The updated weights are copied back
// into the behaviour policy before the next rollout.
package ppo

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"

	"github.com/max52015/microrts-ppo/agent"
	"github.com/max52015/microrts-ppo/agent/policy"
	"github.com/max52015/microrts-ppo/buffer/rollout"
	"github.com/max52015/microrts-ppo/environment"
	"github.com/max52015/microrts-ppo/network"
	"github.com/max52015/microrts-ppo/solver"
	"github.com/max52015/microrts-ppo/timestep"
)

// PPO implements the proximal policy optimization algorithm on a
// structured, masked action space
type PPO struct {
	behaviour *policy.MultiCategorical
	trainNet  network.NeuralNet
	loss      *lossGraph

	buffer     *rollout.Buffer
	baseSolver *solver.Solver
	solver     *solver.Solver

	space    *environment.ActionSpace
	features int
	numEnvs  int

	config        Config
	rows          int
	minibatchSize int

	lastObs *tensor.Dense
	indices []int
	rng     *rand.Rand

	updates int
	eval    bool
}

// New creates a new PPO agent acting in the given environment
func New(env environment.VecEnvironment, c Config,
	seed uint64) (*PPO, error) {
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "new")
	}

	space := env.ActionSpace()
	features := env.ObservationSpec().Features()
	numEnvs := env.NumEnvs()

	rows := c.NumSteps * numEnvs
	if rows%c.NumMinibatches != 0 {
		return nil, fmt.Errorf("new: %v rollout transitions do not "+
			"split into %v minibatches", rows, c.NumMinibatches)
	}
	minibatchSize := rows / c.NumMinibatches

	behaviour, err := policy.NewMultiCategorical(space, env, features,
		numEnvs, c.HiddenSizes, c.Biases, c.InitWFn.InitWFn(),
		c.Activations, seed)
	if err != nil {
		return nil, errors.Wrap(err, "new: could not create behaviour "+
			"policy")
	}

	trainNet, err := behaviour.Network().CloneWithBatch(minibatchSize)
	if err != nil {
		return nil, errors.Wrap(err, "new: could not create training "+
			"network")
	}

	loss, err := newLossGraph(trainNet, space, c.EpsilonClip,
		c.ValueCoef, c.EntropyCoef, c.ClipValueLoss)
	if err != nil {
		return nil, errors.Wrap(err, "new")
	}

	buf, err := rollout.New(c.NumSteps, numEnvs, features,
		space.NumComponents(), space.Total(), c.Lambda, c.Gamma)
	if err != nil {
		return nil, errors.Wrap(err, "new: could not create rollout "+
			"buffer")
	}

	indices := make([]int, rows)
	for i := range indices {
		indices[i] = i
	}

	return &PPO{
		behaviour:     behaviour,
		trainNet:      trainNet,
		loss:          loss,
		buffer:        buf,
		baseSolver:    c.Solver,
		solver:        c.Solver,
		space:         space,
		features:      features,
		numEnvs:       numEnvs,
		config:        c,
		rows:          rows,
		minibatchSize: minibatchSize,
		indices:       indices,
		rng:           rand.New(rand.NewSource(seed)),
	}, nil
}

// SelectActions samples one joint action per sub-environment from the
// behaviour policy
func (p *PPO) SelectActions(obs *tensor.Dense) (agent.ActionSample,
	error) {
	return p.behaviour.SelectActions(obs)
}

// ObserveFirst records the first observations of a run
func (p *PPO) ObserveFirst(obs *tensor.Dense) error {
	shape := obs.Shape()
	if len(shape) != 2 || shape[0] != p.numEnvs ||
		shape[1] != p.features {
		return fmt.Errorf("observeFirst: illegal observation shape"+
			"\n\twant(%v)\n\thave(%v)",
			tensor.Shape{p.numEnvs, p.features}, shape)
	}
	p.lastObs = obs
	return nil
}

// Observe stores the transition from the last observed state under the
// sampled actions into the rollout buffer
func (p *PPO) Observe(sample agent.ActionSample,
	step timestep.VecTimeStep) error {
	if p.eval {
		p.lastObs = step.Observations
		return nil
	}
	if p.lastObs == nil {
		return fmt.Errorf("observe: ObserveFirst must be called " +
			"before Observe")
	}

	err := p.buffer.Store(
		p.lastObs.Data().([]float64),
		sample.Actions.Data().([]float64),
		sample.LogProbs,
		sample.Masks.Data().([]float64),
		sample.Values,
		step.Rewards,
		step.Dones,
	)
	if err != nil {
		return errors.Wrap(err, "observe")
	}

	p.lastObs = step.Observations
	return nil
}

// Step updates the agent if a rollout has completed and is otherwise a
// no-op
func (p *PPO) Step() error {
	if p.eval || !p.buffer.Full() {
		return nil
	}

	// Bootstrap episodes truncated by the rollout boundary
	lastValues, err := p.behaviour.Values(p.lastObs)
	if err != nil {
		return errors.Wrap(err, "step: could not bootstrap rollout")
	}
	if err := p.buffer.ComputeAdvantages(lastValues); err != nil {
		return errors.Wrap(err, "step")
	}

	obs, actions, logProbs, masks, advantages, returns, values,
		err := p.buffer.Get()
	if err != nil {
		return errors.Wrap(err, "step")
	}

	if p.config.AnnealLR {
		frac := 1.0 - float64(p.updates)/float64(p.config.TotalUpdates)
		if frac < 0 {
			frac = 0
		}
		p.solver = p.baseSolver.WithStepSizeScale(frac)
	}

	for epoch := 0; epoch < p.config.UpdateEpochs; epoch++ {
		// Snapshot before each epoch so a tripped KL target only
		// discards the overshooting epoch
		var snapshot network.NeuralNet
		if p.config.RollbackOnKL {
			if snapshot, err = p.trainNet.Clone(); err != nil {
				return errors.Wrap(err, "step: could not snapshot "+
					"weights")
			}
		}

		p.rng.Shuffle(len(p.indices), func(i, j int) {
			p.indices[i], p.indices[j] = p.indices[j], p.indices[i]
		})

		var epochKL float64
		for start := 0; start < p.rows; start += p.minibatchSize {
			batch := p.indices[start : start+p.minibatchSize]

			advBatch := gather(advantages, batch, 1)
			if p.config.NormalizeAdvantages {
				normalize(advBatch)
			}

			err := p.loss.feed(
				gather(obs, batch, p.features),
				gather(actions, batch, p.space.NumComponents()),
				gather(masks, batch, p.space.Total()),
				gather(logProbs, batch, 1),
				advBatch,
				gather(returns, batch, 1),
				gather(values, batch, 1),
			)
			if err != nil {
				return errors.Wrapf(err, "step: epoch %d", epoch)
			}

			_, approxKL, err := p.loss.step(p.solver)
			if err != nil {
				return errors.Wrapf(err, "step: epoch %d", epoch)
			}
			epochKL += approxKL
		}
		epochKL /= float64(p.config.NumMinibatches)

		if p.config.TargetKL > 0 && epochKL > p.config.TargetKL {
			if p.config.RollbackOnKL {
				if err := p.trainNet.Set(snapshot); err != nil {
					return errors.Wrap(err, "step: could not roll "+
						"back weights")
				}
			}
			break
		}
	}

	// Publish the updated weights to the behaviour policy
	if err := p.behaviour.Network().Set(p.trainNet); err != nil {
		return errors.Wrap(err, "step: could not update behaviour "+
			"policy")
	}

	p.updates++
	return nil
}

// Updates returns the number of policy updates performed so far
func (p *PPO) Updates() int {
	return p.updates
}

// Policy returns the agent's behaviour policy
func (p *PPO) Policy() *policy.MultiCategorical {
	return p.behaviour
}

// Close releases the agent's virtual machines
func (p *PPO) Close() error {
	if err := p.behaviour.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	return p.loss.Close()
}

// Eval sets the agent to evaluation mode: actions are still sampled
// from the behaviour policy, but no experience is stored and Step is a
// no-op.
func (p *PPO) Eval() { p.eval = true }

// Train sets the agent to training mode
func (p *PPO) Train() { p.eval = false }

// IsEval returns whether the agent is in evaluation mode
func (p *PPO) IsEval() bool { return p.eval }

// gather copies the given rows of a row-major matrix into a fresh,
// contiguous slice
func gather(src []float64, rows []int, rowSize int) []float64 {
	out := make([]float64, len(rows)*rowSize)
	for i, row := range rows {
		copy(out[i*rowSize:(i+1)*rowSize],
			src[row*rowSize:(row+1)*rowSize])
	}
	return out
}

// normalize standardizes a slice to zero mean and unit variance in
// place
func normalize(vals []float64) {
	mean, std := stat.MeanStdDev(vals, nil)
	for i := range vals {
		vals[i] = (vals[i] - mean) / (std + 1e-8)
	}
}
