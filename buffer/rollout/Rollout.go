// Package rollout implements fixed-size storage for on-policy rollouts
// collected from a vectorized environment, with generalized advantage
// estimation - GAE(λ) - following https://arxiv.org/abs/1506.02438.
package rollout

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Buffer stores numSteps synchronous steps of a vectorized environment
// with numEnvs sub-environments: observations, joint actions, joint
// log-probabilities, invalid-action masks, rewards, episode-boundary
// flags, and state-value estimates. Once full, ComputeAdvantages runs
// a backward GAE(λ) pass over each sub-environment's column,
// bootstrapping truncated episodes with the value of the next state.
//
// All storage is row-major with the step index outermost and the
// sub-environment index next, matching the order in which data is
// collected.
type Buffer struct {
	numSteps int
	numEnvs  int

	obsSize    int // Size of a single state observation
	actionSize int // Number of action components
	maskSize   int // Length of a full invalid-action mask

	lambda float64 // λ for GAE(λ) calculation
	gamma  float64 // Discount factor ℽ

	currentStep int
	computed    bool

	obsBuffer    []float64
	actBuffer    []float64
	logpBuffer   []float64
	maskBuffer   []float64
	rewBuffer    []float64
	doneBuffer   []float64
	valBuffer    []float64
	advBuffer    []float64
	retBuffer    []float64
	lastGAE      []float64
}

// New creates and returns a new rollout Buffer
func New(numSteps, numEnvs, obsSize, actionSize, maskSize int,
	lambda, gamma float64) (*Buffer, error) {
	if numSteps < 1 || numEnvs < 1 {
		return nil, fmt.Errorf("new: illegal buffer dimensions "+
			"[%v steps, %v envs]", numSteps, numEnvs)
	}

	rows := numSteps * numEnvs
	return &Buffer{
		numSteps:   numSteps,
		numEnvs:    numEnvs,
		obsSize:    obsSize,
		actionSize: actionSize,
		maskSize:   maskSize,
		lambda:     lambda,
		gamma:      gamma,
		obsBuffer:  make([]float64, rows*obsSize),
		actBuffer:  make([]float64, rows*actionSize),
		logpBuffer: make([]float64, rows),
		maskBuffer: make([]float64, rows*maskSize),
		rewBuffer:  make([]float64, rows),
		doneBuffer: make([]float64, rows),
		valBuffer:  make([]float64, rows),
		advBuffer:  make([]float64, rows),
		retBuffer:  make([]float64, rows),
		lastGAE:    make([]float64, numEnvs),
	}, nil
}

// Rows returns the total number of transitions the buffer holds when
// full
func (b *Buffer) Rows() int {
	return b.numSteps * b.numEnvs
}

// Full returns whether the buffer has stored all numSteps steps
func (b *Buffer) Full() bool {
	return b.currentStep >= b.numSteps
}

// Store stores a single vectorized timestep: one row per
// sub-environment. The dones flags mark sub-environments whose episode
// ended on this step.
func (b *Buffer) Store(obs, actions, logProbs, masks, values,
	rewards []float64, dones []bool) error {
	if b.Full() {
		return fmt.Errorf("store: cannot add new transitions, buffer " +
			"at maximum capacity")
	}

	lengths := []struct {
		name string
		have int
		want int
	}{
		{"obs", len(obs), b.numEnvs * b.obsSize},
		{"actions", len(actions), b.numEnvs * b.actionSize},
		{"logProbs", len(logProbs), b.numEnvs},
		{"masks", len(masks), b.numEnvs * b.maskSize},
		{"values", len(values), b.numEnvs},
		{"rewards", len(rewards), b.numEnvs},
		{"dones", len(dones), b.numEnvs},
	}
	for _, l := range lengths {
		if l.have != l.want {
			return fmt.Errorf("store: illegal %v length \n\twant(%v)"+
				"\n\thave(%v)", l.name, l.want, l.have)
		}
	}

	step := b.currentStep
	copy(b.obsBuffer[step*b.numEnvs*b.obsSize:], obs)
	copy(b.actBuffer[step*b.numEnvs*b.actionSize:], actions)
	copy(b.logpBuffer[step*b.numEnvs:], logProbs)
	copy(b.maskBuffer[step*b.numEnvs*b.maskSize:], masks)
	copy(b.valBuffer[step*b.numEnvs:], values)
	copy(b.rewBuffer[step*b.numEnvs:], rewards)
	for e, done := range dones {
		if done {
			b.doneBuffer[step*b.numEnvs+e] = 1.0
		} else {
			b.doneBuffer[step*b.numEnvs+e] = 0.0
		}
	}

	b.currentStep++
	return nil
}

// ComputeAdvantages runs the backward GAE(λ) pass over the full
// buffer. Each stored done flag marks the transition that ended its
// episode, so it cuts both the bootstrap and the recursion for its own
// step. For each sub-environment, lastValues holds the value estimate
// of the observation after the final stored step, bootstrapping
// episodes truncated by the rollout boundary. Returns-to-go are
// advantages plus stored values.
func (b *Buffer) ComputeAdvantages(lastValues []float64) error {
	if !b.Full() {
		return fmt.Errorf("computeAdvantages: buffer must be full " +
			"before computing advantages")
	}
	if len(lastValues) != b.numEnvs {
		return fmt.Errorf("computeAdvantages: illegal bootstrap length"+
			" \n\twant(%v)\n\thave(%v)", b.numEnvs, len(lastValues))
	}

	for e := range b.lastGAE {
		b.lastGAE[e] = 0.0
	}

	for t := b.numSteps - 1; t >= 0; t-- {
		for e := 0; e < b.numEnvs; e++ {
			i := t*b.numEnvs + e
			nonTerminal := 1.0 - b.doneBuffer[i]

			var nextValue float64
			if t == b.numSteps-1 {
				nextValue = lastValues[e]
			} else {
				nextValue = b.valBuffer[(t+1)*b.numEnvs+e]
			}

			delta := b.rewBuffer[i] +
				b.gamma*nextValue*nonTerminal - b.valBuffer[i]
			b.lastGAE[e] = delta +
				b.gamma*b.lambda*nonTerminal*b.lastGAE[e]
			b.advBuffer[i] = b.lastGAE[e]
		}
	}

	// Returns-to-go estimates
	floats.AddTo(b.retBuffer, b.advBuffer, b.valBuffer)

	b.computed = true
	return nil
}

// Get returns the flattened observations, actions, log-probabilities,
// masks, advantages, returns, and values stored in the buffer, with
// one row per (step, sub-environment) transition, and resets the
// buffer for the next rollout. ComputeAdvantages must have been called
// since the buffer filled.
//
// The returned slices alias the buffer's internal storage and remain
// valid only until the next call to Store.
func (b *Buffer) Get() (obs, actions, logProbs, masks, advantages,
	returns, values []float64, err error) {
	if !b.Full() {
		return nil, nil, nil, nil, nil, nil, nil,
			fmt.Errorf("get: buffer must be full before sampling")
	}
	if !b.computed {
		return nil, nil, nil, nil, nil, nil, nil,
			fmt.Errorf("get: advantages not yet computed")
	}

	b.currentStep = 0
	b.computed = false

	return b.obsBuffer, b.actBuffer, b.logpBuffer, b.maskBuffer,
		b.advBuffer, b.retBuffer, b.valBuffer, nil
}
