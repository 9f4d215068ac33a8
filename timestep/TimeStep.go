// Package timestep implements timesteps of the agent-environment
// interaction for vectorized environments
package timestep

import (
	"fmt"

	"gorgonia.org/tensor"
)

// VecTimeStep packages together a single synchronous step of every
// sub-environment in a vectorized environment. Observations holds one
// row per sub-environment. Sub-environments reset automatically: when
// Dones[i] is true, row i of Observations is already the first
// observation of the next episode in that sub-environment.
type VecTimeStep struct {
	Observations *tensor.Dense // [numEnvs, features]
	Rewards      []float64     // one reward per sub-environment
	Dones        []bool        // episode-boundary flags
	Number       int           // monotone step counter across the run
}

// New packages a vectorized timestep
func New(obs *tensor.Dense, rewards []float64, dones []bool,
	number int) VecTimeStep {
	return VecTimeStep{
		Observations: obs,
		Rewards:      rewards,
		Dones:        dones,
		Number:       number,
	}
}

// NumEnvs returns the number of sub-environments in the timestep
func (v VecTimeStep) NumEnvs() int {
	return len(v.Rewards)
}

// AnyDone returns whether any sub-environment finished an episode on
// this timestep
func (v VecTimeStep) AnyDone() bool {
	for _, done := range v.Dones {
		if done {
			return true
		}
	}
	return false
}

func (v VecTimeStep) String() string {
	return fmt.Sprintf("VecTimeStep | Number: %v | Envs: %v | AnyDone: %v",
		v.Number, v.NumEnvs(), v.AnyDone())
}
