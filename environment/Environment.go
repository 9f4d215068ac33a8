// Package environment outlines the interfaces needed to implement
// concrete vectorized environments with structured, masked action
// spaces
package environment

import (
	"gorgonia.org/tensor"

	"github.com/max52015/microrts-ppo/timestep"
)

// ActionMasker computes the validity masks of a structured action
// space for the current state of every sub-environment. Masks are
// returned as 0/1 float64 matrices so they can be fed to computation
// graphs and stored in rollout buffers without conversion.
//
// The two queries are strictly ordered within a decision step:
// UnitActionMasks is only well-defined after a source slot has been
// chosen for each sub-environment, because which action types and
// parameters are legal depends on which unit was selected.
type ActionMasker interface {
	// SourceUnitMasks returns the legal source-location slots for the
	// current state, shaped [numEnvs, ActionSpace().SourceSize()]
	SourceUnitMasks() (*tensor.Dense, error)

	// UnitActionMasks returns the legal action-type and parameter
	// indices conditioned on the just-chosen source slot of each
	// sub-environment, shaped [numEnvs, ActionSpace().ParamTotal()]
	UnitActionMasks(sources []int) (*tensor.Dense, error)
}

// VecEnvironment implements a batch of synchronous sub-environments
// stepped together. Sub-environments reset automatically on episode
// end; see timestep.VecTimeStep.
type VecEnvironment interface {
	ActionMasker

	NumEnvs() int
	ObservationSpec() ObservationSpec
	ActionSpace() *ActionSpace

	// Reset resets every sub-environment and returns the initial
	// observations, shaped [numEnvs, ObservationSpec().Features()]
	Reset() (*tensor.Dense, error)

	// Step applies one joint action per sub-environment. The actions
	// matrix is shaped [numEnvs, ActionSpace().NumComponents()] in
	// nvec component order.
	Step(actions *tensor.Dense) (timestep.VecTimeStep, error)
}
