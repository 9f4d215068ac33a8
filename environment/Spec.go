package environment

import (
	"fmt"
)

// ObservationSpec describes the per-sub-environment observation layout
// of a vectorized environment. Observations are exchanged as flat
// feature vectors; Shape records the spatial layout they were
// flattened from, if any.
type ObservationSpec struct {
	Shape []int
}

// NewObservationSpec returns a specification for observations with the
// given per-sub-environment shape
func NewObservationSpec(shape ...int) ObservationSpec {
	return ObservationSpec{Shape: shape}
}

// Features returns the flattened length of a single observation
func (o ObservationSpec) Features() int {
	features := 1
	for _, dim := range o.Shape {
		features *= dim
	}
	return features
}

// ActionSpace describes a structured multi-component discrete action
// space. Nvec holds the ordered sizes of each action component:
// Nvec[0] is the number of candidate source-location slots, and
// Nvec[1:] are the sizes of the action-type and parameter components.
// A joint action is one integer per component. Flat logit and mask
// vectors over the space have length Total() and are split into
// contiguous segments of sizes Nvec[i], in order.
type ActionSpace struct {
	nvec    []int
	offsets []int // cumulative segment starts; len(offsets) = len(nvec)+1
}

// NewActionSpace validates the component sizes of a structured action
// space and precomputes the segment offsets used to split flat logit
// and mask vectors.
func NewActionSpace(nvec []int) (*ActionSpace, error) {
	if len(nvec) < 2 {
		return nil, fmt.Errorf("newActionSpace: need a source component"+
			" and at least one parameter component \n\twant(≥2)"+
			"\n\thave(%v)", len(nvec))
	}

	offsets := make([]int, len(nvec)+1)
	for i, size := range nvec {
		if size < 1 {
			return nil, fmt.Errorf("newActionSpace: component %v has "+
				"illegal size %v", i, size)
		}
		offsets[i+1] = offsets[i] + size
	}

	nvecCopy := make([]int, len(nvec))
	copy(nvecCopy, nvec)

	return &ActionSpace{nvec: nvecCopy, offsets: offsets}, nil
}

// Nvec returns the ordered component sizes
func (a *ActionSpace) Nvec() []int {
	return a.nvec
}

// NumComponents returns the number of action components, including the
// source component
func (a *ActionSpace) NumComponents() int {
	return len(a.nvec)
}

// Total returns the summed size of all components, which equals the
// length of flat logit and mask vectors over the space
func (a *ActionSpace) Total() int {
	return a.offsets[len(a.nvec)]
}

// SourceSize returns the size of the source-location component
func (a *ActionSpace) SourceSize() int {
	return a.nvec[0]
}

// ParamSizes returns the sizes of the non-source components
func (a *ActionSpace) ParamSizes() []int {
	return a.nvec[1:]
}

// ParamTotal returns the summed size of the non-source components
func (a *ActionSpace) ParamTotal() int {
	return a.Total() - a.SourceSize()
}

// Bounds returns the half-open interval [start, end) of flat indices
// belonging to component i
func (a *ActionSpace) Bounds(i int) (start, end int) {
	return a.offsets[i], a.offsets[i+1]
}

// Segment slices the portion of a flat vector belonging to component
// i. The vector must have length Total().
func (a *ActionSpace) Segment(flat []float64, i int) ([]float64, error) {
	if len(flat) != a.Total() {
		return nil, fmt.Errorf("segment: illegal flat vector length "+
			"\n\twant(%v)\n\thave(%v)", a.Total(), len(flat))
	}
	start, end := a.Bounds(i)
	return flat[start:end], nil
}
