// Package gridrts implements a small deterministic grid-world
// real-time-strategy environment with a structured, masked action
// space. Each sub-environment holds one worker unit on a rectangular
// grid scattered with resources; the worker earns reward by moving
// next to resources and collecting them. The environment exists to
// exercise agents on source-then-parameter action selection: which
// action types and directions are legal depends on which cell the
// worker occupies.
package gridrts

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"

	"github.com/max52015/microrts-ppo/environment"
	"github.com/max52015/microrts-ppo/timestep"
)

// Action types
const (
	actionNoOp int = iota
	actionMove
	actionCollect
	numActionTypes
)

// Movement directions, also used to pick which adjacent resource a
// collect targets
const (
	dirUp int = iota
	dirDown
	dirLeft
	dirRight
	numDirections
)

var dirOffsets = [numDirections][2]int{
	{-1, 0}, // up
	{1, 0},  // down
	{0, -1}, // left
	{0, 1},  // right
}

// Config describes a GridRTS environment
type Config struct {
	Rows         int
	Cols         int
	NumResources int // Resources scattered per episode
	MaxSteps     int // Episode cutoff
	NumEnvs      int // Number of sub-environments stepped together
}

// Validate returns an error describing whether or not the
// configuration is valid.
func (c Config) Validate() error {
	if c.Rows < 2 || c.Cols < 2 {
		return fmt.Errorf("validate: grid must be at least 2x2 "+
			"\n\thave(%vx%v)", c.Rows, c.Cols)
	}
	if c.NumResources < 1 || c.NumResources >= c.Rows*c.Cols {
		return fmt.Errorf("validate: illegal resource count %v for a "+
			"%v-cell grid", c.NumResources, c.Rows*c.Cols)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("validate: episodes need at least one step "+
			"\n\thave(%v)", c.MaxSteps)
	}
	if c.NumEnvs < 1 {
		return fmt.Errorf("validate: need at least one "+
			"sub-environment \n\thave(%v)", c.NumEnvs)
	}
	return nil
}

// subEnv is the state of one sub-environment
type subEnv struct {
	unit      int    // Flat cell index of the worker
	resources []bool // Per-cell resource flags
	remaining int
	steps     int
}

// GridRTS implements environment.VecEnvironment over NumEnvs
// synchronous grid worlds. Sub-environments reset automatically on
// episode end.
type GridRTS struct {
	config Config
	space  *environment.ActionSpace
	cells  int

	envs []subEnv
	rng  *rand.Rand

	stepNumber int
}

// New creates a new GridRTS environment. The seed determines unit and
// resource placement for every episode of the run.
func New(config Config, seed uint64) (*GridRTS, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	cells := config.Rows * config.Cols
	space, err := environment.NewActionSpace([]int{cells,
		numActionTypes, numDirections})
	if err != nil {
		return nil, fmt.Errorf("new: could not create action space: %v",
			err)
	}

	env := &GridRTS{
		config: config,
		space:  space,
		cells:  cells,
		envs:   make([]subEnv, config.NumEnvs),
		rng:    rand.New(rand.NewSource(seed)),
	}
	for i := range env.envs {
		env.resetSubEnv(i)
	}

	return env, nil
}

// resetSubEnv places the worker and resources of sub-environment i for
// a fresh episode
func (g *GridRTS) resetSubEnv(i int) {
	env := &g.envs[i]
	env.unit = g.rng.Intn(g.cells)
	env.resources = make([]bool, g.cells)
	env.steps = 0

	env.remaining = 0
	for env.remaining < g.config.NumResources {
		cell := g.rng.Intn(g.cells)
		if cell == env.unit || env.resources[cell] {
			continue
		}
		env.resources[cell] = true
		env.remaining++
	}
}

// NumEnvs returns the number of sub-environments stepped together
func (g *GridRTS) NumEnvs() int {
	return g.config.NumEnvs
}

// ObservationSpec returns the observation layout: one worker plane and
// one resource plane over the grid
func (g *GridRTS) ObservationSpec() environment.ObservationSpec {
	return environment.NewObservationSpec(2, g.config.Rows,
		g.config.Cols)
}

// ActionSpace returns the structured action space: a source cell, an
// action type, and a direction
func (g *GridRTS) ActionSpace() *environment.ActionSpace {
	return g.space
}

// observations returns the current observations of every
// sub-environment, one flattened two-plane grid per row
func (g *GridRTS) observations() *tensor.Dense {
	features := 2 * g.cells
	data := make([]float64, g.config.NumEnvs*features)
	for i, env := range g.envs {
		data[i*features+env.unit] = 1.0
		for cell, occupied := range env.resources {
			if occupied {
				data[i*features+g.cells+cell] = 1.0
			}
		}
	}
	return tensor.New(
		tensor.WithShape(g.config.NumEnvs, features),
		tensor.WithBacking(data),
	)
}

// Reset resets every sub-environment and returns the initial
// observations
func (g *GridRTS) Reset() (*tensor.Dense, error) {
	for i := range g.envs {
		g.resetSubEnv(i)
	}
	g.stepNumber = 0
	return g.observations(), nil
}

// inBounds returns whether moving from a flat cell index in a
// direction stays on the grid, and the target cell if it does
func (g *GridRTS) inBounds(cell, dir int) (int, bool) {
	row := cell/g.config.Cols + dirOffsets[dir][0]
	col := cell%g.config.Cols + dirOffsets[dir][1]
	if row < 0 || row >= g.config.Rows || col < 0 ||
		col >= g.config.Cols {
		return 0, false
	}
	return row*g.config.Cols + col, true
}

// adjacentResource returns the first direction holding a resource
// adjacent to a cell, scanning directions in their declared order, or
// false if the cell has no adjacent resource
func (g *GridRTS) adjacentResource(i, cell int) (int, bool) {
	for dir := 0; dir < numDirections; dir++ {
		if target, ok := g.inBounds(cell, dir); ok &&
			g.envs[i].resources[target] {
			return dir, true
		}
	}
	return 0, false
}

// SourceUnitMasks returns the legal source cells of every
// sub-environment: exactly the cell the worker occupies
func (g *GridRTS) SourceUnitMasks() (*tensor.Dense, error) {
	data := make([]float64, g.config.NumEnvs*g.cells)
	for i, env := range g.envs {
		data[i*g.cells+env.unit] = 1.0
	}
	return tensor.New(
		tensor.WithShape(g.config.NumEnvs, g.cells),
		tensor.WithBacking(data),
	), nil
}

// UnitActionMasks returns the legal action types and directions of
// every sub-environment, conditioned on the just-chosen source cells.
// No-op is always legal; move is legal if some direction stays on the
// grid; collect is legal if a resource sits adjacent to the source. A
// direction is legal if it stays on the grid, independent of the
// action type it ends up paired with.
func (g *GridRTS) UnitActionMasks(sources []int) (*tensor.Dense,
	error) {
	if len(sources) != g.config.NumEnvs {
		return nil, fmt.Errorf("unitActionMasks: illegal source count"+
			"\n\twant(%v)\n\thave(%v)", g.config.NumEnvs, len(sources))
	}

	paramTotal := g.space.ParamTotal()
	data := make([]float64, g.config.NumEnvs*paramTotal)
	for i := range g.envs {
		source := sources[i]
		if source < 0 || source >= g.cells {
			return nil, fmt.Errorf("unitActionMasks: illegal source "+
				"cell %v for sub-environment %v", source, i)
		}

		types := data[i*paramTotal : i*paramTotal+numActionTypes]
		dirs := data[i*paramTotal+numActionTypes : (i+1)*paramTotal]

		types[actionNoOp] = 1.0
		_, canCollect := g.adjacentResource(i, source)
		if canCollect {
			types[actionCollect] = 1.0
		}

		anyMove := false
		for dir := 0; dir < numDirections; dir++ {
			if _, ok := g.inBounds(source, dir); ok {
				dirs[dir] = 1.0
				anyMove = true
			}
		}
		if anyMove {
			types[actionMove] = 1.0
		} else {
			// A 2x2 or larger grid always has a legal direction, but
			// the direction component may never be all-masked
			dirs[dirUp] = 1.0
		}
	}

	return tensor.New(
		tensor.WithShape(g.config.NumEnvs, paramTotal),
		tensor.WithBacking(data),
	), nil
}

// Step applies one joint action per sub-environment and returns the
// resulting timestep. Sub-environments whose episode ends are reset,
// and their rows of the returned observations are the first
// observations of the next episode.
func (g *GridRTS) Step(actions *tensor.Dense) (timestep.VecTimeStep,
	error) {
	shape := actions.Shape()
	if len(shape) != 2 || shape[0] != g.config.NumEnvs ||
		shape[1] != g.space.NumComponents() {
		return timestep.VecTimeStep{}, fmt.Errorf("step: illegal "+
			"action shape \n\twant(%v)\n\thave(%v)",
			tensor.Shape{g.config.NumEnvs, g.space.NumComponents()},
			shape)
	}
	data := actions.Data().([]float64)

	rewards := make([]float64, g.config.NumEnvs)
	dones := make([]bool, g.config.NumEnvs)

	numComps := g.space.NumComponents()
	for i := range g.envs {
		env := &g.envs[i]

		source := int(data[i*numComps])
		actionType := int(data[i*numComps+1])
		dir := int(data[i*numComps+2])

		if source != env.unit {
			return timestep.VecTimeStep{}, fmt.Errorf("step: "+
				"sub-environment %v has no unit at cell %v", i, source)
		}
		if dir < 0 || dir >= numDirections {
			return timestep.VecTimeStep{}, fmt.Errorf("step: illegal "+
				"direction %v for sub-environment %v", dir, i)
		}

		switch actionType {
		case actionNoOp:

		case actionMove:
			if target, ok := g.inBounds(env.unit, dir); ok &&
				!env.resources[target] {
				env.unit = target
			}

		case actionCollect:
			target, ok := g.inBounds(env.unit, dir)
			if !ok || !env.resources[target] {
				// Fall back to any adjacent resource
				if fallback, found := g.adjacentResource(i,
					env.unit); found {
					target, _ = g.inBounds(env.unit, fallback)
					ok = true
				}
			}
			if ok && env.resources[target] {
				env.resources[target] = false
				env.remaining--
				rewards[i] = 1.0
			}

		default:
			return timestep.VecTimeStep{}, fmt.Errorf("step: illegal "+
				"action type %v for sub-environment %v", actionType, i)
		}

		env.steps++
		if env.remaining == 0 || env.steps >= g.config.MaxSteps {
			dones[i] = true
			g.resetSubEnv(i)
		}
	}

	g.stepNumber++
	return timestep.New(g.observations(), rewards, dones,
		g.stepNumber), nil
}
