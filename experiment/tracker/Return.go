package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/max52015/microrts-ppo/timestep"
)

// Return tracks and saves episodic returns in an experiment over a
// vectorized environment. The return of each sub-environment's episode
// accumulates separately; when a sub-environment's episode ends, its
// return is appended to the saved data in completion order.
//
// Note: an episode must finish for this Tracker to save its return.
// Episodes still running when the experiment ends are not saved.
type Return struct {
	currentReturns []float64
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new Return Tracker that saves to the
// given file
func NewReturn(filename string) Tracker {
	return &Return{filename: filename}
}

// Track accumulates the rewards of a vectorized timestep into each
// sub-environment's running return, recording returns of episodes that
// ended on this step
func (r *Return) Track(step timestep.VecTimeStep) {
	if r.currentReturns == nil {
		r.currentReturns = make([]float64, step.NumEnvs())
	}

	for i, reward := range step.Rewards {
		r.currentReturns[i] += reward
		if step.Dones[i] {
			r.episodeReturns = append(r.episodeReturns,
				r.currentReturns[i])
			r.currentReturns[i] = 0.0
		}
	}
}

// Save saves the data tracked by the Return Tracker to disk
func (r *Return) Save() error {
	file, err := os.Create(r.filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(r.episodeReturns); err != nil {
		return fmt.Errorf("save: could not encode return data: %v", err)
	}
	return nil
}
