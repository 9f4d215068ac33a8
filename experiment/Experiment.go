// Package experiment implements functionality for running an
// experiment
package experiment

import (
	"github.com/max52015/microrts-ppo/experiment/checkpointer"
	"github.com/max52015/microrts-ppo/experiment/tracker"
	"github.com/max52015/microrts-ppo/timestep"
)

// Experiment outlines structs that can run experiments on vectorized
// environments. Run steps the environment and agent until the maximum
// step limit is reached. Experiments send every timestep to their
// tracker.Trackers; Save then writes all tracked data to disk, usually
// after the experiment has finished. New Trackers can be registered
// through the constructor or through Register.
type Experiment interface {
	Run() error

	// Save all tracked data to disk
	Save() error

	// Register adds a new tracker.Tracker to the (possibly already
	// running) experiment
	Register(t tracker.Tracker)
}

// track sends a timestep to every tracker
func track(trackers []tracker.Tracker, step timestep.VecTimeStep) {
	for _, t := range trackers {
		t.Track(step)
	}
}

// checkpoint lets every checkpointer decide whether a save is due on
// this step
func checkpoint(checkpointers []checkpointer.Checkpointer,
	step int) error {
	for _, c := range checkpointers {
		if err := c.Checkpoint(step); err != nil {
			return err
		}
	}
	return nil
}
