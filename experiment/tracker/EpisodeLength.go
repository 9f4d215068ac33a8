package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/max52015/microrts-ppo/timestep"
)

// EpisodeLength tracks and saves the episode lengths in an experiment
// over a vectorized environment, in episode completion order
type EpisodeLength struct {
	currentLengths []float64
	episodeLengths []float64
	filename       string
}

// NewEpisodeLength creates and returns a new EpisodeLength Tracker
// that saves to the given file
func NewEpisodeLength(filename string) Tracker {
	return &EpisodeLength{filename: filename}
}

// Track counts the step for every running episode, recording lengths
// of episodes that ended on this step
func (e *EpisodeLength) Track(step timestep.VecTimeStep) {
	if e.currentLengths == nil {
		e.currentLengths = make([]float64, step.NumEnvs())
	}

	for i := range step.Dones {
		e.currentLengths[i]++
		if step.Dones[i] {
			e.episodeLengths = append(e.episodeLengths,
				e.currentLengths[i])
			e.currentLengths[i] = 0.0
		}
	}
}

// Save saves the data tracked by the EpisodeLength Tracker to disk
func (e *EpisodeLength) Save() error {
	file, err := os.Create(e.filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(e.episodeLengths); err != nil {
		return fmt.Errorf("save: could not encode episode length "+
			"data: %v", err)
	}
	return nil
}
