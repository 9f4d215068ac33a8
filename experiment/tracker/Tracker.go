// Package tracker implements Trackers, which track and save data
// generated while an experiment runs
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/max52015/microrts-ppo/timestep"
)

// Tracker keeps track of experiment data and saves the data after the
// experiment has finished. Experiments call Track on every vectorized
// timestep in order.
type Tracker interface {
	Track(step timestep.VecTimeStep)
	Save() error
}

// LoadData loads and returns the data saved by a Tracker
func LoadData(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadData: could not open data file: %v",
			err)
	}
	defer file.Close()

	var data []float64
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("loadData: could not decode data: %v",
			err)
	}

	return data, nil
}
