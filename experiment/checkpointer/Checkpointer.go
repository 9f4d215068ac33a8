// Package checkpointer implements periodic saving of serializable
// objects, such as policy networks, while an experiment runs
package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Serializable is an object that can be saved/serialized
type Serializable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// Checkpointer saves serializable objects based on the experiment's
// step counter
type Checkpointer interface {
	Checkpoint(step int) error
}

// save gob-encodes an object into a file
func save(object Serializable, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not open checkpoint file: %v",
			err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(object); err != nil {
		return fmt.Errorf("save: could not encode object: %v", err)
	}
	return nil
}

// Load gob-decodes a checkpoint file into an object. The object must
// already have the concrete type that was checkpointed.
func Load(filename string, object Serializable) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("load: could not open checkpoint file: %v",
			err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(object); err != nil {
		return fmt.Errorf("load: could not decode object: %v", err)
	}
	return nil
}
