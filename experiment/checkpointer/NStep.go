package checkpointer

import "fmt"

// nStep implements checkpointing every N steps
type nStep struct {
	interval int
	object   Serializable

	// filename returns the filename of the file to save the object in.
	// Use FileEnumerator to save each checkpoint to a separate,
	// numbered file.
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints every n steps
func NewNStep(n int, object Serializable,
	filename func() string) (Checkpointer, error) {
	if n < 1 {
		return nil, fmt.Errorf("newNStep: checkpoint interval must be "+
			"positive \n\thave(%v)", n)
	}
	return &nStep{
		interval: n,
		object:   object,
		filename: filename,
	}, nil
}

// Checkpoint saves the tracked object if a checkpoint is due on this
// step
func (n *nStep) Checkpoint(step int) error {
	if step != 0 && step%n.interval == 0 {
		return save(n.object, n.filename())
	}
	return nil
}

// FileEnumerator returns a function generating numbered filenames:
// base1.extension, base2.extension, and so on, incrementing on each
// call.
func FileEnumerator(base, extension string) func() string {
	count := 0
	return func() string {
		count++
		return fmt.Sprintf("%v%d.%v", base, count, extension)
	}
}
