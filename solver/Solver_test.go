package solver

import (
	"encoding/json"
	"testing"
)

// TestSolverJSONRoundTrip checks that a Solver's type and
// configuration survive JSON serialization and that a usable Gorgonia
// solver is recreated on unmarshalling.
func TestSolverJSONRoundTrip(t *testing.T) {
	adam, err := NewAdam(1e-3, 1e-8, 0.9, 0.999, 32, 0.5)
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(adam)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Solver
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.Type != Adam {
		t.Errorf("incorrect solver type \n\twant(%v)\n\thave(%v)",
			Adam, decoded.Type)
	}
	config, ok := decoded.Config.(*AdamConfig)
	if !ok {
		t.Fatalf("decoded config has type %T, expected *AdamConfig",
			decoded.Config)
	}
	if config.StepSize != 1e-3 || config.Clip != 0.5 {
		t.Errorf("decoded config lost fields: %+v", config)
	}
	if decoded.Solver == nil {
		t.Error("unmarshalling should recreate the Gorgonia solver")
	}
}

// TestWithStepSizeScale checks learning rate annealing: the returned
// solver carries the scaled step size while the receiver keeps its
// base step size.
func TestWithStepSizeScale(t *testing.T) {
	base, err := NewDefaultAdam(1e-3, 1)
	if err != nil {
		t.Fatal(err)
	}

	annealed := base.WithStepSizeScale(0.5)
	if got := annealed.Config.(AdamConfig).StepSize; got != 5e-4 {
		t.Errorf("incorrect annealed step size \n\twant(%v)"+
			"\n\thave(%v)", 5e-4, got)
	}
	if got := base.Config.(AdamConfig).StepSize; got != 1e-3 {
		t.Errorf("base step size should be unchanged \n\twant(%v)"+
			"\n\thave(%v)", 1e-3, got)
	}
}
