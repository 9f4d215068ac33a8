package tracker

import (
	"path/filepath"
	"testing"

	"github.com/max52015/microrts-ppo/timestep"
)

func step(rewards []float64, dones []bool, number int) timestep.VecTimeStep {
	return timestep.New(nil, rewards, dones, number)
}

// TestReturnPerEnv checks that returns accumulate separately per
// sub-environment and are recorded in episode completion order.
func TestReturnPerEnv(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	r := NewReturn(filename)

	r.Track(step([]float64{1, 2}, []bool{false, false}, 1))
	r.Track(step([]float64{1, 2}, []bool{true, false}, 2))
	r.Track(step([]float64{5, 2}, []bool{false, true}, 3))
	r.Track(step([]float64{1, 1}, []bool{true, false}, 4))

	if err := r.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := LoadData(filename)
	if err != nil {
		t.Fatal(err)
	}

	// Env 0 finishes episodes worth 2 and 6; env 1 finishes one worth
	// 6 in between. Env 1's final episode never finishes and is not
	// saved.
	expected := []float64{2, 6, 6}
	if len(data) != len(expected) {
		t.Fatalf("incorrect number of returns \n\twant(%v)\n\thave(%v)",
			len(expected), len(data))
	}
	for i, want := range expected {
		if data[i] != want {
			t.Errorf("return %v \n\twant(%v)\n\thave(%v)", i, want,
				data[i])
		}
	}
}

// TestEpisodeLength checks episode length counting across
// sub-environments.
func TestEpisodeLength(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "lengths.bin")
	e := NewEpisodeLength(filename)

	e.Track(step([]float64{0, 0}, []bool{false, false}, 1))
	e.Track(step([]float64{0, 0}, []bool{true, false}, 2))
	e.Track(step([]float64{0, 0}, []bool{true, true}, 3))

	if err := e.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := LoadData(filename)
	if err != nil {
		t.Fatal(err)
	}

	expected := []float64{2, 1, 3}
	if len(data) != len(expected) {
		t.Fatalf("incorrect number of lengths \n\twant(%v)\n\thave(%v)",
			len(expected), len(data))
	}
	for i, want := range expected {
		if data[i] != want {
			t.Errorf("length %v \n\twant(%v)\n\thave(%v)", i, want,
				data[i])
		}
	}
}
