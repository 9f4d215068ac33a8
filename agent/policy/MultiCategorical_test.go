package policy

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/max52015/microrts-ppo/distribution"
	"github.com/max52015/microrts-ppo/environment"
	"github.com/max52015/microrts-ppo/network"
)

const tolerance float64 = 1e-10

// stubMasker returns fixed masks, replicated across sub-environments,
// and records how it was queried
type stubMasker struct {
	numEnvs    int
	sourceMask []float64
	paramMask  []float64

	sourceQueried bool
	orderViolated bool
	gotSources    []int
}

func (s *stubMasker) SourceUnitMasks() (*tensor.Dense, error) {
	s.sourceQueried = true

	data := make([]float64, 0, s.numEnvs*len(s.sourceMask))
	for i := 0; i < s.numEnvs; i++ {
		data = append(data, s.sourceMask...)
	}
	return tensor.New(
		tensor.WithShape(s.numEnvs, len(s.sourceMask)),
		tensor.WithBacking(data),
	), nil
}

func (s *stubMasker) UnitActionMasks(sources []int) (*tensor.Dense,
	error) {
	if !s.sourceQueried {
		s.orderViolated = true
	}
	s.gotSources = append([]int{}, sources...)

	data := make([]float64, 0, s.numEnvs*len(s.paramMask))
	for i := 0; i < s.numEnvs; i++ {
		data = append(data, s.paramMask...)
	}
	return tensor.New(
		tensor.WithShape(s.numEnvs, len(s.paramMask)),
		tensor.WithBacking(data),
	), nil
}

// newTestPolicy builds a small policy over a [4, 3] action space
func newTestPolicy(t *testing.T, masker environment.ActionMasker,
	numEnvs int) (*MultiCategorical, *tensor.Dense) {
	t.Helper()

	space, err := environment.NewActionSpace([]int{4, 3})
	if err != nil {
		t.Fatal(err)
	}

	const features = 5
	pol, err := NewMultiCategorical(space, masker, features, numEnvs,
		[]int{8}, []bool{true}, G.GlorotU(1.0),
		[]*network.Activation{network.TanH()}, 42)
	if err != nil {
		t.Fatal(err)
	}

	obsData := make([]float64, numEnvs*features)
	for i := range obsData {
		obsData[i] = float64(i%features) / features
	}
	obs := tensor.New(
		tensor.WithShape(numEnvs, features),
		tensor.WithBacking(obsData),
	)

	return pol, obs
}

// TestSelectActionsTwoStage checks the sampling protocol: the source
// mask is queried first, the parameter mask is queried with the
// sampled sources, and every sampled component respects its mask.
func TestSelectActionsTwoStage(t *testing.T) {
	masker := &stubMasker{
		numEnvs:    2,
		sourceMask: []float64{0, 0, 1, 0}, // source forced to 2
		paramMask:  []float64{1, 1, 0},
	}
	pol, obs := newTestPolicy(t, masker, 2)
	defer pol.Close()

	sample, err := pol.SelectActions(obs)
	if err != nil {
		t.Fatal(err)
	}

	if masker.orderViolated {
		t.Error("parameter masks queried before source masks")
	}
	for i, source := range masker.gotSources {
		if source != 2 {
			t.Errorf("sub-environment %v: parameter masks queried "+
				"with source %v, sampled source was 2", i, source)
		}
	}

	actions := sample.Actions.Data().([]float64)
	for b := 0; b < 2; b++ {
		if actions[b*2] != 2 {
			t.Errorf("sub-environment %v sampled masked-out source %v",
				b, actions[b*2])
		}
		if param := actions[b*2+1]; param != 0 && param != 1 {
			t.Errorf("sub-environment %v sampled masked-out parameter "+
				"%v", b, param)
		}

		if math.IsInf(sample.LogProbs[b], 0) ||
			math.IsNaN(sample.LogProbs[b]) {
			t.Errorf("sub-environment %v has non-finite joint "+
				"log-probability %v", b, sample.LogProbs[b])
		}
	}

	// The returned mask concatenates the source and parameter rows
	expected := []float64{0, 0, 1, 0, 1, 1, 0}
	masks := sample.Masks.Data().([]float64)
	for b := 0; b < 2; b++ {
		for i, want := range expected {
			if masks[b*7+i] != want {
				t.Errorf("sub-environment %v mask index %v "+
					"\n\twant(%v)\n\thave(%v)", b, i, want,
					masks[b*7+i])
			}
		}
	}
}

// TestEvaluateRoundTrip checks that re-evaluating freshly sampled
// actions under their returned masks reproduces the joint
// log-probabilities and entropies from sampling.
func TestEvaluateRoundTrip(t *testing.T) {
	masker := &stubMasker{
		numEnvs:    3,
		sourceMask: []float64{1, 0, 1, 1},
		paramMask:  []float64{1, 1, 1},
	}
	pol, obs := newTestPolicy(t, masker, 3)
	defer pol.Close()

	sample, err := pol.SelectActions(obs)
	if err != nil {
		t.Fatal(err)
	}

	evaluated, err := pol.Evaluate(obs, sample.Actions, sample.Masks)
	if err != nil {
		t.Fatal(err)
	}

	for b := 0; b < 3; b++ {
		if math.Abs(sample.LogProbs[b]-evaluated.LogProbs[b]) >
			tolerance {
			t.Errorf("sub-environment %v log-probability "+
				"\n\twant(%v)\n\thave(%v)", b, sample.LogProbs[b],
				evaluated.LogProbs[b])
		}
		if math.Abs(sample.Entropies[b]-evaluated.Entropies[b]) >
			tolerance {
			t.Errorf("sub-environment %v entropy \n\twant(%v)"+
				"\n\thave(%v)", b, sample.Entropies[b],
				evaluated.Entropies[b])
		}
		if math.Abs(sample.Values[b]-evaluated.Values[b]) > tolerance {
			t.Errorf("sub-environment %v value \n\twant(%v)"+
				"\n\thave(%v)", b, sample.Values[b],
				evaluated.Values[b])
		}
	}
}

// TestSelectActionsAllMasked checks that an environment claiming no
// legal source is a distinguishable, fatal error.
func TestSelectActionsAllMasked(t *testing.T) {
	masker := &stubMasker{
		numEnvs:    1,
		sourceMask: []float64{0, 0, 0, 0},
		paramMask:  []float64{1, 1, 1},
	}
	pol, obs := newTestPolicy(t, masker, 1)
	defer pol.Close()

	_, err := pol.SelectActions(obs)
	if err == nil {
		t.Fatal("sampling with an all-false source mask should fail")
	}
	if !distribution.IsAllMasked(err) {
		t.Errorf("expected an all-masked error, got: %v", err)
	}
}

// TestFromNetworkWidthMismatch checks that a network predicting the
// wrong number of logits is rejected.
func TestFromNetworkWidthMismatch(t *testing.T) {
	space, err := environment.NewActionSpace([]int{4, 3})
	if err != nil {
		t.Fatal(err)
	}

	net, err := network.NewActorCriticMLP(5, 1, space.Total()+1,
		G.NewGraph(), []int{8}, []bool{true}, G.GlorotU(1.0),
		[]*network.Activation{network.TanH()})
	if err != nil {
		t.Fatal(err)
	}

	masker := &stubMasker{numEnvs: 1}
	if _, err := FromNetwork(space, masker, net, 1); err == nil {
		t.Error("network with mismatched logit width should be " +
			"rejected")
	}
}
