package ppo

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"

	"github.com/max52015/microrts-ppo/environment"
	"github.com/max52015/microrts-ppo/environment/gridrts"
	"github.com/max52015/microrts-ppo/initwfn"
	"github.com/max52015/microrts-ppo/network"
	"github.com/max52015/microrts-ppo/solver"
)

func validConfig(t *testing.T) Config {
	t.Helper()

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatal(err)
	}
	sol, err := solver.NewDefaultAdam(2.5e-4, 1)
	if err != nil {
		t.Fatal(err)
	}

	return Config{
		HiddenSizes: []int{16},
		Biases:      []bool{true},
		Activations: []*network.Activation{network.TanH()},
		InitWFn:     init,
		Solver:      sol,

		EpsilonClip: 0.2,
		EntropyCoef: 0.01,
		ValueCoef:   0.5,

		Gamma:  0.99,
		Lambda: 0.95,

		NumSteps:       8,
		UpdateEpochs:   2,
		NumMinibatches: 2,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Errorf("valid configuration rejected: %v", err)
	}

	broken := []struct {
		name   string
		modify func(*Config)
	}{
		{"no hidden layers", func(c *Config) { c.HiddenSizes = nil }},
		{"bias count mismatch", func(c *Config) { c.Biases = nil }},
		{"activation count mismatch",
			func(c *Config) { c.Activations = nil }},
		{"no initializer", func(c *Config) { c.InitWFn = nil }},
		{"no solver", func(c *Config) { c.Solver = nil }},
		{"non-positive clip", func(c *Config) { c.EpsilonClip = 0 }},
		{"discount out of range", func(c *Config) { c.Gamma = 1.5 }},
		{"lambda out of range", func(c *Config) { c.Lambda = -0.1 }},
		{"no rollout steps", func(c *Config) { c.NumSteps = 0 }},
		{"no update epochs", func(c *Config) { c.UpdateEpochs = 0 }},
		{"no minibatches", func(c *Config) { c.NumMinibatches = 0 }},
		{"rollback without KL target",
			func(c *Config) { c.RollbackOnKL = true }},
		{"annealing without horizon",
			func(c *Config) { c.AnnealLR = true }},
	}
	for _, test := range broken {
		config := validConfig(t)
		test.modify(&config)
		if err := config.Validate(); err == nil {
			t.Errorf("%v: expected validation error", test.name)
		}
	}
}

func TestGather(t *testing.T) {
	src := []float64{
		0, 1,
		2, 3,
		4, 5,
	}

	out := gather(src, []int{2, 0}, 2)
	expected := []float64{4, 5, 0, 1}
	for i, want := range expected {
		if out[i] != want {
			t.Errorf("index %v \n\twant(%v)\n\thave(%v)", i, want,
				out[i])
		}
	}

	// Gathering must copy: mutating the output leaves the source
	// untouched
	out[0] = -1
	if src[4] != 4 {
		t.Error("gather aliased its source")
	}
}

func TestNormalize(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	normalize(vals)

	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	if math.Abs(mean) > 1e-10 {
		t.Errorf("normalized mean \n\twant(0)\n\thave(%v)", mean)
	}

	if vals[0] >= vals[4] {
		t.Error("normalization should preserve ordering")
	}
}

// TestLossGraphBuilds checks that the optimization objective can be
// added to a training network's graph and its gradients bound.
func TestLossGraphBuilds(t *testing.T) {
	space, err := environment.NewActionSpace([]int{4, 3})
	if err != nil {
		t.Fatal(err)
	}

	net, err := network.NewActorCriticMLP(5, 4, space.Total(),
		G.NewGraph(), []int{8}, []bool{true}, G.GlorotU(1.0),
		[]*network.Activation{network.TanH()})
	if err != nil {
		t.Fatal(err)
	}

	loss, err := newLossGraph(net, space, 0.2, 0.5, 0.01, true)
	if err != nil {
		t.Fatal(err)
	}
	defer loss.Close()

	if _, err := newLossGraph(net, space, 0, 0.5, 0.01, false); err == nil {
		t.Error("non-positive clipping radius should be rejected")
	}
}

// TestStepFullUpdates drives the agent through two complete rollout
// and optimization cycles on a small grid environment: the backward
// pass, the solver step, the approximate-KL check, the rollback
// snapshot, learning-rate annealing, and the behaviour-policy weight
// sync all run for real.
func TestStepFullUpdates(t *testing.T) {
	envConfig := gridrts.Config{
		Rows:         3,
		Cols:         3,
		NumResources: 2,
		MaxSteps:     8,
		NumEnvs:      2,
	}
	env, err := gridrts.New(envConfig, 13)
	if err != nil {
		t.Fatal(err)
	}

	config := validConfig(t)
	config.TargetKL = 0.05
	config.RollbackOnKL = true
	config.AnnealLR = true
	config.TotalUpdates = 2

	agent, err := New(env, config, 13)
	if err != nil {
		t.Fatal(err)
	}

	obs, err := env.Reset()
	if err != nil {
		t.Fatal(err)
	}
	if err := agent.ObserveFirst(obs); err != nil {
		t.Fatal(err)
	}

	const wantUpdates = 2
	for step := 0; step < wantUpdates*config.NumSteps; step++ {
		sample, err := agent.SelectActions(obs)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		ts, err := env.Step(sample.Actions)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if err := agent.Observe(sample, ts); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if err := agent.Step(); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		obs = ts.Observations
	}

	if agent.Updates() != wantUpdates {
		t.Errorf("incorrect update count \n\twant(%v)\n\thave(%v)",
			wantUpdates, agent.Updates())
	}

	// The synced behaviour policy must still produce usable actions
	sample, err := agent.SelectActions(obs)
	if err != nil {
		t.Fatal(err)
	}
	for i, lp := range sample.LogProbs {
		if math.IsNaN(lp) || math.IsInf(lp, 0) {
			t.Errorf("non-finite log probability for sub-environment "+
				"%v: %v", i, lp)
		}
	}
}
