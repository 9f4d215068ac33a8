package main

import (
	"fmt"
	"log"

	"github.com/max52015/microrts-ppo/agent/ppo"
	"github.com/max52015/microrts-ppo/environment/gridrts"
	"github.com/max52015/microrts-ppo/experiment"
	"github.com/max52015/microrts-ppo/experiment/checkpointer"
	"github.com/max52015/microrts-ppo/experiment/tracker"
	"github.com/max52015/microrts-ppo/initwfn"
	"github.com/max52015/microrts-ppo/network"
	"github.com/max52015/microrts-ppo/solver"
)

func main() {
	var seed uint64 = 192382

	// Create the environment
	envConfig := gridrts.Config{
		Rows:         4,
		Cols:         4,
		NumResources: 3,
		MaxSteps:     64,
		NumEnvs:      8,
	}
	env, err := gridrts.New(envConfig, seed)
	if err != nil {
		log.Fatalf("could not create environment: %v", err)
	}

	// Create the learning algorithm
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		log.Fatalf("could not create weight initializer: %v", err)
	}
	sol, err := solver.NewAdam(2.5e-4, 1e-5, 0.9, 0.999, 1, 0.5)
	if err != nil {
		log.Fatalf("could not create solver: %v", err)
	}

	const totalUpdates = 100
	config := ppo.Config{
		HiddenSizes: []int{64, 64},
		Biases:      []bool{true, true},
		Activations: []*network.Activation{network.TanH(),
			network.TanH()},
		InitWFn: init,
		Solver:  sol,

		EpsilonClip:   0.1,
		EntropyCoef:   0.01,
		ValueCoef:     0.5,
		ClipValueLoss: true,

		Gamma:  0.99,
		Lambda: 0.95,

		NumSteps:       128,
		UpdateEpochs:   4,
		NumMinibatches: 4,

		NormalizeAdvantages: true,

		TargetKL:     0.03,
		RollbackOnKL: true,

		AnnealLR:     true,
		TotalUpdates: totalUpdates,
	}

	agent, err := config.CreateAgent(env, seed)
	if err != nil {
		log.Fatalf("could not create agent: %v", err)
	}

	// Checkpoint the policy network every 10 updates' worth of steps
	p := agent.(*ppo.PPO)
	check, err := checkpointer.NewNStep(10*config.NumSteps,
		p.Policy().Network().(checkpointer.Serializable),
		checkpointer.FileEnumerator("./policy", "bin"))
	if err != nil {
		log.Fatalf("could not create checkpointer: %v", err)
	}

	// Experiment
	returns := tracker.NewReturn("./data.bin")
	e := experiment.NewOnline(env, agent, totalUpdates*config.NumSteps,
		[]tracker.Tracker{returns},
		[]checkpointer.Checkpointer{check}, true)

	if err := e.Run(); err != nil {
		log.Fatalf("experiment failed: %v", err)
	}
	if err := e.Save(); err != nil {
		log.Fatalf("could not save experiment data: %v", err)
	}

	data, err := tracker.LoadData("./data.bin")
	if err != nil {
		log.Fatalf("could not load return data: %v", err)
	}
	if len(data) > 10 {
		data = data[len(data)-10:]
	}
	fmt.Println()
	fmt.Println("last episodic returns:", data)
}
