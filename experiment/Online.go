package experiment

import (
	"github.com/pkg/errors"

	"github.com/max52015/microrts-ppo/agent"
	"github.com/max52015/microrts-ppo/environment"
	"github.com/max52015/microrts-ppo/experiment/checkpointer"
	"github.com/max52015/microrts-ppo/experiment/tracker"
	"github.com/max52015/microrts-ppo/utils/progressbar"
)

// Online is an Experiment that runs an agent online on a vectorized
// environment. No offline evaluation is performed.
type Online struct {
	env   environment.VecEnvironment
	agent agent.Agent

	maxSteps      int // Vectorized steps: one per joint env step
	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer
	progress      *progressbar.ProgressBar
}

// NewOnline creates and returns a new online experiment on a given
// environment with a given agent. The experiment runs for maxSteps
// vectorized steps, so the total number of transitions generated is
// maxSteps times the number of sub-environments. If showProgress is
// true, a progress bar is printed while the experiment runs.
func NewOnline(env environment.VecEnvironment, a agent.Agent,
	maxSteps int, trackers []tracker.Tracker,
	checkpointers []checkpointer.Checkpointer,
	showProgress bool) *Online {
	var progress *progressbar.ProgressBar
	if showProgress {
		progress = progressbar.New(50, maxSteps)
	}

	return &Online{
		env:           env,
		agent:         a,
		maxSteps:      maxSteps,
		trackers:      trackers,
		checkpointers: checkpointers,
		progress:      progress,
	}
}

// Register registers a tracker.Tracker with the experiment so that
// data generated during the experiment can be tracked and saved
func (o *Online) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// Run runs the entire experiment for all timesteps
func (o *Online) Run() error {
	obs, err := o.env.Reset()
	if err != nil {
		return errors.Wrap(err, "run: could not reset environment")
	}
	if err := o.agent.ObserveFirst(obs); err != nil {
		return errors.Wrap(err, "run")
	}

	for step := 0; step < o.maxSteps; step++ {
		sample, err := o.agent.SelectActions(obs)
		if err != nil {
			return errors.Wrapf(err, "run: step %d", step)
		}

		ts, err := o.env.Step(sample.Actions)
		if err != nil {
			return errors.Wrapf(err, "run: step %d", step)
		}
		track(o.trackers, ts)

		if err := o.agent.Observe(sample, ts); err != nil {
			return errors.Wrapf(err, "run: step %d", step)
		}
		if err := o.agent.Step(); err != nil {
			return errors.Wrapf(err, "run: step %d", step)
		}

		obs = ts.Observations

		if err := checkpoint(o.checkpointers, step+1); err != nil {
			return errors.Wrapf(err, "run: step %d", step)
		}
		if o.progress != nil {
			o.progress.Increment()
			o.progress.Display()
		}
	}

	return nil
}

// Save saves all the data cached by the experiment's Trackers to disk
func (o *Online) Save() error {
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			return errors.Wrap(err, "save")
		}
	}
	return nil
}
