package ppo

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/max52015/microrts-ppo/agent/policy"
	"github.com/max52015/microrts-ppo/environment"
	"github.com/max52015/microrts-ppo/network"
	"github.com/max52015/microrts-ppo/solver"
)

// lossGraph adds the clipped surrogate objective to the computation
// graph of a training network and owns the virtual machine that runs
// it. The graph re-evaluates stored actions under stored masks with
// the network's current weights, then combines the clipped policy
// loss, the (optionally clipped) value loss, and the entropy bonus
// into a single scalar whose gradients are bound to the network's
// learnables.
//
// All clipping is expressed with rectifier compositions
// (max(a, b) = b + relu(a - b) and min(a, b) = a - relu(a - b)) so the
// graph stays differentiable with the usual saturation subgradients.
type lossGraph struct {
	net   network.NeuralNet
	vm    G.VM
	space *environment.ActionSpace

	// Inputs fed per minibatch
	masks         *G.Node // [batch, space.Total()]
	penalties     *G.Node // [batch, space.Total()]
	actionsOneHot *G.Node // [batch, space.Total()]
	oldLogProbs   *G.Node // [batch]
	advantages    *G.Node // [batch]
	returns       *G.Node // [batch]
	oldValues     *G.Node // [batch]

	lossVal        G.Value
	newLogProbsVal G.Value

	// CPU copy of the last fed behaviour log-probabilities, kept to
	// estimate the KL divergence after a step
	lastOldLogProbs []float64
}

// newLossGraph builds the optimization objective on net's graph. The
// network's batch size fixes the minibatch size the graph accepts.
func newLossGraph(net network.NeuralNet,
	space *environment.ActionSpace, epsilonClip, valueCoef,
	entropyCoef float64, clipValueLoss bool) (*lossGraph, error) {
	if epsilonClip <= 0 {
		return nil, fmt.Errorf("newLossGraph: epsilonClip must be "+
			"positive \n\thave(%v)", epsilonClip)
	}

	g := net.Graph()
	batch := net.BatchSize()
	total := space.Total()

	l := &lossGraph{
		net:   net,
		space: space,
		masks: G.NewMatrix(g, tensor.Float64,
			G.WithShape(batch, total), G.WithName("masks"),
			G.WithInit(G.Ones())),
		penalties: G.NewMatrix(g, tensor.Float64,
			G.WithShape(batch, total), G.WithName("penalties"),
			G.WithInit(G.Zeroes())),
		actionsOneHot: G.NewMatrix(g, tensor.Float64,
			G.WithShape(batch, total), G.WithName("actionsOneHot"),
			G.WithInit(G.Zeroes())),
		oldLogProbs: G.NewVector(g, tensor.Float64,
			G.WithShape(batch), G.WithName("oldLogProbs"),
			G.WithInit(G.Zeroes())),
		advantages: G.NewVector(g, tensor.Float64,
			G.WithShape(batch), G.WithName("advantages"),
			G.WithInit(G.Zeroes())),
		returns: G.NewVector(g, tensor.Float64,
			G.WithShape(batch), G.WithName("returns"),
			G.WithInit(G.Zeroes())),
		oldValues: G.NewVector(g, tensor.Float64,
			G.WithShape(batch), G.WithName("oldValues"),
			G.WithInit(G.Zeroes())),
	}

	logits := net.Prediction()[0]
	values := net.Prediction()[1]

	newLogProbs, entropy, err := policy.MaskedLogProbEntropy(logits,
		l.masks, l.penalties, l.actionsOneHot, space)
	if err != nil {
		return nil, fmt.Errorf("newLossGraph: could not compute "+
			"log-probabilities: %v", err)
	}
	G.Read(newLogProbs, &l.newLogProbsVal)

	// Clipped surrogate policy objective
	logRatio := G.Must(G.Sub(newLogProbs, l.oldLogProbs))
	ratio := G.Must(G.Exp(logRatio))

	negAdvantages := G.Must(G.Neg(l.advantages))
	pgLoss1 := G.Must(G.HadamardProd(negAdvantages, ratio))
	pgLoss2 := G.Must(G.HadamardProd(negAdvantages,
		clip(ratio, 1-epsilonClip, 1+epsilonClip)))
	pgLoss := G.Must(G.Mean(elemMax(pgLoss1, pgLoss2)))

	// Value loss, optionally clipped around the behaviour values
	vErr := G.Must(G.Sub(values, l.returns))
	vLoss := G.Must(G.Square(vErr))
	if clipValueLoss {
		vDiff := G.Must(G.Sub(values, l.oldValues))
		vClipped := G.Must(G.Add(l.oldValues,
			clip(vDiff, -epsilonClip, epsilonClip)))
		vErrClipped := G.Must(G.Sub(vClipped, l.returns))
		vLossClipped := G.Must(G.Square(vErrClipped))
		vLoss = elemMax(vLoss, vLossClipped)
	}
	half := G.NewConstant(0.5)
	valueLoss := G.Must(G.Mul(half, G.Must(G.Mean(vLoss))))

	entropyLoss := G.Must(G.Mean(entropy))

	loss := G.Must(G.Sub(pgLoss,
		G.Must(G.Mul(G.NewConstant(entropyCoef), entropyLoss))))
	loss = G.Must(G.Add(loss,
		G.Must(G.Mul(G.NewConstant(valueCoef), valueLoss))))
	G.Read(loss, &l.lossVal)

	if _, err := G.Grad(loss, net.Learnables()...); err != nil {
		return nil, fmt.Errorf("newLossGraph: could not compute "+
			"gradient: %v", err)
	}

	l.vm = G.NewTapeMachine(g,
		G.BindDualValues(net.Learnables()...))
	return l, nil
}

// feed loads one minibatch into the graph's input nodes. All slices
// are row-major with one row per transition: obs [batch, features],
// actions [batch, numComponents], masks [batch, space.Total()], and
// the remaining slices have one entry per transition.
func (l *lossGraph) feed(obs, actions, masks, oldLogProbs, advantages,
	returns, oldValues []float64) error {
	if err := l.net.SetInput(obs); err != nil {
		return fmt.Errorf("feed: could not set observations: %v", err)
	}

	oneHot, err := policy.ActionsOneHot(actions, l.space)
	if err != nil {
		return fmt.Errorf("feed: %v", err)
	}
	penalties := policy.MaskPenalties(masks)

	batch := l.net.BatchSize()
	total := l.space.Total()

	matrices := []struct {
		node *G.Node
		data []float64
	}{
		{l.masks, masks},
		{l.penalties, penalties},
		{l.actionsOneHot, oneHot},
	}
	for _, m := range matrices {
		if len(m.data) != batch*total {
			return fmt.Errorf("feed: illegal %v length \n\twant(%v)"+
				"\n\thave(%v)", m.node.Name(), batch*total, len(m.data))
		}
		err := G.Let(m.node, tensor.New(tensor.WithShape(batch, total),
			tensor.WithBacking(m.data)))
		if err != nil {
			return fmt.Errorf("feed: could not set %v: %v",
				m.node.Name(), err)
		}
	}

	vectors := []struct {
		node *G.Node
		data []float64
	}{
		{l.oldLogProbs, oldLogProbs},
		{l.advantages, advantages},
		{l.returns, returns},
		{l.oldValues, oldValues},
	}
	for _, v := range vectors {
		if len(v.data) != batch {
			return fmt.Errorf("feed: illegal %v length \n\twant(%v)"+
				"\n\thave(%v)", v.node.Name(), batch, len(v.data))
		}
		err := G.Let(v.node, tensor.New(tensor.WithShape(batch),
			tensor.WithBacking(v.data)))
		if err != nil {
			return fmt.Errorf("feed: could not set %v: %v",
				v.node.Name(), err)
		}
	}

	l.lastOldLogProbs = oldLogProbs
	return nil
}

// step runs the loss graph forward and backward on the last fed
// minibatch and applies the gradients with the given solver. It
// returns the scalar loss and the estimated KL divergence between the
// behaviour policy and the updated policy,
// mean(oldLogProb - newLogProb).
func (l *lossGraph) step(s *solver.Solver) (loss, approxKL float64,
	err error) {
	if err := l.vm.RunAll(); err != nil {
		return 0, 0, fmt.Errorf("step: could not run loss graph: %v",
			err)
	}

	loss = l.lossVal.Data().(float64)
	newLogProbs := l.newLogProbsVal.Data().([]float64)
	for i, old := range l.lastOldLogProbs {
		approxKL += old - newLogProbs[i]
	}
	approxKL /= float64(len(l.lastOldLogProbs))

	if err := s.Step(l.net.Model()); err != nil {
		return 0, 0, fmt.Errorf("step: could not apply gradients: %v",
			err)
	}
	l.vm.Reset()

	return loss, approxKL, nil
}

// Close releases the loss graph's virtual machine
func (l *lossGraph) Close() error {
	return l.vm.Close()
}

// elemMax computes the elementwise maximum of two nodes as
// b + relu(a - b)
func elemMax(a, b *G.Node) *G.Node {
	return G.Must(G.Add(b, G.Must(G.Rectify(G.Must(G.Sub(a, b))))))
}

// clip bounds a node's elements to [lower, upper] as
// min(max(x, lower), upper), with max and min expressed through
// rectifiers
func clip(x *G.Node, lower, upper float64) *G.Node {
	lo := G.NewConstant(lower)
	hi := G.NewConstant(upper)

	clipped := G.Must(G.Add(lo,
		G.Must(G.Rectify(G.Must(G.Sub(x, lo))))))
	return G.Must(G.Sub(clipped,
		G.Must(G.Rectify(G.Must(G.Sub(clipped, hi))))))
}
