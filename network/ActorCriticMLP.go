package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// actorCriticMLP implements a multi-layered perceptron with a shared
// trunk and two output heads: an actor head predicting one flat logit
// vector per batch row, and a critic head predicting one state value
// per batch row. Prediction()[0] is the logits node, shaped
// [batch, numLogits]; Prediction()[1] is the values node, shaped
// [batch].
type actorCriticMLP struct {
	g      *G.ExprGraph
	trunk  []Layer
	actor  Layer
	critic Layer
	input  *G.Node

	numLogits int
	numInputs int
	batchSize int

	// Data needed for gobbing
	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	logits    *G.Node
	values    *G.Node
	logitsVal G.Value
	valuesVal G.Value
}

// NewActorCriticMLP creates and returns a new actor-critic multi-layered
// perceptron with a shared trunk. The graph parameter g is populated
// with the network.
//
// The trunk has len(hiddenSizes) layers. For index i, hiddenSizes[i]
// is the number of nodes in hidden layer i; biases[i] is true if the
// hidden layer contains a bias unit; and activations[i] is the
// activation function for hidden layer i. The actor and critic heads
// are linear layers with bias units and no activations, projecting the
// final trunk layer to numLogits outputs and 1 output respectively.
// The parameter init determines the weight initialization scheme.
func NewActorCriticMLP(features, batch, numLogits int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	if len(hiddenSizes) == 0 {
		return nil, fmt.Errorf("newActorCriticMLP: at least one hidden " +
			"layer required")
	}

	// Ensure we have one activation per layer
	if len(hiddenSizes) != len(activations) {
		msg := "newActorCriticMLP: invalid number of activations" +
			"\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}

	// Ensure one bias bool per layer
	if len(hiddenSizes) != len(biases) {
		msg := "newActorCriticMLP: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}

	// Set up the input node
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	trunk := addfcLayers(g, hiddenSizes, biases, activations, init,
		features, "Trunk")
	lastHidden := hiddenSizes[len(hiddenSizes)-1]
	actor := newFCLayer(g, lastHidden, numLogits, true, init, Identity(),
		"Actor")
	critic := newFCLayer(g, lastHidden, 1, true, init, Identity(),
		"Critic")

	net := actorCriticMLP{
		g:           g,
		trunk:       trunk,
		actor:       actor,
		critic:      critic,
		input:       input,
		numLogits:   numLogits,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}
	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("newActorCriticMLP: could not compute "+
			"forward pass: %v", err)
	}

	return &net, nil
}

// fwd performs the forward pass of the actorCriticMLP on the input
// node
func (e *actorCriticMLP) fwd(input *G.Node) error {
	hidden := input
	var err error
	for i, l := range e.trunk {
		if hidden, err = l.fwd(hidden); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"trunk layer %v: %v", i, err)
		}
	}

	logits, err := e.actor.fwd(hidden)
	if err != nil {
		return fmt.Errorf("fwd: could not compute actor head: %v", err)
	}

	values, err := e.critic.fwd(hidden)
	if err != nil {
		return fmt.Errorf("fwd: could not compute critic head: %v", err)
	}
	// Squeeze the critic head from [batch, 1] to [batch]
	values = G.Must(G.Reshape(values, tensor.Shape{e.batchSize}))

	e.logits = logits
	e.values = values
	G.Read(e.logits, &e.logitsVal)
	G.Read(e.values, &e.valuesVal)

	return nil
}

// Graph returns the computational graph of the actorCriticMLP
func (e *actorCriticMLP) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones an actorCriticMLP
func (e *actorCriticMLP) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithBatch clones an actorCriticMLP with a new input batch size.
// Weight values are carried over to the clone.
func (e *actorCriticMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	trunk := make([]Layer, len(e.trunk))
	for i := range e.trunk {
		trunk[i] = e.trunk[i].CloneTo(graph)
	}

	net := actorCriticMLP{
		g:           graph,
		trunk:       trunk,
		actor:       e.actor.CloneTo(graph),
		critic:      e.critic.CloneTo(graph),
		input:       input,
		numLogits:   e.numLogits,
		numInputs:   e.numInputs,
		batchSize:   batchSize,
		hiddenSizes: e.hiddenSizes,
		biases:      e.biases,
		activations: e.activations,
	}
	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("cloneWithBatch: could not compute "+
			"forward pass: %v", err)
	}

	return &net, nil
}

// BatchSize returns the batch size of inputs to the network
func (e *actorCriticMLP) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single observation
// vector that the network takes as input
func (e *actorCriticMLP) Features() int {
	return e.numInputs
}

// Outputs returns the length of the flat logit vector predicted by the
// actor head
func (e *actorCriticMLP) Outputs() int {
	return e.numLogits
}

// SetInput sets the value of the input node before running the forward
// pass
func (e *actorCriticMLP) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		return fmt.Errorf("setInput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", e.numInputs*e.batchSize,
			len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set sets the weights of an actorCriticMLP to be equal to the
// weights of another actorCriticMLP
func (e *actorCriticMLP) Set(source NeuralNet) error {
	sourceNodes := source.Learnables()
	nodes := e.Learnables()
	if len(sourceNodes) != len(nodes) {
		return fmt.Errorf("set: source has %v learnables but dest has %v",
			len(sourceNodes), len(nodes))
	}
	for i, destLearnable := range nodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return err
		}
	}
	return nil
}

// Polyak sets the weights of an actorCriticMLP to be a Polyak
// average between its existing weights and the weights of another
// actorCriticMLP
func (e *actorCriticMLP) Polyak(source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	nodes := e.Learnables()
	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return err
		}
	}
	return nil
}

// Learnables returns the learnable nodes in an actorCriticMLP
func (e *actorCriticMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		e.learnables = e.computeLearnables()
	}
	return e.learnables
}

// computeLearnables computes all the learnables for the network
func (e *actorCriticMLP) computeLearnables() G.Nodes {
	layers := append([]Layer{}, e.trunk...)
	layers = append(layers, e.actor, e.critic)

	learnables := make([]*G.Node, 0, 2*len(layers))
	for _, layer := range layers {
		learnables = append(learnables, layer.Weights())
		if bias := layer.Bias(); bias != nil {
			learnables = append(learnables, bias)
		}
	}
	return G.Nodes(learnables)
}

// Model returns the learnable nodes with their gradients
func (e *actorCriticMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		e.model = e.computeModel()
	}
	return e.model
}

// computeModel computes the model for the network
func (e *actorCriticMLP) computeModel() []G.ValueGrad {
	model := make([]G.ValueGrad, 0, len(e.Learnables()))
	for _, node := range e.Learnables() {
		model = append(model, node)
	}
	return model
}

// Output returns the last computed output of the actorCriticMLP:
// the logit values followed by the state values
func (e *actorCriticMLP) Output() []G.Value {
	return []G.Value{e.logitsVal, e.valuesVal}
}

// Prediction returns the nodes of the computational graph that store
// the outputs of the actorCriticMLP: the logits node followed by the
// values node
func (e *actorCriticMLP) Prediction() []*G.Node {
	return []*G.Node{e.logits, e.values}
}

// GobEncode implements the gob.GobEncoder interface
func (e *actorCriticMLP) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(e.numLogits); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of " +
			"logits")
	}
	if err := enc.Encode(e.numInputs); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode number of " +
			"inputs")
	}
	if err := enc.Encode(e.batchSize); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode batch size")
	}
	if err := enc.Encode(e.hiddenSizes); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode hidden sizes")
	}
	if err := enc.Encode(e.biases); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode biases")
	}
	if err := enc.Encode(e.activations); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode activations")
	}

	layers := append([]Layer{}, e.trunk...)
	layers = append(layers, e.actor, e.critic)
	for i, layer := range layers {
		fc, ok := layer.(*fcLayer)
		if !ok {
			return nil, fmt.Errorf("gobencode: layer %v is not an fcLayer",
				i)
		}
		if err := enc.Encode(fc); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode layer "+
				"%v: %v", i, err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface
func (e *actorCriticMLP) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var numLogits int
	if err := dec.Decode(&numLogits); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of logits")
	}

	var numInputs int
	if err := dec.Decode(&numInputs); err != nil {
		return fmt.Errorf("gobdecode: could not decode number of inputs")
	}

	var batchSize int
	if err := dec.Decode(&batchSize); err != nil {
		return fmt.Errorf("gobdecode: could not decode batch size")
	}

	var hiddenSizes []int
	if err := dec.Decode(&hiddenSizes); err != nil {
		return fmt.Errorf("gobdecode: could not decode hidden sizes")
	}

	var biases []bool
	if err := dec.Decode(&biases); err != nil {
		return fmt.Errorf("gobdecode: could not decode biases")
	}

	var activations []*Activation
	if err := dec.Decode(&activations); err != nil {
		return fmt.Errorf("gobdecode: could not decode activations")
	}

	g := G.NewGraph()
	newNet, err := NewActorCriticMLP(numInputs, batchSize, numLogits, g,
		hiddenSizes, biases, G.Zeroes(), activations)
	if err != nil {
		return fmt.Errorf("gobdecode: could not construct new network: %v",
			err)
	}
	decoded, ok := newNet.(*actorCriticMLP)
	if !ok {
		return fmt.Errorf("gobdecode: NewActorCriticMLP() returned " +
			"type != actorCriticMLP")
	}

	layers := append([]Layer{}, decoded.trunk...)
	layers = append(layers, decoded.actor, decoded.critic)
	for i, layer := range layers {
		if err := dec.Decode(layer.(*fcLayer)); err != nil {
			return fmt.Errorf("gobdecode: could not decode layer %v: %v",
				i, err)
		}
	}

	*e = *decoded
	return nil
}
