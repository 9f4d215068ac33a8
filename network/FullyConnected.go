package network

import (
	"bytes"
	"encoding/gob"
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer implements a single layer of a neural network
type Layer interface {
	fwd(*G.Node) (*G.Node, error)
	CloneTo(g *G.ExprGraph) Layer
	Weights() *G.Node
	Bias() *G.Node
	Activation() *Activation
}

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFCLayer returns a new fully connected layer of in inputs and out
// outputs, adding its weights to the graph g. Bias weights are shaped
// [1, out] and broadcast along the batch dimension on the forward
// pass.
func newFCLayer(g *G.ExprGraph, in, out int, bias bool, init G.InitWFn,
	act *Activation, name string) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(in, out),
		G.WithInit(init),
		G.WithName(name+"W"),
	)

	var biasNode *G.Node
	if bias {
		biasNode = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(1, out),
			G.WithInit(G.Zeroes()),
			G.WithName(name+"B"),
		)
	}

	return &fcLayer{
		weights: weights,
		bias:    biasNode,
		act:     act,
	}
}

// addfcLayers creates the sequence of fully connected layers described
// by hiddenSizes, biases, and activations, all three of which must
// have equal lengths. The first layer takes features inputs; each
// subsequent layer takes the previous layer's outputs.
func addfcLayers(g *G.ExprGraph, hiddenSizes []int, biases []bool,
	activations []*Activation, init G.InitWFn, features int,
	prefix string) []Layer {
	layers := make([]Layer, len(hiddenSizes))

	in := features
	for i, out := range hiddenSizes {
		name := fmt.Sprintf("%vL%d", prefix, i)
		layers[i] = newFCLayer(g, in, out, biases[i], init,
			activations[i], name)
		in = out
	}
	return layers
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	if f.Weights() != nil {
		x = G.Must(G.Mul(x, f.Weights()))
	}
	if f.Bias() != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	if f.Activation() == nil || f.Activation().IsIdentity() {
		return x, nil
	}
	return f.Activation().fwd(x)
}

// CloneTo clones an fcLayer to a new computational graph
func (f *fcLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if f.Weights() != nil {
		newWeights = f.Weights().CloneTo(g)
	}
	if f.Bias() != nil {
		newBias = f.Bias().CloneTo(g)
	}

	return &fcLayer{
		weights: newWeights,
		bias:    newBias,
		act:     f.act,
	}
}

func (f *fcLayer) Activation() *Activation {
	return f.act
}

func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

func (f *fcLayer) Weights() *G.Node {
	return f.weights
}

// GobEncode implements the gob.GobEncoder interface by encoding the
// layer's weight values
func (f *fcLayer) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	weights, ok := f.weights.Value().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("gobencode: layer weights are not a " +
			"dense tensor")
	}
	if err := enc.Encode(weights); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode weights: %v",
			err)
	}

	hasBias := f.bias != nil
	if err := enc.Encode(hasBias); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode bias flag: %v",
			err)
	}
	if hasBias {
		bias, ok := f.bias.Value().(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("gobencode: layer bias is not a " +
				"dense tensor")
		}
		if err := enc.Encode(bias); err != nil {
			return nil, fmt.Errorf("gobencode: could not encode bias: %v",
				err)
		}
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface by decoding weight
// values into the layer's existing graph nodes. The layer must already
// have nodes of the encoded shapes.
func (f *fcLayer) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	weights := new(tensor.Dense)
	if err := dec.Decode(weights); err != nil {
		return fmt.Errorf("gobdecode: could not decode weights: %v", err)
	}
	if err := G.Let(f.weights, weights); err != nil {
		return fmt.Errorf("gobdecode: could not set weights: %v", err)
	}

	var hasBias bool
	if err := dec.Decode(&hasBias); err != nil {
		return fmt.Errorf("gobdecode: could not decode bias flag: %v", err)
	}
	if hasBias {
		bias := new(tensor.Dense)
		if err := dec.Decode(bias); err != nil {
			return fmt.Errorf("gobdecode: could not decode bias: %v", err)
		}
		if err := G.Let(f.bias, bias); err != nil {
			return fmt.Errorf("gobdecode: could not set bias: %v", err)
		}
	}

	return nil
}
