// Package network implements neural networks on Gorgonia computation
// graphs
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet implements a neural network whose forward pass has been
// added to a Gorgonia computation graph. Networks may predict more
// than one output head; Prediction returns one node per head, in a
// fixed order documented by the concrete type.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)
	BatchSize() int
	Features() int
	SetInput([]float64) error
	Set(NeuralNet) error
	Polyak(NeuralNet, float64) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() []G.Value
	Prediction() []*G.Node
}

// Set sets the weights of dest to the weights of source
func Set(dest, source NeuralNet) error {
	return dest.Set(source)
}

// Polyak sets the weights of dest to a Polyak average of its current
// weights and those of source: dest = (1-tau)*dest + tau*source
func Polyak(dest, source NeuralNet, tau float64) error {
	return dest.Polyak(source, tau)
}
