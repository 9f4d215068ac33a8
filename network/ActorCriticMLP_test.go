package network

import (
	"bytes"
	"encoding/gob"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func newTestNet(t *testing.T, batch int) NeuralNet {
	t.Helper()

	net, err := NewActorCriticMLP(6, batch, 7, G.NewGraph(),
		[]int{10, 8}, []bool{true, true}, G.GlorotU(1.0),
		[]*Activation{ReLU(), TanH()})
	if err != nil {
		t.Fatal(err)
	}
	return net
}

// TestActorCriticMLPShapes checks the predicted node shapes of both
// heads.
func TestActorCriticMLPShapes(t *testing.T) {
	net := newTestNet(t, 4)

	logits := net.Prediction()[0]
	if !logits.Shape().Eq(tensor.Shape{4, 7}) {
		t.Errorf("incorrect logits shape \n\twant(%v)\n\thave(%v)",
			tensor.Shape{4, 7}, logits.Shape())
	}

	values := net.Prediction()[1]
	if !values.Shape().Eq(tensor.Shape{4}) {
		t.Errorf("incorrect values shape \n\twant(%v)\n\thave(%v)",
			tensor.Shape{4}, values.Shape())
	}

	if net.BatchSize() != 4 {
		t.Errorf("incorrect batch size \n\twant(%v)\n\thave(%v)", 4,
			net.BatchSize())
	}
	if net.Features() != 6 {
		t.Errorf("incorrect features \n\twant(%v)\n\thave(%v)", 6,
			net.Features())
	}
}

// TestCloneWithBatch checks that clones carry weights onto a fresh
// graph with a new batch size.
func TestCloneWithBatch(t *testing.T) {
	net := newTestNet(t, 4)

	clone, err := net.CloneWithBatch(16)
	if err != nil {
		t.Fatal(err)
	}

	if clone.BatchSize() != 16 {
		t.Errorf("incorrect clone batch size \n\twant(%v)\n\thave(%v)",
			16, clone.BatchSize())
	}
	if clone.Graph() == net.Graph() {
		t.Error("clone should live on its own graph")
	}

	netWeights := net.Learnables()
	cloneWeights := clone.Learnables()
	if len(netWeights) != len(cloneWeights) {
		t.Fatalf("incorrect learnable count \n\twant(%v)\n\thave(%v)",
			len(netWeights), len(cloneWeights))
	}
	for i := range netWeights {
		want := netWeights[i].Value().Data().([]float64)
		have := cloneWeights[i].Value().Data().([]float64)
		for j := range want {
			if want[j] != have[j] {
				t.Fatalf("learnable %v differs at %v", i, j)
			}
		}
	}
}

// TestSet checks that Set copies weights between independently
// initialized networks.
func TestSet(t *testing.T) {
	source := newTestNet(t, 2)
	dest := newTestNet(t, 2)

	if err := dest.Set(source); err != nil {
		t.Fatal(err)
	}

	sourceWeights := source.Learnables()
	destWeights := dest.Learnables()
	for i := range sourceWeights {
		want := sourceWeights[i].Value().Data().([]float64)
		have := destWeights[i].Value().Data().([]float64)
		for j := range want {
			if want[j] != have[j] {
				t.Fatalf("learnable %v differs at %v after Set", i, j)
			}
		}
	}
}

// TestGobRoundTrip checks that a network's architecture and weights
// survive serialization.
func TestGobRoundTrip(t *testing.T) {
	net := newTestNet(t, 4)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(net); err != nil {
		t.Fatal(err)
	}

	decoded := &actorCriticMLP{}
	if err := gob.NewDecoder(&buf).Decode(decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.BatchSize() != net.BatchSize() ||
		decoded.Features() != net.Features() {
		t.Error("decoded network has a different architecture")
	}

	netWeights := net.Learnables()
	decodedWeights := decoded.Learnables()
	if len(netWeights) != len(decodedWeights) {
		t.Fatalf("incorrect learnable count \n\twant(%v)\n\thave(%v)",
			len(netWeights), len(decodedWeights))
	}
	for i := range netWeights {
		want := netWeights[i].Value().Data().([]float64)
		have := decodedWeights[i].Value().Data().([]float64)
		for j := range want {
			if want[j] != have[j] {
				t.Fatalf("learnable %v differs at %v after decoding",
					i, j)
			}
		}
	}
}
