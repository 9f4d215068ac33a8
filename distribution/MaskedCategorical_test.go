package distribution

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
)

const tolerance = 1e-5

// TestSampleRespectsMask ensures that Sample never draws an index
// whose mask bit is false, over many draws and an uneven mask.
func TestSampleRespectsMask(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	logits := []float64{2.0, 5.0, -1.0, 0.5, 3.0}
	mask := []bool{true, false, true, false, true}

	dist, err := NewMaskedCategorical(logits, mask)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10000; i++ {
		drawn := dist.Sample(rng)
		if !mask[drawn] {
			t.Fatalf("sampled masked-out index %v", drawn)
		}
	}
}

// TestLogProbNormalization checks that exponentiated log-probabilities
// of legal indices sum to 1.
func TestLogProbNormalization(t *testing.T) {
	logits := []float64{0.3, -2.0, 1.7, 4.2, 0.0, -0.5}
	mask := []bool{true, true, false, true, false, true}

	dist, err := NewMaskedCategorical(logits, mask)
	if err != nil {
		t.Fatal(err)
	}

	total := 0.0
	for i := 0; i < dist.Len(); i++ {
		if !mask[i] {
			continue
		}
		logP, err := dist.LogProb(i)
		if err != nil {
			t.Fatal(err)
		}
		if math.IsInf(logP, 0) || math.IsNaN(logP) {
			t.Fatalf("log-probability of legal index %v is not finite: %v",
				i, logP)
		}
		total += math.Exp(logP)
	}

	if math.Abs(total-1.0) > tolerance {
		t.Errorf("legal probabilities do not sum to 1 \n\twant(1.0)"+
			"\n\thave(%v)", total)
	}
}

// TestMaskedOutProbability checks that masked-out indices carry zero
// probability after normalization.
func TestMaskedOutProbability(t *testing.T) {
	logits := []float64{10.0, 10.0, 10.0}
	mask := []bool{false, true, false}

	dist, err := NewMaskedCategorical(logits, mask)
	if err != nil {
		t.Fatal(err)
	}

	for _, i := range []int{0, 2} {
		p, err := dist.Prob(i)
		if err != nil {
			t.Fatal(err)
		}
		if p != 0.0 {
			t.Errorf("masked-out index %v has probability %v", i, p)
		}
	}

	p, err := dist.Prob(1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p-1.0) > tolerance {
		t.Errorf("sole legal index should have probability 1, got %v", p)
	}
}

// TestEntropyBounds checks that entropy lies in [0, log(#legal)] and
// that the sentinel terms of masked-out indices contribute nothing.
func TestEntropyBounds(t *testing.T) {
	logits := []float64{1.0, -3.0, 2.5, 0.0, 7.0, -1.0, 0.25}
	mask := []bool{true, false, true, true, false, true, false}

	dist, err := NewMaskedCategorical(logits, mask)
	if err != nil {
		t.Fatal(err)
	}

	entropy := dist.Entropy()
	if entropy < 0 {
		t.Errorf("entropy is negative: %v", entropy)
	}
	if maxEntropy := math.Log(float64(dist.NumLegal())); entropy >
		maxEntropy+tolerance {
		t.Errorf("entropy exceeds log of legal count \n\twant(≤%v)"+
			"\n\thave(%v)", maxEntropy, entropy)
	}
}

// TestEntropyUniform checks that uniform logits over the legal set
// achieve the maximum entropy log(#legal) exactly.
func TestEntropyUniform(t *testing.T) {
	logits := []float64{0, 0, 0, 0}
	mask := []bool{true, false, true, true}

	dist, err := NewMaskedCategorical(logits, mask)
	if err != nil {
		t.Fatal(err)
	}

	want := math.Log(3)
	if have := dist.Entropy(); math.Abs(have-want) > tolerance {
		t.Errorf("uniform entropy \n\twant(%v)\n\thave(%v)", want, have)
	}
}

// TestAllFalseMask checks that a mask with no legal index fails with a
// distinguishable error.
func TestAllFalseMask(t *testing.T) {
	_, err := NewMaskedCategorical([]float64{1, 2, 3},
		[]bool{false, false, false})
	if err == nil {
		t.Fatal("expected error for all-false mask")
	}
	if !IsAllMasked(err) {
		t.Errorf("error is not distinguishable as all-masked: %v", err)
	}

	// Length mismatches are a different failure
	_, err = NewMaskedCategorical([]float64{1, 2, 3}, []bool{true})
	if err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
	if IsAllMasked(err) {
		t.Errorf("length mismatch misreported as all-masked: %v", err)
	}
}

// TestAllTrueMatchesUnmasked checks that an all-true mask behaves
// identically to an unmasked categorical distribution.
func TestAllTrueMatchesUnmasked(t *testing.T) {
	logits := []float64{0.1, -0.7, 2.3, 1.1}

	masked, err := NewMaskedCategorical(logits,
		[]bool{true, true, true, true})
	if err != nil {
		t.Fatal(err)
	}
	unmasked, err := NewCategorical(logits)
	if err != nil {
		t.Fatal(err)
	}

	for i := range logits {
		lpMasked, err := masked.LogProb(i)
		if err != nil {
			t.Fatal(err)
		}
		lpUnmasked, err := unmasked.LogProb(i)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(lpMasked-lpUnmasked) > tolerance {
			t.Errorf("log-probabilities differ at index %v "+
				"\n\twant(%v)\n\thave(%v)", i, lpUnmasked, lpMasked)
		}
	}

	if math.Abs(masked.Entropy()-unmasked.Entropy()) > tolerance {
		t.Errorf("entropies differ \n\twant(%v)\n\thave(%v)",
			unmasked.Entropy(), masked.Entropy())
	}
}

// TestTwoComponentScenario mirrors the joint action layout used by the
// structured policy: two components of sizes 4 and 3 with mask
// [T F T F | T T F] and uniform logits. Draws must stay in {0, 2} and
// {0, 1} at roughly even rates, and the joint log-probability of the
// action (0, 1) must be 2·log(0.5).
func TestTwoComponentScenario(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	source, err := NewMaskedCategorical([]float64{0, 0, 0, 0},
		[]bool{true, false, true, false})
	if err != nil {
		t.Fatal(err)
	}
	param, err := NewMaskedCategorical([]float64{0, 0, 0},
		[]bool{true, true, false})
	if err != nil {
		t.Fatal(err)
	}

	const draws = 10000
	sourceCounts := make([]int, source.Len())
	paramCounts := make([]int, param.Len())
	for i := 0; i < draws; i++ {
		sourceCounts[source.Sample(rng)]++
		paramCounts[param.Sample(rng)]++
	}

	if sourceCounts[1] != 0 || sourceCounts[3] != 0 {
		t.Errorf("source component drew masked-out indices: %v",
			sourceCounts)
	}
	if paramCounts[2] != 0 {
		t.Errorf("parameter component drew masked-out index: %v",
			paramCounts)
	}

	// With uniform logits each legal index should get about half the
	// draws; 4 standard deviations of slack keeps this deterministic
	// in practice.
	slack := 4.0 * math.Sqrt(draws*0.25)
	for _, count := range []int{sourceCounts[0], sourceCounts[2],
		paramCounts[0], paramCounts[1]} {
		if math.Abs(float64(count)-draws/2) > slack {
			t.Errorf("draw counts far from uniform: %v and %v",
				sourceCounts, paramCounts)
		}
	}

	lpSource, err := source.LogProb(0)
	if err != nil {
		t.Fatal(err)
	}
	lpParam, err := param.LogProb(1)
	if err != nil {
		t.Fatal(err)
	}
	want := 2 * math.Log(0.5)
	if have := lpSource + lpParam; math.Abs(have-want) > tolerance {
		t.Errorf("joint log-probability of (0, 1) \n\twant(%v)"+
			"\n\thave(%v)", want, have)
	}
}

func BenchmarkSample(b *testing.B) {
	rng := rand.New(rand.NewSource(13))
	logits := make([]float64, 256)
	mask := make([]bool, 256)
	for i := range mask {
		mask[i] = i%3 != 0
		logits[i] = rng.Float64()
	}

	dist, err := NewMaskedCategorical(logits, mask)
	if err != nil {
		b.Fatal(err)
	}

	for i := 0; i < b.N; i++ {
		dist.Sample(rng)
	}
}
