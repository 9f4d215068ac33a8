// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// ArgMax returns the indices of the maximum values in a list. Ties
// result in multiple indices being returned.
func ArgMax(values ...float64) []int {
	max, indices := values[0], []int{0}

	for i, value := range values[1:] {
		if value > max {
			max = value
			indices = []int{i + 1}
		} else if value == max {
			indices = append(indices, i+1)
		}
	}
	return indices
}

// Min calculates and returns the minimum float64 in a list
func Min(floats ...float64) float64 {
	min := floats[0]
	for _, val := range floats {
		if val < min {
			min = val
		}
	}
	return min
}

// Max calculates and returns the maximum float64 in a list
func Max(floats ...float64) float64 {
	max := floats[0]
	for _, val := range floats {
		if val > max {
			max = val
		}
	}
	return max
}

// Sum calculates and returns the sum of a list of float64
func Sum(floats ...float64) float64 {
	total := 0.0
	for _, val := range floats {
		total += val
	}
	return total
}

// LogSumExp computes log(Σᵢ exp(xᵢ)) in a numerically stable way by
// factoring out the maximum value before exponentiating.
func LogSumExp(values ...float64) float64 {
	max := Max(values...)

	var sum float64
	for _, val := range values {
		sum += math.Exp(val - max)
	}
	return max + math.Log(sum)
}
