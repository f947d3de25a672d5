package main

import "math/rand/v2"

// estimatePi draws samples points in the unit square from a generator seeded
// with seed and returns four times the fraction inside the quarter circle.
func estimatePi(seed int, samples int) float64 {
	if samples <= 0 {
		return 0
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
	inside := 0
	for i := 0; i < samples; i++ {
		x := rng.Float64()
		y := rng.Float64()
		if x*x+y*y < 1.0 {
			inside++
		}
	}
	return 4.0 * float64(inside) / float64(samples)
}
