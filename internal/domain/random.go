package domain

import "math/rand/v2"

// Random is the source of uniform values in [0, 1) driving every perturbation.
type Random interface {
	Float64() float64
}

// SystemRandom draws from the goroutine-safe global generator.
type SystemRandom struct{}

func (SystemRandom) Float64() float64 { return rand.Float64() }

// Uniform maps one draw from r onto [lo, hi).
func Uniform(r Random, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}
