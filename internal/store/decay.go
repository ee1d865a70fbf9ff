package store

import (
	"math"
	"time"
)

// DecayPolicy computes how an event's intensity fades with time since its
// last reinforcing observation. Policies must be monotonically non-increasing
// in elapsed and return base at elapsed zero.
type DecayPolicy interface {
	Decay(base float64, elapsed time.Duration) float64
	Name() string
}

// ExponentialDecay halves the intensity every HalfLife. This is the default
// shape: it keeps fresh attacks bright while old ones fade smoothly instead
// of dropping off a cliff.
type ExponentialDecay struct {
	HalfLife time.Duration
}

// Decay implements DecayPolicy.
func (d ExponentialDecay) Decay(base float64, elapsed time.Duration) float64 {
	if elapsed <= 0 || base <= 0 {
		return base
	}
	return base * math.Exp2(-float64(elapsed)/float64(d.HalfLife))
}

// Name implements DecayPolicy.
func (ExponentialDecay) Name() string { return "exponential" }

// LinearDecay reduces intensity on a straight line, reaching half at
// HalfLife and zero at twice that.
type LinearDecay struct {
	HalfLife time.Duration
}

// Decay implements DecayPolicy.
func (d LinearDecay) Decay(base float64, elapsed time.Duration) float64 {
	if elapsed <= 0 || base <= 0 {
		return base
	}
	remaining := 1 - float64(elapsed)/float64(2*d.HalfLife)
	if remaining < 0 {
		return 0
	}
	return base * remaining
}

// Name implements DecayPolicy.
func (LinearDecay) Name() string { return "linear" }

// PolicyFor returns the named decay policy; unknown names fall back to
// exponential.
func PolicyFor(shape string, halfLife time.Duration) DecayPolicy {
	if shape == "linear" {
		return LinearDecay{HalfLife: halfLife}
	}
	return ExponentialDecay{HalfLife: halfLife}
}
