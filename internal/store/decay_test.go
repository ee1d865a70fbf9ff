package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialDecay(t *testing.T) {
	d := ExponentialDecay{HalfLife: 2 * time.Minute}

	assert.Equal(t, 1.0, d.Decay(1.0, 0))
	assert.InDelta(t, 0.5, d.Decay(1.0, 2*time.Minute), 1e-9)
	assert.InDelta(t, 0.25, d.Decay(1.0, 4*time.Minute), 1e-9)
	assert.InDelta(t, 0.45, d.Decay(0.9, 2*time.Minute), 1e-9)
	assert.Greater(t, d.Decay(1.0, time.Hour), 0.0, "exponential never reaches zero")
}

func TestLinearDecay(t *testing.T) {
	d := LinearDecay{HalfLife: 2 * time.Minute}

	assert.Equal(t, 1.0, d.Decay(1.0, 0))
	assert.InDelta(t, 0.5, d.Decay(1.0, 2*time.Minute), 1e-9)
	assert.Zero(t, d.Decay(1.0, 4*time.Minute))
	assert.Zero(t, d.Decay(1.0, time.Hour), "linear clamps at zero")
}

func TestPolicyFor(t *testing.T) {
	half := 2 * time.Minute

	p := PolicyFor("exponential", half)
	assert.Equal(t, "exponential", p.Name())

	p = PolicyFor("linear", half)
	assert.Equal(t, "linear", p.Name())

	// Unknown shapes fall back to exponential.
	p = PolicyFor("bogus", half)
	assert.Equal(t, "exponential", p.Name())
}
