package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKelvinToCelsius(t *testing.T) {
	assert.Equal(t, 0.0, KelvinToCelsius(273.15))
	assert.InDelta(t, 26.85, KelvinToCelsius(300), 1e-9)
	assert.InDelta(t, -273.15, KelvinToCelsius(0), 1e-9)
}

func TestKelvinToCelsius_Monotonic(t *testing.T) {
	prev := KelvinToCelsius(-10)
	for k := -9.5; k < 400; k += 0.5 {
		c := KelvinToCelsius(k)
		assert.Greater(t, c, prev, "not increasing at %v K", k)
		prev = c
	}
}

func TestKelvinToCelsiusAll(t *testing.T) {
	in := []float64{273.15, 283.15, 253.15}
	out := KelvinToCelsiusAll(in)

	assert.InDeltaSlice(t, []float64{0, 10, -20}, out, 1e-9)
	assert.Equal(t, 273.15, in[0], "input must not be modified")
}
