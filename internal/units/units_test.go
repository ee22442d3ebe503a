package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertChannel(t *testing.T) {
	tests := []struct {
		name     string
		raw      int32
		gain     int
		units    string
		expected float64
	}{
		{"full scale at gain 1 in volts", FullScaleCounts, 1, Volts, 4.5},
		{"negative full scale at gain 1", -FullScaleCounts, 1, Volts, -4.5},
		{"full scale at gain 24 in mv", FullScaleCounts, 24, Millivolts, 187.5},
		{"one count at gain 24 in uv", 1, 24, Microvolts, 0.02235174},
		{"unknown gain uses default", FullScaleCounts, 0, Millivolts, 187.5},
		{"counts unchanged", 493214, 24, Counts, 493214},
		{"unknown units stay counts", -7, 24, "furlongs", -7},
		{"zero", 0, 8, Microvolts, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, ConvertChannel(tt.raw, tt.gain, tt.units), 1e-6)
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid counts", Counts, true},
		{"valid v", Volts, true},
		{"valid mv", Millivolts, true},
		{"valid uv", Microvolts, true},
		{"invalid unit", "invalid", false},
		{"empty string", "", false},
		{"case sensitive", "UV", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValid(tt.unit))
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	assert.Equal(t, "counts, v, mv, uv", GetValidUnitsString())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "µV", Label(Microvolts))
	assert.Equal(t, "mV", Label(Millivolts))
	assert.Equal(t, "V", Label(Volts))
	assert.Equal(t, "counts", Label(Counts))
	assert.Equal(t, "counts", Label(""))
}

func TestVoltsPerCount(t *testing.T) {
	assert.InDelta(t, 4.5/8388607, VoltsPerCount(1), 1e-15)
	assert.Equal(t, VoltsPerCount(DefaultGain), VoltsPerCount(-3))
	assert.Greater(t, VoltsPerCount(1), VoltsPerCount(24))
}
