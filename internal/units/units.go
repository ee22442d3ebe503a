// Package units provides the display units for channel values and their
// conversion from raw ADC counts.
package units

import "strings"

// Unit constants
const (
	Counts     = "counts"
	Volts      = "v"
	Millivolts = "mv"
	Microvolts = "uv"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Counts, Volts, Millivolts, Microvolts}

const (
	// ReferenceVolts is the ADC reference voltage.
	ReferenceVolts = 4.5
	// FullScaleCounts is the largest magnitude of a 24-bit sample.
	FullScaleCounts = 1<<23 - 1
	// DefaultGain is assumed when a channel's gain is unknown.
	DefaultGain = 24
)

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// VoltsPerCount returns the input-referred voltage of one count at gain.
func VoltsPerCount(gain int) float64 {
	if gain <= 0 {
		gain = DefaultGain
	}
	return ReferenceVolts / float64(gain) / FullScaleCounts
}

// ConvertChannel converts a raw channel value recorded at gain into the
// target units. Unknown units leave the value in counts.
func ConvertChannel(raw int32, gain int, targetUnits string) float64 {
	switch targetUnits {
	case Volts:
		return float64(raw) * VoltsPerCount(gain)
	case Millivolts:
		return float64(raw) * VoltsPerCount(gain) * 1e3
	case Microvolts:
		return float64(raw) * VoltsPerCount(gain) * 1e6
	default:
		return float64(raw)
	}
}

// Label returns the axis label for a unit.
func Label(unit string) string {
	switch unit {
	case Volts:
		return "V"
	case Millivolts:
		return "mV"
	case Microvolts:
		return "µV"
	default:
		return "counts"
	}
}
