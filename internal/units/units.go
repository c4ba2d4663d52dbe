// Package units provides shared constants and conversions for the length and
// angle units used in configuration files and command output.
package units

import "math"

// Length unit constants
const (
	M  = "m"
	CM = "cm"
	MM = "mm"
)

// ValidUnits contains all valid length unit values
var ValidUnits = []string{M, CM, MM}

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
	return "m, cm, mm"
}

// ConvertLength converts a length from metres to the target units.
// Every length inside the module is stored in metres.
func ConvertLength(metres float64, targetUnits string) float64 {
	switch targetUnits {
	case CM:
		return metres * 100
	case MM:
		return metres * 1000
	default:
		return metres
	}
}

// ToMetres converts a length in the given units to metres.
func ToMetres(v float64, fromUnits string) float64 {
	switch fromUnits {
	case CM:
		return v / 100
	case MM:
		return v / 1000
	default:
		return v
	}
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180 }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DegreesToRadians converts every element.
func DegreesToRadians(deg []float64) []float64 {
	out := make([]float64, len(deg))
	for i, d := range deg {
		out[i] = DegToRad(d)
	}
	return out
}

// RadiansToDegrees converts every element.
func RadiansToDegrees(rad []float64) []float64 {
	out := make([]float64, len(rad))
	for i, r := range rad {
		out[i] = RadToDeg(r)
	}
	return out
}
