// Package units provides shared constants and validation for distance units.
package units

import "strings"

// Unit constants
const (
	CM   = "cm"
	MM   = "mm"
	M    = "m"
	INCH = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, MM, M, INCH}

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

// ConvertDistance converts a distance from centimetres to the target units.
// Measurements are stored in cm. NaN passes through unchanged.
func ConvertDistance(distanceCM float64, targetUnits string) float64 {
	switch targetUnits {
	case MM:
		return distanceCM * 10
	case M:
		return distanceCM / 100
	case INCH:
		return distanceCM / 2.54
	case CM:
		return distanceCM
	default:
		return distanceCM
	}
}

// ConvertAll converts every value in place and returns the slice.
func ConvertAll(distancesCM []float64, targetUnits string) []float64 {
	for i, v := range distancesCM {
		distancesCM[i] = ConvertDistance(v, targetUnits)
	}
	return distancesCM
}
