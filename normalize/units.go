package normalize

// Conversion maps a value in the source unit to the normalized unit.
type Conversion func(float64) float64

const (
	cubicFeetToCubicMeters = 0.0283168466
	feetToMeters           = 0.3048
)

func Identity(v float64) float64 {
	return v
}

func CentimetersToMeters(v float64) float64 {
	return v / 100
}

func MillimetersToMeters(v float64) float64 {
	return v / 1000
}

func FeetToMeters(v float64) float64 {
	return v * feetToMeters
}

func CubicFeetToCubicMeters(v float64) float64 {
	return v * cubicFeetToCubicMeters
}

// LitersToCubicMeters converts l/s to m3/s.
func LitersToCubicMeters(v float64) float64 {
	return v / 1000
}
