package shipping

// Store-unit conversions. The aggregator wants kilograms and meters; the
// commerce side reports whatever unit the shop is configured with.

var weightToKg = map[string]float64{
	"kg":  1,
	"g":   0.001,
	"lbs": 0.453592,
	"oz":  0.0283495,
}

var dimensionToM = map[string]float64{
	"m":  1,
	"cm": 0.01,
	"mm": 0.001,
	"in": 0.0254,
	"yd": 0.9144,
	"ft": 0.3048,
}

// WeightKg converts v in the given store unit to kilograms. Unknown units
// are treated as kilograms.
func WeightKg(v float64, unit string) float64 {
	if f, ok := weightToKg[unit]; ok {
		return v * f
	}
	return v
}

// DimensionM converts v in the given store unit to meters. Unknown units
// are treated as meters.
func DimensionM(v float64, unit string) float64 {
	if f, ok := dimensionToM[unit]; ok {
		return v * f
	}
	return v
}
