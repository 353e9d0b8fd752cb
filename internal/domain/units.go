package domain

// KelvinOffset is the Kelvin value of 0 °C.
const KelvinOffset = 273.15

// KelvinToCelsius converts a temperature from Kelvin to degrees Celsius.
func KelvinToCelsius(k float64) float64 {
	return k - KelvinOffset
}

// KelvinToCelsiusAll converts every element of ks and returns a new slice.
func KelvinToCelsiusAll(ks []float64) []float64 {
	out := make([]float64, len(ks))
	for i, k := range ks {
		out[i] = KelvinToCelsius(k)
	}
	return out
}
