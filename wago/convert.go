package wago

import "math"

const (
	rtdResolution = 0.1   // °C per ADU
	rtdMax        = 850.0 // upper limit of a Pt RTD
	rhtScale      = 100.0 / 32767.0
	rhtTempOffset = -30.0
)

// RTDToCelsius converts a raw Pt RTD reading. Temperatures below 0 °C wrap to
// the top of the 16-bit range.
func RTDToCelsius(raw uint16) float64 {
	t := rtdResolution * float64(raw)
	if t > rtdMax {
		t -= rtdResolution * math.MaxUint16
	}
	return round2(t)
}

// HumidityFromRaw converts a raw humidity sensor reading into relative humidity in percent.
func HumidityFromRaw(raw uint16) float64 {
	return round2(rhtScale * float64(raw))
}

// TemperatureFromRaw converts a raw humidity sensor reading into °C.
func TemperatureFromRaw(raw uint16) float64 {
	return round2(rhtTempOffset + rhtScale*float64(raw))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
