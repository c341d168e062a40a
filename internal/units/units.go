// Package units converts the raw units used in DWD products to SI values
// and maps DWD/WMO weather codes to a small set of weather conditions.
//
// All functions are pure. Rounding follows the precision of the source
// products so that converted values do not carry floating point noise.
package units

import "math"

// CelsiusToKelvin converts °C to K, rounded to 0.01 K.
func CelsiusToKelvin(c float64) float64 {
	return round(c+273.15, 2)
}

// KelvinToCelsius converts K to °C, rounded to 0.01 °C.
func KelvinToCelsius(k float64) float64 {
	return round(k-273.15, 2)
}

// EighthsToPercent converts cloud cover in okta to percent.
func EighthsToPercent(eighths float64) float64 {
	return eighths * 12.5
}

// HPaToPa converts hectopascal to pascal.
func HPaToPa(hpa float64) float64 {
	return math.Round(hpa * 100)
}

// PaToHPa converts pascal to hectopascal.
func PaToHPa(pa float64) float64 {
	return round(pa/100, 1)
}

// KmhToMs converts km/h to m/s, rounded to 0.1 m/s.
func KmhToMs(kmh float64) float64 {
	return round(kmh/3.6, 1)
}

// MsToKmh converts m/s to km/h, rounded to 0.1 km/h.
func MsToKmh(ms float64) float64 {
	return round(ms*3.6, 1)
}

// KmToM converts kilometers to meters.
func KmToM(km float64) float64 {
	return math.Round(km * 1000)
}

// MinutesToSeconds converts a duration in minutes to seconds.
func MinutesToSeconds(minutes float64) float64 {
	return minutes * 60
}

// SecondsToMinutes converts a duration in seconds to minutes.
func SecondsToMinutes(seconds float64) float64 {
	return round(seconds/60, 1)
}

// KJPerM2ToJPerM2 converts kJ/m² to J/m².
func KJPerM2ToJPerM2(kj float64) float64 {
	return round(kj*1000, 1)
}

// JPerCm2ToJPerM2 converts J/cm² to J/m².
func JPerCm2ToJPerM2(j float64) float64 {
	return round(j*10000, 1)
}

// WPerM2ToHourlyJPerM2 converts a mean irradiance over one hour in W/m² to
// the radiant exposure of that hour in J/m².
func WPerM2ToHourlyJPerM2(w float64) float64 {
	return round(w*3600, 1)
}

// JPerM2ToKWhPerM2 converts J/m² to kWh/m².
func JPerM2ToKWhPerM2(j float64) float64 {
	return round(j/3.6e6, 3)
}

func round(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
