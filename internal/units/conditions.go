package units

// Condition is a coarse weather condition derived from a reported weather code.
type Condition string

const (
	Dry          Condition = "dry"
	Fog          Condition = "fog"
	Rain         Condition = "rain"
	Sleet        Condition = "sleet"
	Snow         Condition = "snow"
	Hail         Condition = "hail"
	Thunderstorm Condition = "thunderstorm"
)

// SynopCurrentWeatherToCondition maps a WMO present weather code (ww, code
// table 4677) to a condition. The second return value is false for codes
// outside the table.
func SynopCurrentWeatherToCondition(code int) (Condition, bool) {
	switch {
	case code < 0 || code > 99:
		return "", false
	case code == 11 || code == 12 || (code >= 40 && code <= 49):
		return Fog, true
	case code == 17 || code >= 91:
		return Thunderstorm, true
	case code <= 39:
		// no precipitation at the station at the time of observation
		return Dry, true
	case code == 56 || code == 57:
		return Sleet, true
	case code <= 65:
		return Rain, true
	case code <= 69:
		return Sleet, true
	case code == 79:
		return Sleet, true
	case code <= 78:
		return Snow, true
	case code <= 82:
		return Rain, true
	case code <= 84:
		return Sleet, true
	case code <= 86:
		return Snow, true
	default:
		// 87-90: showers of snow pellets, ice pellets or hail
		return Hail, true
	}
}

// SynopPastWeatherToCondition maps a WMO past weather code (W1, code table
// 4561) to a condition.
func SynopPastWeatherToCondition(code int) (Condition, bool) {
	switch code {
	case 0, 1, 2, 3:
		return Dry, true
	case 4:
		return Fog, true
	case 5, 6, 8:
		return Rain, true
	case 7:
		return Snow, true
	case 9:
		return Thunderstorm, true
	}
	return "", false
}

// SynopFormOfPrecipitationToCondition maps the DWD WRTR code of the hourly
// precipitation product to a condition. Codes 4 (unknown form) and 9 (no
// measurement) have no condition.
func SynopFormOfPrecipitationToCondition(code int) (Condition, bool) {
	switch code {
	case 0:
		return Dry, true
	case 1, 6:
		return Rain, true
	case 7:
		return Snow, true
	case 8:
		return Sleet, true
	}
	return "", false
}

// CurrentObservationsWeatherToCondition maps the present_weather code of the
// DWD current observation (BEOB) files to a condition.
func CurrentObservationsWeatherToCondition(code int) (Condition, bool) {
	switch {
	case code >= 1 && code <= 4:
		return Dry, true
	case code == 5 || code == 6:
		return Fog, true
	case code >= 7 && code <= 9, code == 18 || code == 19:
		return Rain, true
	case code >= 10 && code <= 13, code == 20 || code == 21:
		return Sleet, true
	case code >= 14 && code <= 16, code == 22 || code == 23:
		return Snow, true
	case code == 17, code == 24 || code == 25:
		return Hail, true
	case code >= 26 && code <= 29:
		return Thunderstorm, true
	case code == 30 || code == 31:
		return Dry, true
	}
	return "", false
}
