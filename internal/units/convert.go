package units

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/dwd-ingest/internal/record"
)

// System names a measurement unit system for output records.
type System string

const (
	// SI is the system all decoders produce.
	SI System = "si"
	// DWD uses the units of the DWD products: °C, hPa, km/h, km, minutes
	// and kWh/m².
	DWD System = "dwd"
)

// ParseSystem validates a unit system name.
func ParseSystem(s string) (System, error) {
	switch System(strings.ToLower(s)) {
	case SI, "":
		return SI, nil
	case DWD:
		return DWD, nil
	}
	return "", fmt.Errorf("unknown unit system %q", s)
}

// dwdConverters maps field name prefixes to the SI→DWD conversion.
var dwdConverters = []struct {
	prefix  string
	convert func(float64) float64
}{
	{"temperature", KelvinToCelsius},
	{"dew_point", KelvinToCelsius},
	{"pressure_msl", PaToHPa},
	{"wind_speed", MsToKmh},
	{"wind_gust_speed", MsToKmh},
	{"visibility", func(m float64) float64 { return round(m/1000, 3) }},
	{"sunshine", SecondsToMinutes},
	{"solar", JPerM2ToKWhPerM2},
}

// ConvertRecord returns a copy of r with its element fields expressed in the
// target unit system. Window-suffixed fields such as wind_speed_10 are
// converted like their base field.
func ConvertRecord(r record.Record, target System) record.Record {
	out := r.Clone()
	if target != DWD {
		return out
	}
	for field := range out {
		v, ok := out.Float(field)
		if !ok {
			continue
		}
		for _, c := range dwdConverters {
			if field == c.prefix || strings.HasPrefix(field, c.prefix+"_") && isWindowSuffix(field[len(c.prefix)+1:]) {
				out[field] = c.convert(v)
				break
			}
		}
	}
	return out
}

func isWindowSuffix(s string) bool {
	switch s {
	case "10", "30", "60":
		return true
	}
	return false
}
