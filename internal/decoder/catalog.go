package decoder

import (
	"math"

	"github.com/couchcryptid/dwd-ingest/internal/record"
	"github.com/couchcryptid/dwd-ingest/internal/units"
)

const metaBaseURL = "https://opendata.dwd.de/climate_environment/CDC/observations_germany/climate/10_minutes/"

// HistoricalProducts returns the configurations of all supported historical
// observation products.
func HistoricalProducts() []ProductConfig {
	return []ProductConfig{
		{
			Name:       "wind",
			FilePrefix: "stundenwerte_FF_",
			Elements: []Element{
				{Field: "wind_speed", Column: "F"},
				{Field: "wind_direction", Column: "D", Ignore: []string{"990"}, Convert: toInt},
			},
		},
		{
			Name:       "cloud_cover",
			FilePrefix: "stundenwerte_N_",
			Elements: []Element{
				{Field: "cloud_cover", Column: "V_N", Ignore: []string{"-1", "9"}, Convert: convertWith(units.EighthsToPercent)},
			},
		},
		{
			Name:       "pressure",
			FilePrefix: "stundenwerte_P0_",
			Elements: []Element{
				{Field: "pressure_msl", Column: "P", Convert: convertWith(units.HPaToPa)},
				{Field: "pressure_station", Column: "P0", Convert: convertWith(units.HPaToPa)},
			},
			Derive: derivePressureMSL,
		},
		{
			Name:       "precipitation",
			FilePrefix: "stundenwerte_RR_",
			Elements: []Element{
				{Field: "precipitation", Column: "R1"},
				{Field: "condition", Column: "WRTR", Convert: formOfPrecipitation},
			},
			Neighbors: fillWRTR,
		},
		{
			Name:       "sunshine",
			FilePrefix: "stundenwerte_SD_",
			Elements: []Element{
				{Field: "sunshine", Column: "SD_SO", Convert: convertWith(units.MinutesToSeconds)},
			},
		},
		{
			Name:       "dew_point",
			FilePrefix: "stundenwerte_TD_",
			Elements: []Element{
				{Field: "dew_point", Column: "TD", Convert: convertWith(units.CelsiusToKelvin)},
			},
		},
		{
			Name:       "temperature",
			FilePrefix: "stundenwerte_TU_",
			Elements: []Element{
				{Field: "relative_humidity", Column: "RF_TU"},
				{Field: "temperature", Column: "TT_TU", Convert: convertWith(units.CelsiusToKelvin)},
			},
		},
		{
			Name:       "visibility",
			FilePrefix: "stundenwerte_VV_",
			Elements: []Element{
				{Field: "visibility", Column: "V_VV", Convert: toInt},
			},
		},
		{
			Name:       "wind_gusts",
			FilePrefix: "10minutenwerte_extrema_wind_",
			Elements: []Element{
				{Field: "wind_gust_direction", Column: "DX_10"},
				{Field: "wind_gust_speed", Column: "FX_10"},
			},
			TenMinute: &TenMinute{
				TriggerMinute: 0,
				MetaURL:       metaBaseURL + "extreme_wind/meta_data/Meta_Daten_zehn_min_fx_%s.zip",
				Reduce:        strongestGust,
			},
		},
		{
			Name:       "solar",
			FilePrefix: "10minutenwerte_SOLAR_",
			Elements: []Element{
				{Field: "solar", Column: "GS_10", Convert: convertWith(units.JPerCm2ToJPerM2)},
			},
			// Rows hold the irradiance of the following ten minutes, so the
			// :50 row closes the hour.
			TenMinute: &TenMinute{
				TriggerMinute: 50,
				MetaURL:       metaBaseURL + "solar/meta_data/Meta_Daten_zehn_min_sd_%s.zip",
				Reduce:        solarSum,
			},
		},
	}
}

func toInt(v float64) any { return int(v) }

func formOfPrecipitation(v float64) any {
	c, known := units.SynopFormOfPrecipitationToCondition(int(v))
	return record.OptString(string(c), known)
}

// fillWRTR fills the form of precipitation, which is only reported every
// third hour. A dry hour (RS_IND 0) is code 0; otherwise the code of an
// adjacent hour with precipitation is used, and 9 (unknown) as last resort.
func fillWRTR(prev, row, next map[string]string) {
	switch {
	case row["WRTR"] != missingValue:
	case row["RS_IND"] == "0":
		row["WRTR"] = "0"
	case prev != nil && prev["RS_IND"] == "1":
		row["WRTR"] = prev["WRTR"]
	case next != nil && next["RS_IND"] == "1":
		row["WRTR"] = next["WRTR"]
	default:
		row["WRTR"] = "9"
	}
}

// derivePressureMSL approximates the sea level pressure from the station
// pressure with the barometric formula when it was not reported, and drops
// the station pressure.
func derivePressureMSL(r record.Record, height any) {
	defer delete(r, "pressure_station")
	if msl, ok := r.Float("pressure_msl"); ok && msl != 0 {
		return
	}
	station, ok := r.Float("pressure_station")
	if !ok || station == 0 {
		return
	}
	h, ok := height.(float64)
	if !ok {
		return
	}
	msl := station * math.Pow(1-0.0065*h/288.15, -5.255)
	r["pressure_msl"] = int(math.RoundToEven(msl/10) * 10)
}

// strongestGust keeps the first row with the highest non-zero gust speed.
func strongestGust(hour []record.Record) record.Record {
	out := record.Record{"wind_gust_direction": nil, "wind_gust_speed": nil}
	best := 0.0
	for _, row := range hour {
		speed, ok := row.Float("wind_gust_speed")
		if !ok || speed == 0 {
			continue
		}
		if out["wind_gust_speed"] == nil || speed > best {
			best = speed
			out["wind_gust_speed"] = row["wind_gust_speed"]
			out["wind_gust_direction"] = row["wind_gust_direction"]
		}
	}
	return out
}

// solarSum adds up the reported values of the hour, or nil if none was.
func solarSum(hour []record.Record) record.Record {
	var sum any
	for _, row := range hour {
		if v, ok := row.Float("solar"); ok {
			total, _ := sum.(float64)
			sum = total + v
		}
	}
	return record.Record{"solar": sum}
}
