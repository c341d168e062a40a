package decoder

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/dwd-ingest/internal/fixture"
	"github.com/couchcryptid/dwd-ingest/internal/record"
)

func currentRows() []map[string]string {
	return []map[string]string{
		{
			"surface observations":  "08.05.23",
			"Parameter description": "13:00",
			"cloud_cover_total":     "75",
			"dew_point_temperature_at_2_meter_above_ground": "7,5",
			"dry_bulb_temperature_at_2_meter_above_ground":  "12,5",
			"global_radiation_last_hour":                    "500",
			"horizontal_visibility":                         "35",
			"maximum_wind_speed_last_hour":                  "36",
			"mean_wind_direction_during_last_10 min_at_10_meters_above_ground": "250",
			"mean_wind_speed_during last_10_min_at_10_meters_above_ground":     "18",
			"precipitation_amount_last_hour":                                   "0,3",
			"present_weather":                                                  "8",
			"pressure_reduced_to_mean_sea_level":                               "1016,5",
			"relative_humidity":                                                "71",
			"total_time_of_sunshine_during_last_hour":                          "30",
		},
		{
			"surface observations":  "08.05.23",
			"Parameter description": "12:00",
			"cloud_cover_total":     "113",
			"relative_humidity":     "104",
			"total_time_of_sunshine_during_last_hour": "61",
		},
	}
}

func TestCurrent_Decode(t *testing.T) {
	path := writeInput(t, "10315-BEOB.csv", fixture.CurrentCSV("10315", currentRows()), nil)
	extra := map[string]string{
		ExtraLat:         "52.13",
		ExtraLon:         "7.7",
		ExtraHeight:      "48",
		ExtraStationName: "Münster/Osnabrück",
	}

	got, err := Collect(NewCurrent(testOptions()).Decode(path, extra))
	require.NoError(t, err)
	require.Len(t, got, 2)

	want := record.Record{
		record.FieldObservationType: "current",
		record.FieldSource:          "Current:10315-BEOB.csv",
		record.FieldTimestamp:       time.Date(2023, 5, 8, 13, 0, 0, 0, time.UTC),
		record.FieldWMOStationID:    "10315",
		record.FieldDWDStationID:    "01766",
		record.FieldLat:             52.13,
		record.FieldLon:             7.7,
		record.FieldHeight:          48.0,
		record.FieldStationName:     "Münster/Osnabrück",
		"cloud_cover":               75.0,
		"dew_point":                 280.65,
		"temperature":               285.65,
		"solar":                     1800000.0,
		"visibility":                35000.0,
		"wind_gust_speed":           10.0,
		"wind_direction":            250.0,
		"wind_speed":                5.0,
		"precipitation":             0.3,
		"condition":                 "rain",
		"pressure_msl":              101650.0,
		"relative_humidity":         71.0,
		"sunshine":                  1800.0,
	}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("first record mismatch (-want +got):\n%s", diff)
	}

	second := got[1]
	assert.Nil(t, second["cloud_cover"], "cloud cover above 100 is dropped")
	assert.Nil(t, second["relative_humidity"], "humidity above 100 is dropped")
	assert.Nil(t, second["sunshine"], "more than an hour of sunshine is dropped")
	assert.Nil(t, second["temperature"])
	assert.Nil(t, second["condition"])
}

func TestCurrent_WithoutStationParameters(t *testing.T) {
	path := writeInput(t, "10315-BEOB.csv", fixture.CurrentCSV("10315", currentRows()[:1]), nil)

	got, err := Collect(NewCurrent(testOptions()).Decode(path, nil))
	require.NoError(t, err)
	require.Len(t, got, 1)
	for _, f := range []string{record.FieldLat, record.FieldLon, record.FieldHeight, record.FieldStationName} {
		assert.Contains(t, got[0], f)
		assert.Nil(t, got[0][f], f)
	}
}

func TestCurrent_Errors(t *testing.T) {
	t.Run("bad parameter", func(t *testing.T) {
		path := writeInput(t, "10315-BEOB.csv", fixture.CurrentCSV("10315", currentRows()), nil)
		_, err := Collect(NewCurrent(testOptions()).Decode(path, map[string]string{ExtraLat: "north"}))
		assert.ErrorContains(t, err, "parameter lat")
	})

	t.Run("bad value", func(t *testing.T) {
		rows := currentRows()
		rows[0]["relative_humidity"] = "n/a"
		path := writeInput(t, "10315-BEOB.csv", fixture.CurrentCSV("10315", rows), nil)
		_, err := Collect(NewCurrent(testOptions()).Decode(path, nil))
		assert.ErrorContains(t, err, "relative_humidity")
	})

	t.Run("bad time", func(t *testing.T) {
		rows := currentRows()
		rows[0]["Parameter description"] = "1pm"
		path := writeInput(t, "10315-BEOB.csv", fixture.CurrentCSV("10315", rows), nil)
		_, err := Collect(NewCurrent(testOptions()).Decode(path, nil))
		assert.ErrorContains(t, err, "parse observation time")
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeInput(t, "10315-BEOB.csv", nil, nil)
		_, err := Collect(NewCurrent(testOptions()).Decode(path, nil))
		assert.Error(t, err)
	})
}
