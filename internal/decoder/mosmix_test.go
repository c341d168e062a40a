package decoder

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/dwd-ingest/internal/fixture"
	"github.com/couchcryptid/dwd-ingest/internal/record"
)

var mosmixSteps = []time.Time{
	time.Date(2023, 5, 8, 4, 0, 0, 0, time.UTC),
	time.Date(2023, 5, 8, 5, 0, 0, 0, time.UTC),
	time.Date(2023, 5, 8, 6, 0, 0, 0, time.UTC),
}

func mosmixStations() []fixture.ForecastStation {
	return []fixture.ForecastStation{
		{
			WMOID:       "10315",
			Name:        "MÜNSTER/OSNABR.",
			Coordinates: "7.7,52.13,48.0",
			Elements: map[string][]string{
				"TTT":   {"284.15", "285.35", "-"},
				"DD":    {"250.0", "370.0", "10.0"},
				"N":     {"-5.0", "50.0", "105.0"},
				"RR1c":  {"-0.10", "0.20", "0.00"},
				"Rad1h": {"100.0", "-", "200.5"},
				"ww":    {"61.00", "2.00", "-"},
				"E_TTT": {"0.7", "0.7", "0.8"},
			},
		},
		{
			WMOID: "X123",
			Name:  "NO POSITION",
			Elements: map[string][]string{
				"TTT": {"280.0", "281.0", "282.0"},
			},
		},
		{
			WMOID:       "01001",
			Name:        "JAN MAYEN",
			Coordinates: "-8.6,70.93,10.0",
			Elements: map[string][]string{
				"FF": {"5.1", "6.2", "7.3"},
			},
		},
	}
}

func mosmixDoc(stations []fixture.ForecastStation) []byte {
	return fixture.MOSMIXDocument("MOSMIX", "2023-05-08T03:00:00.000Z", mosmixSteps, stations)
}

func TestMOSMIX_Decode(t *testing.T) {
	data, err := fixture.KMZ("MOSMIX_S_2023050803_240.kml", mosmixDoc(mosmixStations()))
	path := writeInput(t, "MOSMIX_S_LATEST_240.kmz", data, err)

	var skipped []string
	opts := testOptions()
	opts.OnSkip = func(_, reason string) { skipped = append(skipped, reason) }

	got, err := Collect(NewMOSMIX(opts).Decode(path, nil))
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, []string{"ignoring station without coordinates"}, skipped)

	first := got[0]
	assert.Equal(t, "forecast", first[record.FieldObservationType])
	assert.Equal(t, "MOSMIX:2023-05-08T03:00:00.000Z", first[record.FieldSource])
	assert.Equal(t, mosmixSteps[0], first[record.FieldTimestamp])
	assert.Equal(t, "10315", first[record.FieldWMOStationID])
	assert.Equal(t, "01766", first[record.FieldDWDStationID])
	assert.Equal(t, "MÜNSTER/OSNABR.", first[record.FieldStationName])
	assert.Equal(t, 52.13, first[record.FieldLat])
	assert.Equal(t, 7.7, first[record.FieldLon])
	assert.Equal(t, 48.0, first[record.FieldHeight])
	assert.Equal(t, 284.15, first["temperature"])
	assert.Equal(t, 250.0, first["wind_direction"])
	assert.Equal(t, 0.0, first["cloud_cover"], "negative cloud cover is clamped")
	assert.Nil(t, first["precipitation"], "negative precipitation is dropped")
	assert.Equal(t, 100000.0, first["solar"])
	assert.Equal(t, "rain", first["condition"])
	assert.NotContains(t, first, "E_TTT")

	second := got[1]
	assert.Equal(t, 10.0, second["wind_direction"], "wind direction above 360 wraps")
	assert.Nil(t, second["solar"])
	assert.Equal(t, "dry", second["condition"])

	third := got[2]
	assert.Nil(t, third["temperature"])
	assert.Equal(t, 100.0, third["cloud_cover"])
	assert.Nil(t, third["condition"])

	jan := got[3]
	assert.Equal(t, "01001", jan[record.FieldWMOStationID])
	assert.Nil(t, jan[record.FieldDWDStationID])
	assert.Equal(t, 5.1, jan["wind_speed"])
}

func TestMOSMIX_FixedKeys(t *testing.T) {
	data, err := fixture.KMZ("doc.kml", mosmixDoc(mosmixStations()))
	path := writeInput(t, "MOSMIX_L_LATEST.kmz", data, err)

	got, err := Collect(NewMOSMIX(testOptions()).Decode(path, nil))
	require.NoError(t, err)
	require.NotEmpty(t, got)

	for _, r := range got {
		assert.Len(t, r, len(got[0]))
		for _, e := range mosmixElements {
			assert.Contains(t, r, e.field)
		}
	}
}

func TestMOSMIX_ValueCountMismatch(t *testing.T) {
	stations := []fixture.ForecastStation{{
		WMOID:       "10315",
		Name:        "MÜNSTER",
		Coordinates: "7.7,52.13,48.0",
		Elements:    map[string][]string{"TTT": {"280.0", "281.0"}},
	}}
	data, err := fixture.KMZ("doc.kml", mosmixDoc(stations))
	path := writeInput(t, "MOSMIX_S_LATEST_240.kmz", data, err)

	_, err = Collect(NewMOSMIX(testOptions()).Decode(path, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 2 values for 3 time steps")
}

func TestMOSMIX_StructuralErrors(t *testing.T) {
	doc := mosmixDoc(mosmixStations())

	t.Run("two members", func(t *testing.T) {
		data, err := fixture.Zip(
			fixture.Member{Name: "a.kml", Body: doc},
			fixture.Member{Name: "b.kml", Body: doc},
		)
		path := writeInput(t, "MOSMIX_S_LATEST_240.kmz", data, err)
		_, err = Collect(NewMOSMIX(testOptions()).Decode(path, nil))
		assert.ErrorContains(t, err, "unexpected zip content")
	})

	t.Run("repeated product id", func(t *testing.T) {
		broken := bytes.Replace(doc, []byte("<dwd:Issuer>"), []byte("<dwd:ProductID>X</dwd:ProductID><dwd:Issuer>"), 1)
		data, err := fixture.KMZ("doc.kml", broken)
		path := writeInput(t, "MOSMIX_S_LATEST_240.kmz", data, err)
		_, err = Collect(NewMOSMIX(testOptions()).Decode(path, nil))
		assert.ErrorContains(t, err, "unexpected extra product id")
	})

	t.Run("repeated time steps", func(t *testing.T) {
		broken := bytes.Replace(doc, []byte("</dwd:ProductDefinition>"),
			[]byte("<dwd:ForecastTimeSteps></dwd:ForecastTimeSteps></dwd:ProductDefinition>"), 1)
		data, err := fixture.KMZ("doc.kml", broken)
		path := writeInput(t, "MOSMIX_S_LATEST_240.kmz", data, err)
		_, err = Collect(NewMOSMIX(testOptions()).Decode(path, nil))
		assert.ErrorContains(t, err, "unexpected extra forecast time steps")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Collect(NewMOSMIX(testOptions()).Decode("/does/not/exist.kmz", nil))
		assert.Error(t, err)
	})
}

func TestMOSMIX_EarlyStopAndRestart(t *testing.T) {
	data, err := fixture.KMZ("doc.kml", mosmixDoc(mosmixStations()))
	path := writeInput(t, "MOSMIX_S_LATEST_240.kmz", data, err)
	seq := NewMOSMIX(testOptions()).Decode(path, nil)

	n := 0
	for r, err := range seq {
		require.NoError(t, err)
		require.NotNil(t, r)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	all, err := Collect(seq)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}
