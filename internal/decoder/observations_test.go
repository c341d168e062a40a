package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/dwd-ingest/internal/fixture"
	"github.com/couchcryptid/dwd-ingest/internal/record"
)

func stationPositions() []fixture.StationPosition {
	return []fixture.StationPosition{
		// Listed out of order on purpose.
		{From: "20230501", To: "", Lat: 52.1344, Lon: 7.6969, Height: 48, Name: "Münster/Osnabrück"},
		{From: "19890101", To: "20230430", Lat: 52.1, Lon: 7.7, Height: 40, Name: "Greven"},
	}
}

func productConfig(t *testing.T, name string) ProductConfig {
	t.Helper()
	for _, cfg := range HistoricalProducts() {
		if cfg.Name == name {
			return cfg
		}
	}
	t.Fatalf("no product %q", name)
	return ProductConfig{}
}

func hourlyArchive(t *testing.T, file, member string, header []string, rows [][]string) string {
	t.Helper()
	data, err := fixture.Zip(
		fixture.Member{Name: "Metadaten_Parameter_ff_stunde_01766.txt", Body: []byte("ignored")},
		fixture.StationMetadata("01766", stationPositions()),
		fixture.Member{Name: member, Body: fixture.Table(header, rows)},
	)
	return writeInput(t, file, data, err)
}

func TestObservations_Wind(t *testing.T) {
	path := hourlyArchive(t, "stundenwerte_FF_01766_akt.zip", "produkt_ff_stunde_20220101_20230507_01766.txt",
		[]string{"STATIONS_ID", "MESS_DATUM", "QN_3", "F", "D"},
		[][]string{
			{"1766", "2023043023", "   10", "   3.5", " 250"},
			{"1766", "2023050100", "   10", "-999", " 990"},
		})

	got, err := Collect(NewObservations(testOptions(), productConfig(t, "wind")).Decode(path, nil))
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "historical", first[record.FieldObservationType])
	assert.Equal(t, "Observations:Recent:produkt_ff_stunde_20220101_20230507_01766.txt", first[record.FieldSource])
	assert.Equal(t, "01766", first[record.FieldDWDStationID])
	assert.Equal(t, "10315", first[record.FieldWMOStationID])
	assert.Equal(t, time.Date(2023, 4, 30, 23, 0, 0, 0, time.UTC), first[record.FieldTimestamp])
	assert.Equal(t, "Greven", first[record.FieldStationName])
	assert.Equal(t, 40.0, first[record.FieldHeight])
	assert.Equal(t, 3.5, first["wind_speed"])
	assert.Equal(t, 250, first["wind_direction"])

	second := got[1]
	assert.Equal(t, "Münster/Osnabrück", second[record.FieldStationName], "metadata switches at its effective date")
	assert.Equal(t, 52.1344, second[record.FieldLat])
	assert.Nil(t, second["wind_speed"])
	assert.Nil(t, second["wind_direction"], "990 means variable direction")
}

func TestObservations_CloudCover(t *testing.T) {
	path := hourlyArchive(t, "stundenwerte_N_01766_akt.zip", "produkt_n_stunde_20220101_20230507_01766.txt",
		[]string{"STATIONS_ID", "MESS_DATUM", "QN_8", "V_N_I", "V_N"},
		[][]string{
			{"1766", "2023050100", "1", "P", "6"},
			{"1766", "2023050101", "1", "P", "-1"},
			{"1766", "2023050102", "1", "P", "9"},
		})

	got, err := Collect(NewObservations(testOptions(), productConfig(t, "cloud_cover")).Decode(path, nil))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 75.0, got[0]["cloud_cover"])
	assert.Nil(t, got[1]["cloud_cover"])
	assert.Nil(t, got[2]["cloud_cover"], "9 means sky obscured")
}

func TestObservations_PrecipitationFillsWRTR(t *testing.T) {
	path := hourlyArchive(t, "stundenwerte_RR_01766_akt.zip", "produkt_rr_stunde_20220101_20230507_01766.txt",
		[]string{"STATIONS_ID", "MESS_DATUM", "QN_8", "R1", "RS_IND", "WRTR"},
		[][]string{
			{"1766", "2023050100", "3", "0.5", "1", "6"},
			{"1766", "2023050101", "3", "0.0", "0", "-999"},
			{"1766", "2023050102", "3", "0.2", "1", "-999"},
			{"1766", "2023050103", "3", "0.4", "1", "7"},
			{"1766", "2023050104", "3", "0.1", "1", "-999"},
			{"1766", "2023050105", "3", "-999", "-999", "-999"},
			{"1766", "2023050106", "3", "-999", "-999", "-999"},
		})

	got, err := Collect(NewObservations(testOptions(), productConfig(t, "precipitation")).Decode(path, nil))
	require.NoError(t, err)
	require.Len(t, got, 7)

	conditions := make([]any, len(got))
	for i, r := range got {
		conditions[i] = r["condition"]
	}
	assert.Equal(t, []any{
		"rain",  // reported
		"dry",   // no precipitation in this hour
		"snow",  // previous hour was dry, next hour reported snow
		"snow",  // reported
		"snow",  // previous hour
		"snow",  // previous hour, itself filled
		nil,     // nothing to fill from
	}, conditions)
	assert.Equal(t, 0.5, got[0]["precipitation"])
	assert.Nil(t, got[5]["precipitation"])
}

func TestObservations_PressureDerivesMSL(t *testing.T) {
	path := hourlyArchive(t, "stundenwerte_P0_01766_akt.zip", "produkt_p0_stunde_20220101_20230507_01766.txt",
		[]string{"STATIONS_ID", "MESS_DATUM", "QN_8", "P", "P0"},
		[][]string{
			{"1766", "2023050100", "3", "1013.2", "1000.0"},
			{"1766", "2023050101", "3", "-999", "1000.0"},
			{"1766", "2023050102", "3", "-999", "-999"},
		})

	got, err := Collect(NewObservations(testOptions(), productConfig(t, "pressure")).Decode(path, nil))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, 101320.0, got[0]["pressure_msl"])
	assert.Equal(t, 100570, got[1]["pressure_msl"], "barometric approximation at 48 m")
	assert.Nil(t, got[2]["pressure_msl"])
	for _, r := range got {
		assert.NotContains(t, r, "pressure_station")
	}
}

func TestObservations_UnitConversions(t *testing.T) {
	tests := []struct {
		product string
		header  []string
		row     []string
		field   string
		want    any
	}{
		{"dew_point", []string{"STATIONS_ID", "MESS_DATUM", "QN_8", "TT", "TD"}, []string{"1766", "2023050100", "3", "12.0", "5.0"}, "dew_point", 278.15},
		{"temperature", []string{"STATIONS_ID", "MESS_DATUM", "QN_9", "TT_TU", "RF_TU"}, []string{"1766", "2023050100", "3", "12.0", "80.0"}, "temperature", 285.15},
		{"temperature", []string{"STATIONS_ID", "MESS_DATUM", "QN_9", "TT_TU", "RF_TU"}, []string{"1766", "2023050100", "3", "12.0", "80.0"}, "relative_humidity", 80.0},
		{"sunshine", []string{"STATIONS_ID", "MESS_DATUM", "QN_7", "SD_SO"}, []string{"1766", "2023050100", "3", "42"}, "sunshine", 2520.0},
		{"visibility", []string{"STATIONS_ID", "MESS_DATUM", "QN_8", "V_VV_I", "V_VV"}, []string{"1766", "2023050100", "3", "I", "25000"}, "visibility", 25000},
	}
	for _, tt := range tests {
		t.Run(tt.product+"/"+tt.field, func(t *testing.T) {
			path := hourlyArchive(t, "stundenwerte_XX_01766_akt.zip", "produkt_x_stunde_20220101_20230507_01766.txt",
				tt.header, [][]string{tt.row})
			got, err := Collect(NewObservations(testOptions(), productConfig(t, tt.product)).Decode(path, nil))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0][tt.field])
		})
	}
}

func TestObservations_SkipRow(t *testing.T) {
	path := hourlyArchive(t, "stundenwerte_FF_01766_akt.zip", "produkt_ff_stunde_20220101_20230507_01766.txt",
		[]string{"STATIONS_ID", "MESS_DATUM", "QN_3", "F", "D"},
		[][]string{
			{"1766", "2023050100", "10", "3.5", "250"},
			{"1766", "2023050101", "10", "4.5", "260"},
		})
	cutoff := time.Date(2023, 5, 1, 1, 0, 0, 0, time.UTC)
	cfg := productConfig(t, "wind")
	cfg.SkipRow = func(ts time.Time) bool { return ts.Before(cutoff) }

	got, err := Collect(NewObservations(testOptions(), cfg).Decode(path, nil))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, cutoff, got[0][record.FieldTimestamp])
}

func TestObservations_StructuralErrors(t *testing.T) {
	cfg := productConfig(t, "wind")
	table := fixture.Table([]string{"STATIONS_ID", "MESS_DATUM", "F", "D"}, [][]string{{"1766", "2023050100", "1", "2"}})

	t.Run("two products", func(t *testing.T) {
		data, err := fixture.Zip(
			fixture.StationMetadata("01766", stationPositions()),
			fixture.Member{Name: "produkt_a_01766.txt", Body: table},
			fixture.Member{Name: "produkt_b_01766.txt", Body: table},
		)
		path := writeInput(t, "stundenwerte_FF_01766_akt.zip", data, err)
		_, err = Collect(NewObservations(testOptions(), cfg).Decode(path, nil))
		assert.ErrorContains(t, err, "unexpected product count")
	})

	t.Run("no metadata", func(t *testing.T) {
		data, err := fixture.Zip(fixture.Member{Name: "produkt_a_01766.txt", Body: table})
		path := writeInput(t, "stundenwerte_FF_01766_akt.zip", data, err)
		_, err = Collect(NewObservations(testOptions(), cfg).Decode(path, nil))
		assert.ErrorContains(t, err, "unable to parse station id")
	})

	t.Run("missing column", func(t *testing.T) {
		path := hourlyArchive(t, "stundenwerte_FF_01766_akt.zip", "produkt_ff_01766.txt",
			[]string{"STATIONS_ID", "MESS_DATUM", "F"}, [][]string{{"1766", "2023050100", "1"}})
		_, err := Collect(NewObservations(testOptions(), cfg).Decode(path, nil))
		assert.ErrorContains(t, err, `missing column "D"`)
	})
}

func tenMinuteArchives(t *testing.T, file, member string, header []string, rows [][]string) (string, string) {
	t.Helper()
	data, err := fixture.Zip(fixture.Member{Name: member, Body: fixture.Table(header, rows)})
	product := writeInput(t, file, data, err)
	meta, err := fixture.Zip(fixture.StationMetadata("01766", stationPositions()))
	return product, writeInput(t, "Meta_Daten_01766.zip", meta, err)
}

func TestObservations_WindGusts(t *testing.T) {
	header := []string{"STATIONS_ID", "MESS_DATUM", "QN", "FX_10", "FNX_10", "FMX_10", "DX_10"}
	row := func(ts, speed, direction string) []string {
		return []string{"1766", ts, "3", speed, "1.0", "2.0", direction}
	}
	product, meta := tenMinuteArchives(t, "10minutenwerte_extrema_wind_01766_akt.zip",
		"produkt_zehn_min_fx_20220101_20230507_01766.txt", header, [][]string{
			row("202305081010", "5.0", "200"),
			row("202305081020", "8.0", "210"),
			row("202305081030", "8.0", "220"),
			row("202305081040", "0.0", "230"),
			row("202305081050", "-999", "-999"),
			row("202305081100", "3.0", "240"),
			row("202305081110", "0.0", "10"),
			row("202305081120", "-999", "-999"),
			row("202305081200", "0.0", "20"),
			row("202305081210", "9.0", "30"),
		})
	dec := NewObservations(testOptions(), productConfig(t, "wind_gusts"))

	extra, err := dec.ExtraInputs(product)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		ExtraMetaPath: "https://opendata.dwd.de/climate_environment/CDC/observations_germany/climate/10_minutes/extreme_wind/meta_data/Meta_Daten_zehn_min_fx_01766.zip",
	}, extra)

	got, err := Collect(dec.Decode(product, map[string]string{ExtraMetaPath: meta}))
	require.NoError(t, err)
	require.Len(t, got, 2, "the trailing partial hour is dropped")

	assert.Equal(t, time.Date(2023, 5, 8, 11, 0, 0, 0, time.UTC), got[0][record.FieldTimestamp])
	assert.Equal(t, 8.0, got[0]["wind_gust_speed"])
	assert.Equal(t, 210.0, got[0]["wind_gust_direction"], "first of equal maxima wins")
	assert.Equal(t, "Münster/Osnabrück", got[0][record.FieldStationName])
	assert.Equal(t, "Observations:Recent:produkt_zehn_min_fx_20220101_20230507_01766.txt", got[0][record.FieldSource])

	assert.Equal(t, time.Date(2023, 5, 8, 12, 0, 0, 0, time.UTC), got[1][record.FieldTimestamp])
	assert.Nil(t, got[1]["wind_gust_speed"])
	assert.Nil(t, got[1]["wind_gust_direction"])
}

func TestObservations_Solar(t *testing.T) {
	header := []string{"STATIONS_ID", "MESS_DATUM", "QN", "DS_10", "GS_10", "SD_10", "LS_10"}
	row := func(ts, gs string) []string {
		return []string{"1766", ts, "3", "0.1", gs, "0.1", "-999"}
	}
	product, meta := tenMinuteArchives(t, "10minutenwerte_SOLAR_01766_akt.zip",
		"produkt_zehn_min_sd_20220101_20230507_01766.txt", header, [][]string{
			row("202305081000", "1.0"),
			row("202305081010", "2.0"),
			row("202305081020", "-999"),
			row("202305081030", "0.5"),
			row("202305081040", "0.5"),
			row("202305081050", "1.0"),
			row("202305081100", "-999"),
			row("202305081150", "-999"),
			row("202305081200", "4.0"),
		})
	dec := NewObservations(testOptions(), productConfig(t, "solar"))

	got, err := Collect(dec.Decode(product, map[string]string{ExtraMetaPath: meta}))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, time.Date(2023, 5, 8, 11, 0, 0, 0, time.UTC), got[0][record.FieldTimestamp], ":50 rounds up to the full hour")
	assert.Equal(t, 50000.0, got[0]["solar"])
	assert.Equal(t, time.Date(2023, 5, 8, 12, 0, 0, 0, time.UTC), got[1][record.FieldTimestamp])
	assert.Nil(t, got[1]["solar"])
}

func TestObservations_TenMinuteNeedsMetadata(t *testing.T) {
	product, _ := tenMinuteArchives(t, "10minutenwerte_SOLAR_01766_akt.zip",
		"produkt_zehn_min_sd_20220101_20230507_01766.txt",
		[]string{"STATIONS_ID", "MESS_DATUM", "GS_10"}, [][]string{{"1766", "202305081050", "1.0"}})

	_, err := Collect(NewObservations(testOptions(), productConfig(t, "solar")).Decode(product, nil))
	assert.ErrorIs(t, err, ErrMissingExtraInput)
}

func TestStationHistory_At(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2023, 5, d, 0, 0, 0, 0, time.UTC) }
	h := stationHistory{
		{from: day(1), name: "a"},
		{from: day(5), name: "b"},
		{from: day(5), name: "c"},
		{from: day(9), name: "d"},
	}

	_, found := h.at(day(1).Add(-time.Second))
	assert.False(t, found)

	tests := []struct {
		at   time.Time
		want string
	}{
		{day(1), "a"},
		{day(4), "a"},
		{day(5), "c"},
		{day(8), "c"},
		{day(9), "d"},
		{day(30), "d"},
	}
	for _, tt := range tests {
		info, found := h.at(tt.at)
		require.True(t, found)
		assert.Equal(t, tt.want, info.name, tt.at)
	}
}

func TestFillWRTR(t *testing.T) {
	row := func(rsInd, wrtr string) map[string]string {
		return map[string]string{"RS_IND": rsInd, "WRTR": wrtr}
	}
	tests := []struct {
		name       string
		prev, next map[string]string
		row        map[string]string
		want       string
	}{
		{"reported", nil, nil, row("1", "6"), "6"},
		{"dry hour", row("1", "7"), row("1", "8"), row("0", "-999"), "0"},
		{"from previous", row("1", "7"), row("1", "8"), row("1", "-999"), "7"},
		{"from next", row("0", "0"), row("1", "8"), row("1", "-999"), "8"},
		{"first row from next", nil, row("1", "8"), row("-999", "-999"), "8"},
		{"unknown", row("0", "0"), nil, row("-999", "-999"), "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fillWRTR(tt.prev, tt.row, tt.next)
			assert.Equal(t, tt.want, tt.row["WRTR"])
		})
	}
}
