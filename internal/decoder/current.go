package decoder

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/dwd-ingest/internal/record"
	"github.com/couchcryptid/dwd-ingest/internal/stations"
	"github.com/couchcryptid/dwd-ingest/internal/units"
)

const (
	currentDateColumn = "surface observations"
	currentHourColumn = "Parameter description"
	currentTimeLayout = "02.01.06 15:04"
	currentMissing    = "---"
)

// Extra parameters understood by the current observation decoder.
const (
	ExtraLat         = "lat"
	ExtraLon         = "lon"
	ExtraHeight      = "height"
	ExtraStationName = "station_name"
)

type currentElement struct {
	column  string
	field   string
	convert func(float64) any
}

func floatValue(v float64) any { return v }

func convertWith(f func(float64) float64) func(float64) any {
	return func(v float64) any { return f(v) }
}

var currentElements = []currentElement{
	{"cloud_cover_total", "cloud_cover", floatValue},
	{"dew_point_temperature_at_2_meter_above_ground", "dew_point", convertWith(units.CelsiusToKelvin)},
	{"dry_bulb_temperature_at_2_meter_above_ground", "temperature", convertWith(units.CelsiusToKelvin)},
	{"global_radiation_last_hour", "solar", convertWith(units.WPerM2ToHourlyJPerM2)},
	{"horizontal_visibility", "visibility", convertWith(units.KmToM)},
	{"maximum_wind_speed_last_hour", "wind_gust_speed", convertWith(units.KmhToMs)},
	{"mean_wind_direction_during_last_10 min_at_10_meters_above_ground", "wind_direction", floatValue},
	{"mean_wind_speed_during last_10_min_at_10_meters_above_ground", "wind_speed", convertWith(units.KmhToMs)},
	{"precipitation_amount_last_hour", "precipitation", floatValue},
	{"present_weather", "condition", func(v float64) any {
		c, known := units.CurrentObservationsWeatherToCondition(int(v))
		return record.OptString(string(c), known)
	}},
	{"pressure_reduced_to_mean_sea_level", "pressure_msl", convertWith(units.HPaToPa)},
	{"relative_humidity", "relative_humidity", floatValue},
	{"total_time_of_sunshine_during_last_hour", "sunshine", convertWith(units.MinutesToSeconds)},
}

// Current decodes the hourly current observation files (BEOB CSV) of a
// single station.
type Current struct {
	reporter
	stations  stations.Lookup
	sanitizer record.Sanitizer
}

// NewCurrent returns a current observation decoder.
func NewCurrent(opts Options) *Current {
	opts = opts.withDefaults()
	return &Current{
		reporter: newReporter(opts, "current"),
		stations: opts.Stations,
		sanitizer: record.Sanitizer{
			record.NullIfAbove("cloud_cover", 100),
			record.NullIfAbove("relative_humidity", 100),
			record.NullIfAbove("sunshine", 3600),
		},
	}
}

// ExtraInputs implements Decoder. Station position and name are optional
// parameters rather than downloads.
func (d *Current) ExtraInputs(string) (map[string]string, error) { return nil, nil }

// Decode implements Decoder. extra may carry lat, lon, height and
// station_name for the station.
func (d *Current) Decode(path string, extra map[string]string) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		d.logger.Info("parsing", "path", path)
		base, err := d.stationBase(extra)
		if err != nil {
			yield(nil, err)
			return
		}
		base[record.FieldSource] = "Current:" + filepath.Base(path)

		f, err := os.Open(path)
		if err != nil {
			yield(nil, fmt.Errorf("open %s: %w", path, err))
			return
		}
		defer f.Close()
		d.decodeStream(f, base, yield)
	}
}

func (d *Current) decodeStream(r io.Reader, base record.Record, yield func(record.Record, error) bool) {
	table, err := newTableReader(r, false)
	if err != nil {
		yield(nil, err)
		return
	}

	first, err := table.Next()
	if err != nil {
		yield(nil, fmt.Errorf("read station row: %w", err))
		return
	}
	wmoID := strings.TrimRight(first[currentDateColumn], "_")
	base[record.FieldWMOStationID] = wmoID
	base[record.FieldDWDStationID] = record.OptString(d.stations.ToDWD(wmoID))

	// German column titles.
	if _, err := table.Next(); err != nil {
		yield(nil, fmt.Errorf("read title row: %w", err))
		return
	}

	for {
		row, err := table.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("read observation row: %w", err))
			return
		}
		r, err := d.decodeRow(row)
		if err != nil {
			yield(nil, err)
			return
		}
		r = base.Clone().Merge(r)
		d.sanitizer.Apply(r, d.logger)
		if !yield(r, nil) {
			return
		}
	}
}

func (d *Current) decodeRow(row map[string]string) (record.Record, error) {
	r := record.Record{}
	for _, e := range currentElements {
		raw, present := row[e.column]
		if !present {
			return nil, fmt.Errorf("missing column %q", e.column)
		}
		if raw == currentMissing {
			r[e.field] = nil
			continue
		}
		v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", e.column, err)
		}
		r[e.field] = e.convert(v)
	}
	ts, err := time.Parse(currentTimeLayout, row[currentDateColumn]+" "+row[currentHourColumn])
	if err != nil {
		return nil, fmt.Errorf("parse observation time: %w", err)
	}
	r[record.FieldTimestamp] = ts.UTC()
	return r, nil
}

// stationBase builds the station fields from the optional parameters.
func (d *Current) stationBase(extra map[string]string) (record.Record, error) {
	r := record.New(record.Current, "")
	for _, key := range []string{ExtraLat, ExtraLon, ExtraHeight} {
		raw, present := extra[key]
		if !present || raw == "" {
			r[key] = nil
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		r[key] = v
	}
	name, present := extra[ExtraStationName]
	r[record.FieldStationName] = record.OptString(name, present && name != "")
	return r, nil
}
