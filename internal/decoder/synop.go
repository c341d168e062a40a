package decoder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/dwd-ingest/internal/record"
	"github.com/couchcryptid/dwd-ingest/internal/stations"
	"github.com/couchcryptid/dwd-ingest/internal/units"
)

const (
	synopSensorHeightKey = "heightOfSensorAboveLocalGroundOrDeckOfMarinePlatform"
	synopSensorHeight    = 2.0
	synopTimePeriodKey   = "timePeriod"
	synopDefaultPeriod   = -10.0
)

// synopWindows are the accepted timePeriod values, in minutes before the
// observation time.
var synopWindows = []float64{-10, -30, -60}

var synopMandatory = []string{
	record.FieldWMOStationID,
	record.FieldStationName,
	record.FieldLat,
	record.FieldLon,
	record.FieldHeight,
	record.FieldTimestamp,
}

// errIncompleteTime marks a message whose time fields are not all set.
var errIncompleteTime = errors.New("incomplete observation time")

// synopRule handles a key that needs more than a field copy. ctx holds every
// key seen so far on the path from the message root.
type synopRule func(r record.Record, ctx map[string]any, value any) error

// SYNOP decodes BUFR-derived SYNOP message trees (.json.bz2).
//
// A message is a list whose items are either {"key", "value"} entries or
// nested lists. Entries set context for everything that follows them in the
// same list and in nested lists, but not for siblings of the enclosing list.
type SYNOP struct {
	reporter
	stations  stations.Lookup
	direct    map[string]string
	atHeight  map[string]string
	windowed  map[string]string
	rules     map[string]synopRule
	fields    []string
	sanitizer record.Sanitizer
}

// NewSYNOP returns a SYNOP decoder.
func NewSYNOP(opts Options) *SYNOP {
	opts = opts.withDefaults()
	d := &SYNOP{
		reporter: newReporter(opts, "synop"),
		stations: opts.Stations,
		direct: map[string]string{
			"cloudCoverTotal":                        "cloud_cover",
			"heightOfStationGroundAboveMeanSeaLevel": record.FieldHeight,
			"latitude":                               record.FieldLat,
			"longitude":                              record.FieldLon,
			"meteorologicalOpticalRange":             "visibility",
			"pressureReducedToMeanSeaLevel":          "pressure_msl",
			"stationOrSiteName":                      record.FieldStationName,
		},
		atHeight: map[string]string{
			"airTemperature":      "temperature",
			"dewpointTemperature": "dew_point",
			"relativeHumidity":    "relative_humidity",
		},
		windowed: map[string]string{
			"globalSolarRadiationIntegratedOverPeriodSpecified": "solar",
			"windDirection":                            "wind_direction",
			"windSpeed":                                "wind_speed",
			"maximumWindGustDirection":                 "wind_gust_direction",
			"maximumWindGustSpeed":                     "wind_gust_speed",
			"totalPrecipitationOrTotalWaterEquivalent": "precipitation",
			"totalSunshine":                            "sunshine",
		},
		sanitizer: record.Sanitizer{
			record.NullIfNegativePrefix("precipitation_"),
			record.NullIfAbove("cloud_cover", 100),
		},
	}
	d.rules = map[string]synopRule{
		"minute":        d.parseTime,
		"stationNumber": d.parseStationNumber,
		"presentWeather": func(r record.Record, _ map[string]any, value any) error {
			code, ok := jsonInt(value)
			if !ok {
				return nil
			}
			if c, known := units.SynopCurrentWeatherToCondition(code); known {
				r["condition"] = string(c)
			}
			return nil
		},
		"pastWeather1": func(r record.Record, _ map[string]any, value any) error {
			code, ok := jsonInt(value)
			if !ok || code == 0 || r.Present("condition") {
				return nil
			}
			c, known := units.SynopPastWeatherToCondition(code)
			r["condition"] = record.OptString(string(c), known)
			return nil
		},
	}

	for _, f := range d.direct {
		d.fields = append(d.fields, f)
	}
	for _, f := range d.atHeight {
		d.fields = append(d.fields, f)
	}
	for _, f := range d.windowed {
		for _, w := range synopWindows {
			d.fields = append(d.fields, windowField(f, w))
		}
	}
	d.fields = append(d.fields, "condition", record.FieldDWDStationID, record.FieldWMOStationID)
	return d
}

// ExtraInputs implements Decoder.
func (d *SYNOP) ExtraInputs(string) (map[string]string, error) { return nil, nil }

// Decode implements Decoder. An empty file yields no records.
func (d *SYNOP) Decode(path string, _ map[string]string) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		d.logger.Info("parsing", "path", path)
		info, err := os.Stat(path)
		if err != nil {
			yield(nil, fmt.Errorf("open %s: %w", path, err))
			return
		}
		if info.Size() == 0 {
			return
		}
		rc, err := openBzip2(path)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rc.Close()

		br := bufio.NewReader(rc)
		if _, err := br.Peek(1); errors.Is(err, io.EOF) {
			return
		}
		d.decodeStream(br, "SYNOP:"+filepath.Base(path), yield)
	}
}

// decodeStream reads {"messages": [block...]} one block at a time. The last
// element of each block is its list of messages.
func (d *SYNOP) decodeStream(r io.Reader, source string, yield func(record.Record, error) bool) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		yield(nil, err)
		return
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			yield(nil, fmt.Errorf("read message document: %w", err))
			return
		}
		if key, _ := tok.(string); key != "messages" {
			var discard json.RawMessage
			if err := dec.Decode(&discard); err != nil {
				yield(nil, fmt.Errorf("read message document: %w", err))
				return
			}
			continue
		}
		if err := expectDelim(dec, '['); err != nil {
			yield(nil, err)
			return
		}
		for dec.More() {
			var block []any
			if err := dec.Decode(&block); err != nil {
				yield(nil, fmt.Errorf("decode message block: %w", err))
				return
			}
			if len(block) == 0 {
				continue
			}
			messages, isList := block[len(block)-1].([]any)
			if !isList {
				yield(nil, errors.New("message block does not end with a message list"))
				return
			}
			for _, m := range messages {
				items, _ := m.([]any)
				if !d.emit(yield, d.decodeMessage(items, source)) {
					return
				}
			}
		}
		if err := expectDelim(dec, ']'); err != nil {
			yield(nil, err)
			return
		}
	}
}

func (d *SYNOP) decodeMessage(items []any, source string) result {
	r := record.New(record.Synop, source)
	for _, f := range d.fields {
		r[f] = nil
	}
	if err := d.walk(r, items, nil); err != nil {
		if errors.Is(err, errIncompleteTime) {
			return skip("skipping message with incomplete time", "source", source)
		}
		return fatal(err)
	}
	for _, f := range synopMandatory {
		if !r.Present(f) {
			return skipIncomplete("skipping incomplete record",
				"missing", f, "wmo_station_id", r[record.FieldWMOStationID], "source", source)
		}
	}
	d.sanitizer.Apply(r, d.logger)
	return success(r)
}

// walk visits items depth first. Each list gets its own copy of the context
// so keys set inside a nested list do not leak to its siblings.
func (d *SYNOP) walk(r record.Record, items []any, base map[string]any) error {
	ctx := make(map[string]any, len(base)+len(items))
	for k, v := range base {
		ctx[k] = v
	}
	for _, item := range items {
		switch item := item.(type) {
		case []any:
			if err := d.walk(r, item, ctx); err != nil {
				return err
			}
		case map[string]any:
			key, _ := item["key"].(string)
			value := item["value"]
			ctx[key] = value
			if err := d.apply(r, ctx, key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *SYNOP) apply(r record.Record, ctx map[string]any, key string, value any) error {
	if field, found := d.direct[key]; found {
		r[field] = value
		return nil
	}
	if field, found := d.atHeight[key]; found {
		if h, present := ctx[synopSensorHeightKey].(float64); present && h == synopSensorHeight {
			r[field] = value
		}
		return nil
	}
	if field, found := d.windowed[key]; found {
		period := synopDefaultPeriod
		if raw, present := ctx[synopTimePeriodKey]; present {
			p, isNum := raw.(float64)
			if !isNum {
				return nil
			}
			period = p
		}
		if !isSynopWindow(period) {
			return nil
		}
		if v, isNum := value.(float64); isNum && field == "sunshine" {
			value = units.MinutesToSeconds(v)
		}
		r[windowField(field, period)] = value
		return nil
	}
	if rule, found := d.rules[key]; found {
		return rule(r, ctx, value)
	}
	return nil
}

func (d *SYNOP) parseTime(r record.Record, ctx map[string]any, _ any) error {
	var parts [5]int
	for i, key := range []string{"year", "month", "day", "hour", "minute"} {
		v, ok := jsonInt(ctx[key])
		if !ok {
			return errIncompleteTime
		}
		parts[i] = v
	}
	r[record.FieldTimestamp] = time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], 0, 0, time.UTC)
	return nil
}

// parseStationNumber builds the WMO id from block and station number, or
// falls back to the short station name for stations without a number.
func (d *SYNOP) parseStationNumber(r record.Record, ctx map[string]any, _ any) error {
	var wmoID string
	station, hasStation := jsonInt(ctx["stationNumber"])
	block, hasBlock := jsonInt(ctx["blockNumber"])
	switch {
	case hasStation && station != 0 && hasBlock:
		wmoID = fmt.Sprintf("%d%03d", block, station)
	default:
		wmoID, _ = ctx["shortStationName"].(string)
	}
	if wmoID == "" {
		r[record.FieldWMOStationID] = nil
		r[record.FieldDWDStationID] = nil
		return nil
	}
	r[record.FieldWMOStationID] = wmoID
	r[record.FieldDWDStationID] = record.OptString(d.stations.ToDWD(wmoID))
	return nil
}

func isSynopWindow(period float64) bool {
	for _, w := range synopWindows {
		if period == w {
			return true
		}
	}
	return false
}

func windowField(field string, period float64) string {
	return fmt.Sprintf("%s_%d", field, int(-period))
}

// jsonInt converts a decoded JSON number to int.
func jsonInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read message document: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("read message document: expected %q, got %v", want, tok)
	}
	return nil
}
