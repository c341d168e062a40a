package decoder

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/dwd-ingest/internal/record"
	"github.com/couchcryptid/dwd-ingest/internal/stations"
	"github.com/couchcryptid/dwd-ingest/internal/units"
)

// mosmixElement maps one MOSMIX element code to a record field.
type mosmixElement struct {
	code    string
	field   string
	convert func(string) (any, error)
}

// mosmixElements lists the MOSMIX elements kept in forecast records.
// MOSMIX already reports SI units except for radiation.
var mosmixElements = []mosmixElement{
	{"DD", "wind_direction", parseFloatValue},
	{"FF", "wind_speed", parseFloatValue},
	{"FX1", "wind_gust_speed", parseFloatValue},
	{"N", "cloud_cover", parseFloatValue},
	{"PPPP", "pressure_msl", parseFloatValue},
	{"R101", "precipitation_probability", parseFloatValue},
	{"R602", "precipitation_probability_6h", parseFloatValue},
	{"Rad1h", "solar", parseMOSMIXSolar},
	{"RR1c", "precipitation", parseFloatValue},
	{"SunD1", "sunshine", parseFloatValue},
	{"Td", "dew_point", parseFloatValue},
	{"TTT", "temperature", parseFloatValue},
	{"VV", "visibility", parseFloatValue},
	{"ww", "condition", parseMOSMIXCondition},
}

// MOSMIX decodes MOSMIX_L and MOSMIX_S forecast bulletins (.kmz).
//
// The KML document is read as a token stream. Only the station currently
// being decoded is held in memory, which keeps a full national bulletin at
// a few megabytes instead of gigabytes.
type MOSMIX struct {
	reporter
	stations  stations.Lookup
	elements  map[string]mosmixElement
	sanitizer record.Sanitizer
}

// NewMOSMIX returns a forecast bulletin decoder.
func NewMOSMIX(opts Options) *MOSMIX {
	opts = opts.withDefaults()
	elements := make(map[string]mosmixElement, len(mosmixElements))
	for _, e := range mosmixElements {
		elements[e.code] = e
	}
	return &MOSMIX{
		reporter: newReporter(opts, "mosmix"),
		stations: opts.Stations,
		elements: elements,
		sanitizer: record.Sanitizer{
			record.NullIfNegative("precipitation"),
			record.WrapAbove("wind_direction", 360),
			record.Clamp("cloud_cover", 0, 100),
		},
	}
}

// ExtraInputs implements Decoder.
func (d *MOSMIX) ExtraInputs(string) (map[string]string, error) { return nil, nil }

// Decode implements Decoder.
func (d *MOSMIX) Decode(path string, _ map[string]string) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		d.logger.Info("parsing", "path", path)
		zr, err := zip.OpenReader(path)
		if err != nil {
			yield(nil, fmt.Errorf("open %s: %w", path, err))
			return
		}
		defer zr.Close()

		if len(zr.File) != 1 {
			yield(nil, fmt.Errorf("unexpected zip content in %s: %d members", path, len(zr.File)))
			return
		}
		f, err := zr.File[0].Open()
		if err != nil {
			yield(nil, fmt.Errorf("open %s in %s: %w", zr.File[0].Name, path, err))
			return
		}
		defer f.Close()

		d.decodeStream(f, yield)
	}
}

// kmlPlacemark is one forecast station. Element names are matched without
// namespace; the KML and DWD extension vocabularies do not overlap.
type kmlPlacemark struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Point       *struct {
		Coordinates string `xml:"coordinates"`
	} `xml:"Point"`
	Forecasts []struct {
		ElementName string `xml:"elementName,attr"`
		Value       string `xml:"value"`
	} `xml:"ExtendedData>Forecast"`
}

type forecastTimeSteps struct {
	Steps []string `xml:"TimeStep"`
}

func (d *MOSMIX) decodeStream(r io.Reader, yield func(record.Record, error) bool) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = xmlCharsetReader
	var (
		timestamps []time.Time
		source     string
		issued     bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("read forecast document: %w", err))
			return
		}
		start, isStart := tok.(xml.StartElement)
		if !isStart {
			continue
		}

		switch start.Name.Local {
		case "ProductID":
			var id string
			if err := dec.DecodeElement(&id, &start); err != nil {
				yield(nil, fmt.Errorf("decode product id: %w", err))
				return
			}
			if source != "" {
				yield(nil, errors.New("unexpected extra product id"))
				return
			}
			source = strings.TrimSpace(id)
		case "IssueTime":
			var issue string
			if err := dec.DecodeElement(&issue, &start); err != nil {
				yield(nil, fmt.Errorf("decode issue time: %w", err))
				return
			}
			if source == "" || issued {
				yield(nil, errors.New("unexpected issue time without product id"))
				return
			}
			source += ":" + strings.TrimSpace(issue)
			issued = true
		case "ForecastTimeSteps":
			if timestamps != nil {
				yield(nil, errors.New("unexpected extra forecast time steps"))
				return
			}
			var steps forecastTimeSteps
			if err := dec.DecodeElement(&steps, &start); err != nil {
				yield(nil, fmt.Errorf("decode forecast time steps: %w", err))
				return
			}
			timestamps, err = parseTimeSteps(steps.Steps)
			if err != nil {
				yield(nil, err)
				return
			}
		case "Placemark":
			if timestamps == nil {
				yield(nil, errors.New("placemark without forecast time steps"))
				return
			}
			if source == "" {
				yield(nil, errors.New("placemark without source"))
				return
			}
			var pm kmlPlacemark
			if err := dec.DecodeElement(&pm, &start); err != nil {
				yield(nil, fmt.Errorf("decode placemark: %w", err))
				return
			}
			if !d.emitStation(&pm, timestamps, source, yield) {
				return
			}
		}
	}
}

// emitStation transposes one station's element arrays into one record per
// time step and yields them. It returns false when decoding must stop.
func (d *MOSMIX) emitStation(pm *kmlPlacemark, timestamps []time.Time, source string, yield func(record.Record, error) bool) bool {
	base, res := d.stationBase(pm, source)
	if res.outcome != outcomeOK {
		return d.emit(yield, res)
	}

	columns := make(map[string][]any, len(d.elements))
	for _, fc := range pm.Forecasts {
		element, known := d.elements[fc.ElementName]
		if !known {
			continue
		}
		values, err := parseValueSeries(fc.Value, element.convert)
		if err != nil {
			return d.emit(yield, fatal(fmt.Errorf("station %s element %s: %w", pm.Name, element.code, err)))
		}
		if len(values) != len(timestamps) {
			return d.emit(yield, fatal(fmt.Errorf(
				"station %s element %s: got %d values for %d time steps",
				pm.Name, element.code, len(values), len(timestamps))))
		}
		columns[element.field] = values
	}

	for i, ts := range timestamps {
		r := base.Clone()
		r[record.FieldTimestamp] = ts
		for _, e := range mosmixElements {
			if col, present := columns[e.field]; present {
				r[e.field] = col[i]
			} else {
				r[e.field] = nil
			}
		}
		d.sanitizer.Apply(r, d.logger)
		if !d.emit(yield, success(r)) {
			return false
		}
	}
	return true
}

func (d *MOSMIX) stationBase(pm *kmlPlacemark, source string) (record.Record, result) {
	wmoID := strings.TrimSpace(pm.Name)
	dwdID, known := d.stations.ToDWD(wmoID)
	name := strings.TrimSpace(pm.Description)

	if pm.Point == nil || strings.TrimSpace(pm.Point.Coordinates) == "" {
		return nil, skip("ignoring station without coordinates",
			"wmo_station_id", wmoID, "dwd_station_id", dwdID, "station_name", name)
	}
	lon, lat, height, err := parseCoordinates(pm.Point.Coordinates)
	if err != nil {
		return nil, skip("ignoring station with malformed coordinates",
			"wmo_station_id", wmoID, "station_name", name, "error", err)
	}

	r := record.New(record.Forecast, source)
	r[record.FieldLat] = lat
	r[record.FieldLon] = lon
	r[record.FieldHeight] = height
	r[record.FieldDWDStationID] = record.OptString(dwdID, known)
	r[record.FieldWMOStationID] = wmoID
	r[record.FieldStationName] = name
	return r, success(r)
}

// parseCoordinates parses a KML "lon,lat,height" triple.
func parseCoordinates(s string) (lon, lat, height float64, err error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("expected lon,lat,height, got %q", s)
	}
	var vals [3]float64
	for i, p := range parts {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, 0, err
		}
	}
	return vals[0], vals[1], vals[2], nil
}

func parseTimeSteps(steps []string) ([]time.Time, error) {
	out := make([]time.Time, len(steps))
	for i, s := range steps {
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parse time step %q: %w", s, err)
		}
		out[i] = ts.UTC()
	}
	return out, nil
}

// parseValueSeries splits a whitespace separated value list. "-" marks an
// absent value.
func parseValueSeries(s string, convert func(string) (any, error)) ([]any, error) {
	fields := strings.Fields(s)
	out := make([]any, len(fields))
	for i, f := range fields {
		if f == "-" {
			continue
		}
		v, err := convert(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseFloatValue(s string) (any, error) {
	return strconv.ParseFloat(s, 64)
}

func parseMOSMIXSolar(s string) (any, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return units.KJPerM2ToJPerM2(v), nil
}

// parseMOSMIXCondition reads the integer part of a ww code such as "61.00".
func parseMOSMIXCondition(s string) (any, error) {
	code, err := strconv.Atoi(strings.SplitN(s, ".", 2)[0])
	if err != nil {
		return nil, err
	}
	if c, known := units.SynopCurrentWeatherToCondition(code); known {
		return string(c), nil
	}
	return nil, nil
}
