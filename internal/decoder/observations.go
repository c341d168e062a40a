package decoder

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"iter"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/dwd-ingest/internal/record"
	"github.com/couchcryptid/dwd-ingest/internal/stations"
)

// ExtraMetaPath names the station metadata archive needed by the 10-minute
// observation decoders.
const ExtraMetaPath = "meta_path"

const (
	missingValue       = "-999"
	hourlyTimeLayout   = "2006010215"
	tenMinTimeLayout   = "200601021504"
	metadataTimeLayout = "20060102"
	sourcePrefix       = "Observations:Recent:"
)

var (
	metadataMemberRe = regexp.MustCompile(`^Metadaten_Geographie_(\d+)\.txt`)
	productMemberRe  = regexp.MustCompile(`^produkt_.*_(\d+)\.txt`)
)

// Element maps one product column to a record field.
type Element struct {
	Field  string
	Column string
	// Ignore lists raw values, besides -999, that mean "not observed".
	Ignore []string
	// Convert turns the parsed value into the stored one. Nil stores the
	// float64 as is.
	Convert func(float64) any
}

// TenMinute configures products reported every ten minutes and reduced to
// hourly records.
type TenMinute struct {
	// TriggerMinute is the minute of the row that closes an hour. Triggers
	// after :30 are rounded up to the next full hour.
	TriggerMinute int
	// MetaURL is the station metadata archive, formatted with the station id.
	MetaURL string
	// Reduce combines the rows of one hour into the element fields.
	Reduce func(hour []record.Record) record.Record
}

// ProductConfig describes one historical observation product.
type ProductConfig struct {
	Name       string
	FilePrefix string
	Elements   []Element
	// Neighbors, when set, may fix up a row given the rows around it. prev
	// is nil for the first row and next for the last.
	Neighbors func(prev, row, next map[string]string)
	// Derive, when set, post-processes the element fields of a row. height
	// is the station height at the row's time, if known.
	Derive func(r record.Record, height any)
	// SkipRow, when set, drops rows before the station metadata lookup.
	SkipRow   func(ts time.Time) bool
	TenMinute *TenMinute
}

// stationInfo is the station position and name valid from a date on.
type stationInfo struct {
	from   time.Time
	lat    float64
	lon    float64
	height float64
	name   string
}

// stationHistory is ordered by effective date.
type stationHistory []stationInfo

// at returns the last entry effective at or before ts.
func (h stationHistory) at(ts time.Time) (stationInfo, bool) {
	i, _ := slices.BinarySearchFunc(h, ts, func(e stationInfo, t time.Time) int {
		if e.from.After(t) {
			return 1
		}
		return -1
	})
	if i == 0 {
		return stationInfo{}, false
	}
	return h[i-1], true
}

func (h stationHistory) fill(r record.Record, ts time.Time) {
	info, found := h.at(ts)
	if !found {
		r[record.FieldLat] = nil
		r[record.FieldLon] = nil
		r[record.FieldHeight] = nil
		r[record.FieldStationName] = nil
		return
	}
	r[record.FieldLat] = info.lat
	r[record.FieldLon] = info.lon
	r[record.FieldHeight] = info.height
	r[record.FieldStationName] = info.name
}

// Observations decodes the zipped historical observation products of the
// DWD climate data center.
type Observations struct {
	reporter
	stations stations.Lookup
	cfg      ProductConfig
}

// NewObservations returns a decoder for the product described by cfg.
func NewObservations(opts Options, cfg ProductConfig) *Observations {
	opts = opts.withDefaults()
	return &Observations{
		reporter: newReporter(opts, cfg.Name),
		stations: opts.Stations,
		cfg:      cfg,
	}
}

// ExtraInputs implements Decoder. 10-minute products need the station
// metadata archive, which is published separately.
func (d *Observations) ExtraInputs(path string) (map[string]string, error) {
	if d.cfg.TenMinute == nil {
		return nil, nil
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer zr.Close()
	id, err := d.stationID(&zr.Reader)
	if err != nil {
		return nil, err
	}
	return map[string]string{ExtraMetaPath: fmt.Sprintf(d.cfg.TenMinute.MetaURL, id)}, nil
}

// Decode implements Decoder.
func (d *Observations) Decode(path string, extra map[string]string) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		d.logger.Info("parsing", "path", path)
		zr, err := zip.OpenReader(path)
		if err != nil {
			yield(nil, fmt.Errorf("open %s: %w", path, err))
			return
		}
		defer zr.Close()

		dwdID, err := d.stationID(&zr.Reader)
		if err != nil {
			yield(nil, fmt.Errorf("%s: %w", path, err))
			return
		}
		history, err := d.history(&zr.Reader, dwdID, extra)
		if err != nil {
			yield(nil, fmt.Errorf("%s: %w", path, err))
			return
		}
		member, err := findMember(&zr.Reader, "product", func(name string) bool {
			return strings.HasPrefix(name, "produkt_")
		})
		if err != nil {
			yield(nil, fmt.Errorf("%s: %w", path, err))
			return
		}
		f, err := member.Open()
		if err != nil {
			yield(nil, fmt.Errorf("open %s in %s: %w", member.Name, path, err))
			return
		}
		defer f.Close()

		table, err := newTableReader(f, true)
		if err != nil {
			yield(nil, fmt.Errorf("%s in %s: %w", member.Name, path, err))
			return
		}

		base := record.New(record.Historical, sourcePrefix+member.Name)
		base[record.FieldDWDStationID] = dwdID
		base[record.FieldWMOStationID] = record.OptString(d.stations.ToWMO(dwdID))

		next := table.Next
		if d.cfg.Neighbors != nil {
			next = withNeighbors(next, d.cfg.Neighbors)
		}
		if d.cfg.TenMinute != nil {
			d.decodeTenMinute(next, base, history, yield)
			return
		}
		d.decodeHourly(next, base, history, yield)
	}
}

func (d *Observations) decodeHourly(next func() (map[string]string, error), base record.Record, history stationHistory, yield func(record.Record, error) bool) {
	for {
		row, err := next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("read observation row: %w", err))
			return
		}
		ts, err := time.Parse(hourlyTimeLayout, row["MESS_DATUM"])
		if err != nil {
			yield(nil, fmt.Errorf("parse observation time: %w", err))
			return
		}
		if d.cfg.SkipRow != nil && d.cfg.SkipRow(ts) {
			continue
		}

		r := base.Clone()
		r[record.FieldTimestamp] = ts
		history.fill(r, ts)
		elements, err := d.parseElements(row)
		if err != nil {
			yield(nil, err)
			return
		}
		r.Merge(elements)
		if d.cfg.Derive != nil {
			d.cfg.Derive(r, r[record.FieldHeight])
		}
		if !yield(r, nil) {
			return
		}
	}
}

// decodeTenMinute collects rows until the trigger minute and reduces them to
// one hourly record. Rows after the last trigger are dropped.
func (d *Observations) decodeTenMinute(next func() (map[string]string, error), base record.Record, history stationHistory, yield func(record.Record, error) bool) {
	tm := d.cfg.TenMinute
	var hour []record.Record
	for {
		row, err := next()
		if errors.Is(err, io.EOF) {
			if len(hour) > 0 {
				d.logger.Debug("dropping partial hour", "rows", len(hour), "source", base[record.FieldSource])
			}
			return
		}
		if err != nil {
			yield(nil, fmt.Errorf("read observation row: %w", err))
			return
		}
		ts, err := time.Parse(tenMinTimeLayout, row["MESS_DATUM"])
		if err != nil {
			yield(nil, fmt.Errorf("parse observation time: %w", err))
			return
		}
		if d.cfg.SkipRow != nil && d.cfg.SkipRow(ts.Add(50*time.Minute)) {
			continue
		}
		elements, err := d.parseElements(row)
		if err != nil {
			yield(nil, err)
			return
		}
		hour = append(hour, elements)
		if ts.Minute() != tm.TriggerMinute {
			continue
		}

		switch {
		case tm.TriggerMinute > 30:
			ts = ts.Add(time.Duration(60-tm.TriggerMinute) * time.Minute)
		case tm.TriggerMinute > 0:
			ts = ts.Truncate(time.Hour)
		}
		r := base.Clone()
		r[record.FieldTimestamp] = ts
		history.fill(r, ts)
		r.Merge(tm.Reduce(hour))
		hour = hour[:0]
		if !yield(r, nil) {
			return
		}
	}
}

func (d *Observations) parseElements(row map[string]string) (record.Record, error) {
	r := make(record.Record, len(d.cfg.Elements))
	for _, e := range d.cfg.Elements {
		raw, present := row[e.Column]
		if !present {
			return nil, fmt.Errorf("missing column %q", e.Column)
		}
		if raw == missingValue || slices.Contains(e.Ignore, raw) {
			r[e.Field] = nil
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", e.Column, err)
		}
		if e.Convert != nil {
			r[e.Field] = e.Convert(v)
		} else {
			r[e.Field] = v
		}
	}
	return r, nil
}

func (d *Observations) stationID(zr *zip.Reader) (string, error) {
	re := metadataMemberRe
	if d.cfg.TenMinute != nil {
		re = productMemberRe
	}
	for _, f := range zr.File {
		if m := re.FindStringSubmatch(f.Name); m != nil {
			return m[1], nil
		}
	}
	return "", errors.New("unable to parse station id")
}

// history reads the station position history. Hourly archives carry it;
// 10-minute products take it from the archive named by ExtraMetaPath.
func (d *Observations) history(zr *zip.Reader, dwdID string, extra map[string]string) (stationHistory, error) {
	if d.cfg.TenMinute == nil {
		return readHistory(zr, dwdID)
	}
	metaPath, present := extra[ExtraMetaPath]
	if !present {
		return nil, fmt.Errorf("%w: %s", ErrMissingExtraInput, ExtraMetaPath)
	}
	meta, err := zip.OpenReader(metaPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", metaPath, err)
	}
	defer meta.Close()
	return readHistory(&meta.Reader, dwdID)
}

func readHistory(zr *zip.Reader, dwdID string) (stationHistory, error) {
	name := "Metadaten_Geographie_" + dwdID + ".txt"
	member, err := findMember(zr, "station metadata", func(n string) bool { return n == name })
	if err != nil {
		return nil, err
	}
	f, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	table, err := newTableReader(f, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	var h stationHistory
	for {
		row, err := table.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		entry, err := parseStationInfo(row)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		h = append(h, entry)
	}
	slices.SortStableFunc(h, func(a, b stationInfo) int { return a.from.Compare(b.from) })
	return h, nil
}

func parseStationInfo(row map[string]string) (stationInfo, error) {
	from, err := time.Parse(metadataTimeLayout, row["von_datum"])
	if err != nil {
		return stationInfo{}, fmt.Errorf("parse von_datum: %w", err)
	}
	info := stationInfo{from: from, name: row["Stationsname"]}
	for _, c := range []struct {
		column string
		dst    *float64
	}{
		{"Geogr.Breite", &info.lat},
		{"Geogr.Laenge", &info.lon},
		{"Stationshoehe", &info.height},
	} {
		*c.dst, err = strconv.ParseFloat(row[c.column], 64)
		if err != nil {
			return stationInfo{}, fmt.Errorf("parse %s: %w", c.column, err)
		}
	}
	return info, nil
}

// withNeighbors wraps next so that fix sees each row between its
// predecessor, already fixed, and its successor, not yet fixed.
func withNeighbors(next func() (map[string]string, error), fix func(prev, row, next map[string]string)) func() (map[string]string, error) {
	var prev, cur map[string]string
	primed := false
	return func() (map[string]string, error) {
		if !primed {
			primed = true
			row, err := next()
			if err != nil {
				return nil, err
			}
			cur = row
		}
		if cur == nil {
			return nil, io.EOF
		}
		ahead, err := next()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		row := cur
		fix(prev, row, ahead)
		prev, cur = row, ahead
		return row, nil
	}
}
