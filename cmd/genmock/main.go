// Command genmock writes synthetic DWD open data files, one or more per
// supported product, for local smoke runs of ingest and validate.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock
//	go run ./cmd/ingest -stations data/mock/support/stations.html data/mock/*.*
//	go run ./cmd/validate -stations data/mock/support/stations.html \
//	  -meta data/mock/support data/mock/*.*
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/couchcryptid/dwd-ingest/internal/fixture"
)

// sample is one generated file.
type sample struct {
	name  string
	build func(at time.Time) ([]byte, error)
}

// supportDir holds the files that are inputs of ingest but not targets.
const supportDir = "support"

var samples = []sample{
	{"support/stations.html", func(time.Time) ([]byte, error) { return stationList(), nil }},
	{"MOSMIX_S_LATEST_240.kmz", mosmix},
	{"Z__C_EDZW_{ts}_bda01,synop_bufr_GER_999999_999999__MW_466.json.bz2", synop},
	{"DE1200_RV{rv}.tar.bz2", radolan},
	{"Z_CAP_C_EDZW_LATEST_PVW_STATUS_PREMIUMDWD_COMMUNEUNION_MUL.zip", alerts},
	{"10315-BEOB.csv", current},
	{"stundenwerte_TU_01766_akt.zip", hourly("tu", []string{"STATIONS_ID", "MESS_DATUM", "QN_9", "TT_TU", "RF_TU"},
		func(i int) []string { return []string{fmt.Sprintf("%.1f", 10+3*math.Sin(float64(i)/4)), fmt.Sprint(60 + i%30)} })},
	{"stundenwerte_RR_01766_akt.zip", hourly("rr", []string{"STATIONS_ID", "MESS_DATUM", "QN_8", "R1", "RS_IND", "WRTR"},
		func(i int) []string {
			if i%5 == 0 {
				return []string{"0.4", "1", "6"}
			}
			return []string{"0.0", "0", "-999"}
		})},
	{"stundenwerte_P0_01766_akt.zip", hourly("p0", []string{"STATIONS_ID", "MESS_DATUM", "QN_8", "P", "P0"},
		func(i int) []string { return []string{fmt.Sprintf("%.1f", 1013+float64(i%7)), fmt.Sprintf("%.1f", 1007+float64(i%7))} })},
	{"10minutenwerte_SOLAR_01766_akt.zip", solar},
	{"support/Meta_Daten_zehn_min_sd_01766.zip", metadata},
}

var positions = []fixture.StationPosition{
	{From: "19890101", To: "20230430", Lat: 52.1, Lon: 7.7, Height: 40, Name: "Greven"},
	{From: "20230501", To: "", Lat: 52.1344, Lon: 7.6969, Height: 48, Name: "Münster/Osnabrück"},
}

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.TimeOnly}))
	if err := run(logger); err != nil {
		logger.Error("genmock failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	out := flag.String("out", "", "directory the sample files are written to")
	at := flag.String("at", "2023-05-08T13:30:00Z", "nominal time of the samples (RFC 3339)")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	nominal, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		return fmt.Errorf("parse -at: %w", err)
	}
	nominal = nominal.UTC().Truncate(5 * time.Minute)
	if err := os.MkdirAll(filepath.Join(*out, supportDir), 0o755); err != nil {
		return err
	}
	return generate(*out, nominal, logger)
}

func generate(dir string, nominal time.Time, logger *slog.Logger) error {
	for _, s := range samples {
		name := expand(s.name, nominal)
		data, err := s.build(nominal)
		if err != nil {
			return fmt.Errorf("build %s: %w", name, err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		logger.Info("wrote sample", "path", path, "bytes", len(data))
	}
	return nil
}

func expand(name string, at time.Time) string {
	return strings.NewReplacer(
		"{ts}", at.Format("20060102150405"),
		"{rv}", at.Format("0601021504"),
	).Replace(name)
}

func stationList() []byte {
	return fixture.StationList([]fixture.StationEntry{
		{Name: "Münster/Osnabrück", DWDID: "1766", Kind: "SY", WMOID: "10315"},
		{Name: "Düsseldorf", DWDID: "1078", Kind: "SY", WMOID: "10400"},
		{Name: "Aachen-Orsbach", DWDID: "15000", Kind: "SY", WMOID: "10505"},
	})
}

func mosmix(at time.Time) ([]byte, error) {
	issue := at.Truncate(time.Hour).Add(-time.Hour)
	steps := make([]time.Time, 24)
	ttt := make([]string, len(steps))
	dd := make([]string, len(steps))
	ff := make([]string, len(steps))
	rr := make([]string, len(steps))
	for i := range steps {
		steps[i] = issue.Add(time.Duration(i+1) * time.Hour)
		ttt[i] = fmt.Sprintf("%.2f", 283.15+4*math.Sin(float64(i)/24*2*math.Pi))
		dd[i] = fmt.Sprintf("%.1f", float64((200+10*i)%360))
		ff[i] = fmt.Sprintf("%.2f", 3+float64(i%6)/2)
		rr[i] = "0.00"
		if i%8 == 3 {
			rr[i] = "0.40"
			ttt[i] = "-"
		}
	}
	stations := []fixture.ForecastStation{
		{WMOID: "10315", Name: "MUENSTER/OSNABR.", Coordinates: "7.7,52.13,48.0",
			Elements: map[string][]string{"TTT": ttt, "DD": dd, "FF": ff, "RR1c": rr}, Order: []string{"TTT", "DD", "FF", "RR1c"}},
		{WMOID: "10400", Name: "DUESSELDORF", Coordinates: "6.77,51.3,37.0",
			Elements: map[string][]string{"TTT": ttt, "FF": ff}, Order: []string{"TTT", "FF"}},
	}
	doc := fixture.MOSMIXDocument("MOSMIX", issue.Format("2006-01-02T15:04:05.000Z"), steps, stations)
	return fixture.KMZ("MOSMIX_S_"+issue.Format("2006010215")+"_240.kml", doc)
}

func synop(at time.Time) ([]byte, error) {
	ts := at.Truncate(time.Hour)
	doc, err := fixture.SYNOPDocument(
		fixture.SYNOPMessage(315, "MUENSTER/OSNABRUECK", ts, 285.15),
		fixture.SYNOPMessage(400, "DUESSELDORF", ts, 286.35),
		fixture.SYNOPMessage(505, "AACHEN-ORSBACH", ts, 284.75),
	)
	if err != nil {
		return nil, err
	}
	return fixture.Bzip2(doc)
}

// radolan renders the two frames of an RV bundle: a band of rain over a
// dry background with a clutter patch.
func radolan(at time.Time) ([]byte, error) {
	members := make([]fixture.Member, 0, 2)
	for _, offset := range []int{0, 5} {
		g := fixture.RadolanGrid{
			Product: "RV", Height: 1200, Width: 1100, Interval: 5, Precision: "E-02",
			Nominal: at, OffsetMinutes: offset,
			Cell: func(row, col int) uint16 {
				switch {
				case row > 590 && row < 610 && col > 500 && col < 520:
					return 0x2000
				case math.Abs(float64(row-600-col/4-offset)) < 40:
					return uint16(20 + (col % 50))
				}
				return 0
			},
		}
		name := fmt.Sprintf("DE1200_RV%s_%03d", at.Format("0601021504"), offset)
		members = append(members, fixture.Member{Name: name, Body: fixture.RadolanFrame(g)})
	}
	return fixture.TarBzip2(members...)
}

func alerts(at time.Time) ([]byte, error) {
	list := []fixture.Alert{
		{
			Identifier: "2.49.0.0.276.0.DWD.PVW.1683548400000.1b1f0c7e-9a6b-4e84-a1a4-01",
			EventDE:    "FROST", EventEN: "FROST", Category: "Met", Severity: "Minor",
			Effective: at.Format(time.RFC3339), Onset: at.Add(6 * time.Hour).Format(time.RFC3339),
			Expires:   at.Add(12 * time.Hour).Format(time.RFC3339),
			EventCode: 22, WarnCellIDs: []int{805334002, 805334004},
		},
		{
			Identifier: "2.49.0.0.276.0.DWD.PVW.1683548400000.1b1f0c7e-9a6b-4e84-a1a4-02",
			EventDE:    "STURMBÖEN", EventEN: "GALES", Category: "Met", Severity: "Moderate",
			Effective: at.Format(time.RFC3339), Onset: at.Format(time.RFC3339),
			EventCode: 52, WarnCellIDs: []int{805515000},
		},
	}
	members := make([]fixture.Member, len(list))
	for i, a := range list {
		members[i] = fixture.Member{Name: a.Identifier + ".xml", Body: fixture.CAPDocument(a)}
	}
	return fixture.Zip(members...)
}

func current(at time.Time) ([]byte, error) {
	rows := make([]map[string]string, 0, 6)
	for i := range 6 {
		ts := at.Truncate(time.Hour).Add(-time.Duration(i) * time.Hour)
		rows = append(rows, map[string]string{
			"surface observations":  ts.Format("02.01.06"),
			"Parameter description": ts.Format("15:04"),
			"cloud_cover_total":     fmt.Sprint(25 * (i % 5)),
			"dry_bulb_temperature_at_2_meter_above_ground": fmt.Sprintf("%.1f", 12.5-0.5*float64(i)),
			"pressure_reduced_to_mean_sea_level":           "1016,5",
			"relative_humidity":                            fmt.Sprint(70 + i),
		})
	}
	return fixture.CurrentCSV("10315", rows), nil
}

// hourly builds a recent hourly archive for station 01766 covering the two
// days before at. values returns the cells after the quality column.
func hourly(code string, header []string, values func(i int) []string) func(time.Time) ([]byte, error) {
	return func(at time.Time) ([]byte, error) {
		start := at.Truncate(time.Hour).Add(-48 * time.Hour)
		rows := make([][]string, 0, 48)
		for i := range 48 {
			row := []string{"1766", start.Add(time.Duration(i) * time.Hour).Format("2006010215"), "   10"}
			rows = append(rows, append(row, values(i)...))
		}
		member := fmt.Sprintf("produkt_%s_stunde_%s_%s_01766.txt", code, start.Format("20060102"), at.Format("20060102"))
		return fixture.Zip(
			fixture.Member{Name: "Metadaten_Parameter_" + code + "_stunde_01766.txt", Body: []byte("Stations_ID;Parameter\n")},
			fixture.StationMetadata("01766", positions),
			fixture.Member{Name: member, Body: fixture.Table(header, rows)},
		)
	}
}

func solar(at time.Time) ([]byte, error) {
	start := at.Truncate(time.Hour).Add(-6 * time.Hour)
	rows := make([][]string, 0, 36)
	for i := range 36 {
		ts := start.Add(time.Duration(i) * 10 * time.Minute)
		rows = append(rows, []string{"1766", ts.Format("200601021504"), "3", "-999", fmt.Sprintf("%.1f", 5+float64(i%6)), "0.1", "-999"})
	}
	member := fmt.Sprintf("produkt_zehn_min_sd_%s_%s_01766.txt", start.Format("20060102"), at.Format("20060102"))
	return fixture.Zip(fixture.Member{
		Name: member,
		Body: fixture.Table([]string{"STATIONS_ID", "MESS_DATUM", "QN", "DS_10", "GS_10", "SD_10", "LS_10"}, rows),
	})
}

func metadata(time.Time) ([]byte, error) {
	return fixture.Zip(fixture.StationMetadata("01766", positions))
}
