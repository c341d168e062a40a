// Command validate decodes DWD open data files and checks the records they
// produce: dispatch, decoding, record shape, value bounds, grid shape and
// idempotent re-decoding. It is meant for files written by genmock or
// downloaded by hand.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -stations data/mock/support/stations.html \
//	  -meta data/mock/support \
//	  data/mock/*.*
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/couchcryptid/dwd-ingest/internal/decoder"
	"github.com/couchcryptid/dwd-ingest/internal/record"
	"github.com/couchcryptid/dwd-ingest/internal/stations"
)

// bound is the plausible range of a numeric field in SI units.
type bound struct {
	prefix   string
	min, max float64
}

var bounds = []bound{
	{"temperature", 180, 340},
	{"dew_point", 180, 330},
	{"relative_humidity", 0, 100},
	{"cloud_cover", 0, 100},
	{"wind_direction", 0, 360},
	{"wind_gust_direction", 0, 360},
	{"wind_speed", 0, 100},
	{"wind_gust_speed", 0, 120},
	{"pressure_msl", 85000, 110000},
	{"precipitation", 0, 500},
	{"sunshine", 0, 3600},
	{"visibility", 0, 100000},
	{"solar", 0, 5e6},
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// input is one target with its decoder and decoded records.
type input struct {
	path    string
	name    string
	decoder decoder.Decoder
	extra   map[string]string
	records []record.Record
}

func main() {
	stationsPath := flag.String("stations", "", "station list file used to resolve station ids")
	metaDir := flag.String("meta", "", "directory holding extra inputs, looked up by the base name of their URL")
	verbose := flag.Bool("v", false, "log decoder diagnostics")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	os.Exit(run(os.Stdout, flag.Args(), *stationsPath, *metaDir, logger))
}

func run(w io.Writer, targets []string, stationsPath, metaDir string, logger *slog.Logger) int {
	fmt.Fprintln(w, "=== DWD Decoding Validation ===")
	fmt.Fprintln(w)

	resolver := stations.NewResolver(logger)
	if stationsPath != "" {
		if err := resolver.Load(context.Background(), stationsPath, nil); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load stations: %v\n", err)
			return 1
		}
	}
	registry := decoder.NewRegistry(decoder.Options{Logger: logger, Stations: resolver})

	dispatch, inputs := validateDispatch(registry, targets, metaDir)
	decode := validateDecode(inputs)
	phases := []*phase{
		dispatch,
		decode,
		validateShape(inputs),
		validateBounds(inputs),
		validateGrids(inputs),
		validateIdempotence(inputs),
	}

	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Inputs: %d targets, %d decoded, %d records\n", len(targets), countDecoded(inputs), countRecords(inputs))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// ── Phases ──

// validateDispatch selects a decoder for every target and resolves its
// extra inputs against metaDir.
func validateDispatch(registry *decoder.Registry, targets []string, metaDir string) (*phase, []*input) {
	p := &phase{name: "Phase 1: Dispatch & extra inputs"}
	var inputs []*input
	for _, t := range targets {
		name, dec, err := registry.Lookup(t)
		if err != nil {
			p.errorf("%s: %v", t, err)
			continue
		}
		urls, err := dec.ExtraInputs(t)
		if err != nil {
			p.errorf("%s: extra inputs: %v", t, err)
			continue
		}
		extra := make(map[string]string, len(urls))
		missing := false
		for key, u := range urls {
			local := filepath.Join(metaDir, path.Base(u))
			if _, err := os.Stat(local); err != nil {
				p.errorf("%s: extra input %s not found at %s", t, key, local)
				missing = true
				continue
			}
			extra[key] = local
		}
		if missing {
			continue
		}
		inputs = append(inputs, &input{path: t, name: name, decoder: dec, extra: extra})
	}
	return p, inputs
}

func validateDecode(inputs []*input) *phase {
	p := &phase{name: "Phase 2: Decoding"}
	for _, in := range inputs {
		recs, err := decoder.Collect(in.decoder.Decode(in.path, in.extra))
		in.records = recs
		if err != nil {
			p.errorf("%s (%s): %v after %d records", filepath.Base(in.path), in.name, err, len(recs))
			continue
		}
		if len(recs) == 0 {
			p.errorf("%s (%s): no records", filepath.Base(in.path), in.name)
		}
	}
	return p
}

// validateShape checks the provenance fields every record must carry.
func validateShape(inputs []*input) *phase {
	p := &phase{name: "Phase 3: Record shape"}
	known := map[string]bool{}
	for _, t := range []record.ObservationType{record.Forecast, record.Synop, record.Current, record.Historical, record.Radar} {
		known[string(t)] = true
	}
	for _, in := range inputs {
		base := filepath.Base(in.path)
		for i, r := range in.records {
			if in.name == "cap" {
				if id, _ := r.String("id"); id == "" {
					p.errorf("%s[%d]: alert without id", base, i)
				}
				continue
			}
			typ, _ := r.String(record.FieldObservationType)
			if !known[typ] {
				p.errorf("%s[%d]: unknown observation_type %q", base, i, typ)
			}
			if src, _ := r.String(record.FieldSource); src == "" {
				p.errorf("%s[%d]: empty source", base, i)
			}
			ts, ok := r.Timestamp()
			switch {
			case !ok:
				p.errorf("%s[%d]: missing timestamp", base, i)
			case ts.Location() != time.UTC:
				p.errorf("%s[%d]: timestamp %s is not UTC", base, i, ts)
			}
		}
	}
	return p
}

// validateBounds checks numeric fields against plausible SI ranges. Values
// outside the range should have been nulled by the decoder's sanitizer.
func validateBounds(inputs []*input) *phase {
	p := &phase{name: "Phase 4: Value bounds (SI)"}
	for _, in := range inputs {
		base := filepath.Base(in.path)
		for i, r := range in.records {
			for _, field := range sortedKeys(r) {
				v, ok := r.Float(field)
				if !ok {
					continue
				}
				b, ok := boundFor(field)
				if !ok {
					continue
				}
				if v < b.min || v > b.max {
					p.errorf("%s[%d]: %s = %g outside [%g, %g]", base, i, field, v, b.min, b.max)
				}
			}
		}
	}
	return p
}

// validateGrids checks that radar grids have the product's shape and hold
// no negative precipitation.
func validateGrids(inputs []*input) *phase {
	p := &phase{name: "Phase 5: Grid shape"}
	want := decoder.RVProduct
	for _, in := range inputs {
		base := filepath.Base(in.path)
		for i, r := range in.records {
			g, ok := r[want.Field].(*record.Grid)
			if !ok {
				if in.name == "radolan" {
					p.errorf("%s[%d]: no %s grid", base, i, want.Field)
				}
				continue
			}
			if g.Height() != want.Height || g.Width() != want.Width {
				p.errorf("%s[%d]: grid is %dx%d, want %dx%d", base, i, g.Height(), g.Width(), want.Height, want.Width)
				continue
			}
			for row := range g.Height() {
				for col := range g.Width() {
					if v, ok := g.At(row, col); ok && v < 0 {
						p.errorf("%s[%d]: negative cell (%d,%d) = %g", base, i, row, col, v)
					}
				}
			}
		}
	}
	return p
}

// validateIdempotence decodes every input a second time and compares.
func validateIdempotence(inputs []*input) *phase {
	p := &phase{name: "Phase 6: Idempotent re-decoding"}
	opts := cmp.Options{cmp.AllowUnexported(record.Grid{}), cmpopts.EquateNaNs()}
	for _, in := range inputs {
		base := filepath.Base(in.path)
		again, err := decoder.Collect(in.decoder.Decode(in.path, in.extra))
		if err != nil && len(in.records) > 0 {
			p.errorf("%s: second decode failed: %v", base, err)
			continue
		}
		if diff := cmp.Diff(in.records, again, opts); diff != "" {
			p.errorf("%s: records differ between decodes (-first +second):\n%s", base, diff)
			continue
		}
		seen := make(map[string]int, len(again))
		for i, r := range again {
			key := record.Key(r)
			if j, dup := seen[key]; dup {
				p.errorf("%s: records %d and %d share key %s", base, j, i, key)
			}
			seen[key] = i
		}
	}
	return p
}

// ── Helpers ──

func boundFor(field string) (bound, bool) {
	for _, b := range bounds {
		if field == b.prefix || strings.HasPrefix(field, b.prefix+"_") {
			return b, true
		}
	}
	return bound{}, false
}

func sortedKeys(r record.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func countDecoded(inputs []*input) int {
	n := 0
	for _, in := range inputs {
		if len(in.records) > 0 {
			n++
		}
	}
	return n
}

func countRecords(inputs []*input) int {
	n := 0
	for _, in := range inputs {
		n += len(in.records)
	}
	return n
}
