// Package stations cross-references DWD station identifiers with WMO
// identifiers, using the DWD station list (statlex) as reference table.
package stations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// ListURL is the public DWD station list.
const ListURL = "https://www.dwd.de/DE/leistungen/klimadatendeutschland/statliste/statlex_html.html?view=nasPublication"

// ErrNoStations is returned when a station list contains no usable rows.
var ErrNoStations = errors.New("found no stations in station list")

// Lookup resolves one identifier scheme into the other.
type Lookup interface {
	ToWMO(dwdID string) (string, bool)
	ToDWD(wmoID string) (string, bool)
}

// Fetcher retrieves a remote station list.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

var (
	// cellRe extracts the content of one table cell.
	cellRe = regexp.MustCompile(`<td[^>]*?>(.*?)</td>`)

	// stationTypes are the station kinds carrying both identifiers:
	// synoptic (SY) and secondary network (MN) stations.
	stationTypes = map[string]bool{"SY": true, "MN": true}
)

// Resolver holds the two identifier maps. It is safe for concurrent reads
// once loaded; Load itself must not race with readers (see Guarded).
type Resolver struct {
	dwdToWMO map[string]string
	wmoToDWD map[string]string
	logger   *slog.Logger
}

// NewResolver returns an empty resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		dwdToWMO: map[string]string{},
		wmoToDWD: map[string]string{},
		logger:   logger,
	}
}

// Load reads the station list from locator, which is either an http(s) URL
// (retrieved with f) or a local file path. An empty locator loads ListURL.
func (r *Resolver) Load(ctx context.Context, locator string, f Fetcher) error {
	r.logger.Info("updating station id mappings", "locator", locator)
	if locator == "" {
		locator = ListURL
	}

	var content []byte
	var err error
	if isURL(locator) {
		if f == nil {
			return fmt.Errorf("load station list %s: no fetcher configured", locator)
		}
		content, err = f.Fetch(ctx, locator)
	} else {
		content, err = os.ReadFile(locator)
	}
	if err != nil {
		return fmt.Errorf("load station list %s: %w", locator, err)
	}
	return r.LoadContent(content)
}

// LoadContent parses a station list and replaces both maps. When no station
// is found the previous maps are kept and ErrNoStations is returned.
func (r *Resolver) LoadContent(content []byte) error {
	dwdToWMO, wmoToDWD := parseStationList(string(content))
	if len(dwdToWMO) == 0 {
		return ErrNoStations
	}
	r.dwdToWMO = dwdToWMO
	r.wmoToDWD = wmoToDWD
	r.logger.Info("parsed station id mappings", "count", len(dwdToWMO))
	return nil
}

// parseStationList reads the HTML table row by row. Only complete rows of
// eleven cells are considered. Later duplicates overwrite earlier ones.
func parseStationList(html string) (map[string]string, map[string]string) {
	dwdToWMO := map[string]string{}
	wmoToDWD := map[string]string{}
	for _, line := range strings.Split(html, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "<tr>") || strings.Count(line, "<td") != 11 {
			continue
		}
		matches := cellRe.FindAllStringSubmatch(line, -1)
		if len(matches) < 4 {
			continue
		}
		if !stationTypes[matches[2][1]] {
			continue
		}
		dwdID := zeroPad(matches[1][1], 5)
		wmoID := matches[3][1]
		dwdToWMO[dwdID] = wmoID
		wmoToDWD[wmoID] = dwdID
	}
	return dwdToWMO, wmoToDWD
}

// ToWMO returns the WMO identifier of a DWD station.
func (r *Resolver) ToWMO(dwdID string) (string, bool) {
	id, ok := r.dwdToWMO[dwdID]
	return id, ok
}

// ToDWD returns the DWD identifier of a WMO station.
func (r *Resolver) ToDWD(wmoID string) (string, bool) {
	id, ok := r.wmoToDWD[wmoID]
	return id, ok
}

// Len returns the number of DWD→WMO mappings.
func (r *Resolver) Len() int {
	return len(r.dwdToWMO)
}

// Snapshot returns copies of both maps.
func (r *Resolver) Snapshot() (dwdToWMO, wmoToDWD map[string]string) {
	dwdToWMO = make(map[string]string, len(r.dwdToWMO))
	for k, v := range r.dwdToWMO {
		dwdToWMO[k] = v
	}
	wmoToDWD = make(map[string]string, len(r.wmoToDWD))
	for k, v := range r.wmoToDWD {
		wmoToDWD[k] = v
	}
	return dwdToWMO, wmoToDWD
}

func zeroPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
