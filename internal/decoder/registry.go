package decoder

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
)

// ErrNoDecoder is returned when no decoder is registered for a file name.
var ErrNoDecoder = errors.New("no decoder for file")

type registration struct {
	name    string
	pattern *regexp.Regexp
	decoder Decoder
}

// Registry selects a decoder by file name. Patterns are tried in
// registration order and the first match wins.
type Registry struct {
	entries []registration
}

// NewRegistry returns a registry holding every DWD product decoder.
func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	r := &Registry{}
	r.Register("radolan", `^DE1200_RV`, NewRADOLAN(opts, RVProduct))
	r.Register("mosmix", `^MOSMIX_(S|L)_LATEST(_240)?\.kmz$`, NewMOSMIX(opts))
	r.Register("synop", `^Z__C_EDZW_\d+_.*\.json\.bz2$`, NewSYNOP(opts))
	r.Register("cap", `^Z_CAP_.*\.zip`, NewCAP(opts))
	r.Register("current", `^\w{5}-BEOB\.csv$`, NewCurrent(opts))
	for _, cfg := range HistoricalProducts() {
		r.Register(cfg.Name, "^"+regexp.QuoteMeta(cfg.FilePrefix), NewObservations(opts, cfg))
	}
	return r
}

// Register appends a decoder for file names matching pattern. It panics on
// an invalid pattern, which is a programming error.
func (r *Registry) Register(name, pattern string, d Decoder) {
	r.entries = append(r.entries, registration{
		name:    name,
		pattern: regexp.MustCompile(pattern),
		decoder: d,
	})
}

// Lookup returns the decoder for path, matched on its base name, together
// with the name it was registered under.
func (r *Registry) Lookup(path string) (string, Decoder, error) {
	base := filepath.Base(path)
	for _, e := range r.entries {
		if e.pattern.MatchString(base) {
			return e.name, e.decoder, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrNoDecoder, base)
}

// Names lists the registered decoder names in match order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}
