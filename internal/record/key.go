package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Key produces a deterministic identifier from a record's provenance fields.
// Re-decoding the same input yields the same keys, which lets sinks upsert
// idempotently. Alerts carry their own id and use it verbatim.
func Key(r Record) string {
	if id, ok := r.String("id"); ok && id != "" {
		return id
	}
	typ, _ := r.String(FieldObservationType)
	source, _ := r.String(FieldSource)
	ts := ""
	if t, ok := r.Timestamp(); ok {
		ts = t.UTC().Format(time.RFC3339)
	}
	input := fmt.Sprintf("%s|%s|%v|%v|%s", typ, source, r[FieldDWDStationID], r[FieldWMOStationID], ts)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if typ == "" {
		return short
	}
	return typ + "-" + short
}
