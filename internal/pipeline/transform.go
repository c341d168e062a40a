package pipeline

import (
	"github.com/couchcryptid/dwd-ingest/internal/record"
	"github.com/couchcryptid/dwd-ingest/internal/units"
)

// UnitTransformer implements Transformer by expressing records in a unit
// system. Decoders always produce SI units.
type UnitTransformer struct {
	system units.System
}

// NewTransformer creates a UnitTransformer for system.
func NewTransformer(system units.System) *UnitTransformer {
	return &UnitTransformer{system: system}
}

func (t *UnitTransformer) Transform(r record.Record) record.Record {
	if t.system == units.SI {
		return r
	}
	return units.ConvertRecord(r, t.system)
}
