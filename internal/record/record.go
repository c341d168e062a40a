// Package record defines the flat output record shared by all decoders.
//
// A Record maps field names to scalar values: string, float64, int,
// time.Time, []int, or nil for an absent or invalid value. The one exception
// is the radar field, which holds a Grid. Records never nest other records so
// every decoder converges on the same shape.
package record

import (
	"time"
)

// ObservationType identifies the product family a record was decoded from.
type ObservationType string

const (
	Forecast   ObservationType = "forecast"
	Synop      ObservationType = "synop"
	Current    ObservationType = "current"
	Historical ObservationType = "historical"
	Radar      ObservationType = "radar"
)

// Common field names.
const (
	FieldObservationType = "observation_type"
	FieldTimestamp       = "timestamp"
	FieldSource          = "source"
	FieldDWDStationID    = "dwd_station_id"
	FieldWMOStationID    = "wmo_station_id"
	FieldLat             = "lat"
	FieldLon             = "lon"
	FieldHeight          = "height"
	FieldStationName     = "station_name"
)

// Record is one decoded observation, forecast step, radar frame or alert.
type Record map[string]any

// New returns a record with the fields every observation carries.
func New(typ ObservationType, source string) Record {
	return Record{
		FieldObservationType: string(typ),
		FieldSource:          source,
	}
}

// Float returns the field as float64. Integer values are widened.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// String returns the field as string.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key].(string)
	return v, ok
}

// Time returns the field as time.Time.
func (r Record) Time(key string) (time.Time, bool) {
	v, ok := r[key].(time.Time)
	return v, ok
}

// Timestamp returns the record's timestamp field.
func (r Record) Timestamp() (time.Time, bool) {
	return r.Time(FieldTimestamp)
}

// Present reports whether the field is set to a non-nil value.
func (r Record) Present(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// Merge copies every field of other into r and returns r.
func (r Record) Merge(other Record) Record {
	for k, v := range other {
		r[k] = v
	}
	return r
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// OptString returns s, or nil when ok is false. Lookups that may miss use it
// to store an absent value instead of an empty string.
func OptString(s string, ok bool) any {
	if !ok {
		return nil
	}
	return s
}

// OptFloat returns v, or nil when ok is false.
func OptFloat(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}
