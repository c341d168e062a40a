package record

import (
	"log/slog"
	"strings"
)

// Rule corrects or nulls one physically implausible value in place. Rules
// never reject a record.
type Rule func(r Record, logger *slog.Logger)

// Sanitizer applies rules in order.
type Sanitizer []Rule

// Apply runs every rule against r.
func (s Sanitizer) Apply(r Record, logger *slog.Logger) {
	for _, rule := range s {
		rule(r, logger)
	}
}

// NullIfNegative sets field to nil when it is below zero.
func NullIfNegative(field string) Rule {
	return func(r Record, logger *slog.Logger) {
		if v, ok := r.Float(field); ok && v < 0 {
			logger.Warn("ignoring negative value", "field", field, "value", v, "source", r[FieldSource])
			r[field] = nil
		}
	}
}

// NullIfNegativePrefix sets every field starting with prefix to nil when it
// is below zero.
func NullIfNegativePrefix(prefix string) Rule {
	return func(r Record, logger *slog.Logger) {
		for field := range r {
			if !strings.HasPrefix(field, prefix) {
				continue
			}
			if v, ok := r.Float(field); ok && v < 0 {
				logger.Debug("ignoring negative value", "field", field, "value", v, "source", r[FieldSource])
				r[field] = nil
			}
		}
	}
}

// NullIfAbove sets field to nil when it exceeds limit.
func NullIfAbove(field string, limit float64) Rule {
	return func(r Record, logger *slog.Logger) {
		if v, ok := r.Float(field); ok && v > limit {
			logger.Warn("ignoring unphysical value", "field", field, "value", v, "source", r[FieldSource])
			r[field] = nil
		}
	}
}

// WrapAbove subtracts limit from field when it exceeds limit.
func WrapAbove(field string, limit float64) Rule {
	return func(r Record, logger *slog.Logger) {
		if v, ok := r.Float(field); ok && v > limit {
			logger.Warn("fixing out-of-bounds value", "field", field, "value", v, "source", r[FieldSource])
			r[field] = v - limit
		}
	}
}

// Clamp limits field to [lo, hi].
func Clamp(field string, lo, hi float64) Rule {
	return func(r Record, logger *slog.Logger) {
		v, ok := r.Float(field)
		if !ok {
			return
		}
		switch {
		case v < lo:
			logger.Warn("fixing value below range", "field", field, "value", v, "source", r[FieldSource])
			r[field] = lo
		case v > hi:
			logger.Warn("fixing value above range", "field", field, "value", v, "source", r[FieldSource])
			r[field] = hi
		}
	}
}
