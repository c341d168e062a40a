// Package decoder turns DWD open data products into streams of flat records.
//
// Each product family has its own Decoder. Decoding is lazy: records are
// produced one at a time as the caller ranges over the returned sequence,
// and files are opened when iteration starts and closed when it ends,
// whether the sequence was exhausted, abandoned early or failed.
//
// Problems are handled at three levels:
//
//   - structural violations (unexpected archive content, bad binary headers)
//     end the sequence with an error;
//   - incomplete units (a station without coordinates, a SYNOP message
//     without timestamp) are skipped with a logged diagnostic;
//   - implausible values are corrected or nulled by the decoder's Sanitizer
//     and the record is still emitted.
package decoder

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/couchcryptid/dwd-ingest/internal/record"
	"github.com/couchcryptid/dwd-ingest/internal/stations"
)

// Decoder converts one input file into records.
type Decoder interface {
	// Decode returns a lazy sequence of records read from path. extra holds
	// the local paths of the inputs named by ExtraInputs, plus any optional
	// per-decoder parameters. A fatal error is yielded once with a nil record
	// and ends the sequence. Ranging over the sequence again re-reads the
	// input from the start.
	Decode(path string, extra map[string]string) iter.Seq2[record.Record, error]

	// ExtraInputs names the additional resources Decode needs for path,
	// mapped to the URL they can be retrieved from.
	ExtraInputs(path string) (map[string]string, error)
}

// Options carries the collaborators shared by all decoders.
type Options struct {
	Logger   *slog.Logger
	Stations stations.Lookup
	// OnSkip, when set, is called for every skipped unit.
	OnSkip func(decoder, reason string)
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Stations == nil {
		o.Stations = noStations{}
	}
	return o
}

// noStations resolves nothing.
type noStations struct{}

func (noStations) ToWMO(string) (string, bool) { return "", false }
func (noStations) ToDWD(string) (string, bool) { return "", false }

// ErrMissingExtraInput is returned when Decode is called without an extra
// input the decoder declared through ExtraInputs.
var ErrMissingExtraInput = errors.New("missing extra input")

// outcome classifies the decoding of one structural unit.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeSkip
	outcomeFatal
)

// result is the decoding of one structural unit: a record, a skip with a
// reason, or a fatal error.
type result struct {
	outcome outcome
	record  record.Record
	reason  string
	level   slog.Level
	attrs   []any
	err     error
}

func success(r record.Record) result { return result{outcome: outcomeOK, record: r} }

func skip(reason string, attrs ...any) result {
	return result{outcome: outcomeSkip, reason: reason, level: slog.LevelWarn, attrs: attrs}
}

// skipIncomplete is a skip logged at error level, for units that are
// expected to be complete.
func skipIncomplete(reason string, attrs ...any) result {
	return result{outcome: outcomeSkip, reason: reason, level: slog.LevelError, attrs: attrs}
}

func fatal(err error) result { return result{outcome: outcomeFatal, err: err} }

// reporter logs the outcome of each unit for one decoder.
type reporter struct {
	name   string
	logger *slog.Logger
	onSkip func(decoder, reason string)
}

func newReporter(opts Options, name string) reporter {
	return reporter{name: name, logger: opts.Logger.With("decoder", name), onSkip: opts.OnSkip}
}

// emit hands res to yield. It returns false when iteration must stop, either
// because the consumer stopped or because res is fatal.
func (rp reporter) emit(yield func(record.Record, error) bool, res result) bool {
	switch res.outcome {
	case outcomeSkip:
		rp.logger.Log(context.Background(), res.level, res.reason, res.attrs...)
		if rp.onSkip != nil {
			rp.onSkip(rp.name, res.reason)
		}
		return true
	case outcomeFatal:
		yield(nil, res.err)
		return false
	default:
		return yield(res.record, nil)
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[record.Record, error]) ([]record.Record, error) {
	var out []record.Record
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}
