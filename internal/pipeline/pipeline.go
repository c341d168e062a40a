// Package pipeline runs input files through their decoder and loads the
// resulting records into a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/dwd-ingest/internal/decoder"
	"github.com/couchcryptid/dwd-ingest/internal/observability"
	"github.com/couchcryptid/dwd-ingest/internal/record"
)

// unknownDecoder labels failures that happen before a decoder is selected.
const unknownDecoder = "unknown"

// Resolver selects the decoder for an input file.
type Resolver interface {
	Lookup(path string) (string, decoder.Decoder, error)
}

// Downloader stores the resource at url in dir and returns the local path.
type Downloader interface {
	Download(ctx context.Context, url, dir string) (string, error)
}

// Transformer rewrites a decoded record before it is loaded.
type Transformer interface {
	Transform(r record.Record) record.Record
}

// BatchLoader writes records to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, records []record.Record) error
}

// Settings tunes a Pipeline.
type Settings struct {
	BatchSize int
	// LoadRetries is the number of extra attempts for a failed batch.
	LoadRetries int
	// InitialBackoff is the first wait after a failed batch; it doubles up
	// to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// WorkDir is where remote targets are downloaded; empty means the
	// system temp directory.
	WorkDir string
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize <= 0 {
		s.BatchSize = 50
	}
	if s.LoadRetries < 0 {
		s.LoadRetries = 0
	}
	if s.InitialBackoff <= 0 {
		s.InitialBackoff = 200 * time.Millisecond
	}
	if s.MaxBackoff <= 0 {
		s.MaxBackoff = 5 * time.Second
	}
	return s
}

// Summary counts the outcome of one Run.
type Summary struct {
	RunID   string
	Targets int
	Failed  int
	Records int
}

// Status is a snapshot of the current or last run.
type Status struct {
	RunID         string     `json:"run_id,omitempty"`
	Running       bool       `json:"running"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	TargetsDone   int        `json:"targets_done"`
	TargetsFailed int        `json:"targets_failed"`
	RecordsLoaded int        `json:"records_loaded"`
	LastTarget    string     `json:"last_target,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Pipeline decodes targets one after the other. A target that fails is
// logged and counted, and the run continues with the next one.
type Pipeline struct {
	decoders    Resolver
	fetcher     Downloader
	extra       Downloader
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	settings    Settings

	ready  atomic.Bool
	mu     sync.Mutex
	status Status
}

// New creates a Pipeline. fetcher downloads remote targets and extra
// downloads the inputs decoders declare through ExtraInputs; it is usually a
// cached client since many files share the same metadata. A nil extra falls
// back to fetcher.
func New(decoders Resolver, fetcher, extra Downloader, t Transformer, l BatchLoader,
	logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, s Settings) *Pipeline {
	if extra == nil {
		extra = fetcher
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		decoders:    decoders,
		fetcher:     fetcher,
		extra:       extra,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		clock:       clock,
		settings:    s.withDefaults(),
	}
}

// CheckReadiness returns nil once a target has been loaded completely.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not loaded any input yet")
	}
	return nil
}

// Status returns a snapshot of the current or last run.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run processes every target. It returns an error only when ctx is
// cancelled; failed targets are reported in the Summary.
func (p *Pipeline) Run(ctx context.Context, targets []string) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Targets: len(targets)}
	logger := p.logger.With("run_id", sum.RunID)
	started := p.clock.Now()
	p.update(func(s *Status) {
		*s = Status{RunID: sum.RunID, Running: true, StartedAt: &started}
	})
	p.metrics.PipelineRunning.Set(1)
	defer func() {
		finished := p.clock.Now()
		p.update(func(s *Status) {
			s.Running = false
			s.FinishedAt = &finished
		})
		p.metrics.PipelineRunning.Set(0)
	}()

	logger.Info("pipeline started", "targets", len(targets), "batch_size", p.settings.BatchSize)
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			logger.Info("pipeline stopping", "reason", err)
			return sum, err
		}
		n, err := p.processTarget(ctx, logger.With("target", target), target)
		sum.Records += n
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Failed++
			logger.Error("target failed", "target", target, "error", err)
		}
		p.update(func(s *Status) {
			s.LastTarget = target
			s.RecordsLoaded += n
			if err != nil {
				s.TargetsFailed++
				s.LastError = err.Error()
			} else {
				s.TargetsDone++
			}
		})
	}
	logger.Info("pipeline finished",
		"targets", sum.Targets, "failed", sum.Failed, "records", sum.Records,
		"duration", p.clock.Since(started))
	return sum, nil
}

// processTarget decodes and loads one target and returns the number of
// records loaded.
func (p *Pipeline) processTarget(ctx context.Context, logger *slog.Logger, target string) (int, error) {
	dir, err := os.MkdirTemp(p.settings.WorkDir, "dwd-ingest-*")
	if err != nil {
		return 0, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := target
	if isURL(target) {
		if path, err = p.fetcher.Download(ctx, target, dir); err != nil {
			p.metrics.InputsFailed.WithLabelValues(unknownDecoder).Inc()
			return 0, fmt.Errorf("download: %w", err)
		}
	}

	name, dec, err := p.decoders.Lookup(path)
	if err != nil {
		p.metrics.InputsFailed.WithLabelValues(unknownDecoder).Inc()
		return 0, err
	}
	logger = logger.With("decoder", name)
	start := p.clock.Now()

	loaded, err := p.decode(ctx, logger, name, dec, path, dir)
	if err != nil {
		p.metrics.InputsFailed.WithLabelValues(name).Inc()
		return loaded, err
	}
	p.metrics.InputsProcessed.WithLabelValues(name).Inc()
	p.metrics.DecodeDuration.WithLabelValues(name).Observe(p.clock.Since(start).Seconds())
	p.ready.Store(true)
	logger.Info("target loaded", "records", loaded)
	return loaded, nil
}

func (p *Pipeline) decode(ctx context.Context, logger *slog.Logger, name string, dec decoder.Decoder, path, dir string) (int, error) {
	extra, err := p.fetchExtraInputs(ctx, logger, dec, path, dir)
	if err != nil {
		return 0, err
	}

	decoded := p.metrics.RecordsDecoded.WithLabelValues(name)
	batch := make([]record.Record, 0, p.settings.BatchSize)
	loaded := 0
	for r, err := range dec.Decode(path, extra) {
		if err != nil {
			return loaded, fmt.Errorf("decode %s: %w", path, err)
		}
		decoded.Inc()
		batch = append(batch, p.transformer.Transform(r))
		if len(batch) < p.settings.BatchSize {
			continue
		}
		if err := p.load(ctx, logger, batch); err != nil {
			return loaded, err
		}
		loaded += len(batch)
		batch = batch[:0]
	}
	if len(batch) > 0 {
		if err := p.load(ctx, logger, batch); err != nil {
			return loaded, err
		}
		loaded += len(batch)
	}
	return loaded, nil
}

// fetchExtraInputs downloads the inputs the decoder declares for path into
// dir. Values that are not URLs are passed through unchanged.
func (p *Pipeline) fetchExtraInputs(ctx context.Context, logger *slog.Logger, dec decoder.Decoder, path, dir string) (map[string]string, error) {
	urls, err := dec.ExtraInputs(path)
	if err != nil {
		return nil, fmt.Errorf("extra inputs: %w", err)
	}
	extra := make(map[string]string, len(urls))
	for key, u := range urls {
		if !isURL(u) {
			extra[key] = u
			continue
		}
		local, err := p.extra.Download(ctx, u, dir)
		if err != nil {
			return nil, fmt.Errorf("extra input %s: %w", key, err)
		}
		logger.Debug("fetched extra input", "name", key, "url", u)
		extra[key] = local
	}
	return extra, nil
}

// load writes one batch, retrying with exponential backoff.
func (p *Pipeline) load(ctx context.Context, logger *slog.Logger, batch []record.Record) error {
	backoff := p.settings.InitialBackoff
	var err error
	for attempt := 0; attempt <= p.settings.LoadRetries; attempt++ {
		if attempt > 0 {
			if !p.sleepWithContext(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, p.settings.MaxBackoff)
		}
		if err = p.loader.LoadBatch(ctx, batch); err == nil {
			p.metrics.BatchSize.Observe(float64(len(batch)))
			p.metrics.RecordsLoaded.Add(float64(len(batch)))
			return nil
		}
		p.metrics.LoadErrors.Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("load batch failed", "error", err, "batch_size", len(batch), "attempt", attempt+1)
	}
	return fmt.Errorf("load batch: %w", err)
}

func (p *Pipeline) update(f func(*Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(&p.status)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (p *Pipeline) sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
