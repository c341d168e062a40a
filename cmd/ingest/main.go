// Command ingest decodes DWD open data files and loads the records into the
// configured sink.
//
// Usage:
//
//	ingest [-units dwd] [-stations path] [-load-stations] TARGET...
//
// A target is a local file or an http(s) URL. Remote targets are downloaded
// together with the extra inputs their decoder needs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/couchcryptid/dwd-ingest/internal/adapter/fetch"
	httpadapter "github.com/couchcryptid/dwd-ingest/internal/adapter/http"
	"github.com/couchcryptid/dwd-ingest/internal/adapter/jsonl"
	kafkaadapter "github.com/couchcryptid/dwd-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/dwd-ingest/internal/adapter/mqtt"
	"github.com/couchcryptid/dwd-ingest/internal/adapter/sqlstore"
	"github.com/couchcryptid/dwd-ingest/internal/config"
	"github.com/couchcryptid/dwd-ingest/internal/decoder"
	"github.com/couchcryptid/dwd-ingest/internal/observability"
	"github.com/couchcryptid/dwd-ingest/internal/pipeline"
	"github.com/couchcryptid/dwd-ingest/internal/stations"
	"github.com/couchcryptid/dwd-ingest/internal/units"
)

// loadRetries is the number of extra attempts for a batch the sink rejects.
const loadRetries = 3

// sink is a pipeline loader that holds a connection.
type sink interface {
	pipeline.BatchLoader
	Close() error
}

func main() {
	unitsFlag := flag.String("units", "", "unit system of the output records, si or dwd (overrides UNITS)")
	stationsPath := flag.String("stations", "", "station list file or URL (overrides STATION_LIST_URL)")
	loadStations := flag.Bool("load-stations", false, "download the station list to -stations unless it exists")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] TARGET...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *unitsFlag != "" {
		cfg.Units = *unitsFlag
	}
	system, err := units.ParseSystem(cfg.Units)
	if err != nil {
		slog.Error("invalid units", "error", err)
		os.Exit(2)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg, system, *stationsPath, *loadStations, flag.Args(), logger, metrics))
}

func run(ctx context.Context, cfg *config.Config, system units.System, stationsPath string, loadStations bool,
	targets []string, logger *slog.Logger, metrics *observability.Metrics) int {
	client := fetch.NewClient(fetch.Options{Timeout: cfg.FetchTimeout, Retries: cfg.FetchRetries}, logger, metrics)
	cached := fetch.NewCached(client, cfg.FetchCacheSize, cfg.FetchCacheTTL, nil, metrics)

	locator := cfg.StationListURL
	if stationsPath != "" {
		locator = stationsPath
		if loadStations {
			if err := ensureStationList(ctx, client, cfg.StationListURL, stationsPath, logger); err != nil {
				logger.Error("failed to download station list", "error", err)
				return 1
			}
		}
	}
	resolver := stations.NewGuarded(stations.NewResolver(logger))
	if err := resolver.Load(ctx, locator, cached); err != nil {
		logger.Warn("station list unavailable, station ids will not be resolved", "error", err)
	}
	metrics.StationsLoaded.Set(float64(resolver.Len()))

	registry := decoder.NewRegistry(decoder.Options{
		Logger:   logger,
		Stations: resolver,
		OnSkip:   metrics.RecordSkip,
	})

	out, err := openSink(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open sink", "sink", cfg.Sink, "error", err)
		return 1
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Error("sink close error", "sink", cfg.Sink, "error", err)
		}
	}()

	p := pipeline.New(registry, client, cached, pipeline.NewTransformer(system), out, logger, metrics, nil,
		pipeline.Settings{BatchSize: cfg.BatchSize, LoadRetries: loadRetries})

	if cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	sum, err := p.Run(ctx, targets)
	if err != nil {
		logger.Info("run interrupted", "error", err, "records", sum.Records)
		return 130
	}
	if sum.Failed > 0 {
		return 1
	}
	return 0
}

// openSink connects the loader selected by cfg.Sink.
func openSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sink, error) {
	switch cfg.Sink {
	case config.SinkKafka:
		return kafkaadapter.NewWriter(cfg, logger), nil
	case config.SinkSQL:
		s, err := sqlstore.Open(ctx, cfg.SQLDriver, cfg.SQLDSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SinkMQTT:
		p, err := mqtt.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.SinkStdout, "":
		return jsonl.NewWriter(os.Stdout), nil
	}
	return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
}

// ensureStationList downloads the station list from url to path unless path
// already exists.
func ensureStationList(ctx context.Context, f fetch.Fetcher, url, path string, logger *slog.Logger) error {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return fmt.Errorf("-load-stations needs a local -stations path, got %s", path)
	}
	if _, err := os.Stat(path); err == nil {
		logger.Debug("station list present", "path", path)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write station list: %w", err)
	}
	logger.Info("station list downloaded", "path", path, "bytes", len(body))
	return nil
}
