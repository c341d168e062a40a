package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/dwd-ingest/internal/stations"
)

// Sink names.
const (
	SinkStdout = "stdout"
	SinkKafka  = "kafka"
	SinkSQL    = "sql"
	SinkMQTT   = "mqtt"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Sink string `validate:"oneof=stdout kafka sql mqtt"`

	KafkaBrokers   []string `validate:"required_if=Sink kafka,dive,hostname_port"`
	KafkaSinkTopic string   `validate:"required_if=Sink kafka"`

	SQLDriver string `validate:"oneof=sqlite3 postgres"`
	SQLDSN    string `validate:"required_if=Sink sql"`

	MQTTBroker      string `validate:"required_if=Sink mqtt"`
	MQTTTopicPrefix string `validate:"required_if=Sink mqtt"`

	// HTTPAddr serves health and metrics when set.
	HTTPAddr        string
	LogLevel        string `validate:"oneof=debug info warn warning error"`
	LogFormat       string `validate:"oneof=json text"`
	ShutdownTimeout time.Duration

	BatchSize int

	// Retrieval of remote inputs.
	FetchTimeout   time.Duration `validate:"gt=0"`
	FetchRetries   int           `validate:"gte=0,lte=10"`
	FetchCacheSize int           `validate:"gt=0"`
	FetchCacheTTL  time.Duration `validate:"gt=0"`

	StationListURL string
	Units          string `validate:"oneof=si dwd"`
}

var validate = validator.New()

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("FETCH_CACHE_TTL", "1h")
	if err != nil {
		return nil, err
	}
	fetchRetries, err := parseInt("FETCH_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("FETCH_CACHE_SIZE", 64)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Sink:            strings.ToLower(sharedcfg.EnvOrDefault("SINK", SinkStdout)),
		KafkaBrokers:    sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic:  sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "dwd-records"),
		SQLDriver:       sharedcfg.EnvOrDefault("SQL_DRIVER", "sqlite3"),
		SQLDSN:          sharedcfg.EnvOrDefault("SQL_DSN", "file:dwd.db"),
		MQTTBroker:      sharedcfg.EnvOrDefault("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTTopicPrefix: sharedcfg.EnvOrDefault("MQTT_TOPIC_PREFIX", "dwd"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        strings.ToLower(sharedcfg.EnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(sharedcfg.EnvOrDefault("LOG_FORMAT", "text")),
		ShutdownTimeout: shutdownTimeout,
		BatchSize:       batchSize,
		FetchTimeout:    fetchTimeout,
		FetchRetries:    fetchRetries,
		FetchCacheSize:  cacheSize,
		FetchCacheTTL:   cacheTTL,
		StationListURL:  sharedcfg.EnvOrDefault("STATION_LIST_URL", stations.ListURL),
		Units:           strings.ToLower(sharedcfg.EnvOrDefault("UNITS", "si")),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, describe(err)
	}
	return cfg, nil
}

// envNames maps struct fields to the variables they are read from.
var envNames = map[string]string{
	"Sink":            "SINK",
	"KafkaBrokers":    "KAFKA_BROKERS",
	"KafkaSinkTopic":  "KAFKA_SINK_TOPIC",
	"SQLDriver":       "SQL_DRIVER",
	"SQLDSN":          "SQL_DSN",
	"MQTTBroker":      "MQTT_BROKER",
	"MQTTTopicPrefix": "MQTT_TOPIC_PREFIX",
	"LogLevel":        "LOG_LEVEL",
	"LogFormat":       "LOG_FORMAT",
	"FetchTimeout":    "FETCH_TIMEOUT",
	"FetchRetries":    "FETCH_RETRIES",
	"FetchCacheSize":  "FETCH_CACHE_SIZE",
	"FetchCacheTTL":   "FETCH_CACHE_TTL",
	"Units":           "UNITS",
}

// describe rewrites validation errors in terms of environment variables.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field, _, _ := strings.Cut(fe.StructField(), "[")
		name := envNames[field]
		if name == "" {
			name = field
		}
		msgs = append(msgs, fmt.Sprintf("invalid %s: %q fails %s", name, fmt.Sprint(fe.Value()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
