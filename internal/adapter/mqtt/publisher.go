// Package mqtt publishes records to an MQTT broker, one message per record.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/couchcryptid/dwd-ingest/internal/config"
	"github.com/couchcryptid/dwd-ingest/internal/record"
)

const qos = byte(1) // at least once

// client is the subset of paho.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

// Publisher writes records to <prefix>/<observation_type>/<station>.
// It implements pipeline.BatchLoader.
type Publisher struct {
	client client
	prefix string
	logger *slog.Logger
}

// Connect dials the broker and waits until the connection is up or ctx is done.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID("dwd-ingest-" + uuid.NewString()[:8])
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	c := paho.NewClient(opts)
	if err := wait(ctx, c.Connect()); err != nil {
		c.Disconnect(0)
		return nil, fmt.Errorf("connect %s: %w", cfg.MQTTBroker, err)
	}
	return newPublisher(c, cfg.MQTTTopicPrefix, logger), nil
}

func newPublisher(c client, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{client: c, prefix: strings.TrimSuffix(prefix, "/"), logger: logger}
}

// LoadBatch publishes every record and waits for the broker to acknowledge them.
func (p *Publisher) LoadBatch(ctx context.Context, records []record.Record) error {
	tokens := make([]paho.Token, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("serialize record %s: %w", record.Key(r), err)
		}
		tokens = append(tokens, p.client.Publish(p.Topic(r), qos, false, payload))
	}
	for _, t := range tokens {
		if err := wait(ctx, t); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}
	p.logger.Debug("published records", "count", len(records))
	return nil
}

// Topic returns the topic a record is published to. Records without an
// observation type are alerts. The station segment is the WMO id, falling
// back to the DWD id, and is omitted when neither is set.
func (p *Publisher) Topic(r record.Record) string {
	typ, ok := r.String(record.FieldObservationType)
	if !ok || typ == "" {
		typ = "alert"
	}
	parts := []string{p.prefix, typ}
	if id, ok := r.String(record.FieldWMOStationID); ok && id != "" {
		parts = append(parts, id)
	} else if id, ok := r.String(record.FieldDWDStationID); ok && id != "" {
		parts = append(parts, id)
	}
	return strings.Join(parts, "/")
}

func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func wait(ctx context.Context, t paho.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
