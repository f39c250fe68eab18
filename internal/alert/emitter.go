// Package alert implements REPORTING's best-effort sink: a Kafka
// producer when a broker is configured, falling back to an append-only
// local file otherwise (or when the broker is unreachable).
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"entryproc/pkg/circuit"
	"entryproc/pkg/types"
)

// KafkaConfig configures the Kafka-backed emitter.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Compression string
}

// KafkaEmitter publishes alerts as JSON messages, keyed by entry id for
// stable partitioning. It wraps publishes in a circuit breaker since a
// struggling alert broker must never hold up the pipeline that reports
// to it.
type KafkaEmitter struct {
	producer sarama.SyncProducer
	topic    string
	breaker  *circuit.Breaker
	logger   *logrus.Logger
}

func NewKafkaEmitter(cfg KafkaConfig, logger *logrus.Logger) (*KafkaEmitter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("alert: kafka emitter: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("alert: kafka emitter: no topic configured")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal

	switch strings.ToLower(cfg.Compression) {
	case "gzip":
		saramaCfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaCfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaCfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaCfg.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaCfg.Producer.Compression = sarama.CompressionNone
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("alert: kafka emitter: new producer: %w", err)
	}

	breaker := circuit.NewBreaker(circuit.BreakerConfig{
		Name:             "alert_kafka_emitter",
		FailureThreshold: 10,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}, logger)

	return &KafkaEmitter{producer: producer, topic: cfg.Topic, breaker: breaker, logger: logger}, nil
}

func (e *KafkaEmitter) Emit(_ context.Context, alert types.Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("alert: marshal: %w", err)
	}

	return e.breaker.Execute(func() error {
		_, _, err := e.producer.SendMessage(&sarama.ProducerMessage{
			Topic: e.topic,
			Key:   sarama.StringEncoder(alert.EntryId.String()),
			Value: sarama.ByteEncoder(value),
		})
		return err
	})
}

func (e *KafkaEmitter) Close() error { return e.producer.Close() }

// LocalFileEmitter appends one JSON line per alert to a file. It is the
// fallback emitter, and the one a deployment with no message broker uses
// directly.
type LocalFileEmitter struct {
	mu   sync.Mutex
	file *os.File
}

func NewLocalFileEmitter(path string) (*LocalFileEmitter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("alert: local file emitter: open %s: %w", path, err)
	}
	return &LocalFileEmitter{file: f}, nil
}

func (e *LocalFileEmitter) Emit(_ context.Context, alert types.Alert) error {
	line, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("alert: marshal: %w", err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.file.Write(line)
	return err
}

func (e *LocalFileEmitter) Close() error { return e.file.Close() }

// FallbackEmitter tries primary first and falls back to secondary on
// failure, logging the fallback so an operator can notice a flapping
// broker rather than silently losing alerts to the file.
type FallbackEmitter struct {
	primary, secondary types.AlertEmitter
	logger             *logrus.Logger
}

func NewFallbackEmitter(primary, secondary types.AlertEmitter, logger *logrus.Logger) *FallbackEmitter {
	return &FallbackEmitter{primary: primary, secondary: secondary, logger: logger}
}

func (e *FallbackEmitter) Emit(ctx context.Context, alert types.Alert) error {
	if err := e.primary.Emit(ctx, alert); err != nil {
		e.logger.WithError(err).WithField("entry_id", alert.EntryId).Warn("alert: primary emitter failed, falling back")
		return e.secondary.Emit(ctx, alert)
	}
	return nil
}
