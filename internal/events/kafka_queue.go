package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clsa/birch/internal/config"
	"github.com/clsa/birch/internal/core"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaQueue implements core.ChangeQueue on a Kafka topic. Messages are
// JSON encoded changes keyed by "table:id", so every change to a row
// lands on the same partition.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	topic  string
	log    logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	size   int // approximate
}

// NewKafkaQueue creates the writer and the consumer group reader.
func NewKafkaQueue(cfg config.KafkaConfig, logger logrus.FieldLogger) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "birch"
	}

	log := logger.WithFields(logrus.Fields{"component": "kafka", "topic": cfg.Topic})
	log.WithFields(logrus.Fields{
		"brokers":  cfg.Brokers,
		"group_id": cfg.GroupID,
		"acks":     cfg.RequiredAcks,
	}).Info("initializing change queue")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  3,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	return &KafkaQueue{
		writer: writer,
		reader: reader,
		topic:  cfg.Topic,
		log:    log,
	}, nil
}

// encodeChange builds the Kafka message for a change.
func encodeChange(change *core.Change) (kafka.Message, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal change: %w", err)
	}
	return kafka.Message{
		Key:   []byte(change.Key()),
		Value: data,
		Time:  change.Timestamp,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(change.Operation)},
			{Key: "table", Value: []byte(change.Table)},
		},
	}, nil
}

// Enqueue writes a change to the topic synchronously.
func (q *KafkaQueue) Enqueue(ctx context.Context, change *core.Change) error {
	if err := validate(change); err != nil {
		return err
	}

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}
	message, err := encodeChange(change)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := q.writer.WriteMessages(ctx, message); err != nil {
		q.log.WithError(err).WithField("key", change.Key()).Error("failed to produce change")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()

	q.log.WithFields(logrus.Fields{
		"key":       change.Key(),
		"operation": change.Operation,
		"duration":  time.Since(start),
	}).Debug("produced change")
	return nil
}

// Dequeue reads up to batchSize changes, committing each offset as it is
// decoded. It stops early when no message arrives within five seconds.
func (q *KafkaQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.Change, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}

	if batchSize <= 0 {
		batchSize = 100
	}

	changes := make([]*core.Change, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		message, err := q.reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				q.log.WithError(err).Error("failed to read message")
			}
			break
		}

		var change core.Change
		if err := json.Unmarshal(message.Value, &change); err != nil {
			q.log.WithError(err).WithFields(logrus.Fields{
				"partition": message.Partition,
				"offset":    message.Offset,
			}).Warn("skipping undecodable message")
			continue
		}
		changes = append(changes, &change)

		if err := q.reader.CommitMessages(ctx, message); err != nil {
			q.log.WithError(err).WithField("offset", message.Offset).Warn("failed to commit offset")
		}
	}

	if len(changes) > 0 {
		q.mu.Lock()
		q.size -= len(changes)
		if q.size < 0 {
			q.size = 0
		}
		q.mu.Unlock()
	}
	return changes, nil
}

// Size returns the number of changes produced and not yet consumed by
// this process. Kafka has no exact queue length.
func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Close closes the writer and the reader.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if err := q.writer.Close(); err != nil {
		q.log.WithError(err).Error("failed to close writer")
	}
	return q.reader.Close()
}
