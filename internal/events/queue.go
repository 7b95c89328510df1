// Package events carries the record change feed: queues that transport
// core.Change values and the publisher that feeds them.
package events

import (
	"errors"
	"fmt"

	"github.com/clsa/birch/internal/config"
	"github.com/clsa/birch/internal/core"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueClosed is returned when trying to enqueue to a closed queue.
	ErrQueueClosed = errors.New("change queue is closed")

	// ErrQueueFull is returned when a bounded queue cannot take more changes.
	ErrQueueFull = errors.New("change queue is full")

	// ErrInvalidChange is returned for a nil change or one without a table.
	ErrInvalidChange = errors.New("invalid change")
)

// NewQueue creates the queue selected by cfg.QueueType. It returns nil and
// no error when the change feed is disabled.
func NewQueue(cfg config.EventsConfig, logger logrus.FieldLogger) (core.ChangeQueue, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	switch cfg.QueueType {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryQueue(cfg.BufferSize), nil
	case "kafka":
		return NewKafkaQueue(cfg.Kafka, logger)
	default:
		return nil, fmt.Errorf("unsupported change queue type: %s", cfg.QueueType)
	}
}

func validate(change *core.Change) error {
	if change == nil {
		return ErrInvalidChange
	}
	if change.Table == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidChange)
	}
	return nil
}
