package events

import (
	"context"
	"strings"

	"github.com/clsa/birch/internal/core"
	"github.com/sirupsen/logrus"
)

// Publisher forwards persisted record changes to a queue. It satisfies
// record.Observer. Queue failures are logged and never reach the caller
// that saved the record.
type Publisher struct {
	queue  core.ChangeQueue
	tables map[string]bool
	log    logrus.FieldLogger
}

// NewPublisher creates a publisher. An empty tables list publishes
// changes of every table; names are matched case-insensitively.
func NewPublisher(queue core.ChangeQueue, tables []string, logger logrus.FieldLogger) *Publisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &Publisher{
		queue: queue,
		log:   logger.WithField("component", "events"),
	}
	if len(tables) > 0 {
		p.tables = make(map[string]bool, len(tables))
		for _, t := range tables {
			p.tables[strings.ToLower(t)] = true
		}
	}
	return p
}

// Publishes reports whether changes of table are forwarded.
func (p *Publisher) Publishes(table string) bool {
	return p.tables == nil || p.tables[strings.ToLower(table)]
}

// RecordChanged enqueues the change if its table is published.
func (p *Publisher) RecordChanged(ctx context.Context, change core.Change) {
	if !p.Publishes(change.Table) {
		return
	}
	if err := p.queue.Enqueue(ctx, &change); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"table":     change.Table,
			"id":        change.ID,
			"operation": change.Operation,
		}).Error("failed to publish change")
	}
}

// Close closes the underlying queue.
func (p *Publisher) Close() error {
	return p.queue.Close()
}
