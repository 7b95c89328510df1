// Package kvstore provides the key-value stores behind the viewer
// selection store.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/clsa/birch/internal/config"
	"github.com/clsa/birch/internal/core"
	"github.com/sirupsen/logrus"
)

var (
	// ErrKeyNotFound is returned by Get for a missing or expired key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrClosed is returned by any operation on a closed store.
	ErrClosed = errors.New("KV store is closed")
)

// Factory creates one kind of KV store.
type Factory interface {
	// Create creates a new store from the selection configuration.
	Create(ctx context.Context, cfg config.SelectionConfig, logger logrus.FieldLogger) (core.KVStore, error)

	// Type returns the type identifier for this factory (e.g., "redis").
	Type() string
}

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// Register registers a factory. It is called from init functions and
// panics on a nil factory or a duplicate type.
func Register(factory Factory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, exists := factories[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factories[factory.Type()] = factory
}

// Create creates a store using the factory registered for cfg.Type.
func Create(ctx context.Context, cfg config.SelectionConfig, logger logrus.FieldLogger) (core.KVStore, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	factoriesMu.RLock()
	factory, exists := factories[cfg.Type]
	factoriesMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s", cfg.Type)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return factory.Create(ctx, cfg, logger.WithFields(logrus.Fields{"component": "kvstore", "type": cfg.Type}))
}

// Types returns the registered store types, sorted.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
