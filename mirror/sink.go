// Package mirror republishes recorded messages to external sinks. Mirroring
// is strictly best-effort: a failed publish is logged and counted but never
// affects the durable record log.
package mirror

import (
	"fmt"
	"sync"

	"github.com/magpie-io/magpie/cfg"
)

// Sink represents a destination recorded messages are teed to (e.g. Kafka)
type Sink interface {
	// Publish sends one message to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Factory creates a sink from its configuration
type Factory func(conf cfg.MirrorConfiguration) (Sink, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterSink registers a sink factory under a type name
func RegisterSink(sinkType string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[sinkType] = factory
}

// NewSink creates a sink from configuration using the registered factories
func NewSink(conf cfg.MirrorConfiguration) (Sink, error) {
	factoriesMu.RLock()
	factory, ok := factories[conf.Type]
	factoriesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown mirror sink type %q", conf.Type)
	}
	return factory(conf)
}
