// Package record implements the dynamic recording session: it reconciles the
// bus's publisher topology into per-channel subscriptions and persists every
// delivered message into the record log, in capture order.
package record

import (
	"context"
	"fmt"
)

// Role identifies which side of a channel a topology endpoint is on.
type Role uint8

const (
	RoleWriter Role = 0
	RoleReader Role = 1
)

// Op identifies whether a topology endpoint appeared or disappeared.
type Op uint8

const (
	OpJoin  Op = 0
	OpLeave Op = 1
)

// Descriptor identifies a publishable stream on the bus.
type Descriptor struct {
	Name        string `msgpack:"name"`   // Unique channel name within a session
	MessageType string `msgpack:"type"`   // Payload type tag, opaque to the recorder
	Schema      []byte `msgpack:"schema"` // Serialized schema description
}

// Validate reports whether the descriptor is usable for subscription.
// A descriptor with any empty field is rejected before any subscribe attempt.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor has no channel name")
	}
	if d.MessageType == "" {
		return fmt.Errorf("descriptor %q has no message type", d.Name)
	}
	if len(d.Schema) == 0 {
		return fmt.Errorf("descriptor %q has no schema", d.Name)
	}
	return nil
}

// ChangeEvent is a topology change notification. Only writer joins are
// actionable for recording; everything else is ignored.
type ChangeEvent struct {
	Role       Role       `msgpack:"role"`
	Op         Op         `msgpack:"op"`
	Descriptor Descriptor `msgpack:"desc"`
}

// Writer is the persistence sink for captured channels. Implementations must
// tolerate concurrent Append calls from independent delivery goroutines.
type Writer interface {
	// RegisterChannel records a channel's schema once, before any payload.
	RegisterChannel(name, messageType string, schema []byte) error
	// Append durably stores one timestamped raw payload.
	Append(channel string, payload []byte, captureTS int64) error
	// ReportProgress is an advisory progress side effect; failures are ignored.
	ReportProgress()
	Close() error
}

// Topology exposes the bus's publisher topology: a session identity
// registration, a point-in-time snapshot and a live change feed.
type Topology interface {
	Attach(identity string) error
	Snapshot(ctx context.Context) ([]Descriptor, error)
	// Watch installs a live change listener. The returned cancel function
	// removes it and is idempotent.
	Watch(fn func(ChangeEvent)) (cancel func(), err error)
}

// SubscriptionConfig configures one per-channel subscription.
type SubscriptionConfig struct {
	Channel          string
	PendingQueueSize int // Bounded pending-delivery queue capacity
}

// Subscription is a live subscription bound to one channel. Its delivery
// callback runs on transport-owned goroutines until Unsubscribe returns.
type Subscription interface {
	Channel() string
	Unsubscribe() error
}

// Subscriber creates channel subscriptions on the bus.
type Subscriber interface {
	Subscribe(config SubscriptionConfig, onMessage func(payload []byte)) (Subscription, error)
}
