package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/magpie-io/magpie/encoding"
	"github.com/magpie-io/magpie/record"
)

// Topology subjects under the configured prefix.
const (
	snapshotSubject = "snapshot" // request/reply: msgpack []record.Descriptor
	changeSubject   = "change"   // fan-out: msgpack record.ChangeEvent
	attachSubject   = "attach"   // fan-out: msgpack attachAnnouncement
)

// attachAnnouncement registers a session identity with the topology service.
type attachAnnouncement struct {
	Identity string `msgpack:"identity"`
	JoinedAt int64  `msgpack:"ts"`
}

// Topology implements record.Topology over NATS: snapshots via request/reply,
// the change feed via a plain subscription.
type Topology struct {
	nc              *nats.Conn
	prefix          string
	snapshotTimeout time.Duration
}

// Topology returns the topology service endpoint rooted at prefix.
func (b *Bus) Topology(prefix string, snapshotTimeout time.Duration) *Topology {
	return &Topology{
		nc:              b.nc,
		prefix:          prefix,
		snapshotTimeout: snapshotTimeout,
	}
}

// Attach announces the session identity on the topology attach subject.
func (t *Topology) Attach(identity string) error {
	if !t.nc.IsConnected() {
		return fmt.Errorf("bus connection is not established")
	}

	data, err := encoding.Marshal(&attachAnnouncement{
		Identity: identity,
		JoinedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal attach announcement: %w", err)
	}

	if err := t.nc.Publish(t.subject(attachSubject), data); err != nil {
		return fmt.Errorf("failed to announce session: %w", err)
	}
	return t.nc.Flush()
}

// Snapshot requests the currently-active publisher set.
func (t *Topology) Snapshot(ctx context.Context) ([]record.Descriptor, error) {
	if t.snapshotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.snapshotTimeout)
		defer cancel()
	}

	msg, err := t.nc.RequestWithContext(ctx, t.subject(snapshotSubject), nil)
	if err != nil {
		return nil, fmt.Errorf("topology snapshot request failed: %w", err)
	}

	var descriptors []record.Descriptor
	if err := encoding.Unmarshal(msg.Data, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to decode topology snapshot: %w", err)
	}
	return descriptors, nil
}

// Watch subscribes to the topology change feed. Events that fail to decode
// are logged and dropped; the feed keeps running.
func (t *Topology) Watch(fn func(record.ChangeEvent)) (func(), error) {
	sub, err := t.nc.Subscribe(t.subject(changeSubject), func(m *nats.Msg) {
		var ev record.ChangeEvent
		if err := encoding.Unmarshal(m.Data, &ev); err != nil {
			log.Warn().Err(err).Msg("Failed to decode topology change event")
			return
		}
		fn(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to topology changes: %w", err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil && err != nats.ErrBadSubscription {
				log.Warn().Err(err).Msg("Failed to remove topology change listener")
			}
		})
	}
	return cancel, nil
}

func (t *Topology) subject(leaf string) string {
	return t.prefix + "." + leaf
}
