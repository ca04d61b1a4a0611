package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/magpie-io/magpie/record"
)

// MemBus is an in-process bus implementing the recorder's topology and
// subscription contracts. It backs tests and single-process setups: writers
// are registered directly, change events fan out to watchers, and message
// delivery happens on per-subscription goroutines behind a bounded pending
// queue, dropping on overflow like the real transport.
type MemBus struct {
	mu       sync.RWMutex
	writers  map[string]record.Descriptor
	watchers map[uint64]func(record.ChangeEvent)
	subs     map[string][]*memSub
	identity string
	nextID   atomic.Uint64

	// AttachErr, SnapshotErr and WatchErr inject failures for tests.
	AttachErr   error
	SnapshotErr error
	WatchErr    error
}

// NewMemBus creates an empty in-process bus.
func NewMemBus() *MemBus {
	return &MemBus{
		writers:  make(map[string]record.Descriptor),
		watchers: make(map[uint64]func(record.ChangeEvent)),
		subs:     make(map[string][]*memSub),
	}
}

// Attach records the session identity.
func (m *MemBus) Attach(identity string) error {
	if m.AttachErr != nil {
		return m.AttachErr
	}
	m.mu.Lock()
	m.identity = identity
	m.mu.Unlock()
	return nil
}

// Identity returns the last attached session identity.
func (m *MemBus) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// Snapshot returns the currently registered writers.
func (m *MemBus) Snapshot(ctx context.Context) ([]record.Descriptor, error) {
	if m.SnapshotErr != nil {
		return nil, m.SnapshotErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	descriptors := make([]record.Descriptor, 0, len(m.writers))
	for _, d := range m.writers {
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// Watch registers a change listener. The cancel function is idempotent.
func (m *MemBus) Watch(fn func(record.ChangeEvent)) (func(), error) {
	if m.WatchErr != nil {
		return nil, m.WatchErr
	}

	id := m.nextID.Add(1)
	m.mu.Lock()
	m.watchers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
	return cancel, nil
}

// WatcherCount returns the number of installed change listeners.
func (m *MemBus) WatcherCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watchers)
}

// AddWriter registers a publisher and notifies watchers of the writer join.
func (m *MemBus) AddWriter(d record.Descriptor) {
	m.mu.Lock()
	m.writers[d.Name] = d
	watchers := m.snapshotWatchersLocked()
	m.mu.Unlock()

	ev := record.ChangeEvent{Role: record.RoleWriter, Op: record.OpJoin, Descriptor: d}
	for _, fn := range watchers {
		fn(ev)
	}
}

// RemoveWriter forgets a publisher and notifies watchers of the writer leave.
func (m *MemBus) RemoveWriter(name string) {
	m.mu.Lock()
	d, ok := m.writers[name]
	delete(m.writers, name)
	watchers := m.snapshotWatchersLocked()
	m.mu.Unlock()

	if !ok {
		return
	}
	ev := record.ChangeEvent{Role: record.RoleWriter, Op: record.OpLeave, Descriptor: d}
	for _, fn := range watchers {
		fn(ev)
	}
}

// Emit delivers an arbitrary change event to every watcher.
func (m *MemBus) Emit(ev record.ChangeEvent) {
	m.mu.RLock()
	watchers := m.snapshotWatchersLocked()
	m.mu.RUnlock()

	for _, fn := range watchers {
		fn(ev)
	}
}

func (m *MemBus) snapshotWatchersLocked() []func(record.ChangeEvent) {
	watchers := make([]func(record.ChangeEvent), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	return watchers
}

// Subscribe creates a subscription with a bounded pending queue drained by a
// dedicated delivery goroutine.
func (m *MemBus) Subscribe(config record.SubscriptionConfig, onMessage func(payload []byte)) (record.Subscription, error) {
	if config.Channel == "" {
		return nil, fmt.Errorf("subscription requires a channel name")
	}

	size := config.PendingQueueSize
	if size <= 0 {
		size = 16
	}

	sub := &memSub{
		bus:       m,
		channel:   config.Channel,
		pending:   make(chan []byte, size),
		onMessage: onMessage,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.subs[config.Channel] = append(m.subs[config.Channel], sub)
	m.mu.Unlock()

	go sub.deliverLoop()
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions for a channel.
func (m *MemBus) SubscriberCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[channel])
}

// Publish enqueues a payload for every subscription on the channel,
// dropping when a subscription's pending queue is full.
func (m *MemBus) Publish(channel string, payload []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs[channel] {
		select {
		case sub.pending <- payload:
		default:
			// Pending queue full; the transport drops for slow consumers.
		}
	}
}

type memSub struct {
	bus       *MemBus
	channel   string
	pending   chan []byte
	onMessage func(payload []byte)
	done      chan struct{}
	closed    atomic.Bool
}

func (s *memSub) Channel() string {
	return s.channel
}

// Unsubscribe removes the subscription and stops its delivery goroutine.
// The in-flight callback, if any, may still complete after return.
func (s *memSub) Unsubscribe() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.bus.mu.Lock()
	subs := s.bus.subs[s.channel]
	for i, candidate := range subs {
		if candidate == s {
			s.bus.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()

	close(s.done)
	return nil
}

func (s *memSub) deliverLoop() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.pending:
			s.onMessage(payload)
		}
	}
}
