package record

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/magpie-io/magpie/clock"
	"github.com/magpie-io/magpie/telemetry"
)

// State is the session lifecycle state. Transitions are one-way:
// Idle -> Started -> Stopping -> Stopped.
type State int32

const (
	StateIdle State = iota
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// lifecycleState holds the session state behind an atomic so delivery
// callbacks on transport goroutines observe Stop without locking.
type lifecycleState struct {
	v atomic.Int32
}

func (l *lifecycleState) load() State {
	return State(l.v.Load())
}

func (l *lifecycleState) store(s State) {
	l.v.Store(int32(s))
}

func (l *lifecycleState) compareAndSwap(old, new State) bool {
	return l.v.CompareAndSwap(int32(old), int32(new))
}

// Capacity of the warn-once cache for channels rejected during reconciliation.
// Keeps repeated invalid descriptors from flooding the log on busy topologies.
const warnCacheSize = 1024

// DefaultPendingQueueSize bounds the per-channel pending-delivery queue when
// the caller does not configure one.
const DefaultPendingQueueSize = 50

// Options configures a recording session. All collaborators are passed in
// explicitly; the session reads no global configuration.
type Options struct {
	// Identity registered with the topology service on Start.
	Identity string
	// Policy selects which channels get captured.
	Policy *Policy
	// OpenWriter opens the persistence sink. Called once per Start attempt.
	OpenWriter func() (Writer, error)
	// Topology supplies the publisher snapshot and change feed.
	Topology Topology
	// Subscriber creates per-channel subscriptions.
	Subscriber Subscriber
	// PendingQueueSize bounds each subscription's pending-delivery queue.
	PendingQueueSize int
	// Clock issues capture timestamps. Defaults to a fresh monotonic clock.
	Clock *clock.Clock
}

// Session owns the recording lifecycle: it subscribes to every channel the
// policy selects, reconciling the topology snapshot with the live change feed,
// and forwards delivered payloads to the record writer. Start and Stop are
// expected to be called from a single controlling goroutine; delivery
// callbacks arrive concurrently on transport-owned goroutines and are gated
// by the lifecycle state.
type Session struct {
	opts Options

	state   lifecycleState
	writer  Writer
	subs    *xsync.MapOf[string, Subscription]
	unwatch func()
	warned  *lru.Cache[string, struct{}]
	clk     *clock.Clock
}

// NewSession creates an idle recording session.
func NewSession(opts Options) (*Session, error) {
	if opts.Policy == nil {
		return nil, fmt.Errorf("policy is required")
	}
	if opts.OpenWriter == nil {
		return nil, fmt.Errorf("writer factory is required")
	}
	if opts.Topology == nil {
		return nil, fmt.Errorf("topology service is required")
	}
	if opts.Subscriber == nil {
		return nil, fmt.Errorf("subscriber is required")
	}
	if opts.PendingQueueSize <= 0 {
		opts.PendingQueueSize = DefaultPendingQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	warned, err := lru.New[string, struct{}](warnCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create warn cache: %w", err)
	}

	return &Session{
		opts:   opts,
		subs:   xsync.NewMapOf[string, Subscription](),
		warned: warned,
		clk:    opts.Clock,
	}, nil
}

// Start opens the writer, attaches to the topology service, subscribes to
// every qualifying channel in the current snapshot and installs the live
// change listener. On any failure the session stays Idle and everything
// opened during the attempt is torn down again.
func (s *Session) Start(ctx context.Context) error {
	if s.state.load() != StateIdle {
		return ErrAlreadyStarted
	}

	w, err := s.opts.OpenWriter()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriterOpen, err)
	}
	s.writer = w

	if err := s.opts.Topology.Attach(s.opts.Identity); err != nil {
		s.writer = nil
		w.Close()
		return fmt.Errorf("%w: %v", ErrBusAttach, err)
	}

	if err := s.reconcile(ctx); err != nil {
		s.teardownSubscriptions()
		s.writer = nil
		w.Close()
		return fmt.Errorf("%w: %v", ErrReconcile, err)
	}

	s.state.store(StateStarted)
	log.Info().
		Str("identity", s.opts.Identity).
		Int("channels", s.channelCount()).
		Bool("all_channels", s.opts.Policy.CaptureAll()).
		Msg("Recording session started")
	return nil
}

// reconcile subscribes to the snapshot of currently-active publishers and then
// installs the change listener. A channel that starts publishing in the gap
// between the snapshot and the listener installation can be reported twice;
// considerChannel is idempotent per channel name, so the duplicate is absorbed.
func (s *Session) reconcile(ctx context.Context) error {
	descriptors, err := s.opts.Topology.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("topology snapshot: %w", err)
	}

	for _, d := range descriptors {
		s.considerChannel(d)
	}

	unwatch, err := s.opts.Topology.Watch(s.onTopologyChange)
	if err != nil {
		return fmt.Errorf("install change listener: %w", err)
	}
	s.unwatch = unwatch

	return nil
}

// onTopologyChange handles one live change event. Only writer joins are
// actionable; events racing with Stop are dropped by the state check.
func (s *Session) onTopologyChange(ev ChangeEvent) {
	if ev.Role != RoleWriter || ev.Op != OpJoin {
		telemetry.TopologyEventsTotal.With("ignored_role").Inc()
		return
	}

	if st := s.state.load(); st == StateStopping || st == StateStopped {
		return
	}

	s.considerChannel(ev.Descriptor)
}

// considerChannel applies the selection policy to one descriptor and
// subscribes at most once per channel name for the life of the session.
func (s *Session) considerChannel(d Descriptor) {
	if err := d.Validate(); err != nil {
		s.warnOnce("invalid:"+d.Name, func() {
			log.Warn().Err(err).Str("channel", d.Name).Msg("Ignoring channel with invalid descriptor")
		})
		telemetry.TopologyEventsTotal.With("rejected").Inc()
		return
	}

	if !s.opts.Policy.Match(d.Name) {
		log.Debug().Str("channel", d.Name).Msg("Channel not in record list")
		telemetry.TopologyEventsTotal.With("excluded").Inc()
		return
	}

	if _, ok := s.subs.Load(d.Name); ok {
		telemetry.TopologyEventsTotal.With("duplicate").Inc()
		return
	}

	if err := s.writer.RegisterChannel(d.Name, d.MessageType, d.Schema); err != nil {
		// The subscription still proceeds; payloads for the channel stay
		// capturable even if the schema record is missing.
		log.Error().Err(err).Str("channel", d.Name).Msg("Failed to register channel schema")
	}

	name := d.Name
	sub, err := s.opts.Subscriber.Subscribe(
		SubscriptionConfig{Channel: name, PendingQueueSize: s.opts.PendingQueueSize},
		func(payload []byte) { s.deliver(name, payload) },
	)
	if err != nil {
		log.Error().Err(err).Str("channel", name).Msg("Failed to create channel subscription")
		telemetry.TopologyEventsTotal.With("rejected").Inc()
		return
	}

	if _, loaded := s.subs.LoadOrStore(name, sub); loaded {
		// A concurrent change event won the race for this channel.
		sub.Unsubscribe()
		telemetry.TopologyEventsTotal.With("duplicate").Inc()
		return
	}

	if st := s.state.load(); st == StateStopping || st == StateStopped {
		// Lost the race with Stop's teardown sweep; do not leak a live
		// subscription past the session.
		if _, ok := s.subs.LoadAndDelete(name); ok {
			sub.Unsubscribe()
		}
		return
	}

	telemetry.ChannelsSubscribed.Inc()
	telemetry.TopologyEventsTotal.With("subscribed").Inc()
	log.Info().Str("channel", name).Str("type", d.MessageType).Msg("Recording channel")
}

// deliver is the subscription callback. It runs on transport-owned goroutines
// concurrently with Start/Stop; the state check guarantees no payload is ever
// appended before Start completes or after Stop begins.
func (s *Session) deliver(channel string, payload []byte) {
	if st := s.state.load(); st != StateStarted {
		log.Debug().Str("channel", channel).Stringer("state", st).Msg("Dropping message outside started state")
		telemetry.MessagesDroppedTotal.With("not_started").Inc()
		return
	}

	if len(payload) == 0 {
		log.Warn().Str("channel", channel).Msg("Dropping empty message")
		telemetry.MessagesDroppedTotal.With("empty_payload").Inc()
		return
	}

	ts := s.clk.Now()
	appendStart := time.Now()
	if err := s.writer.Append(channel, payload, ts); err != nil {
		log.Warn().Err(err).Str("channel", channel).Msg("Failed to append message, dropping")
		telemetry.MessagesDroppedTotal.With("append_error").Inc()
		return
	}

	telemetry.AppendDurationSeconds.Observe(time.Since(appendStart).Seconds())
	telemetry.MessagesRecordedTotal.With(channel).Inc()
	telemetry.BytesRecordedTotal.Add(float64(len(payload)))

	s.writer.ReportProgress()
}

// Stop removes the change listener, tears down every channel subscription and
// only then closes the writer, so no append can target a closed sink. The
// Stopping state becomes visible to delivery callbacks before any teardown
// step runs. A second Stop is a no-op returning ErrNotStarted.
func (s *Session) Stop() error {
	if !s.state.compareAndSwap(StateStarted, StateStopping) {
		log.Debug().Stringer("state", s.state.load()).Msg("Stop requested but session is not started")
		return ErrNotStarted
	}

	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}

	s.teardownSubscriptions()

	if err := s.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("Record writer close reported an error")
	}

	s.state.store(StateStopped)
	log.Info().Msg("Recording session stopped")
	return nil
}

// teardownSubscriptions unsubscribes and forgets every active subscription.
func (s *Session) teardownSubscriptions() {
	s.subs.Range(func(name string, sub Subscription) bool {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("channel", name).Msg("Failed to unsubscribe channel")
		}
		if _, ok := s.subs.LoadAndDelete(name); ok {
			telemetry.ChannelsSubscribed.Dec()
		}
		return true
	})
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state.load()
}

// Channels returns the sorted names of currently subscribed channels.
func (s *Session) Channels() []string {
	names := make([]string, 0, s.subs.Size())
	s.subs.Range(func(name string, _ Subscription) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

func (s *Session) channelCount() int {
	return s.subs.Size()
}

// warnOnce runs f the first time key is seen, then suppresses repeats.
func (s *Session) warnOnce(key string, f func()) {
	if ok, _ := s.warned.ContainsOrAdd(key, struct{}{}); !ok {
		f()
	}
}
