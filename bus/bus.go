// Package bus adapts a NATS connection to the recorder's topology and
// subscription contracts. Channel payloads travel as raw NATS message data;
// topology metadata is msgpack-encoded.
package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/magpie-io/magpie/cfg"
	"github.com/magpie-io/magpie/record"
)

// Bus wraps a NATS connection and creates per-channel subscriptions.
type Bus struct {
	nc            *nats.Conn
	channelPrefix string
}

// Connect establishes the NATS connection described by the bus configuration.
func Connect(conf cfg.BusConfiguration, identity string) (*Bus, error) {
	nc, err := nats.Connect(strings.Join(conf.URLs, ","),
		nats.Name(identity),
		nats.Timeout(time.Duration(conf.ConnectTimeoutMS)*time.Millisecond),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Str("identity", identity).Msg("Connected to bus")
	return &Bus{nc: nc, channelPrefix: conf.ChannelPrefix}, nil
}

// Subscribe creates a bounded per-channel subscription. Delivery runs on
// NATS-owned goroutines; the pending queue size maps onto the subscription's
// pending message limit, beyond which NATS drops for slow consumers. The
// client offers no way to create an inactive subscription, so messages
// arriving between Subscribe and SetPendingLimits queue under the client's
// default limits (64k messages) for that brief window.
func (b *Bus) Subscribe(config record.SubscriptionConfig, onMessage func(payload []byte)) (record.Subscription, error) {
	subject := subjectForChannel(b.channelPrefix, config.Channel)

	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		onMessage(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	if config.PendingQueueSize > 0 {
		if err := sub.SetPendingLimits(config.PendingQueueSize, -1); err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("failed to set pending limits on %s: %w", subject, err)
		}
	}

	return &natsSubscription{channel: config.Channel, sub: sub}, nil
}

// Close drains and closes the underlying connection.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

type natsSubscription struct {
	channel string
	sub     *nats.Subscription
}

func (s *natsSubscription) Channel() string {
	return s.channel
}

func (s *natsSubscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrBadSubscription {
		return err
	}
	return nil
}

// subjectForChannel maps a channel name like "/sensor/lidar" onto a NATS
// subject under the configured prefix: "magpie.chan.sensor.lidar". Characters
// NATS treats specially become underscores.
func subjectForChannel(prefix, channel string) string {
	token := strings.Trim(channel, "/")
	token = strings.ReplaceAll(token, "/", ".")

	var b strings.Builder
	b.Grow(len(token))
	for _, c := range token {
		switch c {
		case ' ', '*', '>':
			b.WriteByte('_')
		default:
			b.WriteRune(c)
		}
	}

	if prefix == "" {
		return b.String()
	}
	return prefix + "." + b.String()
}
