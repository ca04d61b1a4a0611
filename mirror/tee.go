package mirror

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/magpie-io/magpie/record"
	"github.com/magpie-io/magpie/telemetry"
)

// TeeWriter decorates a record writer, republishing every successfully
// appended payload to a mirror sink. The durable append always comes first;
// a mirror failure is logged and counted, never propagated.
type TeeWriter struct {
	record.Writer
	name        string
	sink        Sink
	topicPrefix string
}

// NewTeeWriter wraps next so appends are teed to sink under topicPrefix.
func NewTeeWriter(next record.Writer, name string, sink Sink, topicPrefix string) *TeeWriter {
	return &TeeWriter{
		Writer:      next,
		name:        name,
		sink:        sink,
		topicPrefix: topicPrefix,
	}
}

// Append appends to the underlying writer, then mirrors the payload.
func (t *TeeWriter) Append(channel string, payload []byte, captureTS int64) error {
	if err := t.Writer.Append(channel, payload, captureTS); err != nil {
		return err
	}

	if err := t.sink.Publish(t.topicFor(channel), channel, payload); err != nil {
		log.Warn().Err(err).Str("sink", t.name).Str("channel", channel).Msg("Mirror publish failed")
		telemetry.MirrorPublishTotal.With(t.name, "error").Inc()
	} else {
		telemetry.MirrorPublishTotal.With(t.name, "ok").Inc()
	}

	return nil
}

// Close closes the mirror sink, then the underlying writer.
func (t *TeeWriter) Close() error {
	if err := t.sink.Close(); err != nil {
		log.Warn().Err(err).Str("sink", t.name).Msg("Mirror sink close reported an error")
	}
	return t.Writer.Close()
}

// topicFor maps a channel name onto a sink topic: "/sensor/lidar" becomes
// "<prefix>.sensor.lidar".
func (t *TeeWriter) topicFor(channel string) string {
	topic := strings.Trim(channel, "/")
	topic = strings.ReplaceAll(topic, "/", ".")
	if t.topicPrefix == "" {
		return topic
	}
	return t.topicPrefix + "." + topic
}
