package telemetry

// AppendBuckets covers local Pebble append latencies
var AppendBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

// Recording session metrics
var (
	// ChannelsSubscribed tracks the number of channels with an active subscription
	ChannelsSubscribed Gauge = NoopStat{}

	// MessagesRecordedTotal counts messages durably appended, by channel
	MessagesRecordedTotal CounterVec = noopCounterVec{}

	// MessagesDroppedTotal counts dropped messages by reason
	// (not_started, empty_payload, append_error)
	MessagesDroppedTotal CounterVec = noopCounterVec{}

	// BytesRecordedTotal counts payload bytes durably appended
	BytesRecordedTotal Counter = NoopStat{}

	// AppendDurationSeconds measures record log append latency
	AppendDurationSeconds Histogram = NoopStat{}

	// TopologyEventsTotal counts topology change events by outcome
	// (subscribed, ignored_role, rejected, excluded, duplicate)
	TopologyEventsTotal CounterVec = noopCounterVec{}

	// MirrorPublishTotal counts mirror sink publishes by sink and result
	MirrorPublishTotal CounterVec = noopCounterVec{}
)

// InitMetrics binds the package-level metric variables to the Prometheus
// registry. Called from InitializeTelemetry once the registry exists.
func InitMetrics() {
	ChannelsSubscribed = NewGauge(
		"channels_subscribed",
		"Number of channels with an active subscription",
	)
	MessagesRecordedTotal = NewCounterVec(
		"messages_recorded_total",
		"Messages durably appended to the record log",
		[]string{"channel"},
	)
	MessagesDroppedTotal = NewCounterVec(
		"messages_dropped_total",
		"Messages dropped instead of recorded",
		[]string{"reason"},
	)
	BytesRecordedTotal = NewCounter(
		"bytes_recorded_total",
		"Payload bytes durably appended to the record log",
	)
	AppendDurationSeconds = NewHistogramWithBuckets(
		"append_duration_seconds",
		"Record log append latency",
		AppendBuckets,
	)
	TopologyEventsTotal = NewCounterVec(
		"topology_events_total",
		"Topology change events by outcome",
		[]string{"outcome"},
	)
	MirrorPublishTotal = NewCounterVec(
		"mirror_publish_total",
		"Mirror sink publishes by sink and result",
		[]string{"sink", "result"},
	)
}
