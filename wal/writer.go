// Package wal persists captured channel schemas and timestamped payloads into
// a local Pebble store, append-only in capture order.
package wal

// Stats is a point-in-time snapshot of writer progress counters.
type Stats struct {
	Channels uint64 `json:"channels"`
	Messages uint64 `json:"messages"`
	Bytes    uint64 `json:"bytes"`
}

// Options configures a record log writer.
type Options struct {
	// Compression enables zstd compression of payloads above a small
	// threshold. Off by default.
	Compression bool
	// ProgressIntervalSeconds throttles ReportProgress logging. Defaults to 5.
	ProgressIntervalSeconds int
	// SyncWrites forces an fsync per append batch. On by default in the
	// daemon; tests may disable it.
	DisableSync bool
}
