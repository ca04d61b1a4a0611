package wal

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/magpie-io/magpie/encoding"
)

// Key prefixes for Pebble storage (sorted for efficient iteration)
const (
	prefixChannel = "/chan/" // /chan/{channelName}
	prefixRecord  = "/rec/"  // /rec/{16-digit-zero-padded-seq}
	prefixSeq     = "/seq"   // /seq -> uint64 (last assigned sequence)
)

// Pebble configuration constants, tuned for sequential append traffic
const (
	memTableSize                = 64 << 20 // 64MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20 // 256MB
	maxConcurrentCompactions    = 3
)

// Payloads below this size are stored uncompressed even when compression is on.
const compressionThreshold = 128

const defaultProgressInterval = 5 * time.Second

// channelRecord is the once-per-channel schema record.
type channelRecord struct {
	Name         string `msgpack:"name"`
	MessageType  string `msgpack:"type"`
	Schema       []byte `msgpack:"schema"`
	RegisteredAt int64  `msgpack:"ts"`
}

// messageRecord is one captured payload.
type messageRecord struct {
	Seq        uint64 `msgpack:"seq"`
	Channel    string `msgpack:"chan"`
	Payload    []byte `msgpack:"data"`
	CaptureTS  int64  `msgpack:"ts"`
	Checksum   uint64 `msgpack:"sum"` // xxhash64 of the uncompressed payload
	Compressed bool   `msgpack:"z"`
}

// PebbleWriter is a Pebble-backed record log. RegisterChannel and Append are
// safe for concurrent use from independent delivery goroutines.
type PebbleWriter struct {
	db   *pebble.DB
	path string
	opts Options

	// Last assigned record sequence. Appends are serialized by appendMu so
	// the persisted /seq key never regresses behind a committed record.
	seq      atomic.Uint64
	appendMu sync.Mutex

	// Registered channels (idempotence for RegisterChannel)
	channels   map[string]struct{}
	channelsMu sync.Mutex

	// Progress counters
	messages atomic.Uint64
	bytes    atomic.Uint64

	// Throttled progress reporting
	lastProgress atomic.Int64 // unix nanos
	progressIval time.Duration

	zstdEnc *zstd.Encoder

	closed atomic.Bool
}

// Open creates or opens a Pebble-backed record log at dir.
func Open(dir string, opts Options) (*PebbleWriter, error) {
	pebbleOpts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
		DisableWAL:                  false,
	}

	db, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open record log at %s: %w", dir, err)
	}

	interval := defaultProgressInterval
	if opts.ProgressIntervalSeconds > 0 {
		interval = time.Duration(opts.ProgressIntervalSeconds) * time.Second
	}

	w := &PebbleWriter{
		db:           db,
		path:         dir,
		opts:         opts,
		channels:     make(map[string]struct{}),
		progressIval: interval,
	}

	if opts.Compression {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		w.zstdEnc = enc
	}

	if err := w.loadSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	if err := w.loadChannels(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load channel records: %w", err)
	}

	log.Info().Str("path", dir).Uint64("seq", w.seq.Load()).Msg("Record log opened")
	return w, nil
}

// loadSeq restores the last assigned sequence so appends after a restart
// keep extending the log instead of overwriting it.
func (w *PebbleWriter) loadSeq() error {
	val, closer, err := w.db.Get([]byte(prefixSeq))
	if err == pebble.ErrNotFound {
		w.seq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}

	w.seq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

// loadChannels restores the registered-channel set for idempotence.
func (w *PebbleWriter) loadChannels() error {
	prefix := []byte(prefixChannel)
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	count := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefixChannel):])
		w.channels[name] = struct{}{}
		count++
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if count > 0 {
		log.Info().Int("channels", count).Msg("Loaded existing channel records")
	}
	return nil
}

// RegisterChannel stores a channel's schema record. Idempotent per name: a
// second registration for the same channel is a no-op.
func (w *PebbleWriter) RegisterChannel(name, messageType string, schema []byte) error {
	if w.closed.Load() {
		return fmt.Errorf("record log is closed")
	}

	w.channelsMu.Lock()
	defer w.channelsMu.Unlock()

	// Close holds channelsMu while closing the store, so a registration that
	// lost the race to Close errors out here instead of hitting a closed
	// Pebble handle.
	if w.closed.Load() {
		return fmt.Errorf("record log is closed")
	}

	if _, ok := w.channels[name]; ok {
		return nil
	}

	rec := channelRecord{
		Name:         name,
		MessageType:  messageType,
		Schema:       schema,
		RegisteredAt: time.Now().UnixNano(),
	}
	val, err := encoding.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal channel record: %w", err)
	}

	if err := w.db.Set([]byte(prefixChannel+name), val, w.writeOpt()); err != nil {
		return fmt.Errorf("failed to write channel record: %w", err)
	}

	w.channels[name] = struct{}{}
	return nil
}

// Append durably stores one timestamped payload and assigns it the next
// sequence number.
func (w *PebbleWriter) Append(channel string, payload []byte, captureTS int64) error {
	if w.closed.Load() {
		return fmt.Errorf("record log is closed")
	}

	w.appendMu.Lock()
	defer w.appendMu.Unlock()

	if w.closed.Load() {
		return fmt.Errorf("record log is closed")
	}

	rec := messageRecord{
		Seq:       w.seq.Add(1),
		Channel:   channel,
		Payload:   payload,
		CaptureTS: captureTS,
		Checksum:  xxhash.Sum64(payload),
	}

	if w.zstdEnc != nil && len(payload) >= compressionThreshold {
		rec.Payload = w.zstdEnc.EncodeAll(payload, nil)
		rec.Compressed = true
	}

	val, err := encoding.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	batch := w.db.NewBatch()
	defer batch.Close()

	if err := batch.Set([]byte(recordKey(rec.Seq)), val, nil); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, rec.Seq)
	if err := batch.Set([]byte(prefixSeq), seqBuf, nil); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	if err := batch.Commit(w.writeOpt()); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}

	w.messages.Add(1)
	w.bytes.Add(uint64(len(payload)))
	return nil
}

// ReportProgress logs recording progress at most once per configured interval.
// Advisory only; it never fails.
func (w *PebbleWriter) ReportProgress() {
	now := time.Now().UnixNano()
	last := w.lastProgress.Load()
	if now-last < int64(w.progressIval) {
		return
	}
	if !w.lastProgress.CompareAndSwap(last, now) {
		return
	}

	stats := w.Stats()
	log.Info().
		Uint64("channels", stats.Channels).
		Uint64("messages", stats.Messages).
		Uint64("bytes", stats.Bytes).
		Msg("Recording progress")
}

// Stats returns a snapshot of the writer's progress counters.
func (w *PebbleWriter) Stats() Stats {
	w.channelsMu.Lock()
	channels := uint64(len(w.channels))
	w.channelsMu.Unlock()

	return Stats{
		Channels: channels,
		Messages: w.messages.Load(),
		Bytes:    w.bytes.Load(),
	}
}

// Close flushes and closes the underlying store. Idempotent; appends arriving
// after Close return an error instead of reaching a closed Pebble handle.
func (w *PebbleWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Wait for any in-flight append or channel registration to finish its
	// write before closing the underlying store.
	w.appendMu.Lock()
	defer w.appendMu.Unlock()
	w.channelsMu.Lock()
	defer w.channelsMu.Unlock()

	if w.zstdEnc != nil {
		w.zstdEnc.Close()
	}

	log.Info().
		Uint64("channels", uint64(len(w.channels))).
		Uint64("messages", w.messages.Load()).
		Uint64("bytes", w.bytes.Load()).
		Msg("Record log closed")

	return w.db.Close()
}

func (w *PebbleWriter) writeOpt() *pebble.WriteOptions {
	if w.opts.DisableSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

// recordKey formats /rec/{16-digit-zero-padded-seq} so records iterate in
// append order.
func recordKey(seq uint64) string {
	return fmt.Sprintf("%s%016x", prefixRecord, seq)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
