package mirror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpie-io/magpie/cfg"
)

type stubWriter struct {
	appends   int
	closed    bool
	appendErr error
}

func (s *stubWriter) RegisterChannel(name, messageType string, schema []byte) error { return nil }

func (s *stubWriter) Append(channel string, payload []byte, captureTS int64) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appends++
	return nil
}

func (s *stubWriter) ReportProgress() {}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestTeeWriterMirrorsAfterAppend(t *testing.T) {
	next := &stubWriter{}
	sink := &MockSink{}
	tee := NewTeeWriter(next, "tap", sink, "mirror")

	require.NoError(t, tee.Append("/sensor/lidar", []byte("P"), 7))

	assert.Equal(t, 1, next.appends)
	msgs := sink.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mirror.sensor.lidar", msgs[0].Topic)
	assert.Equal(t, "/sensor/lidar", msgs[0].Key)
	assert.Equal(t, []byte("P"), msgs[0].Value)
}

func TestTeeWriterSkipsMirrorOnAppendFailure(t *testing.T) {
	next := &stubWriter{appendErr: errors.New("disk full")}
	sink := &MockSink{}
	tee := NewTeeWriter(next, "tap", sink, "mirror")

	require.Error(t, tee.Append("/chatter", []byte("P"), 7))
	assert.Empty(t, sink.Snapshot())
}

func TestTeeWriterMirrorFailureIsSwallowed(t *testing.T) {
	next := &stubWriter{}
	sink := &MockSink{PublishErr: errors.New("broker down")}
	tee := NewTeeWriter(next, "tap", sink, "mirror")

	require.NoError(t, tee.Append("/chatter", []byte("P"), 7))
	assert.Equal(t, 1, next.appends, "append still counts despite mirror failure")
}

func TestTeeWriterCloseClosesBoth(t *testing.T) {
	next := &stubWriter{}
	tee := NewTeeWriter(next, "tap", &MockSink{}, "")

	require.NoError(t, tee.Close())
	assert.True(t, next.closed)
}

func TestNewSinkFactories(t *testing.T) {
	sink, err := NewSink(cfg.MirrorConfiguration{Name: "tap", Type: "mock"})
	require.NoError(t, err)
	require.IsType(t, &MockSink{}, sink)

	_, err = NewSink(cfg.MirrorConfiguration{Name: "tap", Type: "carrier-pigeon"})
	assert.Error(t, err)

	_, err = NewSink(cfg.MirrorConfiguration{Name: "tap", Type: "kafka"})
	assert.Error(t, err, "kafka sink requires brokers")
}

func TestTopicForWithoutPrefix(t *testing.T) {
	tee := NewTeeWriter(&stubWriter{}, "tap", &MockSink{}, "")
	assert.Equal(t, "chatter", tee.topicFor("/chatter"))
}
