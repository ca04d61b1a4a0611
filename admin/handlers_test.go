package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpie-io/magpie/bus"
	"github.com/magpie-io/magpie/record"
	"github.com/magpie-io/magpie/wal"
)

type nopWriter struct{}

func (nopWriter) RegisterChannel(name, messageType string, schema []byte) error { return nil }
func (nopWriter) Append(channel string, payload []byte, captureTS int64) error  { return nil }
func (nopWriter) ReportProgress()                                               {}
func (nopWriter) Close() error                                                  { return nil }

type fixedStats struct {
	stats wal.Stats
}

func (f fixedStats) Stats() wal.Stats { return f.stats }

func newTestServer(t *testing.T) (*httptest.Server, *record.Session, *bus.MemBus) {
	t.Helper()

	policy, err := record.NewPolicy(true, nil, nil)
	require.NoError(t, err)

	mb := bus.NewMemBus()
	session, err := record.NewSession(record.Options{
		Identity:   "magpie_test",
		Policy:     policy,
		OpenWriter: func() (record.Writer, error) { return nopWriter{}, nil },
		Topology:   mb,
		Subscriber: mb,
	})
	require.NoError(t, err)

	handlers := NewHandlers(session, fixedStats{stats: wal.Stats{Channels: 1, Messages: 7, Bytes: 21}})
	mux := http.NewServeMux()
	RegisterRoutes(mux, handlers)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, session, mb
}

func getJSON(t *testing.T, url string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestStatusIdleSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := getJSON(t, srv.URL+"/status")
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, float64(0), body["channels"])

	logStats, ok := body["log"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(7), logStats["messages"])
}

func TestChannelsReflectRunningSession(t *testing.T) {
	srv, session, mb := newTestServer(t)

	mb.AddWriter(record.Descriptor{Name: "/chatter", MessageType: "T", Schema: []byte("S")})
	require.NoError(t, session.Start(context.Background()))
	defer session.Stop()

	body := getJSON(t, srv.URL+"/channels")
	channels, ok := body["channels"].([]interface{})
	require.True(t, ok)
	require.Len(t, channels, 1)
	assert.Equal(t, "/chatter", channels[0])

	status := getJSON(t, srv.URL+"/status")
	assert.Equal(t, "started", status["state"])
}
