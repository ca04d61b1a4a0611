// Package admin exposes a read-only HTTP surface for inspecting a running
// recording session.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/magpie-io/magpie/record"
	"github.com/magpie-io/magpie/wal"
)

// StatsProvider reports record log progress counters
type StatsProvider interface {
	Stats() wal.Stats
}

// Handlers serves session inspection endpoints
type Handlers struct {
	session *record.Session
	stats   StatsProvider
}

// NewHandlers creates a Handlers instance for the given session
func NewHandlers(session *record.Session, stats StatsProvider) *Handlers {
	return &Handlers{
		session: session,
		stats:   stats,
	}
}

// handleStatus returns the session lifecycle state and progress counters
func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"state":    h.session.State().String(),
		"channels": len(h.session.Channels()),
	}
	if h.stats != nil {
		response["log"] = h.stats.Stats()
	}

	writeJSONResponse(w, response)
}

// handleChannels returns the sorted list of actively recorded channels
func (h *Handlers) handleChannels(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]interface{}{
		"channels": h.session.Channels(),
	})
}

func writeJSONResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode admin response")
	}
}
