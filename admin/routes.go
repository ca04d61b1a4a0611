package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/magpie-io/magpie/cfg"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers) {
	r := chi.NewRouter()

	r.Get("/status", handlers.handleStatus)
	r.Get("/channels", handlers.handleChannels)

	mux.Handle("/", r)
}

// Serve starts the admin HTTP server in the background when enabled.
func Serve(conf cfg.AdminConfiguration, handlers *Handlers) {
	if !conf.Enabled {
		return
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, handlers)

	addr := conf.Address + ":" + strconv.Itoa(conf.Port)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("Admin server stopped")
		}
	}()

	log.Info().Str("addr", addr).Msg("Admin endpoint enabled")
}
