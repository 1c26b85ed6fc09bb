// Package adminapi implements the HTTP surface the admin UI (out of
// scope) consumes: a statistics snapshot, a request-event feed, a
// live metrics push, and a Prometheus scrape endpoint. It mounts onto
// internal/transport/http.Server via its MountFunc contract.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/privaxy-core/privaxy/internal/blocker"
	"github.com/privaxy-core/privaxy/internal/events"
	"github.com/privaxy-core/privaxy/internal/metrics"
	"github.com/privaxy-core/privaxy/internal/stats"
)

// API holds the collaborators the admin surface reads from.
type API struct {
	Stats   *stats.Stats
	Events  *events.Broadcaster
	Metrics *metrics.Collector
	Blocker *blocker.Blocker
}

// Mount registers every admin route on mux. It satisfies
// internal/transport/http.MountFunc.
func (a *API) Mount(mux *http.ServeMux) error {
	mux.HandleFunc("GET /api/stats", a.handleStats)
	mux.HandleFunc("GET /api/events", a.handleEvents)
	mux.HandleFunc("GET /ws/metrics", a.handleMetricsWS)
	mux.HandleFunc("PUT /api/blocking-disabled", a.handleSetBlockingDisabled)
	mux.Handle("GET /metrics", promhttp.Handler())
	return nil
}

// setBlockingDisabledRequest is the body of PUT /api/blocking-disabled.
type setBlockingDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

// handleSetBlockingDisabled flips the BlockingDisabled flag. The flag
// is mutated only by the admin surface; this is that surface's one
// write path.
func (a *API) handleSetBlockingDisabled(w http.ResponseWriter, r *http.Request) {
	var body setBlockingDisabledRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.Blocker.SetDisabled(r.Context(), body.Disabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStats serves the current statistics snapshot.
func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.Stats.Snapshot())
}

// handleEvents streams broadcast request events to the client as
// newline-delimited JSON, one object per event, flushing after each
// write so subscribers see events as they happen.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := a.Events.Subscribe(64)
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
