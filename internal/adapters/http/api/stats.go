// Package api declares HTTP contracts and route registration helpers.
package api

import "net/http"

// StatsProvider exposes live service counters: queue depth, staged pending
// events, active subscriptions, sweeper state, dedup set size.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves the operator-facing stats snapshot. Prometheus on
// /healthz is the machine-readable surface; this is the human one.
type StatsHandler struct {
	stats StatsProvider
}

// NewStatsHandler creates a stats handler backed by the given provider.
func NewStatsHandler(stats StatsProvider) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	// The snapshot is point-in-time; intermediaries must not serve it stale.
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, h.stats.GetStats())
}
