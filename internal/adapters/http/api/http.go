// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/moodline/moodline/internal/adapters/stream"
	"github.com/moodline/moodline/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Submit ingests one scored event.
	Submit(ctx context.Context, e model.ScoredEvent) error

	// Subscribe registers a stream subscription with an optional resume cursor.
	Subscribe(subject, resolution string, lastEventID uint64) (*stream.Subscription, []model.StreamEvent, bool, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id string)

	// Stream serves a subscription to a sink until the context ends.
	Stream(ctx context.Context, sub *stream.Subscription, replay []model.StreamEvent, sink stream.Sink) error

	// Read operations expose aggregated bucket data.
	QueryBuckets(ctx context.Context, subject, resolution string, start, end time.Time) ([]model.BucketSnapshot, error)
	CurrentBucket(ctx context.Context, subject, resolution string) (model.BucketSnapshot, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	eventsHandler  *EventsHandler
	bucketsHandler *BucketsHandler
	streamHandler  *StreamHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		eventsHandler:  NewEventsHandler(deps),
		bucketsHandler: NewBucketsHandler(deps),
		streamHandler:  NewStreamHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("/buckets", MetricsMiddleware(s.bucketsHandler.HandleGetBuckets, "buckets"))
	mux.HandleFunc("/stream", s.streamHandler.HandleSSE)
	mux.HandleFunc("/stream/ws", s.streamHandler.HandleWebSocket)
}

// eventRequest mirrors the wire schema for POST /events.
type eventRequest struct {
	EventID    string  `json:"event_id"`
	Subject    string  `json:"subject"`
	Score      float64 `json:"score"`
	OccurredAt string  `json:"occurred_at"`
}

func (e eventRequest) validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return errors.New("missing event_id")
	case strings.TrimSpace(e.Subject) == "":
		return errors.New("missing subject")
	case strings.TrimSpace(e.OccurredAt) == "":
		return errors.New("missing occurred_at")
	}
	if _, err := time.Parse(time.RFC3339, e.OccurredAt); err != nil {
		return errors.New("invalid occurred_at; must be RFC3339")
	}
	return nil
}

func (e eventRequest) toModel() model.ScoredEvent {
	ts, _ := time.Parse(time.RFC3339, e.OccurredAt)
	return model.ScoredEvent{
		ID:         e.EventID,
		Subject:    e.Subject,
		Score:      e.Score,
		OccurredAt: ts,
	}
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
