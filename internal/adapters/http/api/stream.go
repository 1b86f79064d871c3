// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	service "github.com/moodline/moodline/internal/app"
	"github.com/moodline/moodline/internal/adapters/stream"
	"github.com/moodline/moodline/internal/domain/model"
)

// StreamHandler serves live bucket-update subscriptions over SSE and WebSocket.
type StreamHandler struct {
	deps     Dependencies
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(deps Dependencies) *StreamHandler {
	return &StreamHandler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// subscribeParams extracts and validates the subscription filter and resume
// cursor shared by both transports.
func (h *StreamHandler) subscribeParams(r *http.Request) (subject, resolution string, lastID uint64, err error) {
	q := r.URL.Query()
	subject = q.Get("subject")
	if subject == "" {
		subject = stream.SubjectWildcard
	}
	resolution = q.Get("resolution")

	raw := q.Get("last_event_id")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw != "" {
		lastID, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return "", "", 0, errors.New("invalid last_event_id")
		}
	}
	return subject, resolution, lastID, nil
}

// subscribe performs the subscription and maps failures to HTTP status codes.
// Errors are reported before any stream bytes are written.
func (h *StreamHandler) subscribe(w http.ResponseWriter, r *http.Request, op string) (*stream.Subscription, []model.StreamEvent, bool, bool) {
	subject, resolution, lastID, err := h.subscribeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", WrapKind(op, ErrBadRequest, err))
		return nil, nil, false, false
	}

	sub, replay, resync, err := h.deps.Subscribe(subject, resolution, lastID)
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrCapacityExceeded):
		writeError(w, http.StatusTooManyRequests, "capacity_exceeded", NewKind(op, ErrCapacity))
		return nil, nil, false, false
	case errors.Is(err, stream.ErrInvalidFilter), errors.Is(err, service.ErrInvalidResolution):
		writeError(w, http.StatusBadRequest, "invalid_filter", WrapKind(op, ErrBadRequest, err))
		return nil, nil, false, false
	case errors.Is(err, stream.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err)
		return nil, nil, false, false
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return nil, nil, false, false
	}
	return sub, replay, resync, true
}

// initialEvents builds the synthetic frames sent before live delivery: the
// resync signal when the cursor was too old, and the current bucket state for
// a fully qualified filter joining without a cursor. Synthetic frames carry
// event id zero so they never disturb the resume cursor.
func (h *StreamHandler) initialEvents(ctx context.Context, sub *stream.Subscription, resync, hasCursor bool) []model.StreamEvent {
	var out []model.StreamEvent
	if resync {
		out = append(out, model.StreamEvent{Kind: model.KindResyncRequired})
		return out
	}
	if !hasCursor && sub.Subject != stream.SubjectWildcard && sub.Resolution != 0 {
		snap, err := h.deps.CurrentBucket(ctx, sub.Subject, sub.Resolution.String())
		if err == nil && snap.Count > 0 {
			out = append(out, model.NewBucketUpdate(snap))
		}
	}
	return out
}

// HandleSSE handles GET /stream requests.
func (h *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	const op = "api.stream_sse"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	sub, replay, resync, ok := h.subscribe(w, r, op)
	if !ok {
		return
	}
	defer h.deps.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := stream.NewSSESink(w)
	_, hasCursor := cursorPresent(r)
	for _, ev := range h.initialEvents(r.Context(), sub, resync, hasCursor) {
		if err := sink.Send(ev); err != nil {
			return
		}
	}
	_ = sink.Flush()

	_ = h.deps.Stream(r.Context(), sub, replay, sink)
}

// HandleWebSocket handles GET /stream/ws requests.
func (h *StreamHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	const op = "api.stream_ws"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	sub, replay, resync, ok := h.subscribe(w, r, op)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Unsubscribe(sub.ID)
		return
	}
	defer func() {
		h.deps.Unsubscribe(sub.ID)
		_ = conn.Close()
	}()

	// The read pump only watches for the peer closing the connection.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sink := stream.NewWSSink(conn)
	_, hasCursor := cursorPresent(r)
	for _, ev := range h.initialEvents(ctx, sub, resync, hasCursor) {
		if err := sink.Send(ev); err != nil {
			return
		}
	}

	_ = h.deps.Stream(ctx, sub, replay, sink)
}

func cursorPresent(r *http.Request) (string, bool) {
	if raw := r.URL.Query().Get("last_event_id"); raw != "" {
		return raw, true
	}
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		return raw, true
	}
	return "", false
}
