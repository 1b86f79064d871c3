// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"net/http"
	"time"

	service "github.com/moodline/moodline/internal/app"
	"github.com/moodline/moodline/internal/domain/model"
)

// BucketsHandler serves aggregated bucket queries.
type BucketsHandler struct {
	deps Dependencies
}

// NewBucketsHandler creates a new buckets handler.
func NewBucketsHandler(deps Dependencies) *BucketsHandler {
	return &BucketsHandler{deps: deps}
}

// bucketResponse mirrors the read shape returned by bucket queries.
type bucketResponse struct {
	Subject     string    `json:"subject"`
	Resolution  string    `json:"resolution"`
	BucketStart time.Time `json:"bucket_start"`
	Count       int64     `json:"count"`
	AvgScore    float64   `json:"avg"`
	MinScore    float64   `json:"min"`
	MaxScore    float64   `json:"max"`
	IsPartial   bool      `json:"is_partial"`
}

func toBucketResponse(snap model.BucketSnapshot) bucketResponse {
	return bucketResponse{
		Subject:     snap.Key.Subject,
		Resolution:  snap.Key.Resolution.String(),
		BucketStart: snap.Key.BucketStart,
		Count:       snap.Count,
		AvgScore:    snap.AvgScore(),
		MinScore:    snap.MinScore,
		MaxScore:    snap.MaxScore,
		IsPartial:   snap.IsPartial,
	}
}

// HandleGetBuckets handles GET /buckets requests.
//
// With start and end query parameters (RFC3339) it returns the buckets in
// [start, end), oldest first. Without a range it returns the single bucket
// covering the current instant.
func (h *BucketsHandler) HandleGetBuckets(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_buckets"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	subject := q.Get("subject")
	resolution := q.Get("resolution")
	if subject == "" || resolution == "" {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("subject and resolution are required")))
		return
	}

	startRaw, endRaw := q.Get("start"), q.Get("end")
	if startRaw == "" && endRaw == "" {
		snap, err := h.deps.CurrentBucket(r.Context(), subject, resolution)
		if err != nil {
			h.writeQueryError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, toBucketResponse(snap))
		return
	}

	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("invalid start; must be RFC3339")))
		return
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("invalid end; must be RFC3339")))
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("end must be after start")))
		return
	}

	snaps, err := h.deps.QueryBuckets(r.Context(), subject, resolution, start, end)
	if err != nil {
		h.writeQueryError(w, op, err)
		return
	}

	out := make([]bucketResponse, len(snaps))
	for i, snap := range snaps {
		out[i] = toBucketResponse(snap)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BucketsHandler) writeQueryError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, service.ErrInvalidResolution) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err)
}
