package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/scoutdata/medallion/internal/domain"
	"github.com/scoutdata/medallion/internal/metrics"
	"github.com/scoutdata/medallion/internal/repository"
)

// Handler exposes the raw event store's append operation to edge
// devices. Payloads are stored as received; validation happens later,
// on the validator's schedule.
type Handler struct {
	raw repository.RawEventRepository
}

// NewHTTPHandler wraps the repository with a POST endpoint mounted at
// /events/{sourceType}.
func NewHTTPHandler(raw repository.RawEventRepository) http.Handler {
	return &Handler{raw: raw}
}

type appendRequest struct {
	SourceID string         `json:"source_id"`
	Payload  map[string]any `json:"payload"`
}

type appendResponse struct {
	ID         string    `json:"id"`
	IngestedAt time.Time `json:"ingested_at"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rawType := strings.Trim(strings.TrimPrefix(r.URL.Path, "/events/"), "/")
	sourceType, err := domain.ParseSourceType(rawType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.SourceID) == "" {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}
	if req.Payload == nil {
		http.Error(w, "payload is required", http.StatusBadRequest)
		return
	}

	event := domain.NewRawEvent(sourceType, req.SourceID, req.Payload)
	id, err := h.raw.Append(r.Context(), event)
	if err != nil {
		http.Error(w, "failed to store event", http.StatusServiceUnavailable)
		return
	}

	metrics.EventsIngested.WithLabelValues(string(sourceType)).Inc()

	writeJSON(w, http.StatusAccepted, appendResponse{
		ID:         id.String(),
		IngestedAt: event.IngestedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
