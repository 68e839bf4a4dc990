package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/okian/topkboard/internal/domain/model"
)

const maxEventBody = 64 << 10

// EventDependencies defines the interface for event processing dependencies.
type EventDependencies interface {
	Submit(ctx context.Context, req model.IngestRequest) (model.IngestResult, error)
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// eventRequest mirrors the OpenAPI schema for POST /events.
type eventRequest struct {
	Delta          int64           `json:"delta"`
	ActionType     string          `json:"actionType"`
	ActionTokenID  string          `json:"actionTokenId"`
	ClientMetadata json.RawMessage `json:"clientMetadata,omitempty"`
	CreatedAt      *time.Time      `json:"createdAt,omitempty"`
}

// HandlePostEvent handles POST /events requests. The caller identity comes
// from X-User-ID, set by the authenticating proxy in front of the service,
// and the proof from X-Action-Proof or a bearer token.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "auth_error", ErrMissingIdentity)
		return
	}
	proof := proofFrom(r)
	if proof == "" {
		writeError(w, http.StatusUnauthorized, "auth_error", ErrMissingProof)
		return
	}

	var body eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	req := model.IngestRequest{
		UserID:         userID,
		SourceID:       sourceFrom(r),
		Delta:          body.Delta,
		ActionType:     body.ActionType,
		ActionTokenID:  body.ActionTokenID,
		Proof:          proof,
		ClientMetadata: body.ClientMetadata,
	}
	if body.CreatedAt != nil {
		req.CreatedAt = *body.CreatedAt
	}

	res, err := h.deps.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if res.Duplicate {
		w.Header().Set(HeaderIdempotentReplay, "true")
	}
	writeJSON(w, http.StatusOK, res)
}

func proofFrom(r *http.Request) string {
	if p := strings.TrimSpace(r.Header.Get(HeaderActionProof)); p != "" {
		return p
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// sourceFrom identifies the submitting source for per-source rate limits.
func sourceFrom(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get(HeaderSourceID)); s != "" {
		return s
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
