package api

import (
	"context"
	"net/http"

	"github.com/okian/topkboard/internal/domain/model"
)

// AdminDependencies defines the administrative commands.
type AdminDependencies interface {
	Reconcile(ctx context.Context) (model.DriftReport, error)
	Resync(ctx context.Context) error
}

// AdminHandler handles administrative requests.
type AdminHandler struct {
	deps AdminDependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps AdminDependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

// HandleReconcile handles POST /admin/reconcile. It runs a reconciliation
// pass and returns the drift report; calling it repeatedly is safe.
func (h *AdminHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	report, err := h.deps.Reconcile(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleResync handles POST /admin/resync, asking the change feed for a
// full snapshot.
func (h *AdminHandler) HandleResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := h.deps.Resync(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resync requested"})
}
