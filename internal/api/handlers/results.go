// Package handlers implements the results API endpoints.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/store"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ResultHandler serves stored campaign results.
type ResultHandler struct {
	store  store.ResultStore
	logger *slog.Logger
}

// NewResultHandler creates a new result handler.
func NewResultHandler(st store.ResultStore, logger *slog.Logger) *ResultHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultHandler{
		store:  st,
		logger: logger,
	}
}

// ResultSummary is the list view of a result. Monitor logs and outputs are only
// returned by Get.
type ResultSummary struct {
	ID           string            `json:"id"`
	ScenarioHash string            `json:"scenario_hash"`
	VMs          []string          `json:"vms"`
	Placement    map[string]string `json:"placement"`
	Unallocated  []string          `json:"unallocated,omitempty"`
	CreatedAt    string            `json:"created_at"`
}

func summarize(r *models.Result) ResultSummary {
	return ResultSummary{
		ID:           r.ID,
		ScenarioHash: r.ScenarioHash,
		VMs:          r.VMNames(),
		Placement:    r.Placement,
		Unallocated:  r.Unallocated,
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// List handles GET /v1/results - lists results, optionally for one scenario hash.
func (h *ResultHandler) List(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("scenario_hash")
	if hash != "" && !hashPattern.MatchString(hash) {
		WriteBadRequest(w, "scenario_hash must be a hex sha256")
		return
	}

	results, err := h.store.List(r.Context(), hash)
	if err != nil {
		h.logger.Error("failed to list results", "error", err, "scenario_hash", hash)
		WriteInternalError(w, "Failed to list results")
		return
	}

	out := make([]ResultSummary, 0, len(results))
	for _, res := range results {
		out = append(out, summarize(res))
	}
	WriteJSON(w, http.StatusOK, out)
}

// Get handles GET /v1/results/{id} - returns a full result.
func (h *ResultHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "Result not found")
			return
		}
		h.logger.Error("failed to get result", "error", err, "result_id", id)
		WriteInternalError(w, "Failed to get result")
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
