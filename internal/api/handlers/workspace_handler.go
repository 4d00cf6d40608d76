package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appMiddleware "github.com/markdave123-py/Sourcebook/internal/api/middlewares"
	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/services"
)

type WorkspaceHandler struct {
	workspaces *services.WorkspaceService
}

func NewWorkspaceHandler(workspaces *services.WorkspaceService) *WorkspaceHandler {
	return &WorkspaceHandler{workspaces: workspaces}
}

func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := appMiddleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var in services.CreateWorkspaceInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	ws, err := h.workspaces.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())
	ws, err := h.workspaces.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

type setSourceRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetSource links a source to the workspace or toggles it. enabled defaults to true.
func (h *WorkspaceHandler) SetSource(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())
	var req setSourceRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	enabled := req.Enabled == nil || *req.Enabled

	workspaceID, sourceID := chi.URLParam(r, "id"), chi.URLParam(r, "sourceId")
	if err := h.workspaces.SetSource(r.Context(), userID, workspaceID, sourceID, enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workspace_id": workspaceID,
		"source_id":    sourceID,
		"enabled":      enabled,
	})
}

// Search exposes retrieval for debugging ranking: ?q=...&limit=N.
func (h *WorkspaceHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, core.NewValidationError("limit", "must be an integer"))
			return
		}
		limit = n
	}

	hits, err := h.workspaces.Search(r.Context(), userID, chi.URLParam(r, "id"), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}
