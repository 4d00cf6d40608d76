package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	appMiddleware "github.com/markdave123-py/Sourcebook/internal/api/middlewares"
	"github.com/markdave123-py/Sourcebook/internal/models"
	"github.com/markdave123-py/Sourcebook/internal/services"
)

type ConversationHandler struct {
	conversations *services.ConversationService
}

func NewConversationHandler(conversations *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

type createConversationRequest struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID, _ := appMiddleware.UserIDFromContext(r.Context())
	conv, err := h.conversations.Create(r.Context(), userID, models.Conversation{
		ID:          req.ID,
		WorkspaceID: req.WorkspaceID,
		Title:       req.Title,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())
	out, err := h.conversations.List(r.Context(), userID, r.URL.Query().Get("workspaceId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := appMiddleware.UserIDFromContext(r.Context())
	out, err := h.conversations.Messages(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ConversationHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := decodeJSON(r, &msg); err != nil {
		writeError(w, err)
		return
	}
	msg.ConversationID = chi.URLParam(r, "id")

	userID, _ := appMiddleware.UserIDFromContext(r.Context())
	saved, err := h.conversations.Append(r.Context(), userID, msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}
