package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	appMiddleware "github.com/markdave123-py/Sourcebook/internal/api/middlewares"
	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/ingestion_engine"
	"github.com/markdave123-py/Sourcebook/internal/core/upload"
	"github.com/markdave123-py/Sourcebook/internal/services"
)

type DocumentHandler struct {
	sources         *services.SourceService
	maxRequestBytes int64
}

// NewDocumentHandler caps upload request bodies at maxRequestBytes; zero disables the cap.
func NewDocumentHandler(sources *services.SourceService, maxRequestBytes int64) *DocumentHandler {
	return &DocumentHandler{sources: sources, maxRequestBytes: maxRequestBytes}
}

func (h *DocumentHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := appMiddleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "user_id not found in context", http.StatusUnauthorized)
	}
	return id, ok
}

// UploadSources runs the upload coordinator over the multipart "files" field.
func (h *DocumentHandler) UploadSources(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if h.maxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, core.NewValidationError("files", "invalid multipart form: "+err.Error()))
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, core.NewValidationError("files", "no files provided"))
		return
	}

	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, multipartFile(fh))
	}

	batch := h.sources.Upload(r.Context(), userID, files)
	writeJSON(w, http.StatusOK, batch)
}

func multipartFile(fh *multipart.FileHeader) upload.File {
	contentType := fh.Header.Get("Content-Type")
	return upload.File{
		Name:        filepath.Base(fh.Filename),
		Size:        fh.Size,
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func (h *DocumentHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	out, err := h.sources.ListByOwner(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *DocumentHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	src, err := h.sources.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

type processRequest struct {
	SourceID string `json:"sourceId"`
}

// ProcessDocument ingests one source synchronously: {success, chunkCount, textLength} or {error}.
func (h *DocumentHandler) ProcessDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.sources.Process(r.Context(), userID, req.SourceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"sourceId":   res.SourceID,
		"chunkCount": res.ChunkCount,
		"textLength": res.TextLength,
	})
}

// IngestWebsite crawls and ingests a URL. userId defaults to the token subject.
func (h *DocumentHandler) IngestWebsite(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req ingestion_engine.WebsiteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = userID
	}

	res, err := h.sources.IngestWebsite(r.Context(), req)
	if err != nil {
		body := map[string]any{"success": false, "error": err.Error()}
		if res != nil {
			body["sourceId"] = res.SourceID
		}
		writeJSON(w, core.HTTPStatus(err), body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"sourceId":   res.SourceID,
		"chunkCount": res.ChunkCount,
		"pageCount":  res.PageCount,
		"textLength": res.TextLength,
	})
}
