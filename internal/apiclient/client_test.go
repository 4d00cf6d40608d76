package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/chat"
	"github.com/markdave123-py/Sourcebook/internal/core/ingestion_engine"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

type fakeServer struct {
	mu       sync.Mutex
	convs    []map[string]string
	messages []models.Message
	auth     []string
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var req chat.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, `{"error":"bad"}`, http.StatusBadRequest)
			return
		}
		if req.WorkspaceID == "busy" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"slow down"}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Mitochondria \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"make ATP [Cell Biology].\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("POST /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.convs = append(f.convs, in)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(in)
	})
	mux.HandleFunc("POST /api/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var msg models.Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		msg.ConversationID = r.PathValue("id")
		f.mu.Lock()
		f.messages = append(f.messages, msg)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(msg)
	})
	mux.HandleFunc("POST /api/process-document", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		switch in["sourceId"] {
		case "missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"source missing: not found"}`))
		case "empty":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"no text"}`))
		default:
			_, _ = w.Write([]byte(`{"success":true,"sourceId":"s1","chunkCount":3,"textLength":2400}`))
		}
	})
	mux.HandleFunc("POST /api/ingest-website", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"success":false,"error":"crawl: quota_exceeded","sourceId":"s9"}`))
	})
	mux.HandleFunc("POST /api/sources/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fh := r.MultipartForm.File["files"]
		_, _ = fmt.Fprintf(w, `{"files":[{"name":%q,"status":"processing","sourceId":"s1"}],"sourceIds":["s1"]}`, fh[0].Filename)
	})
	return mux
}

func (f *fakeServer) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
}

func newTestClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok", srv.Client()), fs
}

func TestThreadOverHTTP(t *testing.T) {
	c, fs := newTestClient(t)

	thread := chat.NewThread(c, c, "w1", models.ModeStudy)
	var streamed string
	thread.OnDelta = func(_, content string) { streamed = content }

	msg, err := thread.Send(context.Background(), "What do mitochondria do?")
	require.NoError(t, err)
	assert.Equal(t, "Mitochondria make ATP [Cell Biology].", msg.Content)
	assert.Equal(t, msg.Content, streamed)
	require.Len(t, msg.Citations, 1)
	assert.Equal(t, "Cell Biology", msg.Citations[0].Title)

	require.Len(t, fs.convs, 1)
	assert.Equal(t, thread.ConversationID, fs.convs[0]["id"])
	assert.Equal(t, "w1", fs.convs[0]["workspaceId"])

	require.Len(t, fs.messages, 2)
	assert.Equal(t, models.RoleUser, fs.messages[0].Role)
	assert.Equal(t, models.RoleAssistant, fs.messages[1].Role)
	for _, h := range fs.auth {
		assert.Equal(t, "Bearer tok", h)
	}
}

func TestStreamMapsStatusToTransientError(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Stream(context.Background(), chat.Request{
		WorkspaceID: "busy",
		Messages:    []core.ChatMessage{{Role: models.RoleUser, Content: "hi"}},
	})
	var te *core.TransientServiceError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, core.CategoryRateLimited, te.Category)
	assert.Contains(t, te.Error(), "slow down")

	_, err = c.Stream(context.Background(), chat.Request{WorkspaceID: "w1"})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.Status)
}

func TestProcessDocument(t *testing.T) {
	c, _ := newTestClient(t)

	res, err := c.ProcessDocument(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ChunkCount)
	assert.Equal(t, 2400, res.TextLength)

	_, err = c.ProcessDocument(context.Background(), "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	_, err = c.ProcessDocument(context.Background(), "empty")
	var ee *core.ExtractionError
	assert.ErrorAs(t, err, &ee)
}

func TestIngestWebsiteQuota(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.IngestWebsite(context.Background(), ingestion_engine.WebsiteRequest{URL: "example.com"})
	var te *core.TransientServiceError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, core.CategoryQuotaExceeded, te.Category)
}

func TestUserIDFromToken(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "user-7"}).SignedString([]byte("k"))
	require.NoError(t, err)
	id, err := New("http://localhost", signed, nil).UserID()
	require.NoError(t, err)
	assert.Equal(t, "user-7", id)

	signed, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-8"}).SignedString([]byte("k"))
	require.NoError(t, err)
	id, err = New("http://localhost", signed, nil).UserID()
	require.NoError(t, err)
	assert.Equal(t, "user-8", id)

	_, err = New("http://localhost", "not-a-jwt", nil).UserID()
	assert.Error(t, err)
}

func TestUploadFiles(t *testing.T) {
	c, _ := newTestClient(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Cells divide."), 0o644))

	batch, err := c.UploadFiles(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, batch.Files, 1)
	assert.Equal(t, "notes.txt", batch.Files[0].Name)
	assert.Equal(t, []string{"s1"}, batch.SourceIDs)

	_, err = c.UploadFiles(context.Background(), []string{filepath.Join(t.TempDir(), "nope.txt")})
	assert.Error(t, err)
}

