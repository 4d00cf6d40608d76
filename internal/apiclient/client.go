// Package apiclient talks to a running Sourcebook server on behalf of the CLI.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/chat"
	"github.com/markdave123-py/Sourcebook/internal/core/ingestion_engine"
	"github.com/markdave123-py/Sourcebook/internal/core/upload"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

const serviceName = "sourcebook-api"

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		// No overall timeout: chat responses are streamed for as long as the model talks.
		httpClient = &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 5 * time.Minute}}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

var (
	_ chat.Transport         = (*Client)(nil)
	_ chat.ConversationStore = (*Client)(nil)
)

// UserID reads the owner id out of the bearer token without verifying it. The
// server does the verification; the CLI only needs the id to own uploaded sources.
func (c *Client) UserID() (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		return "", fmt.Errorf("parse API token: %w", err)
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", errors.New("API token carries no user_id or sub claim")
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// send performs the request and returns the response for any 2xx status.
// Other statuses are turned into errors carrying the server's {error} text.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.NewNetworkError(serviceName, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(resp)
}

func errorText(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

func statusError(resp *http.Response) error {
	msg := errorText(resp)
	cause := errors.New(msg)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return core.NewValidationError("", msg)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, core.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, core.ErrInvalidTransition)
	case http.StatusUnprocessableEntity:
		return &core.ExtractionError{Err: cause}
	}
	return core.NewStatusError(serviceName, resp.StatusCode, cause)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Stream opens POST /api/chat and hands back the raw event stream. Every
// non-200 answer, 400 included, comes back as a *core.TransientServiceError.
func (c *Client) Stream(ctx context.Context, in chat.Request) (io.ReadCloser, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.NewNetworkError(serviceName, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, core.NewStatusError(serviceName, resp.StatusCode, errors.New(errorText(resp)))
	}
	return resp.Body, nil
}

func (c *Client) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	in := map[string]string{"id": conv.ID, "workspaceId": conv.WorkspaceID, "title": conv.Title}
	return c.doJSON(ctx, http.MethodPost, "/api/conversations", in, nil)
}

func (c *Client) AppendMessage(ctx context.Context, msg *models.Message) error {
	return c.doJSON(ctx, http.MethodPost, "/api/conversations/"+msg.ConversationID+"/messages", msg, nil)
}

func (c *Client) ProcessDocument(ctx context.Context, sourceID string) (*ingestion_engine.ProcessResult, error) {
	var out ingestion_engine.ProcessResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/process-document", map[string]string{"sourceId": sourceID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) IngestWebsite(ctx context.Context, in ingestion_engine.WebsiteRequest) (*ingestion_engine.WebsiteResult, error) {
	var out ingestion_engine.WebsiteResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/ingest-website", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var out []models.Message
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSource(ctx context.Context, id string) (*models.KnowledgeSource, error) {
	var out models.KnowledgeSource
	if err := c.doJSON(ctx, http.MethodGet, "/api/sources/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSources(ctx context.Context) ([]models.KnowledgeSource, error) {
	var out []models.KnowledgeSource
	if err := c.doJSON(ctx, http.MethodGet, "/api/sources", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadFiles posts local files as one multipart batch.
func (c *Client) UploadFiles(ctx context.Context, paths []string) (*upload.Batch, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		for _, p := range paths {
			if err := copyPart(mw, p); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/sources/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.send(req)
	if err != nil {
		pr.Close()
		return nil, err
	}
	defer resp.Body.Close()

	var out upload.Batch
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &out, nil
}

func copyPart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// WaitForSource polls until the source reaches ready or error.
func (c *Client) WaitForSource(ctx context.Context, id string, every time.Duration) (*models.KnowledgeSource, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		src, err := c.GetSource(ctx, id)
		if err != nil {
			return nil, err
		}
		if src.Status.Terminal() {
			return src, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
