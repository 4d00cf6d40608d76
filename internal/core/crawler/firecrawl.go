// Package crawler talks to a Firecrawl-compatible scrape/crawl job API.
package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/metrics"
)

const serviceName = "crawl"

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxAttempts  = 30
	DefaultPageLimit    = 20
	DefaultMaxDepth     = 2
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	PollInterval time.Duration
	MaxAttempts  int
	PageLimit    int
	MaxDepth     int
}

type Page struct {
	URL      string
	Title    string
	Markdown string
}

type Result struct {
	URL   string
	Title string
	Text  string
	Pages []Page
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   httpClient,
		PollInterval: DefaultPollInterval,
		MaxAttempts:  DefaultMaxAttempts,
		PageLimit:    DefaultPageLimit,
		MaxDepth:     DefaultMaxDepth,
	}
}

// NormalizeURL prefixes https:// when the URL has no scheme.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return u
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return u
}

// Fetch scrapes a single page, or crawls the site when crawlSubpages is set.
// followSitemap is accepted for API compatibility and currently has no effect.
func (c *Client) Fetch(ctx context.Context, rawURL string, crawlSubpages, followSitemap bool) (*Result, error) {
	target := NormalizeURL(rawURL)
	if target == "" {
		return nil, core.NewValidationError("url", "is required")
	}
	if crawlSubpages {
		return c.crawl(ctx, target)
	}
	return c.scrape(ctx, target)
}

type pageMetadata struct {
	Title     string `json:"title"`
	SourceURL string `json:"sourceURL"`
}

type pageData struct {
	Markdown string       `json:"markdown"`
	Metadata pageMetadata `json:"metadata"`
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type scrapeResponse struct {
	Success bool     `json:"success"`
	Data    pageData `json:"data"`
	Error   string   `json:"error"`
}

func (c *Client) scrape(ctx context.Context, target string) (*Result, error) {
	var resp scrapeResponse
	body := scrapeRequest{URL: target, Formats: []string{"markdown"}, OnlyMainContent: true}
	if err := c.do(ctx, http.MethodPost, "/v1/scrape", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("scrape %s: %s", target, orDefault(resp.Error, "unsuccessful response"))
	}

	metrics.CrawledPages.WithLabelValues("scrape").Inc()
	page := Page{URL: orDefault(resp.Data.Metadata.SourceURL, target), Title: resp.Data.Metadata.Title, Markdown: resp.Data.Markdown}
	return &Result{URL: target, Title: page.Title, Text: page.Markdown, Pages: []Page{page}}, nil
}

type crawlRequest struct {
	URL           string        `json:"url"`
	Limit         int           `json:"limit"`
	MaxDepth      int           `json:"maxDepth"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type scrapeOptions struct {
	Formats []string `json:"formats"`
}

type crawlSubmitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type crawlStatusResponse struct {
	Status string     `json:"status"`
	Data   []pageData `json:"data"`
	Error  string     `json:"error"`
}

func (c *Client) crawl(ctx context.Context, target string) (*Result, error) {
	var submit crawlSubmitResponse
	req := crawlRequest{
		URL:           target,
		Limit:         c.PageLimit,
		MaxDepth:      c.MaxDepth,
		ScrapeOptions: scrapeOptions{Formats: []string{"markdown"}},
	}
	if err := c.do(ctx, http.MethodPost, "/v1/crawl", req, &submit); err != nil {
		return nil, err
	}
	if !submit.Success || submit.ID == "" {
		return nil, fmt.Errorf("crawl %s: %s", target, orDefault(submit.Error, "job was not accepted"))
	}
	logger.Info("crawl job submitted", zap.String("url", target), zap.String("job_id", submit.ID))

	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.PollInterval):
		}

		var status crawlStatusResponse
		if err := c.do(ctx, http.MethodGet, "/v1/crawl/"+submit.ID, nil, &status); err != nil {
			return nil, err
		}

		switch status.Status {
		case "completed":
			return assemble(target, status.Data), nil
		case "failed", "cancelled":
			return nil, fmt.Errorf("crawl %s %s: %s", submit.ID, status.Status, orDefault(status.Error, "no detail"))
		}
		logger.Debug("crawl job pending", zap.String("job_id", submit.ID), zap.Int("attempt", attempt), zap.String("status", status.Status))
	}
	return nil, fmt.Errorf("crawl %s did not complete after %d attempts", submit.ID, c.MaxAttempts)
}

func assemble(target string, data []pageData) *Result {
	res := &Result{URL: target}
	var sections []string
	for _, d := range data {
		p := Page{URL: orDefault(d.Metadata.SourceURL, target), Title: d.Metadata.Title, Markdown: d.Markdown}
		res.Pages = append(res.Pages, p)
		sections = append(sections, fmt.Sprintf("--- Page: %s ---\n\n%s", p.URL, p.Markdown))
	}
	if len(res.Pages) > 0 {
		res.Title = res.Pages[0].Title
	}
	res.Text = strings.Join(sections, "\n\n")
	metrics.CrawledPages.WithLabelValues("crawl").Add(float64(len(res.Pages)))
	return res
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.NewNetworkError(serviceName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.NewNetworkError(serviceName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return core.NewStatusError(serviceName, resp.StatusCode, errors.New(orDefault(eb.Error, http.StatusText(resp.StatusCode))))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
