package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://api.notion.com"
	defaultAPIVersion = "2022-06-28"
	maxRetryAfter     = time.Minute
)

// NotionOpts configures a [NotionClient].
type NotionOpts struct {
	BaseURL    string
	Token      string
	Version    string
	Timeout    time.Duration
	MaxRetries int           // additional attempts after the first
	RateLimit  float64       // requests per second, 0 disables limiting
	BaseDelay  time.Duration // first backoff delay, doubled per attempt
	MaxDelay   time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// NotionClient implements [RemoteTree] against the Notion REST API.
//
// Requests carry a bearer token through an [oauth2.Transport], are paced by a
// client-side [rate.Limiter] and retried with exponential backoff on network
// errors, 429 and 5xx responses.
type NotionClient struct {
	baseURL    string
	version    string
	httpClient *http.Client
	plain      *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *log.Logger
}

// NewNotionClient creates a client from opts, filling in defaults.
func NewNotionClient(opts NotionOpts) *NotionClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = defaultAPIVersion
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 600 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: opts.Timeout}
	}
	plain := *base

	authed := *base
	if opts.Token != "" {
		transport := base.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		authed.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &NotionClient{
		baseURL:    baseURL,
		version:    version,
		httpClient: &authed,
		plain:      &plain,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		logger:     opts.Logger,
	}
}

// APIError is a non-retryable error response from the remote.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion: status=%d message=%s", e.Status, e.Message)
}

// Unwrap maps the status onto the shared sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return shared.ErrAuthFailed
	case http.StatusNotFound:
		return shared.ErrNotFound
	default:
		return shared.ErrAPIRequest
	}
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		e.Code = parsed.Code
		if strings.TrimSpace(parsed.Message) != "" {
			e.Message = parsed.Message
		}
	}
	return e
}

// encoder produces a fresh request body for each attempt.
type encoder func() (io.Reader, string, error)

func jsonBody(v any) (encoder, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return func() (io.Reader, string, error) {
		return bytes.NewReader(data), "application/json", nil
	}, nil
}

func (c *NotionClient) do(ctx context.Context, method, path string, body, out any) error {
	enc, err := jsonBody(body)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, enc, out)
}

func (c *NotionClient) send(ctx context.Context, method, path string, enc encoder, out any) error {
	endpoint := c.baseURL + path
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		contentType := ""
		if enc != nil {
			r, ct, err := enc()
			if err != nil {
				return err
			}
			reader, contentType = r, ct
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Notion-Version", c.version)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		var respBody []byte
		if err == nil {
			respBody, err = io.ReadAll(resp.Body)
			resp.Body.Close()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < c.maxRetries {
				c.logger.Debug("retrying request", "method", method, "path", path, "attempt", attempt+1, "err", err)
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%w: %s %s: %v", shared.ErrTransientRemote, method, path, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%w: decode %s response: %v", shared.ErrAPIRequest, path, err)
			}
			return nil
		}

		if retryable(resp.StatusCode) {
			if attempt < c.maxRetries {
				c.logger.Debug("retrying request", "method", method, "path", path, "status", resp.StatusCode, "attempt", attempt+1)
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%w: %s %s: %v", shared.ErrTransientRemote, method, path, newAPIError(resp.StatusCode, respBody))
		}

		return newAPIError(resp.StatusCode, respBody)
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func (c *NotionClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, maxRetryAfter)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetPage implements [RemoteTree].
func (c *NotionClient) GetPage(ctx context.Context, id string) (*Page, error) {
	var page Page
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+url.PathEscape(id), nil, &page); err != nil {
		return nil, fmt.Errorf("get page %s: %w", id, err)
	}
	page.Title = TitleFromProperties(page.Properties)
	return &page, nil
}

// GetBlock implements [RemoteTree].
func (c *NotionClient) GetBlock(ctx context.Context, id string) (*models.Node, error) {
	var node models.Node
	if err := c.do(ctx, http.MethodGet, "/v1/blocks/"+url.PathEscape(id), nil, &node); err != nil {
		return nil, fmt.Errorf("get block %s: %w", id, err)
	}
	return &node, nil
}

type remoteDatabase struct {
	ID         string                           `json:"id"`
	Title      []models.RichText                `json:"title"`
	Properties map[string]models.PropertySchema `json:"properties"`
}

func (d remoteDatabase) model() *models.Database {
	props := make(map[string]models.PropertySchema, len(d.Properties))
	for name, p := range d.Properties {
		if p.Name == "" {
			p.Name = name
		}
		props[name] = p
	}
	return &models.Database{ID: d.ID, Title: models.PlainText(d.Title), Properties: props}
}

// GetDatabase implements [RemoteTree].
func (c *NotionClient) GetDatabase(ctx context.Context, id string) (*models.Database, error) {
	var db remoteDatabase
	if err := c.do(ctx, http.MethodGet, "/v1/databases/"+url.PathEscape(id), nil, &db); err != nil {
		return nil, fmt.Errorf("get database %s: %w", id, err)
	}
	return db.model(), nil
}

// ListChildren implements [RemoteTree].
func (c *NotionClient) ListChildren(ctx context.Context, id, cursor string) (*ChildrenPage, error) {
	q := url.Values{"page_size": {"100"}}
	if cursor != "" {
		q.Set("start_cursor", cursor)
	}

	var page ChildrenPage
	path := "/v1/blocks/" + url.PathEscape(id) + "/children?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("list children of %s: %w", id, err)
	}
	return &page, nil
}

type idList struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

// AppendChildren implements [RemoteTree].
func (c *NotionClient) AppendChildren(ctx context.Context, parentID string, children []Block) ([]string, error) {
	if len(children) > AppendLimit {
		return nil, fmt.Errorf("%w: %d blocks (limit %d)", shared.ErrBatchTooLarge, len(children), AppendLimit)
	}

	var resp idList
	body := map[string]any{"children": children}
	if err := c.do(ctx, http.MethodPatch, "/v1/blocks/"+url.PathEscape(parentID)+"/children", body, &resp); err != nil {
		return nil, fmt.Errorf("append %d blocks to %s: %w", len(children), parentID, err)
	}

	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ID
	}
	return ids, nil
}

func titleProperty(title string) []map[string]any {
	return []map[string]any{{"type": "text", "text": map[string]any{"content": title}}}
}

// CreatePage implements [RemoteTree].
func (c *NotionClient) CreatePage(ctx context.Context, parentID, title string, children []Block) (string, error) {
	body := map[string]any{
		"parent":     map[string]any{"page_id": parentID},
		"properties": map[string]any{"title": map[string]any{"title": titleProperty(title)}},
	}
	if len(children) > 0 {
		body["children"] = children
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &resp); err != nil {
		return "", fmt.Errorf("create page under %s: %w", parentID, err)
	}
	return resp.ID, nil
}

// CreateDatabase implements [RemoteTree].
func (c *NotionClient) CreateDatabase(ctx context.Context, parentID, title string, schema map[string]any) (*models.Database, error) {
	body := map[string]any{
		"parent":     map[string]any{"type": "page_id", "page_id": parentID},
		"title":      titleProperty(title),
		"properties": schema,
	}

	var db remoteDatabase
	if err := c.do(ctx, http.MethodPost, "/v1/databases", body, &db); err != nil {
		return nil, fmt.Errorf("create database under %s: %w", parentID, err)
	}
	return db.model(), nil
}

// QueryEntries implements [RemoteTree].
func (c *NotionClient) QueryEntries(ctx context.Context, databaseID, cursor string) (*EntriesPage, error) {
	body := map[string]any{"page_size": 100}
	if cursor != "" {
		body["start_cursor"] = cursor
	}

	var page EntriesPage
	if err := c.do(ctx, http.MethodPost, "/v1/databases/"+url.PathEscape(databaseID)+"/query", body, &page); err != nil {
		return nil, fmt.Errorf("query database %s: %w", databaseID, err)
	}
	return &page, nil
}

// CreateEntry implements [RemoteTree].
func (c *NotionClient) CreateEntry(ctx context.Context, databaseID string, properties map[string]any) (string, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &resp); err != nil {
		return "", fmt.Errorf("create entry in %s: %w", databaseID, err)
	}
	return resp.ID, nil
}

// IsFatal reports whether err should abort a whole job rather than a single item.
func IsFatal(err error) bool {
	return errors.Is(err, shared.ErrAuthFailed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
