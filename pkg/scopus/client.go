package scopus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	errs "scopusharvest/pkg/errors"
	"scopusharvest/pkg/logger"
)

const emptyResultMessage = "Result set was empty"

// ClientConfig configures a search client
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	InstToken string
	UserAgent string
	Timeout   time.Duration
	Query     Query
	// HTTPClient overrides the default client built from Timeout
	HTTPClient *http.Client
}

// Client fetches search result pages. It does not rate limit by itself.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	query      Query
	logger     logger.Logger
}

// NewClient creates a new search API client
func NewClient(cfg ClientConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	headers := map[string]string{
		"Accept":     "application/json",
		HeaderAPIKey: cfg.APIKey,
	}
	if cfg.InstToken != "" {
		headers[HeaderInstToken] = cfg.InstToken
	}
	if cfg.UserAgent != "" {
		headers["User-Agent"] = cfg.UserAgent
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		httpClient: httpClient,
		headers:    headers,
		baseURL:    baseURL,
		query:      cfg.Query,
		logger:     log,
	}
}

// Query returns the search the client pages through
func (c *Client) Query() Query {
	return c.query
}

// Fetch requests the page at cursor
func (c *Client) Fetch(ctx context.Context, cursor string) (*Page, error) {
	url := SearchURL(c.baseURL, c.query, cursor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, 0, "failed to create request", err)
	}

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errs.Wrap(errs.ErrorTypeNetwork, resp.StatusCode, "failed to read response body", err)
	}

	if err := c.checkResponseStatus(resp, body); err != nil {
		return nil, err
	}

	page, err := c.parsePage(body, cursor)
	if err != nil {
		c.logger.ErrorWithFields("failed to parse search response", map[string]interface{}{
			"cursor":       cursor,
			"error":        err.Error(),
			"body_preview": preview(body),
		})
		return nil, err
	}
	page.QuotaRemaining = headerInt(resp.Header, HeaderRateLimitRemaining)

	c.logger.DebugWithFields("fetched search page", map[string]interface{}{
		"cursor":          cursor,
		"records":         len(page.Records),
		"has_more":        page.HasMore,
		"total_results":   page.TotalResults,
		"quota_remaining": page.QuotaRemaining,
	})
	return page, nil
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		// an interrupted run is not a network failure
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      redact(req.URL.String()),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, 0, "network error", err)
	}

	logger.LogRequest(c.logger, req.Method, redact(req.URL.String()), resp.StatusCode, duration)
	return resp, nil
}

// checkResponseStatus maps non-200 responses to typed errors
func (c *Client) checkResponseStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	message := apiMessage(body)
	fields := map[string]interface{}{
		"status":  resp.StatusCode,
		"message": message,
	}

	switch errs.TypeForStatus(resp.StatusCode) {
	case errs.ErrorTypeRateLimit:
		logger.LogRateLimit(c.logger, resp.Header.Get("Retry-After"), resp.Header.Get(HeaderRateLimitReset))
		return errs.New(errs.ErrorTypeRateLimit, resp.StatusCode, "rate limit exceeded: "+message)
	case errs.ErrorTypeServerError:
		c.logger.ErrorWithFields("server error", fields)
		return errs.New(errs.ErrorTypeServerError, resp.StatusCode, "server error: "+message)
	case errs.ErrorTypeAuth:
		c.logger.ErrorWithFields("authentication error", fields)
		return errs.New(errs.ErrorTypeAuth, resp.StatusCode, "API key rejected: "+message)
	case errs.ErrorTypeBadRequest:
		// an expired or unknown cursor comes back as a plain 400
		if strings.Contains(strings.ToLower(message), "cursor") {
			c.logger.ErrorWithFields("cursor rejected", fields)
			return errs.New(errs.ErrorTypeCursorExpired, resp.StatusCode, message)
		}
		c.logger.ErrorWithFields("malformed query", fields)
		return errs.New(errs.ErrorTypeBadRequest, resp.StatusCode, "bad request: "+message)
	case errs.ErrorTypeNotFound:
		c.logger.ErrorWithFields("resource not found", fields)
		return errs.New(errs.ErrorTypeNotFound, resp.StatusCode, "resource not found")
	default:
		c.logger.ErrorWithFields("unexpected API error", fields)
		return errs.New(errs.ErrorTypeUnknown, resp.StatusCode, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}
}

func (c *Client) parsePage(body []byte, cursor string) (*Page, error) {
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, http.StatusOK, "failed to parse JSON", err)
	}
	if sr.SearchResults == nil {
		return nil, errs.New(errs.ErrorTypeParsing, http.StatusOK, "response has no search-results object")
	}

	results := sr.SearchResults
	var entries []json.RawMessage
	if len(results.Entry) == 0 || bytes.Equal(results.Entry, []byte("null")) {
		return nil, errs.New(errs.ErrorTypeParsing, http.StatusOK, "response has no entry list")
	}
	if err := json.Unmarshal(results.Entry, &entries); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, http.StatusOK, "entry is not an array", err)
	}
	if isEmptyResultSet(entries) {
		entries = nil
	}

	page := &Page{
		Records:    entries,
		NextCursor: results.Cursor.Next,
	}
	page.HasMore = len(entries) > 0 && page.NextCursor != "" && page.NextCursor != cursor
	if results.TotalResults != "" {
		if n, err := strconv.ParseInt(results.TotalResults, 10, 64); err == nil {
			page.TotalResults = n
		}
	}
	return page, nil
}

// isEmptyResultSet detects the single placeholder entry sent for no matches
func isEmptyResultSet(entries []json.RawMessage) bool {
	if len(entries) != 1 {
		return false
	}
	var f recordFields
	if err := json.Unmarshal(entries[0], &f); err != nil {
		return false
	}
	return f.Error == emptyResultMessage
}

func apiMessage(body []byte) string {
	var se serviceError
	if err := json.Unmarshal(body, &se); err == nil {
		if msg := se.message(); msg != "" {
			return msg
		}
	}
	return preview(body)
}

func preview(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func headerInt(h http.Header, key string) int {
	v := h.Get(key)
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// redact drops the cursor token from logged URLs
func redact(u string) string {
	if i := strings.Index(u, "cursor="); i >= 0 {
		end := strings.IndexByte(u[i:], '&')
		if end < 0 {
			return u[:i] + "cursor=..."
		}
		return u[:i] + "cursor=..." + u[i+end:]
	}
	return u
}

// IsContextError reports whether err came from cancellation
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
