package socrata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shanemeister/ChicagoDataPortal/internal/ingest/normalize"
)

const (
	// PageMax is the Socrata per-request row cap.
	PageMax = 50000

	// DefaultPageSize keeps individual responses small enough to stream.
	DefaultPageSize = 5000

	// DefaultMaxRetries bounds retry attempts for transient failures.
	DefaultMaxRetries = 3

	// DefaultBackoff is the initial retry delay, doubled on each attempt.
	DefaultBackoff = 1500 * time.Millisecond
)

// Row is one raw dataset record as served by the portal.
type Row map[string]any

// Request describes one dataset query: column selection, ordering, a SoQL
// $where predicate, and an optional overall row limit (0 means unbounded).
type Request struct {
	DatasetID string
	Select    string
	Order     string
	Where     string
	Limit     int
}

// Client is an HTTP client for Socrata open-data portals with paging and
// bounded retry support. It holds no incident-domain state.
type Client struct {
	baseURL    string
	appToken   string
	pageSize   int
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
}

// Option tunes a Client.
type Option func(*Client)

// WithAppToken sets the X-App-Token header for higher rate limits.
func WithAppToken(token string) Option {
	return func(c *Client) { c.appToken = token }
}

// WithPageSize sets rows requested per call, capped at PageMax.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = min(n, PageMax)
		}
	}
}

// WithRetry sets the retry attempt budget and the initial backoff.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the given portal base URL, e.g.
// "https://data.cityofchicago.org".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		pageSize:   DefaultPageSize,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForEachRow streams rows for the request, handling paging automatically. The
// callback is invoked once per row in portal order; returning an error stops
// the scan and propagates. Paging stops when a page comes back short or the
// overall limit is reached.
func (c *Client) ForEachRow(ctx context.Context, req Request, fn func(Row) error) error {
	fetched := 0
	offset := 0

	for {
		fetchSize := c.pageSize
		if req.Limit > 0 {
			remaining := req.Limit - fetched
			if remaining <= 0 {
				return nil
			}
			fetchSize = min(fetchSize, remaining)
		}

		rows, err := c.getPage(ctx, req, fetchSize, offset)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			if req.Limit > 0 && fetched >= req.Limit {
				return nil
			}
			if err := fn(row); err != nil {
				return err
			}
			fetched++
			offset++
		}

		if len(rows) < fetchSize {
			return nil
		}
	}
}

// retryable HTTP outcomes: too-many-requests and the 5xx family.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// statusError marks a response that may be retried.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("socrata status %d", e.code)
}

func (c *Client) getPage(ctx context.Context, req Request, limit, offset int) ([]Row, error) {
	params := url.Values{}
	if req.Select != "" {
		params.Set("$select", req.Select)
	}
	if req.Order != "" {
		params.Set("$order", req.Order)
	}
	if req.Where != "" {
		params.Set("$where", req.Where)
	}
	params.Set("$limit", strconv.Itoa(limit))
	params.Set("$offset", strconv.Itoa(offset))

	fullURL := fmt.Sprintf("%s/resource/%s.json?%s", c.baseURL, req.DatasetID, params.Encode())

	attempt := 0
	backoff := c.backoff
	for {
		attempt++
		rows, err := c.doGet(ctx, fullURL, req, offset, limit)
		if err == nil {
			return rows, nil
		}

		var se *statusError
		if errors.As(err, &se) && !retryableStatus(se.code) {
			return nil, err
		}
		if attempt > c.maxRetries {
			return nil, fmt.Errorf("socrata fetch failed after %d attempts: %w", attempt, err)
		}

		normalize.LogRetry("socrata", attempt, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

func (c *Client) doGet(ctx context.Context, fullURL string, req Request, offset, limit int) ([]Row, error) {
	start := time.Now()
	normalize.LogRequest("socrata", "GET", c.baseURL+"/resource/"+req.DatasetID+".json", map[string]interface{}{
		"offset": offset,
		"limit":  limit,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.appToken != "" {
		httpReq.Header.Set("X-App-Token", c.appToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("socrata request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode}
	}

	var rows []Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode socrata response: %w", err)
	}

	normalize.LogResponse("socrata", resp.StatusCode, time.Since(start), len(rows))
	return rows, nil
}
