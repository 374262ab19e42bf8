package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DeafMist/insight-dashboard/internal/insights"
)

const maxResponseBytes = 16 << 20

// Source is what a Session reads from.
type Source interface {
	FilterOptions(ctx context.Context) (*insights.FilterOptions, error)
	Stats(ctx context.Context, sel Selection) (*insights.Stats, error)
	Total(ctx context.Context, sel Selection) (int64, error)
}

// APIError is a failed or unsuccessful API response.
type APIError struct {
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Path, e.Status)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Path, e.Message, e.Status)
}

// Client calls the insights HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API at baseURL. A nil httpClient gets a
// default one with a 15s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// FilterOptions fetches the distinct values of every filterable field.
func (c *Client) FilterOptions(ctx context.Context) (*insights.FilterOptions, error) {
	var out struct {
		Filters *insights.FilterOptions `json:"filters"`
	}
	if err := c.get(ctx, "/filters", nil, &out); err != nil {
		return nil, err
	}
	if out.Filters == nil {
		out.Filters = &insights.FilterOptions{}
	}
	return out.Filters, nil
}

// Stats fetches the summary and distributions for sel.
func (c *Client) Stats(ctx context.Context, sel Selection) (*insights.Stats, error) {
	var out insights.Stats
	if err := c.get(ctx, "/stats", sel.Query(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Total fetches the number of records matching sel.
func (c *Client) Total(ctx context.Context, sel Selection) (int64, error) {
	values := sel.Query()
	values.Set("limit", "1")
	var out struct {
		Total int64 `json:"total"`
	}
	if err := c.get(ctx, "/data", values, &out); err != nil {
		return 0, err
	}
	return out.Total, nil
}

func (c *Client) get(ctx context.Context, path string, values url.Values, out any) error {
	target := c.base + path
	if len(values) > 0 {
		target += "?" + values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &APIError{Path: path, Status: res.StatusCode, Message: "invalid JSON response"}
	}
	if res.StatusCode != http.StatusOK || !env.Success {
		return &APIError{Path: path, Status: res.StatusCode, Message: env.Error}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	return nil
}
