package elasticsearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/insight-dashboard/internal/query"
)

// errClosed is returned by operations on a closed client.
var errClosed = errors.New("client closed")

// Client wraps go-elasticsearch with the record store operations.
type Client struct {
	es         *elasticsearch.Client
	transport  *http.Transport
	addr       string
	index      string
	maxBuckets int
	log        *slog.Logger
	closed     atomic.Bool
}

// New instantiates the Elasticsearch client. No request is made until the
// first operation; use WaitReady to verify connectivity at startup.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	cfg := elasticsearch.Config{
		Addresses:    []string{addr},
		Transport:    transport,
		DisableRetry: true,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		es:         es,
		transport:  transport,
		addr:       addr,
		index:      index,
		maxBuckets: defaultMaxBuckets,
		log:        logger,
	}, nil
}

// Index returns the name of the records index.
func (c *Client) Index() string {
	return c.index
}

// Close releases pooled connections. Operations after Close fail with a
// ConnectionError.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.transport.CloseIdleConnections()
	c.log.Debug("elasticsearch client closed")
	return nil
}

func (c *Client) checkOpen(op string) error {
	if c.closed.Load() {
		return &query.ConnectionError{Op: op, Err: errClosed}
	}
	return nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkOpen("ping"); err != nil {
		return err
	}
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return &query.ConnectionError{Op: "ping", Err: err}
	}
	defer res.Body.Close()

	if res.IsError() {
		return &query.ConnectionError{Op: "ping", Err: fmt.Errorf("status %s", res.Status())}
	}

	return nil
}

// WaitReady pings the cluster until it answers, backing off exponentially
// between attempts up to 30s.
func (c *Client) WaitReady(ctx context.Context, maxRetries int, delay time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = c.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			c.log.Info("connected to elasticsearch", slog.String("addr", c.addr), slog.String("index", c.index))
			return nil
		}
		if attempt == maxRetries {
			break
		}

		c.log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", lastErr),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}

	return fmt.Errorf("elasticsearch not ready after %d attempts: %w", maxRetries, lastErr)
}

// Health checks cluster health.
func (c *Client) Health(ctx context.Context) error {
	if err := c.checkOpen("health"); err != nil {
		return err
	}
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return &query.ConnectionError{Op: "health", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return &query.ConnectionError{Op: "health", Err: fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))}
	}
	return nil
}

// responseError classifies a failed response. Gateway and availability
// statuses mean the store is unreachable; anything else is a rejected query.
func responseError(op string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	data, _ := io.ReadAll(res.Body)
	cause := fmt.Errorf("%s: %s", res.Status(), strings.TrimSpace(string(data)))
	switch res.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &query.ConnectionError{Op: op, Err: cause}
	}
	return &query.QueryError{Op: op, Err: cause}
}
