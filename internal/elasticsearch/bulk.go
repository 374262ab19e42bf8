package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/DeafMist/insight-dashboard/internal/models"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

// ReplaceAll drops the records index, recreates it with the mapping and
// bulk-indexes records. The index is refreshed before returning so the
// batch is immediately searchable.
func (c *Client) ReplaceAll(ctx context.Context, records []models.Record) (int, error) {
	if err := c.checkOpen("replace"); err != nil {
		return 0, err
	}
	if err := c.dropIndex(ctx); err != nil {
		return 0, err
	}
	if err := c.createIndex(ctx); err != nil {
		return 0, err
	}
	c.log.Info("records index recreated", slog.String("index", c.index))

	indexed, err := c.bulkIndex(ctx, records)
	if err != nil {
		return indexed, err
	}

	if err := c.refresh(ctx); err != nil {
		return indexed, err
	}
	return indexed, nil
}

func (c *Client) dropIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete(
		[]string{c.index},
		c.es.Indices.Delete.WithContext(ctx),
		c.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return &query.ConnectionError{Op: "drop index", Err: err}
	}
	defer res.Body.Close()
	return responseError("drop index", res)
}

func (c *Client) createIndex(ctx context.Context) error {
	payload, err := json.Marshal(indexDefinition())
	if err != nil {
		return &query.QueryError{Op: "create index", Err: fmt.Errorf("marshal mapping: %w", err)}
	}

	res, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return &query.ConnectionError{Op: "create index", Err: err}
	}
	defer res.Body.Close()
	return responseError("create index", res)
}

func (c *Client) refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return &query.ConnectionError{Op: "refresh", Err: err}
	}
	defer res.Body.Close()
	return responseError("refresh", res)
}

func (c *Client) bulkIndex(ctx context.Context, records []models.Record) (int, error) {
	var (
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     c.es,
		Index:      c.index,
		NumWorkers: runtime.NumCPU(),
		FlushBytes: 5 << 20,
		OnError: func(_ context.Context, err error) {
			fail(&query.ConnectionError{Op: "bulk", Err: err})
		},
	})
	if err != nil {
		return 0, fmt.Errorf("create bulk indexer: %w", err)
	}

	for i := range records {
		rec := records[i]
		rec.ID = ""
		payload, err := json.Marshal(rec)
		if err != nil {
			_ = bi.Close(ctx)
			return 0, &query.QueryError{Op: "bulk", Err: fmt.Errorf("marshal record %d: %w", i, err)}
		}

		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(payload),
			OnFailure: func(_ context.Context, _ esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					fail(&query.ConnectionError{Op: "bulk", Err: err})
					return
				}
				fail(&query.QueryError{Op: "bulk", Err: fmt.Errorf("%s: %s", res.Error.Type, res.Error.Reason)})
			},
		})
		if err != nil {
			_ = bi.Close(ctx)
			return 0, &query.ConnectionError{Op: "bulk", Err: err}
		}
	}

	if err := bi.Close(ctx); err != nil {
		return 0, &query.ConnectionError{Op: "bulk", Err: err}
	}

	stats := bi.Stats()
	c.log.Info("bulk index finished",
		slog.Uint64("added", stats.NumAdded),
		slog.Uint64("indexed", stats.NumIndexed),
		slog.Uint64("failed", stats.NumFailed),
	)

	if stats.NumFailed > 0 || firstErr != nil {
		if firstErr == nil {
			firstErr = &query.QueryError{Op: "bulk", Err: fmt.Errorf("%d documents failed", stats.NumFailed)}
		}
		return int(stats.NumIndexed), fmt.Errorf("bulk index %d of %d failed: %w", stats.NumFailed, len(records), firstErr)
	}
	return int(stats.NumIndexed), nil
}
