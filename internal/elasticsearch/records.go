package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/models"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string        `json:"_id"`
			Source models.Record `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

type termsAggregation struct {
	Buckets []struct {
		Key      json.RawMessage `json:"key"`
		DocCount int64           `json:"doc_count"`
		Avg      *metricValue    `json:"avg_value"`
	} `json:"buckets"`
}

type metricValue struct {
	Value *float64 `json:"value"`
}

func (m *metricValue) float() float64 {
	if m == nil || m.Value == nil {
		return 0
	}
	return *m.Value
}

// search runs a request body against the records index. A missing index
// reads as an empty collection.
func (c *Client) search(ctx context.Context, op string, body map[string]any) (*searchResponse, error) {
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &query.QueryError{Op: op, Err: fmt.Errorf("marshal body: %w", err)}
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
		c.es.Search.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return nil, &query.ConnectionError{Op: op, Err: err}
	}
	defer res.Body.Close()

	if err := responseError(op, res); err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, &query.QueryError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &parsed, nil
}

// List returns a page of records matching filters and the total match count.
func (c *Client) List(ctx context.Context, filters query.Filters, page query.Page) ([]models.Record, int64, error) {
	page = page.Normalize()
	parsed, err := c.search(ctx, "list", listBody(filters, page))
	if err != nil {
		return nil, 0, err
	}

	items := make([]models.Record, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		rec := hit.Source
		rec.ID = hit.ID
		items = append(items, rec)
	}
	return items, parsed.Hits.Total.Value, nil
}

// Count returns the number of records matching filters.
func (c *Client) Count(ctx context.Context, filters query.Filters) (int64, error) {
	if err := c.checkOpen("count"); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(countBody(filters))
	if err != nil {
		return 0, &query.QueryError{Op: "count", Err: fmt.Errorf("marshal body: %w", err)}
	}

	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.index),
		c.es.Count.WithBody(bytes.NewReader(payload)),
		c.es.Count.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return 0, &query.ConnectionError{Op: "count", Err: err}
	}
	defer res.Body.Close()

	if err := responseError("count", res); err != nil {
		return 0, err
	}

	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, &query.QueryError{Op: "count", Err: fmt.Errorf("decode response: %w", err)}
	}
	return parsed.Count, nil
}

// DistinctValues returns the sorted non-empty distinct values of field.
func (c *Client) DistinctValues(ctx context.Context, field query.Field) ([]string, error) {
	parsed, err := c.search(ctx, "distinct", distinctBody(field, c.maxBuckets))
	if err != nil {
		return nil, err
	}

	terms, err := decodeTerms(parsed, aggValues)
	if err != nil {
		return nil, &query.QueryError{Op: "distinct", Err: err}
	}

	values := make([]string, 0, len(terms.Buckets))
	for _, b := range terms.Buckets {
		key, err := bucketKey(b.Key)
		if err != nil {
			return nil, &query.QueryError{Op: "distinct", Err: err}
		}
		if key != "" {
			values = append(values, key)
		}
	}
	sort.Strings(values)
	return values, nil
}

// Aggregate computes the match count and the means of the numeric fields.
func (c *Client) Aggregate(ctx context.Context, filters query.Filters) (query.Summary, error) {
	parsed, err := c.search(ctx, "aggregate", aggregateBody(filters))
	if err != nil {
		return query.Summary{}, err
	}

	total := parsed.Hits.Total.Value
	if total == 0 {
		return query.NoData(), nil
	}

	mean := func(metric query.Metric) (float64, error) {
		raw, ok := parsed.Aggregations["avg_"+string(metric)]
		if !ok {
			return 0, nil
		}
		var m metricValue
		if err := json.Unmarshal(raw, &m); err != nil {
			return 0, fmt.Errorf("decode %s average: %w", metric, err)
		}
		return m.float(), nil
	}

	var means query.Means
	if means.Intensity, err = mean(query.Intensity); err != nil {
		return query.Summary{}, &query.QueryError{Op: "aggregate", Err: err}
	}
	if means.Likelihood, err = mean(query.Likelihood); err != nil {
		return query.Summary{}, &query.QueryError{Op: "aggregate", Err: err}
	}
	if means.Relevance, err = mean(query.Relevance); err != nil {
		return query.Summary{}, &query.QueryError{Op: "aggregate", Err: err}
	}
	return query.NewSummary(total, means), nil
}

// GroupedDistribution computes per-key counts and averages for spec.
func (c *Client) GroupedDistribution(ctx context.Context, filters query.Filters, spec query.GroupSpec) ([]query.Bucket, error) {
	parsed, err := c.search(ctx, "group", groupBody(filters, spec, c.maxBuckets))
	if err != nil {
		return nil, err
	}

	terms, err := decodeTerms(parsed, aggGroups)
	if err != nil {
		return nil, &query.QueryError{Op: "group", Err: err}
	}

	buckets := make([]query.Bucket, 0, len(terms.Buckets))
	for _, b := range terms.Buckets {
		key, err := bucketKey(b.Key)
		if err != nil {
			return nil, &query.QueryError{Op: "group", Err: err}
		}
		buckets = append(buckets, query.Bucket{Key: key, Count: b.DocCount, Average: b.Avg.float()})
	}
	query.SortBuckets(buckets, spec.Order)
	return spec.Truncate(buckets), nil
}

func decodeTerms(parsed *searchResponse, name string) (*termsAggregation, error) {
	var terms termsAggregation
	raw, ok := parsed.Aggregations[name]
	if !ok {
		return &terms, nil
	}
	if err := json.Unmarshal(raw, &terms); err != nil {
		return nil, fmt.Errorf("decode %s aggregation: %w", name, err)
	}
	return &terms, nil
}

func bucketKey(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("unexpected bucket key %s", raw)
	}
	return n.String(), nil
}

var _ insights.Store = (*Client)(nil)
