package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/models"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

// Diagnostics collects connectivity, index and sample-record information.
// The returned value is filled as far as the store allowed even when an
// error is returned.
func (c *Client) Diagnostics(ctx context.Context) (*insights.Diagnostics, error) {
	diag := &insights.Diagnostics{
		Timestamp:   time.Now().UTC(),
		Connection:  insights.ConnectionInfo{Status: "disconnected", Address: c.addr},
		Collections: []insights.CollectionInfo{},
		Collection:  insights.CollectionInfo{Name: c.index},
	}

	fail := func(err error) (*insights.Diagnostics, error) {
		diag.Error = err.Error()
		return diag, err
	}

	if err := c.info(ctx, &diag.Connection); err != nil {
		return fail(err)
	}
	diag.Connection.Status = "connected"

	health, err := c.clusterHealth(ctx)
	if err != nil {
		return fail(err)
	}
	diag.Connection.Health = health

	collections, err := c.catIndices(ctx)
	if err != nil {
		return fail(err)
	}
	diag.Collections = collections

	count, err := c.Count(ctx, nil)
	if err != nil {
		return fail(err)
	}
	diag.Collection.Count = count
	if count == 0 {
		diag.Error = fmt.Sprintf("index %q is missing or empty, check the data import", c.index)
		return diag, nil
	}

	sample, err := c.sample(ctx)
	if err != nil {
		return fail(err)
	}
	diag.Sample = sample
	return diag, nil
}

func (c *Client) info(ctx context.Context, conn *insights.ConnectionInfo) error {
	if err := c.checkOpen("info"); err != nil {
		return err
	}
	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return &query.ConnectionError{Op: "info", Err: err}
	}
	defer res.Body.Close()
	if err := responseError("info", res); err != nil {
		return err
	}

	var parsed struct {
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return &query.QueryError{Op: "info", Err: fmt.Errorf("decode response: %w", err)}
	}
	conn.Cluster = parsed.ClusterName
	conn.Version = parsed.Version.Number
	return nil
}

func (c *Client) clusterHealth(ctx context.Context) (string, error) {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return "", &query.ConnectionError{Op: "health", Err: err}
	}
	defer res.Body.Close()
	if err := responseError("health", res); err != nil {
		return "", err
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", &query.QueryError{Op: "health", Err: fmt.Errorf("decode response: %w", err)}
	}
	return parsed.Status, nil
}

func (c *Client) catIndices(ctx context.Context) ([]insights.CollectionInfo, error) {
	res, err := c.es.Cat.Indices(
		c.es.Cat.Indices.WithContext(ctx),
		c.es.Cat.Indices.WithFormat("json"),
	)
	if err != nil {
		return nil, &query.ConnectionError{Op: "cat indices", Err: err}
	}
	defer res.Body.Close()
	if err := responseError("cat indices", res); err != nil {
		return nil, err
	}

	var rows []struct {
		Index     string `json:"index"`
		DocsCount string `json:"docs.count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, &query.QueryError{Op: "cat indices", Err: fmt.Errorf("decode response: %w", err)}
	}

	out := make([]insights.CollectionInfo, 0, len(rows))
	for _, row := range rows {
		if strings.HasPrefix(row.Index, ".") {
			continue
		}
		count, _ := strconv.ParseInt(row.DocsCount, 10, 64)
		out = append(out, insights.CollectionInfo{Name: row.Index, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Client) sample(ctx context.Context) (*insights.SampleInfo, error) {
	parsed, err := c.rawSample(ctx)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return nil, nil
	}

	keys := make([]string, 0, len(parsed))
	for key := range parsed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	info := &insights.SampleInfo{Keys: keys}
	_, info.HasIntensity = parsed["intensity"]
	_, info.HasLikelihood = parsed["likelihood"]
	_, info.HasRelevance = parsed["relevance"]

	data, err := json.Marshal(parsed)
	if err != nil {
		return nil, &query.QueryError{Op: "sample", Err: err}
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &query.QueryError{Op: "sample", Err: err}
	}
	info.Intensity = rec.Intensity
	info.Likelihood = rec.Likelihood
	info.Relevance = rec.Relevance
	info.Topic = rec.Topic
	info.Country = rec.Country
	return info, nil
}

// rawSample returns the untyped source of the first document, nil when the
// index holds none.
func (c *Client) rawSample(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := c.checkOpen("sample"); err != nil {
		return nil, err
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithSize(1),
		c.es.Search.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return nil, &query.ConnectionError{Op: "sample", Err: err}
	}
	defer res.Body.Close()
	if err := responseError("sample", res); err != nil {
		return nil, err
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source map[string]json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, &query.QueryError{Op: "sample", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Hits.Hits) == 0 {
		return nil, nil
	}
	return parsed.Hits.Hits[0].Source, nil
}
