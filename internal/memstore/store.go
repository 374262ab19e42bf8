// Package memstore is an in-memory record store with the same query
// semantics as the Elasticsearch index. Tests use it in place of a cluster.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/models"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

// CollectionName is reported by Diagnostics.
const CollectionName = "datapoints"

// Store keeps records in insertion order.
type Store struct {
	mu      sync.RWMutex
	records []models.Record
	err     error
	nextID  int
}

// New returns a store holding records.
func New(records ...models.Record) *Store {
	s := &Store{}
	s.load(records)
	return s
}

// ReplaceAll clears the store and inserts records.
func (s *Store) ReplaceAll(_ context.Context, records []models.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.records = nil
	s.load(records)
	return len(records), nil
}

func (s *Store) load(records []models.Record) {
	for _, rec := range records {
		s.nextID++
		rec.ID = strconv.Itoa(s.nextID)
		s.records = append(s.records, rec)
	}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Store) match(filters query.Filters) ([]models.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	clauses := filters.Clauses()
	out := make([]models.Record, 0, len(s.records))
	for _, rec := range s.records {
		if matchesAll(&rec, clauses) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matchesAll(rec *models.Record, clauses []query.Clause) bool {
	for _, c := range clauses {
		value, _ := rec.Text(string(c.Field))
		if !c.Filter.Matches(value) {
			return false
		}
	}
	return true
}

// List implements insights.Store.
func (s *Store) List(ctx context.Context, filters query.Filters, page query.Page) ([]models.Record, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(filters)
	if err != nil {
		return nil, 0, err
	}
	page = page.Normalize()
	total := int64(len(matched))
	if page.Skip >= len(matched) {
		return []models.Record{}, total, nil
	}
	end := page.Skip + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[page.Skip:end], total, nil
}

// Count implements insights.Store.
func (s *Store) Count(ctx context.Context, filters query.Filters) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(filters)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// DistinctValues implements insights.Store.
func (s *Store) DistinctValues(ctx context.Context, field query.Field) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, s.err
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for i := range s.records {
		value, ok := s.records[i].Text(string(field))
		if !ok {
			return nil, &query.QueryError{Op: "distinct", Err: fmt.Errorf("unknown field %q", field)}
		}
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out, nil
}

// Aggregate implements insights.Store.
func (s *Store) Aggregate(ctx context.Context, filters query.Filters) (query.Summary, error) {
	if err := ctx.Err(); err != nil {
		return query.Summary{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(filters)
	if err != nil {
		return query.Summary{}, err
	}
	if len(matched) == 0 {
		return query.NoData(), nil
	}
	var sum query.Means
	for _, rec := range matched {
		sum.Intensity += rec.Intensity
		sum.Likelihood += rec.Likelihood
		sum.Relevance += rec.Relevance
	}
	n := float64(len(matched))
	return query.NewSummary(int64(len(matched)), query.Means{
		Intensity:  sum.Intensity / n,
		Likelihood: sum.Likelihood / n,
		Relevance:  sum.Relevance / n,
	}), nil
}

// GroupedDistribution implements insights.Store: group, aggregate, sort, limit.
func (s *Store) GroupedDistribution(ctx context.Context, filters query.Filters, spec query.GroupSpec) ([]query.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.match(filters)
	if err != nil {
		return nil, err
	}

	type acc struct {
		count int64
		sum   float64
	}
	groups := make(map[string]*acc)
	order := make([]string, 0)
	for i := range matched {
		key, ok := matched[i].Text(string(spec.Field))
		if !ok {
			return nil, &query.QueryError{Op: "group", Err: fmt.Errorf("unknown field %q", spec.Field)}
		}
		if spec.SkipEmpty && key == "" {
			continue
		}
		value, ok := matched[i].Number(string(spec.Average))
		if !ok {
			return nil, &query.QueryError{Op: "group", Err: fmt.Errorf("unknown metric %q", spec.Average)}
		}
		g, exists := groups[key]
		if !exists {
			g = &acc{}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
		g.sum += value
	}

	buckets := make([]query.Bucket, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		buckets = append(buckets, query.Bucket{Key: key, Count: g.count, Average: g.sum / float64(g.count)})
	}
	query.SortBuckets(buckets, spec.Order)
	return spec.Truncate(buckets), nil
}

// Diagnostics implements insights.Store.
func (s *Store) Diagnostics(ctx context.Context) (*insights.Diagnostics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diag := &insights.Diagnostics{
		Timestamp:  time.Now().UTC(),
		Connection: insights.ConnectionInfo{Status: "connected", Address: "memory"},
		Collection: insights.CollectionInfo{Name: CollectionName, Count: int64(len(s.records))},
	}
	if err := ctx.Err(); err != nil {
		diag.Connection.Status = "disconnected"
		diag.Error = err.Error()
		return diag, err
	}
	if s.err != nil {
		diag.Connection.Status = "disconnected"
		diag.Error = s.err.Error()
		return diag, s.err
	}
	diag.Collections = []insights.CollectionInfo{diag.Collection}
	if len(s.records) == 0 {
		diag.Error = fmt.Sprintf("collection %q is empty, check the data import", CollectionName)
		return diag, nil
	}
	first := s.records[0]
	keys := append(append([]string{}, models.CategoricalFields...), models.NumericFields...)
	sort.Strings(keys)
	diag.Sample = &insights.SampleInfo{
		Keys:          keys,
		HasIntensity:  true,
		HasLikelihood: true,
		HasRelevance:  true,
		Intensity:     first.Intensity,
		Likelihood:    first.Likelihood,
		Relevance:     first.Relevance,
		Topic:         first.Topic,
		Country:       first.Country,
	}
	return diag, nil
}

// Health reports the injected failure, if any.
func (s *Store) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
