package insights

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/insight-dashboard/internal/models"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

// Store is the record store contract the service depends on.
type Store interface {
	List(ctx context.Context, filters query.Filters, page query.Page) ([]models.Record, int64, error)
	Count(ctx context.Context, filters query.Filters) (int64, error)
	DistinctValues(ctx context.Context, field query.Field) ([]string, error)
	Aggregate(ctx context.Context, filters query.Filters) (query.Summary, error)
	GroupedDistribution(ctx context.Context, filters query.Filters, spec query.GroupSpec) ([]query.Bucket, error)
	Diagnostics(ctx context.Context) (*Diagnostics, error)
}

// ListResult is one page of matching records.
type ListResult struct {
	Records []models.Record `json:"data"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Skip    int             `json:"skip"`
}

// FilterOptions carries the distinct values of every filterable field.
type FilterOptions struct {
	EndYears  []string `json:"endYears"`
	Topics    []string `json:"topics"`
	Sectors   []string `json:"sectors"`
	Regions   []string `json:"regions"`
	Pestles   []string `json:"pestles"`
	Sources   []string `json:"sources"`
	Swots     []string `json:"swots"`
	Countries []string `json:"countries"`
	Cities    []string `json:"cities"`
}

// Options returns the option list for a filter field.
func (o *FilterOptions) Options(field query.Field) []string {
	if p := o.slot(field); p != nil {
		return *p
	}
	return nil
}

func (o *FilterOptions) slot(field query.Field) *[]string {
	switch field {
	case query.EndYear:
		return &o.EndYears
	case query.Topic:
		return &o.Topics
	case query.Sector:
		return &o.Sectors
	case query.Region:
		return &o.Regions
	case query.Pestle:
		return &o.Pestles
	case query.Source:
		return &o.Sources
	case query.Swot:
		return &o.Swots
	case query.Country:
		return &o.Countries
	case query.City:
		return &o.Cities
	}
	return nil
}

// Distribution is one grouped distribution with the fields it was built from.
type Distribution struct {
	Field   query.Field    `json:"field"`
	Average query.Metric   `json:"avgField"`
	Buckets []query.Bucket `json:"buckets"`
}

// Distributions groups the breakdowns served on the stats endpoint.
type Distributions struct {
	Topics    Distribution `json:"topics"`
	Countries Distribution `json:"countries"`
	Regions   Distribution `json:"regions"`
	Sectors   Distribution `json:"sectors"`
	Years     Distribution `json:"years"`
}

// ByName returns the distribution registered under a GroupSpec name.
func (d *Distributions) ByName(name string) (*Distribution, bool) {
	switch name {
	case query.TopicDistribution.Name:
		return &d.Topics, true
	case query.CountryDistribution.Name:
		return &d.Countries, true
	case query.RegionDistribution.Name:
		return &d.Regions, true
	case query.SectorDistribution.Name:
		return &d.Sectors, true
	case query.YearDistribution.Name:
		return &d.Years, true
	}
	return nil, false
}

// Stats is the aggregate summary plus the grouped distributions.
type Stats struct {
	Summary       query.Summary `json:"stats"`
	Distributions Distributions `json:"distributions"`
}

// Diagnostics describes the store for operational debugging.
type Diagnostics struct {
	Success     bool             `json:"success"`
	Timestamp   time.Time        `json:"timestamp"`
	Connection  ConnectionInfo   `json:"connection"`
	Collections []CollectionInfo `json:"collections"`
	Collection  CollectionInfo   `json:"collection"`
	Sample      *SampleInfo      `json:"sampleData"`
	Error       string           `json:"error,omitempty"`
}

// ConnectionInfo summarises store connectivity.
type ConnectionInfo struct {
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
	Cluster string `json:"cluster,omitempty"`
	Version string `json:"version,omitempty"`
	Health  string `json:"health,omitempty"`
}

// CollectionInfo is a collection name with its document count.
type CollectionInfo struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// SampleInfo reports which fields a sample record carries.
type SampleInfo struct {
	Keys          []string `json:"keys"`
	HasIntensity  bool     `json:"hasIntensity"`
	HasLikelihood bool     `json:"hasLikelihood"`
	HasRelevance  bool     `json:"hasRelevance"`
	Intensity     float64  `json:"intensity"`
	Likelihood    float64  `json:"likelihood"`
	Relevance     float64  `json:"relevance"`
	Topic         string   `json:"topic"`
	Country       string   `json:"country"`
}

// Service composes store queries into endpoint payloads.
type Service struct {
	store Store
	log   *slog.Logger
}

// NewService wires a service over store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: store, log: logger}
}

// List returns one page of records matching filters plus the total match count.
func (s *Service) List(ctx context.Context, filters query.Filters, page query.Page) (*ListResult, error) {
	page = page.Normalize()
	records, total, err := s.store.List(ctx, filters, page)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	if records == nil {
		records = []models.Record{}
	}
	return &ListResult{Records: records, Total: total, Limit: page.Limit, Skip: page.Skip}, nil
}

// FilterOptions enumerates the distinct values of all filterable fields
// concurrently.
func (s *Service) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	opts := &FilterOptions{}
	g, gctx := errgroup.WithContext(ctx)

	for _, field := range query.FilterFields {
		slot := opts.slot(field)
		g.Go(func() error {
			values, err := s.store.DistinctValues(gctx, field)
			if err != nil {
				return fmt.Errorf("distinct %s: %w", field, err)
			}
			if values == nil {
				values = []string{}
			}
			*slot = values
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Stats computes the summary and the grouped distributions for filters.
func (s *Service) Stats(ctx context.Context, filters query.Filters) (*Stats, error) {
	stats := &Stats{}
	targets := make([]*Distribution, len(query.StatsDistributions))
	for i, spec := range query.StatsDistributions {
		dist, ok := stats.Distributions.ByName(spec.Name)
		if !ok {
			return nil, fmt.Errorf("unknown distribution %q", spec.Name)
		}
		dist.Field = spec.Field
		dist.Average = spec.Average
		targets[i] = dist
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, err := s.store.Aggregate(gctx, filters)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		stats.Summary = summary
		return nil
	})

	for i, spec := range query.StatsDistributions {
		dist := targets[i]
		g.Go(func() error {
			buckets, err := s.store.GroupedDistribution(gctx, filters, spec)
			if err != nil {
				return fmt.Errorf("distribution %s: %w", spec.Name, err)
			}
			if buckets == nil {
				buckets = []query.Bucket{}
			}
			dist.Buckets = buckets
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Debug("stats computed",
		slog.Int("clauses", len(filters.Clauses())),
		slog.Int64("records", stats.Summary.Count),
	)
	return stats, nil
}

// Diagnostics reports store connectivity and collection details.
func (s *Service) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	diag, err := s.store.Diagnostics(ctx)
	if err != nil {
		return diag, fmt.Errorf("diagnostics: %w", err)
	}
	return diag, nil
}
