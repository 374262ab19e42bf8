package insights_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/insight-dashboard/internal/insights"
	"github.com/DeafMist/insight-dashboard/internal/memstore"
	"github.com/DeafMist/insight-dashboard/internal/models"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

func sampleRecords() []models.Record {
	return []models.Record{
		{EndYear: "2020", Topic: "oil", Sector: "Energy", Region: "Asia", Country: "India", Pestle: "Economic", Source: "Reuters", Swot: "Threat", City: "Delhi", Intensity: 6, Likelihood: 3, Relevance: 2},
		{EndYear: "2021", Topic: "gas", Sector: "Energy", Region: "Europe", Country: "Norway", Pestle: "Industries", Source: "EIA", Intensity: 4, Likelihood: 2, Relevance: 4},
		{EndYear: "", Topic: "oil", Sector: "", Region: "", Country: "", Pestle: "Economic", Intensity: 8, Likelihood: 4, Relevance: 3},
		{EndYear: "2020", Topic: "", Sector: "Retail", Region: "Asia", Country: "India", Source: "Reuters", Intensity: 2, Likelihood: 1, Relevance: 1},
	}
}

func TestListAppliesDefaults(t *testing.T) {
	svc := insights.NewService(memstore.New(sampleRecords()...), nil)

	result, err := svc.List(context.Background(), nil, query.Page{Limit: -1, Skip: -5})
	require.NoError(t, err)
	require.Equal(t, 1000, result.Limit)
	require.Equal(t, 0, result.Skip)
	require.Equal(t, int64(4), result.Total)
	require.Len(t, result.Records, 4)
}

func TestListEmptyStoreReturnsEmptySlice(t *testing.T) {
	svc := insights.NewService(memstore.New(), nil)

	result, err := svc.List(context.Background(), nil, query.Page{})
	require.NoError(t, err)
	require.NotNil(t, result.Records)
	require.Empty(t, result.Records)
	require.Zero(t, result.Total)
}

func TestFilterOptions(t *testing.T) {
	svc := insights.NewService(memstore.New(sampleRecords()...), nil)

	opts, err := svc.FilterOptions(context.Background())
	require.NoError(t, err)

	want := &insights.FilterOptions{
		EndYears:  []string{"2020", "2021"},
		Topics:    []string{"gas", "oil"},
		Sectors:   []string{"Energy", "Retail"},
		Regions:   []string{"Asia", "Europe"},
		Pestles:   []string{"Economic", "Industries"},
		Sources:   []string{"EIA", "Reuters"},
		Swots:     []string{"Threat"},
		Countries: []string{"India", "Norway"},
		Cities:    []string{"Delhi"},
	}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Fatalf("filter options mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"Delhi"}, opts.Options(query.City))
}

func TestFilterOptionsEmptyStore(t *testing.T) {
	svc := insights.NewService(memstore.New(), nil)

	opts, err := svc.FilterOptions(context.Background())
	require.NoError(t, err)
	for _, field := range query.FilterFields {
		values := opts.Options(field)
		require.NotNil(t, values, "field %s", field)
		require.Empty(t, values, "field %s", field)
	}
}

func TestStats(t *testing.T) {
	svc := insights.NewService(memstore.New(sampleRecords()...), nil)

	stats, err := svc.Stats(context.Background(), nil)
	require.NoError(t, err)

	require.True(t, stats.Summary.HasData())
	require.Equal(t, int64(4), stats.Summary.Count)
	intensity, _ := stats.Summary.Mean(query.Intensity)
	require.InDelta(t, 5.0, intensity, 1e-9)

	require.Equal(t, query.Topic, stats.Distributions.Topics.Field)
	require.Equal(t, query.Intensity, stats.Distributions.Topics.Average)
	require.Equal(t, []query.Bucket{
		{Key: "oil", Count: 2, Average: 7},
		{Key: "", Count: 1, Average: 2},
		{Key: "gas", Count: 1, Average: 4},
	}, stats.Distributions.Topics.Buckets)

	require.Equal(t, []query.Bucket{
		{Key: "India", Count: 2, Average: 1.5},
		{Key: "Norway", Count: 1, Average: 4},
	}, stats.Distributions.Countries.Buckets)

	require.Equal(t, query.Likelihood, stats.Distributions.Regions.Average)
	require.Equal(t, "2020", stats.Distributions.Years.Buckets[0].Key)
	require.Equal(t, "2021", stats.Distributions.Years.Buckets[1].Key)
}

func TestStatsTopicsSumToListTotal(t *testing.T) {
	svc := insights.NewService(memstore.New(sampleRecords()...), nil)
	ctx := context.Background()

	for _, raw := range []map[query.Field]string{
		{},
		{query.Topic: "oil"},
		{query.EndYear: "2020"},
		{query.Region: "as", query.Source: "reut"},
	} {
		filters := query.FromRaw(raw)
		stats, err := svc.Stats(ctx, filters)
		require.NoError(t, err)
		list, err := svc.List(ctx, filters, query.Page{})
		require.NoError(t, err)

		var sum int64
		for _, b := range stats.Distributions.Topics.Buckets {
			sum += b.Count
		}
		require.Equal(t, list.Total, sum, "filters %v", raw)
		if list.Total > 0 {
			require.Equal(t, list.Total, stats.Summary.Count)
		}
	}
}

func TestStatsEmptyStore(t *testing.T) {
	svc := insights.NewService(memstore.New(), nil)

	stats, err := svc.Stats(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, stats.Summary.HasData())
	require.NotNil(t, stats.Distributions.Topics.Buckets)
	require.Empty(t, stats.Distributions.Years.Buckets)
}

func TestStoreErrorsPropagate(t *testing.T) {
	store := memstore.New(sampleRecords()...)
	store.FailWith(&query.ConnectionError{Op: "search", Err: errors.New("refused")})
	svc := insights.NewService(store, nil)
	ctx := context.Background()

	_, err := svc.List(ctx, nil, query.Page{})
	require.True(t, query.IsConnection(err))

	_, err = svc.FilterOptions(ctx)
	require.True(t, query.IsConnection(err))

	_, err = svc.Stats(ctx, nil)
	require.True(t, query.IsConnection(err))

	diag, err := svc.Diagnostics(ctx)
	require.Error(t, err)
	require.NotNil(t, diag)
}

func TestDistributionsByName(t *testing.T) {
	var d insights.Distributions
	for _, spec := range query.StatsDistributions {
		dist, ok := d.ByName(spec.Name)
		require.True(t, ok, spec.Name)
		require.NotNil(t, dist)
	}
	_, ok := d.ByName("cities")
	require.False(t, ok)
}

type countingStore struct {
	*memstore.Store
	calls atomic.Int32
}

func (c *countingStore) Aggregate(ctx context.Context, filters query.Filters) (query.Summary, error) {
	c.calls.Add(1)
	return c.Store.Aggregate(ctx, filters)
}

func (c *countingStore) GroupedDistribution(ctx context.Context, filters query.Filters, spec query.GroupSpec) ([]query.Bucket, error) {
	c.calls.Add(1)
	return c.Store.GroupedDistribution(ctx, filters, spec)
}

func TestStatsUnknownDistributionStartsNoQueries(t *testing.T) {
	saved := query.StatsDistributions
	t.Cleanup(func() { query.StatsDistributions = saved })
	query.StatsDistributions = append(append([]query.GroupSpec{}, saved...), query.GroupSpec{Name: "cities", Field: query.City})

	store := &countingStore{Store: memstore.New(sampleRecords()...)}
	_, err := insights.NewService(store, nil).Stats(context.Background(), nil)
	require.ErrorContains(t, err, `unknown distribution "cities"`)
	require.Zero(t, store.calls.Load())
}
