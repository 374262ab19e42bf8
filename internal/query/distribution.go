package query

import "sort"

// Default paging for list queries.
const (
	DefaultLimit = 1000
	DefaultSkip  = 0
)

// Page bounds a list query.
type Page struct {
	Limit int
	Skip  int
}

// Normalize applies the defaults to non-positive limits and negative skips.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Skip < 0 {
		p.Skip = DefaultSkip
	}
	return p
}

// Metric names a numeric record field that can be averaged.
type Metric string

const (
	Intensity  Metric = "intensity"
	Likelihood Metric = "likelihood"
	Relevance  Metric = "relevance"
)

// Order selects how buckets of a grouped distribution are sorted.
type Order int

const (
	// ByCountDesc sorts by bucket size, largest first, ties broken by key.
	ByCountDesc Order = iota
	// ByKeyAsc sorts by group key.
	ByKeyAsc
)

// GroupSpec describes one grouped distribution.
type GroupSpec struct {
	Name      string
	Field     Field
	Average   Metric
	TopN      int
	Order     Order
	SkipEmpty bool
}

// Bucket is a single group of a grouped distribution.
type Bucket struct {
	Key     string  `json:"key"`
	Count   int64   `json:"count"`
	Average float64 `json:"avg"`
}

// Distributions served alongside the summary on the stats endpoint.
var (
	TopicDistribution   = GroupSpec{Name: "topics", Field: Topic, Average: Intensity, TopN: 10}
	CountryDistribution = GroupSpec{Name: "countries", Field: Country, Average: Relevance, TopN: 10, SkipEmpty: true}
	RegionDistribution  = GroupSpec{Name: "regions", Field: Region, Average: Likelihood, SkipEmpty: true}
	SectorDistribution  = GroupSpec{Name: "sectors", Field: Sector, Average: Intensity, SkipEmpty: true}
	YearDistribution    = GroupSpec{Name: "years", Field: EndYear, Average: Intensity, Order: ByKeyAsc, SkipEmpty: true}
)

// StatsDistributions lists the distributions in response order.
var StatsDistributions = []GroupSpec{
	TopicDistribution,
	CountryDistribution,
	RegionDistribution,
	SectorDistribution,
	YearDistribution,
}

// SortBuckets orders buckets according to o.
func SortBuckets(buckets []Bucket, o Order) {
	sort.SliceStable(buckets, func(i, j int) bool {
		if o == ByKeyAsc {
			return buckets[i].Key < buckets[j].Key
		}
		if buckets[i].Count == buckets[j].Count {
			return buckets[i].Key < buckets[j].Key
		}
		return buckets[i].Count > buckets[j].Count
	})
}

// Truncate applies the top-N limit of the spec.
func (s GroupSpec) Truncate(buckets []Bucket) []Bucket {
	if s.TopN > 0 && len(buckets) > s.TopN {
		return buckets[:s.TopN]
	}
	return buckets
}
