package elasticsearch

import (
	"github.com/DeafMist/insight-dashboard/internal/config"
	"github.com/DeafMist/insight-dashboard/internal/models"
	"github.com/DeafMist/insight-dashboard/internal/query"
)

const (
	// defaultMaxBuckets bounds terms aggregations that want every group.
	defaultMaxBuckets = 10000

	aggValues = "values"
	aggGroups = "groups"
	aggAvg    = "avg_value"
)

// buildQuery translates filters into a bool filter query. No clause
// matches everything.
func buildQuery(filters query.Filters) map[string]any {
	return buildBoolQuery(filters, nil)
}

func buildBoolQuery(filters query.Filters, mustNot []map[string]any) map[string]any {
	clauses := filters.Clauses()
	if len(clauses) == 0 && len(mustNot) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}

	boolQuery := map[string]any{}
	if len(clauses) > 0 {
		filter := make([]map[string]any, 0, len(clauses))
		for _, clause := range clauses {
			filter = append(filter, clauseQuery(clause))
		}
		boolQuery["filter"] = filter
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}
	return map[string]any{"bool": boolQuery}
}

func clauseQuery(clause query.Clause) map[string]any {
	field := string(clause.Field)
	if clause.Filter.Kind == query.Exact {
		return map[string]any{
			"term": map[string]any{
				field: map[string]any{"value": clause.Filter.Value},
			},
		}
	}
	return map[string]any{
		"wildcard": map[string]any{
			field: map[string]any{
				"value":            "*" + query.EscapeWildcard(clause.Filter.Value) + "*",
				"case_insensitive": true,
			},
		},
	}
}

func listBody(filters query.Filters, page query.Page) map[string]any {
	return map[string]any{
		"from":             page.Skip,
		"size":             page.Limit,
		"track_total_hits": true,
		"query":            buildQuery(filters),
		"sort":             []any{"_doc"},
	}
}

func countBody(filters query.Filters) map[string]any {
	return map[string]any{"query": buildQuery(filters)}
}

func distinctBody(field query.Field, size int) map[string]any {
	return map[string]any{
		"size": 0,
		"aggs": map[string]any{
			aggValues: map[string]any{
				"terms": map[string]any{
					"field":   string(field),
					"size":    size,
					"order":   map[string]any{"_key": "asc"},
					"exclude": []string{""},
				},
			},
		},
	}
}

func aggregateBody(filters query.Filters) map[string]any {
	aggs := map[string]any{}
	for _, metric := range []query.Metric{query.Intensity, query.Likelihood, query.Relevance} {
		aggs["avg_"+string(metric)] = map[string]any{
			"avg": map[string]any{"field": string(metric)},
		}
	}
	return map[string]any{
		"size":             0,
		"track_total_hits": true,
		"query":            buildQuery(filters),
		"aggs":             aggs,
	}
}

func groupBody(filters query.Filters, spec query.GroupSpec, maxBuckets int) map[string]any {
	var mustNot []map[string]any
	if spec.SkipEmpty {
		mustNot = append(mustNot, map[string]any{
			"term": map[string]any{string(spec.Field): map[string]any{"value": ""}},
		})
	}

	size := maxBuckets
	if spec.TopN > 0 {
		size = spec.TopN
	}

	var order any
	if spec.Order == query.ByKeyAsc {
		order = map[string]any{"_key": "asc"}
	} else {
		order = []map[string]any{
			{"_count": "desc"},
			{"_key": "asc"},
		}
	}

	return map[string]any{
		"size":  0,
		"query": buildBoolQuery(filters, mustNot),
		"aggs": map[string]any{
			aggGroups: map[string]any{
				"terms": map[string]any{
					"field": string(spec.Field),
					"size":  size,
					"order": order,
				},
				"aggs": map[string]any{
					aggAvg: map[string]any{
						"avg": map[string]any{"field": string(spec.Average)},
					},
				},
			},
		},
	}
}

// indexDefinition is the settings and mapping the records index is created with.
func indexDefinition() map[string]any {
	props := make(map[string]any, len(models.CategoricalFields)+len(models.NumericFields))
	for _, field := range models.CategoricalFields {
		props[field] = map[string]any{"type": "keyword", "ignore_above": 8191}
	}
	for _, field := range models.NumericFields {
		props[field] = map[string]any{"type": "double"}
	}
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":  1,
			"max_result_window": config.MaxResultWindow,
		},
		"mappings": map[string]any{
			"dynamic":    false,
			"properties": props,
		},
	}
}
