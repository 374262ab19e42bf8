package dashboard

import (
	"net/url"
	"strings"

	"github.com/DeafMist/insight-dashboard/internal/query"
)

// Selection is the filter state chosen on the page: one value per filterable
// field, query.Sentinel meaning no restriction.
type Selection map[query.Field]string

// NewSelection returns a selection with every field unrestricted.
func NewSelection() Selection {
	s := make(Selection, len(query.FilterFields))
	for _, field := range query.FilterFields {
		s[field] = query.Sentinel
	}
	return s
}

// SelectionFromQuery reads a selection from submitted form values.
func SelectionFromQuery(values url.Values) Selection {
	s := NewSelection()
	for _, field := range query.FilterFields {
		if v := strings.TrimSpace(values.Get(string(field))); v != "" {
			s[field] = v
		}
	}
	return s
}

// Value returns the selected value of field, query.Sentinel when unset.
func (s Selection) Value(field query.Field) string {
	if v, ok := s[field]; ok && v != "" {
		return v
	}
	return query.Sentinel
}

// Clone returns an independent copy of s.
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// With returns a copy of s with field set to value.
func (s Selection) With(field query.Field, value string) Selection {
	out := s.Clone()
	out[field] = value
	return out
}

// Filters converts the selection into query filters.
func (s Selection) Filters() query.Filters {
	return query.FromRaw(s)
}

// Query encodes the active restrictions, omitting unrestricted fields.
func (s Selection) Query() url.Values {
	return s.Filters().Encode()
}

// Active reports how many fields are restricted.
func (s Selection) Active() int {
	return len(s.Filters().Clauses())
}
