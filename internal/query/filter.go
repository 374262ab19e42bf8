package query

import (
	"net/url"
	"strings"
)

// Sentinel is the filter value meaning "do not restrict by this field".
const Sentinel = "all"

// Field names a filterable categorical record field.
type Field string

const (
	EndYear Field = "end_year"
	Topic   Field = "topic"
	Sector  Field = "sector"
	Region  Field = "region"
	Pestle  Field = "pestle"
	Source  Field = "source"
	Swot    Field = "swot"
	Country Field = "country"
	City    Field = "city"
)

// FilterFields lists every filterable field in canonical order.
var FilterFields = []Field{EndYear, Topic, Sector, Region, Pestle, Source, Swot, Country, City}

// Valid reports whether f is one of the filterable fields.
func (f Field) Valid() bool {
	for _, known := range FilterFields {
		if f == known {
			return true
		}
	}
	return false
}

// Kind tags how a filter restricts its field.
type Kind int

const (
	Unset Kind = iota
	Exact
	Contains
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Contains:
		return "contains"
	default:
		return "unset"
	}
}

// Filter is a single field restriction.
type Filter struct {
	Kind  Kind
	Value string
}

// Matches applies the filter to a field value the way the store does:
// exact equality or case-insensitive literal substring.
func (f Filter) Matches(value string) bool {
	switch f.Kind {
	case Exact:
		return value == f.Value
	case Contains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(f.Value))
	default:
		return true
	}
}

// Build classifies a raw input value for field. Sentinel and empty input
// yield an Unset filter.
func Build(field Field, raw string) Filter {
	if raw == "" || raw == Sentinel {
		return Filter{}
	}
	if field == EndYear {
		return Filter{Kind: Exact, Value: raw}
	}
	return Filter{Kind: Contains, Value: raw}
}

// Filters is the full set of field restrictions for one request.
// The zero value matches every record.
type Filters map[Field]Filter

// Clause is an active restriction on one field.
type Clause struct {
	Field  Field
	Filter Filter
}

// FromRaw builds filters from raw per-field input.
func FromRaw(raw map[Field]string) Filters {
	out := make(Filters, len(raw))
	for field, value := range raw {
		if !field.Valid() {
			continue
		}
		if f := Build(field, value); f.Kind != Unset {
			out[field] = f
		}
	}
	return out
}

// Parse builds filters from query-string parameters, one key per field.
func Parse(values url.Values) Filters {
	raw := make(map[Field]string, len(FilterFields))
	for _, field := range FilterFields {
		raw[field] = values.Get(string(field))
	}
	return FromRaw(raw)
}

// Clauses returns the active restrictions in canonical field order.
func (f Filters) Clauses() []Clause {
	out := make([]Clause, 0, len(f))
	for _, field := range FilterFields {
		if filter, ok := f[field]; ok && filter.Kind != Unset {
			out = append(out, Clause{Field: field, Filter: filter})
		}
	}
	return out
}

// Empty reports whether no restriction is active.
func (f Filters) Empty() bool {
	return len(f.Clauses()) == 0
}

// Encode renders the active restrictions back into query-string form.
func (f Filters) Encode() url.Values {
	values := url.Values{}
	for _, clause := range f.Clauses() {
		values.Set(string(clause.Field), clause.Filter.Value)
	}
	return values
}

// EscapeWildcard escapes characters that carry meaning in a wildcard
// pattern so user input is matched literally.
func EscapeWildcard(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch r {
		case '\\', '*', '?':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
