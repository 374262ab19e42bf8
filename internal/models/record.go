package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is one insight data point as stored in the datapoints index.
// Every field has a zero default so queries never special-case absence.
type Record struct {
	ID         string  `json:"id,omitempty"`
	EndYear    string  `json:"end_year"`
	Intensity  float64 `json:"intensity"`
	Sector     string  `json:"sector"`
	Topic      string  `json:"topic"`
	Insight    string  `json:"insight"`
	URL        string  `json:"url"`
	Region     string  `json:"region"`
	StartYear  string  `json:"start_year"`
	Impact     string  `json:"impact"`
	Added      string  `json:"added"`
	Published  string  `json:"published"`
	Country    string  `json:"country"`
	Relevance  float64 `json:"relevance"`
	Pestle     string  `json:"pestle"`
	Source     string  `json:"source"`
	Title      string  `json:"title"`
	Likelihood float64 `json:"likelihood"`
	City       string  `json:"city"`
	Swot       string  `json:"swot"`
}

// CategoricalFields lists the string-valued fields in their storage order.
var CategoricalFields = []string{
	"end_year", "sector", "topic", "insight", "url", "region", "start_year", "impact",
	"added", "published", "country", "pestle", "source", "title", "city", "swot",
}

// NumericFields lists the number-valued fields.
var NumericFields = []string{"intensity", "likelihood", "relevance"}

// Text returns the value of a categorical field by its JSON name.
func (r *Record) Text(field string) (string, bool) {
	p := r.textField(field)
	if p == nil {
		return "", false
	}
	return *p, true
}

// Number returns the value of a numeric field by its JSON name.
func (r *Record) Number(field string) (float64, bool) {
	p := r.numberField(field)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// SetText assigns a categorical field by its JSON name. Unknown names are
// reported as false and leave the record untouched.
func (r *Record) SetText(field, value string) bool {
	p := r.textField(field)
	if p == nil {
		return false
	}
	*p = value
	return true
}

func (r *Record) textField(field string) *string {
	switch field {
	case "end_year":
		return &r.EndYear
	case "sector":
		return &r.Sector
	case "topic":
		return &r.Topic
	case "insight":
		return &r.Insight
	case "url":
		return &r.URL
	case "region":
		return &r.Region
	case "start_year":
		return &r.StartYear
	case "impact":
		return &r.Impact
	case "added":
		return &r.Added
	case "published":
		return &r.Published
	case "country":
		return &r.Country
	case "pestle":
		return &r.Pestle
	case "source":
		return &r.Source
	case "title":
		return &r.Title
	case "city":
		return &r.City
	case "swot":
		return &r.Swot
	}
	return nil
}

func (r *Record) numberField(field string) *float64 {
	switch field {
	case "intensity":
		return &r.Intensity
	case "likelihood":
		return &r.Likelihood
	case "relevance":
		return &r.Relevance
	}
	return nil
}

// UnmarshalJSON decodes a record leniently: numbers given where text is
// expected are formatted, and "", null or numeric strings are accepted for
// numeric fields. Keys outside the schema are ignored.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	*r = Record{}
	for _, field := range CategoricalFields {
		value, ok := raw[field]
		if !ok {
			continue
		}
		text, err := decodeText(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		*r.textField(field) = text
	}
	for _, field := range NumericFields {
		value, ok := raw[field]
		if !ok {
			continue
		}
		number, err := decodeNumber(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		*r.numberField(field) = number
	}

	if value, ok := raw["id"]; ok {
		if id, err := decodeText(value); err == nil {
			r.ID = id
		}
	}
	return nil
}

func decodeText(value json.RawMessage) (string, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return "", nil
	}
	switch value[0] {
	case '"':
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return "", err
		}
		return s, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(value, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		var n json.Number
		if err := json.Unmarshal(value, &n); err != nil {
			return "", fmt.Errorf("expected string, got %s", value)
		}
		return n.String(), nil
	}
}

func decodeNumber(value json.RawMessage) (float64, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return 0, nil
	}
	if value[0] == '"' {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", s)
		}
		return f, nil
	}
	var f float64
	if err := json.Unmarshal(value, &f); err != nil {
		return 0, fmt.Errorf("expected number, got %s", value)
	}
	return f, nil
}
