package query

import (
	"encoding/json"
	"fmt"
)

// Summary state values as they appear on the wire.
const (
	StateOK     = "ok"
	StateNoData = "no_data"
)

// Means holds the averages of the numeric fields over a match set.
type Means struct {
	Intensity  float64
	Likelihood float64
	Relevance  float64
}

// Summary is the aggregate over all records matching a predicate.
// When nothing matched, Means is nil and the summary is in the no-data state.
type Summary struct {
	Count int64
	Means *Means
}

// NoData returns the summary of an empty match set.
func NoData() Summary {
	return Summary{}
}

// NewSummary builds a summary, collapsing zero counts to the no-data state.
func NewSummary(count int64, means Means) Summary {
	if count <= 0 {
		return NoData()
	}
	return Summary{Count: count, Means: &means}
}

// HasData reports whether at least one record matched.
func (s Summary) HasData() bool {
	return s.Means != nil && s.Count > 0
}

// Mean returns the average of m, and false in the no-data state.
func (s Summary) Mean(m Metric) (float64, bool) {
	if !s.HasData() {
		return 0, false
	}
	switch m {
	case Intensity:
		return s.Means.Intensity, true
	case Likelihood:
		return s.Means.Likelihood, true
	case Relevance:
		return s.Means.Relevance, true
	}
	return 0, false
}

type summaryJSON struct {
	State         string   `json:"state"`
	TotalRecords  int64    `json:"totalRecords"`
	AvgIntensity  *float64 `json:"avgIntensity,omitempty"`
	AvgLikelihood *float64 `json:"avgLikelihood,omitempty"`
	AvgRelevance  *float64 `json:"avgRelevance,omitempty"`
}

func (s Summary) MarshalJSON() ([]byte, error) {
	if !s.HasData() {
		return json.Marshal(summaryJSON{State: StateNoData})
	}
	means := *s.Means
	return json.Marshal(summaryJSON{
		State:         StateOK,
		TotalRecords:  s.Count,
		AvgIntensity:  &means.Intensity,
		AvgLikelihood: &means.Likelihood,
		AvgRelevance:  &means.Relevance,
	})
}

func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw summaryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.State {
	case StateNoData:
		*s = NoData()
	case StateOK:
		var means Means
		if raw.AvgIntensity != nil {
			means.Intensity = *raw.AvgIntensity
		}
		if raw.AvgLikelihood != nil {
			means.Likelihood = *raw.AvgLikelihood
		}
		if raw.AvgRelevance != nil {
			means.Relevance = *raw.AvgRelevance
		}
		*s = NewSummary(raw.TotalRecords, means)
	default:
		return fmt.Errorf("unknown summary state %q", raw.State)
	}
	return nil
}
