package dashboard

import (
	_ "embed"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/DeafMist/insight-dashboard/internal/insights"
)

//go:embed panels.yaml
var panelsYAML []byte

// UnknownLabel replaces empty group keys on charts.
const UnknownLabel = "Unknown"

// ChartKind is the chart type a panel is drawn as.
type ChartKind string

const (
	ChartLine     ChartKind = "line"
	ChartBar      ChartKind = "bar"
	ChartPie      ChartKind = "pie"
	ChartDoughnut ChartKind = "doughnut"
)

// ValueKind selects which bucket value a panel plots.
type ValueKind string

const (
	ValueAverage ValueKind = "average"
	ValueCount   ValueKind = "count"
)

// Panel declares one chart.
type Panel struct {
	ID           string    `yaml:"id"`
	Section      string    `yaml:"section"`
	Title        string    `yaml:"title"`
	Chart        ChartKind `yaml:"chart"`
	Distribution string    `yaml:"distribution"`
	Value        ValueKind `yaml:"value"`
	Limit        int       `yaml:"limit"`
	Reference    bool      `yaml:"reference"`
}

type panelFile struct {
	Panels []Panel `yaml:"panels"`
}

// Point is one labeled value of a chart series.
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Series is the data a panel renders.
type Series struct {
	Label     string   `json:"label"`
	Chart     string   `json:"chart"`
	Points    []Point  `json:"points"`
	Colors    []string `json:"colors"`
	Reference *float64 `json:"reference,omitempty"`
}

var palette = []string{
	"#3B82F6", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#EC4899", "#84CC16", "#F97316", "#6366F1",
}

// LoadPanels parses and validates a panel definition document.
func LoadPanels(data []byte) ([]Panel, error) {
	var file panelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse panels: %w", err)
	}
	if len(file.Panels) == 0 {
		return nil, fmt.Errorf("parse panels: no panels defined")
	}

	seen := make(map[string]struct{}, len(file.Panels))
	for i, p := range file.Panels {
		if p.ID == "" {
			return nil, fmt.Errorf("panel %d: id is required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("panel %s: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}

		var d insights.Distributions
		if _, ok := d.ByName(p.Distribution); !ok {
			return nil, fmt.Errorf("panel %s: unknown distribution %q", p.ID, p.Distribution)
		}
		switch p.Chart {
		case ChartLine, ChartBar, ChartPie, ChartDoughnut:
		default:
			return nil, fmt.Errorf("panel %s: unknown chart %q", p.ID, p.Chart)
		}
		switch p.Value {
		case ValueAverage, ValueCount:
		default:
			return nil, fmt.Errorf("panel %s: unknown value %q", p.ID, p.Value)
		}
		if p.Limit < 0 {
			return nil, fmt.Errorf("panel %s: limit cannot be negative", p.ID)
		}
	}
	return file.Panels, nil
}

// DefaultPanels returns the built-in panel set.
func DefaultPanels() []Panel {
	panels, err := LoadPanels(panelsYAML)
	if err != nil {
		panic(err)
	}
	return panels
}

// Build turns the panel's distribution into a chart series.
func (p Panel) Build(stats *insights.Stats) Series {
	series := Series{Label: p.Title, Chart: string(p.Chart), Points: []Point{}}
	if stats == nil {
		return series
	}

	dist, ok := stats.Distributions.ByName(p.Distribution)
	if !ok {
		return series
	}
	buckets := dist.Buckets
	if p.Limit > 0 && len(buckets) > p.Limit {
		buckets = buckets[:p.Limit]
	}

	for _, b := range buckets {
		label := b.Key
		if label == "" {
			label = UnknownLabel
		}
		value := float64(b.Count)
		if p.Value == ValueAverage {
			value = RoundTo2(b.Average)
		}
		series.Points = append(series.Points, Point{Label: label, Value: value})
	}
	series.Colors = colors(len(series.Points))

	if p.Reference {
		if mean, ok := stats.Summary.Mean(dist.Average); ok {
			ref := RoundTo2(mean)
			series.Reference = &ref
		}
	}
	return series
}

// RoundTo2 rounds to two decimal places.
func RoundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

func colors(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = palette[i%len(palette)]
	}
	return out
}
