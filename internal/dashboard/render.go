package dashboard

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/DeafMist/insight-dashboard/internal/query"
)

//go:embed page.tmpl
var pageTemplate string

// ChartScriptURL is the chart library loaded by the page.
const ChartScriptURL = "https://cdn.jsdelivr.net/npm/chart.js@4.4.1/dist/chart.umd.min.js"

var page = template.Must(template.New("page").Funcs(template.FuncMap{
	"deref": func(v *float64) float64 {
		if v == nil {
			return 0
		}
		return *v
	},
}).Parse(pageTemplate))

var fieldLabels = map[query.Field]string{
	query.EndYear: "End Year",
	query.Topic:   "Topic",
	query.Sector:  "Sector",
	query.Region:  "Region",
	query.Pestle:  "PESTLE",
	query.Source:  "Source",
	query.Swot:    "SWOT",
	query.Country: "Country",
	query.City:    "City",
}

type cardValue struct {
	Title string
	Value string
}

type control struct {
	Name     string
	Label    string
	Options  []string
	Selected string
	ClearURL string
}

type section struct {
	Name   string
	Panels []PanelView
}

type pageData struct {
	Title         string
	Generated     string
	ActiveFilters int
	Cards         Cards
	CardValues    []cardValue
	Filters       OptionsView
	Controls      []control
	Sections      []section
	ChartScript   string
}

// Render writes the dashboard page for v.
func Render(w io.Writer, title string, v View) error {
	data := pageData{
		Title:         title,
		Generated:     time.Now().UTC().Format("2006-01-02 15:04 MST"),
		ActiveFilters: v.Selection.Active(),
		Cards:         v.Cards,
		CardValues:    cardValues(v.Cards),
		Filters:       v.Filters,
		Controls:      controls(v),
		Sections:      sections(v.Panels),
		ChartScript:   ChartScriptURL,
	}
	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	return nil
}

func cardValues(c Cards) []cardValue {
	mean := func(m query.Metric) string {
		v, ok := c.Summary.Mean(m)
		if !ok {
			return "n/a"
		}
		return fmt.Sprintf("%.2f", v)
	}
	return []cardValue{
		{Title: "Total Records", Value: fmt.Sprintf("%d", c.Total)},
		{Title: "Avg Intensity", Value: mean(query.Intensity)},
		{Title: "Avg Likelihood", Value: mean(query.Likelihood)},
		{Title: "Avg Relevance", Value: mean(query.Relevance)},
	}
}

func controls(v View) []control {
	out := make([]control, 0, len(query.FilterFields))
	for _, field := range query.FilterFields {
		opts := v.Filters.Options.Options(field)
		selected := v.Selection.Value(field)
		// Keep a selection that is not among the options visible, e.g. a
		// substring typed into the URL.
		if selected != query.Sentinel && !contains(opts, selected) {
			opts = append([]string{selected}, opts...)
		}
		out = append(out, control{
			Name:     string(field),
			Label:    fieldLabels[field],
			Options:  opts,
			Selected: selected,
			ClearURL: pageURL(v.Selection.With(field, query.Sentinel)),
		})
	}
	return out
}

func pageURL(sel Selection) string {
	if q := sel.Query(); len(q) > 0 {
		return "/?" + q.Encode()
	}
	return "/"
}

func sections(panels []PanelView) []section {
	var out []section
	for _, p := range panels {
		if n := len(out); n > 0 && out[n-1].Name == p.Panel.Section {
			out[n-1].Panels = append(out[n-1].Panels, p)
			continue
		}
		out = append(out, section{Name: p.Panel.Section, Panels: []PanelView{p}})
	}
	return out
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
