package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/bundle.evolution/internal/evolution"
)

// ClassCountChart plots the number of live bundles, births and merges at
// every sampled epsilon.
func ClassCountChart(d *evolution.Diagram) *charts.Line {
	eps := d.Epsilons()
	labels := make([]string, len(eps))
	live := make([]opts.LineData, len(eps))
	born := make([]opts.LineData, len(eps))
	merged := make([]opts.LineData, len(eps))
	for i, e := range eps {
		st, _ := d.State(e)
		labels[i] = strconv.FormatFloat(e, 'g', -1, 64)
		live[i] = opts.LineData{Value: st.Len()}
		born[i] = opts.LineData{Value: len(st.Births())}
		merged[i] = opts.LineData{Value: len(st.Merges())}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Bundle evolution", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Bundles per epsilon", Subtitle: fmt.Sprintf("states=%d classes=%d", len(eps), d.NumClasses())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "epsilon", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count"}),
	)
	line.SetXAxis(labels).
		AddSeries("bundles", live).
		AddSeries("births", born).
		AddSeries("merges", merged)
	return line
}

// LifespanChart scatters every class by birth and life span, with the
// relative life span as a third dimension for the tooltip.
func LifespanChart(d *evolution.Diagram) *charts.Scatter {
	var merged, open []opts.ScatterData
	for _, l := range Lifespans(d) {
		life := l.End - l.Birth
		rel := 0.0
		if l.Birth > 0 {
			rel = life / l.Birth
		}
		point := opts.ScatterData{Name: fmt.Sprintf("class %d", l.Class), Value: []interface{}{l.Birth, life, rel}}
		if l.Merged {
			merged = append(merged, point)
		} else {
			open = append(open, point)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Bundle evolution", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Class life spans"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "birth", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "life span"}),
	)
	scatter.AddSeries("merged", merged, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	scatter.AddSeries("open", open, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

// RenderHTML writes a page holding both charts of d.
func RenderHTML(w io.Writer, d *evolution.Diagram) error {
	page := components.NewPage()
	page.AddCharts(ClassCountChart(d), LifespanChart(d))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render charts: %w", err)
	}
	return nil
}
