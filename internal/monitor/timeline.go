package monitor

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
)

// stateLevel orders states for the timeline's y axis.
var stateLevel = map[alignment.State]int{
	alignment.StateUnresolved: 0,
	alignment.StateInhibited:  1,
	alignment.StateTracking:   2,
}

// RenderTimeline writes an HTML page with one accuracy chart and one state
// chart, each with a series per strategy. Unknown accuracy is drawn as a gap.
func RenderTimeline(w io.Writer, title string, samples []Sample) error {
	byStrategy := make(map[string][]Sample)
	var ids []string
	for _, s := range samples {
		if _, seen := byStrategy[s.StrategyID]; !seen {
			ids = append(ids, s.StrategyID)
		}
		byStrategy[s.StrategyID] = append(byStrategy[s.StrategyID], s)
	}
	sort.Strings(ids)

	var start int64
	if len(samples) > 0 {
		start = samples[0].At.UnixMilli()
		for _, s := range samples {
			if ms := s.At.UnixMilli(); ms < start {
				start = ms
			}
		}
	}

	accuracy := charts.NewLine()
	accuracy.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Accuracy", Subtitle: fmt.Sprintf("strategies=%d samples=%d", len(ids), len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (ms)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "error (m)"}),
	)

	state := charts.NewLine()
	state.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "240px"}),
		charts.WithTitleOpts(opts.Title{Title: "State", Subtitle: "0=unresolved 1=inhibited 2=tracking"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (ms)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: 2}),
	)

	for _, id := range ids {
		series := byStrategy[id]
		accData := make([]opts.LineData, 0, len(series))
		stateData := make([]opts.LineData, 0, len(series))
		for _, s := range series {
			t := s.At.UnixMilli() - start
			if s.Accuracy.IsInfinite() {
				accData = append(accData, opts.LineData{Value: []interface{}{t, "-"}})
			} else {
				accData = append(accData, opts.LineData{Value: []interface{}{t, s.Accuracy.Magnitude()}})
			}
			stateData = append(stateData, opts.LineData{Value: []interface{}{t, stateLevel[s.State]}})
		}
		accuracy.AddSeries(id, accData)
		state.AddSeries(id, stateData)
	}

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(accuracy, state)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render timeline: %w", err)
	}
	return nil
}
