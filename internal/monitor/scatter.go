package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/httputil"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

var labelColors = map[string]string{
	cluster.LabelRed:    "#d62728",
	cluster.LabelGreen:  "#2ca02c",
	cluster.LabelBlue:   "#1f77b4",
	cluster.LabelYellow: "#e6c619",
}

const (
	mutedColor     = "#9e9e9e"
	viewpointColor = "#7f7f7f"
	robotColor     = "#000000"
)

func labelColor(label string) string {
	if c, ok := labelColors[label]; ok {
		return c
	}
	return "#9467bd"
}

// Scatter builds the cluster scatter chart for s.
func Scatter(s Snapshot, k int) *charts.Scatter {
	lo, hi := bounds(s)
	top, rest := splitTop(s.Clusters, k)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Clusters", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Cluster arena",
			Subtitle: fmt.Sprintf("clusters=%d viewpoints=%d goals_left=%d", len(s.Clusters), len(s.Viewpoints), len(s.GoalsLeft)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Min: lo, Max: hi, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: lo, Max: hi, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	// One series per label keeps the legend readable.
	byLabel := map[string][]opts.ScatterData{}
	var labels []string
	for _, p := range top {
		if _, ok := byLabel[p.Label]; !ok {
			labels = append(labels, p.Label)
		}
		byLabel[p.Label] = append(byLabel[p.Label], opts.ScatterData{
			Name:       fmt.Sprintf("#%d %s n=%d visited=%v", p.Index, p.Label, p.N, p.Visited),
			Value:      []interface{}{p.X, p.Y, p.N},
			SymbolSize: symbolSize(p.N),
		})
	}
	for _, label := range labels {
		scatter.AddSeries(label, byLabel[label],
			charts.WithItemStyleOpts(opts.ItemStyle{Color: labelColor(label)}))
	}

	if len(rest) > 0 {
		data := make([]opts.ScatterData, 0, len(rest))
		for _, p := range rest {
			data = append(data, opts.ScatterData{
				Name:       fmt.Sprintf("#%d %s n=%d", p.Index, p.Label, p.N),
				Value:      []interface{}{p.X, p.Y, p.N},
				SymbolSize: 4,
			})
		}
		scatter.AddSeries("other", data, charts.WithItemStyleOpts(opts.ItemStyle{Color: mutedColor}))
	}

	scatter.AddSeries("viewpoints", pointData(s.Viewpoints, "viewpoint", "diamond", 6),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: viewpointColor}))
	scatter.AddSeries("robot", pointData([]geom.Point{s.Robot}, "robot", "triangle", 12),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: robotColor}))
	return scatter
}

func pointData(pts []geom.Point, name, symbol string, size int) []opts.ScatterData {
	data := make([]opts.ScatterData, 0, len(pts))
	for _, p := range pts {
		data = append(data, opts.ScatterData{
			Name:       name,
			Value:      []interface{}{p.X, p.Y},
			Symbol:     symbol,
			SymbolSize: size,
		})
	}
	return data
}

func symbolSize(n int) int {
	switch {
	case n >= 30:
		return 18
	case n >= 10:
		return 12
	default:
		return 8
	}
}

// handleScatter renders the cluster scatter page (HTML).
// Query params:
//   - k (optional; defaults to the configured top-k)
func (h *Handler) handleScatter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var buf bytes.Buffer
	if err := Scatter(h.source(), h.topKParam(r)).Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
