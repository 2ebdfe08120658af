package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"net/http"

	"github.com/banshee-data/cryptomaster/internal/cluster"
	"github.com/banshee-data/cryptomaster/internal/geom"
	"github.com/banshee-data/cryptomaster/internal/httputil"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var plotColors = map[string]color.Color{
	cluster.LabelRed:    color.RGBA{R: 214, G: 39, B: 40, A: 255},
	cluster.LabelGreen:  color.RGBA{R: 44, G: 160, B: 44, A: 255},
	cluster.LabelBlue:   color.RGBA{R: 31, G: 119, B: 180, A: 255},
	cluster.LabelYellow: color.RGBA{R: 230, G: 198, B: 25, A: 255},
}

// Plot builds a static map of s: the top k clusters by label, the rest
// muted, plus viewpoints and the robot.
func Plot(s Snapshot, k int) (*plot.Plot, error) {
	lo, hi := bounds(s)
	top, rest := splitTop(s.Clusters, k)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Clusters (%d) and viewpoints (%d)", len(s.Clusters), len(s.Viewpoints))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.X.Min, p.X.Max = lo, hi
	p.Y.Min, p.Y.Max = lo, hi
	p.Add(plotter.NewGrid())

	if len(s.Viewpoints) > 0 {
		vp, err := plotter.NewScatter(xys(s.Viewpoints))
		if err != nil {
			return nil, err
		}
		vp.GlyphStyle.Shape = draw.BoxGlyph{}
		vp.GlyphStyle.Radius = vg.Points(2.5)
		vp.GlyphStyle.Color = color.Gray{Y: 128}
		p.Add(vp)
		p.Legend.Add("viewpoints", vp)
	}

	if len(rest) > 0 {
		other, err := plotter.NewScatter(clusterXYs(rest))
		if err != nil {
			return nil, err
		}
		other.GlyphStyle.Shape = draw.CircleGlyph{}
		other.GlyphStyle.Radius = vg.Points(1.5)
		other.GlyphStyle.Color = color.Gray{Y: 170}
		p.Add(other)
	}

	byLabel := map[string][]cluster.Point{}
	var labels []string
	for _, c := range top {
		if _, ok := byLabel[c.Label]; !ok {
			labels = append(labels, c.Label)
		}
		byLabel[c.Label] = append(byLabel[c.Label], c)
	}
	for _, label := range labels {
		sc, err := plotter.NewScatter(clusterXYs(byLabel[label]))
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(4)
		sc.GlyphStyle.Color = plotColor(label)
		p.Add(sc)
		p.Legend.Add(label, sc)
	}

	robot, err := plotter.NewScatter(xys([]geom.Point{s.Robot}))
	if err != nil {
		return nil, err
	}
	robot.GlyphStyle.Shape = draw.TriangleGlyph{}
	robot.GlyphStyle.Radius = vg.Points(5)
	robot.GlyphStyle.Color = color.Black
	p.Add(robot)
	p.Legend.Add("robot", robot)

	return p, nil
}

// WritePNG renders s as a square PNG of the given size.
func WritePNG(w io.Writer, s Snapshot, k int, size vg.Length) error {
	p, err := Plot(s, k)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

func plotColor(label string) color.Color {
	if c, ok := plotColors[label]; ok {
		return c
	}
	return color.RGBA{R: 148, G: 103, B: 189, A: 255}
}

func xys(pts []geom.Point) plotter.XYs {
	out := make(plotter.XYs, len(pts))
	for i, p := range pts {
		out[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return out
}

func clusterXYs(pts []cluster.Point) plotter.XYs {
	out := make(plotter.XYs, len(pts))
	for i, p := range pts {
		out[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return out
}

func (h *Handler) handlePNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var buf bytes.Buffer
	if err := WritePNG(&buf, h.source(), h.topKParam(r), 6*vg.Inch); err != nil {
		logf("failed to render cluster plot: %v", err)
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
