package monitor

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
)

// Layout is a top-down view of one strategy's inputs.
type Layout struct {
	Title      string
	Candidates []alignment.Frame
	Reference  *alignment.Pose // viewpoint or override position, if known
	SelectedID string          // candidate the strategy aligned to
}

// LayoutFromStrategy builds a Layout for mp. The selected candidate is the
// one nearest the current reference.
func LayoutFromStrategy(mp *alignment.MultiParent, viewpoint alignment.ViewpointProvider) Layout {
	l := Layout{
		Title:      fmt.Sprintf("%s (%s)", mp.ID(), mp.State()),
		Candidates: mp.ReferenceFrames(),
	}
	var ref alignment.Pose
	ok := false
	if f := mp.ReferenceFrame(); f != nil {
		ref, ok = f.FramePose(), true
	} else if viewpoint != nil {
		ref, ok = viewpoint.Viewpoint()
	}
	if ok {
		l.Reference = &ref
		if mp.State() == alignment.StateTracking {
			if f, _ := alignment.NearestFrame(l.Candidates, ref); f != nil {
				l.SelectedID = f.FrameID()
			}
		}
	}
	return l
}

var (
	candidateColor = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	selectedColor  = color.RGBA{R: 220, G: 60, B: 40, A: 255}
	referenceColor = color.RGBA{R: 40, G: 160, B: 60, A: 255}
)

// PlotLayout writes the layout PNG to path, creating its directory.
func PlotLayout(path string, l Layout) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create layout plot: %w", err)
	}
	if err := WriteLayout(f, l); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteLayout renders a PNG of the floor plane (X across, Z up the page) with
// candidates, the reference position, and a line from the reference to the
// selected candidate.
func WriteLayout(w io.Writer, l Layout) error {
	p := plot.New()
	p.Title.Text = l.Title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	candPts := make(plotter.XYs, 0, len(l.Candidates))
	var selected *plotter.XY
	for _, f := range l.Candidates {
		pos := f.FramePose().Position
		pt := plotter.XY{X: pos.X, Y: pos.Z}
		candPts = append(candPts, pt)
		if f.FrameID() == l.SelectedID {
			sel := pt
			selected = &sel
		}
	}

	if len(candPts) > 0 {
		sc, err := plotter.NewScatter(candPts)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = candidateColor
		sc.GlyphStyle.Radius = vg.Points(4)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add("candidates", sc)

		labels, err := plotter.NewLabels(plotter.XYLabels{XYs: candPts, Labels: frameLabels(l.Candidates)})
		if err != nil {
			return err
		}
		p.Add(labels)
	}

	if l.Reference != nil {
		refPt := plotter.XYs{{X: l.Reference.Position.X, Y: l.Reference.Position.Z}}
		sc, err := plotter.NewScatter(refPt)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = referenceColor
		sc.GlyphStyle.Radius = vg.Points(5)
		sc.GlyphStyle.Shape = draw.PyramidGlyph{}
		p.Add(sc)
		p.Legend.Add("reference", sc)

		if selected != nil {
			line, err := plotter.NewLine(plotter.XYs{refPt[0], *selected})
			if err != nil {
				return err
			}
			line.Color = selectedColor
			line.Width = vg.Points(1)
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(line)
		}
	}

	if selected != nil {
		sc, err := plotter.NewScatter(plotter.XYs{*selected})
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = selectedColor
		sc.GlyphStyle.Radius = vg.Points(6)
		sc.GlyphStyle.Shape = draw.RingGlyph{}
		p.Add(sc)
		p.Legend.Add("selected", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render layout plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write layout plot: %w", err)
	}
	return nil
}

func frameLabels(frames []alignment.Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.FrameID()
		if len(out[i]) > 8 {
			out[i] = out[i][:8]
		}
	}
	return out
}
