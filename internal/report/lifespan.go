// Package report renders evolution diagrams as PNG plots and HTML charts.
package report

import (
	"fmt"
	"image/color"
	"io"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/bundle.evolution/internal/evolution"
)

var (
	mergedColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	openColor   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Lifespan is the life of one class.
type Lifespan struct {
	Class  int
	Birth  float64
	End    float64
	Merged bool
	Into   int
}

// Lifespans returns the life of every class in class order.
func Lifespans(d *evolution.Diagram) []Lifespan {
	var out []Lifespan
	for _, c := range d.Classes() {
		l := Lifespan{Class: c}
		l.Birth, _ = d.BirthMoment(c)
		l.End, _ = d.EndMoment(c)
		if _, ok := d.MergeMoment(c); ok {
			l.Merged = true
			l.Into, _ = d.MergedInto(c)
		}
		out = append(out, l)
	}
	return out
}

// LifespanPlot draws one horizontal bar per class from its birth to its end.
// Merged classes are blue; classes still open at the last sample are red.
func LifespanPlot(d *evolution.Diagram, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Epsilon"
	p.Y.Label.Text = "Class"
	p.Legend.Top = true

	var mergedShown, openShown bool
	for _, l := range Lifespans(d) {
		pts := plotter.XYs{{X: l.Birth, Y: float64(l.Class)}, {X: l.End, Y: float64(l.Class)}}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, fmt.Errorf("class %d: %w", l.Class, err)
		}
		line.Width = vg.Points(2)
		points.Shape = draw.CircleGlyph{}
		points.Radius = vg.Points(2)
		if l.Merged {
			line.Color, points.Color = mergedColor, mergedColor
		} else {
			line.Color, points.Color = openColor, openColor
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line, points)

		switch {
		case l.Merged && !mergedShown:
			p.Legend.Add("merged", line)
			mergedShown = true
		case !l.Merged && !openShown:
			p.Legend.Add("open", line)
			openShown = true
		}
	}
	p.Y.Tick.Marker = classTicks{n: d.NumClasses()}
	return p, nil
}

func plotHeight(d *evolution.Diagram) vg.Length {
	if n := d.NumClasses(); n > 24 {
		return vg.Length(n) * vg.Inch / 4
	}
	return 6 * vg.Inch
}

// SaveLifespanPNG writes the lifespan plot of d to path. The format follows
// the file extension.
func SaveLifespanPNG(d *evolution.Diagram, title, path string) error {
	p, err := LifespanPlot(d, title)
	if err != nil {
		return err
	}
	if err := p.Save(14*vg.Inch, plotHeight(d), path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

// WriteLifespanPNG writes the lifespan plot of d to w as PNG.
func WriteLifespanPNG(w io.Writer, d *evolution.Diagram, title string) error {
	p, err := LifespanPlot(d, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(14*vg.Inch, plotHeight(d), "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}

// classTicks labels integer class ids, thinning labels for large diagrams.
type classTicks struct{ n int }

func (t classTicks) Ticks(min, max float64) []plot.Tick {
	stride := 1
	if t.n > 40 {
		stride = t.n / 20
	}
	var out []plot.Tick
	for c := 0; c < t.n; c++ {
		if float64(c) < min || float64(c) > max {
			continue
		}
		tick := plot.Tick{Value: float64(c)}
		if c%stride == 0 {
			tick.Label = strconv.Itoa(c)
		}
		out = append(out, tick)
	}
	return out
}
