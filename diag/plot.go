package diag

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/CraigKelly/horseshoe/trace"
)

// Plot sizing
const (
	plotWidth     = 12 * vg.Inch
	plotRowHeight = 2 * vg.Inch
	histBins      = 30
	maxPlotRows   = 200
)

// PlotTrace draws the classic trace plot as a PNG: one row per scalar
// component of the named variables (all variables if varNames is empty),
// with the pooled posterior density on the left and each chain's draws in
// order on the right.
func PlotTrace(tr *trace.Trace, varNames []string, w io.Writer) error {
	comps, err := Components(tr, varNames)
	if err != nil {
		return err
	}
	if len(comps) == 0 {
		return errors.New("Nothing to plot")
	}
	if len(comps) > maxPlotRows {
		return errors.Errorf("%d components is too many to plot (max %d); choose fewer variables", len(comps), maxPlotRows)
	}
	if tr.NumDraws() < 1 {
		return errors.Wrap(ErrTooFewDraws, "no draws to plot")
	}

	plots := make([][]*plot.Plot, len(comps))
	for i, c := range comps {
		chains, err := tr.ChainValues(c.Name, c.Index)
		if err != nil {
			return err
		}

		hist, err := densityPlot(c.Key(), flatten(chains))
		if err != nil {
			return errors.Wrapf(err, "Could not plot density of %s", c.Key())
		}
		lines, err := chainPlot(c.Key(), chains)
		if err != nil {
			return errors.Wrapf(err, "Could not plot trace of %s", c.Key())
		}
		plots[i] = []*plot.Plot{hist, lines}
	}

	img := vgimg.New(plotWidth, plotRowHeight*vg.Length(len(comps)))
	dc := draw.New(img)

	tiles := draw.Tiles{
		Rows:      len(comps),
		Cols:      2,
		PadX:      vg.Millimeter,
		PadY:      vg.Millimeter,
		PadTop:    vg.Points(2),
		PadBottom: vg.Points(2),
		PadLeft:   vg.Points(2),
		PadRight:  vg.Points(2),
	}

	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		for j := range plots[i] {
			plots[i][j].Draw(canvases[i][j])
		}
	}

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return errors.Wrap(err, "Could not write trace plot")
	}
	return nil
}

// SavePlotTrace writes PlotTrace output to filename
func SavePlotTrace(tr *trace.Trace, varNames []string, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "Could not create %s", filename)
	}

	if err := PlotTrace(tr, varNames, f); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "Could not close %s", filename)
}

func densityPlot(key string, vals []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = key
	p.Y.Label.Text = "density"

	h, err := plotter.NewHist(plotter.Values(vals), histBins)
	if err != nil {
		return nil, err
	}
	h.Normalize(1)
	p.Add(h)
	return p, nil
}

func chainPlot(key string, chains [][]float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = key
	p.X.Label.Text = "draw"

	for i, c := range chains {
		if len(c) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(c))
		for j, v := range c {
			xys[j].X = float64(j)
			xys[j].Y = v
		}

		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		l.LineStyle.Color = plotutil.Color(i)
		l.LineStyle.Width = vg.Points(0.5)
		p.Add(l)
	}
	return p, nil
}
