package visualize

import (
	"image/color"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/bcpipeline/explain"
	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// jitterSeed fixes the vertical jitter so reruns produce identical images.
const jitterSeed = 0x5ba9

// SHAPSummary draws one row of points per feature, most important at the
// top. A point's x position is its SHAP value and its colour the feature
// value scaled to the column range (blue low, red high). X holds the rows
// that vals explains.
func SHAPSummary(vals *explain.Values, X mat.Matrix, path string) error {
	rows, cols := vals.Values.Dims()
	if xr, xc := X.Dims(); xr != rows || xc != cols {
		return errors.NewDimensionError("visualize.SHAPSummary", rows, xr, 0)
	}
	ranking := vals.Importance()

	cmap := moreland.SmoothBlueRed()
	cmap.SetMin(0)
	cmap.SetMax(1)
	rng := rand.New(rand.NewPCG(jitterSeed, jitterSeed))

	p := plot.New()
	p.Title.Text = "SHAP summary"
	p.X.Label.Text = "SHAP value (impact on model output)"

	zero, err := plotter.NewLine(plotter.XYs{{X: 0, Y: -0.5}, {X: 0, Y: float64(cols) - 0.5}})
	if err != nil {
		return errors.Wrap(err, "shap summary axis")
	}
	zero.LineStyle.Color = color.Gray{Y: 160}
	p.Add(zero)

	names := make([]string, cols)
	col := make([]float64, rows)
	for rank, fi := range ranking {
		level := float64(cols - 1 - rank)
		names[cols-1-rank] = fi.Feature

		mat.Col(col, fi.Index, X)
		lo, hi := floats.Min(col), floats.Max(col)

		xys := make(plotter.XYs, rows)
		shades := make([]color.Color, rows)
		for i := 0; i < rows; i++ {
			xys[i] = plotter.XY{X: vals.Values.At(i, fi.Index), Y: level + (rng.Float64()-0.5)*0.6}
			t := 0.5
			if hi > lo {
				t = (col[i] - lo) / (hi - lo)
			}
			c, err := cmap.At(math.Max(0, math.Min(1, t)))
			if err != nil {
				c = color.Gray{Y: 128}
			}
			shades[i] = c
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return errors.Wrapf(err, "shap summary points for %s", fi.Feature)
		}
		s.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			return draw.GlyphStyle{Color: shades[i], Radius: vg.Points(2), Shape: draw.CircleGlyph{}}
		}
		p.Add(s)
	}
	p.NominalY(names...)

	return save(p, SummarySize, path)
}

// FeatureImportance draws a horizontal bar per feature with the largest
// bar at the top.
func FeatureImportance(ranking []explain.FeatureImportance, path string) error {
	if len(ranking) == 0 {
		return errors.NewValueError("visualize.FeatureImportance", "no features to plot")
	}
	n := len(ranking)
	values := make(plotter.Values, n)
	names := make([]string, n)
	for k, fi := range ranking {
		values[n-1-k] = fi.MeanAbs
		names[n-1-k] = fi.Feature
	}

	p := plot.New()
	p.Title.Text = "Feature importance"
	p.X.Label.Text = "mean(|SHAP value|)"

	bars, err := plotter.NewBarChart(values, vg.Points(14))
	if err != nil {
		return errors.Wrap(err, "feature importance bars")
	}
	bars.Horizontal = true
	bars.Color = color.RGBA{R: 30, G: 136, B: 229, A: 255}
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalY(names...)

	return save(p, BarSize, path)
}
