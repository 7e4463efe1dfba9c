package visualize

import (
	"fmt"
	"image/color"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// blues is a white-to-blue palette for count heatmaps.
type blues int

func (b blues) Colors() []color.Color {
	lo := color.RGBA{R: 247, G: 251, B: 255, A: 255}
	hi := color.RGBA{R: 8, G: 48, B: 107, A: 255}
	n := int(b)
	out := make([]color.Color, n)
	for i := range out {
		out[i] = lerp(lo, hi, float64(i)/float64(n-1))
	}
	return out
}

// confusionGrid puts actual class 0 on the top row, as confusion matrices
// are usually read.
type confusionGrid struct{ cm mat.Matrix }

func (g confusionGrid) Dims() (c, r int) {
	rows, cols := g.cm.Dims()
	return cols, rows
}

func (g confusionGrid) Z(c, r int) float64 {
	rows, _ := g.cm.Dims()
	return g.cm.At(rows-1-r, c)
}

func (g confusionGrid) X(c int) float64 { return float64(c) }
func (g confusionGrid) Y(r int) float64 { return float64(r) }

// ConfusionMatrix draws an annotated heatmap of cm (rows actual, columns
// predicted) to path.
func ConfusionMatrix(cm mat.Matrix, title, path string) error {
	rows, cols := cm.Dims()
	if rows == 0 || rows != cols {
		return errors.NewDimensionError("visualize.ConfusionMatrix", rows, cols, 1)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"

	var maxCount float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			maxCount = max(maxCount, cm.At(i, j))
		}
	}

	grid := confusionGrid{cm: cm}
	heat := plotter.NewHeatMap(grid, blues(32))
	heat.Min, heat.Max = 0, max(maxCount, 1)
	p.Add(heat)

	xys := make(plotter.XYs, 0, rows*cols)
	labels := make([]string, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			xys = append(xys, plotter.XY{X: grid.X(c), Y: grid.Y(r)})
			labels = append(labels, strconv.FormatFloat(grid.Z(c, r), 'f', -1, 64))
		}
	}
	annotations, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return errors.Wrap(err, "confusion matrix labels")
	}
	for i := range annotations.TextStyle {
		annotations.TextStyle[i].XAlign = text.XCenter
		annotations.TextStyle[i].YAlign = text.YCenter
		// dark cells get white text
		r, c := i/cols, i%cols
		if maxCount > 0 && grid.Z(c, r) > maxCount/2 {
			annotations.TextStyle[i].Color = color.White
		}
	}
	p.Add(annotations)

	xNames := make([]string, cols)
	yNames := make([]string, rows)
	for k := 0; k < cols; k++ {
		xNames[k] = fmt.Sprint(k)
		yNames[rows-1-k] = fmt.Sprint(k)
	}
	p.NominalX(xNames...)
	p.NominalY(yNames...)

	return save(p, ConfusionSize, path)
}
