// Package visualize renders the pipeline's PNG charts with gonum/plot.
package visualize

import (
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// Default figure sizes.
var (
	ConfusionSize = [2]vg.Length{6 * vg.Inch, 5 * vg.Inch}
	SummarySize   = [2]vg.Length{8 * vg.Inch, 6 * vg.Inch}
	BarSize       = [2]vg.Length{8 * vg.Inch, 6 * vg.Inch}
)

// save writes p to path, creating the parent directory. The image format
// follows the file extension.
func save(p *plot.Plot, size [2]vg.Length, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create directory for %s", path)
		}
	}
	if err := p.Save(size[0], size[1], path); err != nil {
		return errors.Wrapf(err, "save chart %s", path)
	}
	return nil
}

// lerp blends two colours; t in [0, 1].
func lerp(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5) }
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}
