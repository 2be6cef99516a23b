// Package report renders diagnostics for a conversion: PNG plots of selected
// pulse fits and an HTML summary page.
package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/dartlas/internal/dart"
	"github.com/banshee-data/dartlas/internal/monitoring"
	"github.com/banshee-data/dartlas/internal/waveform"
)

// PulsePlotter saves a PNG of the waveform and fitted echoes for each
// selected pulse. Its Observe method fits convert.PulseObserver.
type PulsePlotter struct {
	outputDir string
	pulses    map[int]bool
	written   []string
	err       error
}

// NewPulsePlotter plots the given pulse indices into outputDir, creating it
// if needed.
func NewPulsePlotter(outputDir string, pulses []int) (*PulsePlotter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory: %w", err)
	}
	pp := &PulsePlotter{outputDir: outputDir, pulses: make(map[int]bool, len(pulses))}
	for _, p := range pulses {
		pp.pulses[p] = true
	}
	return pp, nil
}

// Observe plots p if it was selected. Plot failures are remembered and
// reported by Err rather than aborting the conversion.
func (pp *PulsePlotter) Observe(p *dart.Pulse, samples []float64, echoes []waveform.Echo) {
	if !pp.pulses[p.Index] {
		return
	}
	path := filepath.Join(pp.outputDir, fmt.Sprintf("pulse_%06d.png", p.Index))
	if err := PlotPulse(path, p.Index, samples, echoes); err != nil {
		monitoring.Logf("plot pulse %d: %v", p.Index, err)
		if pp.err == nil {
			pp.err = err
		}
		return
	}
	pp.written = append(pp.written, path)
}

// Written lists the PNG files produced so far.
func (pp *PulsePlotter) Written() []string { return pp.written }

// Err returns the first plotting error.
func (pp *PulsePlotter) Err() error { return pp.err }

var (
	sampleColor  = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	mixtureColor = color.RGBA{R: 220, G: 50, B: 47, A: 255}
	echoColor    = color.RGBA{R: 38, G: 139, B: 210, A: 255}
)

// PlotPulse writes a PNG showing the digitized samples, the fitted mixture
// and each echo component.
func PlotPulse(path string, index int, samples []float64, echoes []waveform.Echo) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pulse %d - %d echoes", index, len(echoes))
	p.X.Label.Text = "Bin"
	p.Y.Label.Text = "Digitized amplitude"

	pts := make(plotter.XYs, len(samples))
	for i, v := range samples {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("samples: %w", err)
	}
	scatter.GlyphStyle.Color = sampleColor
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter)
	p.Legend.Add("samples", scatter)

	if len(echoes) > 0 {
		// Evaluate the fit on a finer grid than the bins.
		const oversample = 4
		n := len(samples)*oversample + 1
		fit := make(plotter.XYs, n)
		for i := range fit {
			x := float64(i) / oversample
			fit[i] = plotter.XY{X: x, Y: waveform.Mixture(echoes, x)}
		}
		line, err := plotter.NewLine(fit)
		if err != nil {
			return fmt.Errorf("mixture: %w", err)
		}
		line.Color = mixtureColor
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("fit", line)

		for k, e := range echoes {
			comp := make(plotter.XYs, n)
			for i := range comp {
				x := float64(i) / oversample
				comp[i] = plotter.XY{X: x, Y: e.Eval(x)}
			}
			cl, err := plotter.NewLine(comp)
			if err != nil {
				return fmt.Errorf("echo %d: %w", k, err)
			}
			cl.Color = echoColor
			cl.Width = vg.Points(1)
			cl.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(cl)
			if k == 0 {
				p.Legend.Add("echoes", cl)
			}
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
