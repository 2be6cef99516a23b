package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/dartlas/internal/convert"
)

// intensityBins is the number of histogram bins on the intensity chart.
const intensityBins = 20

// WriteHTML renders the summary as an HTML page with an echoes-per-pulse
// bar chart and an intensity histogram.
func WriteHTML(w io.Writer, s *convert.Summary) error {
	page := components.NewPage()
	page.AddCharts(echoCountChart(s), intensityChart(s))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// WriteHTMLFile writes the report to dir/report.html and returns its path.
func WriteHTMLFile(dir string, s *convert.Summary) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, "report.html")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}
	if err := WriteHTML(f, s); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func echoCountChart(s *convert.Summary) *charts.Bar {
	x := make([]string, len(s.EchoCounts))
	y := make([]opts.BarData, len(s.EchoCounts))
	for n, c := range s.EchoCounts {
		x[n] = strconv.Itoa(n)
		y[n] = opts.BarData{Value: c}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "dartlas conversion report", Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title: "Echoes per pulse",
			Subtitle: fmt.Sprintf("%s: pulses=%d points=%d empty=%d skipped=%d dropped=%d",
				filepath.Base(s.Input), s.Pulses, s.Points, s.EmptyPulses, s.SkippedPulses, s.DroppedEchoes),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "echoes", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pulses"}),
	)
	bar.SetXAxis(x).
		AddSeries("pulses", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func intensityChart(s *convert.Summary) *charts.Bar {
	mean, std := s.IntensityStats()
	labels, counts := IntensityHistogram(s.Intensities, intensityBins)
	y := make([]opts.BarData, len(counts))
	for i, c := range counts {
		y[i] = opts.BarData{Value: c}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Point intensity",
			Subtitle: fmt.Sprintf("n=%d mean=%.2f std=%.2f gain=%g", len(s.Intensities), mean, std, s.Gain),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "intensity", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "points"}),
	)
	bar.SetXAxis(labels).AddSeries("points", y)
	return bar
}

// IntensityHistogram bins values into n equal-width bins between their
// minimum and maximum and returns the bin labels (lower edges) and counts.
func IntensityHistogram(values []float64, n int) ([]string, []float64) {
	if len(values) == 0 || n < 1 {
		return nil, nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi <= lo {
		hi = lo + 1
	}
	dividers := floats.Span(make([]float64, n+1), lo, hi)
	// The last divider must exceed the largest value.
	dividers[n] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, sorted, nil)
	labels := make([]string, n)
	for i := range labels {
		labels[i] = strconv.FormatFloat(dividers[i], 'f', 1, 64)
	}
	return labels, counts
}
