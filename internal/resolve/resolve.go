// Package resolve turns fitted echoes into georeferenced output points.
package resolve

import (
	"math"
	"sort"

	"github.com/banshee-data/dartlas/internal/config"
	"github.com/banshee-data/dartlas/internal/dart"
	"github.com/banshee-data/dartlas/internal/lidarerr"
	"github.com/banshee-data/dartlas/internal/waveform"
)

// ScanAngleIncrement is the unit of the wide scan angle field, in degrees.
const ScanAngleIncrement = 0.006

// Point is one resolved return.
type Point struct {
	X, Y, Z float64

	Intensity       float64 // in the configured radiometric convention, before clamping
	ReturnNumber    int     // 1-based rank by echo centre
	NumberOfReturns int     // identical for every point of a pulse
	ScanAngle       int16   // encoded for the target point format
	GPSTime         float64
	PulseIndex      int

	Width       float64 // FWHM in ns
	AmplitudeDB float64 // 10·log10(peak / min detectable intensity)

	// Waveform packet fields. WaveLocation is in ps from the first sample and
	// the direction is in metres per ps.
	WaveLocation float32
	Xt, Yt, Zt   float32
}

// Resolver holds the per-run constants needed to place echoes.
type Resolver struct {
	header        dart.Header
	intensity     func(waveform.Echo) float64
	maxReturns    int
	wideScanAngle bool
	minDetectable float64
}

// NewResolver prepares a Resolver for one input header. It fails with a
// *lidarerr.ConfigurationError when the intensity mode is not recognised.
func NewResolver(h dart.Header, cfg *config.RunConfig) (*Resolver, error) {
	intensity, err := IntensityFunc(cfg.GetIntensityMode())
	if err != nil {
		return nil, err
	}
	return &Resolver{
		header:        h,
		intensity:     intensity,
		maxReturns:    cfg.GetMaxReturns(),
		wideScanAngle: cfg.GetPointFormat() >= 6,
		minDetectable: cfg.GetMinDetectableIntensity(),
	}, nil
}

// MaxReturns is the effective per-pulse return cap.
func (r *Resolver) MaxReturns() int { return r.maxReturns }

// IntensityFunc returns the radiometric convention named by mode.
func IntensityFunc(mode string) (func(waveform.Echo) float64, error) {
	switch mode {
	case config.IntensityPeak:
		return func(e waveform.Echo) float64 { return e.Amplitude / e.Sigma }, nil
	case config.IntensityIntegral:
		return func(e waveform.Echo) float64 { return e.Amplitude }, nil
	case config.IntensitySigma:
		return func(e waveform.Echo) float64 { return e.Sigma * 10 }, nil
	case config.IntensityDevice:
		return waveform.Echo.Peak, nil
	default:
		return nil, lidarerr.NewConfigurationError("intensity_mode", "unrecognized intensity mode %q", mode)
	}
}

// Resolve appends one Point per echo of p to dst, ranked by ascending echo
// centre. Echoes ranked beyond the return cap are dropped without
// renumbering the rest; dropped reports how many were lost.
func (r *Resolver) Resolve(dst []Point, p *dart.Pulse, echoes []waveform.Echo) (out []Point, dropped int) {
	if len(echoes) == 0 {
		return dst, 0
	}
	ranked := append([]waveform.Echo(nil), echoes...)
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].Center < ranked[b].Center })

	n := len(ranked)
	if n > r.maxReturns {
		dropped = n - r.maxReturns
		n = r.maxReturns
	}

	h := r.header
	halfStep := h.DistStep / 2
	psPerBin := h.TimeStep * 1000
	scan := EncodeScanAngle(p.ScanAngle, r.wideScanAngle)

	for rank, e := range ranked[:n] {
		d := p.RangeToCenter + (e.Center+0.5-p.CenterBin)*halfStep
		dst = append(dst, Point{
			X:               p.Sensor[0] + p.Direction[0]*d,
			Y:               p.Sensor[1] + p.Direction[1]*d,
			Z:               p.Sensor[2] + p.Direction[2]*d,
			Intensity:       r.intensity(e),
			ReturnNumber:    rank + 1,
			NumberOfReturns: n,
			ScanAngle:       scan,
			GPSTime:         p.GPSTime,
			PulseIndex:      p.Index,
			Width:           e.FWHM() * h.TimeStep,
			AmplitudeDB:     r.amplitudeDB(e),
			WaveLocation:    float32(e.Center * psPerBin),
			Xt:              float32(p.Direction[0] * halfStep / psPerBin),
			Yt:              float32(p.Direction[1] * halfStep / psPerBin),
			Zt:              float32(p.Direction[2] * halfStep / psPerBin),
		})
	}
	return dst, dropped
}

// amplitudeDB is the echo peak over the minimum detectable intensity in dB.
// Peaks below the minimum are floored to it, so the result is never negative.
func (r *Resolver) amplitudeDB(e waveform.Echo) float64 {
	return 10 * math.Log10(math.Max(e.Peak(), r.minDetectable)/r.minDetectable)
}

// EncodeScanAngle converts degrees to the point format's scan angle field:
// whole degrees clamped to ±90 for the narrow field, or multiples of
// ScanAngleIncrement clamped to ±30000 for the wide one.
func EncodeScanAngle(deg float64, wide bool) int16 {
	if math.IsNaN(deg) {
		return 0
	}
	if wide {
		return int16(math.Max(-30000, math.Min(30000, math.Round(deg/ScanAngleIncrement))))
	}
	return int16(math.Max(-90, math.Min(90, math.Round(deg))))
}
