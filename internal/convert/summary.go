package convert

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/dartlas/internal/monitoring"
)

// maxIntensitySample bounds the number of point intensities kept for
// summary statistics and the report histogram.
const maxIntensitySample = 1 << 16

// Summary describes one finished conversion.
type Summary struct {
	Input  string
	Output string

	Pulses        int
	EmptyPulses   int // pulses with no echo above the noise threshold
	SkippedPulses int // pulses whose fit did not converge
	DroppedEchoes int // echoes ranked beyond the return cap
	Points        uint64
	WavePackets   uint64

	Gain      float64
	Offset    float64
	GlobalMax float64 // 0 when a fixed gain skipped calibration

	// EchoCounts[n] is the number of pulses that decomposed into n echoes.
	EchoCounts []int
	// Intensities holds the first point intensities, in write order.
	Intensities []float64

	Elapsed time.Duration
}

func (s *Summary) countEchoes(n int) {
	for len(s.EchoCounts) <= n {
		s.EchoCounts = append(s.EchoCounts, 0)
	}
	s.EchoCounts[n]++
}

func (s *Summary) sampleIntensity(v float64) {
	if len(s.Intensities) < maxIntensitySample {
		s.Intensities = append(s.Intensities, v)
	}
}

// IntensityStats returns the mean and standard deviation of the sampled
// intensities.
func (s *Summary) IntensityStats() (mean, std float64) {
	switch len(s.Intensities) {
	case 0:
		return 0, 0
	case 1:
		return s.Intensities[0], 0
	}
	return stat.MeanStdDev(s.Intensities, nil)
}

// Log writes the end of run summary through the monitoring logger.
func (s *Summary) Log() {
	mean, std := s.IntensityStats()
	monitoring.Logf("converted %s -> %s: %d pulses, %d points, %d empty, %d skipped (fit failure), %d echoes dropped over return cap, %d wave packets in %v",
		s.Input, s.Output, s.Pulses, s.Points, s.EmptyPulses, s.SkippedPulses, s.DroppedEchoes, s.WavePackets, s.Elapsed)
	monitoring.Logf("digitizer gain=%g offset=%g, intensity mean=%.3f std=%.3f", s.Gain, s.Offset, mean, std)
}
