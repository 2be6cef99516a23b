// Package testutil provides shared fixtures for tests that need DART input
// files.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/dartlas/internal/dart"
	"github.com/banshee-data/dartlas/internal/waveform"
)

// Fixture header values used by WriteDART.
const (
	FixtureBins     = 64
	FixtureTimeStep = 1.0 // ns
	FixtureDistStep = 0.3 // m, two-way
)

// Gaussians samples the sum of echoes at bins 0..n-1.
func Gaussians(n int, echoes ...waveform.Echo) []float64 {
	y := make([]float64, n)
	for i := range y {
		y[i] = waveform.Mixture(echoes, float64(i))
	}
	return y
}

// NadirPulse is the i-th pulse of a fixture: looking straight down from
// (i, 0, 1000) with the scene centre 900 m away at bin 32.
func NadirPulse(i int) *dart.Pulse {
	return &dart.Pulse{
		Direction:     [3]float64{0, 0, -1},
		Sensor:        [3]float64{float64(i), 0, 1000},
		RangeToCenter: 900,
		CenterBin:     32,
		ScanAngle:     -4,
		GPSTime:       float64(i) * 0.001,
		PixelI:        int32(i),
	}
}

// FixtureHeader returns the float32 header WriteDART uses for n pulses.
func FixtureHeader(n int) dart.Header {
	return dart.Header{
		Version:       1,
		IsFloat:       true,
		TimeStep:      FixtureTimeStep,
		DistStep:      FixtureDistStep,
		ConvolvedBins: FixtureBins,
		PulseCount:    int32(n),
	}
}

// WriteDART writes a fixture file named name in a fresh temp directory, one
// NadirPulse per waveform, and returns its path. Each waveform must hold
// FixtureBins samples.
func WriteDART(t testing.TB, name string, waveforms ...[]float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	w, err := dart.NewWriter(f, FixtureHeader(len(waveforms)))
	if err != nil {
		t.Fatalf("write fixture header: %v", err)
	}
	for i, y := range waveforms {
		if err := w.WritePulse(NadirPulse(i), y); err != nil {
			t.Fatalf("write fixture pulse: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush fixture: %v", err)
	}
	return path
}
