package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/dartlas/internal/dart"
	"github.com/banshee-data/dartlas/internal/lidarerr"
)

// GlobalMax scans every pulse of r for the largest raw sample and leaves the
// reader positioned after the last pulse. It returns 0 for a file without
// positive samples.
func GlobalMax(ctx context.Context, r *dart.Reader) (float64, error) {
	var maxSample float64
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		_, samples, err := r.Next()
		if errors.Is(err, io.EOF) {
			return maxSample, nil
		}
		if err != nil {
			return 0, err
		}
		if len(samples) == 0 {
			continue
		}
		if m := floats.Max(samples); m > maxSample {
			maxSample = m
		}
	}
}

// CalibrateGain returns ceiling/M where M is the file's largest raw sample,
// then rewinds r to the first pulse.
func CalibrateGain(ctx context.Context, r *dart.Reader, ceiling float64) (gain, globalMax float64, err error) {
	globalMax, err = GlobalMax(ctx, r)
	if err != nil {
		return 0, 0, fmt.Errorf("gain calibration: %w", err)
	}
	if !(globalMax > 0) || math.IsInf(globalMax, 1) {
		return 0, globalMax, lidarerr.NewConfigurationError("digitizer_gain",
			"%s has no positive finite sample to calibrate against; set digitizer_gain explicitly", r.Name())
	}
	if err := r.Reset(); err != nil {
		return 0, 0, fmt.Errorf("failed to rewind %s after calibration: %w", r.Name(), err)
	}
	return ceiling / globalMax, globalMax, nil
}

// Digitize writes min(ceiling, round(raw·gain)), floored at zero, into dst
// and returns it.
func Digitize(dst, raw []float64, gain, ceiling float64) []float64 {
	dst = append(dst[:0], raw...)
	for i, v := range dst {
		d := math.Round(v * gain)
		switch {
		case d > ceiling:
			d = ceiling
		case !(d > 0):
			d = 0
		}
		dst[i] = d
	}
	return dst
}
