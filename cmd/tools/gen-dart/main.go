// Command gen-dart writes a synthetic DART binary for exercising dart2las.
// Each pulse looks straight down from a sensor on a regular grid and carries
// one to three Gaussian echoes plus optional noise.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/banshee-data/dartlas/internal/dart"
	"github.com/banshee-data/dartlas/internal/waveform"
)

func main() {
	output := flag.String("o", "synthetic.bin", "output path")
	cols := flag.Int("cols", 20, "pulses per row")
	rows := flag.Int("rows", 20, "rows")
	bins := flag.Int("bins", 128, "bins per waveform")
	spacing := flag.Float64("spacing", 0.5, "grid spacing in metres")
	height := flag.Float64("height", 30, "sensor height in metres")
	noise := flag.Float64("noise", 0, "uniform noise amplitude")
	fixed := flag.Bool("fixed", false, "write int64 samples instead of float32")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	h := dart.Header{
		Version:       1,
		IsFloat:       !*fixed,
		TimeStep:      1,
		DistStep:      0.3,
		ConvolvedBins: int32(*bins),
		PulseCount:    int32(*cols * *rows),
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()

	w, err := dart.NewWriter(f, h)
	if err != nil {
		log.Fatalf("failed to write header: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	samples := make([]float64, *bins)
	center := float64(*bins) / 2
	for j := 0; j < *rows; j++ {
		for i := 0; i < *cols; i++ {
			p := &dart.Pulse{
				// Scene-pointing; AppendPulse restores the file convention.
				Direction:     [3]float64{0, 0, -1},
				Sensor:        [3]float64{float64(i) * *spacing, float64(j) * *spacing, *height},
				RangeToCenter: *height,
				CenterBin:     center,
				ScanAngle:     0,
				GPSTime:       float64(j**cols+i) * 1e-4,
				PixelI:        int32(i),
				PixelJ:        int32(j),
			}
			echoes := syntheticEchoes(rng, *bins)
			for k := range samples {
				v := waveform.Mixture(echoes, float64(k))
				if *noise > 0 {
					v += rng.Float64() * *noise
				}
				samples[k] = v
			}
			if err := w.WritePulse(p, samples); err != nil {
				log.Fatalf("failed to write pulse: %v", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("failed to flush: %v", err)
	}
	log.Printf("wrote %d pulses of %d bins to %s", h.PulseCount, h.ConvolvedBins, *output)
}

// syntheticEchoes places up to three separated echoes, given by peak
// height, in the first three quarters of the waveform. The last is the
// strongest.
func syntheticEchoes(rng *rand.Rand, bins int) []waveform.Echo {
	n := 1 + rng.Intn(3)
	echoes := make([]waveform.Echo, 0, n)
	span := float64(bins) * 0.75
	for k := 0; k < n; k++ {
		c := span * (float64(k) + 0.5 + 0.3*(rng.Float64()-0.5)) / float64(n)
		sigma := 1 + rng.Float64()*1.5
		amp := 50 + rng.Float64()*100
		if k == n-1 {
			amp *= 2
		}
		echoes = append(echoes, waveform.Echo{Amplitude: amp * sigma * math.Sqrt(2*math.Pi), Center: c, Sigma: sigma})
	}
	return echoes
}
