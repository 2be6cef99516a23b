package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/dartlas/internal/config"
	"github.com/banshee-data/dartlas/internal/dart"
	"github.com/banshee-data/dartlas/internal/las"
	"github.com/banshee-data/dartlas/internal/lidarerr"
	"github.com/banshee-data/dartlas/internal/monitoring"
)

// RunDetectedPoints converts a DetectedPoints text export to LAS. Every
// named column after the fixed six becomes a float64 extra byte attribute;
// a column named "intensity" (any case) also fills the point intensity.
func (c *Converter) RunDetectedPoints(ctx context.Context, in, out string) (summary *Summary, err error) {
	cfg := c.Config
	if cfg == nil {
		cfg = config.DefaultRunConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GetWaveform() {
		return nil, lidarerr.NewConfigurationError("waveform", "detected points carry no waveforms")
	}

	dp, err := dart.ReadDetectedPointsFile(in)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("%s: %d detected points, %d extra attributes", filepath.Base(in), len(dp.Points), len(dp.ExtraNames))

	// Waveform is rejected above, so there is no descriptor; the DART extra
	// attributes are replaced by the file's own columns.
	opts, _ := lasOptions(cfg, dart.Header{}, in, 1)
	opts.Extra = nil
	intensityCol := -1
	for i, name := range dp.ExtraNames {
		opts.Extra = append(opts.Extra, las.ExtraField{Name: name, Type: las.ExtraFloat64})
		if intensityCol < 0 && strings.EqualFold(name, "intensity") {
			intensityCol = i
		}
	}

	w, err := las.Create(out, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			w.Close()
			os.Remove(out)
		}
	}()

	summary = &Summary{Input: in, Output: out, Gain: 1, Offset: cfg.GetDigitizerOffset()}
	var rec las.Record
	for i := range dp.Points {
		if i%4096 == 0 {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
		}
		pt := &dp.Points[i]
		rec = las.Record{
			X:               pt.X,
			Y:               pt.Y,
			Z:               pt.Z,
			ReturnNumber:    uint8(pt.ReturnNumber),
			NumberOfReturns: uint8(pt.NumberOfReturns),
			GPSTime:         pt.GPSTime,
			Extra:           pt.Extra,
		}
		if intensityCol >= 0 {
			rec.Intensity = clampIntensity(pt.Extra[intensityCol])
			summary.sampleIntensity(pt.Extra[intensityCol])
		}
		if err = w.Write(&rec); err != nil {
			return nil, err
		}
	}

	summary.Points = w.Count()
	summary.DroppedEchoes = int(w.Dropped())
	if err = w.Close(); err != nil {
		return nil, err
	}
	summary.Log()
	return summary, nil
}
