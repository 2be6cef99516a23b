// Package convert drives a DART binary file through decomposition and
// resolution into a LAS point cloud.
//
// A run moves through these states:
//
//	Idle → HeaderRead → [GainCalibration] → PulseProcessing(×N) → Finalizing → Done
//
// Any read or format failure aborts the run and removes the partial output.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/banshee-data/dartlas/internal/config"
	"github.com/banshee-data/dartlas/internal/dart"
	"github.com/banshee-data/dartlas/internal/las"
	"github.com/banshee-data/dartlas/internal/lidarerr"
	"github.com/banshee-data/dartlas/internal/monitoring"
	"github.com/banshee-data/dartlas/internal/resolve"
	"github.com/banshee-data/dartlas/internal/timeutil"
	"github.com/banshee-data/dartlas/internal/version"
	"github.com/banshee-data/dartlas/internal/waveform"
)

// SystemIdentifier is written into the LAS header.
const SystemIdentifier = "DART simulation"

// Progress is reported every progress_fraction of the pulse count.
type Progress struct {
	Pulse   int // zero-based index of the last processed pulse
	Total   int
	Elapsed float64 // seconds
	Sensor  [3]float64
}

// PulseObserver sees every decoded pulse after decomposition. samples is
// the digitized waveform and is only valid for the duration of the call.
type PulseObserver func(p *dart.Pulse, samples []float64, echoes []waveform.Echo)

// Converter runs conversions with one configuration.
type Converter struct {
	Config *config.RunConfig
	Clock  timeutil.Clock

	// OnProgress, when set, receives each progress observation in addition
	// to the log line.
	OnProgress func(Progress)
	// OnPulse, when set, is called for every pulse.
	OnPulse PulseObserver
}

// New returns a Converter using the real clock.
func New(cfg *config.RunConfig) *Converter {
	return &Converter{Config: cfg, Clock: timeutil.RealClock{}}
}

// Convert converts in to out and returns the digitizer offset and gain that
// were applied.
func Convert(ctx context.Context, in, out string, cfg *config.RunConfig) (offset, gain float64, err error) {
	s, err := New(cfg).Run(ctx, in, out)
	if err != nil {
		return 0, 0, err
	}
	return s.Offset, s.Gain, nil
}

// Run converts the DART binary file in to the LAS file out. When waveform
// packets are enabled the packets go to the .wdp file next to out.
func (c *Converter) Run(ctx context.Context, in, out string) (summary *Summary, err error) {
	cfg := c.Config
	if cfg == nil {
		cfg = config.DefaultRunConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()

	r, err := dart.Open(in)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h := r.Header()
	monitoring.Logf("%s: version %d, %d pulses, %d bins (%s samples), time step %g ns, distance step %g m",
		filepath.Base(in), h.Version, h.PulseCount, h.ConvolvedBins, sampleKind(h), h.TimeStep, h.DistStep)

	resolver, err := resolve.NewResolver(h, cfg)
	if err != nil {
		return nil, err
	}

	summary = &Summary{Input: in, Output: out, Offset: cfg.GetDigitizerOffset()}
	ceiling := cfg.GetOutputCeiling()
	if cfg.HasFixedGain() {
		summary.Gain = cfg.GetDigitizerGain()
	} else {
		summary.Gain, summary.GlobalMax, err = CalibrateGain(ctx, r, ceiling)
		if err != nil {
			return nil, err
		}
		monitoring.Logf("calibrated digitizer gain %g from global maximum %g", summary.Gain, summary.GlobalMax)
	}

	opts, wave := lasOptions(cfg, h, in, summary.Gain)
	w, err := las.Create(out, opts)
	if err != nil {
		return nil, err
	}
	var wdp *las.WaveformWriter
	defer func() {
		if err == nil {
			return
		}
		w.Close()
		os.Remove(out)
		if wdp != nil {
			wdp.Close()
			os.Remove(las.WaveformPath(out))
		}
		if path := cfg.GetEnergyMap(); path != "" {
			os.Remove(path)
		}
	}()
	if wave != nil {
		if wdp, err = las.CreateWaveformFile(las.WaveformPath(out), *wave); err != nil {
			return nil, err
		}
	}

	var energy *resolve.EnergyMap
	if cfg.GetEnergyMap() != "" {
		energy = resolve.NewEnergyMap()
	}

	dec := waveform.Decomposer{
		NoiseThreshold:  cfg.GetNoiseThreshold(),
		MinPeakDistance: cfg.GetMinPeakDistance(),
		MaxComponents:   cfg.GetMaxComponents(),
	}
	p := &pipeline{
		resolver:   resolver,
		decomposer: dec,
		writer:     w,
		wdp:        wdp,
		energy:     energy,
		summary:    summary,
		gain:       summary.Gain,
		ceiling:    ceiling,
		extra:      len(opts.Extra) > 0,
		observer:   c.OnPulse,
	}

	total := int(h.PulseCount)
	every := int(math.Ceil(cfg.GetProgressFraction() * float64(total)))
	if every < 1 {
		every = 1
	}

	for {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		pulse, samples, rerr := r.Next()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			err = rerr
			return nil, err
		}
		if err = p.process(pulse, samples); err != nil {
			return nil, err
		}

		if done := pulse.Index + 1; done%every == 0 || done == total {
			pr := Progress{
				Pulse:   pulse.Index,
				Total:   total,
				Elapsed: clock.Since(start).Seconds(),
				Sensor:  pulse.Sensor,
			}
			monitoring.Logf("pulse %d/%d (%.0f%%) after %.1fs, sensor at (%.2f, %.2f, %.2f)",
				done, total, 100*float64(done)/float64(total), pr.Elapsed, pr.Sensor[0], pr.Sensor[1], pr.Sensor[2])
			if c.OnProgress != nil {
				c.OnProgress(pr)
			}
		}
	}

	// Finalizing.
	summary.Points = w.Count()
	if err = w.Close(); err != nil {
		return nil, err
	}
	if wdp != nil {
		summary.WavePackets = wdp.Packets()
		if err = wdp.Close(); err != nil {
			return nil, err
		}
	}
	if energy != nil {
		if err = energy.WriteTSVFile(cfg.GetEnergyMap()); err != nil {
			return nil, err
		}
		monitoring.Logf("wrote energy map with %d cells to %s", energy.Len(), cfg.GetEnergyMap())
	}

	summary.Elapsed = clock.Since(start)
	summary.Log()
	return summary, nil
}

// echoDecomposer is satisfied by waveform.Decomposer.
type echoDecomposer interface {
	Decompose(samples []float64) ([]waveform.Echo, error)
}

// pipeline holds the per-run state of PulseProcessing.
type pipeline struct {
	resolver   *resolve.Resolver
	decomposer echoDecomposer
	writer     *las.Writer
	wdp        *las.WaveformWriter
	energy     *resolve.EnergyMap
	summary    *Summary
	gain       float64
	ceiling    float64
	extra      bool
	observer   PulseObserver

	digitized []float64
	points    []resolve.Point
	record    las.Record
}

// process runs digitize → decompose → resolve → write for one pulse.
func (p *pipeline) process(pulse *dart.Pulse, raw []float64) error {
	s := p.summary
	s.Pulses++
	if p.energy != nil {
		p.energy.AddPulse(pulse, raw)
	}

	p.digitized = Digitize(p.digitized, raw, p.gain, p.ceiling)
	echoes, err := p.decomposer.Decompose(p.digitized)
	if errors.Is(err, lidarerr.ErrFitFailure) {
		s.SkippedPulses++
		monitoring.Debugf("pulse %d: %v", pulse.Index, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("pulse %d: %w", pulse.Index, err)
	}
	if p.observer != nil {
		p.observer(pulse, p.digitized, echoes)
	}

	s.countEchoes(len(echoes))
	if len(echoes) == 0 {
		s.EmptyPulses++
		return nil
	}

	var dropped int
	p.points, dropped = p.resolver.Resolve(p.points[:0], pulse, echoes)
	s.DroppedEchoes += dropped

	rec := &p.record
	*rec = las.Record{Extra: rec.Extra[:0]}
	if p.wdp != nil {
		off, size, err := p.wdp.WritePacket(p.digitized)
		if err != nil {
			return err
		}
		rec.DescriptorIndex = 1
		rec.WaveOffset = off
		rec.WaveSize = size
	}

	for i := range p.points {
		pt := &p.points[i]
		rec.X, rec.Y, rec.Z = pt.X, pt.Y, pt.Z
		rec.Intensity = clampIntensity(pt.Intensity)
		rec.ReturnNumber = uint8(pt.ReturnNumber)
		rec.NumberOfReturns = uint8(pt.NumberOfReturns)
		rec.ScanAngle = pt.ScanAngle
		rec.GPSTime = pt.GPSTime
		if p.wdp != nil {
			rec.WaveLocation = pt.WaveLocation
			rec.Xt, rec.Yt, rec.Zt = pt.Xt, pt.Yt, pt.Zt
		}
		if p.extra {
			rec.Extra = append(rec.Extra[:0], pt.Width, pt.AmplitudeDB)
		}
		if err := p.writer.Write(rec); err != nil {
			return fmt.Errorf("pulse %d: %w", pulse.Index, err)
		}
		s.sampleIntensity(pt.Intensity)
	}
	return nil
}

// lasOptions maps the run configuration onto writer options. The wave
// descriptor is nil unless waveform packets are enabled.
func lasOptions(cfg *config.RunConfig, h dart.Header, in string, gain float64) (las.Options, *las.WaveDescriptor) {
	opts := las.Options{
		Minor:              cfg.LASMinor(),
		PointFormat:        cfg.GetPointFormat(),
		Scale:              cfg.GetScale(),
		Offset:             cfg.GetOffset(),
		GUID:               uuid.NewSHA1(uuid.NameSpaceURL, []byte(filepath.Base(in))),
		SystemIdentifier:   SystemIdentifier,
		GeneratingSoftware: version.GeneratingSoftware(),
		CreationDay:        uint16(cfg.GetCreationDay()),
		CreationYear:       uint16(cfg.GetCreationYear()),
	}
	if cfg.GetExtraBytes() {
		opts.Extra = []las.ExtraField{
			{Name: "width", Description: "echo FWHM (ns)", Type: las.ExtraFloat32},
			{Name: "amplitude_db", Description: "echo peak over floor (dB)", Type: las.ExtraFloat32},
		}
	}
	if !cfg.GetWaveform() {
		return opts, nil
	}
	wave := &las.WaveDescriptor{
		BitsPerSample:   uint8(cfg.GetWaveformBits()),
		NumberOfSamples: uint32(h.ConvolvedBins),
		TemporalSpacing: uint32(math.Round(h.TimeStep * 1000)),
		DigitizerGain:   1 / gain,
		DigitizerOffset: cfg.GetDigitizerOffset(),
	}
	opts.Wave = wave
	return opts, wave
}

func clampIntensity(v float64) uint16 {
	switch {
	case !(v > 0):
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(math.Round(v))
	}
}

func sampleKind(h dart.Header) string {
	if h.IsFloat {
		return "float32"
	}
	return "int64"
}
