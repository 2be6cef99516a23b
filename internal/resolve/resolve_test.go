package resolve

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dartlas/internal/config"
	"github.com/banshee-data/dartlas/internal/dart"
	"github.com/banshee-data/dartlas/internal/lidarerr"
	"github.com/banshee-data/dartlas/internal/waveform"
)

var testHeader = dart.Header{
	IsFloat:       true,
	TimeStep:      1,
	DistStep:      0.3,
	ConvolvedBins: 64,
	PulseCount:    1,
}

func nadirPulse() *dart.Pulse {
	return &dart.Pulse{
		Index:         7,
		Direction:     [3]float64{0, 0, -1},
		Sensor:        [3]float64{10, 20, 1000},
		RangeToCenter: 900,
		CenterBin:     32,
		ScanAngle:     12.3,
		GPSTime:       42.5,
		PixelI:        3,
		PixelJ:        4,
	}
}

func TestResolveGeometry(t *testing.T) {
	r, err := NewResolver(testHeader, config.DefaultRunConfig())
	require.NoError(t, err)

	e := waveform.Echo{Amplitude: 50, Center: 30, Sigma: 2}
	pts, dropped := r.Resolve(nil, nadirPulse(), []waveform.Echo{e})
	require.Len(t, pts, 1)
	assert.Zero(t, dropped)

	p := pts[0]
	assert.InDelta(t, 10, p.X, 1e-9)
	assert.InDelta(t, 20, p.Y, 1e-9)
	assert.InDelta(t, 1000-(900+(30.5-32)*0.15), p.Z, 1e-9)
	assert.Equal(t, 1, p.ReturnNumber)
	assert.Equal(t, 1, p.NumberOfReturns)
	assert.Equal(t, 42.5, p.GPSTime)
	assert.Equal(t, 7, p.PulseIndex)
	assert.Equal(t, int16(12), p.ScanAngle)
	assert.InDelta(t, 25, p.Intensity, 1e-12)
	assert.InDelta(t, e.FWHM(), p.Width, 1e-12)
	assert.InDelta(t, 10*math.Log10(e.Peak()), p.AmplitudeDB, 1e-9)

	assert.Equal(t, float32(30000), p.WaveLocation)
	assert.Zero(t, p.Xt)
	assert.Zero(t, p.Yt)
	assert.InDelta(t, -0.00015, p.Zt, 1e-9)
}

func TestAmplitudeDBFloor(t *testing.T) {
	cfg := config.DefaultRunConfig()
	cfg.MinDetectableIntensity = config.PtrFloat64(5)
	r, err := NewResolver(testHeader, cfg)
	require.NoError(t, err)

	weak := waveform.Echo{Amplitude: 5, Center: 10, Sigma: 2}
	strong := waveform.Echo{Amplitude: 500, Center: 40, Sigma: 2}
	require.Less(t, weak.Peak(), 5.0)
	require.Greater(t, strong.Peak(), 5.0)

	pts, _ := r.Resolve(nil, nadirPulse(), []waveform.Echo{weak, strong})
	require.Len(t, pts, 2)
	assert.Equal(t, 0.0, pts[0].AmplitudeDB)
	assert.InDelta(t, 10*math.Log10(strong.Peak()/5), pts[1].AmplitudeDB, 1e-9)
	for _, p := range pts {
		assert.GreaterOrEqual(t, p.AmplitudeDB, 0.0)
	}
}

func TestResolveRanksByCentre(t *testing.T) {
	r, err := NewResolver(testHeader, config.DefaultRunConfig())
	require.NoError(t, err)

	echoes := []waveform.Echo{
		{Amplitude: 10, Center: 40, Sigma: 1},
		{Amplitude: 30, Center: 10, Sigma: 1},
		{Amplitude: 20, Center: 25, Sigma: 1},
	}
	pts, dropped := r.Resolve(nil, nadirPulse(), echoes)
	require.Len(t, pts, 3)
	assert.Zero(t, dropped)
	for i, p := range pts {
		assert.Equal(t, i+1, p.ReturnNumber)
		assert.Equal(t, 3, p.NumberOfReturns)
	}
	assert.InDelta(t, 30, pts[0].Intensity, 1e-12)
	assert.InDelta(t, 20, pts[1].Intensity, 1e-12)
	assert.InDelta(t, 10, pts[2].Intensity, 1e-12)
	assert.Greater(t, pts[0].Z, pts[1].Z)
	assert.Greater(t, pts[1].Z, pts[2].Z)
}

// Echoes beyond the cap are dropped by rank, not by strength.
func TestResolveDropsEchoesBeyondCap(t *testing.T) {
	cfg := config.DefaultRunConfig()
	cfg.MaxReturns = config.PtrInt(1)
	r, err := NewResolver(testHeader, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, r.MaxReturns())

	echoes := []waveform.Echo{
		{Amplitude: 90, Center: 40, Sigma: 1},
		{Amplitude: 5, Center: 10, Sigma: 1},
		{Amplitude: 60, Center: 25, Sigma: 1},
	}
	pts, dropped := r.Resolve(nil, nadirPulse(), echoes)
	require.Len(t, pts, 1)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, pts[0].ReturnNumber)
	assert.Equal(t, 1, pts[0].NumberOfReturns)
	assert.InDelta(t, 5, pts[0].Intensity, 1e-12)
}

func TestResolveFormatCapAndAppend(t *testing.T) {
	r, err := NewResolver(testHeader, config.DefaultRunConfig())
	require.NoError(t, err)
	require.Equal(t, 5, r.MaxReturns())

	echoes := make([]waveform.Echo, 7)
	for i := range echoes {
		echoes[i] = waveform.Echo{Amplitude: 1, Center: float64(60 - 5*i), Sigma: 1}
	}
	prior := []Point{{PulseIndex: 1}}
	pts, dropped := r.Resolve(prior, nadirPulse(), echoes)
	require.Len(t, pts, 6)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, pts[0].PulseIndex)
	for i, p := range pts[1:] {
		assert.Equal(t, i+1, p.ReturnNumber)
		assert.Equal(t, 5, p.NumberOfReturns)
	}

	pts, dropped = r.Resolve(pts[:0], nadirPulse(), nil)
	assert.Empty(t, pts)
	assert.Zero(t, dropped)
}

func TestIntensityModes(t *testing.T) {
	e := waveform.Echo{Amplitude: 12, Center: 5, Sigma: 3}
	tests := map[string]float64{
		config.IntensityPeak:     4,
		config.IntensityIntegral: 12,
		config.IntensitySigma:    30,
		config.IntensityDevice:   12 / (3 * math.Sqrt(2*math.Pi)),
	}
	for mode, want := range tests {
		t.Run(mode, func(t *testing.T) {
			f, err := IntensityFunc(mode)
			require.NoError(t, err)
			assert.InDelta(t, want, f(e), 1e-12)
		})
	}

	_, err := IntensityFunc("loudness")
	require.Error(t, err)
	assert.True(t, lidarerr.IsConfiguration(err))

	cfg := config.DefaultRunConfig()
	cfg.IntensityMode = config.PtrString("loudness")
	_, err = NewResolver(testHeader, cfg)
	assert.True(t, lidarerr.IsConfiguration(err))
}

func TestEncodeScanAngle(t *testing.T) {
	assert.Equal(t, int16(12), EncodeScanAngle(12.3, false))
	assert.Equal(t, int16(-13), EncodeScanAngle(-12.5, false))
	assert.Equal(t, int16(90), EncodeScanAngle(120, false))
	assert.Equal(t, int16(2050), EncodeScanAngle(12.3, true))
	assert.Equal(t, int16(-30000), EncodeScanAngle(-200, true))
	assert.Equal(t, int16(0), EncodeScanAngle(math.NaN(), true))
}

func TestResolveWideScanAngle(t *testing.T) {
	cfg := config.DefaultRunConfig()
	cfg.LASVersion = config.PtrString("1.4")
	cfg.PointFormat = config.PtrInt(6)
	r, err := NewResolver(testHeader, cfg)
	require.NoError(t, err)
	assert.Equal(t, 15, r.MaxReturns())

	pts, _ := r.Resolve(nil, nadirPulse(), []waveform.Echo{{Amplitude: 1, Center: 3, Sigma: 1}})
	require.Len(t, pts, 1)
	assert.Equal(t, int16(2050), pts[0].ScanAngle)
}

func TestEnergyMap(t *testing.T) {
	m := NewEnergyMap()
	p := nadirPulse()
	m.AddPulse(p, []float64{1, 2, 3})
	m.Add(3, 4, 4)
	m.Add(-1, 9, 0.5)
	m.Add(3, 1, 2)

	other := NewEnergyMap()
	other.Add(3, 4, 10)
	other.Add(8, 8, 1)
	m.Merge(other)

	assert.Equal(t, 4, m.Len())
	cells := m.Cells()
	require.Len(t, cells, 4)
	assert.Equal(t, Cell{PixelKey{-1, 9}, 0.5, 1}, cells[0])
	assert.Equal(t, Cell{PixelKey{3, 1}, 2, 1}, cells[1])
	assert.Equal(t, Cell{PixelKey{3, 4}, 20, 3}, cells[2])
	assert.Equal(t, Cell{PixelKey{8, 8}, 1, 1}, cells[3])

	var buf bytes.Buffer
	require.NoError(t, m.WriteTSV(&buf))
	assert.Equal(t, "i\tj\tenergy\tpulses\n-1\t9\t0.5\t1\n3\t1\t2\t1\n3\t4\t20\t3\n8\t8\t1\t1\n", buf.String())
}
