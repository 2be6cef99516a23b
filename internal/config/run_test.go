package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dartlas/internal/lidarerr"
)

func TestRunConfigDefaults(t *testing.T) {
	cfg := DefaultRunConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "1.3", cfg.GetLASVersion())
	assert.Equal(t, 1, cfg.GetPointFormat())
	assert.False(t, cfg.HasFixedGain())
	assert.Equal(t, 255.0, cfg.GetOutputCeiling())
	assert.Equal(t, IntensityPeak, cfg.GetIntensityMode())
	assert.Equal(t, 8, cfg.GetWaveformBits())
	assert.Equal(t, 2, cfg.GetMinPeakDistance())
	assert.Equal(t, 16, cfg.GetMaxComponents())
	assert.Equal(t, [3]float64{0.001, 0.001, 0.001}, cfg.GetScale())
	assert.Equal(t, 5, cfg.GetMaxReturns())
	assert.Equal(t, 0.1, cfg.GetProgressFraction())
}

func TestGetMaxReturns(t *testing.T) {
	cfg := &RunConfig{LASVersion: PtrString("1.4"), PointFormat: PtrInt(6)}
	assert.Equal(t, 15, cfg.GetMaxReturns())

	cfg.MaxReturns = PtrInt(1)
	assert.Equal(t, 1, cfg.GetMaxReturns())

	// A cap above the format limit cannot raise it.
	cfg.MaxReturns = PtrInt(40)
	assert.Equal(t, 15, cfg.GetMaxReturns())
}

func TestValidateWaveformNeedsWaveFields(t *testing.T) {
	for _, format := range []int{0, 1, 2, 3} {
		cfg := RunConfig{PointFormat: PtrInt(format), Waveform: PtrBool(true)}
		err := cfg.Validate()
		var fe *lidarerr.FormatError
		require.ErrorAs(t, err, &fe, "format %d", format)
		assert.Equal(t, "waveform", fe.Field)
		assert.False(t, lidarerr.IsConfiguration(err))
	}
	cfg := RunConfig{PointFormat: PtrInt(4), Waveform: PtrBool(true)}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		cfg   RunConfig
		field string
	}{
		{"unknown version", RunConfig{LASVersion: PtrString("2.0")}, "las_version"},
		{"format out of range", RunConfig{PointFormat: PtrInt(11)}, "point_format"},
		{"format 6 under 1.3", RunConfig{PointFormat: PtrInt(6)}, "point_format"},
		{"format 4 under 1.2", RunConfig{LASVersion: PtrString("1.2"), PointFormat: PtrInt(4)}, "point_format"},
		{"bad waveform bits", RunConfig{WaveformBits: PtrInt(12)}, "waveform_bits"},
		{"ceiling too high for 8 bit", RunConfig{PointFormat: PtrInt(4), Waveform: PtrBool(true), OutputCeiling: PtrFloat64(1000)}, "output_ceiling"},
		{"zero gain", RunConfig{DigitizerGain: PtrFloat64(0)}, "digitizer_gain"},
		{"bad intensity", RunConfig{IntensityMode: PtrString("loudness")}, "intensity_mode"},
		{"zero scale", RunConfig{Scale: &[3]float64{0.01, 0, 0.01}}, "scale"},
		{"zero max components", RunConfig{MaxComponents: PtrInt(0)}, "max_components"},
		{"negative max returns", RunConfig{MaxReturns: PtrInt(-1)}, "max_returns"},
		{"progress fraction", RunConfig{ProgressFraction: PtrFloat64(0)}, "progress_fraction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			var ce *lidarerr.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestValidateAcceptsWaveformFormats(t *testing.T) {
	for _, tc := range []struct {
		version string
		format  int
	}{{"1.3", 4}, {"1.3", 5}, {"1.4", 9}, {"1.4", 10}} {
		cfg := RunConfig{LASVersion: PtrString(tc.version), PointFormat: PtrInt(tc.format), Waveform: PtrBool(true), WaveformBits: PtrInt(16), OutputCeiling: PtrFloat64(4095)}
		assert.NoError(t, cfg.Validate(), "version %s format %d", tc.version, tc.format)
	}
}

func TestLoadRunConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"las_version": "1.4",
		"point_format": 9,
		"waveform": true,
		"intensity_mode": "Device",
		"scale": [0.01, 0.01, 0.01],
		"digitizer_gain": 2.5
	}`), 0o644))

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.GetPointFormat())
	assert.True(t, cfg.GetWaveform())
	assert.Equal(t, IntensityDevice, cfg.GetIntensityMode())
	assert.Equal(t, [3]float64{0.01, 0.01, 0.01}, cfg.GetScale())
	assert.True(t, cfg.HasFixedGain())
	assert.Equal(t, 2.5, cfg.GetDigitizerGain())
}

func TestLoadRunConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("point_format: 3\nextra_bytes: true\nnoise_threshold: 4\n"), 0o644))

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.GetPointFormat())
	assert.True(t, cfg.GetExtraBytes())
	assert.Equal(t, 4.0, cfg.GetNoiseThreshold())
}

func TestLoadRunConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRunConfig(filepath.Join(dir, "run.txt"))
	assert.ErrorContains(t, err, "extension")

	_, err = LoadRunConfig(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "stat")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"point_format": "four"}`), 0o644))
	_, err = LoadRunConfig(bad)
	assert.ErrorContains(t, err, "parse")

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"intensity_mode": "loud"}`), 0o644))
	_, err = LoadRunConfig(invalid)
	assert.True(t, lidarerr.IsConfiguration(err))
}
