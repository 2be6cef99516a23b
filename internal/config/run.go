package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/dartlas/internal/las"
	"github.com/banshee-data/dartlas/internal/lidarerr"
)

// Intensity conventions accepted by intensity_mode.
const (
	IntensityPeak     = "peak"     // amplitude / sigma
	IntensityIntegral = "integral" // amplitude
	IntensitySigma    = "sigma"    // sigma * 10
	IntensityDevice   = "device"   // amplitude / (sigma * sqrt(2*pi))
)

var lasMinor = map[string]int{"1.2": 2, "1.3": 3, "1.4": 4}

// RunConfig holds the options for one conversion run. Fields left nil fall
// back to the defaults returned by the Get* accessors, so partial files are
// safe to load.
type RunConfig struct {
	LASVersion  *string `json:"las_version,omitempty" yaml:"las_version,omitempty"`
	PointFormat *int    `json:"point_format,omitempty" yaml:"point_format,omitempty"`

	// DigitizerGain set to a positive value skips the calibration pre-pass.
	DigitizerGain   *float64 `json:"digitizer_gain,omitempty" yaml:"digitizer_gain,omitempty"`
	DigitizerOffset *float64 `json:"digitizer_offset,omitempty" yaml:"digitizer_offset,omitempty"`
	OutputCeiling   *float64 `json:"output_ceiling,omitempty" yaml:"output_ceiling,omitempty"`

	IntensityMode *string `json:"intensity_mode,omitempty" yaml:"intensity_mode,omitempty"`

	Waveform     *bool `json:"waveform,omitempty" yaml:"waveform,omitempty"`
	WaveformBits *int  `json:"waveform_bits,omitempty" yaml:"waveform_bits,omitempty"`
	ExtraBytes   *bool `json:"extra_bytes,omitempty" yaml:"extra_bytes,omitempty"`

	NoiseThreshold  *float64 `json:"noise_threshold,omitempty" yaml:"noise_threshold,omitempty"`
	MinPeakDistance *int     `json:"min_peak_distance,omitempty" yaml:"min_peak_distance,omitempty"`
	// MaxComponents bounds the Gaussians fitted per pulse; the strongest peaks win.
	MaxComponents *int `json:"max_components,omitempty" yaml:"max_components,omitempty"`

	Scale  *[3]float64 `json:"scale,omitempty" yaml:"scale,omitempty"`
	Offset *[3]float64 `json:"offset,omitempty" yaml:"offset,omitempty"`

	MinDetectableIntensity *float64 `json:"min_detectable_intensity,omitempty" yaml:"min_detectable_intensity,omitempty"`
	MaxReturns             *int     `json:"max_returns,omitempty" yaml:"max_returns,omitempty"`

	EnergyMap        *string  `json:"energy_map,omitempty" yaml:"energy_map,omitempty"`
	ProgressFraction *float64 `json:"progress_fraction,omitempty" yaml:"progress_fraction,omitempty"`

	// Header creation date. Kept in the config so repeated runs are byte-identical.
	CreationDay  *int `json:"creation_day,omitempty" yaml:"creation_day,omitempty"`
	CreationYear *int `json:"creation_year,omitempty" yaml:"creation_year,omitempty"`
}

// Helper functions to create pointers
func PtrFloat64(v float64) *float64 { return &v }
func PtrBool(v bool) *bool          { return &v }
func PtrString(v string) *string    { return &v }
func PtrInt(v int) *int             { return &v }

// DefaultRunConfig returns a RunConfig with all fields unset.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{}
}

// LoadRunConfig loads a RunConfig from a .json, .yaml or .yml file and validates it.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultRunConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot be honoured.
// Asking for waveform packets under a point format without wave fields is
// a *lidarerr.FormatError; every other failure is a
// *lidarerr.ConfigurationError.
func (c *RunConfig) Validate() error {
	version := c.GetLASVersion()
	minor, ok := lasMinor[version]
	if !ok {
		return lidarerr.NewConfigurationError("las_version", "unsupported LAS version %q (want 1.2, 1.3 or 1.4)", version)
	}

	format := c.GetPointFormat()
	switch {
	case format < 0 || format > 10:
		return lidarerr.NewConfigurationError("point_format", "point format %d out of range 0-10", format)
	case las.MinMinor(format) > minor:
		return lidarerr.NewConfigurationError("point_format", "point format %d requires LAS 1.%d or later, got %s", format, las.MinMinor(format), version)
	}

	if c.GetWaveform() && !FormatHasWaveform(format) {
		return lidarerr.NewFormatError("", "waveform", "point format %d has no waveform packet fields (use 4, 5, 9 or 10)", format)
	}

	bits := c.GetWaveformBits()
	if bits != 8 && bits != 16 {
		return lidarerr.NewConfigurationError("waveform_bits", "waveform_bits must be 8 or 16, got %d", bits)
	}

	ceiling := c.GetOutputCeiling()
	if ceiling <= 0 {
		return lidarerr.NewConfigurationError("output_ceiling", "output_ceiling must be positive, got %f", ceiling)
	}
	if c.GetWaveform() && ceiling > float64(int(1)<<bits-1) {
		return lidarerr.NewConfigurationError("output_ceiling", "output_ceiling %g does not fit in %d-bit samples", ceiling, bits)
	}

	if c.DigitizerGain != nil && *c.DigitizerGain <= 0 {
		return lidarerr.NewConfigurationError("digitizer_gain", "digitizer_gain must be positive, got %f", *c.DigitizerGain)
	}

	switch mode := c.GetIntensityMode(); mode {
	case IntensityPeak, IntensityIntegral, IntensitySigma, IntensityDevice:
	default:
		return lidarerr.NewConfigurationError("intensity_mode", "unrecognized intensity mode %q", mode)
	}

	for i, s := range c.GetScale() {
		if s <= 0 {
			return lidarerr.NewConfigurationError("scale", "scale[%d] must be positive, got %g", i, s)
		}
	}

	if c.NoiseThreshold != nil && *c.NoiseThreshold < 0 {
		return lidarerr.NewConfigurationError("noise_threshold", "noise_threshold must be non-negative, got %f", *c.NoiseThreshold)
	}
	if c.MinPeakDistance != nil && *c.MinPeakDistance < 1 {
		return lidarerr.NewConfigurationError("min_peak_distance", "min_peak_distance must be at least 1, got %d", *c.MinPeakDistance)
	}
	if c.MaxComponents != nil && *c.MaxComponents < 1 {
		return lidarerr.NewConfigurationError("max_components", "max_components must be at least 1, got %d", *c.MaxComponents)
	}
	if c.MinDetectableIntensity != nil && *c.MinDetectableIntensity <= 0 {
		return lidarerr.NewConfigurationError("min_detectable_intensity", "min_detectable_intensity must be positive, got %f", *c.MinDetectableIntensity)
	}
	if c.MaxReturns != nil && *c.MaxReturns < 0 {
		return lidarerr.NewConfigurationError("max_returns", "max_returns must be non-negative, got %d", *c.MaxReturns)
	}
	if f := c.GetProgressFraction(); f <= 0 || f > 1 {
		return lidarerr.NewConfigurationError("progress_fraction", "progress_fraction must be in (0, 1], got %f", f)
	}
	if d := c.GetCreationDay(); d < 0 || d > 366 {
		return lidarerr.NewConfigurationError("creation_day", "creation_day must be in 0-366, got %d", d)
	}
	if y := c.GetCreationYear(); y < 0 || y > 65535 {
		return lidarerr.NewConfigurationError("creation_year", "creation_year out of range, got %d", y)
	}
	return nil
}

// FormatHasWaveform reports whether a LAS point format carries wave packet fields.
func FormatHasWaveform(format int) bool {
	return las.HasWaveFields(format)
}

// FormatMaxReturns is the largest return number a point format can encode.
func FormatMaxReturns(format int) int {
	return las.MaxReturns(format)
}

// LASMinor returns the minor number of the configured LAS version.
func (c *RunConfig) LASMinor() int {
	return lasMinor[c.GetLASVersion()]
}

// GetLASVersion returns the las_version value or the default.
func (c *RunConfig) GetLASVersion() string {
	if c.LASVersion == nil {
		return "1.3"
	}
	return *c.LASVersion
}

// GetPointFormat returns the point_format value or the default.
func (c *RunConfig) GetPointFormat() int {
	if c.PointFormat == nil {
		return 1
	}
	return *c.PointFormat
}

// HasFixedGain reports whether calibration can be skipped.
func (c *RunConfig) HasFixedGain() bool {
	return c.DigitizerGain != nil
}

// GetDigitizerGain returns the fixed gain, or 0 when the gain is auto-calibrated.
func (c *RunConfig) GetDigitizerGain() float64 {
	if c.DigitizerGain == nil {
		return 0
	}
	return *c.DigitizerGain
}

// GetDigitizerOffset returns the digitizer_offset value or the default.
func (c *RunConfig) GetDigitizerOffset() float64 {
	if c.DigitizerOffset == nil {
		return 0
	}
	return *c.DigitizerOffset
}

// GetOutputCeiling returns the output_ceiling value or the default.
func (c *RunConfig) GetOutputCeiling() float64 {
	if c.OutputCeiling == nil {
		return 255
	}
	return *c.OutputCeiling
}

// GetIntensityMode returns the intensity_mode value or the default.
func (c *RunConfig) GetIntensityMode() string {
	if c.IntensityMode == nil {
		return IntensityPeak
	}
	return strings.ToLower(*c.IntensityMode)
}

// GetWaveform returns the waveform value or the default.
func (c *RunConfig) GetWaveform() bool {
	if c.Waveform == nil {
		return false
	}
	return *c.Waveform
}

// GetWaveformBits returns the waveform_bits value or the default.
func (c *RunConfig) GetWaveformBits() int {
	if c.WaveformBits == nil {
		return 8
	}
	return *c.WaveformBits
}

// GetExtraBytes returns the extra_bytes value or the default.
func (c *RunConfig) GetExtraBytes() bool {
	if c.ExtraBytes == nil {
		return false
	}
	return *c.ExtraBytes
}

// GetNoiseThreshold returns the noise_threshold value or the default.
func (c *RunConfig) GetNoiseThreshold() float64 {
	if c.NoiseThreshold == nil {
		return 0
	}
	return *c.NoiseThreshold
}

// GetMinPeakDistance returns the min_peak_distance value or the default.
func (c *RunConfig) GetMinPeakDistance() int {
	if c.MinPeakDistance == nil {
		return 2
	}
	return *c.MinPeakDistance
}

// GetMaxComponents returns the max_components value or the default.
func (c *RunConfig) GetMaxComponents() int {
	if c.MaxComponents == nil {
		return 16
	}
	return *c.MaxComponents
}

// GetScale returns the coordinate scale factors or the default of 1 mm.
func (c *RunConfig) GetScale() [3]float64 {
	if c.Scale == nil {
		return [3]float64{0.001, 0.001, 0.001}
	}
	return *c.Scale
}

// GetOffset returns the coordinate offsets or the default of zero.
func (c *RunConfig) GetOffset() [3]float64 {
	if c.Offset == nil {
		return [3]float64{}
	}
	return *c.Offset
}

// GetMinDetectableIntensity returns the min_detectable_intensity value or the default.
func (c *RunConfig) GetMinDetectableIntensity() float64 {
	if c.MinDetectableIntensity == nil {
		return 1
	}
	return *c.MinDetectableIntensity
}

// GetMaxReturns returns the effective return cap: the format maximum,
// lowered by max_returns when that is set to a positive value.
func (c *RunConfig) GetMaxReturns() int {
	limit := FormatMaxReturns(c.GetPointFormat())
	if c.MaxReturns != nil && *c.MaxReturns > 0 && *c.MaxReturns < limit {
		return *c.MaxReturns
	}
	return limit
}

// GetEnergyMap returns the energy map output path; empty disables it.
func (c *RunConfig) GetEnergyMap() string {
	if c.EnergyMap == nil {
		return ""
	}
	return *c.EnergyMap
}

// GetProgressFraction returns the progress_fraction value or the default.
func (c *RunConfig) GetProgressFraction() float64 {
	if c.ProgressFraction == nil {
		return 0.1
	}
	return *c.ProgressFraction
}

// GetCreationDay returns the creation_day value or the default.
func (c *RunConfig) GetCreationDay() int {
	if c.CreationDay == nil {
		return 0
	}
	return *c.CreationDay
}

// GetCreationYear returns the creation_year value or the default.
func (c *RunConfig) GetCreationYear() int {
	if c.CreationYear == nil {
		return 0
	}
	return *c.CreationYear
}
