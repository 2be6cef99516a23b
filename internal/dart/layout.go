// Package dart decodes the simulator's multi-pulse LIDAR binary output and
// its DetectedPoints text export.
//
// BINARY LAYOUT (little-endian, packed, no padding between fields):
//
//	Header (35 bytes)
//	├── 0  int32    Version
//	├── 4  uint8    IsFloat           1 = float32 samples, 0 = int64 fixed point
//	├── 5  uint8    HasNonConvolved   non-convolved side channel present
//	├── 6  uint8    HasFirstOrder     first-order side channel present
//	├── 7  float64  TimeStep          ns per bin
//	├── 15 float64  DistStep          m per bin (two-way travel)
//	├── 23 int32    ConvolvedBins
//	├── 27 int32    NonConvolvedBins
//	└── 31 int32    PulseCount
//
//	Pulse (88 bytes + samples), repeated PulseCount times
//	├── 0  3×float64 Direction        points toward the device; negated on read
//	├── 24 3×float64 Sensor           sensor position at pulse time
//	├── 48 float64   RangeToCenter    one-way m from sensor to reference bin
//	├── 56 float64   CenterBin        bin index of the reference position
//	├── 64 float64   ScanAngle        degrees
//	├── 72 float64   GPSTime          pulse timestamp / id
//	├── 80 int32     PixelI           noise map indices
//	├── 84 int32     PixelJ
//	├── ConvolvedBins samples         float32 or int64
//	└── NonConvolvedBins samples per flagged side channel (skipped)
package dart

import (
	"encoding/binary"
	"math"
)

const (
	HeaderSize      = 35 // bytes in the global header
	PulseRecordSize = 88 // bytes in the fixed per-pulse block, before samples

	FloatSampleSize = 4 // float32 amplitude
	FixedSampleSize = 8 // int64 amplitude

	// MaxBins bounds the per-channel bin counts a header may declare, so a
	// corrupt header of unknown file size cannot force a huge allocation.
	MaxBins = 1 << 20
)

// Header is the global file header. It is read once and never changes.
type Header struct {
	Version          int32
	IsFloat          bool
	HasNonConvolved  bool
	HasFirstOrder    bool
	TimeStep         float64 // ns per bin
	DistStep         float64 // m per bin, two-way
	ConvolvedBins    int32
	NonConvolvedBins int32
	PulseCount       int32
}

// SampleWidth is the size in bytes of one amplitude sample.
func (h Header) SampleWidth() int {
	if h.IsFloat {
		return FloatSampleSize
	}
	return FixedSampleSize
}

// SideChannelBytes is the number of trailing bytes per pulse that belong to
// the non-convolved and first-order channels.
func (h Header) SideChannelBytes() int64 {
	var n int64
	if h.HasNonConvolved {
		n += int64(h.NonConvolvedBins) * int64(h.SampleWidth())
	}
	if h.HasFirstOrder {
		n += int64(h.NonConvolvedBins) * int64(h.SampleWidth())
	}
	return n
}

// PulseSize is the on-disk size of one complete pulse.
func (h Header) PulseSize() int64 {
	return PulseRecordSize + int64(h.ConvolvedBins)*int64(h.SampleWidth()) + h.SideChannelBytes()
}

// ExpectedFileSize is the size a file with this header must at least have.
func (h Header) ExpectedFileSize() int64 {
	return HeaderSize + int64(h.PulseCount)*h.PulseSize()
}

// Pulse is one decoded per-pulse parameter block.
type Pulse struct {
	Index         int        // zero-based position in the file
	Direction     [3]float64 // unit beam vector from sensor into the scene
	Sensor        [3]float64
	RangeToCenter float64
	CenterBin     float64
	ScanAngle     float64
	GPSTime       float64
	PixelI        int32
	PixelJ        int32
}

func decodeHeader(b []byte) Header {
	le := binary.LittleEndian
	return Header{
		Version:          int32(le.Uint32(b[0:4])),
		IsFloat:          b[4] != 0,
		HasNonConvolved:  b[5] != 0,
		HasFirstOrder:    b[6] != 0,
		TimeStep:         math.Float64frombits(le.Uint64(b[7:15])),
		DistStep:         math.Float64frombits(le.Uint64(b[15:23])),
		ConvolvedBins:    int32(le.Uint32(b[23:27])),
		NonConvolvedBins: int32(le.Uint32(b[27:31])),
		PulseCount:       int32(le.Uint32(b[31:35])),
	}
}

// AppendHeader appends the 35-byte encoding of h to b.
func AppendHeader(b []byte, h Header) []byte {
	le := binary.LittleEndian
	b = le.AppendUint32(b, uint32(h.Version))
	b = append(b, boolByte(h.IsFloat), boolByte(h.HasNonConvolved), boolByte(h.HasFirstOrder))
	b = le.AppendUint64(b, math.Float64bits(h.TimeStep))
	b = le.AppendUint64(b, math.Float64bits(h.DistStep))
	b = le.AppendUint32(b, uint32(h.ConvolvedBins))
	b = le.AppendUint32(b, uint32(h.NonConvolvedBins))
	b = le.AppendUint32(b, uint32(h.PulseCount))
	return b
}

// decodePulse fills p from a PulseRecordSize block. The stored direction is
// negated so it points from the sensor into the scene.
func decodePulse(b []byte, p *Pulse) {
	le := binary.LittleEndian
	f := func(off int) float64 { return math.Float64frombits(le.Uint64(b[off : off+8])) }
	for i := 0; i < 3; i++ {
		p.Direction[i] = -f(i * 8)
		p.Sensor[i] = f(24 + i*8)
	}
	p.RangeToCenter = f(48)
	p.CenterBin = f(56)
	p.ScanAngle = f(64)
	p.GPSTime = f(72)
	p.PixelI = int32(le.Uint32(b[80:84]))
	p.PixelJ = int32(le.Uint32(b[84:88]))
}

// AppendPulse appends the fixed 88-byte block of p to b, restoring the
// file's device-pointing direction convention.
func AppendPulse(b []byte, p *Pulse) []byte {
	le := binary.LittleEndian
	for i := 0; i < 3; i++ {
		b = le.AppendUint64(b, math.Float64bits(-p.Direction[i]))
	}
	for i := 0; i < 3; i++ {
		b = le.AppendUint64(b, math.Float64bits(p.Sensor[i]))
	}
	b = le.AppendUint64(b, math.Float64bits(p.RangeToCenter))
	b = le.AppendUint64(b, math.Float64bits(p.CenterBin))
	b = le.AppendUint64(b, math.Float64bits(p.ScanAngle))
	b = le.AppendUint64(b, math.Float64bits(p.GPSTime))
	b = le.AppendUint32(b, uint32(p.PixelI))
	b = le.AppendUint32(b, uint32(p.PixelJ))
	return b
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
