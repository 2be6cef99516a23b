package dart

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dartlas/internal/lidarerr"
)

// goldenHeader builds a header byte by byte, independent of AppendHeader.
func goldenHeader(isFloat, nonConv, firstOrder bool, bins, nonConvBins, pulses int32) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], 5)
	b[4] = boolByte(isFloat)
	b[5] = boolByte(nonConv)
	b[6] = boolByte(firstOrder)
	binary.LittleEndian.PutUint64(b[7:15], math.Float64bits(0.5))
	binary.LittleEndian.PutUint64(b[15:23], math.Float64bits(0.15))
	binary.LittleEndian.PutUint32(b[23:27], uint32(bins))
	binary.LittleEndian.PutUint32(b[27:31], uint32(nonConvBins))
	binary.LittleEndian.PutUint32(b[31:35], uint32(pulses))
	return b
}

// goldenPulse builds a pulse record byte by byte.
func goldenPulse(rawDir [3]float64, gps float64, pixI, pixJ int32) []byte {
	b := make([]byte, PulseRecordSize)
	put := func(off int, v float64) { binary.LittleEndian.PutUint64(b[off:off+8], math.Float64bits(v)) }
	for i := 0; i < 3; i++ {
		put(i*8, rawDir[i])
	}
	put(24, 10)
	put(32, 20)
	put(40, 1000)
	put(48, 995)
	put(56, 32)
	put(64, -7.5)
	put(72, gps)
	binary.LittleEndian.PutUint32(b[80:84], uint32(pixI))
	binary.LittleEndian.PutUint32(b[84:88], uint32(pixJ))
	return b
}

func floatSamples(vals ...float32) []byte {
	b := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

func TestHeaderGoldenBytes(t *testing.T) {
	golden := goldenHeader(true, true, false, 64, 16, 2)
	h := decodeHeader(golden)

	want := Header{
		Version:          5,
		IsFloat:          true,
		HasNonConvolved:  true,
		TimeStep:         0.5,
		DistStep:         0.15,
		ConvolvedBins:    64,
		NonConvolvedBins: 16,
		PulseCount:       2,
	}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Fatalf("decoded header mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, golden, AppendHeader(nil, h), "re-encoded header must be byte identical")
	assert.Equal(t, int64(PulseRecordSize+64*4+16*4), h.PulseSize())
}

func TestPulseGoldenBytes(t *testing.T) {
	golden := goldenPulse([3]float64{0, 0.6, 0.8}, 12.25, 3, -4)
	var p Pulse
	decodePulse(golden, &p)

	assert.Equal(t, [3]float64{0, -0.6, -0.8}, p.Direction)
	assert.Equal(t, [3]float64{10, 20, 1000}, p.Sensor)
	assert.Equal(t, 995.0, p.RangeToCenter)
	assert.Equal(t, 32.0, p.CenterBin)
	assert.Equal(t, -7.5, p.ScanAngle)
	assert.Equal(t, 12.25, p.GPSTime)
	assert.Equal(t, int32(3), p.PixelI)
	assert.Equal(t, int32(-4), p.PixelJ)

	assert.Equal(t, golden, AppendPulse(nil, &p))
}

func TestReaderFloatSamplesAndSideChannels(t *testing.T) {
	var file []byte
	file = append(file, goldenHeader(true, true, true, 4, 2, 2)...)
	file = append(file, goldenPulse([3]float64{0, 0, 1}, 1, 0, 0)...)
	file = append(file, floatSamples(0, 1.5, 3, 0)...)
	file = append(file, floatSamples(99, 99, 98, 98)...) // two side channels of 2 bins
	file = append(file, goldenPulse([3]float64{0, 0, 1}, 2, 1, 0)...)
	file = append(file, floatSamples(4, 5, 6, 7)...)
	file = append(file, floatSamples(99, 99, 98, 98)...)

	r, err := NewReader(bytes.NewReader(file), int64(len(file)), "mem")
	require.NoError(t, err)

	p, s, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, p.Index)
	assert.Equal(t, 1.0, p.GPSTime)
	assert.Equal(t, []float64{0, 1.5, 3, 0}, s)

	p, s, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, p.Index)
	assert.Equal(t, int32(1), p.PixelI)
	assert.Equal(t, []float64{4, 5, 6, 7}, s)

	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, r.Reset())
	p, s, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, p.Index)
	assert.Equal(t, []float64{0, 1.5, 3, 0}, s)
}

func TestReaderFixedPointSamples(t *testing.T) {
	var file []byte
	file = append(file, goldenHeader(false, false, false, 3, 0, 1)...)
	file = append(file, goldenPulse([3]float64{1, 0, 0}, 0, 0, 0)...)
	for _, v := range []int64{7, -2, 1 << 40} {
		file = binary.LittleEndian.AppendUint64(file, uint64(v))
	}

	r, err := NewReader(bytes.NewReader(file), int64(len(file)), "mem")
	require.NoError(t, err)
	assert.Equal(t, FixedSampleSize, r.Header().SampleWidth())

	_, s, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, []float64{7, -2, float64(int64(1) << 40)}, s)
}

func TestReaderRejectsInconsistentHeader(t *testing.T) {
	file := goldenHeader(true, false, false, 64, 0, 10)
	_, err := NewReader(bytes.NewReader(file), int64(len(file)), "short.bin")
	require.Error(t, err)
	var fe *lidarerr.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "PulseCount", fe.Field)
	assert.Equal(t, "short.bin", fe.Path)
}

func TestReaderRejectsBadFields(t *testing.T) {
	tests := []struct {
		name  string
		mod   func([]byte)
		field string
	}{
		{"zero bins", func(b []byte) { binary.LittleEndian.PutUint32(b[23:27], 0) }, "ConvolvedBins"},
		{"huge bins", func(b []byte) { binary.LittleEndian.PutUint32(b[23:27], 0x7FFFFFFF) }, "ConvolvedBins"},
		{"bins just over limit", func(b []byte) { binary.LittleEndian.PutUint32(b[23:27], MaxBins+1) }, "ConvolvedBins"},
		{"huge side bins", func(b []byte) { binary.LittleEndian.PutUint32(b[27:31], 0x7FFFFFFF) }, "NonConvolvedBins"},
		{"negative side bins", func(b []byte) { binary.LittleEndian.PutUint32(b[27:31], uint32(0xFFFFFFFF)) }, "NonConvolvedBins"},
		{"negative pulses", func(b []byte) { binary.LittleEndian.PutUint32(b[31:35], uint32(0xFFFFFFFE)) }, "PulseCount"},
		{"zero time step", func(b []byte) { binary.LittleEndian.PutUint64(b[7:15], 0) }, "TimeStep"},
		{"nan dist step", func(b []byte) { binary.LittleEndian.PutUint64(b[15:23], math.Float64bits(math.NaN())) }, "DistStep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := goldenHeader(true, false, false, 8, 0, 0)
			tt.mod(b)
			_, err := NewReader(bytes.NewReader(b), -1, "bad")
			var fe *lidarerr.FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestReaderTruncatedHeader(t *testing.T) {
	_, err := NewReader(bytes.NewReader(make([]byte, 10)), 10, "tiny")
	assert.True(t, lidarerr.IsFormat(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReaderTruncatedMidStream(t *testing.T) {
	var file []byte
	file = append(file, goldenHeader(true, false, false, 4, 0, 2)...)
	file = append(file, goldenPulse([3]float64{0, 0, 1}, 0, 0, 0)...)
	file = append(file, floatSamples(1, 2, 3, 4)...)
	file = append(file, goldenPulse([3]float64{0, 0, 1}, 1, 0, 0)...)
	file = append(file, floatSamples(1, 2)...)

	// Unknown size skips the structural check so the short read surfaces mid-stream.
	r, err := NewReader(bytes.NewReader(file), -1, "trunc")
	require.NoError(t, err)
	_, _, err = r.Next()
	require.NoError(t, err)
	_, _, err = r.Next()
	require.Error(t, err)
	var fe *lidarerr.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "pulse 1 samples", fe.Field)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriterRoundTripThroughOpen(t *testing.T) {
	h := Header{Version: 1, IsFloat: true, HasFirstOrder: true, TimeStep: 1, DistStep: 0.3, ConvolvedBins: 5, NonConvolvedBins: 3, PulseCount: 2}
	path := filepath.Join(t.TempDir(), "pulses.bin")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWriter(f, h)
	require.NoError(t, err)
	pulse := Pulse{Direction: [3]float64{0, 0, -1}, Sensor: [3]float64{1, 2, 3}, RangeToCenter: 100, CenterBin: 2, GPSTime: 42}
	require.NoError(t, w.WritePulse(&pulse, []float64{0, 1, 2, 1, 0}))
	pulse.GPSTime = 43
	require.NoError(t, w.WritePulse(&pulse, []float64{5, 4, 3, 2, 1}))
	assert.Error(t, w.WritePulse(&pulse, []float64{1, 2, 3, 4, 5}), "pulse count exceeded")
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, h, r.Header())

	p, s, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0, 0, -1}, p.Direction)
	assert.Equal(t, []float64{0, 1, 2, 1, 0}, s)

	p, s, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 43.0, p.GPSTime)
	assert.Equal(t, []float64{5, 4, 3, 2, 1}, s)
}

func TestWriterSampleCountMismatch(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Header{IsFloat: true, TimeStep: 1, DistStep: 1, ConvolvedBins: 3, PulseCount: 1})
	require.NoError(t, err)
	assert.Error(t, w.WritePulse(&Pulse{}, []float64{1}))
	assert.Error(t, w.Flush(), "declared pulse never written")
}
