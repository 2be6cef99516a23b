package las

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/uuid"

	"github.com/banshee-data/dartlas/internal/lidarerr"
	"github.com/banshee-data/dartlas/internal/monitoring"
)

// Options selects the output layout.
type Options struct {
	Minor       int // LAS 1.minor, 2 to 4
	PointFormat int

	Scale  [3]float64
	Offset [3]float64

	GUID               uuid.UUID
	FileSourceID       uint16
	SystemIdentifier   string
	GeneratingSoftware string
	CreationDay        uint16
	CreationYear       uint16

	Extra []ExtraField
	// Wave, when set, declares descriptor 1 and marks wave packets as
	// stored in an external file.
	Wave *WaveDescriptor
}

// Validate reports the first option the writer cannot honour as a
// *lidarerr.FormatError.
func (o Options) Validate() error {
	if o.Minor < 2 || o.Minor > 4 {
		return lidarerr.NewFormatError("", "version", "unsupported LAS version 1.%d", o.Minor)
	}
	if RecordLength(o.PointFormat) == 0 {
		return lidarerr.NewFormatError("", "point_format", "unknown point format %d", o.PointFormat)
	}
	if MinMinor(o.PointFormat) > o.Minor {
		return lidarerr.NewFormatError("", "point_format", "point format %d is not defined in LAS 1.%d", o.PointFormat, o.Minor)
	}
	if o.Wave != nil && !HasWaveFields(o.PointFormat) {
		return lidarerr.NewFormatError("", "waveform", "point format %d has no wave packet fields", o.PointFormat)
	}
	for i, s := range o.Scale {
		if !(s > 0) {
			return lidarerr.NewFormatError("", "scale", "scale[%d] must be positive, got %g", i, s)
		}
	}
	return nil
}

// Record is one point to be written. Coordinates are in world units and are
// quantized with the writer's scale and offset.
type Record struct {
	X, Y, Z         float64
	Intensity       uint16
	ReturnNumber    uint8
	NumberOfReturns uint8
	ScanAngle       int16 // whole degrees below format 6, 0.006° units from format 6
	GPSTime         float64

	// Extra holds one value per declared ExtraField.
	Extra []float64

	// Wave packet fields; a zero DescriptorIndex means no packet.
	DescriptorIndex uint8
	WaveOffset      uint64
	WaveSize        uint32
	WaveLocation    float32
	Xt, Yt, Zt      float32
}

// Writer streams point records into a LAS file.
type Writer struct {
	ws     io.WriteSeeker
	bw     *bufio.Writer
	closer io.Closer
	path   string
	opts   Options

	maxReturns   int
	recordLength int
	pointOffset  uint32
	numVLRs      uint32

	count    uint64
	byReturn [15]uint64
	dropped  uint64
	min, max [3]float64
	buf      []byte
	closed   bool
}

// Create creates path and returns a Writer over it.
func Create(path string, opts Options) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create LAS file: %w", err)
	}
	w, err := NewWriter(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	w.path = path
	return w, nil
}

// NewWriter validates opts and writes the placeholder header and VLRs.
func NewWriter(ws io.WriteSeeker, opts Options) (*Writer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	w := &Writer{
		ws:           ws,
		bw:           bufio.NewWriter(ws),
		opts:         opts,
		maxReturns:   MaxReturns(opts.PointFormat),
		recordLength: RecordLength(opts.PointFormat) + extraBytesSize(opts.Extra),
	}
	for i := range w.min {
		w.min[i] = math.Inf(1)
		w.max[i] = math.Inf(-1)
	}

	var vlrs []byte
	if len(opts.Extra) > 0 {
		vlrs = appendExtraBytesVLR(vlrs, opts.Extra)
		w.numVLRs++
	}
	if opts.Wave != nil {
		vlrs = appendWaveDescriptorVLR(vlrs, *opts.Wave)
		w.numVLRs++
	}
	w.pointOffset = uint32(HeaderSize(opts.Minor) + len(vlrs))

	if _, err := w.bw.Write(w.header()); err != nil {
		return nil, fmt.Errorf("failed to write LAS header: %w", err)
	}
	if _, err := w.bw.Write(vlrs); err != nil {
		return nil, fmt.Errorf("failed to write VLRs: %w", err)
	}
	return w, nil
}

// Count returns the number of points written.
func (w *Writer) Count() uint64 { return w.count }

// Dropped returns the number of records refused because their return
// number exceeds what the point format can encode.
func (w *Writer) Dropped() uint64 { return w.dropped }

// RecordLength is the full on-disk size of one point, extra bytes included.
func (w *Writer) RecordLength() int { return w.recordLength }

// PointOffset is the byte offset of the first point record.
func (w *Writer) PointOffset() uint32 { return w.pointOffset }

// Write appends one point. Records whose return number exceeds the format's
// maximum are dropped; NumberOfReturns is clipped to that maximum.
func (w *Writer) Write(r *Record) error {
	if w.closed {
		return fmt.Errorf("LAS writer is closed")
	}
	if len(r.Extra) != len(w.opts.Extra) {
		return fmt.Errorf("point has %d extra values, %d declared", len(r.Extra), len(w.opts.Extra))
	}
	if int(r.ReturnNumber) > w.maxReturns {
		w.dropped++
		return nil
	}
	if w.opts.Minor < 4 && w.count >= math.MaxUint32 {
		return lidarerr.NewFormatError(w.path, "point count", "LAS 1.%d cannot hold more than %d points", w.opts.Minor, uint32(math.MaxUint32))
	}

	var q [3]int32
	for i, v := range [3]float64{r.X, r.Y, r.Z} {
		s := math.Round((v - w.opts.Offset[i]) / w.opts.Scale[i])
		if !(s >= math.MinInt32 && s <= math.MaxInt32) {
			return lidarerr.NewFormatError(w.path, "XYZ"[i:i+1], "coordinate %g does not fit with scale %g and offset %g", v, w.opts.Scale[i], w.opts.Offset[i])
		}
		q[i] = int32(s)
	}

	w.buf = w.appendRecord(w.buf[:0], r, q)
	if _, err := w.bw.Write(w.buf); err != nil {
		return fmt.Errorf("failed to write point: %w", err)
	}

	for i := range q {
		v := float64(q[i])*w.opts.Scale[i] + w.opts.Offset[i]
		w.min[i] = math.Min(w.min[i], v)
		w.max[i] = math.Max(w.max[i], v)
	}
	if r.ReturnNumber >= 1 {
		w.byReturn[r.ReturnNumber-1]++
	}
	w.count++
	return nil
}

// appendRecord encodes r in the writer's point format.
func (w *Writer) appendRecord(b []byte, r *Record, q [3]int32) []byte {
	le := binary.LittleEndian
	format := w.opts.PointFormat
	nret := min(int(r.NumberOfReturns), w.maxReturns)

	b = le.AppendUint32(b, uint32(q[0]))
	b = le.AppendUint32(b, uint32(q[1]))
	b = le.AppendUint32(b, uint32(q[2]))
	b = le.AppendUint16(b, r.Intensity)

	if format < 6 {
		b = append(b, r.ReturnNumber&0x07|uint8(nret)&0x07<<3)
		b = append(b, 0)                  // classification: never classified
		b = append(b, uint8(r.ScanAngle)) // scan angle rank
		b = append(b, 0)                  // user data
		b = le.AppendUint16(b, w.opts.FileSourceID)
		if hasGPSTime(format) {
			b = appendFloat64(b, r.GPSTime)
		}
		if hasRGB(format) {
			b = append(b, make([]byte, 6)...)
		}
	} else {
		b = append(b, r.ReturnNumber&0x0f|uint8(nret)&0x0f<<4)
		b = append(b, 0) // classification flags, channel, scan direction, edge
		b = append(b, 0) // classification
		b = append(b, 0) // user data
		b = le.AppendUint16(b, uint16(r.ScanAngle))
		b = le.AppendUint16(b, w.opts.FileSourceID)
		b = appendFloat64(b, r.GPSTime)
		if hasRGB(format) {
			b = append(b, make([]byte, 6)...)
		}
		if hasNIR(format) {
			b = append(b, 0, 0)
		}
	}

	if HasWaveFields(format) {
		b = append(b, r.DescriptorIndex)
		b = le.AppendUint64(b, r.WaveOffset)
		b = le.AppendUint32(b, r.WaveSize)
		b = appendFloat32(b, r.WaveLocation)
		b = appendFloat32(b, r.Xt)
		b = appendFloat32(b, r.Yt)
		b = appendFloat32(b, r.Zt)
	}

	for i, f := range w.opts.Extra {
		if f.Type == ExtraFloat64 {
			b = appendFloat64(b, r.Extra[i])
		} else {
			b = appendFloat32(b, float32(r.Extra[i]))
		}
	}
	return b
}

// header encodes the public header block from the current counts.
func (w *Writer) header() []byte {
	le := binary.LittleEndian
	o := w.opts
	b := make([]byte, 0, HeaderSize(o.Minor))

	var encoding uint16
	if o.Wave != nil {
		encoding |= encodingWaveformExternal
	}

	b = append(b, "LASF"...)
	b = le.AppendUint16(b, o.FileSourceID)
	b = le.AppendUint16(b, encoding)
	guid, _ := o.GUID.MarshalBinary()
	b = append(b, guid...)
	b = append(b, 1, uint8(o.Minor))
	b = appendFixed(b, o.SystemIdentifier, 32)
	b = appendFixed(b, o.GeneratingSoftware, 32)
	b = le.AppendUint16(b, o.CreationDay)
	b = le.AppendUint16(b, o.CreationYear)
	b = le.AppendUint16(b, uint16(HeaderSize(o.Minor)))
	b = le.AppendUint32(b, w.pointOffset)
	b = le.AppendUint32(b, w.numVLRs)
	b = append(b, uint8(o.PointFormat))
	b = le.AppendUint16(b, uint16(w.recordLength))

	// Legacy counts are zero when they cannot describe the file.
	legacy := o.PointFormat < 6 && w.count <= math.MaxUint32
	if legacy {
		b = le.AppendUint32(b, uint32(w.count))
	} else {
		b = le.AppendUint32(b, 0)
	}
	for i := 0; i < 5; i++ {
		if legacy {
			b = le.AppendUint32(b, uint32(w.byReturn[i]))
		} else {
			b = le.AppendUint32(b, 0)
		}
	}

	for _, v := range o.Scale {
		b = appendFloat64(b, v)
	}
	for _, v := range o.Offset {
		b = appendFloat64(b, v)
	}
	lo, hi := w.bounds()
	for i := 0; i < 3; i++ {
		b = appendFloat64(b, hi[i])
		b = appendFloat64(b, lo[i])
	}

	if o.Minor >= 3 {
		b = le.AppendUint64(b, 0) // start of waveform data packet record: external
	}
	if o.Minor >= 4 {
		b = le.AppendUint64(b, 0) // start of first EVLR
		b = le.AppendUint32(b, 0) // number of EVLRs
		b = le.AppendUint64(b, w.count)
		for i := 0; i < 15; i++ {
			b = le.AppendUint64(b, w.byReturn[i])
		}
	}
	return b
}

func (w *Writer) bounds() (lo, hi [3]float64) {
	if w.count == 0 {
		return lo, hi
	}
	return w.min, w.max
}

// Close flushes the points, rewrites the header with the final counts and
// bounds, and closes the file if the Writer created it.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.finish()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close LAS file: %w", cerr)
		}
	}
	if w.dropped > 0 {
		monitoring.Logf("las: dropped %d points with return numbers above %d", w.dropped, w.maxReturns)
	}
	return err
}

func (w *Writer) finish() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush points: %w", err)
	}
	if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek LAS header: %w", err)
	}
	if _, err := w.ws.Write(w.header()); err != nil {
		return fmt.Errorf("failed to patch LAS header: %w", err)
	}
	if _, err := w.ws.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek LAS end: %w", err)
	}
	return nil
}
