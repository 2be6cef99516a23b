package dart

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/banshee-data/dartlas/internal/lidarerr"
	"github.com/banshee-data/dartlas/internal/monitoring"
)

// Reader is a single-pass decoder over a DART LIDAR binary file. The header
// is read and validated on open; pulses are decoded lazily by Next. Reset
// rewinds to the first pulse without re-reading the header.
type Reader struct {
	src    io.ReadSeeker
	closer io.Closer
	name   string
	buf    *bufio.Reader
	header Header

	next    int
	record  []byte
	raw     []byte
	pulse   Pulse
	samples []float64
}

// Open opens and validates the DART binary file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dart file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat dart file: %w", err)
	}
	r, err := NewReader(f, info.Size(), path)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader decodes the header from src. size is the total stream length
// used for the structural check; pass -1 when it is unknown. name labels
// errors.
func NewReader(src io.ReadSeeker, size int64, name string) (*Reader, error) {
	r := &Reader{
		src:  src,
		name: name,
		buf:  bufio.NewReaderSize(src, 1<<16),
	}

	hb := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r.buf, hb); err != nil {
		return nil, &lidarerr.FormatError{Path: name, Field: "header", Err: shortRead(err)}
	}
	r.header = decodeHeader(hb)

	if err := r.validateHeader(size); err != nil {
		return nil, err
	}

	h := r.header
	r.record = make([]byte, PulseRecordSize)
	r.raw = make([]byte, int(h.ConvolvedBins)*h.SampleWidth())
	r.samples = make([]float64, h.ConvolvedBins)

	monitoring.Debugf("dart %s: version=%d float=%t nonconv=%t firstorder=%t bins=%d/%d pulses=%d dt=%gns dd=%gm",
		name, h.Version, h.IsFloat, h.HasNonConvolved, h.HasFirstOrder,
		h.ConvolvedBins, h.NonConvolvedBins, h.PulseCount, h.TimeStep, h.DistStep)
	return r, nil
}

func (r *Reader) validateHeader(size int64) error {
	h := r.header
	switch {
	case h.ConvolvedBins <= 0:
		return lidarerr.NewFormatError(r.name, "ConvolvedBins", "convolved bin count must be positive, got %d", h.ConvolvedBins)
	case h.ConvolvedBins > MaxBins:
		return lidarerr.NewFormatError(r.name, "ConvolvedBins", "convolved bin count %d exceeds %d", h.ConvolvedBins, MaxBins)
	case h.NonConvolvedBins < 0:
		return lidarerr.NewFormatError(r.name, "NonConvolvedBins", "non-convolved bin count is negative: %d", h.NonConvolvedBins)
	case h.NonConvolvedBins > MaxBins:
		return lidarerr.NewFormatError(r.name, "NonConvolvedBins", "non-convolved bin count %d exceeds %d", h.NonConvolvedBins, MaxBins)
	case h.PulseCount < 0:
		return lidarerr.NewFormatError(r.name, "PulseCount", "pulse count is negative: %d", h.PulseCount)
	case !(h.TimeStep > 0) || math.IsInf(h.TimeStep, 0):
		return lidarerr.NewFormatError(r.name, "TimeStep", "time step must be a positive finite value, got %g", h.TimeStep)
	case !(h.DistStep > 0) || math.IsInf(h.DistStep, 0):
		return lidarerr.NewFormatError(r.name, "DistStep", "distance step must be a positive finite value, got %g", h.DistStep)
	}

	if size < 0 {
		return nil
	}
	want := h.ExpectedFileSize()
	if want > size {
		return lidarerr.NewFormatError(r.name, "PulseCount",
			"header declares %d pulses of %d bytes (%d bytes total) but file has %d bytes",
			h.PulseCount, h.PulseSize(), want, size)
	}
	if want < size {
		monitoring.Logf("dart %s: ignoring %d trailing bytes after last pulse", r.name, size-want)
	}
	return nil
}

// Header returns the decoded global header.
func (r *Reader) Header() Header { return r.header }

// Name returns the label used in errors, usually the file path.
func (r *Reader) Name() string { return r.name }

// Next decodes the next pulse. It returns io.EOF after the last pulse.
//
// The returned Pulse and sample slice are owned by the Reader and are
// overwritten by the following call; copy them to retain them.
func (r *Reader) Next() (*Pulse, []float64, error) {
	h := r.header
	if r.next >= int(h.PulseCount) {
		return nil, nil, io.EOF
	}
	idx := r.next
	field := fmt.Sprintf("pulse %d", idx)

	if _, err := io.ReadFull(r.buf, r.record); err != nil {
		return nil, nil, &lidarerr.FormatError{Path: r.name, Field: field, Err: shortRead(err)}
	}
	if _, err := io.ReadFull(r.buf, r.raw); err != nil {
		return nil, nil, &lidarerr.FormatError{Path: r.name, Field: field + " samples", Err: shortRead(err)}
	}
	if skip := h.SideChannelBytes(); skip > 0 {
		n, err := r.buf.Discard(int(skip))
		if err != nil || int64(n) != skip {
			return nil, nil, &lidarerr.FormatError{Path: r.name, Field: field + " side channels", Err: shortRead(err)}
		}
	}

	decodePulse(r.record, &r.pulse)
	r.pulse.Index = idx
	decodeSamples(r.raw, h.IsFloat, r.samples)
	r.next++
	return &r.pulse, r.samples, nil
}

// Reset rewinds the stream to the first pulse.
func (r *Reader) Reset() error {
	if _, err := r.src.Seek(HeaderSize, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", r.name, err)
	}
	r.buf.Reset(r.src)
	r.next = 0
	return nil
}

// Close releases the underlying file when the Reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func decodeSamples(raw []byte, isFloat bool, out []float64) {
	le := binary.LittleEndian
	if isFloat {
		for i := range out {
			out[i] = float64(math.Float32frombits(le.Uint32(raw[i*4:])))
		}
		return
	}
	for i := range out {
		out[i] = float64(int64(le.Uint64(raw[i*8:])))
	}
}

// shortRead normalises EOF during a record to io.ErrUnexpectedEOF.
func shortRead(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
