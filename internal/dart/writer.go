package dart

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer encodes pulses in the DART binary layout. It is used to produce
// synthetic inputs for tests and the gen-dart tool.
type Writer struct {
	w       *bufio.Writer
	header  Header
	written int
	buf     []byte
}

// NewWriter writes h to w and returns a Writer for its pulses.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(AppendHeader(nil, h)); err != nil {
		return nil, fmt.Errorf("write dart header: %w", err)
	}
	return &Writer{w: bw, header: h}, nil
}

// WritePulse encodes one pulse. samples must hold ConvolvedBins values;
// side channels flagged in the header are zero-filled.
func (w *Writer) WritePulse(p *Pulse, samples []float64) error {
	h := w.header
	if len(samples) != int(h.ConvolvedBins) {
		return fmt.Errorf("pulse %d: got %d samples, header declares %d", w.written, len(samples), h.ConvolvedBins)
	}
	if w.written >= int(h.PulseCount) {
		return fmt.Errorf("pulse %d exceeds declared pulse count %d", w.written, h.PulseCount)
	}

	b := AppendPulse(w.buf[:0], p)
	le := binary.LittleEndian
	for _, s := range samples {
		if h.IsFloat {
			b = le.AppendUint32(b, math.Float32bits(float32(s)))
		} else {
			b = le.AppendUint64(b, uint64(int64(math.Round(s))))
		}
	}
	for i := int64(0); i < h.SideChannelBytes(); i++ {
		b = append(b, 0)
	}
	w.buf = b

	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("write pulse %d: %w", w.written, err)
	}
	w.written++
	return nil
}

// Flush writes buffered data and checks the declared pulse count was met.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.written != int(w.header.PulseCount) {
		return fmt.Errorf("wrote %d pulses, header declares %d", w.written, w.header.PulseCount)
	}
	return nil
}
