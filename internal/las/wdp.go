package las

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/dartlas/internal/lidarerr"
)

// WaveformWriter streams waveform data packets to an external .wdp file.
// The file opens with an EVLR header whose length is patched at Close, so
// the first packet sits at offset 60.
type WaveformWriter struct {
	ws     io.WriteSeeker
	bw     *bufio.Writer
	closer io.Closer
	path   string

	bits    int
	samples int
	offset  uint64
	packets uint64
	buf     []byte
	closed  bool
}

// WaveformPath returns the .wdp path paired with a .las path.
func WaveformPath(lasPath string) string {
	return strings.TrimSuffix(lasPath, filepath.Ext(lasPath)) + ".wdp"
}

// CreateWaveformFile creates path and returns a writer for d's packets.
func CreateWaveformFile(path string, d WaveDescriptor) (*WaveformWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create waveform file: %w", err)
	}
	w, err := NewWaveformWriter(f, d)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	w.path = path
	return w, nil
}

// NewWaveformWriter writes the placeholder EVLR header to ws.
func NewWaveformWriter(ws io.WriteSeeker, d WaveDescriptor) (*WaveformWriter, error) {
	if d.BitsPerSample != 8 && d.BitsPerSample != 16 {
		return nil, lidarerr.NewFormatError("", "bits_per_sample", "waveform packets must be 8 or 16 bits, got %d", d.BitsPerSample)
	}
	w := &WaveformWriter{
		ws:      ws,
		bw:      bufio.NewWriter(ws),
		bits:    int(d.BitsPerSample),
		samples: int(d.NumberOfSamples),
		offset:  evlrHeaderSize,
	}
	if _, err := w.bw.Write(appendEVLRHeader(nil, "LASF_Spec", waveDataRecordID, 0, "Waveform data packets")); err != nil {
		return nil, fmt.Errorf("failed to write waveform header: %w", err)
	}
	return w, nil
}

// Offset is the byte position the next packet will be written at.
func (w *WaveformWriter) Offset() uint64 { return w.offset }

// Packets returns the number of packets written.
func (w *WaveformWriter) Packets() uint64 { return w.packets }

// WritePacket writes one packet of digitized samples, rounded and clamped to
// the sample width, and returns the offset it was written at.
func (w *WaveformWriter) WritePacket(samples []float64) (offset uint64, size uint32, err error) {
	if w.closed {
		return 0, 0, fmt.Errorf("waveform writer is closed")
	}
	if len(samples) != w.samples {
		return 0, 0, lidarerr.NewFormatError(w.path, "waveform packet", "got %d samples, descriptor declares %d", len(samples), w.samples)
	}

	maxLevel := float64(int(1)<<w.bits - 1)
	w.buf = w.buf[:0]
	for _, s := range samples {
		v := math.Max(0, math.Min(maxLevel, math.Round(s)))
		if math.IsNaN(s) {
			v = 0
		}
		if w.bits == 8 {
			w.buf = append(w.buf, uint8(v))
		} else {
			w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
		}
	}
	if _, err := w.bw.Write(w.buf); err != nil {
		return 0, 0, fmt.Errorf("failed to write waveform packet: %w", err)
	}

	offset = w.offset
	w.offset += uint64(len(w.buf))
	w.packets++
	return offset, uint32(len(w.buf)), nil
}

// Close patches the EVLR length and closes the file if this writer opened it.
func (w *WaveformWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.finish()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close waveform file: %w", cerr)
		}
	}
	return err
}

func (w *WaveformWriter) finish() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush waveform packets: %w", err)
	}
	if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek waveform header: %w", err)
	}
	hdr := appendEVLRHeader(nil, "LASF_Spec", waveDataRecordID, w.offset-evlrHeaderSize, "Waveform data packets")
	if _, err := w.ws.Write(hdr); err != nil {
		return fmt.Errorf("failed to patch waveform header: %w", err)
	}
	if _, err := w.ws.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek waveform end: %w", err)
	}
	return nil
}
