package las

import (
	"encoding/binary"
	"math"
)

// ExtraType is the storage type of an extra byte attribute.
type ExtraType uint8

// Extra byte data types from the LAS 1.4 extra bytes descriptor.
const (
	ExtraFloat32 ExtraType = 9
	ExtraFloat64 ExtraType = 10
)

// Size returns the number of bytes the type occupies in a point record.
func (t ExtraType) Size() int {
	if t == ExtraFloat64 {
		return 8
	}
	return 4
}

// ExtraField declares one extra byte attribute appended to every point.
type ExtraField struct {
	Name        string
	Description string
	Type        ExtraType
}

// WaveDescriptor is the wave packet descriptor shared by all points.
type WaveDescriptor struct {
	BitsPerSample   uint8
	NumberOfSamples uint32
	TemporalSpacing uint32 // ps between samples
	DigitizerGain   float64
	DigitizerOffset float64
}

// PacketSize is the byte size of one waveform packet.
func (d WaveDescriptor) PacketSize() uint32 {
	return d.NumberOfSamples * uint32(d.BitsPerSample/8)
}

func extraBytesSize(fields []ExtraField) int {
	n := 0
	for _, f := range fields {
		n += f.Type.Size()
	}
	return n
}

// appendExtraBytesVLR appends the LASF_Spec/4 record describing fields.
func appendExtraBytesVLR(b []byte, fields []ExtraField) []byte {
	b = appendVLRHeader(b, "LASF_Spec", extraBytesRecordID, len(fields)*extraBytesDescSize, "Extra bytes")
	for _, f := range fields {
		b = append(b, 0, 0)         // reserved
		b = append(b, byte(f.Type)) // data_type
		b = append(b, 0)            // options: no min, max, scale, offset or no_data
		b = appendFixed(b, f.Name, 32)
		b = append(b, make([]byte, 4)...)   // unused
		b = append(b, make([]byte, 8)...)   // no_data
		b = append(b, make([]byte, 16)...)  // deprecated
		b = append(b, make([]byte, 8)...)   // min
		b = append(b, make([]byte, 16)...)  // deprecated
		b = append(b, make([]byte, 8)...)   // max
		b = append(b, make([]byte, 16)...)  // deprecated
		b = append(b, make([]byte, 8)...)   // scale
		b = append(b, make([]byte, 16)...)  // deprecated
		b = append(b, make([]byte, 8)...)   // offset
		b = append(b, make([]byte, 16)...)  // deprecated
		b = appendFixed(b, f.Description, 32)
	}
	return b
}

// appendWaveDescriptorVLR appends the LASF_Spec/100 record for d.
func appendWaveDescriptorVLR(b []byte, d WaveDescriptor) []byte {
	le := binary.LittleEndian
	b = appendVLRHeader(b, "LASF_Spec", waveDescriptorRecordID, waveDescriptorSize, "Waveform packet descriptor")
	b = append(b, d.BitsPerSample, 0) // compression: none
	b = le.AppendUint32(b, d.NumberOfSamples)
	b = le.AppendUint32(b, d.TemporalSpacing)
	b = le.AppendUint64(b, math.Float64bits(d.DigitizerGain))
	b = le.AppendUint64(b, math.Float64bits(d.DigitizerOffset))
	return b
}
