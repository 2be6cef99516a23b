// Package las writes ASPRS LAS 1.2, 1.3 and 1.4 point clouds, optionally
// with extra byte attributes and an external waveform data packet file.
//
// FILE LAYOUT:
//
//	Public header block        227 (1.2), 235 (1.3) or 375 (1.4) bytes
//	VLRs                       extra bytes (LASF_Spec/4), wave packet descriptor (LASF_Spec/100)
//	Point records              PointFormat core + wave packet fields + extra bytes
//
// The header is written as a placeholder and rewritten at Close once point
// counts and bounds are known, so points can be streamed.
package las

import (
	"encoding/binary"
	"math"
)

// Header sizes per minor version.
const (
	HeaderSize12 = 227
	HeaderSize13 = 235
	HeaderSize14 = 375

	vlrHeaderSize          = 54
	evlrHeaderSize         = 60
	extraBytesDescSize     = 192
	waveDescriptorSize     = 26
	wavePacketFieldsSize   = 29
	waveDescriptorRecordID = 100 // descriptor index 1
	extraBytesRecordID     = 4
	waveDataRecordID       = 65535
)

// Global encoding bits.
const (
	encodingWaveformExternal = 1 << 2
)

// baseRecordLength is the core record size of each point format, including
// any wave packet fields but excluding extra bytes.
var baseRecordLength = [...]int{
	0:  20,
	1:  28,
	2:  26,
	3:  34,
	4:  57,
	5:  63,
	6:  30,
	7:  36,
	8:  38,
	9:  59,
	10: 67,
}

// HeaderSize returns the public header size of a LAS 1.minor file.
func HeaderSize(minor int) int {
	switch minor {
	case 2:
		return HeaderSize12
	case 3:
		return HeaderSize13
	default:
		return HeaderSize14
	}
}

// RecordLength returns the core record length of format, or 0 if the format
// is unknown.
func RecordLength(format int) int {
	if format < 0 || format >= len(baseRecordLength) {
		return 0
	}
	return baseRecordLength[format]
}

// MinMinor is the lowest LAS 1.x minor version that defines format.
func MinMinor(format int) int {
	switch {
	case format >= 6:
		return 4
	case format >= 4:
		return 3
	default:
		return 0
	}
}

// HasWaveFields reports whether format carries wave packet fields.
func HasWaveFields(format int) bool {
	return format == 4 || format == 5 || format == 9 || format == 10
}

// MaxReturns is the largest return number format can encode.
func MaxReturns(format int) int {
	if format >= 6 {
		return 15
	}
	return 5
}

func hasGPSTime(format int) bool { return format != 0 && format != 2 }

func hasRGB(format int) bool {
	switch format {
	case 2, 3, 5, 7, 8, 10:
		return true
	}
	return false
}

func hasNIR(format int) bool { return format == 8 || format == 10 }

// appendFixed appends s truncated or NUL-padded to n bytes.
func appendFixed(b []byte, s string, n int) []byte {
	if len(s) > n {
		s = s[:n]
	}
	b = append(b, s...)
	for i := len(s); i < n; i++ {
		b = append(b, 0)
	}
	return b
}

func appendFloat64(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
}

func appendFloat32(b []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
}

// appendVLRHeader appends a 54-byte VLR header.
func appendVLRHeader(b []byte, userID string, recordID uint16, length int, description string) []byte {
	le := binary.LittleEndian
	b = le.AppendUint16(b, 0)
	b = appendFixed(b, userID, 16)
	b = le.AppendUint16(b, recordID)
	b = le.AppendUint16(b, uint16(length))
	return appendFixed(b, description, 32)
}

// appendEVLRHeader appends a 60-byte extended VLR header.
func appendEVLRHeader(b []byte, userID string, recordID uint16, length uint64, description string) []byte {
	le := binary.LittleEndian
	b = le.AppendUint16(b, 0)
	b = appendFixed(b, userID, 16)
	b = le.AppendUint16(b, recordID)
	b = le.AppendUint64(b, length)
	return appendFixed(b, description, 32)
}
