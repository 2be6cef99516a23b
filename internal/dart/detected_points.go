package dart

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/dartlas/internal/lidarerr"
)

// DetectedPointsFixedColumns is the number of positional columns at the start
// of every DetectedPoints row: X, Y, Z, return number, number of returns and
// GPS time. Later columns are named extra attributes.
const DetectedPointsFixedColumns = 6

// DetectedPoint is one row of a DetectedPoints export.
type DetectedPoint struct {
	X, Y, Z         float64
	ReturnNumber    int
	NumberOfReturns int
	GPSTime         float64
	Extra           []float64 // aligned with DetectedPoints.ExtraNames
}

// DetectedPoints is a fully parsed DetectedPoints file.
type DetectedPoints struct {
	ExtraNames []string
	Points     []DetectedPoint
}

// ReadDetectedPointsFile parses the tab-separated file at path.
func ReadDetectedPointsFile(path string) (*DetectedPoints, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detected points: %w", err)
	}
	defer f.Close()
	return ReadDetectedPoints(f, path)
}

// ReadDetectedPoints parses a tab-separated DetectedPoints stream with a
// header row. name labels errors.
func ReadDetectedPoints(r io.Reader, name string) (*DetectedPoints, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, lidarerr.NewFormatError(name, "header", "empty detected points file")
	}
	if err != nil {
		return nil, &lidarerr.FormatError{Path: name, Field: "header", Err: err}
	}
	if len(header) < DetectedPointsFixedColumns {
		return nil, lidarerr.NewFormatError(name, "header", "expected at least %d columns, got %d", DetectedPointsFixedColumns, len(header))
	}

	out := &DetectedPoints{}
	for _, col := range header[DetectedPointsFixedColumns:] {
		out.ExtraNames = append(out.ExtraNames, strings.TrimSpace(col))
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &lidarerr.FormatError{Path: name, Field: fmt.Sprintf("line %d", line), Err: err}
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != len(header) {
			return nil, lidarerr.NewFormatError(name, fmt.Sprintf("line %d", line), "expected %d fields, got %d", len(header), len(rec))
		}

		vals := make([]float64, len(rec))
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, lidarerr.NewFormatError(name, fmt.Sprintf("line %d column %q", line, header[i]), "invalid number %q", field)
			}
			vals[i] = v
		}

		for _, c := range []int{3, 4} {
			if v := vals[c]; v < 0 || v > math.MaxUint8 || v != math.Trunc(v) {
				return nil, lidarerr.NewFormatError(name, fmt.Sprintf("line %d column %q", line, header[c]), "%q is not a return count in 0-255", rec[c])
			}
		}

		p := DetectedPoint{
			X:               vals[0],
			Y:               vals[1],
			Z:               vals[2],
			ReturnNumber:    int(vals[3]),
			NumberOfReturns: int(vals[4]),
			GPSTime:         vals[5],
		}
		if len(vals) > DetectedPointsFixedColumns {
			p.Extra = vals[DetectedPointsFixedColumns:]
		}
		out.Points = append(out.Points, p)
	}
	return out, nil
}
