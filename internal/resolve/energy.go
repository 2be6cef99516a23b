package resolve

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/dartlas/internal/dart"
)

// PixelKey identifies a cell of the energy map by the pulse's pixel indices.
type PixelKey struct {
	I, J int32
}

// Cell is one accumulated energy map entry.
type Cell struct {
	PixelKey
	Energy float64
	Pulses int
}

// EnergyMap sums the waveform energy of every pulse per pixel. It is not
// safe for concurrent use; workers keep their own map and Merge at the end.
type EnergyMap struct {
	cells map[PixelKey]*Cell
}

// NewEnergyMap returns an empty map.
func NewEnergyMap() *EnergyMap {
	return &EnergyMap{cells: make(map[PixelKey]*Cell)}
}

// Add accumulates energy for one pulse at (i, j).
func (m *EnergyMap) Add(i, j int32, energy float64) {
	k := PixelKey{I: i, J: j}
	c, ok := m.cells[k]
	if !ok {
		c = &Cell{PixelKey: k}
		m.cells[k] = c
	}
	c.Energy += energy
	c.Pulses++
}

// AddPulse accumulates the summed samples of p.
func (m *EnergyMap) AddPulse(p *dart.Pulse, samples []float64) {
	m.Add(p.PixelI, p.PixelJ, floats.Sum(samples))
}

// Merge folds other into m.
func (m *EnergyMap) Merge(other *EnergyMap) {
	for k, oc := range other.cells {
		c, ok := m.cells[k]
		if !ok {
			c = &Cell{PixelKey: k}
			m.cells[k] = c
		}
		c.Energy += oc.Energy
		c.Pulses += oc.Pulses
	}
}

// Len returns the number of populated cells.
func (m *EnergyMap) Len() int { return len(m.cells) }

// Cells returns a copy of the populated cells ordered by (I, J).
func (m *EnergyMap) Cells() []Cell {
	out := make([]Cell, 0, len(m.cells))
	for _, c := range m.cells {
		out = append(out, *c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].I != out[b].I {
			return out[a].I < out[b].I
		}
		return out[a].J < out[b].J
	})
	return out
}

// WriteTSV writes the map as tab-separated "i j energy pulses" rows with a
// header line, in Cells order.
func (m *EnergyMap) WriteTSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{"i", "j", "energy", "pulses"}); err != nil {
		return err
	}
	for _, c := range m.Cells() {
		row := []string{
			strconv.FormatInt(int64(c.I), 10),
			strconv.FormatInt(int64(c.J), 10),
			strconv.FormatFloat(c.Energy, 'g', -1, 64),
			strconv.Itoa(c.Pulses),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTSVFile writes the map to path.
func (m *EnergyMap) WriteTSVFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create energy map: %w", err)
	}
	if err := m.WriteTSV(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write energy map %s: %w", path, err)
	}
	return f.Close()
}
