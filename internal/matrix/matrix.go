// Package matrix computes, parallelizes and caches the travel-time and
// distance tables every solver consumes. The road-network backend is
// abstracted behind Backend so the OSRM client and the Haversine estimator
// are interchangeable.
package matrix

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/karavan-route/karavan/internal/geo"
)

// Unreachable marks a cell whose value could not be computed: an unroutable
// pair or a failed batch. It is finite so matrices stay serializable and
// ordered; any real travel value is far below it.
const Unreachable = 1e15

// IsUnreachable reports whether v is the unreachable sentinel.
func IsUnreachable(v float64) bool { return v >= Unreachable }

// Matrix is a rows x cols block of travel durations (seconds) and distances
// (meters). A full problem matrix is square; backend batches are rectangular.
type Matrix struct {
	Durations [][]float64
	Distances [][]float64
}

// NewMatrix allocates a rows x cols matrix with every cell set to fill.
func NewMatrix(rows, cols int, fill float64) *Matrix {
	m := &Matrix{
		Durations: make([][]float64, rows),
		Distances: make([][]float64, rows),
	}
	for i := 0; i < rows; i++ {
		m.Durations[i] = make([]float64, cols)
		m.Distances[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			m.Durations[i][j] = fill
			m.Distances[i][j] = fill
		}
	}
	return m
}

// Rows returns the number of source rows.
func (m *Matrix) Rows() int { return len(m.Durations) }

// Cols returns the number of destination columns.
func (m *Matrix) Cols() int {
	if len(m.Durations) == 0 {
		return 0
	}
	return len(m.Durations[0])
}

// MeanDuration returns the mean over reachable, non-diagonal duration cells.
// Zero when no such cell exists.
func (m *Matrix) MeanDuration() float64 {
	var sum float64
	var n int
	for i, row := range m.Durations {
		for j, v := range row {
			if i == j || IsUnreachable(v) {
				continue
			}
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// UnreachableCells counts cells holding the sentinel in either grid.
func (m *Matrix) UnreachableCells() int {
	var n int
	for i := range m.Durations {
		for j := range m.Durations[i] {
			if IsUnreachable(m.Durations[i][j]) || IsUnreachable(m.Distances[i][j]) {
				n++
			}
		}
	}
	return n
}

const binaryVersion = 1

// MarshalBinary encodes the matrix as a compact little-endian blob:
// version, rows, cols, then both grids as raw float64 bits. Cache values
// use this form; a 100x100 block is 160 KB instead of megabytes of JSON.
func (m *Matrix) MarshalBinary() ([]byte, error) {
	rows, cols := m.Rows(), m.Cols()
	buf := make([]byte, 0, 9+rows*cols*16)
	buf = append(buf, binaryVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rows))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(cols))
	for _, grid := range [][][]float64{m.Durations, m.Distances} {
		for _, row := range grid {
			if len(row) != cols {
				return nil, fmt.Errorf("matrix: ragged row: %d cells, want %d", len(row), cols)
			}
			for _, v := range row {
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
			}
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes a blob produced by MarshalBinary.
func (m *Matrix) UnmarshalBinary(data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("matrix: blob too short: %d bytes", len(data))
	}
	if data[0] != binaryVersion {
		return fmt.Errorf("matrix: unknown blob version %d", data[0])
	}
	rows := int(binary.LittleEndian.Uint32(data[1:5]))
	cols := int(binary.LittleEndian.Uint32(data[5:9]))
	want := 9 + rows*cols*16
	if rows < 0 || cols < 0 || len(data) != want {
		return fmt.Errorf("matrix: blob length %d does not match %dx%d", len(data), rows, cols)
	}
	off := 9
	decoded := NewMatrix(rows, cols, 0)
	for _, grid := range [][][]float64{decoded.Durations, decoded.Distances} {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				grid[i][j] = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
				off += 8
			}
		}
	}
	*m = *decoded
	return nil
}

// TableRequest asks a Backend for the block Sources x Dests within Coords.
// Nil Sources or Dests select every coordinate.
type TableRequest struct {
	Coords  []geo.Coordinate
	Sources []int
	Dests   []int
	Profile string
}

// rows/cols of the block this request describes.
func (r TableRequest) dims() (int, int) {
	rows, cols := len(r.Sources), len(r.Dests)
	if r.Sources == nil {
		rows = len(r.Coords)
	}
	if r.Dests == nil {
		cols = len(r.Coords)
	}
	return rows, cols
}

// Overview selects the geometry detail of a Route call.
type Overview string

const (
	OverviewFull       Overview = "full"
	OverviewSimplified Overview = "simplified"
	OverviewNone       Overview = "false"
)

// RouteGeometry is the road path through an ordered coordinate sequence.
type RouteGeometry struct {
	Points    []geo.Coordinate `json:"points"`
	DistanceM float64          `json:"distance_m"`
	DurationS float64          `json:"duration_s"`
}

// Backend computes tables and route geometries over the road network.
type Backend interface {
	// Table returns the requested block. Missing cells hold Unreachable.
	Table(ctx context.Context, req TableRequest) (*Matrix, error)
	// Route returns the geometry through coords in visit order.
	Route(ctx context.Context, coords []geo.Coordinate, overview Overview, profile string) (*RouteGeometry, error)
	// Healthy reports whether the backend currently serves requests.
	Healthy(ctx context.Context) bool
	// Name identifies the backend in logs.
	Name() string
}
