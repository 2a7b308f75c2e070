// Package spatial answers proximity queries over live fleet entities. The
// primary implementation buckets coordinates into Uber H3 cells; a plain
// lat/lon grid with the same contract serves as fallback where H3 cannot be
// used.
package spatial

import (
	"fmt"
	"sort"

	"github.com/karavan-route/karavan/internal/geo"
)

// Neighbor is a query result with its great-circle distance from the query
// point.
type Neighbor struct {
	ID        string
	Coord     geo.Coordinate
	DistanceM float64
}

// Index tracks entity positions and answers radius and nearest-neighbor
// queries. Implementations are safe for concurrent use; queries never block
// each other.
type Index interface {
	// Upsert adds the entity or moves it to a new position.
	Upsert(id string, c geo.Coordinate) error
	// Remove drops the entity. It reports whether the id was present.
	Remove(id string) bool
	// Lookup returns the stored coordinate for id.
	Lookup(id string) (geo.Coordinate, bool)
	// Radius returns every entity within meters of center, nearest first.
	Radius(center geo.Coordinate, meters float64) []Neighbor
	// KNearest returns up to k entities ranked by distance from center.
	KNearest(center geo.Coordinate, k int) []Neighbor
	// Len returns the number of indexed entities.
	Len() int
}

// Impl selects an Index implementation.
type Impl string

const (
	ImplH3   Impl = "h3"
	ImplGrid Impl = "grid"
)

// IsValid reports whether the value names a known implementation.
func (i Impl) IsValid() bool {
	switch i {
	case ImplH3, ImplGrid:
		return true
	}
	return false
}

// Config selects and sizes the index implementation.
type Config struct {
	Impl Impl
	// Resolution is the H3 cell resolution. Default 9 (about 175 m edge).
	Resolution int
	// GridCellM is the grid fallback bucket edge. Default 175 m.
	GridCellM float64
}

// New builds the configured index.
func New(cfg Config) (Index, error) {
	switch cfg.Impl {
	case ImplH3, "":
		return NewH3(cfg.Resolution)
	case ImplGrid:
		return NewGrid(cfg.GridCellM), nil
	default:
		return nil, fmt.Errorf("spatial: unknown index impl %q", cfg.Impl)
	}
}

// sortNeighbors orders by distance, then id for deterministic ties.
func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].DistanceM != ns[j].DistanceM {
			return ns[i].DistanceM < ns[j].DistanceM
		}
		return ns[i].ID < ns[j].ID
	})
}
