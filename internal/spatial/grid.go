package spatial

import (
	"fmt"
	"math"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/karavan-route/karavan/internal/geo"
)

// DefaultGridCellM mirrors the H3 default resolution's edge length.
const DefaultGridCellM = 175

// metersPerDegree is the meridian arc length of one degree of latitude.
const metersPerDegree = 111320.0

type gridKey struct {
	Row int32
	Col int32
}

type gridEntry struct {
	key   gridKey
	coord geo.Coordinate
}

// GridIndex is the H3-free fallback: square lat/lon buckets at a fixed
// angular step, identical public contract. Same concurrency discipline as
// H3Index: serialized mutations, lock-free snapshot reads.
type GridIndex struct {
	stepDeg float64

	mu      sync.Mutex
	cells   *xsync.Map[gridKey, map[string]geo.Coordinate]
	entries *xsync.Map[string, gridEntry]
}

// NewGrid creates a grid index with buckets roughly cellM meters tall.
// A non-positive cellM uses DefaultGridCellM.
func NewGrid(cellM float64) *GridIndex {
	if cellM <= 0 {
		cellM = DefaultGridCellM
	}
	return &GridIndex{
		stepDeg: cellM / metersPerDegree,
		cells:   xsync.NewMap[gridKey, map[string]geo.Coordinate](),
		entries: xsync.NewMap[string, gridEntry](),
	}
}

var _ Index = (*GridIndex)(nil)

func (g *GridIndex) keyOf(c geo.Coordinate) gridKey {
	return gridKey{
		Row: int32(math.Floor(c.Lat / g.stepDeg)),
		Col: int32(math.Floor(c.Lon / g.stepDeg)),
	}
}

// Upsert adds the entity or moves it to a new position.
func (g *GridIndex) Upsert(id string, c geo.Coordinate) error {
	if id == "" {
		return fmt.Errorf("spatial: empty entity id")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	key := g.keyOf(c)

	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.entries.Load(id); ok && prev.key != key {
		g.dropFromCell(prev.key, id)
	}
	g.putInCell(key, id, c)
	g.entries.Store(id, gridEntry{key: key, coord: c})
	return nil
}

// Remove drops the entity.
func (g *GridIndex) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, ok := g.entries.Load(id)
	if !ok {
		return false
	}
	g.dropFromCell(prev.key, id)
	g.entries.Delete(id)
	return true
}

// Lookup returns the stored coordinate for id.
func (g *GridIndex) Lookup(id string) (geo.Coordinate, bool) {
	e, ok := g.entries.Load(id)
	return e.coord, ok
}

// Len returns the number of indexed entities.
func (g *GridIndex) Len() int { return g.entries.Size() }

func (g *GridIndex) putInCell(key gridKey, id string, c geo.Coordinate) {
	old, _ := g.cells.Load(key)
	next := make(map[string]geo.Coordinate, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[id] = c
	g.cells.Store(key, next)
}

func (g *GridIndex) dropFromCell(key gridKey, id string) {
	old, ok := g.cells.Load(key)
	if !ok {
		return
	}
	if len(old) == 1 {
		if _, only := old[id]; only {
			g.cells.Delete(key)
			return
		}
	}
	next := make(map[string]geo.Coordinate, len(old))
	for k, v := range old {
		if k != id {
			next[k] = v
		}
	}
	g.cells.Store(key, next)
}

// Radius returns every entity within meters of center, nearest first.
func (g *GridIndex) Radius(center geo.Coordinate, meters float64) []Neighbor {
	if meters < 0 || center.Validate() != nil {
		return nil
	}
	rowSpan := int32(math.Ceil(meters / metersPerDegree / g.stepDeg))
	colSpan := g.colSpan(center.Lat, meters)
	if rowSpan > maxDiskRings || colSpan > maxDiskRings {
		return g.scanRadius(center, meters)
	}

	ck := g.keyOf(center)
	var out []Neighbor
	for row := ck.Row - rowSpan; row <= ck.Row+rowSpan; row++ {
		for col := ck.Col - colSpan; col <= ck.Col+colSpan; col++ {
			bucket, ok := g.cells.Load(gridKey{Row: row, Col: col})
			if !ok {
				continue
			}
			for id, coord := range bucket {
				if d := geo.HaversineM(center, coord); d <= meters {
					out = append(out, Neighbor{ID: id, Coord: coord, DistanceM: d})
				}
			}
		}
	}
	sortNeighbors(out)
	return out
}

// colSpan widens the bucket rectangle with latitude so the full circle stays
// covered as meridians converge.
func (g *GridIndex) colSpan(lat, meters float64) int32 {
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	return int32(math.Ceil(meters / (metersPerDegree * cosLat) / g.stepDeg))
}

func (g *GridIndex) scanRadius(center geo.Coordinate, meters float64) []Neighbor {
	var out []Neighbor
	g.entries.Range(func(id string, e gridEntry) bool {
		if d := geo.HaversineM(center, e.coord); d <= meters {
			out = append(out, Neighbor{ID: id, Coord: e.coord, DistanceM: d})
		}
		return true
	})
	sortNeighbors(out)
	return out
}

// KNearest returns up to k entities ranked by distance from center. Square
// rings expand until enough candidates are seen, plus one ring; wide
// searches scan every entry.
func (g *GridIndex) KNearest(center geo.Coordinate, k int) []Neighbor {
	if k <= 0 || center.Validate() != nil {
		return nil
	}
	total := g.Len()
	if total == 0 {
		return nil
	}
	ck := g.keyOf(center)

	var candidates []Neighbor
	complete := false
	for span, extra := int32(0), int32(-1); span <= maxDiskRings; span++ {
		candidates = candidates[:0]
		for row := ck.Row - span; row <= ck.Row+span; row++ {
			for col := ck.Col - span; col <= ck.Col+span; col++ {
				bucket, ok := g.cells.Load(gridKey{Row: row, Col: col})
				if !ok {
					continue
				}
				for id, coord := range bucket {
					candidates = append(candidates, Neighbor{
						ID: id, Coord: coord, DistanceM: geo.HaversineM(center, coord),
					})
				}
			}
		}
		if extra >= 0 || len(candidates) >= total {
			complete = true
			break
		}
		if len(candidates) >= k {
			extra = span
		}
	}
	if !complete && len(candidates) < k {
		return g.scanNearest(center, k)
	}
	sortNeighbors(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

func (g *GridIndex) scanNearest(center geo.Coordinate, k int) []Neighbor {
	var all []Neighbor
	g.entries.Range(func(id string, e gridEntry) bool {
		all = append(all, Neighbor{ID: id, Coord: e.coord, DistanceM: geo.HaversineM(center, e.coord)})
		return true
	})
	sortNeighbors(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}
