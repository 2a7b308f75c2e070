package spatial

import (
	"fmt"
	"math"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	h3 "github.com/uber/h3-go/v4"

	"github.com/karavan-route/karavan/internal/geo"
)

// DefaultResolution is H3 resolution 9, about 175 m hexagon edges: fine
// enough to separate adjacent delivery points, coarse enough that a city
// fleet spans few cells.
const DefaultResolution = 9

// avgEdgeM is the mean hexagon edge length in meters per H3 resolution.
var avgEdgeM = [16]float64{
	1107712.59, 418676.01, 158244.66, 59810.86, 22606.38,
	8544.41, 3229.48, 1220.63, 461.35, 174.38,
	65.91, 24.91, 9.42, 3.56, 1.35, 0.51,
}

type h3Entry struct {
	cell  h3.Cell
	coord geo.Coordinate
}

// H3Index buckets entities into H3 cells. Mutations are serialized by a
// mutex; queries read immutable cell snapshots through xsync maps and never
// take the lock.
type H3Index struct {
	res int

	mu      sync.Mutex
	cells   *xsync.Map[h3.Cell, map[string]geo.Coordinate]
	entries *xsync.Map[string, h3Entry]
}

// NewH3 creates an H3 index at the given resolution (0..15). A non-positive
// resolution uses DefaultResolution.
func NewH3(resolution int) (*H3Index, error) {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	if resolution > 15 {
		return nil, fmt.Errorf("spatial: h3 resolution %d out of range", resolution)
	}
	return &H3Index{
		res:     resolution,
		cells:   xsync.NewMap[h3.Cell, map[string]geo.Coordinate](),
		entries: xsync.NewMap[string, h3Entry](),
	}, nil
}

var _ Index = (*H3Index)(nil)

func (x *H3Index) cellOf(c geo.Coordinate) (h3.Cell, error) {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat, Lng: c.Lon}, x.res)
	if err != nil {
		return 0, fmt.Errorf("spatial: h3 cell for %s: %w", c, err)
	}
	return cell, nil
}

// Upsert adds the entity or moves it to a new position.
func (x *H3Index) Upsert(id string, c geo.Coordinate) error {
	if id == "" {
		return fmt.Errorf("spatial: empty entity id")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cell, err := x.cellOf(c)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if prev, ok := x.entries.Load(id); ok && prev.cell != cell {
		x.dropFromCell(prev.cell, id)
	}
	x.putInCell(cell, id, c)
	x.entries.Store(id, h3Entry{cell: cell, coord: c})
	return nil
}

// Remove drops the entity.
func (x *H3Index) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	prev, ok := x.entries.Load(id)
	if !ok {
		return false
	}
	x.dropFromCell(prev.cell, id)
	x.entries.Delete(id)
	return true
}

// Lookup returns the stored coordinate for id.
func (x *H3Index) Lookup(id string) (geo.Coordinate, bool) {
	e, ok := x.entries.Load(id)
	return e.coord, ok
}

// Len returns the number of indexed entities.
func (x *H3Index) Len() int { return x.entries.Size() }

// putInCell replaces the cell's snapshot with a copy including id.
// Callers hold x.mu.
func (x *H3Index) putInCell(cell h3.Cell, id string, c geo.Coordinate) {
	old, _ := x.cells.Load(cell)
	next := make(map[string]geo.Coordinate, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[id] = c
	x.cells.Store(cell, next)
}

// dropFromCell replaces the cell's snapshot with a copy excluding id.
// Callers hold x.mu.
func (x *H3Index) dropFromCell(cell h3.Cell, id string) {
	old, ok := x.cells.Load(cell)
	if !ok {
		return
	}
	if len(old) == 1 {
		if _, only := old[id]; only {
			x.cells.Delete(cell)
			return
		}
	}
	next := make(map[string]geo.Coordinate, len(old))
	for k, v := range old {
		if k != id {
			next[k] = v
		}
	}
	x.cells.Store(cell, next)
}

// maxDiskRings caps cell-walk queries. Beyond it (about 11 km at
// resolution 9) a full scan over the entries map is cheaper than visiting
// mostly-empty cells.
const maxDiskRings = 64

// Radius returns every entity within meters of center, nearest first. The
// covering disk is k = ceil(meters/edge) rings; candidates are confirmed
// with exact Haversine distance. Queries wider than the disk cap scan all
// entries instead.
func (x *H3Index) Radius(center geo.Coordinate, meters float64) []Neighbor {
	if meters < 0 || center.Validate() != nil {
		return nil
	}
	k := int(math.Ceil(meters / avgEdgeM[x.res]))
	if k > maxDiskRings {
		return x.scanRadius(center, meters)
	}
	centerCell, err := x.cellOf(center)
	if err != nil {
		return nil
	}
	disk, err := h3.GridDisk(centerCell, k)
	if err != nil {
		return x.scanRadius(center, meters)
	}

	var out []Neighbor
	for _, cell := range disk {
		bucket, ok := x.cells.Load(cell)
		if !ok {
			continue
		}
		for id, coord := range bucket {
			if d := geo.HaversineM(center, coord); d <= meters {
				out = append(out, Neighbor{ID: id, Coord: coord, DistanceM: d})
			}
		}
	}
	sortNeighbors(out)
	return out
}

// scanRadius is the wide-query path: exact filter over every entry.
func (x *H3Index) scanRadius(center geo.Coordinate, meters float64) []Neighbor {
	var out []Neighbor
	x.entries.Range(func(id string, e h3Entry) bool {
		if d := geo.HaversineM(center, e.coord); d <= meters {
			out = append(out, Neighbor{ID: id, Coord: e.coord, DistanceM: d})
		}
		return true
	})
	sortNeighbors(out)
	return out
}

// KNearest returns up to k entities ranked by distance from center. Rings
// expand until at least k candidates are seen, plus one ring because hexagon
// disks are not circles; past the ring cap it falls back to scanning every
// entry.
func (x *H3Index) KNearest(center geo.Coordinate, k int) []Neighbor {
	if k <= 0 || center.Validate() != nil {
		return nil
	}
	total := x.Len()
	if total == 0 {
		return nil
	}
	centerCell, err := x.cellOf(center)
	if err != nil {
		return nil
	}

	var candidates []Neighbor
	complete := false
	for ring, extra := 0, -1; ring <= maxDiskRings; ring++ {
		disk, err := h3.GridDisk(centerCell, ring)
		if err != nil {
			break
		}
		candidates = candidates[:0]
		for _, cell := range disk {
			bucket, ok := x.cells.Load(cell)
			if !ok {
				continue
			}
			for id, coord := range bucket {
				candidates = append(candidates, Neighbor{
					ID: id, Coord: coord, DistanceM: geo.HaversineM(center, coord),
				})
			}
		}
		if extra >= 0 || len(candidates) >= total {
			complete = true
			break
		}
		if len(candidates) >= k {
			extra = ring // one more ring, then stop
		}
	}
	if !complete && len(candidates) < k {
		return x.scanNearest(center, k)
	}
	sortNeighbors(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// scanNearest ranks every entry by distance and keeps the top k.
func (x *H3Index) scanNearest(center geo.Coordinate, k int) []Neighbor {
	var all []Neighbor
	x.entries.Range(func(id string, e h3Entry) bool {
		all = append(all, Neighbor{ID: id, Coord: e.coord, DistanceM: geo.HaversineM(center, e.coord)})
		return true
	})
	sortNeighbors(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}
