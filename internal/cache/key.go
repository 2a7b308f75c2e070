package cache

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/karavan-route/karavan/internal/geo"
)

// Key class prefixes. Pattern invalidation operates on these.
const (
	PrefixMatrix   = "matrix:"
	PrefixGeometry = "geometry:"
	PrefixClients  = "clients:"
	PrefixVehicles = "vehicles:"
	PrefixSchedule = "schedule:"
	PrefixAgentLoc = "agentloc:"
	PrefixRoutes   = "routes:"
	PrefixGPS      = "gps:"
)

// SharedOwner is the owner segment for matrices not tied to a single agent.
const SharedOwner = "shared"

// Digest is a 128-bit content hash addressing cached matrix data. Two
// requests over the same coordinates, profile and index selection produce
// the same Digest.
type Digest [16]byte

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// CoordDigest computes the digest of (coords, profile, sources, dests).
// Coordinates are rounded to microdegrees (about 0.11 m) before hashing, so
// GPS jitter below that scale cannot fragment the cache. The coordinate
// order is significant: callers canonicalize ordering before keying.
// Nil sources/dests mean the full index range and hash distinctly from any
// explicit selection.
func CoordDigest(coords []geo.Coordinate, profile string, sources, dests []int) Digest {
	// 16B per coordinate + profile + two index lists with length prefixes.
	buf := make([]byte, 0, len(coords)*16+len(profile)+(len(sources)+len(dests))*4+16)
	for _, c := range coords {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(c.MicroLat()))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(c.MicroLon()))
	}
	buf = binary.AppendUvarint(buf, uint64(len(profile)))
	buf = append(buf, profile...)
	buf = appendIndexList(buf, sources)
	buf = appendIndexList(buf, dests)

	h := xxh3.Hash128(buf)
	var d Digest
	binary.LittleEndian.PutUint64(d[:8], h.Lo)
	binary.LittleEndian.PutUint64(d[8:], h.Hi)
	return d
}

func appendIndexList(buf []byte, idx []int) []byte {
	if idx == nil {
		return append(buf, 0xff) // full-range marker, distinct from empty
	}
	buf = binary.AppendUvarint(buf, uint64(len(idx)))
	for _, i := range idx {
		buf = binary.AppendUvarint(buf, uint64(i))
	}
	return buf
}

// MatrixKey returns the request-level key for the full matrix over coords.
// owner scopes the key for pattern invalidation; use SharedOwner when the
// matrix belongs to no particular agent.
func MatrixKey(owner string, coords []geo.Coordinate, profile string) string {
	return PrefixMatrix + owner + ":" + CoordDigest(coords, profile, nil, nil).Hex()
}

// BatchKey returns the batch-level key for the sub-matrix covering
// sources x dests within coords.
func BatchKey(owner string, coords []geo.Coordinate, profile string, sources, dests []int) string {
	return PrefixMatrix + owner + ":" + CoordDigest(coords, profile, sources, dests).Hex()
}

// MatrixPattern matches every matrix key owned by owner.
func MatrixPattern(owner string) string {
	return PrefixMatrix + owner + ":*"
}

// GeometryKey returns the key for a route geometry over the ordered coords.
func GeometryKey(coords []geo.Coordinate, profile string) string {
	return PrefixGeometry + CoordDigest(coords, profile, nil, nil).Hex()
}

// ClientsKey returns the reference-data key for an agent's client list.
func ClientsKey(agentID string) string { return PrefixClients + agentID }

// VehiclesKey returns the reference-data key for an agent's vehicle list.
func VehiclesKey(agentID string) string { return PrefixVehicles + agentID }

// ScheduleKey returns the key for an agent's plan on a given day.
func ScheduleKey(agentID string, day time.Time) string {
	return PrefixSchedule + agentID + ":" + day.Format("2006-01-02")
}

// SchedulePattern matches every schedule key for an agent.
func SchedulePattern(agentID string) string { return PrefixSchedule + agentID + ":*" }

// AgentLocationKey returns the key for an agent's last known location.
func AgentLocationKey(agentID string) string { return PrefixAgentLoc + agentID }

// AgentLocationPattern matches the location keys for an agent.
func AgentLocationPattern(agentID string) string { return PrefixAgentLoc + agentID + "*" }

// RoutesKey returns the key for an agent's active route snapshot.
func RoutesKey(agentID string) string { return PrefixRoutes + agentID }

// RoutesPattern matches every active-route key for an agent.
func RoutesPattern(agentID string) string { return PrefixRoutes + agentID + "*" }

// GPSKey returns the key for an agent's raw GPS fix.
func GPSKey(agentID string) string { return PrefixGPS + agentID }
