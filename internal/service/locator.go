package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/karavan-route/karavan/internal/cache"
	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/pipeline"
	"github.com/karavan-route/karavan/internal/spatial"
	"github.com/karavan-route/karavan/internal/vrp"
)

// Locator resolves agent positions for the reroute engine: the short-TTL
// GPS cache first (a fix older than the TTL has expired there), then the
// spatial index.
type Locator struct {
	cache   cache.Cache
	spatial spatial.Index
}

// NewLocator builds the locator.
func NewLocator(c cache.Cache, idx spatial.Index) *Locator {
	return &Locator{cache: c, spatial: idx}
}

// Position returns the agent's latest known coordinate, or vrp.ErrNotFound
// when no recent fix exists.
func (l *Locator) Position(ctx context.Context, agentID string) (geo.Coordinate, error) {
	if b, ok, err := l.cache.Get(ctx, cache.GPSKey(agentID)); err == nil && ok {
		var fix pipeline.GPSFix
		if err := json.Unmarshal(b, &fix); err == nil {
			return fix.Position, nil
		}
	}
	if pos, ok := l.spatial.Lookup(agentID); ok {
		return pos, nil
	}
	return geo.Coordinate{}, fmt.Errorf("service: no position for agent %s: %w", agentID, vrp.ErrNotFound)
}
