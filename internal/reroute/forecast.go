// Package reroute watches active routes and replaces the ones the traffic
// forecast says will slip. The feasibility walk projects the remainder of an
// agent's day from the live GPS position with time-of-day traffic
// multipliers applied; when the projected slip crosses the auto threshold a
// fresh plan is solved and published, otherwise a delay notification goes
// out and the route stands.
package reroute

import (
	"context"
	"fmt"
	"time"

	"github.com/karavan-route/karavan/internal/config"
	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/notify"
)

// unroutableLateness stands in for a stop the matrix reports unreachable:
// far past any critical threshold, but safe for time arithmetic.
const unroutableLateness = 24 * time.Hour

// Forecast is the projected remainder of one agent's day.
type Forecast struct {
	AgentID     string    `json:"agent_id"`
	RouteID     string    `json:"route_id"`
	GeneratedAt time.Time `json:"generated_at"`

	// Delays lists visits projected late beyond the warning threshold.
	Delays []notify.VisitDelay `json:"delays,omitempty"`
	// TotalDelay sums the projected lateness of every late visit, including
	// ones still under the warning threshold.
	TotalDelay time.Duration `json:"total_delay"`
	// Remaining is the number of stops simulated.
	Remaining int `json:"remaining"`
}

// Critical reports whether any visit is projected critical.
func (f *Forecast) Critical() bool {
	for _, d := range f.Delays {
		if d.Severity == notify.SeverityCritical {
			return true
		}
	}
	return false
}

// forecast walks the remaining stops from pos starting at now. Traffic
// multiplies each leg by the region's factor at departure time; arrivals
// inside a forbidden band wait for the band to end, and an early arrival
// holds until the window opens before service starts.
func (e *Engine) forecast(ctx context.Context, agent model.Agent, route model.DeliveryRoute, pos geo.Coordinate, now time.Time) (*Forecast, error) {
	fc := &Forecast{AgentID: agent.ID, RouteID: route.ID, GeneratedAt: now}
	remaining := route.Remaining()
	fc.Remaining = len(remaining)
	if len(remaining) == 0 {
		return fc, nil
	}

	coords := make([]geo.Coordinate, 0, len(remaining)+1)
	coords = append(coords, pos)
	for _, s := range remaining {
		coords = append(coords, s.Coord())
	}
	m, err := e.matrices.Matrix(ctx, agent.ID, coords, e.cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("reroute: matrix for %s: %w", agent.ID, err)
	}

	bands := e.regions.ForbiddenWindows(agent.Region, route.Day)
	t := now
	for i, stop := range remaining {
		leg := m.Durations[i][i+1]
		unroutable := matrix.IsUnreachable(leg)
		if !unroutable {
			mult := e.regions.TrafficMultiplier(agent.Region, t)
			t = t.Add(time.Duration(leg * mult * float64(time.Second)))
		}

		var lateness time.Duration
		w := stop.Window(route.Day)
		switch {
		case unroutable:
			lateness = unroutableLateness
		case !w.IsZero() && t.After(w.Latest):
			lateness = t.Sub(w.Latest)
		}
		if lateness > 0 {
			fc.TotalDelay += lateness
		}
		if sev := e.severity(lateness); sev != "" {
			fc.Delays = append(fc.Delays, notify.VisitDelay{
				OrderID:          stop.OrderID,
				ClientID:         stop.ClientID,
				PlannedArrival:   stop.PlannedArrival,
				ProjectedArrival: t,
				Delay:            config.Duration(lateness),
				Severity:         sev,
			})
		}
		if unroutable {
			continue
		}

		for _, b := range bands {
			if b.Contains(t) {
				t = b.Latest
			}
		}
		if !w.IsZero() && t.Before(w.Earliest) {
			t = w.Earliest
		}
		service := stop.ServiceMinutes
		if service == 0 {
			service = e.regions.DefaultServiceMinutes(agent.Region)
		}
		t = t.Add(time.Duration(service) * time.Minute)
	}
	return fc, nil
}

func (e *Engine) severity(lateness time.Duration) notify.Severity {
	switch {
	case lateness > e.cfg.CriticalDelay:
		return notify.SeverityCritical
	case lateness > e.cfg.WarningDelay:
		return notify.SeverityAtRisk
	default:
		return ""
	}
}
