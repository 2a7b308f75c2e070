// Package model defines the persistent-entity snapshots the routing core
// reads through the repository ports: agents, clients, vehicles, delivery
// orders, and planned routes. The core treats them as immutable records;
// mutation happens in external storage and arrives here as fresh snapshots.
package model

import (
	"time"

	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/vrp"
)

// VisitFrequency classifies how often a client is visited.
type VisitFrequency string

const (
	// FrequencyA is the premium tier: Monday and Wednesday every week plus
	// Friday on odd ISO weeks, a long-run mean of 2.5 visits per week.
	FrequencyA VisitFrequency = "A"
	// FrequencyB is one visit per week.
	FrequencyB VisitFrequency = "B"
	// FrequencyC is one visit on even ISO weeks.
	FrequencyC VisitFrequency = "C"
)

// IsValid reports whether the value names a known frequency tier.
func (f VisitFrequency) IsValid() bool {
	switch f {
	case FrequencyA, FrequencyB, FrequencyC:
		return true
	}
	return false
}

// Agent is a field delivery driver bound to one vehicle and one regional
// profile.
type Agent struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Region    string  `json:"region"`
	VehicleID string  `json:"vehicle_id"`
	DepotLat  float64 `json:"depot_lat"`
	DepotLon  float64 `json:"depot_lon"`
	Active    bool    `json:"active"`
}

// Depot returns the agent's start/end coordinate.
func (a Agent) Depot() geo.Coordinate {
	return geo.Coordinate{Lat: a.DepotLat, Lon: a.DepotLon}
}

// Client is a delivery point: a shop, kiosk, or warehouse an agent serves.
// Time windows are stored as minutes from midnight; (0, 0) means no window.
type Client struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	AgentID        string         `json:"agent_id"`
	Region         string         `json:"region"`
	Lat            float64        `json:"lat"`
	Lon            float64        `json:"lon"`
	Frequency      VisitFrequency `json:"frequency"`
	ServiceMinutes int            `json:"service_minutes"`
	WindowStartMin int            `json:"window_start_min"`
	WindowEndMin   int            `json:"window_end_min"`
	Active         bool           `json:"active"`
}

// Coord returns the client's coordinate.
func (c Client) Coord() geo.Coordinate {
	return geo.Coordinate{Lat: c.Lat, Lon: c.Lon}
}

// HasWindow reports whether the client restricts visit times.
func (c Client) HasWindow() bool {
	return c.WindowStartMin != 0 || c.WindowEndMin != 0
}

// Location materializes the client as a visit location on the given day.
func (c Client) Location(day time.Time) geo.Location {
	loc := geo.Location{Coordinate: c.Coord(), ServiceMinutes: c.ServiceMinutes}
	if c.HasWindow() {
		loc.Window = geo.WindowFromMinutes(day, c.WindowStartMin, c.WindowEndMin)
	}
	return loc
}

// Vehicle is the persistent record of a delivery vehicle. Shift and break
// bounds are minutes from midnight; a (0, 0) break means none.
type Vehicle struct {
	ID            string  `json:"id"`
	AgentID       string  `json:"agent_id"`
	Plate         string  `json:"plate"`
	CapacityKg    float64 `json:"capacity_kg"`
	CapacityM3    float64 `json:"capacity_m3"`
	ShiftStartMin int     `json:"shift_start_min"`
	ShiftEndMin   int     `json:"shift_end_min"`
	BreakStartMin int     `json:"break_start_min"`
	BreakEndMin   int     `json:"break_end_min"`
}

// ToVRP materializes the vehicle for a solve on the given day, anchored at
// the given depot.
func (v Vehicle) ToVRP(day time.Time, depot geo.Coordinate) vrp.Vehicle {
	out := vrp.Vehicle{
		ID:       v.ID,
		Depot:    geo.Location{Coordinate: depot},
		Capacity: vrp.Demand{WeightKg: v.CapacityKg, VolumeM3: v.CapacityM3},
	}
	if v.ShiftStartMin != 0 || v.ShiftEndMin != 0 {
		out.WorkWindow = geo.WindowFromMinutes(day, v.ShiftStartMin, v.ShiftEndMin)
	}
	if v.BreakStartMin != 0 || v.BreakEndMin != 0 {
		w := geo.WindowFromMinutes(day, v.BreakStartMin, v.BreakEndMin)
		out.Breaks = []vrp.BreakRule{{Start: w.Earliest, End: w.Latest}}
	}
	return out
}

// OrderStatus tracks a delivery order through its lifecycle.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAssigned  OrderStatus = "assigned"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// IsValid reports whether the value names a known order status.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderPending, OrderAssigned, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// DeliveryOrder is one package (or pickup) to move on a given day.
type DeliveryOrder struct {
	ID       string      `json:"id"`
	ClientID string      `json:"client_id"`
	AgentID  string      `json:"agent_id"`
	WeightKg float64     `json:"weight_kg"`
	VolumeM3 float64     `json:"volume_m3"`
	Priority int         `json:"priority"`
	Status   OrderStatus `json:"status"`
	// PickupPairID links a pickup order to its delivery counterpart.
	PickupPairID string    `json:"pickup_pair_id,omitempty"`
	Day          time.Time `json:"day"`
}

// ToJob materializes the order as a solve job at the client's location.
func (o DeliveryOrder) ToJob(client Client, day time.Time) vrp.Job {
	priority := o.Priority
	if priority <= 0 {
		priority = 1
	}
	return vrp.Job{
		ID:           o.ID,
		Location:     client.Location(day),
		Demand:       vrp.Demand{WeightKg: o.WeightKg, VolumeM3: o.VolumeM3},
		Priority:     priority,
		PickupPairID: o.PickupPairID,
	}
}

// RouteStatus tracks a planned route through its day.
type RouteStatus string

const (
	RoutePlanned   RouteStatus = "planned"
	RouteActive    RouteStatus = "active"
	RouteCompleted RouteStatus = "completed"
	RouteCancelled RouteStatus = "cancelled"
)

// IsValid reports whether the value names a known route status.
func (s RouteStatus) IsValid() bool {
	switch s {
	case RoutePlanned, RouteActive, RouteCompleted, RouteCancelled:
		return true
	}
	return false
}

// RouteStop is one planned visit on a delivery route, denormalized so the
// rerouting engine can rebuild a solve problem without extra lookups.
type RouteStop struct {
	OrderID        string    `json:"order_id"`
	ClientID       string    `json:"client_id"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	ServiceMinutes int       `json:"service_minutes"`
	WindowStartMin int       `json:"window_start_min"`
	WindowEndMin   int       `json:"window_end_min"`
	WeightKg       float64   `json:"weight_kg"`
	VolumeM3       float64   `json:"volume_m3"`
	PlannedArrival time.Time `json:"planned_arrival"`
	Completed      bool      `json:"completed"`
}

// Coord returns the stop's coordinate.
func (s RouteStop) Coord() geo.Coordinate {
	return geo.Coordinate{Lat: s.Lat, Lon: s.Lon}
}

// Window returns the stop's visit window on the given day, zero when unset.
func (s RouteStop) Window(day time.Time) geo.TimeWindow {
	if s.WindowStartMin == 0 && s.WindowEndMin == 0 {
		return geo.TimeWindow{}
	}
	return geo.WindowFromMinutes(day, s.WindowStartMin, s.WindowEndMin)
}

// ToJob materializes the stop as a solve job for rerouting.
func (s RouteStop) ToJob(day time.Time) vrp.Job {
	return vrp.Job{
		ID: s.OrderID,
		Location: geo.Location{
			Coordinate:     s.Coord(),
			ServiceMinutes: s.ServiceMinutes,
			Window:         s.Window(day),
		},
		Demand:   vrp.Demand{WeightKg: s.WeightKg, VolumeM3: s.VolumeM3},
		Priority: 1,
	}
}

// DeliveryRoute is a persisted plan for one agent and one day. The core
// reads it as an immutable snapshot during rerouting and writes a fresh
// record when a reroute replaces the plan.
type DeliveryRoute struct {
	ID           string      `json:"id"`
	AgentID      string      `json:"agent_id"`
	VehicleID    string      `json:"vehicle_id"`
	Day          time.Time   `json:"day"`
	Status       RouteStatus `json:"status"`
	Stops        []RouteStop `json:"stops"`
	TotalMeters  float64     `json:"total_meters"`
	TotalSeconds float64     `json:"total_seconds"`
	SolverKind   string      `json:"solver_kind,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Remaining returns the stops not yet completed, in planned order.
func (r DeliveryRoute) Remaining() []RouteStop {
	var out []RouteStop
	for _, s := range r.Stops {
		if !s.Completed {
			out = append(out, s)
		}
	}
	return out
}

// CompletedOrderIDs returns the order ids of completed stops.
func (r DeliveryRoute) CompletedOrderIDs() []string {
	var out []string
	for _, s := range r.Stops {
		if s.Completed {
			out = append(out, s.OrderID)
		}
	}
	return out
}

// DayKey normalizes a timestamp to the calendar-day key used by route and
// schedule lookups.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
