package solver

import (
	"fmt"
	"time"

	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/vrp"
)

// instance pairs a problem with its travel table and the resolved
// pickup/delivery pairing. Matrix indexing follows Problem.Coordinates():
// vehicle vi sits at row vi, job k at row len(Vehicles)+k.
type instance struct {
	p *vrp.Problem
	m *matrix.Matrix

	// deliveryOf[k] is the job index of the delivery paired with pickup k,
	// -1 when k is not a pickup. pickupOf is the reverse edge.
	deliveryOf []int
	pickupOf   []int
}

func newInstance(p *vrp.Problem, m *matrix.Matrix) (*instance, error) {
	n := len(p.Vehicles) + len(p.Jobs)
	if m.Rows() != n || m.Cols() != n {
		return nil, fmt.Errorf("solver: matrix is %dx%d, problem needs %dx%d: %w",
			m.Rows(), m.Cols(), n, n, vrp.ErrInternal)
	}
	in := &instance{
		p:          p,
		m:          m,
		deliveryOf: make([]int, len(p.Jobs)),
		pickupOf:   make([]int, len(p.Jobs)),
	}
	idx := p.JobIndex()
	for k := range p.Jobs {
		in.deliveryOf[k] = -1
		in.pickupOf[k] = -1
	}
	for k, j := range p.Jobs {
		if j.PickupPairID == "" {
			continue
		}
		d, ok := idx[j.PickupPairID]
		if !ok {
			// Validate() rejects dangling pairs; guard anyway.
			continue
		}
		in.deliveryOf[k] = d
		in.pickupOf[d] = k
	}
	return in, nil
}

// jobIdx maps a job position to its matrix row.
func (in *instance) jobIdx(k int) int { return len(in.p.Vehicles) + k }

// isPickup reports whether job k is the pickup half of a pair.
func (in *instance) isPickup(k int) bool { return in.deliveryOf[k] >= 0 }

// isDelivery reports whether job k is the delivery half of a pair.
func (in *instance) isDelivery(k int) bool { return in.pickupOf[k] >= 0 }

// routeDemand sums the demand of every job in seq. Capacity feasibility
// follows the verification model: the summed demand of a route's visits must
// fit the vehicle.
func (in *instance) routeDemand(seq []int) vrp.Demand {
	var d vrp.Demand
	for _, k := range seq {
		d = d.Add(in.p.Jobs[k].Demand)
	}
	return d
}

// resolveDepart picks the schedule anchor: the problem's explicit departure,
// else the vehicle's shift start. Both absent means an unanchored schedule,
// which is only meaningful for window-free problems.
func resolveDepart(p *vrp.Problem, v *vrp.Vehicle) time.Time {
	if !p.DepartAt.IsZero() {
		return p.DepartAt
	}
	return v.WorkWindow.Earliest
}

// routeStats is what a simulation learned about one candidate sequence.
type routeStats struct {
	driveSeconds   float64
	waitSeconds    float64
	serviceSeconds float64
	distanceM      float64

	lateJobs     []string // arrival after the job's latest
	overCapacity bool     // summed demand exceeds the vehicle
	lateReturn   bool     // back at depot after the shift end
	unreachable  bool     // some arc holds the sentinel
}

// feasible reports whether the simulated sequence violates no hard
// constraint. Window lateness only counts when the problem enforces windows.
func (st *routeStats) feasible(enforceWindows bool) bool {
	if st.unreachable || st.overCapacity {
		return false
	}
	if enforceWindows && (len(st.lateJobs) > 0 || st.lateReturn) {
		return false
	}
	return true
}

// simulate walks seq from vehicle vi's depot and back, producing the timed
// route and its stats. Arrival is the raw drive arrival; service starts at
// max(arrival, window earliest) deferred past any vehicle break, so a break
// consumes time at the visit position. Load starts at the summed demand of
// the plain and delivery jobs on board and moves per visit: pickups add,
// everything else drops.
func (in *instance) simulate(vi int, seq []int, departAt time.Time) (vrp.Route, routeStats) {
	p, m := in.p, in.m
	v := &p.Vehicles[vi]
	var st routeStats

	var load vrp.Demand
	for _, k := range seq {
		if !in.isPickup(k) {
			load = load.Add(p.Jobs[k].Demand)
		}
	}
	if p.HasCapacity && !in.routeDemand(seq).Fits(v.Capacity) {
		st.overCapacity = true
	}

	route := vrp.Route{
		VehicleID: v.ID,
		Steps:     make([]vrp.Step, 0, len(seq)+2),
	}
	depart := departAt
	route.Steps = append(route.Steps,
		vrp.NewStep(vrp.StepDepotStart, v.Depot.Coordinate, depart, depart, load))

	pos := vi // matrix row of the current position
	now := depart
	for _, k := range seq {
		j := &p.Jobs[k]
		leg := m.Durations[pos][in.jobIdx(k)]
		dist := m.Distances[pos][in.jobIdx(k)]
		if matrix.IsUnreachable(leg) || matrix.IsUnreachable(dist) {
			st.unreachable = true
			leg, dist = 0, 0
		}
		st.driveSeconds += leg
		st.distanceM += dist
		arrival := now.Add(time.Duration(leg * float64(time.Second)))

		start := arrival
		if w := j.Location.Window; !w.Earliest.IsZero() && start.Before(w.Earliest) {
			start = w.Earliest
		}
		if deferred := v.NextAllowedStart(start); deferred.After(start) {
			route.Steps = append(route.Steps,
				vrp.NewStep(vrp.StepBreak, j.Location.Coordinate, start, deferred, load))
			start = deferred
		}
		if w := j.Location.Window; !w.Latest.IsZero() && arrival.After(w.Latest) {
			st.lateJobs = append(st.lateJobs, j.ID)
		}
		st.waitSeconds += start.Sub(arrival).Seconds()

		service := j.Location.ServiceDuration()
		st.serviceSeconds += service.Seconds()
		if in.isPickup(k) {
			load = load.Add(j.Demand)
		} else {
			load = load.Sub(j.Demand)
		}
		depart := start.Add(service)
		step := vrp.NewStep(vrp.StepVisit, j.Location.Coordinate, arrival, depart, load)
		step.JobID = j.ID
		route.Steps = append(route.Steps, step)

		now = depart
		pos = in.jobIdx(k)
	}

	// Return leg to the depot.
	back := m.Durations[pos][vi]
	backDist := m.Distances[pos][vi]
	if matrix.IsUnreachable(back) || matrix.IsUnreachable(backDist) {
		if len(seq) > 0 {
			st.unreachable = true
		}
		back, backDist = 0, 0
	}
	st.driveSeconds += back
	st.distanceM += backDist
	end := now.Add(time.Duration(back * float64(time.Second)))
	route.Steps = append(route.Steps,
		vrp.NewStep(vrp.StepDepotEnd, v.Depot.Coordinate, end, end, load))

	if w := v.WorkWindow; !w.Latest.IsZero() && end.After(w.Latest) {
		st.lateReturn = true
	}

	route.TotalMeters = st.distanceM
	route.TotalSeconds = end.Sub(depart).Seconds()
	route.ServiceSeconds = st.serviceSeconds
	return route, st
}

// routeCost is the 2-opt objective: the simulated end-to-end route duration,
// waits and services included.
func (in *instance) routeCost(vi int, seq []int, departAt time.Time) (float64, routeStats) {
	route, st := in.simulate(vi, seq, departAt)
	return route.TotalSeconds, st
}
