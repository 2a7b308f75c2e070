package vrp

import (
	"fmt"
)

// Violation is one broken hard constraint found during verification.
type Violation struct {
	RouteVehicleID string
	JobID          string
	Kind           string // "capacity" | "time_window" | "pickup_order" | "unknown_job" | "duplicate_visit"
	Detail         string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s on vehicle %s (job %s): %s", v.Kind, v.RouteVehicleID, v.JobID, v.Detail)
}

// Verify checks a solution against the problem's hard constraints and
// returns every violation found. An empty slice means the solution is
// admissible. Verification is what the registry uses to decide whether a
// solver's output is usable before accepting it.
func Verify(p *Problem, s *Solution) []Violation {
	var out []Violation
	jobs := make(map[string]Job, len(p.Jobs))
	for _, j := range p.Jobs {
		jobs[j.ID] = j
	}

	visited := make(map[string]string, len(p.Jobs)) // job id -> vehicle id
	vehicles := make(map[string]Vehicle, len(p.Vehicles))
	for _, v := range p.Vehicles {
		vehicles[v.ID] = v
	}

	for ri := range s.Routes {
		r := &s.Routes[ri]
		veh, ok := vehicles[r.VehicleID]
		if !ok {
			out = append(out, Violation{RouteVehicleID: r.VehicleID, Kind: "unknown_job",
				Detail: "route references unknown vehicle"})
			continue
		}

		var load Demand
		pickupSeen := make(map[string]bool)
		for _, st := range r.Steps {
			if st.Kind != StepVisit {
				continue
			}
			job, ok := jobs[st.JobID]
			if !ok {
				out = append(out, Violation{RouteVehicleID: r.VehicleID, JobID: st.JobID,
					Kind: "unknown_job", Detail: "visit references job not in problem"})
				continue
			}
			if prev, dup := visited[st.JobID]; dup {
				out = append(out, Violation{RouteVehicleID: r.VehicleID, JobID: st.JobID,
					Kind: "duplicate_visit", Detail: "already visited on vehicle " + prev})
				continue
			}
			visited[st.JobID] = r.VehicleID

			if p.HasCapacity {
				load = load.Add(job.Demand)
				if !load.Fits(veh.Capacity) {
					out = append(out, Violation{RouteVehicleID: r.VehicleID, JobID: st.JobID,
						Kind: "capacity", Detail: fmt.Sprintf("load %.1fkg/%.2fm3 exceeds %.1fkg/%.2fm3",
							load.WeightKg, load.VolumeM3, veh.Capacity.WeightKg, veh.Capacity.VolumeM3)})
				}
			}

			if p.HasTimeWindows && !job.Location.Window.IsZero() {
				w := job.Location.Window
				if !w.Latest.IsZero() && st.Arrival.After(w.Latest) {
					out = append(out, Violation{RouteVehicleID: r.VehicleID, JobID: st.JobID,
						Kind: "time_window", Detail: fmt.Sprintf("arrival %s after latest %s",
							st.Arrival.Format("15:04:05"), w.Latest.Format("15:04:05"))})
				}
				if !w.Earliest.IsZero() && st.Departure.Before(w.Earliest) {
					out = append(out, Violation{RouteVehicleID: r.VehicleID, JobID: st.JobID,
						Kind: "time_window", Detail: fmt.Sprintf("departure %s before earliest %s",
							st.Departure.Format("15:04:05"), w.Earliest.Format("15:04:05"))})
				}
			}

			// A delivery whose pickup pair has not appeared yet on this
			// route breaks precedence. The pickup is the job whose
			// PickupPairID points at the delivery.
			if p.HasPickupDelivery {
				pickupSeen[st.JobID] = true
				if job.PickupPairID != "" {
					// job is the pickup; nothing to check yet.
					continue
				}
				for _, other := range p.Jobs {
					if other.PickupPairID != st.JobID {
						continue
					}
					if !pickupSeen[other.ID] {
						out = append(out, Violation{RouteVehicleID: r.VehicleID, JobID: st.JobID,
							Kind: "pickup_order", Detail: "delivery before pickup " + other.ID})
					}
				}
			}
		}
	}

	// Pickup/delivery pairs must share one route.
	if p.HasPickupDelivery {
		for _, j := range p.Jobs {
			if j.PickupPairID == "" {
				continue
			}
			pv, pok := visited[j.ID]
			dv, dok := visited[j.PickupPairID]
			if pok != dok || (pok && pv != dv) {
				out = append(out, Violation{RouteVehicleID: pv, JobID: j.ID,
					Kind: "pickup_order", Detail: "pickup and delivery split across routes"})
			}
		}
	}
	return out
}

// Usable decides whether a solution may be returned to the caller or must
// push the registry to the next solver in the chain: every assigned visit
// must verify, and a solution assigning nothing is only acceptable when the
// problem allows unassigned jobs.
func Usable(p *Problem, s *Solution) bool {
	if s == nil {
		return false
	}
	if s.Empty() && !p.AllowUnassigned {
		return false
	}
	return len(Verify(p, s)) == 0
}
