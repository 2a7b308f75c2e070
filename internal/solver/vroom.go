package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/netutil"
	"github.com/karavan-route/karavan/internal/vrp"
)

// amountScale converts float demand (kg, m3) into the integer units external
// engines require: grams and liters.
const amountScale = 1000

// windowHorizon closes half-open time windows before submission; external
// engines reject open intervals.
const windowHorizon = 14 * 24 * time.Hour

// VroomConfig configures the adapter around a VROOM HTTP instance.
type VroomConfig struct {
	BaseURL string
	// Timeout caps each HTTP attempt. Default DefaultSolveTimeout.
	Timeout time.Duration
	Retry   netutil.RetryPolicy
	// BreakerThreshold and BreakerCooldown front the engine with a circuit
	// breaker, same discipline as the OSRM client. Defaults 5 and 30s.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

func (c *VroomConfig) withDefaults() VroomConfig {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = DefaultSolveTimeout
	}
	if out.Retry.Attempts <= 0 {
		out.Retry = netutil.DefaultRetryPolicy()
	}
	if out.BreakerThreshold == 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	return out
}

// Vroom translates problems into the plain vehicles+jobs contract of a VROOM
// instance and maps its routes back. The contract cannot express
// pickup-delivery pairs; such problems are reported unavailable so the
// fallback chain advances to an adapter that can.
type Vroom struct {
	cfg     VroomConfig
	client  *netutil.Client
	breaker *gobreaker.CircuitBreaker
}

// NewVroom creates the adapter. The base URL is required.
func NewVroom(cfg VroomConfig) (*Vroom, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("solver: vroom base url is empty")
	}
	cfg = cfg.withDefaults()
	v := &Vroom{
		cfg:    cfg,
		client: netutil.NewClient(cfg.Timeout, cfg.Retry),
	}
	v.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "vroom",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
	})
	return v, nil
}

var _ Solver = (*Vroom)(nil)

// Kind identifies the solver.
func (v *Vroom) Kind() vrp.SolverKind { return vrp.KindVROOM }

// HealthCheck probes the instance health endpoint.
func (v *Vroom) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return v.client.GetJSON(ctx, v.cfg.BaseURL+"/health", nil) == nil
}

// Request/response shapes of the engine. Ids are indices into the problem's
// slices; the engine only accepts integers.

type vroomVehicle struct {
	ID         int        `json:"id"`
	Start      [2]float64 `json:"start"` // lon,lat
	End        [2]float64 `json:"end"`
	Capacity   []int64    `json:"capacity,omitempty"`
	TimeWindow []int64    `json:"time_window,omitempty"` // unix seconds
}

type vroomJob struct {
	ID          int        `json:"id"`
	Location    [2]float64 `json:"location"`
	Amount      []int64    `json:"amount,omitempty"`
	TimeWindows [][2]int64 `json:"time_windows,omitempty"`
	Service     int64      `json:"service,omitempty"`
	Priority    int        `json:"priority,omitempty"`
}

type vroomRequest struct {
	Vehicles []vroomVehicle `json:"vehicles"`
	Jobs     []vroomJob     `json:"jobs"`
}

type vroomStep struct {
	Type        string  `json:"type"` // start | job | end
	Job         int     `json:"job"`
	Arrival     int64   `json:"arrival"`
	WaitingTime float64 `json:"waiting_time"`
	Service     float64 `json:"service"`
}

type vroomRoute struct {
	Vehicle  int         `json:"vehicle"`
	Steps    []vroomStep `json:"steps"`
	Distance float64     `json:"distance"`
	Duration float64     `json:"duration"`
}

type vroomResponse struct {
	Code       int          `json:"code"`
	Error      string       `json:"error"`
	Routes     []vroomRoute `json:"routes"`
	Unassigned []struct {
		ID int `json:"id"`
	} `json:"unassigned"`
	Summary struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
	} `json:"summary"`
}

// Solve submits the problem and maps the engine's routes back into the
// shared solution model. Vehicle break rules are applied locally on the way
// back: the engine never sees them, so service starts landing inside a break
// band are deferred here, shifting the downstream schedule.
func (v *Vroom) Solve(ctx context.Context, p *vrp.Problem) (*vrp.Solution, error) {
	start := time.Now()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.HasPickupDelivery {
		return nil, fmt.Errorf("solver: vroom cannot express pickup-delivery pairs: %w", vrp.ErrBackendUnavailable)
	}

	req := v.buildRequest(p)
	var resp vroomResponse
	if err := v.call(ctx, &req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("solver: vroom code %d: %s: %w", resp.Code, resp.Error, vrp.ErrBackendUnavailable)
	}

	sol, err := v.decode(p, &resp)
	if err != nil {
		return nil, err
	}
	if len(sol.UnassignedJobs) > 0 && !p.AllowUnassigned {
		return nil, &vrp.InfeasibleError{JobIDs: sol.UnassignedJobs}
	}
	sol.ElapsedMS = elapsedMS(start)
	sol.QualityNote = fmt.Sprintf("engine duration=%.0fs distance=%.0fm", resp.Summary.Duration, resp.Summary.Distance)
	if viol := vrp.Verify(p, sol); len(viol) > 0 {
		sol.QualityNote = fmt.Sprintf("%s; %d verification violations", sol.QualityNote, len(viol))
	}
	return sol, nil
}

func (v *Vroom) buildRequest(p *vrp.Problem) vroomRequest {
	req := vroomRequest{
		Vehicles: make([]vroomVehicle, 0, len(p.Vehicles)),
		Jobs:     make([]vroomJob, 0, len(p.Jobs)),
	}
	for i, veh := range p.Vehicles {
		vv := vroomVehicle{
			ID:    i,
			Start: lonLat(veh.Depot.Coordinate),
			End:   lonLat(veh.Depot.Coordinate),
		}
		if p.HasCapacity {
			vv.Capacity = scaleAmount(veh.Capacity)
		}
		if w, ok := closedWindow(vehicleWindow(p, &veh)); ok {
			vv.TimeWindow = w[:]
		}
		req.Vehicles = append(req.Vehicles, vv)
	}
	for k, j := range p.Jobs {
		vj := vroomJob{
			ID:       k,
			Location: lonLat(j.Location.Coordinate),
			Service:  int64(j.Location.ServiceDuration().Seconds()),
		}
		if p.HasCapacity {
			vj.Amount = scaleAmount(j.Demand)
		}
		if p.HasTimeWindows {
			if w, ok := closedWindow(j.Location.Window); ok {
				vj.TimeWindows = [][2]int64{w}
			}
		}
		if j.Priority > 0 {
			// The engine ranks 0..100, ten times our scale.
			vj.Priority = j.Priority * 10
		}
		req.Jobs = append(req.Jobs, vj)
	}
	return req
}

// vehicleWindow folds an explicit departure anchor into the vehicle's shift
// window: the engine has no depart-at notion, only window starts.
func vehicleWindow(p *vrp.Problem, veh *vrp.Vehicle) geo.TimeWindow {
	w := veh.WorkWindow
	if !p.DepartAt.IsZero() && (w.Earliest.IsZero() || p.DepartAt.After(w.Earliest)) {
		w.Earliest = p.DepartAt
	}
	return w
}

// closedWindow renders a window as the closed unix-second interval external
// engines require. Half-open windows are closed at windowHorizon.
func closedWindow(w geo.TimeWindow) ([2]int64, bool) {
	switch {
	case w.IsZero():
		return [2]int64{}, false
	case w.Earliest.IsZero():
		return [2]int64{w.Latest.Add(-windowHorizon).Unix(), w.Latest.Unix()}, true
	case w.Latest.IsZero():
		return [2]int64{w.Earliest.Unix(), w.Earliest.Add(windowHorizon).Unix()}, true
	default:
		return [2]int64{w.Earliest.Unix(), w.Latest.Unix()}, true
	}
}

func scaleAmount(d vrp.Demand) []int64 {
	return []int64{int64(d.WeightKg * amountScale), int64(d.VolumeM3 * amountScale)}
}

func lonLat(c geo.Coordinate) [2]float64 { return [2]float64{c.Lon, c.Lat} }

// decode rebuilds routes from the engine response. The engine's arrival
// times anchor the schedule; leg drive times are taken from consecutive
// arrival deltas so the rebuilt schedule matches the engine's road timing
// even after local break deferrals shift it.
func (v *Vroom) decode(p *vrp.Problem, resp *vroomResponse) (*vrp.Solution, error) {
	sol := &vrp.Solution{SolverKind: vrp.KindVROOM}
	zone := scheduleZone(p)

	for _, r := range resp.Routes {
		if r.Vehicle < 0 || r.Vehicle >= len(p.Vehicles) {
			return nil, fmt.Errorf("solver: vroom route references vehicle %d: %w", r.Vehicle, vrp.ErrBackendUnavailable)
		}
		veh := &p.Vehicles[r.Vehicle]

		route, err := v.decodeRoute(p, veh, &r, zone)
		if err != nil {
			return nil, err
		}
		if route != nil {
			sol.Routes = append(sol.Routes, *route)
		}
	}

	for _, u := range resp.Unassigned {
		if u.ID < 0 || u.ID >= len(p.Jobs) {
			return nil, fmt.Errorf("solver: vroom unassigned references job %d: %w", u.ID, vrp.ErrBackendUnavailable)
		}
		sol.UnassignedJobs = append(sol.UnassignedJobs, p.Jobs[u.ID].ID)
	}
	sol.RecomputeTotals()
	return sol, nil
}

func (v *Vroom) decodeRoute(p *vrp.Problem, veh *vrp.Vehicle, r *vroomRoute, zone *time.Location) (*vrp.Route, error) {
	hasVisit := false
	for _, s := range r.Steps {
		if s.Type == "job" {
			hasVisit = true
			break
		}
	}
	if !hasVisit {
		return nil, nil
	}

	route := &vrp.Route{
		VehicleID: veh.ID,
		Steps:     make([]vrp.Step, 0, len(r.Steps)),
	}

	// Initial load: everything that will be dropped along the route.
	var load vrp.Demand
	for _, s := range r.Steps {
		if s.Type == "job" {
			if s.Job < 0 || s.Job >= len(p.Jobs) {
				return nil, fmt.Errorf("solver: vroom step references job %d: %w", s.Job, vrp.ErrBackendUnavailable)
			}
			load = load.Add(p.Jobs[s.Job].Demand)
		}
	}

	var (
		depart      time.Time
		now         time.Time
		prevUnix    int64
		serviceSecs float64
	)
	for _, s := range r.Steps {
		switch s.Type {
		case "start":
			depart = time.Unix(s.Arrival, 0).In(zone)
			now = depart
			prevUnix = s.Arrival
			route.Steps = append(route.Steps,
				vrp.NewStep(vrp.StepDepotStart, veh.Depot.Coordinate, depart, depart, load))

		case "job":
			j := &p.Jobs[s.Job]
			leg := time.Duration(s.Arrival-prevUnix) * time.Second
			if leg < 0 {
				return nil, fmt.Errorf("solver: vroom schedule runs backwards at job %d: %w", s.Job, vrp.ErrBackendUnavailable)
			}
			arrival := now.Add(leg)

			start := arrival
			if w := j.Location.Window; !w.Earliest.IsZero() && start.Before(w.Earliest) {
				start = w.Earliest
			}
			if deferred := veh.NextAllowedStart(start); deferred.After(start) {
				route.Steps = append(route.Steps,
					vrp.NewStep(vrp.StepBreak, j.Location.Coordinate, start, deferred, load))
				start = deferred
			}

			service := j.Location.ServiceDuration()
			serviceSecs += service.Seconds()
			load = load.Sub(j.Demand)
			end := start.Add(service)
			step := vrp.NewStep(vrp.StepVisit, j.Location.Coordinate, arrival, end, load)
			step.JobID = j.ID
			route.Steps = append(route.Steps, step)

			now = end
			prevUnix = s.Arrival + int64(s.WaitingTime) + int64(s.Service)

		case "end":
			leg := time.Duration(s.Arrival-prevUnix) * time.Second
			if leg < 0 {
				leg = 0
			}
			end := now.Add(leg)
			route.Steps = append(route.Steps,
				vrp.NewStep(vrp.StepDepotEnd, veh.Depot.Coordinate, end, end, load))
			now = end
		}
	}

	route.TotalMeters = r.Distance
	route.TotalSeconds = now.Sub(depart).Seconds()
	route.ServiceSeconds = serviceSecs
	return route, nil
}

// scheduleZone picks the zone decoded timestamps render in: the problem's
// departure anchor, else the first bounded shift start, else local time.
func scheduleZone(p *vrp.Problem) *time.Location {
	if !p.DepartAt.IsZero() {
		return p.DepartAt.Location()
	}
	for _, veh := range p.Vehicles {
		if !veh.WorkWindow.Earliest.IsZero() {
			return veh.WorkWindow.Earliest.Location()
		}
	}
	return time.Local
}

// call posts one solve request through the breaker, mapping failure classes
// like the matrix client does.
func (v *Vroom) call(ctx context.Context, req *vroomRequest, out *vroomResponse) error {
	_, err := v.breaker.Execute(func() (interface{}, error) {
		return nil, v.client.PostJSON(ctx, v.cfg.BaseURL+"/", req, out)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("solver: vroom circuit open: %w", vrp.ErrBackendUnavailable)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("solver: vroom: %w", err)
	}
	if netutil.Retryable(err) {
		return fmt.Errorf("solver: vroom unavailable: %v: %w", err, vrp.ErrBackendUnavailable)
	}
	var perm *netutil.PermanentError
	if errors.As(err, &perm) {
		// Undecodable body means the engine is broken, not the problem.
		return fmt.Errorf("solver: vroom malformed response: %v: %w", err, vrp.ErrBackendUnavailable)
	}
	return fmt.Errorf("solver: vroom: %w", err)
}
