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

// ORToolsConfig configures the adapter around the constraint-solver service.
type ORToolsConfig struct {
	BaseURL string
	// Timeout caps each HTTP attempt. Default DefaultSolveTimeout.
	Timeout time.Duration
	Retry   netutil.RetryPolicy
	// TimeLimit bounds the remote search itself and must sit under Timeout.
	// Default 20s.
	TimeLimit        time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

func (c *ORToolsConfig) withDefaults() ORToolsConfig {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = DefaultSolveTimeout
	}
	if out.Retry.Attempts <= 0 {
		out.Retry = netutil.DefaultRetryPolicy()
	}
	if out.TimeLimit <= 0 {
		out.TimeLimit = 20 * time.Second
	}
	if out.BreakerThreshold == 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	return out
}

// ORTools talks to the in-house constraint-solver service. Unlike the plain
// vehicles+jobs engine it expresses the full problem: pickup-delivery pairs
// ride as shipments, vehicles carry their break bands, and the response
// schedule is trusted as returned.
type ORTools struct {
	cfg     ORToolsConfig
	client  *netutil.Client
	breaker *gobreaker.CircuitBreaker
}

// NewORTools creates the adapter. The base URL is required.
func NewORTools(cfg ORToolsConfig) (*ORTools, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("solver: ortools base url is empty")
	}
	cfg = cfg.withDefaults()
	o := &ORTools{
		cfg:    cfg,
		client: netutil.NewClient(cfg.Timeout, cfg.Retry),
	}
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ortools",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
	})
	return o, nil
}

var _ Solver = (*ORTools)(nil)

// Kind identifies the solver.
func (o *ORTools) Kind() vrp.SolverKind { return vrp.KindORTools }

// HealthCheck probes the service health endpoint.
func (o *ORTools) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return o.client.GetJSON(ctx, o.cfg.BaseURL+"/health", nil) == nil
}

type ortoolsBreak struct {
	Start int64 `json:"start"` // unix seconds
	End   int64 `json:"end"`
}

type ortoolsVehicle struct {
	ID         int            `json:"id"`
	Start      [2]float64     `json:"start"` // lon,lat
	End        [2]float64     `json:"end"`
	Capacity   []int64        `json:"capacity,omitempty"`
	TimeWindow []int64        `json:"time_window,omitempty"`
	Breaks     []ortoolsBreak `json:"breaks,omitempty"`
}

type ortoolsStop struct {
	ID         int        `json:"id"`
	Location   [2]float64 `json:"location"`
	Amount     []int64    `json:"amount,omitempty"`
	TimeWindow []int64    `json:"time_window,omitempty"`
	Service    int64      `json:"service,omitempty"`
	Priority   int        `json:"priority,omitempty"`
}

type ortoolsShipment struct {
	Pickup   ortoolsStop `json:"pickup"`
	Delivery ortoolsStop `json:"delivery"`
}

type ortoolsRequest struct {
	Vehicles  []ortoolsVehicle  `json:"vehicles"`
	Jobs      []ortoolsStop     `json:"jobs"`
	Shipments []ortoolsShipment `json:"shipments,omitempty"`
	Options   struct {
		TimeLimitMS     int64 `json:"time_limit_ms"`
		AllowUnassigned bool  `json:"allow_unassigned"`
	} `json:"options"`
}

type ortoolsStep struct {
	Type      string     `json:"type"` // start | job | pickup | delivery | break | end
	ID        int        `json:"id"`
	Location  [2]float64 `json:"location"`
	Arrival   int64      `json:"arrival"`
	Departure int64      `json:"departure"`
}

type ortoolsRoute struct {
	Vehicle  int           `json:"vehicle"`
	Steps    []ortoolsStep `json:"steps"`
	Distance float64       `json:"distance"`
}

type ortoolsResponse struct {
	Status     string         `json:"status"` // ok | infeasible | error
	Error      string         `json:"error"`
	Routes     []ortoolsRoute `json:"routes"`
	Unassigned []int          `json:"unassigned"`
}

// Solve submits the full problem and maps the service's schedule back. The
// service honors break bands itself, so its step times come back verbatim.
func (o *ORTools) Solve(ctx context.Context, p *vrp.Problem) (*vrp.Solution, error) {
	start := time.Now()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	req := o.buildRequest(p)
	var resp ortoolsResponse
	if err := o.call(ctx, &req, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case "ok":
	case "infeasible":
		ids := make([]string, 0, len(resp.Unassigned))
		for _, k := range resp.Unassigned {
			if k >= 0 && k < len(p.Jobs) {
				ids = append(ids, p.Jobs[k].ID)
			}
		}
		return nil, &vrp.InfeasibleError{JobIDs: ids}
	default:
		return nil, fmt.Errorf("solver: ortools status %q: %s: %w", resp.Status, resp.Error, vrp.ErrBackendUnavailable)
	}

	sol, err := o.decode(p, &resp)
	if err != nil {
		return nil, err
	}
	if len(sol.UnassignedJobs) > 0 && !p.AllowUnassigned {
		return nil, &vrp.InfeasibleError{JobIDs: sol.UnassignedJobs}
	}
	sol.ElapsedMS = elapsedMS(start)
	sol.QualityNote = fmt.Sprintf("remote search limit %s", o.cfg.TimeLimit)
	if viol := vrp.Verify(p, sol); len(viol) > 0 {
		sol.QualityNote = fmt.Sprintf("%s; %d verification violations", sol.QualityNote, len(viol))
	}
	return sol, nil
}

func (o *ORTools) buildRequest(p *vrp.Problem) ortoolsRequest {
	var req ortoolsRequest
	req.Options.TimeLimitMS = o.cfg.TimeLimit.Milliseconds()
	req.Options.AllowUnassigned = p.AllowUnassigned

	req.Vehicles = make([]ortoolsVehicle, 0, len(p.Vehicles))
	for i, veh := range p.Vehicles {
		ov := ortoolsVehicle{
			ID:    i,
			Start: lonLat(veh.Depot.Coordinate),
			End:   lonLat(veh.Depot.Coordinate),
		}
		if p.HasCapacity {
			ov.Capacity = scaleAmount(veh.Capacity)
		}
		if w, ok := closedWindow(vehicleWindow(p, &veh)); ok {
			ov.TimeWindow = w[:]
		}
		for _, b := range veh.Breaks {
			ov.Breaks = append(ov.Breaks, ortoolsBreak{Start: b.Start.Unix(), End: b.End.Unix()})
		}
		req.Vehicles = append(req.Vehicles, ov)
	}

	// A job referenced as someone's pickup pair is the delivery half and
	// rides inside a shipment, not the plain jobs list.
	idx := p.JobIndex()
	deliveryTarget := make(map[int]bool, len(p.Jobs))
	for _, j := range p.Jobs {
		if j.PickupPairID != "" {
			deliveryTarget[idx[j.PickupPairID]] = true
		}
	}

	for k, j := range p.Jobs {
		if deliveryTarget[k] {
			continue
		}
		stop := o.stop(p, k)
		if j.PickupPairID != "" {
			req.Shipments = append(req.Shipments, ortoolsShipment{
				Pickup:   stop,
				Delivery: o.stop(p, idx[j.PickupPairID]),
			})
			continue
		}
		req.Jobs = append(req.Jobs, stop)
	}
	return req
}

func (o *ORTools) stop(p *vrp.Problem, k int) ortoolsStop {
	j := &p.Jobs[k]
	s := ortoolsStop{
		ID:       k,
		Location: lonLat(j.Location.Coordinate),
		Service:  int64(j.Location.ServiceDuration().Seconds()),
		Priority: j.Priority,
	}
	if p.HasCapacity {
		s.Amount = scaleAmount(j.Demand)
	}
	if p.HasTimeWindows {
		if w, ok := closedWindow(j.Location.Window); ok {
			s.TimeWindow = w[:]
		}
	}
	return s
}

func (o *ORTools) decode(p *vrp.Problem, resp *ortoolsResponse) (*vrp.Solution, error) {
	sol := &vrp.Solution{SolverKind: vrp.KindORTools}
	zone := scheduleZone(p)
	isPickup := make(map[int]bool, len(p.Jobs))
	for k, j := range p.Jobs {
		if j.PickupPairID != "" {
			isPickup[k] = true
		}
	}

	for _, r := range resp.Routes {
		if r.Vehicle < 0 || r.Vehicle >= len(p.Vehicles) {
			return nil, fmt.Errorf("solver: ortools route references vehicle %d: %w", r.Vehicle, vrp.ErrBackendUnavailable)
		}
		route, err := o.decodeRoute(p, &p.Vehicles[r.Vehicle], &r, isPickup, zone)
		if err != nil {
			return nil, err
		}
		if route != nil {
			sol.Routes = append(sol.Routes, *route)
		}
	}

	for _, k := range resp.Unassigned {
		if k < 0 || k >= len(p.Jobs) {
			return nil, fmt.Errorf("solver: ortools unassigned references job %d: %w", k, vrp.ErrBackendUnavailable)
		}
		sol.UnassignedJobs = append(sol.UnassignedJobs, p.Jobs[k].ID)
	}
	sol.RecomputeTotals()
	return sol, nil
}

func (o *ORTools) decodeRoute(p *vrp.Problem, veh *vrp.Vehicle, r *ortoolsRoute, isPickup map[int]bool, zone *time.Location) (*vrp.Route, error) {
	hasVisit := false
	var load vrp.Demand
	for _, s := range r.Steps {
		switch s.Type {
		case "job", "pickup", "delivery":
			if s.ID < 0 || s.ID >= len(p.Jobs) {
				return nil, fmt.Errorf("solver: ortools step references job %d: %w", s.ID, vrp.ErrBackendUnavailable)
			}
			hasVisit = true
			if !isPickup[s.ID] {
				load = load.Add(p.Jobs[s.ID].Demand)
			}
		}
	}
	if !hasVisit {
		return nil, nil
	}

	route := &vrp.Route{
		VehicleID: veh.ID,
		Steps:     make([]vrp.Step, 0, len(r.Steps)),
	}
	var (
		depart      time.Time
		end         time.Time
		serviceSecs float64
	)
	for _, s := range r.Steps {
		arrival := time.Unix(s.Arrival, 0).In(zone)
		departure := time.Unix(s.Departure, 0).In(zone)
		switch s.Type {
		case "start":
			depart = departure
			route.Steps = append(route.Steps,
				vrp.NewStep(vrp.StepDepotStart, veh.Depot.Coordinate, arrival, departure, load))
		case "job", "pickup", "delivery":
			j := &p.Jobs[s.ID]
			if isPickup[s.ID] {
				load = load.Add(j.Demand)
			} else {
				load = load.Sub(j.Demand)
			}
			serviceSecs += j.Location.ServiceDuration().Seconds()
			step := vrp.NewStep(vrp.StepVisit, j.Location.Coordinate, arrival, departure, load)
			step.JobID = j.ID
			route.Steps = append(route.Steps, step)
		case "break":
			c := geo.Coordinate{Lat: s.Location[1], Lon: s.Location[0]}
			route.Steps = append(route.Steps, vrp.NewStep(vrp.StepBreak, c, arrival, departure, load))
		case "end":
			route.Steps = append(route.Steps,
				vrp.NewStep(vrp.StepDepotEnd, veh.Depot.Coordinate, arrival, departure, load))
			end = arrival
		}
	}

	route.TotalMeters = r.Distance
	route.TotalSeconds = end.Sub(depart).Seconds()
	route.ServiceSeconds = serviceSecs
	return route, nil
}

func (o *ORTools) call(ctx context.Context, req *ortoolsRequest, out *ortoolsResponse) error {
	_, err := o.breaker.Execute(func() (interface{}, error) {
		return nil, o.client.PostJSON(ctx, o.cfg.BaseURL+"/solve", req, out)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("solver: ortools circuit open: %w", vrp.ErrBackendUnavailable)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("solver: ortools: %w", err)
	}
	if netutil.Retryable(err) {
		return fmt.Errorf("solver: ortools unavailable: %v: %w", err, vrp.ErrBackendUnavailable)
	}
	var perm *netutil.PermanentError
	if errors.As(err, &perm) {
		return fmt.Errorf("solver: ortools malformed response: %v: %w", err, vrp.ErrBackendUnavailable)
	}
	return fmt.Errorf("solver: ortools: %w", err)
}
