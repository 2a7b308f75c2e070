package solver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/karavan-route/karavan/internal/vrp"
)

// GreedyConfig tunes the construction-and-improvement solver.
type GreedyConfig struct {
	// Max2OptIterations caps accepted 2-opt moves per route. Default 100.
	Max2OptIterations int
	// MinImprovement is the relative duration gain a 2-opt move must bring
	// to be accepted. Default 0.001 (0.1%).
	MinImprovement float64
	// Profile is the road-network profile for matrix lookups.
	Profile string
}

func (c GreedyConfig) withDefaults() GreedyConfig {
	if c.Max2OptIterations <= 0 {
		c.Max2OptIterations = 100
	}
	if c.MinImprovement <= 0 {
		c.MinImprovement = 0.001
	}
	if c.Profile == "" {
		c.Profile = "driving"
	}
	return c
}

// Greedy is the always-available fallback solver: nearest-neighbor
// construction per vehicle followed by first-improvement 2-opt on each
// route. Roughly 85-90% of optimum on well-behaved instances, and finishes
// in bounded time.
type Greedy struct {
	cfg    GreedyConfig
	matrix MatrixFunc
}

// NewGreedy creates the solver around a matrix source.
func NewGreedy(cfg GreedyConfig, mf MatrixFunc) *Greedy {
	return &Greedy{cfg: cfg.withDefaults(), matrix: mf}
}

var _ Solver = (*Greedy)(nil)

// Kind identifies the solver.
func (g *Greedy) Kind() vrp.SolverKind { return vrp.KindGreedy }

// HealthCheck always holds: the heuristic needs no external service.
func (g *Greedy) HealthCheck(context.Context) bool { return true }

// Solve builds routes vehicle by vehicle. Each vehicle repeatedly takes the
// nearest admissible unvisited job; when none fits, the route closes and the
// next vehicle starts. Jobs no vehicle can take are unassigned, which is an
// infeasibility when the problem forbids it.
func (g *Greedy) Solve(ctx context.Context, p *vrp.Problem) (*vrp.Solution, error) {
	start := time.Now()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m, err := g.matrix(ctx, p.Coordinates(), g.cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("greedy: matrix: %w", err)
	}
	in, err := newInstance(p, m)
	if err != nil {
		return nil, err
	}

	unvisited := make(map[int]bool, len(p.Jobs))
	for k := range p.Jobs {
		unvisited[k] = true
	}

	var routes []vrp.Route
	var improved2opt int
	for vi := range p.Vehicles {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("greedy: %w", err)
		}
		seq := g.construct(in, vi, unvisited)
		if len(seq) == 0 {
			continue
		}
		depart := resolveDepart(p, &p.Vehicles[vi])
		seq, moves := g.improve(in, vi, seq, depart)
		improved2opt += moves
		route, _ := in.simulate(vi, seq, depart)
		routes = append(routes, route)
		for _, k := range seq {
			delete(unvisited, k)
		}
	}

	unassigned := make([]string, 0, len(unvisited))
	for k := range unvisited {
		unassigned = append(unassigned, p.Jobs[k].ID)
	}
	sort.Strings(unassigned)
	if len(unassigned) > 0 && !p.AllowUnassigned {
		return nil, &vrp.InfeasibleError{JobIDs: unassigned}
	}

	sol := &vrp.Solution{
		Routes:         routes,
		UnassignedJobs: unassigned,
		SolverKind:     vrp.KindGreedy,
		ElapsedMS:      elapsedMS(start),
	}
	sol.RecomputeTotals()
	sol.QualityNote = fmt.Sprintf("nearest-neighbor + 2-opt, %d improving moves", improved2opt)
	if v := vrp.Verify(p, sol); len(v) > 0 {
		sol.QualityNote = fmt.Sprintf("%s; %d verification violations", sol.QualityNote, len(v))
	}
	return sol, nil
}

// construct grows one vehicle's sequence by nearest admissible neighbor.
// Admissible: summed demand still fits, pickup precedes its delivery on the
// same route, and the extended schedule stays feasible. Before the route
// closes, deliveries for on-board pickups are forced in or the pickup is
// rolled back.
func (g *Greedy) construct(in *instance, vi int, unvisited map[int]bool) []int {
	p := in.p
	v := &p.Vehicles[vi]
	depart := resolveDepart(p, v)

	var seq []int
	onRoute := make(map[int]bool)
	pos := vi
	for {
		best, bestDur := -1, 0.0
		for k := range p.Jobs {
			if !unvisited[k] || onRoute[k] {
				continue
			}
			if in.isDelivery(k) && !onRoute[in.pickupOf[k]] {
				continue // delivery may only follow its pickup, same route
			}
			d := in.m.Durations[pos][in.jobIdx(k)]
			if best >= 0 && d >= bestDur {
				continue
			}
			if !g.admissible(in, vi, seq, k, depart) {
				continue
			}
			best, bestDur = k, d
		}
		if best < 0 {
			break
		}
		seq = append(seq, best)
		onRoute[best] = true
		pos = in.jobIdx(best)
	}

	return g.closePairs(in, vi, seq, depart, onRoute)
}

// admissible simulates seq extended by job k.
func (g *Greedy) admissible(in *instance, vi int, seq []int, k int, depart time.Time) bool {
	candidate := append(append(make([]int, 0, len(seq)+1), seq...), k)
	_, st := in.simulate(vi, candidate, depart)
	return st.feasible(in.p.HasTimeWindows)
}

// closePairs finishes a route whose pickups still miss their delivery: the
// delivery is appended when feasible, otherwise the pickup comes off the
// route so the pair stays whole (both will be retried by later vehicles or
// end up unassigned together).
func (g *Greedy) closePairs(in *instance, vi int, seq []int, depart time.Time, onRoute map[int]bool) []int {
	if !in.p.HasPickupDelivery {
		return seq
	}
	for _, k := range append([]int(nil), seq...) {
		if !in.isPickup(k) || !onRoute[k] {
			continue
		}
		d := in.deliveryOf[k]
		if onRoute[d] {
			continue
		}
		if g.admissible(in, vi, seq, d, depart) {
			seq = append(seq, d)
			onRoute[d] = true
			continue
		}
		// Roll the orphan pickup back off the route.
		trimmed := seq[:0:0]
		for _, s := range seq {
			if s != k {
				trimmed = append(trimmed, s)
			}
		}
		seq = trimmed
		delete(onRoute, k)
	}
	return seq
}

// improve runs first-improvement 2-opt: reverse seq[i..k], accept when the
// simulated route duration drops by more than MinImprovement and the route
// stays feasible, restart the scan after each accepted move. Returns the
// improved sequence and the number of accepted moves.
func (g *Greedy) improve(in *instance, vi int, seq []int, depart time.Time) ([]int, int) {
	if len(seq) < 3 {
		return seq, 0
	}
	cur := append([]int(nil), seq...)
	cost, _ := in.routeCost(vi, cur, depart)

	moves := 0
	for moves < g.cfg.Max2OptIterations {
		improved := false
		for i := 0; i < len(cur)-1 && !improved; i++ {
			for k := i + 1; k < len(cur); k++ {
				candidate := twoOptSwap(cur, i, k)
				if in.p.HasPickupDelivery && !pairsOrdered(in, candidate) {
					continue
				}
				newCost, st := in.routeCost(vi, candidate, depart)
				if !st.feasible(in.p.HasTimeWindows) {
					continue
				}
				if cost-newCost > g.cfg.MinImprovement*cost {
					cur, cost = candidate, newCost
					moves++
					improved = true
					break
				}
			}
		}
		if !improved {
			break
		}
	}
	return cur, moves
}

// twoOptSwap returns seq with the segment [i..k] reversed.
func twoOptSwap(seq []int, i, k int) []int {
	out := append([]int(nil), seq...)
	for l, r := i, k; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// pairsOrdered reports whether every pickup in seq precedes its delivery.
func pairsOrdered(in *instance, seq []int) bool {
	posOf := make(map[int]int, len(seq))
	for i, k := range seq {
		posOf[k] = i
	}
	for i, k := range seq {
		if in.isDelivery(k) {
			if pi, on := posOf[in.pickupOf[k]]; on && pi > i {
				return false
			}
		}
	}
	return true
}

