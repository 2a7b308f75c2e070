package solver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/karavan-route/karavan/internal/vrp"
)

// GeneticConfig tunes the evolutionary solver. Zero fields take the
// documented defaults.
type GeneticConfig struct {
	Population    int     // chromosomes per generation, default 100
	Generations   int     // hard generation cap, default 500
	MutationRate  float64 // per-offspring mutation probability, default 0.1
	CrossoverRate float64 // OX probability, else the parent is copied, default 0.8
	Elite         int     // chromosomes carried over unchanged, default 10
	EarlyStop     int     // stagnant generations before stopping, default 50
	TournamentK   int     // tournament size for parent selection, default 5
	// Seed makes runs reproduce bit-identically given the same matrix.
	// Zero seeds from the clock.
	Seed    uint64
	Profile string
}

func (c GeneticConfig) withDefaults() GeneticConfig {
	if c.Population <= 0 {
		c.Population = 100
	}
	if c.Generations <= 0 {
		c.Generations = 500
	}
	if c.MutationRate <= 0 {
		c.MutationRate = 0.1
	}
	if c.CrossoverRate <= 0 {
		c.CrossoverRate = 0.8
	}
	if c.Elite <= 0 {
		c.Elite = 10
	}
	if c.Elite > c.Population/2 {
		c.Elite = c.Population / 2
	}
	if c.EarlyStop <= 0 {
		c.EarlyStop = 50
	}
	if c.TournamentK <= 0 {
		c.TournamentK = 5
	}
	if c.Profile == "" {
		c.Profile = "driving"
	}
	return c
}

// penaltyScale multiplies the mean matrix duration into the constraint
// penalty K, making any violation outweigh any realistic drive time.
const penaltyScale = 10000

// Genetic evolves job permutations. A chromosome decodes into per-vehicle
// segments by capacity; fitness is the negated sum of route durations plus
// K per constraint violation. It handles the instances the other solvers
// struggle with: large job counts and pickup-delivery precedence.
type Genetic struct {
	cfg    GeneticConfig
	matrix MatrixFunc
}

// NewGenetic creates the solver around a matrix source.
func NewGenetic(cfg GeneticConfig, mf MatrixFunc) *Genetic {
	return &Genetic{cfg: cfg.withDefaults(), matrix: mf}
}

var _ Solver = (*Genetic)(nil)

// Kind identifies the solver.
func (g *Genetic) Kind() vrp.SolverKind { return vrp.KindGenetic }

// HealthCheck always holds: the algorithm needs no external service.
func (g *Genetic) HealthCheck(context.Context) bool { return true }

// Solve runs the evolutionary loop. The context is checked between
// generations, so cancellation surfaces within one generation's work.
func (g *Genetic) Solve(ctx context.Context, p *vrp.Problem) (*vrp.Solution, error) {
	start := time.Now()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m, err := g.matrix(ctx, p.Coordinates(), g.cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("genetic: matrix: %w", err)
	}
	in, err := newInstance(p, m)
	if err != nil {
		return nil, err
	}

	seed := g.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	run := &geneticRun{
		Genetic: g,
		in:      in,
		rng:     rng,
		penalty: penaltyScale * meanOrOne(in),
	}

	best, generations, stagnant, err := run.evolve(ctx)
	if err != nil {
		return nil, err
	}

	routes, unassigned := run.materialize(best)
	ids := make([]string, 0, len(unassigned))
	for _, k := range unassigned {
		ids = append(ids, p.Jobs[k].ID)
	}
	sort.Strings(ids)
	if len(ids) > 0 && !p.AllowUnassigned {
		return nil, &vrp.InfeasibleError{JobIDs: ids}
	}

	sol := &vrp.Solution{
		Routes:         routes,
		UnassignedJobs: ids,
		SolverKind:     vrp.KindGenetic,
		ElapsedMS:      elapsedMS(start),
		QualityNote: fmt.Sprintf("generations=%d stagnant=%d pop=%d seed=%d",
			generations, stagnant, g.cfg.Population, seed),
	}
	sol.RecomputeTotals()
	if v := vrp.Verify(p, sol); len(v) > 0 {
		sol.QualityNote = fmt.Sprintf("%s; %d verification violations", sol.QualityNote, len(v))
	}
	return sol, nil
}

func meanOrOne(in *instance) float64 {
	if mean := in.m.MeanDuration(); mean > 0 {
		return mean
	}
	return 1
}

// geneticRun carries one solve's evolving state.
type geneticRun struct {
	*Genetic
	in      *instance
	rng     *rand.Rand
	penalty float64
}

type chromosome struct {
	genes   []int
	fitness float64
}

// evolve returns the best chromosome, the generations run, and the final
// stagnation count.
func (r *geneticRun) evolve(ctx context.Context) (chromosome, int, int, error) {
	pop := r.initialPopulation()
	r.evaluateAll(pop)
	sortByFitness(pop)

	best := clone(pop[0])
	stagnant := 0
	gen := 0
	for ; gen < r.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return chromosome{}, gen, stagnant, fmt.Errorf("genetic: %w", err)
		}

		next := make([]chromosome, 0, r.cfg.Population)
		for i := 0; i < r.cfg.Elite && i < len(pop); i++ {
			next = append(next, clone(pop[i]))
		}
		for len(next) < r.cfg.Population {
			a := r.tournament(pop)
			child := a
			if r.rng.Float64() < r.cfg.CrossoverRate {
				b := r.tournament(pop)
				child = r.orderCrossover(a, b)
			} else {
				child = clone(child)
			}
			if r.rng.Float64() < r.cfg.MutationRate {
				r.mutate(&child)
			}
			next = append(next, child)
		}
		r.evaluateAll(next)
		sortByFitness(next)
		pop = next

		if pop[0].fitness > best.fitness {
			best = clone(pop[0])
			stagnant = 0
		} else {
			stagnant++
			if stagnant >= r.cfg.EarlyStop {
				gen++
				break
			}
		}
	}
	return best, gen, stagnant, nil
}

// initialPopulation seeds one identity permutation, one nearest-neighbor
// tour, and random shuffles for the rest.
func (r *geneticRun) initialPopulation() []chromosome {
	n := len(r.in.p.Jobs)
	pop := make([]chromosome, 0, r.cfg.Population)

	identity := make([]int, n)
	for i := range identity {
		identity[i] = i
	}
	pop = append(pop, chromosome{genes: identity})
	if r.cfg.Population > 1 {
		pop = append(pop, chromosome{genes: r.nearestNeighborOrder()})
	}
	for len(pop) < r.cfg.Population {
		genes := append([]int(nil), identity...)
		r.rng.Shuffle(n, func(i, j int) { genes[i], genes[j] = genes[j], genes[i] })
		pop = append(pop, chromosome{genes: genes})
	}
	return pop
}

// nearestNeighborOrder is a cheap greedy tour from the first depot, used to
// seed the population with one decent individual.
func (r *geneticRun) nearestNeighborOrder() []int {
	in := r.in
	n := len(in.p.Jobs)
	order := make([]int, 0, n)
	used := make([]bool, n)
	pos := 0 // first vehicle depot
	for len(order) < n {
		best, bestDur := -1, 0.0
		for k := 0; k < n; k++ {
			if used[k] {
				continue
			}
			d := in.m.Durations[pos][in.jobIdx(k)]
			if best < 0 || d < bestDur {
				best, bestDur = k, d
			}
		}
		order = append(order, best)
		used[best] = true
		pos = in.jobIdx(best)
	}
	return order
}

func (r *geneticRun) evaluateAll(pop []chromosome) {
	for i := range pop {
		pop[i].fitness = r.fitness(pop[i].genes)
	}
}

// fitness decodes the permutation and scores it: negated total duration
// minus K per violation (late visit, capacity breach, unreachable arc, late
// shift return, unassigned job).
func (r *geneticRun) fitness(genes []int) float64 {
	segments, unassigned := r.decode(genes)
	var total float64
	violations := len(unassigned)
	for vi, seq := range segments {
		if len(seq) == 0 {
			continue
		}
		cost, st := r.in.routeCost(vi, seq, resolveDepart(r.in.p, &r.in.p.Vehicles[vi]))
		total += cost
		if r.in.p.HasTimeWindows {
			violations += len(st.lateJobs)
			if st.lateReturn {
				violations++
			}
		}
		if st.overCapacity {
			violations++
		}
		if st.unreachable {
			violations++
		}
	}
	return -(total + float64(violations)*r.penalty)
}

// decode splits the permutation into per-vehicle segments. With capacity
// active, genes fill a vehicle until the next job would overflow it; genes
// left after the last vehicle are unassigned. Without capacity the
// permutation splits into near-equal contiguous segments. Pickup-delivery
// pairs are repaired onto the pickup's vehicle with the delivery after it.
func (r *geneticRun) decode(genes []int) ([][]int, []int) {
	in := r.in
	p := in.p
	nv := len(p.Vehicles)
	segments := make([][]int, nv)
	var unassigned []int

	if p.HasCapacity {
		vi := 0
		var load vrp.Demand
		for _, k := range genes {
			d := p.Jobs[k].Demand
			for vi < nv && !load.Add(d).Fits(p.Vehicles[vi].Capacity) {
				vi++
				load = vrp.Demand{}
			}
			if vi >= nv {
				unassigned = append(unassigned, k)
				continue
			}
			segments[vi] = append(segments[vi], k)
			load = load.Add(d)
		}
	} else {
		per := (len(genes) + nv - 1) / nv
		for i, k := range genes {
			vi := i / per
			if vi >= nv {
				vi = nv - 1
			}
			segments[vi] = append(segments[vi], k)
		}
	}

	if p.HasPickupDelivery {
		repairPairs(in, segments)
	}
	return segments, unassigned
}

// repairPairs moves each delivery onto its pickup's vehicle, right after the
// pickup, so decoded solutions satisfy precedence by construction.
func repairPairs(in *instance, segments [][]int) {
	vehicleOf := make(map[int]int)
	for vi, seq := range segments {
		for _, k := range seq {
			vehicleOf[k] = vi
		}
	}
	for k := range in.p.Jobs {
		if !in.isPickup(k) {
			continue
		}
		d := in.deliveryOf[k]
		pv, pok := vehicleOf[k]
		dv, dok := vehicleOf[d]
		if !pok || !dok {
			continue // one side unassigned; fitness already penalizes
		}
		if pv == dv && indexOf(segments[pv], k) < indexOf(segments[pv], d) {
			continue
		}
		segments[dv] = removeInt(segments[dv], d)
		pi := indexOf(segments[pv], k)
		seq := segments[pv]
		seq = append(seq, 0)
		copy(seq[pi+2:], seq[pi+1:])
		seq[pi+1] = d
		segments[pv] = seq
		vehicleOf[d] = pv
	}
}

func indexOf(seq []int, k int) int {
	for i, v := range seq {
		if v == k {
			return i
		}
	}
	return -1
}

func removeInt(seq []int, k int) []int {
	out := seq[:0:0]
	for _, v := range seq {
		if v != k {
			out = append(out, v)
		}
	}
	return out
}

// tournament picks the fittest of K random chromosomes.
func (r *geneticRun) tournament(pop []chromosome) chromosome {
	best := -1
	for i := 0; i < r.cfg.TournamentK; i++ {
		c := r.rng.IntN(len(pop))
		if best < 0 || pop[c].fitness > pop[best].fitness {
			best = c
		}
	}
	return pop[best]
}

// orderCrossover is OX: child keeps a's slice [lo..hi] in place and fills
// the rest with b's genes in b's order.
func (r *geneticRun) orderCrossover(a, b chromosome) chromosome {
	n := len(a.genes)
	if n < 2 {
		return clone(a)
	}
	lo := r.rng.IntN(n)
	hi := r.rng.IntN(n)
	if lo > hi {
		lo, hi = hi, lo
	}

	child := make([]int, n)
	inSlice := make([]bool, n)
	for i := lo; i <= hi; i++ {
		child[i] = a.genes[i]
		inSlice[a.genes[i]] = true
	}
	w := (hi + 1) % n
	for i := 0; i < n; i++ {
		g := b.genes[(hi+1+i)%n]
		if inSlice[g] {
			continue
		}
		child[w] = g
		w = (w + 1) % n
		for w >= lo && w <= hi {
			w = (w + 1) % n
		}
	}
	return chromosome{genes: child}
}

// mutate applies one of swap, insert, or segment reverse, chosen uniformly.
func (r *geneticRun) mutate(c *chromosome) {
	n := len(c.genes)
	if n < 2 {
		return
	}
	switch r.rng.IntN(3) {
	case 0: // swap
		i, j := r.rng.IntN(n), r.rng.IntN(n)
		c.genes[i], c.genes[j] = c.genes[j], c.genes[i]
	case 1: // insert
		from, to := r.rng.IntN(n), r.rng.IntN(n)
		g := c.genes[from]
		c.genes = append(c.genes[:from], c.genes[from+1:]...)
		c.genes = append(c.genes, 0)
		copy(c.genes[to+1:], c.genes[to:])
		c.genes[to] = g
	default: // segment reverse
		i, j := r.rng.IntN(n), r.rng.IntN(n)
		if i > j {
			i, j = j, i
		}
		for ; i < j; i, j = i+1, j-1 {
			c.genes[i], c.genes[j] = c.genes[j], c.genes[i]
		}
	}
}

// materialize turns the best chromosome into concrete routes.
func (r *geneticRun) materialize(best chromosome) ([]vrp.Route, []int) {
	segments, unassigned := r.decode(best.genes)
	var routes []vrp.Route
	for vi, seq := range segments {
		if len(seq) == 0 {
			continue
		}
		route, _ := r.in.simulate(vi, seq, resolveDepart(r.in.p, &r.in.p.Vehicles[vi]))
		routes = append(routes, route)
	}
	return routes, unassigned
}

func clone(c chromosome) chromosome {
	return chromosome{genes: append([]int(nil), c.genes...), fitness: c.fitness}
}

func sortByFitness(pop []chromosome) {
	sort.SliceStable(pop, func(i, j int) bool { return pop[i].fitness > pop[j].fitness })
}
