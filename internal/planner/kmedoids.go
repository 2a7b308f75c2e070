package planner

import "sort"

// Clustering is the result of a k-medoids run: one medoid per cluster and
// the member point indices, sorted ascending within each cluster.
type Clustering struct {
	Medoids []int
	Members [][]int
}

// KMedoids partitions points 0..n-1 into k clusters with the PAM heuristic
// (greedy BUILD, then best-improvement SWAP) over a travel-duration matrix.
// Durations are symmetrized, so the result is stable regardless of one-way
// street asymmetries. The run is fully deterministic: ties always resolve to
// the lowest index.
func KMedoids(dur [][]float64, k int) Clustering {
	n := len(dur)
	if n == 0 {
		return Clustering{}
	}
	if k >= n {
		c := Clustering{Medoids: make([]int, n), Members: make([][]int, n)}
		for i := 0; i < n; i++ {
			c.Medoids[i] = i
			c.Members[i] = []int{i}
		}
		return c
	}
	if k < 1 {
		k = 1
	}

	d := func(i, j int) float64 {
		if i == j {
			return 0
		}
		return (dur[i][j] + dur[j][i]) / 2
	}

	medoids := buildMedoids(n, k, d)
	swapMedoids(n, medoids, d)
	sort.Ints(medoids)

	members := make([][]int, len(medoids))
	for i := 0; i < n; i++ {
		c := nearestMedoid(i, medoids, d)
		members[c] = append(members[c], i)
	}
	return Clustering{Medoids: medoids, Members: members}
}

// buildMedoids is the PAM BUILD phase: the first medoid minimizes total
// duration to all points, each next one maximizes the drop in total cost.
func buildMedoids(n, k int, d func(int, int) float64) []int {
	first, firstCost := 0, totalTo(0, n, d)
	for i := 1; i < n; i++ {
		if c := totalTo(i, n, d); c < firstCost {
			first, firstCost = i, c
		}
	}
	medoids := []int{first}

	// nearest[i] is the duration from point i to its closest chosen medoid.
	nearest := make([]float64, n)
	for i := 0; i < n; i++ {
		nearest[i] = d(i, first)
	}
	for len(medoids) < k {
		best, bestGain := -1, 0.0
		for cand := 0; cand < n; cand++ {
			if isMedoid(cand, medoids) {
				continue
			}
			gain := 0.0
			for i := 0; i < n; i++ {
				if dc := d(i, cand); dc < nearest[i] {
					gain += nearest[i] - dc
				}
			}
			if best == -1 || gain > bestGain {
				best, bestGain = cand, gain
			}
		}
		medoids = append(medoids, best)
		for i := 0; i < n; i++ {
			if dc := d(i, best); dc < nearest[i] {
				nearest[i] = dc
			}
		}
	}
	return medoids
}

// swapMedoids is the PAM SWAP phase: repeatedly apply the single
// medoid/non-medoid exchange that lowers total cost the most.
func swapMedoids(n int, medoids []int, d func(int, int) float64) {
	const maxIters = 50
	cur := clusterCost(n, medoids, d)
	for iter := 0; iter < maxIters; iter++ {
		bestM, bestO, bestCost := -1, -1, cur
		for mi := range medoids {
			old := medoids[mi]
			for o := 0; o < n; o++ {
				if isMedoid(o, medoids) {
					continue
				}
				medoids[mi] = o
				if c := clusterCost(n, medoids, d); c < bestCost {
					bestM, bestO, bestCost = mi, o, c
				}
				medoids[mi] = old
			}
		}
		if bestM == -1 {
			return
		}
		medoids[bestM] = bestO
		cur = bestCost
	}
}

func clusterCost(n int, medoids []int, d func(int, int) float64) float64 {
	var sum float64
	for i := 0; i < n; i++ {
		sum += d(i, medoids[nearestMedoid(i, medoids, d)])
	}
	return sum
}

func nearestMedoid(i int, medoids []int, d func(int, int) float64) int {
	best, bestD := 0, d(i, medoids[0])
	for c := 1; c < len(medoids); c++ {
		if dc := d(i, medoids[c]); dc < bestD {
			best, bestD = c, dc
		}
	}
	return best
}

func totalTo(i, n int, d func(int, int) float64) float64 {
	var sum float64
	for j := 0; j < n; j++ {
		sum += d(i, j)
	}
	return sum
}

func isMedoid(i int, medoids []int) bool {
	for _, m := range medoids {
		if m == i {
			return true
		}
	}
	return false
}
