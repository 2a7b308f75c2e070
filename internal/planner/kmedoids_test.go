package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineDurations builds a symmetric duration matrix for points on a line at
// the given positions (seconds).
func lineDurations(pos []float64) [][]float64 {
	n := len(pos)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		for j := range m[i] {
			d := pos[i] - pos[j]
			if d < 0 {
				d = -d
			}
			m[i][j] = d
		}
	}
	return m
}

func TestKMedoidsSplitsTwoGroups(t *testing.T) {
	// Two tight groups far apart: {0,1,2} near zero, {3,4,5} near 1000.
	dur := lineDurations([]float64{0, 10, 20, 1000, 1010, 1020})
	c := KMedoids(dur, 2)
	require.Len(t, c.Members, 2)
	assert.Equal(t, []int{0, 1, 2}, c.Members[0])
	assert.Equal(t, []int{3, 4, 5}, c.Members[1])
	// Medoids are the group centers.
	assert.Equal(t, []int{1, 4}, c.Medoids)
}

func TestKMedoidsDeterministic(t *testing.T) {
	dur := lineDurations([]float64{5, 0, 300, 295, 600, 610, 12})
	a := KMedoids(dur, 3)
	b := KMedoids(dur, 3)
	assert.Equal(t, a, b)
}

func TestKMedoidsDegenerateK(t *testing.T) {
	dur := lineDurations([]float64{0, 100, 200})

	one := KMedoids(dur, 1)
	require.Len(t, one.Members, 1)
	assert.Equal(t, []int{0, 1, 2}, one.Members[0])
	// The middle point minimizes total distance.
	assert.Equal(t, []int{1}, one.Medoids)

	all := KMedoids(dur, 5)
	assert.Len(t, all.Members, 3)
	for i, m := range all.Members {
		assert.Equal(t, []int{i}, m)
	}

	assert.Empty(t, KMedoids(nil, 2).Members)
}
