package matrix

import (
	"testing"

	"github.com/karavan-route/karavan/internal/geo"
)

func TestNewMatrixFill(t *testing.T) {
	m := NewMatrix(2, 3, Unreachable)
	if m.Rows() != 2 || m.Cols() != 3 {
		t.Fatalf("dims = %dx%d", m.Rows(), m.Cols())
	}
	if !IsUnreachable(m.Durations[1][2]) || !IsUnreachable(m.Distances[0][0]) {
		t.Fatal("fill value not applied")
	}
}

func TestIsUnreachable(t *testing.T) {
	if IsUnreachable(86400) {
		t.Fatal("a day of driving is reachable")
	}
	if !IsUnreachable(Unreachable) {
		t.Fatal("sentinel must be unreachable")
	}
}

func TestMeanDurationSkipsDiagonalAndSentinels(t *testing.T) {
	m := NewMatrix(2, 2, 0)
	m.Durations[0][1] = 100
	m.Durations[1][0] = Unreachable
	m.Durations[0][0] = 999 // diagonal, ignored
	if got := m.MeanDuration(); got != 100 {
		t.Fatalf("MeanDuration = %v, want 100", got)
	}
}

func TestMatrixBinaryRoundTrip(t *testing.T) {
	m := NewMatrix(2, 3, 0)
	m.Durations[0][1] = 123.5
	m.Durations[1][2] = Unreachable
	m.Distances[1][0] = 9876.25

	blob, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got Matrix
	if err := got.UnmarshalBinary(blob); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.Rows() != 2 || got.Cols() != 3 {
		t.Fatalf("dims = %dx%d", got.Rows(), got.Cols())
	}
	if got.Durations[0][1] != 123.5 || got.Distances[1][0] != 9876.25 {
		t.Fatalf("values lost: %+v", got)
	}
	if !IsUnreachable(got.Durations[1][2]) {
		t.Fatal("sentinel lost in round trip")
	}
}

func TestMatrixUnmarshalRejectsGarbage(t *testing.T) {
	var m Matrix
	if err := m.UnmarshalBinary([]byte{1, 2, 3}); err == nil {
		t.Fatal("short blob accepted")
	}
	blob, _ := NewMatrix(2, 2, 0).MarshalBinary()
	if err := m.UnmarshalBinary(blob[:len(blob)-4]); err == nil {
		t.Fatal("truncated blob accepted")
	}
	blob[0] = 99
	if err := m.UnmarshalBinary(blob); err == nil {
		t.Fatal("unknown version accepted")
	}
}

func TestChunkIndices(t *testing.T) {
	tests := []struct {
		n, size int
		want    [][]int
	}{
		{0, 100, nil},
		{3, 100, [][]int{{0, 1, 2}}},
		{5, 2, [][]int{{0, 1}, {2, 3}, {4}}},
		{4, 2, [][]int{{0, 1}, {2, 3}}},
	}
	for _, tc := range tests {
		got := chunkIndices(tc.n, tc.size)
		if len(got) != len(tc.want) {
			t.Fatalf("chunkIndices(%d,%d) = %v", tc.n, tc.size, got)
		}
		for i := range got {
			if len(got[i]) != len(tc.want[i]) {
				t.Fatalf("chunkIndices(%d,%d)[%d] = %v, want %v", tc.n, tc.size, i, got[i], tc.want[i])
			}
			for j := range got[i] {
				if got[i][j] != tc.want[i][j] {
					t.Fatalf("chunkIndices(%d,%d) = %v, want %v", tc.n, tc.size, got, tc.want)
				}
			}
		}
	}
}

func TestCanonicalizeRoundTrip(t *testing.T) {
	coords := []geo.Coordinate{
		{Lat: 43.238949, Lon: 76.889709},
		{Lat: 41.311081, Lon: 69.240562},
		{Lat: 42.874621, Lon: 74.569762},
	}
	sorted, pos := canonicalize(coords)
	for i, c := range coords {
		if !sorted[pos[i]].Equal(c) {
			t.Fatalf("pos[%d]=%d does not map back to %v", i, pos[i], c)
		}
	}
	for k := 1; k < len(sorted); k++ {
		if sorted[k].Less(sorted[k-1]) {
			t.Fatalf("sorted order violated at %d", k)
		}
	}

	// Same set, different order, same canonical sequence.
	shuffled := []geo.Coordinate{coords[2], coords[0], coords[1]}
	sorted2, _ := canonicalize(shuffled)
	for k := range sorted {
		if !sorted[k].Equal(sorted2[k]) {
			t.Fatal("canonical order depends on input order")
		}
	}
}
