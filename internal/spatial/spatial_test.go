package spatial

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/karavan-route/karavan/internal/geo"
)

var tashkent = geo.Coordinate{Lat: 41.311081, Lon: 69.240562}

// testFleet returns a reproducible scatter of points within ~11 km of the
// center.
func testFleet(n int) map[string]geo.Coordinate {
	rnd := rand.New(rand.NewPCG(7, 13))
	out := make(map[string]geo.Coordinate, n)
	for i := 0; i < n; i++ {
		out[fmt.Sprintf("agent-%02d", i)] = geo.Coordinate{
			Lat: tashkent.Lat + (rnd.Float64()-0.5)*0.2,
			Lon: tashkent.Lon + (rnd.Float64()-0.5)*0.2,
		}
	}
	return out
}

func implementations(t *testing.T) map[string]Index {
	t.Helper()
	h3idx, err := NewH3(0)
	if err != nil {
		t.Fatalf("NewH3: %v", err)
	}
	return map[string]Index{
		"h3":   h3idx,
		"grid": NewGrid(0),
	}
}

func fill(t *testing.T, idx Index, fleet map[string]geo.Coordinate) {
	t.Helper()
	for id, c := range fleet {
		if err := idx.Upsert(id, c); err != nil {
			t.Fatalf("Upsert(%s): %v", id, err)
		}
	}
}

func bruteRadius(fleet map[string]geo.Coordinate, center geo.Coordinate, meters float64) map[string]bool {
	out := make(map[string]bool)
	for id, c := range fleet {
		if geo.HaversineM(center, c) <= meters {
			out[id] = true
		}
	}
	return out
}

func TestIndexBasics(t *testing.T) {
	for name, idx := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := idx.Upsert("a1", tashkent); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if idx.Len() != 1 {
				t.Fatalf("Len = %d", idx.Len())
			}
			got, ok := idx.Lookup("a1")
			if !ok || !got.Equal(tashkent) {
				t.Fatalf("Lookup = (%v, %v)", got, ok)
			}
			if !idx.Remove("a1") {
				t.Fatal("Remove returned false for present id")
			}
			if idx.Remove("a1") {
				t.Fatal("Remove returned true for absent id")
			}
			if idx.Len() != 0 {
				t.Fatalf("Len after remove = %d", idx.Len())
			}
		})
	}
}

func TestIndexRejectsBadInput(t *testing.T) {
	for name, idx := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := idx.Upsert("", tashkent); err == nil {
				t.Fatal("empty id accepted")
			}
			if err := idx.Upsert("a1", geo.Coordinate{Lat: 99, Lon: 0}); err == nil {
				t.Fatal("out-of-range latitude accepted")
			}
		})
	}
}

func TestRadiusMatchesBruteForce(t *testing.T) {
	fleet := testFleet(60)
	for name, idx := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fill(t, idx, fleet)
			// 12 km exceeds the disk cap and exercises the scan path.
			for _, meters := range []float64{300, 1500, 4000, 12000} {
				want := bruteRadius(fleet, tashkent, meters)
				got := idx.Radius(tashkent, meters)
				if len(got) != len(want) {
					t.Fatalf("radius %v: %d results, want %d", meters, len(got), len(want))
				}
				for _, n := range got {
					if !want[n.ID] {
						t.Fatalf("radius %v returned %s at %.0f m", meters, n.ID, n.DistanceM)
					}
					if n.DistanceM > meters {
						t.Fatalf("radius %v: %s outside at %.0f m", meters, n.ID, n.DistanceM)
					}
				}
				for i := 1; i < len(got); i++ {
					if got[i].DistanceM < got[i-1].DistanceM {
						t.Fatalf("radius %v not sorted by distance", meters)
					}
				}
			}
		})
	}
}

func TestKNearestMatchesBruteForce(t *testing.T) {
	fleet := testFleet(40)
	for name, idx := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fill(t, idx, fleet)

			got := idx.KNearest(tashkent, 5)
			if len(got) != 5 {
				t.Fatalf("KNearest(5) returned %d", len(got))
			}
			// The 5th hit must not be farther than any entity outside the set.
			in := make(map[string]bool, len(got))
			for _, n := range got {
				in[n.ID] = true
			}
			worst := got[len(got)-1].DistanceM
			for id, c := range fleet {
				if !in[id] && geo.HaversineM(tashkent, c) < worst {
					t.Fatalf("missed nearer entity %s", id)
				}
			}

			if all := idx.KNearest(tashkent, 1000); len(all) != len(fleet) {
				t.Fatalf("KNearest(1000) = %d, want %d", len(all), len(fleet))
			}
			if none := idx.KNearest(tashkent, 0); none != nil {
				t.Fatalf("KNearest(0) = %v", none)
			}
		})
	}
}

func TestUpsertMovesEntity(t *testing.T) {
	for name, idx := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if err := idx.Upsert("courier", tashkent); err != nil {
				t.Fatal(err)
			}
			if got := idx.Radius(tashkent, 500); len(got) != 1 {
				t.Fatalf("before move: %d results", len(got))
			}

			far := geo.Coordinate{Lat: tashkent.Lat + 0.1, Lon: tashkent.Lon} // ~11 km north
			if err := idx.Upsert("courier", far); err != nil {
				t.Fatal(err)
			}
			if got := idx.Radius(tashkent, 500); len(got) != 0 {
				t.Fatalf("after move still near: %v", got)
			}
			if got := idx.Radius(far, 500); len(got) != 1 {
				t.Fatalf("after move not at new position: %v", got)
			}
			if idx.Len() != 1 {
				t.Fatalf("Len = %d after move", idx.Len())
			}
		})
	}
}

func TestConcurrentQueriesDuringMutation(t *testing.T) {
	fleet := testFleet(30)
	for name, idx := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fill(t, idx, fleet)
			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 50; i++ {
						id := fmt.Sprintf("mover-%d", w)
						c := geo.Coordinate{
							Lat: tashkent.Lat + float64(i)*1e-4,
							Lon: tashkent.Lon + float64(w)*1e-3,
						}
						if err := idx.Upsert(id, c); err != nil {
							t.Errorf("Upsert: %v", err)
							return
						}
						idx.Radius(tashkent, 2000)
						idx.KNearest(tashkent, 3)
					}
				}(w)
			}
			wg.Wait()
		})
	}
}
