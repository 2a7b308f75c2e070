package geo

import (
	"math"
	"testing"
	"time"
)

func TestHaversineKnownDistances(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Coordinate
		wantKM  float64
		within  float64 // acceptable relative error
	}{
		{
			name:   "tashkent to almaty",
			a:      Coordinate{Lat: 41.2995, Lon: 69.2401},
			b:      Coordinate{Lat: 43.2220, Lon: 76.8512},
			wantKM: 666,
			within: 0.02,
		},
		{
			name:   "same point",
			a:      Coordinate{Lat: 41.3, Lon: 69.28},
			b:      Coordinate{Lat: 41.3, Lon: 69.28},
			wantKM: 0,
			within: 0,
		},
		{
			name:   "one degree of latitude",
			a:      Coordinate{Lat: 41.0, Lon: 69.0},
			b:      Coordinate{Lat: 42.0, Lon: 69.0},
			wantKM: 111.2,
			within: 0.01,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := HaversineM(tc.a, tc.b) / 1000
			if tc.wantKM == 0 {
				if got != 0 {
					t.Fatalf("HaversineM = %v km, want 0", got)
				}
				return
			}
			if rel := math.Abs(got-tc.wantKM) / tc.wantKM; rel > tc.within {
				t.Fatalf("HaversineM = %v km, want %v km (±%v%%)", got, tc.wantKM, tc.within*100)
			}
		})
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := Coordinate{Lat: 41.311, Lon: 69.279}
	b := Coordinate{Lat: 43.238, Lon: 76.945}
	if d1, d2 := HaversineM(a, b), HaversineM(b, a); d1 != d2 {
		t.Fatalf("asymmetric haversine: %v vs %v", d1, d2)
	}
}

func TestCoordinateValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Coordinate
		wantErr bool
	}{
		{"valid", Coordinate{Lat: 41.3, Lon: 69.28}, false},
		{"lat too high", Coordinate{Lat: 91, Lon: 0}, true},
		{"lat too low", Coordinate{Lat: -91, Lon: 0}, true},
		{"lon too high", Coordinate{Lat: 0, Lon: 181}, true},
		{"lon too low", Coordinate{Lat: 0, Lon: -181}, true},
		{"nan", Coordinate{Lat: math.NaN(), Lon: 0}, true},
		{"boundary", Coordinate{Lat: 90, Lon: -180}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.c.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestCoordinateEqualPrecision(t *testing.T) {
	base := Coordinate{Lat: 41.311081, Lon: 69.279737}
	if !base.Equal(Coordinate{Lat: 41.3110812, Lon: 69.2797371}) {
		t.Fatal("sub-precision difference should compare equal")
	}
	if base.Equal(Coordinate{Lat: 41.311092, Lon: 69.279737}) {
		t.Fatal("difference above 1e-6 should compare unequal")
	}
}

func TestTimeWindow(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	w := WindowFromMinutes(day, 9*60, 11*60)

	if got := w.Earliest.Hour(); got != 9 {
		t.Fatalf("earliest hour = %d, want 9", got)
	}
	if !w.Contains(day.Add(10 * time.Hour)) {
		t.Fatal("10:00 should be inside 09:00-11:00")
	}
	if w.Contains(day.Add(12 * time.Hour)) {
		t.Fatal("12:00 should be outside 09:00-11:00")
	}
	if got, want := w.Span(), 2*time.Hour; got != want {
		t.Fatalf("Span = %v, want %v", got, want)
	}

	inverted := TimeWindow{Earliest: day.Add(time.Hour), Latest: day}
	if err := inverted.Validate(); err == nil {
		t.Fatal("inverted window should fail validation")
	}
}

func TestLocationServiceDuration(t *testing.T) {
	var l Location
	if got, want := l.ServiceDuration(), 15*time.Minute; got != want {
		t.Fatalf("default service duration = %v, want %v", got, want)
	}
	l.ServiceMinutes = 5
	if got, want := l.ServiceDuration(), 5*time.Minute; got != want {
		t.Fatalf("service duration = %v, want %v", got, want)
	}
}

func TestDispersion(t *testing.T) {
	if got := Dispersion(nil); got != 0 {
		t.Fatalf("empty dispersion = %v, want 0", got)
	}
	// Two points ~222 km apart: every point is ~111 km from the centroid,
	// so the deviation of distances is near zero only if both are equal;
	// with symmetric points the std of {d, d} is 0. Use three points.
	spread := Dispersion([]Coordinate{
		{Lat: 41.0, Lon: 69.0},
		{Lat: 41.0, Lon: 69.0},
		{Lat: 43.0, Lon: 69.0},
	})
	if spread <= 0 {
		t.Fatalf("dispersion of spread points = %v, want > 0", spread)
	}
	tight := Dispersion([]Coordinate{
		{Lat: 41.0001, Lon: 69.0001},
		{Lat: 41.0002, Lon: 69.0002},
		{Lat: 41.0003, Lon: 69.0001},
	})
	if tight >= spread {
		t.Fatalf("tight cluster dispersion %v should be below spread %v", tight, spread)
	}
}
