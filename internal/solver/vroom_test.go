package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karavan-route/karavan/internal/netutil"
	"github.com/karavan-route/karavan/internal/testutil"
	"github.com/karavan-route/karavan/internal/vrp"
)

// oneShot disables retry backoff so failure tests return immediately.
var oneShot = netutil.RetryPolicy{Attempts: 1, Base: time.Millisecond, Factor: 1}

func newVroomAt(t *testing.T, url string) *Vroom {
	t.Helper()
	v, err := NewVroom(VroomConfig{BaseURL: url, Retry: oneShot})
	require.NoError(t, err)
	return v
}

func TestVroomSolveDecodes(t *testing.T) {
	p := testutil.LineProblem(2)
	depart := p.DepartAt.Unix()

	var gotReq vroomRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		resp := vroomResponse{
			Routes: []vroomRoute{{
				Vehicle: 0,
				Steps: []vroomStep{
					{Type: "start", Arrival: depart},
					{Type: "job", Job: 0, Arrival: depart + 97, Service: 300},
					{Type: "job", Job: 1, Arrival: depart + 494, Service: 300},
					{Type: "end", Arrival: depart + 891},
				},
				Distance: 2430,
				Duration: 291,
			}},
		}
		resp.Summary.Duration = 291
		resp.Summary.Distance = 2430
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	sol, err := newVroomAt(t, srv.URL).Solve(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, gotReq.Jobs, 2)
	require.Len(t, gotReq.Vehicles, 1)
	assert.Equal(t, int64(300), gotReq.Jobs[0].Service)

	require.Len(t, sol.Routes, 1)
	assert.Equal(t, []string{"job-a", "job-b"}, sol.Routes[0].Visits())
	assert.Equal(t, vrp.KindVROOM, sol.SolverKind)
	assert.InDelta(t, 891, sol.Routes[0].TotalSeconds, 1)
	assert.InDelta(t, 2430, sol.Routes[0].TotalMeters, 1)
}

func TestVroomRejectsPickupDelivery(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := testutil.LineProblem(2)
	p.HasPickupDelivery = true
	p.Jobs[1].PickupPairID = "job-a"

	_, err := newVroomAt(t, srv.URL).Solve(context.Background(), p)
	assert.True(t, vrp.IsUnavailable(err))
	assert.Zero(t, calls.Load(), "pair problems must not reach the engine")
}

func TestVroomMapsServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newVroomAt(t, srv.URL).Solve(context.Background(), testutil.LineProblem(2))
	assert.True(t, vrp.IsUnavailable(err))
}

func TestVroomMapsEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(vroomResponse{Code: 3, Error: "input rejected"})
	}))
	defer srv.Close()

	_, err := newVroomAt(t, srv.URL).Solve(context.Background(), testutil.LineProblem(2))
	assert.True(t, vrp.IsUnavailable(err))
}

func TestVroomUnassignedWithoutPermission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := vroomResponse{}
		resp.Unassigned = append(resp.Unassigned, struct {
			ID int `json:"id"`
		}{ID: 0})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := testutil.LineProblem(1)
	p.AllowUnassigned = false
	_, err := newVroomAt(t, srv.URL).Solve(context.Background(), p)

	var inf *vrp.InfeasibleError
	require.ErrorAs(t, err, &inf)
	assert.Equal(t, []string{"job-a"}, inf.JobIDs)
}

func TestVroomBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	v, err := NewVroom(VroomConfig{BaseURL: srv.URL, Retry: oneShot, BreakerThreshold: 2})
	require.NoError(t, err)

	p := testutil.LineProblem(1)
	for i := 0; i < 2; i++ {
		_, err = v.Solve(context.Background(), p)
		assert.True(t, vrp.IsUnavailable(err))
	}
	// Third call trips on the open breaker without touching the wire.
	_, err = v.Solve(context.Background(), p)
	assert.True(t, vrp.IsUnavailable(err))
	assert.Contains(t, err.Error(), "circuit open")
}
