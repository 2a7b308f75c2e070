// Package testutil carries fixtures shared across package tests: entity
// builders around Almaty coordinates, a haversine-backed matrix provider,
// and small solve problems with known geometry.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/karavan-route/karavan/internal/cache"
	"github.com/karavan-route/karavan/internal/geo"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/repo"
	"github.com/karavan-route/karavan/internal/vrp"
)

// Depot is the Almaty depot every fixture agent starts from.
var Depot = geo.Coordinate{Lat: 43.238949, Lon: 76.889709}

// Agent returns an active Almaty agent bound to vehicle "veh-"+id.
func Agent(id string) model.Agent {
	return model.Agent{
		ID:        id,
		Name:      "agent " + id,
		Region:    "almaty",
		VehicleID: "veh-" + id,
		DepotLat:  Depot.Lat,
		DepotLon:  Depot.Lon,
		Active:    true,
	}
}

// Vehicle returns the agent's van with a 09:00-18:00 shift and no break.
func Vehicle(agentID string) model.Vehicle {
	return model.Vehicle{
		ID:            "veh-" + agentID,
		AgentID:       agentID,
		Plate:         "A 777 " + agentID,
		CapacityKg:    1200,
		CapacityM3:    9,
		ShiftStartMin: 9 * 60,
		ShiftEndMin:   18 * 60,
	}
}

// Client returns an active client at an offset (in 0.01-degree steps, about
// 800 m of longitude at Almaty's latitude) east and north of the depot.
func Client(id, agentID string, freq model.VisitFrequency, eastSteps, northSteps int) model.Client {
	return model.Client{
		ID:             id,
		Name:           "client " + id,
		AgentID:        agentID,
		Region:         "almaty",
		Lat:            Depot.Lat + 0.01*float64(northSteps),
		Lon:            Depot.Lon + 0.01*float64(eastSteps),
		Frequency:      freq,
		ServiceMinutes: 10,
		Active:         true,
	}
}

// Repo returns a memory repository seeded with the given entities.
func Repo(agent model.Agent, veh model.Vehicle, clients ...model.Client) *repo.Memory {
	m := repo.NewMemory()
	m.PutAgent(agent)
	m.PutVehicle(veh)
	for _, c := range clients {
		m.PutClient(c)
	}
	return m
}

// Provider returns a matrix provider over the haversine estimator with an
// in-process cache, the stack used wherever a test needs real travel times
// without a road-network instance.
func Provider(tb testing.TB) *matrix.Provider {
	tb.Helper()
	mem, err := cache.NewMemory(8 << 20)
	if err != nil {
		tb.Fatalf("cache.NewMemory: %v", err)
	}
	par := matrix.NewParallel(&matrix.Estimator{}, matrix.ParallelConfig{BatchSize: 100, MaxConcurrent: 4})
	return matrix.NewProvider(par, mem, cache.DefaultTTLPolicy())
}

// HaversineMatrix is a MatrixFunc-compatible table source over the
// estimator, for wiring local solvers directly in tests.
func HaversineMatrix(ctx context.Context, coords []geo.Coordinate, _ string) (*matrix.Matrix, error) {
	return (&matrix.Estimator{}).Table(ctx, matrix.TableRequest{Coords: coords})
}

// Day is the fixture Monday: 2026-03-02, ISO week 10 (even).
var Day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// OddWeekDay is a Monday in an odd ISO week: 2026-03-09, week 11.
var OddWeekDay = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

// LineProblem builds a single-vehicle problem whose jobs sit on a straight
// east-west line at 0.01-degree spacing, job i at i+1 steps east of the
// depot. The optimal visit order is job order.
func LineProblem(jobs int) *vrp.Problem {
	p := &vrp.Problem{
		Vehicles: []vrp.Vehicle{{
			ID:    "veh-1",
			Depot: geo.Location{Coordinate: Depot},
		}},
		AllowUnassigned: true,
		DepartAt:        Day.Add(9 * time.Hour),
	}
	for i := 0; i < jobs; i++ {
		p.Jobs = append(p.Jobs, vrp.Job{
			ID: "job-" + string(rune('a'+i)),
			Location: geo.Location{
				Coordinate:     geo.Coordinate{Lat: Depot.Lat, Lon: Depot.Lon + 0.01*float64(i+1)},
				ServiceMinutes: 5,
			},
			Priority: 1,
		})
	}
	return p
}
