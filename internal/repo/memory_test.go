package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/vrp"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	m.PutAgent(model.Agent{ID: "a1", Name: "Arman", Region: "almaty", VehicleID: "v1", DepotLat: 43.238, DepotLon: 76.889, Active: true})
	m.PutAgent(model.Agent{ID: "a2", Name: "Bek", Region: "tashkent", VehicleID: "v2", DepotLat: 41.311, DepotLon: 69.279, Active: true})
	m.PutAgent(model.Agent{ID: "a3", Name: "Off Duty", Region: "almaty", Active: false})

	m.PutClient(model.Client{ID: "c1", AgentID: "a1", Region: "almaty", Lat: 43.25, Lon: 76.9, Frequency: model.FrequencyA, Active: true})
	m.PutClient(model.Client{ID: "c2", AgentID: "a1", Region: "almaty", Lat: 43.26, Lon: 76.95, Frequency: model.FrequencyB, Active: true})
	m.PutClient(model.Client{ID: "c3", AgentID: "a1", Region: "almaty", Lat: 43.27, Lon: 76.91, Frequency: model.FrequencyC, Active: false})
	m.PutClient(model.Client{ID: "c4", AgentID: "a2", Region: "tashkent", Lat: 41.32, Lon: 69.28, Frequency: model.FrequencyB, Active: true})

	m.PutVehicle(model.Vehicle{ID: "v1", AgentID: "a1", CapacityKg: 1000, CapacityM3: 8})
	m.PutVehicle(model.Vehicle{ID: "v2", AgentID: "a2", CapacityKg: 800, CapacityM3: 6})

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	m.PutOrder(model.DeliveryOrder{ID: "o1", ClientID: "c1", AgentID: "a1", WeightKg: 40, Status: model.OrderPending, Day: day})
	m.PutOrder(model.DeliveryOrder{ID: "o2", ClientID: "c2", AgentID: "a1", WeightKg: 25, Status: model.OrderPending, Day: day})
	m.PutOrder(model.DeliveryOrder{ID: "o3", ClientID: "c4", AgentID: "a2", WeightKg: 10, Status: model.OrderPending, Day: day.AddDate(0, 0, 1)})
	return m
}

func TestMemory_AgentLookup(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	a, err := m.Agent(ctx, "a1")
	if err != nil {
		t.Fatalf("Agent: %v", err)
	}
	if a.Name != "Arman" || a.Region != "almaty" {
		t.Errorf("Agent a1: got %+v", a)
	}

	_, err = m.Agent(ctx, "missing")
	if !errors.Is(err, vrp.ErrNotFound) {
		t.Errorf("missing agent: got %v, want ErrNotFound", err)
	}
}

func TestMemory_ActiveAgentsSortedAndFiltered(t *testing.T) {
	m := seedMemory(t)

	agents, err := m.ActiveAgents(context.Background())
	if err != nil {
		t.Fatalf("ActiveAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("ActiveAgents: got %d, want 2 (a3 is inactive)", len(agents))
	}
	if agents[0].ID != "a1" || agents[1].ID != "a2" {
		t.Errorf("ActiveAgents order: got %s, %s", agents[0].ID, agents[1].ID)
	}
}

func TestMemory_ClientsByAgent(t *testing.T) {
	m := seedMemory(t)

	clients, err := m.ClientsByAgent(context.Background(), "a1")
	if err != nil {
		t.Fatalf("ClientsByAgent: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("ClientsByAgent: got %d, want 2 (c3 is inactive)", len(clients))
	}
	if clients[0].ID != "c1" || clients[1].ID != "c2" {
		t.Errorf("ClientsByAgent order: got %s, %s", clients[0].ID, clients[1].ID)
	}
}

func TestMemory_OrdersByAgentDay(t *testing.T) {
	m := seedMemory(t)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	orders, err := m.OrdersByAgentDay(context.Background(), "a1", day)
	if err != nil {
		t.Fatalf("OrdersByAgentDay: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("OrdersByAgentDay: got %d, want 2", len(orders))
	}

	// Querying with a mid-day timestamp must hit the same calendar day.
	noon := day.Add(12 * time.Hour)
	orders, err = m.OrdersByAgentDay(context.Background(), "a1", noon)
	if err != nil {
		t.Fatalf("OrdersByAgentDay noon: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("OrdersByAgentDay noon: got %d, want 2", len(orders))
	}
}

func TestMemory_SetOrderStatus(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	if err := m.SetOrderStatus(ctx, "o1", model.OrderCancelled); err != nil {
		t.Fatalf("SetOrderStatus: %v", err)
	}
	o, err := m.Order(ctx, "o1")
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if o.Status != model.OrderCancelled {
		t.Errorf("status: got %s, want cancelled", o.Status)
	}

	if err := m.SetOrderStatus(ctx, "missing", model.OrderCompleted); !errors.Is(err, vrp.ErrNotFound) {
		t.Errorf("missing order: got %v, want ErrNotFound", err)
	}
}

func TestMemory_RouteSaveAndLookup(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	r := model.DeliveryRoute{
		ID: "r1", AgentID: "a1", VehicleID: "v1", Day: day, Status: model.RouteActive,
		Stops: []model.RouteStop{
			{OrderID: "o1", ClientID: "c1", Lat: 43.25, Lon: 76.9, Completed: true},
			{OrderID: "o2", ClientID: "c2", Lat: 43.26, Lon: 76.95},
		},
	}
	if err := m.SaveRoute(ctx, r); err != nil {
		t.Fatalf("SaveRoute: %v", err)
	}

	got, err := m.RouteByAgentDay(ctx, "a1", day)
	if err != nil {
		t.Fatalf("RouteByAgentDay: %v", err)
	}
	if got.ID != "r1" || len(got.Stops) != 2 {
		t.Errorf("RouteByAgentDay: got %+v", got)
	}

	active, err := m.ActiveRoute(ctx, "a1")
	if err != nil {
		t.Fatalf("ActiveRoute: %v", err)
	}
	if active.ID != "r1" {
		t.Errorf("ActiveRoute: got %s, want r1", active.ID)
	}

	remaining := active.Remaining()
	if len(remaining) != 1 || remaining[0].OrderID != "o2" {
		t.Errorf("Remaining: got %+v", remaining)
	}
	done := active.CompletedOrderIDs()
	if len(done) != 1 || done[0] != "o1" {
		t.Errorf("CompletedOrderIDs: got %v", done)
	}
}

func TestMemory_ActiveRoutePrefersLatestDay(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	if err := m.SaveRoute(ctx, model.DeliveryRoute{ID: "r-old", AgentID: "a1", Day: day1, Status: model.RouteActive}); err != nil {
		t.Fatalf("SaveRoute: %v", err)
	}
	if err := m.SaveRoute(ctx, model.DeliveryRoute{ID: "r-new", AgentID: "a1", Day: day2, Status: model.RouteActive}); err != nil {
		t.Fatalf("SaveRoute: %v", err)
	}

	active, err := m.ActiveRoute(ctx, "a1")
	if err != nil {
		t.Fatalf("ActiveRoute: %v", err)
	}
	if active.ID != "r-new" {
		t.Errorf("ActiveRoute: got %s, want r-new", active.ID)
	}
}

func TestMemory_SaveRouteReplacesDaySlot(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	if err := m.SaveRoute(ctx, model.DeliveryRoute{ID: "r1", AgentID: "a1", Day: day, Status: model.RoutePlanned}); err != nil {
		t.Fatalf("SaveRoute: %v", err)
	}
	if err := m.SaveRoute(ctx, model.DeliveryRoute{ID: "r2", AgentID: "a1", Day: day, Status: model.RoutePlanned}); err != nil {
		t.Fatalf("SaveRoute replace: %v", err)
	}

	got, err := m.RouteByAgentDay(ctx, "a1", day)
	if err != nil {
		t.Fatalf("RouteByAgentDay: %v", err)
	}
	if got.ID != "r2" {
		t.Errorf("day slot: got %s, want r2", got.ID)
	}

	if err := m.SaveRoute(ctx, model.DeliveryRoute{AgentID: "a1", Day: day}); !errors.Is(err, vrp.ErrInvalidInput) {
		t.Errorf("missing id: got %v, want ErrInvalidInput", err)
	}
}

func TestMemory_MissingRouteLookups(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Route(ctx, "nope"); !errors.Is(err, vrp.ErrNotFound) {
		t.Errorf("Route: got %v, want ErrNotFound", err)
	}
	if _, err := m.RouteByAgentDay(ctx, "a1", time.Now()); !errors.Is(err, vrp.ErrNotFound) {
		t.Errorf("RouteByAgentDay: got %v, want ErrNotFound", err)
	}
	if _, err := m.ActiveRoute(ctx, "a1"); !errors.Is(err, vrp.ErrNotFound) {
		t.Errorf("ActiveRoute: got %v, want ErrNotFound", err)
	}
}
