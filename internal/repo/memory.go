package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/vrp"
)

// Memory is the in-memory Repository. All maps are safe for concurrent use;
// list operations return copies sorted by id so callers see stable order.
type Memory struct {
	agents   *xsync.Map[string, model.Agent]
	clients  *xsync.Map[string, model.Client]
	vehicles *xsync.Map[string, model.Vehicle]
	orders   *xsync.Map[string, model.DeliveryOrder]
	routes   *xsync.Map[string, model.DeliveryRoute]
	// routeDays maps agentID|dayKey to the route id planned for that day.
	routeDays *xsync.Map[string, string]
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		agents:    xsync.NewMap[string, model.Agent](),
		clients:   xsync.NewMap[string, model.Client](),
		vehicles:  xsync.NewMap[string, model.Vehicle](),
		orders:    xsync.NewMap[string, model.DeliveryOrder](),
		routes:    xsync.NewMap[string, model.DeliveryRoute](),
		routeDays: xsync.NewMap[string, string](),
	}
}

func agentDayKey(agentID string, day time.Time) string {
	return agentID + "|" + model.DayKey(day)
}

// PutAgent inserts or replaces an agent record.
func (m *Memory) PutAgent(a model.Agent) { m.agents.Store(a.ID, a) }

// PutClient inserts or replaces a client record.
func (m *Memory) PutClient(c model.Client) { m.clients.Store(c.ID, c) }

// PutVehicle inserts or replaces a vehicle record.
func (m *Memory) PutVehicle(v model.Vehicle) { m.vehicles.Store(v.ID, v) }

// PutOrder inserts or replaces an order record.
func (m *Memory) PutOrder(o model.DeliveryOrder) { m.orders.Store(o.ID, o) }

func (m *Memory) Agent(_ context.Context, id string) (model.Agent, error) {
	a, ok := m.agents.Load(id)
	if !ok {
		return model.Agent{}, fmt.Errorf("repo: agent %s: %w", id, vrp.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) ActiveAgents(_ context.Context) ([]model.Agent, error) {
	var out []model.Agent
	m.agents.Range(func(_ string, a model.Agent) bool {
		if a.Active {
			out = append(out, a)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Client(_ context.Context, id string) (model.Client, error) {
	c, ok := m.clients.Load(id)
	if !ok {
		return model.Client{}, fmt.Errorf("repo: client %s: %w", id, vrp.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) ClientsByAgent(_ context.Context, agentID string) ([]model.Client, error) {
	var out []model.Client
	m.clients.Range(func(_ string, c model.Client) bool {
		if c.AgentID == agentID && c.Active {
			out = append(out, c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Vehicle(_ context.Context, id string) (model.Vehicle, error) {
	v, ok := m.vehicles.Load(id)
	if !ok {
		return model.Vehicle{}, fmt.Errorf("repo: vehicle %s: %w", id, vrp.ErrNotFound)
	}
	return v, nil
}

func (m *Memory) VehiclesByAgent(_ context.Context, agentID string) ([]model.Vehicle, error) {
	var out []model.Vehicle
	m.vehicles.Range(func(_ string, v model.Vehicle) bool {
		if v.AgentID == agentID {
			out = append(out, v)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Order(_ context.Context, id string) (model.DeliveryOrder, error) {
	o, ok := m.orders.Load(id)
	if !ok {
		return model.DeliveryOrder{}, fmt.Errorf("repo: order %s: %w", id, vrp.ErrNotFound)
	}
	return o, nil
}

func (m *Memory) OrdersByAgentDay(_ context.Context, agentID string, day time.Time) ([]model.DeliveryOrder, error) {
	dayKey := model.DayKey(day)
	var out []model.DeliveryOrder
	m.orders.Range(func(_ string, o model.DeliveryOrder) bool {
		if o.AgentID == agentID && model.DayKey(o.Day) == dayKey {
			out = append(out, o)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetOrderStatus(_ context.Context, id string, status model.OrderStatus) error {
	var missing bool
	m.orders.Compute(id, func(o model.DeliveryOrder, loaded bool) (model.DeliveryOrder, xsync.ComputeOp) {
		if !loaded {
			missing = true
			return o, xsync.CancelOp
		}
		o.Status = status
		return o, xsync.UpdateOp
	})
	if missing {
		return fmt.Errorf("repo: order %s: %w", id, vrp.ErrNotFound)
	}
	return nil
}

func (m *Memory) Route(_ context.Context, id string) (model.DeliveryRoute, error) {
	r, ok := m.routes.Load(id)
	if !ok {
		return model.DeliveryRoute{}, fmt.Errorf("repo: route %s: %w", id, vrp.ErrNotFound)
	}
	return r, nil
}

func (m *Memory) RouteByAgentDay(_ context.Context, agentID string, day time.Time) (model.DeliveryRoute, error) {
	id, ok := m.routeDays.Load(agentDayKey(agentID, day))
	if !ok {
		return model.DeliveryRoute{}, fmt.Errorf("repo: route for agent %s on %s: %w",
			agentID, model.DayKey(day), vrp.ErrNotFound)
	}
	r, ok := m.routes.Load(id)
	if !ok {
		return model.DeliveryRoute{}, fmt.Errorf("repo: route %s: %w", id, vrp.ErrNotFound)
	}
	return r, nil
}

func (m *Memory) ActiveRoute(_ context.Context, agentID string) (model.DeliveryRoute, error) {
	var best model.DeliveryRoute
	found := false
	m.routes.Range(func(_ string, r model.DeliveryRoute) bool {
		if r.AgentID != agentID || r.Status != model.RouteActive {
			return true
		}
		// Latest day wins; ties resolve by id for determinism.
		if !found || r.Day.After(best.Day) || (r.Day.Equal(best.Day) && r.ID < best.ID) {
			best, found = r, true
		}
		return true
	})
	if !found {
		return model.DeliveryRoute{}, fmt.Errorf("repo: active route for agent %s: %w", agentID, vrp.ErrNotFound)
	}
	return best, nil
}

func (m *Memory) SaveRoute(_ context.Context, r model.DeliveryRoute) error {
	if r.ID == "" {
		return fmt.Errorf("repo: route missing id: %w", vrp.ErrInvalidInput)
	}
	m.routes.Store(r.ID, r)
	m.routeDays.Store(agentDayKey(r.AgentID, r.Day), r.ID)
	return nil
}

var _ Repository = (*Memory)(nil)
