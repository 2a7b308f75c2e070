// Package repo defines the repository ports through which the routing core
// reads and writes persistent entities. Storage engines live outside the
// core; this package carries the contracts plus an in-memory implementation
// used by tests and single-process deployments.
package repo

import (
	"context"
	"time"

	"github.com/karavan-route/karavan/internal/model"
)

// AgentRepo reads delivery agents.
type AgentRepo interface {
	Agent(ctx context.Context, id string) (model.Agent, error)
	// ActiveAgents returns every agent currently on duty, ordered by id.
	ActiveAgents(ctx context.Context) ([]model.Agent, error)
}

// ClientRepo reads delivery clients.
type ClientRepo interface {
	Client(ctx context.Context, id string) (model.Client, error)
	// ClientsByAgent returns the active clients served by an agent,
	// ordered by id.
	ClientsByAgent(ctx context.Context, agentID string) ([]model.Client, error)
}

// VehicleRepo reads vehicles.
type VehicleRepo interface {
	Vehicle(ctx context.Context, id string) (model.Vehicle, error)
	VehiclesByAgent(ctx context.Context, agentID string) ([]model.Vehicle, error)
}

// OrderRepo reads and updates delivery orders.
type OrderRepo interface {
	Order(ctx context.Context, id string) (model.DeliveryOrder, error)
	// OrdersByAgentDay returns an agent's orders for a calendar day,
	// ordered by id.
	OrdersByAgentDay(ctx context.Context, agentID string, day time.Time) ([]model.DeliveryOrder, error)
	SetOrderStatus(ctx context.Context, id string, status model.OrderStatus) error
}

// RouteRepo reads and replaces planned delivery routes.
type RouteRepo interface {
	Route(ctx context.Context, id string) (model.DeliveryRoute, error)
	// RouteByAgentDay returns the route planned for an agent on a day.
	RouteByAgentDay(ctx context.Context, agentID string, day time.Time) (model.DeliveryRoute, error)
	// ActiveRoute returns the agent's route currently being driven.
	ActiveRoute(ctx context.Context, agentID string) (model.DeliveryRoute, error)
	// SaveRoute inserts or replaces a route snapshot.
	SaveRoute(ctx context.Context, r model.DeliveryRoute) error
}

// Repository aggregates every entity port. The facade and background tasks
// take the full interface; narrow consumers take the slice they use.
type Repository interface {
	AgentRepo
	ClientRepo
	VehicleRepo
	OrderRepo
	RouteRepo
}
