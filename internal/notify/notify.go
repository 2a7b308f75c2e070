// Package notify carries the outbound notification contract: structured
// events the routing core publishes when plans change or slip. Delivery
// transports (webhook senders, WebSocket fan-out) live outside the core and
// plug in behind the Sink interface; publishing is fire-and-forget.
package notify

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/karavan-route/karavan/internal/config"
	"github.com/karavan-route/karavan/internal/matrix"
	"github.com/karavan-route/karavan/internal/vrp"
)

// Kind names an outbound event type.
type Kind string

const (
	// KindRouteUpdated announces a replacement plan for an agent.
	KindRouteUpdated Kind = "ROUTE_UPDATED"
	// KindDelayWarning flags visits projected late beyond the warning
	// threshold.
	KindDelayWarning Kind = "DELAY_WARNING"
	// KindDelayCritical flags visits projected late beyond the critical
	// threshold.
	KindDelayCritical Kind = "DELAY_CRITICAL"
	// KindRerouteFailed reports that every solver failed; the existing
	// route stays in force.
	KindRerouteFailed Kind = "REROUTE_FAILED"
)

// ReasonPredictedDelay tags route updates triggered by the feasibility
// forecast.
const ReasonPredictedDelay = "predicted_delay"

// Severity classifies how late a projected visit runs.
type Severity string

const (
	SeverityAtRisk   Severity = "at_risk"
	SeverityCritical Severity = "critical"
)

// VisitDelay describes one projected-late visit.
type VisitDelay struct {
	OrderID          string          `json:"order_id"`
	ClientID         string          `json:"client_id,omitempty"`
	PlannedArrival   time.Time       `json:"planned_arrival"`
	ProjectedArrival time.Time       `json:"projected_arrival"`
	Delay            config.Duration `json:"delay"`
	Severity         Severity        `json:"severity"`
}

// Notification is the envelope published to sinks. JSON field names are part
// of the downstream contract.
type Notification struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	AgentID string    `json:"agent_id"`
	RouteID string    `json:"route_id,omitempty"`
	At      time.Time `json:"at"`

	// Reason tags why a route changed (e.g. predicted_delay).
	Reason string `json:"reason,omitempty"`

	TotalPredictedDelay config.Duration `json:"total_predicted_delay,omitempty"`
	Delays              []VisitDelay    `json:"delays,omitempty"`

	// Solution and Geometry accompany ROUTE_UPDATED so downstream
	// transports can render the new plan without another round trip.
	Solution *vrp.Solution         `json:"solution,omitempty"`
	Geometry *matrix.RouteGeometry `json:"geometry,omitempty"`

	// Error carries the failure summary on REROUTE_FAILED.
	Error string `json:"error,omitempty"`
}

// New builds a notification envelope with a fresh id.
func New(kind Kind, agentID string, at time.Time) Notification {
	return Notification{
		ID:      uuid.NewString(),
		Kind:    kind,
		AgentID: agentID,
		At:      at,
	}
}

// Sink receives published notifications. Publish must not block the caller;
// delivery reliability is the sink's concern.
type Sink interface {
	Publish(n Notification)
}

// NoOp discards every notification.
type NoOp struct{}

func (NoOp) Publish(Notification) {}

// LogSink writes a one-line summary per notification. It backs deployments
// without an external transport and doubles as an audit trail.
type LogSink struct{}

func (LogSink) Publish(n Notification) {
	switch n.Kind {
	case KindRouteUpdated:
		log.Printf("[notify] %s agent=%s route=%s reason=%s solver=%s",
			n.Kind, n.AgentID, n.RouteID, n.Reason, solverOf(n))
	case KindDelayWarning, KindDelayCritical:
		log.Printf("[notify] %s agent=%s route=%s delay=%s visits=%d",
			n.Kind, n.AgentID, n.RouteID, n.TotalPredictedDelay.Std(), len(n.Delays))
	case KindRerouteFailed:
		log.Printf("[notify] %s agent=%s route=%s error=%s",
			n.Kind, n.AgentID, n.RouteID, n.Error)
	default:
		log.Printf("[notify] %s agent=%s", n.Kind, n.AgentID)
	}
}

func solverOf(n Notification) string {
	if n.Solution == nil {
		return ""
	}
	return string(n.Solution.SolverKind)
}

// ChannelSink hands notifications to a consumer over a buffered channel,
// dropping (and counting) when the consumer lags. In-process subscribers and
// tests use it.
type ChannelSink struct {
	ch      chan Notification
	dropped int64
}

// NewChannelSink creates a sink with the given buffer capacity.
func NewChannelSink(capacity int) *ChannelSink {
	if capacity <= 0 {
		capacity = 64
	}
	return &ChannelSink{ch: make(chan Notification, capacity)}
}

func (s *ChannelSink) Publish(n Notification) {
	select {
	case s.ch <- n:
	default:
		s.dropped++
		log.Printf("[notify] channel sink full, dropped %s for agent %s", n.Kind, n.AgentID)
	}
}

// C returns the receive side.
func (s *ChannelSink) C() <-chan Notification { return s.ch }

// Dropped returns how many notifications were discarded because the buffer
// was full. Not synchronized; call from the consuming goroutine.
func (s *ChannelSink) Dropped() int64 { return s.dropped }

// Multi fans one notification out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(n Notification) {
	for _, s := range m {
		if s != nil {
			s.Publish(n)
		}
	}
}
