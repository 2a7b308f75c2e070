// Package pipeline coordinates the runtime event stream: GPS fixes, traffic
// updates, order cancellations and visit completions flow through one bounded
// priority queue into a worker pool that dispatches to registered handlers.
// Submission is non-blocking; a saturated queue is reported, never silently
// dropped.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/karavan-route/karavan/internal/geo"
)

// Kind names an inbound event type. Each kind has exactly one handler.
type Kind string

const (
	KindGPS           Kind = "GPS"
	KindTraffic       Kind = "TRAFFIC"
	KindOrderCancel   Kind = "ORDER_CANCEL"
	KindVisitComplete Kind = "VISIT_COMPLETE"
)

// IsValid reports whether the value names a known event kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindGPS, KindTraffic, KindOrderCancel, KindVisitComplete:
		return true
	}
	return false
}

// Priority orders queue dispatch. Higher values pop first; within one
// priority, events dispatch in submission order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority name used in logs.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Event is one unit of work on the queue. Seq is assigned at submission and
// breaks priority ties FIFO; Attempts counts deliveries for the retry policy.
type Event struct {
	ID       string
	Kind     Kind
	Priority Priority
	// AgentID scopes the event to one agent where that applies; traffic
	// events carry a region in their payload instead.
	AgentID string
	At      time.Time
	Payload any

	seq      uint64
	attempts int
}

// Attempt returns how many times the event has been handed to a handler.
func (e Event) Attempt() int { return e.attempts }

// NewEvent builds an event envelope with a fresh id.
func NewEvent(kind Kind, priority Priority, agentID string, payload any) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Priority: priority,
		AgentID:  agentID,
		At:       time.Now(),
		Payload:  payload,
	}
}

// GPSFix is the payload of a KindGPS event.
type GPSFix struct {
	AgentID  string         `json:"agent_id"`
	Position geo.Coordinate `json:"position"`
	SpeedMPS float64        `json:"speed_mps,omitempty"`
	At       time.Time      `json:"at"`
}

// TrafficUpdate is the payload of a KindTraffic event: a live multiplier
// override for a region, valid for TTL.
type TrafficUpdate struct {
	Region     string        `json:"region"`
	Multiplier float64       `json:"multiplier"`
	TTL        time.Duration `json:"ttl"`
}

// OrderCancel is the payload of a KindOrderCancel event.
type OrderCancel struct {
	OrderID string `json:"order_id"`
	AgentID string `json:"agent_id"`
}

// VisitComplete is the payload of a KindVisitComplete event.
type VisitComplete struct {
	OrderID string    `json:"order_id"`
	AgentID string    `json:"agent_id"`
	At      time.Time `json:"at"`
}
