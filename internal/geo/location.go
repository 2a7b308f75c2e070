package geo

import (
	"fmt"
	"time"
)

// DefaultServiceMinutes is assumed when a location does not specify how long
// a visit takes.
const DefaultServiceMinutes = 15

// TimeWindow bounds when a visit may start. Zero values mean unbounded on
// that side.
type TimeWindow struct {
	Earliest time.Time `json:"earliest,omitzero"`
	Latest   time.Time `json:"latest,omitzero"`
}

// IsZero reports whether no window is set.
func (w TimeWindow) IsZero() bool {
	return w.Earliest.IsZero() && w.Latest.IsZero()
}

// Validate rejects inverted windows.
func (w TimeWindow) Validate() error {
	if w.Earliest.IsZero() || w.Latest.IsZero() {
		return nil
	}
	if w.Latest.Before(w.Earliest) {
		return fmt.Errorf("geo: time window latest %s before earliest %s",
			w.Latest.Format(time.RFC3339), w.Earliest.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t falls inside the window (inclusive bounds).
// Unset sides are treated as open.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Earliest.IsZero() && t.Before(w.Earliest) {
		return false
	}
	if !w.Latest.IsZero() && t.After(w.Latest) {
		return false
	}
	return true
}

// Span returns the window width, or 0 when either side is open.
func (w TimeWindow) Span() time.Duration {
	if w.Earliest.IsZero() || w.Latest.IsZero() {
		return 0
	}
	return w.Latest.Sub(w.Earliest)
}

// WindowFromMinutes builds a TimeWindow from minutes-from-midnight offsets
// on the given day. Used when upstream data carries windows as day-relative
// minutes rather than absolute timestamps.
func WindowFromMinutes(day time.Time, earliestMin, latestMin int) TimeWindow {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return TimeWindow{
		Earliest: midnight.Add(time.Duration(earliestMin) * time.Minute),
		Latest:   midnight.Add(time.Duration(latestMin) * time.Minute),
	}
}

// Location is a coordinate plus visit metadata.
type Location struct {
	Coordinate
	// ServiceMinutes is how long a visit occupies the vehicle at this
	// location. Zero means DefaultServiceMinutes.
	ServiceMinutes int        `json:"service_minutes,omitempty"`
	Window         TimeWindow `json:"time_window,omitzero"`
}

// ServiceDuration returns the effective on-site duration.
func (l Location) ServiceDuration() time.Duration {
	m := l.ServiceMinutes
	if m <= 0 {
		m = DefaultServiceMinutes
	}
	return time.Duration(m) * time.Minute
}

// Validate checks the coordinate and window.
func (l Location) Validate() error {
	if err := l.Coordinate.Validate(); err != nil {
		return err
	}
	if l.ServiceMinutes < 0 {
		return fmt.Errorf("geo: negative service minutes %d", l.ServiceMinutes)
	}
	return l.Window.Validate()
}
