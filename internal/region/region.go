// Package region carries per-city operating profiles: traffic multipliers by
// time of day, forbidden service bands, summer working hours, and regional
// service-time defaults. Every value is configuration loaded from YAML — the
// embedded sample ships Central Asia defaults — and the Service hot-reloads
// profiles behind an RWMutex. Live traffic overrides arriving through the
// event pipeline sit on top of the profile values with their own expiry.
package region

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"gopkg.in/yaml.v3"

	"github.com/karavan-route/karavan/internal/clock"
	"github.com/karavan-route/karavan/internal/config"
	"github.com/karavan-route/karavan/internal/geo"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// MinuteOfDay is a clock time stored as minutes from midnight, parsed from
// "HH:MM" in YAML.
type MinuteOfDay int

func (m *MinuteOfDay) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("clock time must be a string: %w", err)
	}
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid clock time %q (want HH:MM): %w", s, err)
	}
	*m = MinuteOfDay(t.Hour()*60 + t.Minute())
	return nil
}

// Minutes returns the plain int value.
func (m MinuteOfDay) Minutes() int { return int(m) }

// Weekdays is a set of weekdays parsed from short names (mon..sun). Empty
// means every day.
type Weekdays []time.Weekday

var weekdayNames = map[string]time.Weekday{
	"mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	"sun": time.Sunday,
}

func (w *Weekdays) UnmarshalYAML(node *yaml.Node) error {
	var names []string
	if err := node.Decode(&names); err != nil {
		return fmt.Errorf("days must be a string list: %w", err)
	}
	out := make(Weekdays, 0, len(names))
	for _, n := range names {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return fmt.Errorf("unknown weekday %q (want mon..sun)", n)
		}
		out = append(out, d)
	}
	*w = out
	return nil
}

// Matches reports whether d is in the set; an empty set matches every day.
func (w Weekdays) Matches(d time.Weekday) bool {
	if len(w) == 0 {
		return true
	}
	for _, wd := range w {
		if wd == d {
			return true
		}
	}
	return false
}

// TrafficBand scales travel durations inside a daily interval.
type TrafficBand struct {
	Days       Weekdays    `yaml:"days"`
	From       MinuteOfDay `yaml:"from"`
	To         MinuteOfDay `yaml:"to"`
	Multiplier float64     `yaml:"multiplier"`
}

// covers reports whether the band applies at the given local time.
func (b TrafficBand) covers(at time.Time) bool {
	if !b.Days.Matches(at.Weekday()) {
		return false
	}
	m := MinuteOfDay(at.Hour()*60 + at.Minute())
	return m >= b.From && m < b.To
}

// ForbiddenBand is a daily interval during which no visit may start
// (lunch closures, Friday prayer).
type ForbiddenBand struct {
	Days  Weekdays    `yaml:"days"`
	From  MinuteOfDay `yaml:"from"`
	To    MinuteOfDay `yaml:"to"`
	Label string      `yaml:"label"`
}

// SummerHours shifts the working window during hot months.
type SummerHours struct {
	Months     []time.Month `yaml:"months"`
	ShiftStart MinuteOfDay  `yaml:"shift_start"`
	ShiftEnd   MinuteOfDay  `yaml:"shift_end"`
}

// active reports whether the summer schedule applies on the given day.
func (s *SummerHours) active(day time.Time) bool {
	if s == nil {
		return false
	}
	for _, m := range s.Months {
		if m == day.Month() {
			return true
		}
	}
	return false
}

// Profile is one region's operating rules.
type Profile struct {
	Name               string          `yaml:"-"`
	DefaultServiceTime config.Duration `yaml:"default_service_time"`
	Traffic            []TrafficBand   `yaml:"traffic"`
	Forbidden          []ForbiddenBand `yaml:"forbidden"`
	Summer             *SummerHours    `yaml:"summer"`
}

type profileFile struct {
	Regions map[string]Profile `yaml:"regions"`
}

// ParseProfiles decodes a profile YAML document and validates it.
func ParseProfiles(data []byte) (map[string]Profile, error) {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("region: parse profiles: %w", err)
	}
	if len(f.Regions) == 0 {
		return nil, fmt.Errorf("region: profile file defines no regions")
	}
	out := make(map[string]Profile, len(f.Regions))
	for name, p := range f.Regions {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("region: empty region name")
		}
		p.Name = key
		for i, b := range p.Traffic {
			if b.Multiplier <= 0 {
				return nil, fmt.Errorf("region %s: traffic band %d: multiplier must be positive, got %g", key, i, b.Multiplier)
			}
			if b.From >= b.To {
				return nil, fmt.Errorf("region %s: traffic band %d: empty interval %d-%d", key, i, b.From, b.To)
			}
		}
		for i, b := range p.Forbidden {
			if b.From >= b.To {
				return nil, fmt.Errorf("region %s: forbidden band %d: empty interval %d-%d", key, i, b.From, b.To)
			}
		}
		if p.Summer != nil && p.Summer.ShiftStart >= p.Summer.ShiftEnd {
			return nil, fmt.Errorf("region %s: summer shift %d-%d inverted", key, p.Summer.ShiftStart, p.Summer.ShiftEnd)
		}
		out[key] = p
	}
	return out, nil
}

// override is a live multiplier adjustment from traffic events.
type override struct {
	multiplier float64
	until      time.Time
}

// Service serves regional profiles with hot reload and live traffic
// overrides. Lookups for unknown regions fall back to neutral values so a
// misconfigured agent degrades to unadjusted routing instead of failing.
type Service struct {
	mu       sync.RWMutex
	profiles map[string]Profile

	path string
	clk  clock.Clock

	overrides *xsync.Map[string, override]
}

// New loads profiles from path, or the embedded defaults when path is empty.
func New(path string, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.System()
	}
	s := &Service{
		path:      path,
		clk:       clk,
		overrides: xsync.NewMap[string, override](),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profile source and swaps the table in place. Readers
// in flight keep the old table; no lookup ever observes a partial load.
func (s *Service) Reload() error {
	data := defaultsYAML
	src := "embedded defaults"
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return fmt.Errorf("region: read %s: %w", s.path, err)
		}
		data, src = b, s.path
	}
	profiles, err := ParseProfiles(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	log.Printf("[region] loaded %d profiles from %s", len(profiles), src)
	return nil
}

// Profile returns the named region's profile.
func (s *Service) Profile(region string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[strings.ToLower(region)]
	return p, ok
}

// Regions lists the loaded region names, sorted.
func (s *Service) Regions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TrafficMultiplier returns the travel-duration scale for a region at a
// local time. Live overrides win over profile bands; no match means 1.0.
func (s *Service) TrafficMultiplier(region string, at time.Time) float64 {
	key := strings.ToLower(region)
	if ov, ok := s.overrides.Load(key); ok {
		if s.clk.Now().Before(ov.until) {
			return ov.multiplier
		}
		s.overrides.Delete(key)
	}
	p, ok := s.Profile(key)
	if !ok {
		return 1.0
	}
	for _, b := range p.Traffic {
		if b.covers(at) {
			return b.Multiplier
		}
	}
	return 1.0
}

// SetTrafficOverride pins a region's multiplier until ttl elapses,
// overriding profile bands. Traffic events feed this.
func (s *Service) SetTrafficOverride(region string, multiplier float64, ttl time.Duration) {
	if multiplier <= 0 || ttl <= 0 {
		return
	}
	s.overrides.Store(strings.ToLower(region), override{
		multiplier: multiplier,
		until:      s.clk.Now().Add(ttl),
	})
}

// ClearTrafficOverride removes a live override, returning the region to its
// profile bands.
func (s *Service) ClearTrafficOverride(region string) {
	s.overrides.Delete(strings.ToLower(region))
}

// ForbiddenWindows materializes the region's forbidden bands for a calendar
// day as absolute time windows, in band order.
func (s *Service) ForbiddenWindows(region string, day time.Time) []geo.TimeWindow {
	p, ok := s.Profile(region)
	if !ok {
		return nil
	}
	var out []geo.TimeWindow
	for _, b := range p.Forbidden {
		if !b.Days.Matches(day.Weekday()) {
			continue
		}
		out = append(out, geo.WindowFromMinutes(day, b.From.Minutes(), b.To.Minutes()))
	}
	return out
}

// SummerShift returns the adjusted working window for the day when the
// region's summer schedule applies.
func (s *Service) SummerShift(region string, day time.Time) (startMin, endMin int, ok bool) {
	p, found := s.Profile(region)
	if !found || !p.Summer.active(day) {
		return 0, 0, false
	}
	return p.Summer.ShiftStart.Minutes(), p.Summer.ShiftEnd.Minutes(), true
}

// DefaultServiceMinutes returns the region's service-time default, or zero
// when the profile does not set one.
func (s *Service) DefaultServiceMinutes(region string) int {
	p, ok := s.Profile(region)
	if !ok || p.DefaultServiceTime <= 0 {
		return 0
	}
	return int(p.DefaultServiceTime.Std() / time.Minute)
}
