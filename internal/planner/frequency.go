package planner

import (
	"sort"
	"time"

	"github.com/karavan-route/karavan/internal/model"
)

// WeekStart normalizes t to the Monday midnight of its ISO week, keeping the
// location.
func WeekStart(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(midnight.Weekday()) + 6) % 7 // Monday=0 .. Sunday=6
	return midnight.AddDate(0, 0, -offset)
}

// VisitDays returns the weekdays a client of the given tier is visited
// during the given ISO week. Tier A is Monday and Wednesday every week plus
// Friday on odd weeks, so the long-run mean is 2.5 visits per week and every
// rolling 7-day window holds at least two. Tier B is Monday; tier C is
// Monday on even weeks only.
func VisitDays(freq model.VisitFrequency, isoWeek int) []time.Weekday {
	switch freq {
	case model.FrequencyA:
		days := []time.Weekday{time.Monday, time.Wednesday}
		if isoWeek%2 == 1 {
			days = append(days, time.Friday)
		}
		return days
	case model.FrequencyB:
		return []time.Weekday{time.Monday}
	case model.FrequencyC:
		if isoWeek%2 == 0 {
			return []time.Weekday{time.Monday}
		}
		return nil
	default:
		return nil
	}
}

// visitRank orders clients when a day overflows: higher-frequency tiers keep
// their slot, lower tiers defer first.
func visitRank(freq model.VisitFrequency) int {
	switch freq {
	case model.FrequencyA:
		return 0
	case model.FrequencyB:
		return 1
	default:
		return 2
	}
}

// decompose buckets clients into the weekdays their tier prescribes for the
// week starting at monday. Within a day, clients sort by tier then id, the
// stable order later stages rely on.
func decompose(clients []model.Client, monday time.Time) map[time.Weekday][]model.Client {
	_, isoWeek := monday.ISOWeek()
	out := make(map[time.Weekday][]model.Client)
	for _, c := range clients {
		if !c.Active {
			continue
		}
		for _, d := range VisitDays(c.Frequency, isoWeek) {
			out[d] = append(out[d], c)
		}
	}
	for d := range out {
		day := out[d]
		sort.SliceStable(day, func(i, j int) bool {
			ri, rj := visitRank(day[i].Frequency), visitRank(day[j].Frequency)
			if ri != rj {
				return ri < rj
			}
			return day[i].ID < day[j].ID
		})
	}
	return out
}

// workWeek is the deferral order for overflow: Monday through Saturday,
// Sunday is never planned.
var workWeek = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday,
	time.Thursday, time.Friday, time.Saturday,
}

// capDays enforces the per-day visit budget. Overflowing clients defer to
// the next workday with room, lowest tier first; clients that fit nowhere in
// the week come back as unplanned. A client never appears twice on one day.
func capDays(days map[time.Weekday][]model.Client, maxPerDay int) (map[time.Weekday][]model.Client, []string) {
	var unplanned []string
	for di, d := range workWeek {
		day := days[d]
		if len(day) <= maxPerDay {
			continue
		}
		keep := day[:maxPerDay]
		for _, c := range day[maxPerDay:] {
			placed := false
			for _, nd := range workWeek[di+1:] {
				if len(days[nd]) >= maxPerDay || containsClient(days[nd], c.ID) {
					continue
				}
				days[nd] = append(days[nd], c)
				placed = true
				break
			}
			if !placed {
				unplanned = append(unplanned, c.ID)
			}
		}
		days[d] = keep
	}
	sort.Strings(unplanned)
	return days, unplanned
}

func containsClient(clients []model.Client, id string) bool {
	for _, c := range clients {
		if c.ID == id {
			return true
		}
	}
	return false
}
