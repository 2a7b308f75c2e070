package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/karavan-route/karavan/internal/model"
	"github.com/karavan-route/karavan/internal/testutil"
)

func TestWeekStart(t *testing.T) {
	thursday := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, testutil.Day, WeekStart(thursday))
	// A Monday maps to itself at midnight.
	assert.Equal(t, testutil.Day, WeekStart(testutil.Day.Add(7*time.Hour)))
	// Sunday belongs to the week that started six days earlier.
	sunday := time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, testutil.Day, WeekStart(sunday))
}

func TestVisitDays(t *testing.T) {
	tests := []struct {
		name    string
		freq    model.VisitFrequency
		isoWeek int
		want    []time.Weekday
	}{
		{"A even week", model.FrequencyA, 10, []time.Weekday{time.Monday, time.Wednesday}},
		{"A odd week", model.FrequencyA, 11, []time.Weekday{time.Monday, time.Wednesday, time.Friday}},
		{"B any week", model.FrequencyB, 11, []time.Weekday{time.Monday}},
		{"C even week", model.FrequencyC, 10, []time.Weekday{time.Monday}},
		{"C odd week", model.FrequencyC, 11, nil},
		{"unknown tier", model.VisitFrequency("X"), 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VisitDays(tt.freq, tt.isoWeek))
		})
	}
}

// Tier A averages 2.5 visits per week over two consecutive weeks and never
// leaves a Monday-to-Sunday stretch with fewer than two visits.
func TestTierAMeanVisits(t *testing.T) {
	total := 0
	for week := 1; week <= 52; week++ {
		days := VisitDays(model.FrequencyA, week)
		assert.GreaterOrEqual(t, len(days), 2)
		total += len(days)
	}
	assert.InDelta(t, 2.5, float64(total)/52, 0.01)
}

func TestDecomposeOrdersByTierThenID(t *testing.T) {
	clients := []model.Client{
		testutil.Client("c-9", "a1", model.FrequencyC, 1, 0),
		testutil.Client("b-2", "a1", model.FrequencyB, 2, 0),
		testutil.Client("a-5", "a1", model.FrequencyA, 3, 0),
		testutil.Client("b-1", "a1", model.FrequencyB, 4, 0),
	}
	inactive := testutil.Client("a-0", "a1", model.FrequencyA, 5, 0)
	inactive.Active = false
	clients = append(clients, inactive)

	days := decompose(clients, testutil.Day) // even ISO week: C visits too
	monday := days[time.Monday]
	ids := make([]string, len(monday))
	for i, c := range monday {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"a-5", "b-1", "b-2", "c-9"}, ids)
	// Tier A alone on Wednesday.
	assert.Len(t, days[time.Wednesday], 1)
	assert.Equal(t, "a-5", days[time.Wednesday][0].ID)
}

func TestCapDaysDefersOverflowForward(t *testing.T) {
	days := map[time.Weekday][]model.Client{
		time.Monday: {
			testutil.Client("a-1", "a1", model.FrequencyA, 1, 0),
			testutil.Client("b-1", "a1", model.FrequencyB, 2, 0),
			testutil.Client("c-1", "a1", model.FrequencyC, 3, 0),
			testutil.Client("c-2", "a1", model.FrequencyC, 4, 0),
		},
	}
	capped, unplanned := capDays(days, 2)
	assert.Empty(t, unplanned)
	assert.Len(t, capped[time.Monday], 2)
	assert.Equal(t, "a-1", capped[time.Monday][0].ID)
	assert.Len(t, capped[time.Tuesday], 2)
}

func TestCapDaysReportsUnplannable(t *testing.T) {
	days := make(map[time.Weekday][]model.Client)
	// 6 workdays x 1 slot, 8 clients on Monday: two fit nowhere.
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		days[time.Monday] = append(days[time.Monday],
			testutil.Client("c-"+id, "a1", model.FrequencyB, i+1, 0))
	}
	capped, unplanned := capDays(days, 1)
	assert.Len(t, unplanned, 2)
	for _, d := range workWeek {
		assert.Len(t, capped[d], 1)
	}
}
