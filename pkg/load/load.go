// Package load tracks how many active tasks fall on each day of the planning
// horizon and picks the day a new task should go to.
package load

import (
	"math"
	"time"

	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/priority"
)

const (
	DefaultHorizonDays = 60
	DefaultCap         = 3
)

// Map holds a task count per day, starting at the first day of the horizon.
// It is rebuilt from a full snapshot on every run and never persisted.
type Map struct {
	start  time.Time
	counts []int
	limit  int
	loc    *time.Location
}

// Build counts every active task due inside [today, today+horizonDays).
func Build(tasks []model.Task, today time.Time, horizonDays, limit int, loc *time.Location) *Map {
	if loc == nil {
		loc = time.Local
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	if limit <= 0 {
		limit = DefaultCap
	}
	m := &Map{
		start:  model.Day(today, loc),
		counts: make([]int, horizonDays),
		limit:  limit,
		loc:    loc,
	}
	for _, t := range tasks {
		if t.IsActive() && t.HasDueDate() {
			m.Increment(t.DueDate)
		}
	}
	return m
}

func (m *Map) index(day time.Time) (int, bool) {
	d := model.Day(day, m.loc)
	i := int(math.Round(d.Sub(m.start).Hours() / 24))
	return i, i >= 0 && i < len(m.counts)
}

// Day returns the date at horizon index i.
func (m *Map) Day(i int) time.Time {
	return m.start.AddDate(0, 0, i)
}

func (m *Map) Len() int {
	return len(m.counts)
}

func (m *Map) Cap() int {
	return m.limit
}

// Count returns the load of day, 0 outside the horizon.
func (m *Map) Count(day time.Time) int {
	if i, ok := m.index(day); ok {
		return m.counts[i]
	}
	return 0
}

// Increment records one more task on day. Days outside the horizon are ignored.
func (m *Map) Increment(day time.Time) {
	if i, ok := m.index(day); ok {
		m.counts[i]++
	}
}

func (m *Map) Decrement(day time.Time) {
	if i, ok := m.index(day); ok && m.counts[i] > 0 {
		m.counts[i]--
	}
}

// Max returns the highest load across the horizon.
func (m *Map) Max() int {
	highest := 0
	for _, c := range m.counts {
		if c > highest {
			highest = c
		}
	}
	return highest
}

// Overloaded returns the days whose load exceeds the cap, in date order.
func (m *Map) Overloaded() []time.Time {
	var days []time.Time
	for i, c := range m.counts {
		if c > m.limit {
			days = append(days, m.Day(i))
		}
	}
	return days
}

// PickLeastLoadedDay chooses a day for a task of the given tier. Only days where
// one more task keeps the load within the cap qualify; when none do, the globally
// least-loaded day is returned. The caller increments the chosen day.
func (m *Map) PickLeastLoadedDay(tier priority.Tier) time.Time {
	return m.pick(tier, -1)
}

// PickExcluding is PickLeastLoadedDay with one day removed from consideration.
func (m *Map) PickExcluding(tier priority.Tier, exclude time.Time) time.Time {
	skip := -1
	if i, ok := m.index(exclude); ok {
		skip = i
	}
	return m.pick(tier, skip)
}

func (m *Map) pick(tier priority.Tier, skip int) time.Time {
	var qualifying []int
	for i, c := range m.counts {
		if i != skip && c <= m.limit-1 {
			qualifying = append(qualifying, i)
		}
	}
	if len(qualifying) == 0 {
		return m.Day(m.leastLoaded(skip))
	}

	switch tier {
	case priority.P1Critical, priority.P2High:
		// For P2 the first qualifying day is inside the first week whenever the
		// week has room, and otherwise the earliest one further out.
		return m.Day(qualifying[0])
	default:
		return m.Day(qualifying[len(qualifying)/2])
	}
}

func (m *Map) leastLoaded(skip int) int {
	best := -1
	for i, c := range m.counts {
		if i == skip {
			continue
		}
		if best < 0 || c < m.counts[best] {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	return best
}
