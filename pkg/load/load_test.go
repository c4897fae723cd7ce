package load

import (
	"testing"
	"time"

	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/priority"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	utc   = time.UTC
	today = time.Date(2026, 10, 19, 15, 30, 0, 0, utc)
)

func day(offset int) time.Time {
	return time.Date(2026, 10, 19+offset, 0, 0, 0, 0, utc)
}

func TestBuildCountsActiveTasksInHorizon(t *testing.T) {
	tasks := []model.Task{
		{ID: "a", DueDate: day(0).Add(9 * time.Hour)},
		{ID: "b", DueDate: day(0)},
		{ID: "c", DueDate: day(2)},
		{ID: "done", DueDate: day(2), Status: model.StatusCompleted},
		{ID: "undated"},
		{ID: "past", DueDate: day(-1)},
		{ID: "beyond", DueDate: day(60)},
	}
	m := Build(tasks, today, 60, 3, utc)

	assert.Equal(t, 60, m.Len())
	assert.Equal(t, 2, m.Count(day(0)))
	assert.Equal(t, 1, m.Count(day(2)))
	assert.Equal(t, 0, m.Count(day(1)))
	assert.Equal(t, 0, m.Count(day(60)))
	assert.Equal(t, 2, m.Max())
}

func TestPickByTier(t *testing.T) {
	var tasks []model.Task
	for i := 0; i < 3; i++ {
		tasks = append(tasks, model.Task{DueDate: day(0)}, model.Task{DueDate: day(1)})
	}
	m := Build(tasks, today, 10, 3, utc)

	assert.True(t, m.PickLeastLoadedDay(priority.P1Critical).Equal(day(2)))
	assert.True(t, m.PickLeastLoadedDay(priority.P2High).Equal(day(2)))
	// qualifying days are 2..9, midpoint index 4 -> day 6
	assert.True(t, m.PickLeastLoadedDay(priority.P3Medium).Equal(day(6)))
	assert.True(t, m.PickLeastLoadedDay(priority.P4Low).Equal(day(6)))
}

func TestPickHighTierBeyondFirstWeek(t *testing.T) {
	var tasks []model.Task
	for d := 0; d < 9; d++ {
		for i := 0; i < 3; i++ {
			tasks = append(tasks, model.Task{DueDate: day(d)})
		}
	}
	m := Build(tasks, today, 20, 3, utc)
	assert.True(t, m.PickLeastLoadedDay(priority.P2High).Equal(day(9)))
}

func TestPickFallsBackToLeastLoaded(t *testing.T) {
	var tasks []model.Task
	for d := 0; d < 5; d++ {
		n := 4
		if d == 3 {
			n = 3
		}
		for i := 0; i < n; i++ {
			tasks = append(tasks, model.Task{DueDate: day(d)})
		}
	}
	m := Build(tasks, today, 5, 3, utc)
	assert.True(t, m.PickLeastLoadedDay(priority.P1Critical).Equal(day(3)))
	assert.True(t, m.PickLeastLoadedDay(priority.P4Low).Equal(day(3)))
	assert.Len(t, m.Overloaded(), 4)
}

func TestPickExcluding(t *testing.T) {
	m := Build(nil, today, 5, 3, utc)
	assert.True(t, m.PickExcluding(priority.P1Critical, day(0)).Equal(day(1)))
	assert.True(t, m.PickExcluding(priority.P1Critical, day(3)).Equal(day(0)))
}

func TestIncrementDecrement(t *testing.T) {
	m := Build(nil, today, 5, 3, utc)
	m.Increment(day(1).Add(17 * time.Hour))
	m.Increment(day(1))
	assert.Equal(t, 2, m.Count(day(1)))
	m.Decrement(day(1))
	m.Decrement(day(1))
	m.Decrement(day(1))
	assert.Equal(t, 0, m.Count(day(1)))
	m.Increment(day(10))
	assert.Equal(t, 0, m.Max())
}

func TestSequentialPicksRespectCapUntilSaturated(t *testing.T) {
	tiers := []priority.Tier{priority.P1Critical, priority.P2High, priority.P3Medium, priority.P4Low}

	for _, tier := range append(tiers, 0) {
		m := Build(nil, today, 60, 3, utc)
		for i := 0; i < 200; i++ {
			pickTier := tier
			if tier == 0 {
				pickTier = tiers[i%len(tiers)]
			}
			chosen := m.PickLeastLoadedDay(pickTier)
			m.Increment(chosen)
			if i < 180 {
				require.LessOrEqual(t, m.Max(), 3, "tier %v pick %d", tier, i)
			}
		}
		assert.Equal(t, 4, m.Max(), "saturated horizon spills over the cap")
	}
}
