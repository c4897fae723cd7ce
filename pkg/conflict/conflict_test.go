package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paris, _ = time.LoadLocation("Europe/Paris")

// 2026-10-19 is a Monday.
func at(day, hour, min int) time.Time {
	return time.Date(2026, 10, 19+day, hour, min, 0, 0, paris)
}

func newTestResolver() *Resolver {
	cfg := slot.DefaultConfig()
	cfg.Location = paris
	f := slot.NewFinder(cfg, slot.DefaultVocabulary())
	f.Now = func() time.Time { return at(0, 7, 0) }
	return NewResolver(DefaultVocabulary(), f, 14, paris)
}

func ev(id, summary string, start time.Time, d time.Duration, created time.Time) model.Event {
	return model.Event{ID: id, Summary: summary, Start: start, End: start.Add(d), Created: created}
}

func TestWorkSessionWithNestedCallIsCohesive(t *testing.T) {
	r := newTestResolver()
	events := []model.Event{
		ev("s", "Session CRM matinale", at(0, 9, 0), 2*time.Hour, at(-3, 10, 0)),
		ev("c", "Appel prospect Dupont", at(0, 9, 30), 15*time.Minute, at(-1, 10, 0)),
	}
	require.Len(t, DetectOverlaps(events), 1)
	assert.True(t, r.Cohesive(events[0], events[1]))
	assert.True(t, r.Cohesive(events[1], events[0]))
	assert.Empty(t, r.Plan(events))
}

func TestEqualPriorityMovesMostRecentlyCreated(t *testing.T) {
	r := newTestResolver()
	x := ev("x", "Réunion X", at(0, 9, 0), time.Hour, at(-5, 8, 0))
	y := ev("y", "Réunion Y", at(0, 9, 30), time.Hour, at(-2, 8, 0))

	actions := r.Plan([]model.Event{y, x})
	require.Len(t, actions, 1)
	a := actions[0]
	assert.Equal(t, "y", a.Event.ID)
	assert.Equal(t, ReasonOverlap, a.Reason)
	require.NotNil(t, a.Other)
	assert.Equal(t, "x", a.Other.ID)
	require.NotNil(t, a.Slot)
	assert.True(t, a.Slot.Start.Equal(at(0, 10, 0)), "got %v", a.Slot.Start)
	assert.Equal(t, time.Hour, a.Slot.End.Sub(a.Slot.Start))
}

func TestLowerPriorityEventMoves(t *testing.T) {
	r := newTestResolver()
	lunch := ev("l", "Déjeuner équipe", at(0, 12, 0), time.Hour, at(-10, 8, 0))
	call := ev("c", "Appel client Martin", at(0, 12, 30), 30*time.Minute, at(-1, 8, 0))

	a := r.Resolve(Pair{A: lunch, B: call}, []model.Event{lunch, call})
	require.NotNil(t, a)
	assert.Equal(t, "l", a.Event.ID)
	assert.Equal(t, 5, r.Priority(call))
	assert.Equal(t, 3, r.Priority(lunch))
	assert.Equal(t, 1, r.Priority(model.Event{Summary: "Point hebdo"}))
}

func TestEqualCreationMovesLaterStart(t *testing.T) {
	r := newTestResolver()
	created := at(-1, 8, 0)
	a := ev("a", "Réunion A", at(0, 9, 0), time.Hour, created)
	b := ev("b", "Réunion B", at(0, 9, 30), time.Hour, created)

	action := r.Resolve(Pair{A: a, B: b}, nil)
	require.NotNil(t, action)
	assert.Equal(t, "b", action.Event.ID)
}

func TestOverlapDetectionIsSymmetric(t *testing.T) {
	a := ev("a", "A", at(0, 9, 0), time.Hour, time.Time{})
	b := ev("b", "B", at(0, 9, 30), time.Hour, time.Time{})
	touching := ev("t", "T", at(0, 10, 30), time.Hour, time.Time{})

	forward := DetectOverlaps([]model.Event{a, b, touching})
	backward := DetectOverlaps([]model.Event{touching, b, a})
	require.Len(t, forward, 1)
	require.Len(t, backward, 1)
	assert.Equal(t, forward[0].A.ID, backward[0].A.ID)
	assert.Equal(t, forward[0].B.ID, backward[0].B.ID)

	assert.Empty(t, DetectOverlaps([]model.Event{a, ev("n", "N", at(0, 10, 0), time.Hour, time.Time{})}),
		"touching events do not overlap")
}

func TestAllDayEventsNeverConflict(t *testing.T) {
	allDay := model.Event{ID: "d", Summary: "Congés", Start: at(0, 0, 0), End: at(1, 0, 0), AllDay: true}
	timed := ev("t", "Réunion", at(0, 9, 0), time.Hour, time.Time{})
	assert.Empty(t, DetectOverlaps([]model.Event{allDay, timed}))
}

func TestPlanMovesEachEventOnceAndAvoidsItsOwnPicks(t *testing.T) {
	r := newTestResolver()
	events := []model.Event{
		ev("a", "Réunion A", at(0, 9, 0), 2*time.Hour, at(-3, 8, 0)),
		ev("b", "Réunion B", at(0, 9, 30), time.Hour, at(-2, 8, 0)),
		ev("c", "Réunion C", at(0, 10, 0), time.Hour, at(-1, 8, 0)),
	}
	actions := r.Plan(events)
	require.Len(t, actions, 2)
	assert.Equal(t, "b", actions[0].Event.ID)
	assert.Equal(t, "c", actions[1].Event.ID)

	first, second := actions[0].Slot, actions[1].Slot
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.True(t, first.Start.Equal(at(0, 11, 0)), "got %v", first.Start)
	assert.False(t, first.Start.Before(second.End) && second.Start.Before(first.End))
}

func TestMidnightAnomalies(t *testing.T) {
	r := newTestResolver()
	midnight := ev("m", "Rapport mensuel", at(1, 0, 0), 30*time.Minute, time.Time{})
	lateNight := ev("l", "Relance devis", at(1, 23, 59), time.Minute, time.Time{})
	fine := ev("f", "Réunion", at(1, 0, 1), time.Hour, time.Time{})
	allDay := model.Event{ID: "d", Summary: "Férié", Start: at(1, 0, 0), End: at(2, 0, 0), AllDay: true}

	assert.True(t, IsMidnightAnomaly(midnight, paris))
	assert.True(t, IsMidnightAnomaly(lateNight, paris))
	assert.False(t, IsMidnightAnomaly(fine, paris))
	assert.False(t, IsMidnightAnomaly(allDay, paris))
	assert.True(t, IsMidnightAnomaly(model.Event{Start: at(1, 0, 0).UTC(), End: at(1, 1, 0)}, paris),
		"checked in the local zone")

	actions := r.Plan([]model.Event{midnight, allDay})
	require.Len(t, actions, 1)
	assert.Equal(t, ReasonMidnight, actions[0].Reason)
	assert.Nil(t, actions[0].Other)
	require.NotNil(t, actions[0].Slot)
	assert.True(t, actions[0].Slot.Start.Equal(at(1, 8, 0)), "got %v", actions[0].Slot.Start)
}

func TestRelocationNeverGoesBeforeNow(t *testing.T) {
	r := newTestResolver()
	afternoon := at(0, 15, 0)
	r.finder.Now = func() time.Time { return afternoon }

	x := ev("x", "Réunion X", at(0, 9, 0), time.Hour, at(-5, 8, 0))
	y := ev("y", "Réunion Y", at(0, 9, 30), time.Hour, at(-2, 8, 0))
	report := ev("r", "Rapport", at(0, 0, 0), 30*time.Minute, at(-1, 8, 0))

	actions := r.Plan([]model.Event{x, y, report})
	require.Len(t, actions, 2)
	for _, a := range actions {
		require.NotNil(t, a.Slot, a.Event.ID)
		assert.False(t, a.Slot.Start.Before(afternoon), "%s moved to %v", a.Event.ID, a.Slot.Start)
		assert.True(t, model.Day(a.Slot.Start, paris).Equal(model.Day(afternoon, paris)), a.Event.ID)
	}
	byID := map[string]Action{}
	for _, a := range actions {
		byID[a.Event.ID] = a
	}
	require.Contains(t, byID, "y")
	require.Contains(t, byID, "r")
	assert.Equal(t, ReasonMidnight, byID["r"].Reason)
	assert.False(t, byID["y"].Slot.Start.Before(afternoon))
	assert.False(t, byID["r"].Slot.Start.Before(byID["y"].Slot.End) && byID["y"].Slot.Start.Before(byID["r"].Slot.End),
		"planned moves do not overlap each other")
}

type fakeUpdater struct {
	patches map[string]model.EventPatch
	fail    map[string]bool
}

func (f *fakeUpdater) UpdateEvent(_ context.Context, _, eventID string, patch model.EventPatch) (model.Event, error) {
	if f.fail[eventID] {
		return model.Event{}, errors.New("backend unavailable")
	}
	f.patches[eventID] = patch
	return model.Event{ID: eventID, Start: patch.Start, End: patch.End}, nil
}

func TestApplyCountsOutcomes(t *testing.T) {
	r := newTestResolver()
	store := &fakeUpdater{patches: map[string]model.EventPatch{}, fail: map[string]bool{"bad": true}}
	target := &slot.Slot{Start: at(0, 14, 0), End: at(0, 15, 0)}

	rep := r.Apply(context.Background(), store, "primary", []Action{
		{Event: model.Event{ID: "ok"}, Slot: target},
		{Event: model.Event{ID: "bad"}, Slot: target},
		{Event: model.Event{ID: "none"}},
	})
	assert.Equal(t, ApplyReport{Moved: 1, Unplaced: 1, Failed: 1}, rep)
	require.Contains(t, store.patches, "ok")
	assert.True(t, store.patches["ok"].Start.Equal(target.Start))
	assert.Empty(t, store.patches["ok"].Summary, "only the time window is patched")
}
