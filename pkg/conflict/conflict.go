// Package conflict finds double-booked calendar events and decides which one moves.
package conflict

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/harrisonrobin/tempo/pkg/keywords"
	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/priority"
	"github.com/harrisonrobin/tempo/pkg/slot"
)

type Reason string

const (
	ReasonOverlap  Reason = "overlap"
	ReasonMidnight Reason = "midnight"
)

// Pair is two overlapping events, A starting first.
type Pair struct {
	A model.Event
	B model.Event
}

// Action moves Event to Slot. Slot is nil when no replacement was found.
type Action struct {
	Event  model.Event
	Reason Reason
	Other  *model.Event
	Slot   *slot.Slot
}

func (a Action) String() string {
	target := "no free slot"
	if a.Slot != nil {
		target = a.Slot.Start.Format("Mon 02 Jan 15:04")
	}
	if a.Other != nil {
		return fmt.Sprintf("%s: move %q (conflicts with %q) -> %s", a.Reason, a.Event.Summary, a.Other.Summary, target)
	}
	return fmt.Sprintf("%s: move %q -> %s", a.Reason, a.Event.Summary, target)
}

// Vocabulary drives the resolution policy.
type Vocabulary struct {
	Priorities keywords.Table
	// An event matching WorkSession that overlaps one matching Calls is
	// intentionally nested and left alone.
	WorkSession keywords.Set
	Calls       keywords.Set
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Priorities:  priority.DefaultEventPriorities(),
		WorkSession: keywords.Set{"crm", "formation", "intensive", "prospection", "session", "deep work", "focus"},
		Calls:       keywords.Set{"appel", "rdv", "rendez-vous"},
	}
}

type Resolver struct {
	vocab       Vocabulary
	finder      *slot.Finder
	horizonDays int
	loc         *time.Location
}

func NewResolver(vocab Vocabulary, finder *slot.Finder, horizonDays int, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	if horizonDays <= 0 {
		horizonDays = 14
	}
	return &Resolver{vocab: vocab, finder: finder, horizonDays: horizonDays, loc: loc}
}

// DetectOverlaps sweeps timed events sorted by start and returns every
// strictly overlapping pair. All-day events never conflict.
func DetectOverlaps(events []model.Event) []Pair {
	timed := make([]model.Event, 0, len(events))
	for _, e := range events {
		if !e.AllDay && e.End.After(e.Start) {
			timed = append(timed, e)
		}
	}
	sort.SliceStable(timed, func(i, j int) bool {
		if !timed[i].Start.Equal(timed[j].Start) {
			return timed[i].Start.Before(timed[j].Start)
		}
		return timed[i].End.Before(timed[j].End)
	})

	var pairs []Pair
	for i, a := range timed {
		for _, b := range timed[i+1:] {
			if !b.Start.Before(a.End) {
				break
			}
			pairs = append(pairs, Pair{A: a, B: b})
		}
	}
	return pairs
}

// Priority infers how committed an event is from its title.
func (r *Resolver) Priority(e model.Event) int {
	return r.vocab.Priorities.Classify(e.Summary, priority.DefaultEventPriority)
}

// Cohesive reports whether a call nested in a work session.
func (r *Resolver) Cohesive(a, b model.Event) bool {
	work, calls := r.vocab.WorkSession, r.vocab.Calls
	return (work.Match(a.Summary) && calls.Match(b.Summary)) ||
		(work.Match(b.Summary) && calls.Match(a.Summary))
}

// Resolve picks the event to move and finds it the next free slot from its
// original start. It returns nil when the pair is cohesive. The lower priority
// event moves; on a tie the most recently created one does.
func (r *Resolver) Resolve(p Pair, busy []model.Event) *Action {
	if r.Cohesive(p.A, p.B) {
		return nil
	}
	move, keep := p.B, p.A
	pa, pb := r.Priority(p.A), r.Priority(p.B)
	switch {
	case pa < pb:
		move, keep = p.A, p.B
	case pa == pb && p.A.Created.After(p.B.Created):
		move, keep = p.A, p.B
	}
	return &Action{
		Event:  move,
		Reason: ReasonOverlap,
		Other:  &keep,
		Slot:   r.relocate(move, busy),
	}
}

// IsMidnightAnomaly flags timed events starting at exactly 00:00 or 23:59, the
// trace of an all-day due date that leaked into a timed slot.
func IsMidnightAnomaly(e model.Event, loc *time.Location) bool {
	if e.AllDay || e.Start.IsZero() {
		return false
	}
	s := e.Start.In(loc)
	h, m := s.Hour(), s.Minute()
	return (h == 0 && m == 0) || (h == 23 && m == 59)
}

func (r *Resolver) DetectMidnightAnomalies(events []model.Event) []model.Event {
	var out []model.Event
	for _, e := range events {
		if IsMidnightAnomaly(e, r.loc) {
			out = append(out, e)
		}
	}
	return out
}

// Plan returns the moves needed to clear overlaps and midnight anomalies. An
// event is moved at most once, and slots chosen earlier in the plan count as
// busy for later moves.
func (r *Resolver) Plan(events []model.Event) []Action {
	busy := append([]model.Event(nil), events...)
	moving := make(map[string]bool)
	var actions []Action

	for _, p := range DetectOverlaps(events) {
		if moving[p.A.ID] || moving[p.B.ID] {
			continue
		}
		a := r.Resolve(p, busy)
		if a == nil {
			continue
		}
		moving[a.Event.ID] = true
		busy = r.reserve(busy, *a)
		actions = append(actions, *a)
	}

	for _, e := range r.DetectMidnightAnomalies(events) {
		if moving[e.ID] {
			continue
		}
		a := Action{Event: e, Reason: ReasonMidnight, Slot: r.relocate(e, busy)}
		moving[e.ID] = true
		busy = r.reserve(busy, a)
		actions = append(actions, a)
	}
	return actions
}

// EventUpdater is the calendar write used by Apply.
type EventUpdater interface {
	UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventPatch) (model.Event, error)
}

type ApplyReport struct {
	Moved    int
	Unplaced int
	Failed   int
}

// Apply writes every planned move. A failed write is logged and counted; it
// never stops the remaining moves.
func (r *Resolver) Apply(ctx context.Context, store EventUpdater, calendarID string, actions []Action) ApplyReport {
	var rep ApplyReport
	for _, a := range actions {
		if ctx.Err() != nil {
			break
		}
		if a.Slot == nil {
			log.Printf("conflict: no free slot for %q (%s), left in place", a.Event.Summary, a.Event.ID)
			rep.Unplaced++
			continue
		}
		patch := model.EventPatch{Start: a.Slot.Start, End: a.Slot.End}
		if _, err := store.UpdateEvent(ctx, calendarID, a.Event.ID, patch); err != nil {
			log.Printf("conflict: could not move event %s: %v", a.Event.ID, err)
			rep.Failed++
			continue
		}
		rep.Moved++
	}
	return rep
}

func (r *Resolver) relocate(e model.Event, busy []model.Event) *slot.Slot {
	if r.finder == nil {
		return nil
	}
	others := make([]model.Event, 0, len(busy))
	for _, b := range busy {
		if b.ID != e.ID {
			others = append(others, b)
		}
	}
	// never earlier than now, even for events that started earlier today
	from := e.Start
	if now := r.finder.Now(); now.After(from) {
		from = now
	}
	return r.finder.NextSlot(slot.Request{
		Task:        model.Task{Title: e.Summary},
		Tier:        priority.EventTier(r.Priority(e)),
		Duration:    e.Duration(),
		Busy:        others,
		HorizonDays: r.horizonDays,
		From:        from,
	})
}

func (r *Resolver) reserve(busy []model.Event, a Action) []model.Event {
	if a.Slot == nil {
		return busy
	}
	moved := a.Event
	moved.ID = a.Event.ID + "#planned"
	moved.Start, moved.End = a.Slot.Start, a.Slot.End
	return append(busy, moved)
}
