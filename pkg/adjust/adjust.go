// Package adjust runs the continuous adjustment loop: it diffs the task store
// against the last snapshot, dates undated tasks on lightly loaded days, and
// spreads overloaded days out.
package adjust

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/harrisonrobin/tempo/pkg/load"
	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/priority"
	"github.com/harrisonrobin/tempo/pkg/snapshot"
	"golang.org/x/sync/errgroup"
)

// ErrFetch wraps a failed bulk fetch. The run is aborted and the snapshot is
// returned unchanged.
var ErrFetch = errors.New("adjust: fetching tasks failed")

const (
	OpAssign     = "assign"
	OpReschedule = "reschedule"

	defaultLookback = 7 * 24 * time.Hour
)

// TaskStore is the subset of the task store the loop needs.
type TaskStore interface {
	ListActive(ctx context.Context) ([]model.Task, error)
	ListCompleted(ctx context.Context, since time.Time) ([]model.Task, error)
	Update(ctx context.Context, t model.Task) (model.Task, error)
}

// HistorySink records due-date writes so they can be undone.
type HistorySink interface {
	Record(ctx context.Context, op string, before, after model.Task) error
}

type Config struct {
	HorizonDays int
	DailyCap    int
	Location    *time.Location
}

type Failure struct {
	TaskID string
	Stage  string
	Err    error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.TaskID, f.Err)
}

type Report struct {
	TasksAnalyzed     int
	TasksWithoutDate  int
	DatesAssigned     int
	ConflictsDetected int
	TasksRescheduled  int
	OverloadedDays    []time.Time
	Failures          []Failure
}

// Partial is true when some per-task writes failed.
func (r Report) Partial() bool {
	return len(r.Failures) > 0
}

type Adjuster struct {
	store   TaskStore
	cfg     Config
	history HistorySink
	Now     func() time.Time
}

func New(store TaskStore, cfg Config) *Adjuster {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = load.DefaultHorizonDays
	}
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = load.DefaultCap
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Adjuster{store: store, cfg: cfg, Now: time.Now}
}

func (a *Adjuster) SetHistory(h HistorySink) {
	a.history = h
}

// run carries the mutable state of one pass.
type run struct {
	*Adjuster
	state  snapshot.State
	report Report
	loads  *load.Map
	byDay  map[int64][]model.Task
}

// Run executes one pass. Callers must not run two passes concurrently.
func (a *Adjuster) Run(ctx context.Context, prev snapshot.State) (snapshot.State, Report, error) {
	now := a.Now()

	active, completed, err := a.fetch(ctx, prev, now)
	if err != nil {
		return prev, Report{}, err
	}

	r := &run{Adjuster: a, state: prev.Clone()}
	changed := r.deltaSync(active, completed)
	r.loads = load.Build(active, now, a.cfg.HorizonDays, a.cfg.DailyCap, a.cfg.Location)
	r.byDay = make(map[int64][]model.Task)
	for _, t := range active {
		if t.HasDueDate() {
			r.file(t)
		}
	}

	stages := []func(context.Context, []model.Task) []model.Task{
		r.assignDates,
		r.reschedule,
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return r.state, r.report, err
		}
		changed = stage(ctx, changed)
	}

	r.state.Touch(now)
	return r.state, r.report, nil
}

func (a *Adjuster) fetch(ctx context.Context, prev snapshot.State, now time.Time) ([]model.Task, []model.Task, error) {
	since := prev.LastSync
	if since.IsZero() {
		since = now.Add(-defaultLookback)
	}

	var active, completed []model.Task
	var completedErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		active, err = a.store.ListActive(gctx)
		return err
	})
	g.Go(func() error {
		completed, completedErr = a.store.ListCompleted(gctx, since)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if completedErr != nil {
		log.Printf("Warning: could not list completed tasks: %v", completedErr)
	}
	return active, completed, nil
}

func (r *run) deltaSync(active, completed []model.Task) []model.Task {
	changed := r.state.Diff(active)
	r.report.TasksAnalyzed = len(changed)

	keep := make(map[string]bool, len(active)+len(completed))
	for _, t := range active {
		r.state.Record(t)
		keep[t.ID] = true
	}
	for _, t := range completed {
		r.state.Record(t)
		keep[t.ID] = true
	}
	r.state.Prune(keep)
	return changed
}

// assignDates dates every changed, undated task, most urgent tier first.
func (r *run) assignDates(ctx context.Context, changed []model.Task) []model.Task {
	var undated []model.Task
	for _, t := range changed {
		if t.IsActive() && !t.HasDueDate() {
			undated = append(undated, t)
		}
	}
	r.report.TasksWithoutDate = len(undated)

	assigned := make(map[string]model.Task)
	for _, t := range priority.ByTier(undated) {
		if ctx.Err() != nil {
			break
		}
		day := r.loads.PickLeastLoadedDay(priority.TierOf(t))
		updated, err := r.write(ctx, OpAssign, t, t.WithDueDate(day, true))
		if err != nil {
			continue
		}
		r.loads.Increment(day)
		r.file(updated)
		assigned[t.ID] = updated
		r.report.DatesAssigned++
	}

	out := make([]model.Task, len(changed))
	for i, t := range changed {
		if u, ok := assigned[t.ID]; ok {
			t = u
		}
		out[i] = t
	}
	return out
}

// reschedule flags every task on a day holding more than the cap and moves each
// of them to another day, most urgent first so it gets the earliest room.
func (r *run) reschedule(ctx context.Context, changed []model.Task) []model.Task {
	var days []int64
	seen := make(map[int64]bool)
	for _, t := range changed {
		if !t.IsActive() || !t.HasDueDate() {
			continue
		}
		key := r.dayKey(t.DueDate)
		if seen[key] || len(r.byDay[key]) <= r.cfg.DailyCap {
			continue
		}
		seen[key] = true
		days = append(days, key)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	for _, key := range days {
		tasks := r.byDay[key]
		r.report.ConflictsDetected += len(tasks)
		r.report.OverloadedDays = append(r.report.OverloadedDays, time.Unix(key, 0).In(r.cfg.Location))
	}

	for _, key := range days {
		origin := time.Unix(key, 0).In(r.cfg.Location)
		for _, t := range priority.ByTier(r.byDay[key]) {
			if ctx.Err() != nil {
				return changed
			}
			day := r.loads.PickExcluding(priority.TierOf(t), origin)
			if r.dayKey(day) == key {
				continue
			}
			updated, err := r.write(ctx, OpReschedule, t, t.WithDueDate(keepClock(day, t), t.IsAllDay))
			if err != nil {
				continue
			}
			r.loads.Decrement(origin)
			r.loads.Increment(day)
			r.unfile(key, t.ID)
			r.file(updated)
			r.report.TasksRescheduled++
		}
	}
	return changed
}

func (r *run) write(ctx context.Context, op string, before, after model.Task) (model.Task, error) {
	updated, err := r.store.Update(ctx, after)
	if err != nil {
		log.Printf("Warning: %s of task %s (%q) failed: %v", op, before.ID, before.Title, err)
		r.report.Failures = append(r.report.Failures, Failure{TaskID: before.ID, Stage: op, Err: err})
		r.state.Forget(before.ID)
		return model.Task{}, err
	}
	if updated.ID == "" {
		updated = after
		updated.ModifiedTime = time.Time{}
	}
	if updated.ModifiedTime.IsZero() {
		log.Printf("Warning: store returned no modification time for task %s, it will be read again next run", before.ID)
		r.state.Forget(before.ID)
	} else {
		r.state.Record(updated)
	}
	if r.history != nil {
		if err := r.history.Record(ctx, op, before, updated); err != nil {
			log.Printf("Warning: could not record %s of task %s in history: %v", op, before.ID, err)
		}
	}
	return updated, nil
}

func (r *run) dayKey(ts time.Time) int64 {
	return model.Day(ts, r.cfg.Location).Unix()
}

func (r *run) file(t model.Task) {
	key := r.dayKey(t.DueDate)
	r.byDay[key] = append(r.byDay[key], t)
}

func (r *run) unfile(key int64, id string) {
	tasks := r.byDay[key]
	for i, t := range tasks {
		if t.ID == id {
			r.byDay[key] = append(tasks[:i:i], tasks[i+1:]...)
			return
		}
	}
}

// keepClock moves a timed task to day at the same local clock time.
func keepClock(day time.Time, t model.Task) time.Time {
	if t.IsAllDay {
		return day
	}
	clock := t.DueDate.In(day.Location())
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location())
}
