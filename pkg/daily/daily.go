// Package daily runs the full morning routine: inbox triage, CRM follow-ups,
// the adjustment loop, calendar conflict cleanup, and time blocks for today's
// urgent tasks.
package daily

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/harrisonrobin/tempo/pkg/adjust"
	"github.com/harrisonrobin/tempo/pkg/conflict"
	"github.com/harrisonrobin/tempo/pkg/crm"
	"github.com/harrisonrobin/tempo/pkg/keywords"
	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/priority"
	"github.com/harrisonrobin/tempo/pkg/slot"
	"github.com/harrisonrobin/tempo/pkg/snapshot"
	"golang.org/x/sync/errgroup"
)

const (
	StageInbox    = "inbox"
	StageSeed     = "seed"
	StageAdjust   = "adjust"
	StageConflict = "conflicts"
	StageBlock    = "block"
)

type TaskStore interface {
	adjust.TaskStore
	Create(ctx context.Context, t model.Task) (model.Task, error)
	ResolveProject(ctx context.Context, nameOrID string) (string, error)
}

type CalendarStore interface {
	conflict.EventUpdater
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.Event, error)
	PlaceTask(ctx context.Context, calendarID string, task model.Task, s slot.Slot) (model.Event, error)
}

type LeadStore interface {
	ListLeads(ctx context.Context) ([]crm.Lead, error)
}

type InboxRule struct {
	Keywords keywords.Set
	Project  string
}

type Config struct {
	CalendarID string
	Location   *time.Location
	Inbox      []InboxRule
	// IsInbox recognizes the inbox project id.
	IsInbox func(projectID string) bool

	CallPrefix          string
	CallPriority        int
	ConflictHorizonDays int
	// BlockDuration is used for tasks without a time estimate.
	BlockDuration time.Duration
}

// Deps are the collaborators of a run. Leads may be nil.
type Deps struct {
	Tasks    TaskStore
	Calendar CalendarStore
	Leads    LeadStore
	Adjuster *adjust.Adjuster
	Resolver *conflict.Resolver
	Finder   *slot.Finder
	Scorer   *priority.Scorer
}

type Report struct {
	Classified int
	Seeded     int
	Adjust     adjust.Report
	Planned    []conflict.Action
	Conflicts  conflict.ApplyReport
	Blocked    int
	Unblocked  int
	// Failures are per-task write errors; StageErrors are stages that could not run.
	Failures    []adjust.Failure
	StageErrors []error
}

// Partial is true when anything in the run failed.
func (r Report) Partial() bool {
	return len(r.Failures) > 0 || len(r.StageErrors) > 0 || r.Adjust.Partial() || r.Conflicts.Failed > 0
}

type Runner struct {
	deps Deps
	cfg  Config
	Now  func() time.Time
}

func New(deps Deps, cfg Config) *Runner {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.IsInbox == nil {
		cfg.IsInbox = func(id string) bool { return strings.HasPrefix(id, "inbox") }
	}
	if cfg.CallPrefix == "" {
		cfg.CallPrefix = "Appel"
	}
	if cfg.ConflictHorizonDays <= 0 {
		cfg.ConflictHorizonDays = 14
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = time.Hour
	}
	return &Runner{deps: deps, cfg: cfg, Now: time.Now}
}

type fetched struct {
	tasks    []model.Task
	events   []model.Event
	leads    []crm.Lead
	leadsErr error
}

// Run executes one daily pass and returns the new snapshot. Failing to list
// tasks or calendar events aborts the run before any write, as does context
// cancellation; every other failure is recorded in the report.
func (r *Runner) Run(ctx context.Context, prev snapshot.State) (snapshot.State, Report, error) {
	var rep Report
	now := r.Now()

	in, err := r.fetch(ctx, now)
	if err != nil {
		return prev, rep, err
	}
	if in.leadsErr != nil {
		rep.StageErrors = append(rep.StageErrors, fmt.Errorf("%s: listing leads: %w", StageSeed, in.leadsErr))
	}

	r.classifyInbox(ctx, in.tasks, &rep)
	r.seedCalls(ctx, in.tasks, in.leads, &rep)
	if err := ctx.Err(); err != nil {
		return prev, rep, err
	}

	state, adjRep, err := r.deps.Adjuster.Run(ctx, prev)
	rep.Adjust = adjRep
	switch {
	case errors.Is(err, adjust.ErrFetch):
		log.Printf("Warning: %s skipped: %v", StageAdjust, err)
		rep.StageErrors = append(rep.StageErrors, fmt.Errorf("%s: %w", StageAdjust, err))
	case err != nil:
		return state, rep, err
	}

	events := r.resolveConflicts(ctx, in.events, &rep)
	if err := ctx.Err(); err != nil {
		return state, rep, err
	}

	r.blockToday(ctx, now, events, &rep)
	return state, rep, ctx.Err()
}

func (r *Runner) fetch(ctx context.Context, now time.Time) (fetched, error) {
	var out fetched
	start := model.Day(now, r.cfg.Location)
	end := start.AddDate(0, 0, r.cfg.ConflictHorizonDays)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.tasks, err = r.deps.Tasks.ListActive(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		out.events, err = r.deps.Calendar.ListEvents(gctx, r.cfg.CalendarID, start, end)
		if err != nil {
			return fmt.Errorf("listing events: %w", err)
		}
		return nil
	})
	if r.deps.Leads != nil {
		g.Go(func() error {
			out.leads, out.leadsErr = r.deps.Leads.ListLeads(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fetched{}, fmt.Errorf("%w: %w", adjust.ErrFetch, err)
	}
	return out, nil
}

// classifyInbox moves inbox tasks to the project of the first matching rule.
func (r *Runner) classifyInbox(ctx context.Context, tasks []model.Task, rep *Report) {
	projects := make(map[string]string)
	for _, t := range tasks {
		if ctx.Err() != nil {
			return
		}
		if !t.IsActive() || !r.cfg.IsInbox(t.ProjectID) {
			continue
		}
		rule, ok := r.matchInbox(t)
		if !ok {
			continue
		}
		id, ok := projects[rule.Project]
		if !ok {
			var err error
			id, err = r.deps.Tasks.ResolveProject(ctx, rule.Project)
			if err != nil {
				r.fail(rep, StageInbox, t, err)
				continue
			}
			projects[rule.Project] = id
		}
		if id == t.ProjectID {
			continue
		}
		if _, err := r.deps.Tasks.Update(ctx, t.WithProject(id)); err != nil {
			r.fail(rep, StageInbox, t, err)
			continue
		}
		rep.Classified++
	}
}

func (r *Runner) matchInbox(t model.Task) (InboxRule, bool) {
	text := t.Text()
	for _, rule := range r.cfg.Inbox {
		if rule.Keywords.Match(text) {
			return rule, true
		}
	}
	return InboxRule{}, false
}

// seedCalls creates an undated call task for every hot lead that has no open
// one yet. The adjustment loop dates them.
func (r *Runner) seedCalls(ctx context.Context, tasks []model.Task, leads []crm.Lead, rep *Report) {
	open := make(map[string]bool)
	for _, t := range tasks {
		if t.IsActive() {
			open[keywords.Fold(t.Title)] = true
		}
	}
	prefix := keywords.Fold(r.cfg.CallPrefix)

	for _, lead := range leads {
		if ctx.Err() != nil {
			return
		}
		if !lead.IsHot() || lead.Name == "" {
			continue
		}
		if hasOpenCall(open, prefix, keywords.Fold(lead.Name)) {
			continue
		}
		title := lead.CallTitle(r.cfg.CallPrefix)
		draft := model.Task{
			Title:    title,
			Content:  leadNotes(lead),
			Priority: r.cfg.CallPriority,
			Tags:     []string{"crm"},
		}
		if _, err := r.deps.Tasks.Create(ctx, draft); err != nil {
			r.fail(rep, StageSeed, draft, err)
			continue
		}
		open[keywords.Fold(title)] = true
		rep.Seeded++
	}
}

func hasOpenCall(open map[string]bool, prefix, name string) bool {
	for title := range open {
		if strings.HasPrefix(title, prefix) && strings.Contains(title, name) {
			return true
		}
	}
	return false
}

func leadNotes(l crm.Lead) string {
	var lines []string
	if l.Company != "" {
		lines = append(lines, "Société: "+l.Company)
	}
	if l.Phone != "" {
		lines = append(lines, "Tél: "+l.Phone)
	}
	if !l.LastContact.IsZero() {
		lines = append(lines, "Dernier contact: "+l.LastContact.Format("2006-01-02"))
	}
	lines = append(lines, "CRM: "+l.ID)
	return strings.Join(lines, "\n")
}

// resolveConflicts applies the resolver plan and returns events with planned
// moves reflected, for the blocking stage to use as busy time.
func (r *Runner) resolveConflicts(ctx context.Context, events []model.Event, rep *Report) []model.Event {
	rep.Planned = r.deps.Resolver.Plan(events)
	rep.Conflicts = r.deps.Resolver.Apply(ctx, r.deps.Calendar, r.cfg.CalendarID, rep.Planned)

	moved := make(map[string]*slot.Slot)
	for _, a := range rep.Planned {
		if a.Slot != nil {
			moved[a.Event.ID] = a.Slot
		}
	}
	out := make([]model.Event, len(events))
	for i, e := range events {
		if s, ok := moved[e.ID]; ok {
			e.Start, e.End = s.Start, s.End
		}
		out[i] = e
	}
	return out
}

// blockToday books calendar time for today's P1 and P2 tasks that either
// carry an estimate or sit at a midnight placeholder time.
func (r *Runner) blockToday(ctx context.Context, now time.Time, events []model.Event, rep *Report) {
	tasks, err := r.deps.Tasks.ListActive(ctx)
	if err != nil {
		log.Printf("Warning: %s skipped: %v", StageBlock, err)
		rep.StageErrors = append(rep.StageErrors, fmt.Errorf("%s: %w", StageBlock, err))
		return
	}

	today := model.Day(now, r.cfg.Location)
	var due []model.Task
	for _, t := range tasks {
		if r.needsBlock(t, today) {
			due = append(due, t)
		}
	}
	if r.deps.Scorer != nil {
		due = r.deps.Scorer.Rank(due)
	} else {
		due = priority.ByTier(due)
	}

	busy := append([]model.Event(nil), events...)
	for _, t := range due {
		if ctx.Err() != nil {
			return
		}
		duration := time.Duration(t.TimeEstimate) * time.Minute
		if duration <= 0 {
			duration = r.cfg.BlockDuration
		}
		s := r.deps.Finder.FindBestSlot(slot.Request{
			Task:        t,
			Tier:        priority.TierOf(t),
			Duration:    duration,
			Busy:        withoutBlockOf(busy, t.ID),
			HorizonDays: 1,
			From:        now,
		})
		if s == nil {
			log.Printf("%s: no free slot today for %q (%s)", StageBlock, t.Title, t.ID)
			rep.Unblocked++
			continue
		}
		ev, err := r.deps.Calendar.PlaceTask(ctx, r.cfg.CalendarID, t, *s)
		if err != nil {
			r.fail(rep, StageBlock, t, err)
			continue
		}
		busy = append(withoutBlockOf(busy, t.ID), ev)
		rep.Blocked++
	}
}

func (r *Runner) needsBlock(t model.Task, today time.Time) bool {
	if !t.IsActive() || !t.HasDueDate() || !t.DueDay(r.cfg.Location).Equal(today) {
		return false
	}
	if priority.TierOf(t) > priority.P2High {
		return false
	}
	return t.TimeEstimate > 0 || isMidnight(t, r.cfg.Location)
}

// isMidnight flags timed tasks stuck at 00:00 or 23:59, the usual leftovers of
// a date-only import.
func isMidnight(t model.Task, loc *time.Location) bool {
	if t.IsAllDay {
		return false
	}
	local := t.DueDate.In(loc)
	h, m := local.Hour(), local.Minute()
	return (h == 0 && m == 0) || (h == 23 && m == 59)
}

// withoutBlockOf drops the task's own block so it can stay where it is.
func withoutBlockOf(events []model.Event, taskID string) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if e.TaskID != "" && e.TaskID == taskID {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (r *Runner) fail(rep *Report, stage string, t model.Task, err error) {
	id := t.ID
	if id == "" {
		id = t.Title
	}
	log.Printf("Warning: %s of task %s failed: %v", stage, id, err)
	rep.Failures = append(rep.Failures, adjust.Failure{TaskID: id, Stage: stage, Err: err})
}
