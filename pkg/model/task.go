package model

import (
	"strings"
	"time"
)

type Status int

const (
	StatusActive Status = iota
	StatusCompleted
)

func (s Status) String() string {
	if s == StatusCompleted {
		return "completed"
	}
	return "active"
}

// Task represents a unit of work from the task store.
type Task struct {
	ID        string
	Title     string
	Content   string
	DueDate   time.Time // zero means unscheduled
	IsAllDay  bool
	Priority  int // native store weight, 0-5
	Tags      []string
	ProjectID string
	Status    Status
	// TimeEstimate is in minutes, 0 when unknown.
	TimeEstimate int
	ModifiedTime time.Time
	CreatedTime  time.Time
}

func (t Task) HasDueDate() bool {
	return !t.DueDate.IsZero()
}

func (t Task) IsActive() bool {
	return t.Status == StatusActive
}

// HasTag reports whether the task carries tag, ignoring case.
func (t Task) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if strings.EqualFold(tg, tag) {
			return true
		}
	}
	return false
}

// Text is the title and content joined, used by keyword heuristics.
func (t Task) Text() string {
	if t.Content == "" {
		return t.Title
	}
	return t.Title + "\n" + t.Content
}

// WithDueDate returns a copy of t with only the due date fields replaced.
// Title, content and project are carried over so partial updates never clobber them.
func (t Task) WithDueDate(due time.Time, allDay bool) Task {
	out := t
	out.Tags = append([]string(nil), t.Tags...)
	out.DueDate = due
	out.IsAllDay = allDay
	return out
}

// WithProject returns a copy of t moved to another project.
func (t Task) WithProject(projectID string) Task {
	out := t
	out.Tags = append([]string(nil), t.Tags...)
	out.ProjectID = projectID
	return out
}

// DueDay truncates the due date to its calendar day in loc.
func (t Task) DueDay(loc *time.Location) time.Time {
	if !t.HasDueDate() {
		return time.Time{}
	}
	return Day(t.DueDate, loc)
}

// Day truncates ts to midnight of its calendar day in loc.
func Day(ts time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	ts = ts.In(loc)
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)
}
