package google

import (
	"fmt"
	"strings"
	"time"

	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/priority"
	"github.com/harrisonrobin/tempo/pkg/slot"
	"google.golang.org/api/calendar/v3"
)

// TaskIDProperty is the private extended property linking a time block to its task.
const TaskIDProperty = "tempo_task_id"

// BlockEvent builds the calendar event holding task during s.
func BlockEvent(task model.Task, s slot.Slot, colorID string) *calendar.Event {
	var desc strings.Builder
	if len(task.Tags) > 0 {
		for _, tag := range task.Tags {
			desc.WriteString(fmt.Sprintf("#%s ", tag))
		}
		desc.WriteString("\n\n")
	}
	desc.WriteString(fmt.Sprintf("Priority: %s\n", priority.TierOf(task)))
	if task.HasDueDate() {
		desc.WriteString(fmt.Sprintf("Due: %s\n", task.DueDate.Format("2006-01-02")))
	}
	if task.TimeEstimate > 0 {
		desc.WriteString(fmt.Sprintf("Estimate: %s\n", time.Duration(task.TimeEstimate)*time.Minute))
	}
	desc.WriteString(fmt.Sprintf("ID: %s\n", task.ID))
	if task.Content != "" {
		desc.WriteString("\n")
		desc.WriteString(task.Content)
		desc.WriteString("\n")
	}

	return &calendar.Event{
		Summary:     task.Title,
		ColorId:     colorID,
		Description: desc.String(),
		Start:       &calendar.EventDateTime{DateTime: s.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: s.End.Format(time.RFC3339)},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{TaskIDProperty: task.ID},
		},
	}
}

// EventNeedsUpdate returns a patch with the fields of target that differ from
// existing, or nil when they match.
func EventNeedsUpdate(existing, target *calendar.Event) (*calendar.Event, error) {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		needsUpdate = true
	}
	if target.ColorId != "" && existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}

	same, err := sameWindow(existing, target)
	if err != nil {
		return nil, err
	}
	if !same {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if needsUpdate {
		return patch, nil
	}
	return nil, nil
}

func sameWindow(a, b *calendar.Event) (bool, error) {
	if a.Start == nil || a.End == nil || a.Start.DateTime == "" || a.End.DateTime == "" {
		return false, nil
	}
	pairs := [][2]string{
		{a.Start.DateTime, b.Start.DateTime},
		{a.End.DateTime, b.End.DateTime},
	}
	for _, p := range pairs {
		x, err := time.Parse(time.RFC3339, p[0])
		if err != nil {
			return false, err
		}
		y, err := time.Parse(time.RFC3339, p[1])
		if err != nil {
			return false, err
		}
		if !x.Equal(y) {
			return false, nil
		}
	}
	return true, nil
}

// ToModel converts an API event. All-day events span whole days in loc.
func ToModel(e *calendar.Event, loc *time.Location) (model.Event, error) {
	if loc == nil {
		loc = time.Local
	}
	out := model.Event{ID: e.Id, Summary: e.Summary, ColorID: e.ColorId}
	if e.ExtendedProperties != nil {
		out.TaskID = e.ExtendedProperties.Private[TaskIDProperty]
	}
	if e.Created != "" {
		if created, err := time.Parse(time.RFC3339, e.Created); err == nil {
			out.Created = created
		}
	}

	var err error
	if out.Start, out.AllDay, err = parseDateTime(e.Start, loc); err != nil {
		return model.Event{}, fmt.Errorf("event %s start: %w", e.Id, err)
	}
	if out.End, _, err = parseDateTime(e.End, loc); err != nil {
		return model.Event{}, fmt.Errorf("event %s end: %w", e.Id, err)
	}
	return out, nil
}

func parseDateTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		return t, true, err
	}
	return time.Time{}, false, fmt.Errorf("missing time")
}

func fromModel(e model.Event) *calendar.Event {
	out := &calendar.Event{Summary: e.Summary, ColorId: e.ColorID}
	if e.AllDay {
		out.Start = &calendar.EventDateTime{Date: e.Start.Format("2006-01-02")}
		out.End = &calendar.EventDateTime{Date: e.End.Format("2006-01-02")}
	} else {
		out.Start = &calendar.EventDateTime{DateTime: e.Start.Format(time.RFC3339)}
		out.End = &calendar.EventDateTime{DateTime: e.End.Format(time.RFC3339)}
	}
	if e.TaskID != "" {
		out.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{TaskIDProperty: e.TaskID},
		}
	}
	return out
}

func patchFromModel(p model.EventPatch) *calendar.Event {
	out := &calendar.Event{Summary: p.Summary, ColorId: p.ColorID}
	if !p.Start.IsZero() {
		out.Start = &calendar.EventDateTime{DateTime: p.Start.Format(time.RFC3339)}
	}
	if !p.End.IsZero() {
		out.End = &calendar.EventDateTime{DateTime: p.End.Format(time.RFC3339)}
	}
	return out
}
