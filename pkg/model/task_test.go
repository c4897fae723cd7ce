package model

import (
	"testing"
	"time"
)

func TestWithDueDateKeepsOtherFields(t *testing.T) {
	task := Task{
		ID:        "t1",
		Title:     "Rappeler le client",
		Content:   "notes",
		ProjectID: "p1",
		Tags:      []string{"client"},
	}
	due := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

	updated := task.WithDueDate(due, true)

	if updated.Title != task.Title || updated.ProjectID != "p1" || updated.Content != "notes" {
		t.Errorf("WithDueDate clobbered fields: %+v", updated)
	}
	if !updated.DueDate.Equal(due) || !updated.IsAllDay {
		t.Errorf("Expected due %v all-day, got %v %v", due, updated.DueDate, updated.IsAllDay)
	}
	if task.HasDueDate() {
		t.Error("original task must stay unscheduled")
	}
	updated.Tags[0] = "changed"
	if task.Tags[0] != "client" {
		t.Error("tags slice must be copied")
	}
}

func TestHasTagIgnoresCase(t *testing.T) {
	task := Task{Tags: []string{"Urgent", "perso"}}
	if !task.HasTag("urgent") {
		t.Error("Expected case-insensitive tag match")
	}
	if task.HasTag("business") {
		t.Error("Unexpected tag match")
	}
}

func TestEventOverlaps(t *testing.T) {
	base := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	a := Event{Start: base, End: base.Add(time.Hour)}
	b := Event{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)}
	c := Event{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}

	if !a.Overlaps(b) || !b.Overlaps(a) {
		t.Error("Expected a and b to overlap")
	}
	if a.Overlaps(c) {
		t.Error("Touching events must not overlap")
	}
}
