package model

import "time"

// Event is a busy interval on a calendar, independent of the provider.
type Event struct {
	ID      string
	Summary string
	Start   time.Time
	End     time.Time
	AllDay  bool
	ColorID string
	// TaskID is the back-reference to the task this event was created for, if any.
	TaskID  string
	Created time.Time
}

func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports a strict overlap: touching intervals do not overlap.
func (e Event) Overlaps(o Event) bool {
	return e.Start.Before(o.End) && o.Start.Before(e.End)
}

// EventPatch carries the fields a calendar update may change.
type EventPatch struct {
	Summary string
	Start   time.Time
	End     time.Time
	ColorID string
}
