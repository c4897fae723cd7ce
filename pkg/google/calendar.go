package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/retry"
	"github.com/harrisonrobin/tempo/pkg/slot"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// ColorPicker assigns calendar colors to projects.
type ColorPicker interface {
	GetColorID(project string) string
	Save() error
}

// CalendarClient is a Google Calendar API client.
type CalendarClient struct {
	srv    *calendar.Service
	index  *EventIndex
	colors ColorPicker
	retry  retry.Policy
	loc    *time.Location
}

// NewCalendarClient wraps srv. idx and colors may be nil.
func NewCalendarClient(srv *calendar.Service, idx *EventIndex, colors ColorPicker, loc *time.Location) *CalendarClient {
	if loc == nil {
		loc = time.Local
	}
	return &CalendarClient{srv: srv, index: idx, colors: colors, retry: retry.Default(), loc: loc}
}

func (c *CalendarClient) SetRetry(p retry.Policy) {
	c.retry = p
}

// ListEvents returns the expanded, non-cancelled events in [start, end).
func (c *CalendarClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.Event, error) {
	call := c.srv.Events.List(calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)

	var out []model.Event
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		out = out[:0]
		return call.Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if item.Status == "cancelled" {
					continue
				}
				e, err := ToModel(item, c.loc)
				if err != nil {
					log.Printf("Warning: skipping event %s: %v", item.Id, err)
					continue
				}
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve events from calendar: %w", err)
	}
	return out, nil
}

func (c *CalendarClient) CreateEvent(ctx context.Context, calendarID string, e model.Event) (model.Event, error) {
	var created *calendar.Event
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		created, err = c.srv.Events.Insert(calendarID, fromModel(e)).Context(ctx).Do()
		return err
	})
	if err != nil {
		return model.Event{}, fmt.Errorf("creating event %q: %w", e.Summary, err)
	}
	return ToModel(created, c.loc)
}

// UpdateEvent performs a partial update; zero fields of patch are left as they are.
func (c *CalendarClient) UpdateEvent(ctx context.Context, calendarID, eventID string, patch model.EventPatch) (model.Event, error) {
	updated, err := c.patch(ctx, calendarID, eventID, patchFromModel(patch))
	if err != nil {
		return model.Event{}, err
	}
	return ToModel(updated, c.loc)
}

func (c *CalendarClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.srv.Events.Delete(calendarID, eventID).Context(ctx).Do()
	})
}

// PlaceTask creates or moves the time block of task to s. The block is found
// through the local index first, then by its private task property.
func (c *CalendarClient) PlaceTask(ctx context.Context, calendarID string, task model.Task, s slot.Slot) (model.Event, error) {
	colorID := ""
	if c.colors != nil {
		colorID = c.colors.GetColorID(task.ProjectID)
	}
	target := BlockEvent(task, s, colorID)

	existing, err := c.findBlock(ctx, calendarID, task.ID)
	if err != nil {
		return model.Event{}, fmt.Errorf("error searching for event: %w", err)
	}

	if existing != nil {
		patch, err := EventNeedsUpdate(existing, target)
		if err != nil {
			log.Printf("could not compare task with its calendar event: %v", err)
			return model.Event{}, err
		}
		result := existing
		if patch != nil {
			if result, err = c.patch(ctx, calendarID, existing.Id, patch); err != nil {
				return model.Event{}, err
			}
		}
		c.remember(task.ID, result.Id)
		return ToModel(result, c.loc)
	}

	var created *calendar.Event
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		created, err = c.srv.Events.Insert(calendarID, target).Context(ctx).Do()
		return err
	})
	if err != nil {
		return model.Event{}, fmt.Errorf("creating time block for task %s: %w", task.ID, err)
	}
	c.remember(task.ID, created.Id)
	return ToModel(created, c.loc)
}

// GetEventByTaskID searches for the time block of taskID.
func (c *CalendarClient) GetEventByTaskID(ctx context.Context, calendarID, taskID string) (*calendar.Event, error) {
	var events *calendar.Events
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		events, err = c.srv.Events.List(calendarID).
			PrivateExtendedProperty(fmt.Sprintf("%s=%s", TaskIDProperty, taskID)).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, item := range events.Items {
		if item.Status != "cancelled" {
			return item, nil
		}
	}
	return nil, nil
}

// ResolveCalendarID maps a calendar name to its id. An empty name or "primary"
// selects the primary calendar.
func (c *CalendarClient) ResolveCalendarID(ctx context.Context, name string) (string, error) {
	if name == "" || name == "primary" {
		return "primary", nil
	}
	var list *calendar.CalendarList
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		list, err = c.srv.CalendarList.List().Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}
	for _, item := range list.Items {
		if item.Summary == name || item.Id == name {
			return item.Id, nil
		}
	}
	return "", fmt.Errorf("calendar '%s' not found", name)
}

// Flush persists the event index and the color cache.
func (c *CalendarClient) Flush() error {
	var errs []error
	if c.index != nil {
		errs = append(errs, c.index.Save())
	}
	if c.colors != nil {
		errs = append(errs, c.colors.Save())
	}
	return errors.Join(errs...)
}

func (c *CalendarClient) findBlock(ctx context.Context, calendarID, taskID string) (*calendar.Event, error) {
	if c.index != nil {
		if eventID := c.index.Get(taskID); eventID != "" {
			var e *calendar.Event
			err := c.retry.Do(ctx, func(ctx context.Context) error {
				var err error
				e, err = c.srv.Events.Get(calendarID, eventID).Context(ctx).Do()
				return err
			})
			if err == nil && e.Status != "cancelled" {
				return e, nil
			}
			var ge *googleapi.Error
			if err != nil && !(errors.As(err, &ge) && (ge.Code == http.StatusNotFound || ge.Code == http.StatusGone)) {
				log.Printf("Warning: index lookup for task %s failed, falling back to search: %v", taskID, err)
			}
			c.index.Remove(taskID)
		}
	}
	return c.GetEventByTaskID(ctx, calendarID, taskID)
}

func (c *CalendarClient) patch(ctx context.Context, calendarID, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	var updated *calendar.Event
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		updated, err = c.srv.Events.Patch(calendarID, eventID, patch).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("patching event %s: %w", eventID, err)
	}
	return updated, nil
}

func (c *CalendarClient) remember(taskID, eventID string) {
	if c.index != nil {
		c.index.Set(taskID, eventID)
	}
}
