package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/slot"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var paris, _ = time.LoadLocation("Europe/Paris")

func at(day, hour, min int) time.Time {
	return time.Date(2026, 10, 19+day, hour, min, 0, 0, paris)
}

// fakeCalendar serves the subset of the events API the client uses.
type fakeCalendar struct {
	mu      sync.Mutex
	events  map[string]*calendar.Event
	nextID  int
	patches int
	inserts int
}

func (f *fakeCalendar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/calendars/primary/events"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch {
	case id == "" && r.Method == http.MethodGet:
		var items []*calendar.Event
		filter := r.URL.Query().Get("privateExtendedProperty")
		for _, e := range f.events {
			if filter != "" {
				kv := strings.SplitN(filter, "=", 2)
				if e.ExtendedProperties == nil || e.ExtendedProperties.Private[kv[0]] != kv[1] {
					continue
				}
			}
			items = append(items, e)
		}
		json.NewEncoder(w).Encode(&calendar.Events{Items: items})
	case id == "" && r.Method == http.MethodPost:
		var e calendar.Event
		json.NewDecoder(r.Body).Decode(&e)
		f.nextID++
		f.inserts++
		e.Id = fmt.Sprintf("e%d", f.nextID)
		f.events[e.Id] = &e
		json.NewEncoder(w).Encode(&e)
	case r.Method == http.MethodGet:
		e, ok := f.events[id]
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(e)
	case r.Method == http.MethodPatch:
		e, ok := f.events[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		var p calendar.Event
		json.NewDecoder(r.Body).Decode(&p)
		f.patches++
		if p.Summary != "" {
			e.Summary = p.Summary
		}
		if p.Description != "" {
			e.Description = p.Description
		}
		if p.Start != nil {
			e.Start, e.End = p.Start, p.End
		}
		json.NewEncoder(w).Encode(e)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func newTestCalendar(t *testing.T, fake *fakeCalendar, idx *EventIndex) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewCalendarClient(svc, idx, nil, paris)
}

func TestListEventsSkipsCancelled(t *testing.T) {
	fake := &fakeCalendar{events: map[string]*calendar.Event{
		"a": {Id: "a", Summary: "Réunion", Start: &calendar.EventDateTime{DateTime: "2026-10-19T09:00:00+02:00"},
			End: &calendar.EventDateTime{DateTime: "2026-10-19T10:00:00+02:00"}},
		"b": {Id: "b", Summary: "Annulé", Status: "cancelled", Start: &calendar.EventDateTime{DateTime: "2026-10-19T11:00:00+02:00"},
			End: &calendar.EventDateTime{DateTime: "2026-10-19T12:00:00+02:00"}},
	}}
	c := newTestCalendar(t, fake, nil)

	events, err := c.ListEvents(context.Background(), "primary", at(0, 0, 0), at(7, 0, 0))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Réunion", events[0].Summary)
	assert.True(t, events[0].Start.Equal(at(0, 9, 0)))
}

func TestPlaceTaskCreatesThenMovesBlock(t *testing.T) {
	fake := &fakeCalendar{events: map[string]*calendar.Event{}}
	idx, err := NewEventIndex(afero.NewMemMapFs(), "/cfg/events.json")
	require.NoError(t, err)
	c := newTestCalendar(t, fake, idx)
	ctx := context.Background()

	task := model.Task{ID: "t1", Title: "Préparer devis", Priority: 5, TimeEstimate: 60}
	first := slot.Slot{Start: at(0, 9, 0), End: at(0, 10, 0)}

	created, err := c.PlaceTask(ctx, "primary", task, first)
	require.NoError(t, err)
	assert.Equal(t, "t1", created.TaskID)
	assert.Equal(t, created.ID, idx.Get("t1"))
	assert.Equal(t, 1, fake.inserts)

	_, err = c.PlaceTask(ctx, "primary", task, first)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.inserts)
	assert.Equal(t, 0, fake.patches, "unchanged block is left alone")

	moved, err := c.PlaceTask(ctx, "primary", task, slot.Slot{Start: at(1, 14, 0), End: at(1, 15, 0)})
	require.NoError(t, err)
	assert.Equal(t, created.ID, moved.ID)
	assert.Equal(t, 1, fake.patches)
	assert.True(t, moved.Start.Equal(at(1, 14, 0)))
}

func TestPlaceTaskFallsBackToPropertySearch(t *testing.T) {
	fake := &fakeCalendar{events: map[string]*calendar.Event{}}
	c := newTestCalendar(t, fake, nil)
	task := model.Task{ID: "t9", Title: "Relance"}
	s := slot.Slot{Start: at(0, 15, 0), End: at(0, 15, 30)}

	_, err := c.PlaceTask(context.Background(), "primary", task, s)
	require.NoError(t, err)

	idx, err := NewEventIndex(afero.NewMemMapFs(), "/cfg/events.json")
	require.NoError(t, err)
	idx.Set("t9", "stale")
	c.index = idx

	again, err := c.PlaceTask(context.Background(), "primary", task, s)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.inserts)
	assert.Equal(t, again.ID, idx.Get("t9"))
}

func TestUpdateEvent(t *testing.T) {
	fake := &fakeCalendar{events: map[string]*calendar.Event{
		"a": {Id: "a", Summary: "Réunion", Start: &calendar.EventDateTime{DateTime: "2026-10-19T09:00:00+02:00"},
			End: &calendar.EventDateTime{DateTime: "2026-10-19T10:00:00+02:00"}},
	}}
	c := newTestCalendar(t, fake, nil)

	updated, err := c.UpdateEvent(context.Background(), "primary", "a", model.EventPatch{Start: at(0, 14, 0), End: at(0, 15, 0)})
	require.NoError(t, err)
	assert.Equal(t, "Réunion", updated.Summary)
	assert.True(t, updated.End.Equal(at(0, 15, 0)))
}

func TestEventIndexPersistence(t *testing.T) {
	fs := afero.NewMemMapFs()
	idx, err := NewEventIndex(fs, "/cfg/events.json")
	require.NoError(t, err)
	idx.Set("t1", "e1")
	idx.Set("t2", "e2")
	idx.Remove("t2")
	require.NoError(t, idx.Save())

	reloaded, err := NewEventIndex(fs, "/cfg/events.json")
	require.NoError(t, err)
	assert.Equal(t, "e1", reloaded.Get("t1"))
	assert.Empty(t, reloaded.Get("t2"))
}
