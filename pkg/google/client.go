// Package google is the calendar store adapter for Google Calendar.
package google

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/harrisonrobin/tempo/pkg/auth"
	"github.com/harrisonrobin/tempo/pkg/colors"
	"github.com/spf13/afero"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// NewClient creates an authenticated calendar client with its event index and
// project color cache loaded from fs.
func NewClient(ctx context.Context, fs afero.Fs, loc *time.Location) (*CalendarClient, error) {
	scopes := []string{
		calendar.CalendarEventsScope,
		calendar.CalendarReadonlyScope,
	}
	client, err := auth.GetClient(ctx, scopes)
	if err != nil {
		return nil, err
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}

	var idx *EventIndex
	if path, err := DefaultIndexPath(); err == nil {
		if idx, err = NewEventIndex(fs, path); err != nil {
			log.Printf("Warning: failed to initialize event index: %v", err)
			idx = nil
		}
	}

	var picker ColorPicker
	if path, err := colors.DefaultPath(); err == nil {
		cache, err := colors.NewColorCache(fs, path)
		if err != nil {
			log.Printf("Warning: could not load color cache: %v", err)
		} else {
			picker = cache
		}
	}

	return NewCalendarClient(srv, idx, picker, loc), nil
}
