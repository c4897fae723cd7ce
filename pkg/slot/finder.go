// Package slot searches calendars for the next best time to hold a task.
package slot

import (
	"time"

	"github.com/harrisonrobin/tempo/pkg/keywords"
	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/priority"
)

const (
	morningStart   = 8
	morningEnd     = 12
	afternoonStart = 14
	afternoonEnd   = 18

	baseScore       = 100.0
	preferenceBonus = 50.0
	lunchPenalty    = 30.0
	earlyBonus      = 10.0
	recencyBonus    = 50.0
	recencyDecay    = 5.0

	defaultDuration = 30 * time.Minute
)

type Preference int

const (
	PreferNone Preference = iota
	PreferMorning
	PreferAfternoon
)

// Config bounds the search grid.
type Config struct {
	WorkStartHour  int
	WorkEndHour    int
	LunchStartHour int
	LunchEndHour   int
	Step           time.Duration
	// Buffer is kept free around every blocking busy interval.
	Buffer time.Duration
	// ExcludeMorning forbids starts before MorningEndHour.
	ExcludeMorning bool
	MorningEndHour int
	// SportDayWorkEndHour ends the working day early when the day holds a sport event.
	SportDayWorkEndHour int
	Location            *time.Location
}

func DefaultConfig() Config {
	return Config{
		WorkStartHour:       8,
		WorkEndHour:         19,
		LunchStartHour:      12,
		LunchEndHour:        14,
		Step:                30 * time.Minute,
		MorningEndHour:      10,
		SportDayWorkEndHour: 17,
		Location:            time.Local,
	}
}

// Vocabulary holds the keyword lookups the finder uses.
type Vocabulary struct {
	EventPriorities keywords.Table
	Sport           keywords.Set
	CallSession     keywords.Set
	MorningTags     keywords.Set
	AfternoonTags   keywords.Set
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		EventPriorities: priority.DefaultEventPriorities(),
		Sport:           keywords.Set{"sport", "salle", "running", "footing", "natation", "yoga"},
		CallSession:     keywords.Set{"session d'appels", "session appels", "appels", "phoning", "calls"},
		MorningTags:     keywords.Set{"matin", "morning"},
		AfternoonTags:   keywords.Set{"aprem", "après-midi", "afternoon"},
	}
}

// Slot is a scored candidate interval. Scores only rank candidates of one search.
type Slot struct {
	Start time.Time
	End   time.Time
	Date  time.Time
	Score float64
}

// Request describes one search.
type Request struct {
	Task        model.Task
	Tier        priority.Tier
	Duration    time.Duration
	Busy        []model.Event
	HorizonDays int
	// From is the earliest allowed start; zero means now.
	From time.Time
}

type Finder struct {
	cfg   Config
	vocab Vocabulary
	Now   func() time.Time
}

func NewFinder(cfg Config, vocab Vocabulary) *Finder {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Step <= 0 {
		cfg.Step = 30 * time.Minute
	}
	return &Finder{cfg: cfg, vocab: vocab, Now: time.Now}
}

// FindBestSlot returns the highest scoring candidate, or nil when nothing fits.
// Ties go to the earliest candidate.
func (f *Finder) FindBestSlot(req Request) *Slot {
	var best *Slot
	candidates := f.Candidates(req)
	for i := range candidates {
		if best == nil || candidates[i].Score > best.Score {
			best = &candidates[i]
		}
	}
	return best
}

// NextSlot returns the earliest accepted candidate regardless of score, or nil.
func (f *Finder) NextSlot(req Request) *Slot {
	candidates := f.Candidates(req)
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

// Candidates enumerates every accepted slot in day-then-time order.
func (f *Finder) Candidates(req Request) []Slot {
	loc := f.cfg.Location
	from := req.From
	if from.IsZero() {
		from = f.Now()
	}
	from = from.In(loc)

	duration := req.Duration
	if duration <= 0 {
		duration = defaultDuration
	}
	horizon := req.HorizonDays
	if horizon <= 0 {
		horizon = 1
	}

	busy := f.classify(req.Busy)
	callsSession := f.vocab.CallSession.Match(req.Task.Title)
	pref := f.Preference(req.Task)
	firstDay := model.Day(from, loc)

	var slots []Slot
	for offset := 0; offset < horizon; offset++ {
		day := firstDay.AddDate(0, 0, offset)
		if callsSession && isWeekend(day) {
			continue
		}

		endHour := f.cfg.WorkEndHour
		if f.cfg.SportDayWorkEndHour > 0 && f.cfg.SportDayWorkEndHour < endHour && f.isSportDay(day, busy) {
			endHour = f.cfg.SportDayWorkEndHour
		}
		dayStart := atHour(day, f.cfg.WorkStartHour)
		dayEnd := atHour(day, endHour)

		for start := dayStart; !start.Add(duration).After(dayEnd); start = start.Add(f.cfg.Step) {
			if start.Before(from) {
				continue
			}
			if f.cfg.ExcludeMorning && start.Hour() < f.cfg.MorningEndHour {
				continue
			}
			end := start.Add(duration)
			if !f.accepts(start, end, req.Tier, busy) {
				continue
			}
			slots = append(slots, Slot{
				Start: start,
				End:   end,
				Date:  day,
				Score: f.score(start, offset, req.Tier, pref),
			})
		}
	}
	return slots
}

// Preference reads the task-level time-of-day flag from its tags.
func (f *Finder) Preference(task model.Task) Preference {
	for _, tag := range task.Tags {
		if f.vocab.MorningTags.Match(tag) {
			return PreferMorning
		}
		if f.vocab.AfternoonTags.Match(tag) {
			return PreferAfternoon
		}
	}
	return PreferNone
}

// EventTier infers an event's tier from its title.
func (f *Finder) EventTier(e model.Event) priority.Tier {
	return priority.EventTier(f.vocab.EventPriorities.Classify(e.Summary, priority.DefaultEventPriority))
}

type busyInterval struct {
	event model.Event
	tier  priority.Tier
	sport bool
}

func (f *Finder) classify(events []model.Event) []busyInterval {
	out := make([]busyInterval, 0, len(events))
	for _, e := range events {
		out = append(out, busyInterval{
			event: e,
			tier:  f.EventTier(e),
			sport: f.vocab.Sport.Match(e.Summary),
		})
	}
	return out
}

// accepts rejects a candidate overlapping any busy interval, unless the task may
// displace every interval it overlaps.
func (f *Finder) accepts(start, end time.Time, tier priority.Tier, busy []busyInterval) bool {
	for _, b := range busy {
		if b.event.AllDay {
			continue
		}
		bStart := b.event.Start.Add(-f.cfg.Buffer)
		bEnd := b.event.End.Add(f.cfg.Buffer)
		if !(start.Before(bEnd) && bStart.Before(end)) {
			continue
		}
		if tier.CanDisplace() && b.tier > tier {
			continue
		}
		return false
	}
	return true
}

func (f *Finder) score(start time.Time, dayOffset int, tier priority.Tier, pref Preference) float64 {
	score := baseScore
	h := start.Hour()

	switch pref {
	case PreferMorning:
		if h >= morningStart && h < morningEnd {
			score += preferenceBonus
		}
	case PreferAfternoon:
		if h >= afternoonStart && h < afternoonEnd {
			score += preferenceBonus
		}
	}
	if h >= f.cfg.LunchStartHour && h < f.cfg.LunchEndHour {
		score -= lunchPenalty
	}
	if tier == priority.P1Critical {
		if bonus := recencyBonus - recencyDecay*float64(dayOffset); bonus > 0 {
			score += bonus
		}
	}
	if h == 8 || h == 9 {
		score += earlyBonus
	}
	return score
}

func (f *Finder) isSportDay(day time.Time, busy []busyInterval) bool {
	next := day.AddDate(0, 0, 1)
	for _, b := range busy {
		if b.sport && b.event.Start.Before(next) && b.event.End.After(day) {
			return true
		}
	}
	return false
}

func atHour(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}

func isWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
