package priority

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/harrisonrobin/tempo/pkg/keywords"
	"github.com/harrisonrobin/tempo/pkg/model"
)

// Weights blend the four sub-scores. They are expected to sum to 1.
type Weights struct {
	Complexity float64 `mapstructure:"complexity" yaml:"complexity" validate:"gte=0,lte=1"`
	Urgency    float64 `mapstructure:"urgency" yaml:"urgency" validate:"gte=0,lte=1"`
	Duration   float64 `mapstructure:"duration" yaml:"duration" validate:"gte=0,lte=1"`
	Context    float64 `mapstructure:"context" yaml:"context" validate:"gte=0,lte=1"`
}

func DefaultWeights() Weights {
	return Weights{Complexity: 0.25, Urgency: 0.35, Duration: 0.2, Context: 0.2}
}

// Vocabulary holds the keyword lists the heuristics look for.
type Vocabulary struct {
	HighComplexity   keywords.Set `mapstructure:"high_complexity" yaml:"high_complexity"`
	MediumComplexity keywords.Set `mapstructure:"medium_complexity" yaml:"medium_complexity"`
	LowComplexity    keywords.Set `mapstructure:"low_complexity" yaml:"low_complexity"`
	UrgentHigh       keywords.Set `mapstructure:"urgent_high" yaml:"urgent_high"`
	UrgentMedium     keywords.Set `mapstructure:"urgent_medium" yaml:"urgent_medium"`
	UrgentLow        keywords.Set `mapstructure:"urgent_low" yaml:"urgent_low"`
	LongTask         keywords.Set `mapstructure:"long_task" yaml:"long_task"`
	Business         keywords.Set `mapstructure:"business" yaml:"business"`
	Personal         keywords.Set `mapstructure:"personal" yaml:"personal"`
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		HighComplexity:   keywords.Set{"architecture", "stratégie", "développement", "refonte", "migration", "analyse", "audit", "formation"},
		MediumComplexity: keywords.Set{"rédiger", "préparer", "organiser", "planifier", "réunion", "présentation", "devis"},
		LowComplexity:    keywords.Set{"appeler", "envoyer", "acheter", "répondre", "vérifier", "relancer", "payer"},
		UrgentHigh:       keywords.Set{"urgent", "asap", "immédiat", "critique", "aujourd'hui"},
		UrgentMedium:     keywords.Set{"important", "bientôt", "cette semaine", "prioritaire"},
		UrgentLow:        keywords.Set{"un jour", "plus tard", "idée", "éventuellement", "someday"},
		LongTask:         keywords.Set{"projet", "rapport", "dossier", "formation", "développement", "refonte"},
		Business:         keywords.Set{"client", "prospect", "devis", "facture", "crm", "réunion", "business", "contrat", "rdv"},
		Personal:         keywords.Set{"perso", "famille", "sport", "courses", "maison", "loisir", "ami"},
	}
}

// DefaultTagWeights are fixed context weights for special tags.
func DefaultTagWeights() map[string]float64 {
	return map[string]float64{
		"urgent":    0.9,
		"important": 0.8,
		"client":    0.75,
		"business":  0.7,
		"deadline":  0.85,
		"perso":     0.4,
		"someday":   0.2,
	}
}

const (
	complexityTextCap = 500
	businessStartHour = 9
	businessEndHour   = 18
)

var listMarker = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\[[ xX]\]|\d+[.)])\s+`)

// Scorer computes task scores. The zero value is not usable; use NewScorer.
type Scorer struct {
	Weights    Weights
	Vocab      Vocabulary
	TagWeights map[string]float64
	Location   *time.Location
	Now        func() time.Time
}

func NewScorer(w Weights, v Vocabulary, tagWeights map[string]float64, loc *time.Location) *Scorer {
	if loc == nil {
		loc = time.Local
	}
	tw := make(map[string]float64, len(tagWeights))
	for k, val := range tagWeights {
		tw[strings.ToLower(k)] = val
	}
	return &Scorer{Weights: w, Vocab: v, TagWeights: tw, Location: loc, Now: time.Now}
}

// Score blends the four sub-scores and clamps the result to [0,1].
func (s *Scorer) Score(task model.Task) float64 {
	w := s.Weights
	total := w.Complexity*s.Complexity(task) +
		w.Urgency*s.Urgency(task) +
		w.Duration*s.DurationScore(task) +
		w.Context*s.ContextScore(task)
	return clamp(total)
}

// Complexity normalizes text length, then applies vocabulary floors and ceilings
// and a bonus for list markers hinting at sub-tasks.
func (s *Scorer) Complexity(task model.Task) float64 {
	text := task.Text()
	score := math.Min(float64(len([]rune(text)))/complexityTextCap, 1)

	switch {
	case s.Vocab.HighComplexity.Match(text):
		score = math.Max(score, 0.8)
	case s.Vocab.MediumComplexity.Match(text):
		score = math.Max(score, 0.5)
	case s.Vocab.LowComplexity.Match(text):
		score = math.Min(score, 0.3)
	}

	if n := len(listMarker.FindAllStringIndex(task.Content, -1)); n > 0 {
		score += math.Min(0.05*float64(n), 0.2)
	}
	return clamp(score)
}

// Urgency starts at a neutral 0.5. A vocabulary hit overrides the baseline;
// every later rule only raises the value.
func (s *Scorer) Urgency(task model.Task) float64 {
	text := task.Text()
	score := 0.5
	switch {
	case s.Vocab.UrgentHigh.Match(text) || task.HasTag("urgent"):
		score = 0.9
	case s.Vocab.UrgentMedium.Match(text):
		score = 0.6
	case s.Vocab.UrgentLow.Match(text):
		score = 0.3
	}

	if task.HasDueDate() {
		days := s.daysUntil(task.DueDate)
		switch {
		case days < 0:
			score = 1.0
		case days == 0:
			score = math.Max(score, 0.9)
		case days <= 3:
			score = math.Max(score, 0.7)
		case days <= 7:
			score = math.Max(score, 0.5)
		}
	}

	if p := task.Priority; p > 0 {
		score += 0.02 * float64(min(p, 5))
	}
	return clamp(score)
}

// DurationScore favours tasks that look long. An explicit estimate wins.
func (s *Scorer) DurationScore(task model.Task) float64 {
	if est := task.TimeEstimate; est > 0 {
		switch {
		case est > 120:
			return 0.9
		case est > 60:
			return 0.7
		case est > 30:
			return 0.5
		default:
			return 0.3
		}
	}

	text := task.Text()
	score := 0.3
	switch words := len(strings.Fields(text)); {
	case words > 100:
		score = 0.8
	case words > 50:
		score = 0.6
	case words > 20:
		score = 0.4
	}
	if s.Vocab.LongTask.Match(text) {
		score = math.Max(score, 0.7)
	}
	return score
}

// ContextScore looks up special tags and adds small bonuses when the task's
// reference time lines up with what its text looks like.
func (s *Scorer) ContextScore(task model.Task) float64 {
	score := 0.5
	for _, tag := range task.Tags {
		if w, ok := s.TagWeights[strings.ToLower(tag)]; ok {
			score = math.Max(score, w)
		}
	}

	ref := s.now()
	if task.HasDueDate() {
		ref = task.DueDate.In(s.Location)
	}
	weekend := ref.Weekday() == time.Saturday || ref.Weekday() == time.Sunday
	text := task.Text()

	if s.Vocab.Business.Match(text) {
		if !weekend {
			score += 0.1
		}
		if !task.IsAllDay && ref.Hour() >= businessStartHour && ref.Hour() < businessEndHour {
			score += 0.05
		}
	} else if s.Vocab.Personal.Match(text) && weekend {
		score += 0.1
	}
	return clamp(score)
}

// Rank orders tasks by tier, then by descending score. Equal pairs keep their
// input order.
func (s *Scorer) Rank(tasks []model.Task) []model.Task {
	type scored struct {
		task  model.Task
		tier  Tier
		score float64
	}
	items := make([]scored, len(tasks))
	for i, t := range tasks {
		items[i] = scored{task: t, tier: TierOf(t), score: s.Score(t)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].tier != items[j].tier {
			return items[i].tier < items[j].tier
		}
		return items[i].score > items[j].score
	})
	out := make([]model.Task, len(items))
	for i, it := range items {
		out[i] = it.task
	}
	return out
}

// ByTier orders tasks by tier only, keeping insertion order within a tier.
func ByTier(tasks []model.Task) []model.Task {
	out := append([]model.Task(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		return TierOf(out[i]) < TierOf(out[j])
	})
	return out
}

func (s *Scorer) now() time.Time {
	if s.Now == nil {
		return time.Now().In(s.Location)
	}
	return s.Now().In(s.Location)
}

func (s *Scorer) daysUntil(due time.Time) int {
	today := model.Day(s.now(), s.Location)
	dueDay := model.Day(due, s.Location)
	return int(math.Round(dueDay.Sub(today).Hours() / 24))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
