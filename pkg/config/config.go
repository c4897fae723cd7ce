// Package config loads ~/.config/tempo/config.yaml. Every value has a default,
// environment variables prefixed TEMPO_ override the file, and a .env file next
// to it is loaded first so tokens can stay out of the YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/harrisonrobin/tempo/pkg/conflict"
	"github.com/harrisonrobin/tempo/pkg/history"
	"github.com/harrisonrobin/tempo/pkg/keywords"
	"github.com/harrisonrobin/tempo/pkg/load"
	"github.com/harrisonrobin/tempo/pkg/priority"
	"github.com/harrisonrobin/tempo/pkg/slot"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "tempo"
	configFile = "config.yaml"
	envPrefix  = "TEMPO"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

type Config struct {
	Calendar   string             `mapstructure:"calendar" yaml:"calendar" validate:"required"`
	Timezone   string             `mapstructure:"timezone" yaml:"timezone" validate:"required,timezone"`
	TickTick   TickTick           `mapstructure:"ticktick" yaml:"ticktick"`
	CRM        CRM                `mapstructure:"crm" yaml:"crm"`
	Schedule   Schedule           `mapstructure:"schedule" yaml:"schedule"`
	WorkHours  WorkHours          `mapstructure:"work_hours" yaml:"work_hours"`
	Weights    priority.Weights   `mapstructure:"weights" yaml:"weights"`
	TagWeights map[string]float64 `mapstructure:"tag_weights" yaml:"tag_weights" validate:"dive,gte=0,lte=1"`
	Keywords   Vocabulary         `mapstructure:"keywords" yaml:"keywords"`
	Inbox      []InboxRule        `mapstructure:"inbox" yaml:"inbox" validate:"dive"`
	Serve      Serve              `mapstructure:"serve" yaml:"serve"`
	History    History            `mapstructure:"history" yaml:"history"`
}

// Tokens are read from the file or the environment but never written back.
type TickTick struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Token   string `mapstructure:"token" yaml:"-"`
}

type CRM struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	APIKey  string `mapstructure:"api_key" yaml:"-"`
	// Leads with an open task whose title contains this prefix are not seeded again.
	CallPrefix   string `mapstructure:"call_prefix" yaml:"call_prefix" validate:"required"`
	CallPriority int    `mapstructure:"call_priority" yaml:"call_priority" validate:"gte=0,lte=5"`
}

type Schedule struct {
	HorizonDays         int `mapstructure:"horizon_days" yaml:"horizon_days" validate:"gte=1,lte=365"`
	DailyCap            int `mapstructure:"daily_cap" yaml:"daily_cap" validate:"gte=1"`
	ConflictHorizonDays int `mapstructure:"conflict_horizon_days" yaml:"conflict_horizon_days" validate:"gte=1,lte=60"`
	BlockMinutes        int `mapstructure:"block_minutes" yaml:"block_minutes" validate:"gte=5,lte=480"`
}

type WorkHours struct {
	Start          int  `mapstructure:"start" yaml:"start" validate:"gte=0,lte=23"`
	End            int  `mapstructure:"end" yaml:"end" validate:"gtfield=Start,lte=24"`
	LunchStart     int  `mapstructure:"lunch_start" yaml:"lunch_start" validate:"gte=0,lte=23"`
	LunchEnd       int  `mapstructure:"lunch_end" yaml:"lunch_end" validate:"gtefield=LunchStart,lte=24"`
	SportDayEnd    int  `mapstructure:"sport_day_end" yaml:"sport_day_end" validate:"gtfield=Start,lte=24"`
	StepMinutes    int  `mapstructure:"step_minutes" yaml:"step_minutes" validate:"gte=5,lte=240"`
	BufferMinutes  int  `mapstructure:"buffer_minutes" yaml:"buffer_minutes" validate:"gte=0,lte=120"`
	ExcludeMorning bool `mapstructure:"exclude_morning" yaml:"exclude_morning"`
	MorningEnd     int  `mapstructure:"morning_end" yaml:"morning_end" validate:"gte=0,lte=24"`
}

// Vocabulary gathers every keyword list used by the heuristics.
type Vocabulary struct {
	EventPriorities keywords.Table      `mapstructure:"event_priorities" yaml:"event_priorities"`
	Sport           keywords.Set        `mapstructure:"sport" yaml:"sport"`
	CallSession     keywords.Set        `mapstructure:"call_session" yaml:"call_session"`
	MorningTags     keywords.Set        `mapstructure:"morning_tags" yaml:"morning_tags"`
	AfternoonTags   keywords.Set        `mapstructure:"afternoon_tags" yaml:"afternoon_tags"`
	WorkSession     keywords.Set        `mapstructure:"work_session" yaml:"work_session"`
	Calls           keywords.Set        `mapstructure:"calls" yaml:"calls"`
	Scoring         priority.Vocabulary `mapstructure:"scoring" yaml:"scoring"`
}

// InboxRule routes inbox tasks matching Keywords to Project, a project name or id.
type InboxRule struct {
	Keywords keywords.Set `mapstructure:"keywords" yaml:"keywords" validate:"min=1"`
	Project  string       `mapstructure:"project" yaml:"project" validate:"required"`
}

type Serve struct {
	IntervalMinutes int `mapstructure:"interval_minutes" yaml:"interval_minutes" validate:"gte=5"`
}

type History struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity" validate:"gte=1"`
}

func Default() *Config {
	sv := slot.DefaultVocabulary()
	cv := conflict.DefaultVocabulary()
	sc := slot.DefaultConfig()
	return &Config{
		Calendar: "Tasks",
		Timezone: "Europe/Paris",
		CRM: CRM{
			CallPrefix:   "Appel",
			CallPriority: priority.P2High.NativePriority(),
		},
		Schedule: Schedule{
			HorizonDays:         load.DefaultHorizonDays,
			DailyCap:            load.DefaultCap,
			ConflictHorizonDays: 14,
			BlockMinutes:        60,
		},
		WorkHours: WorkHours{
			Start:       sc.WorkStartHour,
			End:         sc.WorkEndHour,
			LunchStart:  sc.LunchStartHour,
			LunchEnd:    sc.LunchEndHour,
			SportDayEnd: sc.SportDayWorkEndHour,
			StepMinutes: int(sc.Step / time.Minute),
			MorningEnd:  sc.MorningEndHour,
		},
		Weights:    priority.DefaultWeights(),
		TagWeights: priority.DefaultTagWeights(),
		Keywords: Vocabulary{
			EventPriorities: sv.EventPriorities,
			Sport:           sv.Sport,
			CallSession:     sv.CallSession,
			MorningTags:     sv.MorningTags,
			AfternoonTags:   sv.AfternoonTags,
			WorkSession:     cv.WorkSession,
			Calls:           cv.Calls,
			Scoring:         priority.DefaultVocabulary(),
		},
		Inbox: []InboxRule{
			{Keywords: keywords.Set{"client", "prospect", "devis", "facture", "crm", "réunion", "rdv", "appel"}, Project: "Pro"},
			{Keywords: keywords.Set{"famille", "courses", "maison", "sport", "perso"}, Project: "Perso"},
		},
		Serve:   Serve{IntervalMinutes: 60},
		History: History{Capacity: history.DefaultCapacity},
	}
}

// GetConfigPath is ~/.config/tempo/config.yaml.
func GetConfigPath() (string, error) {
	xdgHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(xdgHome, ".config", xdgAppName, configFile), nil
}

// Load layers defaults, the YAML file at path (optional) and TEMPO_ variables.
func Load(fs afero.Fs, path string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(filepath.Dir(path), ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}
	// secrets are absent from the marshalled defaults; register them for env lookup
	v.SetDefault("ticktick.token", "")
	v.SetDefault("crm.api_key", "")

	data, err := afero.ReadFile(fs, path)
	switch {
	case err == nil:
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and that the weights sum to 1.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	w := c.Weights
	if sum := w.Complexity + w.Urgency + w.Duration + w.Context; math.Abs(sum-1) > 0.01 {
		return fmt.Errorf("%w: weights sum to %.2f, want 1", ErrInvalid, sum)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Save writes the configuration as YAML. Tokens are left out.
func Save(fs afero.Fs, path string, cfg *Config) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, path, data, 0600)
}

// Watch reloads the file at path whenever it changes and hands every valid
// result to onChange. Invalid edits are logged and ignored.
func Watch(path string, onChange func(*Config)) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(afero.NewOsFs(), path)
		if err != nil {
			log.Printf("Warning: ignoring config change in %s: %v", e.Name, err)
			return
		}
		log.Printf("Reloaded config from %s", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c *Config) SlotConfig(loc *time.Location) slot.Config {
	wh := c.WorkHours
	return slot.Config{
		WorkStartHour:       wh.Start,
		WorkEndHour:         wh.End,
		LunchStartHour:      wh.LunchStart,
		LunchEndHour:        wh.LunchEnd,
		Step:                time.Duration(wh.StepMinutes) * time.Minute,
		Buffer:              time.Duration(wh.BufferMinutes) * time.Minute,
		ExcludeMorning:      wh.ExcludeMorning,
		MorningEndHour:      wh.MorningEnd,
		SportDayWorkEndHour: wh.SportDayEnd,
		Location:            loc,
	}
}

func (c *Config) SlotVocabulary() slot.Vocabulary {
	k := c.Keywords
	return slot.Vocabulary{
		EventPriorities: k.EventPriorities,
		Sport:           k.Sport,
		CallSession:     k.CallSession,
		MorningTags:     k.MorningTags,
		AfternoonTags:   k.AfternoonTags,
	}
}

func (c *Config) ConflictVocabulary() conflict.Vocabulary {
	return conflict.Vocabulary{
		Priorities:  c.Keywords.EventPriorities,
		WorkSession: c.Keywords.WorkSession,
		Calls:       c.Keywords.Calls,
	}
}
