package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harrisonrobin/tempo/pkg/adjust"
	"github.com/harrisonrobin/tempo/pkg/auth"
	"github.com/harrisonrobin/tempo/pkg/config"
	"github.com/harrisonrobin/tempo/pkg/conflict"
	"github.com/harrisonrobin/tempo/pkg/crm"
	"github.com/harrisonrobin/tempo/pkg/daily"
	"github.com/harrisonrobin/tempo/pkg/google"
	"github.com/harrisonrobin/tempo/pkg/history"
	"github.com/harrisonrobin/tempo/pkg/jobs"
	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/priority"
	"github.com/harrisonrobin/tempo/pkg/slot"
	"github.com/harrisonrobin/tempo/pkg/snapshot"
	"github.com/harrisonrobin/tempo/pkg/ticktick"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	calendarName string
)

func main() {
	root := &cobra.Command{
		Use:           "tempo",
		Short:         "Keep TickTick due dates and Google Calendar in balance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/tempo/config.yaml)")
	root.PersistentFlags().StringVar(&calendarName, "calendar", "", "Google Calendar name (overrides config)")

	root.AddCommand(
		adjustCmd(),
		dailyCmd(),
		conflictsCmd(),
		serveCmd(),
		undoCmd(),
		historyCmd(),
		authCmd(),
		setCalendarCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// app holds what every command loads first.
type app struct {
	fs   afero.Fs
	path string

	mu  sync.RWMutex
	cfg *config.Config
	loc *time.Location
}

func loadApp() (*app, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return nil, err
		}
	}
	a := &app{fs: afero.NewOsFs(), path: path}
	cfg, err := config.Load(a.fs, path)
	if err != nil {
		return nil, err
	}
	if calendarName != "" {
		cfg.Calendar = calendarName
	}
	if err := a.setConfig(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) setConfig(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg, a.loc = cfg, loc
	return nil
}

func (a *app) config() (*config.Config, *time.Location) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg, a.loc
}

func (a *app) tasks(ctx context.Context) (*ticktick.Client, error) {
	cfg, loc := a.config()
	if cfg.TickTick.Token == "" {
		return nil, errors.New("no TickTick token: set TEMPO_TICKTICK_TOKEN or ticktick.token")
	}
	return ticktick.NewClient(ctx, cfg.TickTick.BaseURL, cfg.TickTick.Token, ticktick.WithLocation(loc)), nil
}

func (a *app) leads(ctx context.Context) daily.LeadStore {
	cfg, _ := a.config()
	if cfg.CRM.BaseURL == "" {
		return nil
	}
	return crm.NewClient(ctx, cfg.CRM.BaseURL, cfg.CRM.APIKey)
}

func (a *app) calendar(ctx context.Context) (*google.CalendarClient, string, error) {
	cfg, loc := a.config()
	client, err := google.NewClient(ctx, a.fs, loc)
	if err != nil {
		return nil, "", fmt.Errorf("creating Google Calendar client: %w", err)
	}
	calID, err := client.ResolveCalendarID(ctx, cfg.Calendar)
	if err != nil {
		return nil, "", err
	}
	return client, calID, nil
}

func (a *app) finder() *slot.Finder {
	cfg, loc := a.config()
	return slot.NewFinder(cfg.SlotConfig(loc), cfg.SlotVocabulary())
}

func (a *app) resolver(f *slot.Finder) *conflict.Resolver {
	cfg, loc := a.config()
	return conflict.NewResolver(cfg.ConflictVocabulary(), f, cfg.Schedule.ConflictHorizonDays, loc)
}

func (a *app) adjuster(store adjust.TaskStore, hist adjust.HistorySink) *adjust.Adjuster {
	cfg, loc := a.config()
	adj := adjust.New(store, adjust.Config{
		HorizonDays: cfg.Schedule.HorizonDays,
		DailyCap:    cfg.Schedule.DailyCap,
		Location:    loc,
	})
	if hist != nil {
		adj.SetHistory(hist)
	}
	return adj
}

func (a *app) snapshots() (*snapshot.Store, error) {
	path, err := snapshot.DefaultPath()
	if err != nil {
		return nil, err
	}
	return snapshot.NewStore(a.fs, path), nil
}

func (a *app) history() (*history.Store, error) {
	cfg, _ := a.config()
	path, err := history.DefaultPath()
	if err != nil {
		return nil, err
	}
	return history.Open(path, cfg.History.Capacity)
}

// withSnapshot loads the snapshot, hands it to fn, and saves whatever fn returns.
func (a *app) withSnapshot(fn func(snapshot.State) (snapshot.State, error)) error {
	store, err := a.snapshots()
	if err != nil {
		return err
	}
	prev, err := store.Load()
	if err != nil {
		log.Printf("Warning: starting from an empty snapshot: %v", err)
		prev = snapshot.New()
	}
	next, runErr := fn(prev)
	if err := store.Save(&next); err != nil {
		log.Printf("Warning: failed to save snapshot: %v", err)
	}
	return runErr
}

func adjustCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adjust",
		Short: "Date undated tasks and spread overloaded days",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			tasks, err := a.tasks(ctx)
			if err != nil {
				return err
			}
			hist, err := a.history()
			if err != nil {
				log.Printf("Warning: undo history disabled: %v", err)
			} else {
				defer hist.Close()
			}

			return a.withSnapshot(func(prev snapshot.State) (snapshot.State, error) {
				state, rep, err := a.adjuster(tasks, historySink(hist)).Run(ctx, prev)
				if err != nil {
					return state, err
				}
				renderAdjust(os.Stdout, rep)
				return state, nil
			})
		},
	}
}

func dailyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Run the full daily routine",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			rep, err := runDaily(cmd.Context(), a)
			if err != nil {
				return err
			}
			renderDaily(os.Stdout, rep)
			return nil
		},
	}
}

func runDaily(ctx context.Context, a *app) (daily.Report, error) {
	tasks, err := a.tasks(ctx)
	if err != nil {
		return daily.Report{}, err
	}
	cal, calID, err := a.calendar(ctx)
	if err != nil {
		return daily.Report{}, err
	}
	defer func() {
		if err := cal.Flush(); err != nil {
			log.Printf("Warning: failed to save calendar state: %v", err)
		}
	}()
	hist, err := a.history()
	if err != nil {
		log.Printf("Warning: undo history disabled: %v", err)
	} else {
		defer hist.Close()
	}

	cfg, loc := a.config()
	finder := a.finder()
	rules := make([]daily.InboxRule, len(cfg.Inbox))
	for i, r := range cfg.Inbox {
		rules[i] = daily.InboxRule{Keywords: r.Keywords, Project: r.Project}
	}
	runner := daily.New(daily.Deps{
		Tasks:    tasks,
		Calendar: cal,
		Leads:    a.leads(ctx),
		Adjuster: a.adjuster(tasks, historySink(hist)),
		Resolver: a.resolver(finder),
		Finder:   finder,
		Scorer:   priority.NewScorer(cfg.Weights, cfg.Keywords.Scoring, cfg.TagWeights, loc),
	}, daily.Config{
		CalendarID:          calID,
		Location:            loc,
		Inbox:               rules,
		IsInbox:             ticktick.IsInbox,
		CallPrefix:          cfg.CRM.CallPrefix,
		CallPriority:        cfg.CRM.CallPriority,
		ConflictHorizonDays: cfg.Schedule.ConflictHorizonDays,
		BlockDuration:       time.Duration(cfg.Schedule.BlockMinutes) * time.Minute,
	})

	var rep daily.Report
	err = a.withSnapshot(func(prev snapshot.State) (snapshot.State, error) {
		var state snapshot.State
		var err error
		state, rep, err = runner.Run(ctx, prev)
		return state, err
	})
	return rep, err
}

// historySink avoids handing a typed nil to the adjuster.
func historySink(h *history.Store) adjust.HistorySink {
	if h == nil {
		return nil
	}
	return h
}

func conflictsCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Show (or apply with --apply) the moves that clear calendar conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cal, calID, err := a.calendar(ctx)
			if err != nil {
				return err
			}
			cfg, loc := a.config()
			start := model.Day(time.Now(), loc)
			events, err := cal.ListEvents(ctx, calID, start, start.AddDate(0, 0, cfg.Schedule.ConflictHorizonDays))
			if err != nil {
				return err
			}

			resolver := a.resolver(a.finder())
			actions := resolver.Plan(events)
			renderPlan(os.Stdout, actions)
			if !apply || len(actions) == 0 {
				return nil
			}
			renderApply(os.Stdout, resolver.Apply(ctx, cal, calID, actions))
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "write the planned moves to the calendar")
	return cmd
}

func serveCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daily routine on a timer until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if err := config.Watch(a.path, func(cfg *config.Config) {
				if calendarName != "" {
					cfg.Calendar = calendarName
				}
				if err := a.setConfig(cfg); err != nil {
					log.Printf("Warning: ignoring reloaded config: %v", err)
				}
			}); err != nil {
				log.Printf("Warning: config reload disabled: %v", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if interval <= 0 {
				cfg, _ := a.config()
				interval = time.Duration(cfg.Serve.IntervalMinutes) * time.Minute
			}
			runner := jobs.New(context.WithoutCancel(ctx))
			trigger := func() {
				err := runner.Submit("daily", func(ctx context.Context) error {
					rep, err := runDaily(ctx, a)
					if err != nil {
						return err
					}
					renderDaily(os.Stdout, rep)
					return nil
				})
				if errors.Is(err, jobs.ErrBusy) {
					log.Printf("Previous run still in progress, skipping this tick")
				}
			}

			log.Printf("Running every %s; press Ctrl-C to stop", interval)
			trigger()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					trigger()
				case <-ctx.Done():
					log.Printf("Stopping after the current run")
					return runner.Shutdown(context.Background())
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between runs (default from config)")
	return cmd
}

func undoCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Revert the latest due-date changes",
		Long: `Revert the latest due-date changes recorded by adjust and daily.

Reverted tasks are marked as seen, so later runs leave them alone until they
change again. A reverted task on a day that is still over the cap moves again
if another task on that day changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			tasks, err := a.tasks(ctx)
			if err != nil {
				return err
			}
			hist, err := a.history()
			if err != nil {
				return err
			}
			defer hist.Close()

			return a.withSnapshot(func(state snapshot.State) (snapshot.State, error) {
				reverted, err := hist.Undo(ctx, tasks, &state, count)
				for _, c := range reverted {
					fmt.Printf("Reverted %s\n", c)
				}
				if err == nil && len(reverted) == 0 {
					fmt.Println("Nothing left to undo.")
				}
				return state, err
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of changes to revert")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded due-date changes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			hist, err := a.history()
			if err != nil {
				return err
			}
			defer hist.Close()
			changes, err := hist.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderHistory(os.Stdout, changes)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries (0 for all)")
	return cmd
}

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with Google Calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.Reset(); err != nil {
				return err
			}
			if _, err := auth.GetCalendarService(cmd.Context()); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			path, _ := auth.TokenPath()
			log.Printf("Authentication successful! Token saved to %s", path)
			return nil
		},
	}
}

func setCalendarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-calendar NAME",
		Short: "Set the default Google Calendar name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			cfg, _ := a.config()
			cfg.Calendar = args[0]
			if err := config.Save(a.fs, a.path, cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Printf("Default calendar set to: %s\n", args[0])
			return nil
		},
	}
}
