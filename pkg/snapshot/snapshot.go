// Package snapshot keeps the last-seen modification time of every task so that
// each adjustment run only analyzes what changed since the previous one.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/spf13/afero"
)

type Entry struct {
	ModifiedTime time.Time    `json:"modified_time"`
	DueDate      time.Time    `json:"due_date,omitempty"`
	Status       model.Status `json:"status"`
}

type State struct {
	Entries  map[string]Entry `json:"entries"`
	LastSync time.Time        `json:"last_sync"`
	dirty    bool
}

func New() State {
	return State{Entries: make(map[string]Entry)}
}

// IsEmpty is true before the first successful run.
func (s State) IsEmpty() bool {
	return len(s.Entries) == 0
}

// Changed reports whether t is new or was modified since it was recorded. On an
// empty snapshot every task counts as changed.
func (s State) Changed(t model.Task) bool {
	e, ok := s.Entries[t.ID]
	if !ok {
		return true
	}
	return !e.ModifiedTime.Equal(t.ModifiedTime)
}

// Diff returns the changed tasks in input order.
func (s State) Diff(tasks []model.Task) []model.Task {
	var changed []model.Task
	for _, t := range tasks {
		if s.Changed(t) {
			changed = append(changed, t)
		}
	}
	return changed
}

// Record stores the task's current modification time.
func (s *State) Record(t model.Task) {
	if s.Entries == nil {
		s.Entries = make(map[string]Entry)
	}
	next := Entry{ModifiedTime: t.ModifiedTime, DueDate: t.DueDate, Status: t.Status}
	if old, ok := s.Entries[t.ID]; ok && old.ModifiedTime.Equal(next.ModifiedTime) &&
		old.DueDate.Equal(next.DueDate) && old.Status == next.Status {
		return
	}
	s.Entries[t.ID] = next
	s.dirty = true
}

// Forget drops one entry so the task counts as changed on the next run.
func (s *State) Forget(id string) {
	if _, ok := s.Entries[id]; ok {
		delete(s.Entries, id)
		s.dirty = true
	}
}

// Prune drops entries for ids not in keep, so deleted tasks do not accumulate.
func (s *State) Prune(keep map[string]bool) int {
	removed := 0
	for id := range s.Entries {
		if !keep[id] {
			delete(s.Entries, id)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// Touch marks a completed sync.
func (s *State) Touch(at time.Time) {
	s.LastSync = at
	s.dirty = true
}

func (s State) Dirty() bool {
	return s.dirty
}

// Clone returns a deep copy; the adjuster works on a clone so a failed run leaves
// the caller's state untouched.
func (s State) Clone() State {
	c := State{Entries: make(map[string]Entry, len(s.Entries)), LastSync: s.LastSync, dirty: s.dirty}
	for id, e := range s.Entries {
		c.Entries[id] = e
	}
	return c
}

// Store persists a State as JSON.
type Store struct {
	fs   afero.Fs
	path string
}

func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// DefaultPath is ~/.config/tempo/snapshot.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tempo", "snapshot.json"), nil
}

func (st *Store) Path() string {
	return st.path
}

// Load reads the snapshot; a missing file yields an empty state.
func (st *Store) Load() (State, error) {
	f, err := st.fs.Open(st.path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return State{}, err
	}
	defer f.Close()

	s := New()
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return State{}, fmt.Errorf("decoding snapshot %s: %w", st.path, err)
	}
	if s.Entries == nil {
		s.Entries = make(map[string]Entry)
	}
	return s, nil
}

// Save writes s if it changed since it was loaded.
func (st *Store) Save(s *State) error {
	if !s.dirty {
		return nil
	}
	if err := st.fs.MkdirAll(filepath.Dir(st.path), 0700); err != nil {
		return err
	}

	f, err := st.fs.Create(st.path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s); err != nil {
		return err
	}
	s.dirty = false
	return nil
}
