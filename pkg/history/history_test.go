package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/tempo/pkg/adjust"
	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, capacity int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"), capacity)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.Now = func() time.Time { return t0 }
	return s
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tempo", "history.db")
	s, err := Open(path, 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, DefaultCapacity, s.capacity)
}

func TestRecordAndList(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()

	before := model.Task{ID: "a", Title: "Facture"}
	after := before.WithDueDate(t0.AddDate(0, 0, 2), true)
	require.NoError(t, s.Record(ctx, "assign", before, after))

	moved := after.WithDueDate(t0.AddDate(0, 0, 5), true)
	require.NoError(t, s.Record(ctx, "reschedule", after, moved))

	changes, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "reschedule", changes[0].Op)
	assert.Equal(t, "assign", changes[1].Op)
	assert.Equal(t, "Facture", changes[1].Title)
	assert.True(t, changes[1].BeforeDue.IsZero())
	assert.True(t, changes[1].AfterDue.Equal(t0.AddDate(0, 0, 2)))
	assert.True(t, changes[1].AfterAllDay)
	assert.True(t, changes[1].At.Equal(t0))
	assert.NotEqual(t, changes[0].ID, changes[1].ID)

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordTrimsToCapacity(t *testing.T) {
	s := newTestStore(t, 3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		task := model.Task{ID: fmt.Sprintf("t%d", i)}
		require.NoError(t, s.Record(ctx, "assign", task, task.WithDueDate(t0, true)))
	}

	changes, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, "t4", changes[0].TaskID)
	assert.Equal(t, "t2", changes[2].TaskID)
}

func TestPopRestoresPreviousDueDate(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()

	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	due := time.Date(2026, 10, 21, 14, 30, 0, 0, paris)
	before := model.Task{ID: "a", Title: "Appel", DueDate: due}
	after := before.WithDueDate(due.AddDate(0, 0, 3), false)
	require.NoError(t, s.Record(ctx, "reschedule", before, after))

	c, err := s.Pop(ctx)
	require.NoError(t, err)
	restored := c.Restore(after)
	assert.True(t, restored.DueDate.Equal(due))
	assert.False(t, restored.IsAllDay)
	assert.Equal(t, "Appel", restored.Title)

	_, err = s.Pop(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestChangeString(t *testing.T) {
	c := Change{Op: "assign", Title: "Facture", AfterDue: t0, At: t0}
	assert.Equal(t, `2026-10-19 08:00 assign "Facture": none -> 2026-10-19 08:00`, c.String())
}

type memTasks struct {
	mu     sync.Mutex
	tasks  map[string]model.Task
	writes int
}

func (m *memTasks) ListActive(ctx context.Context) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Task
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (m *memTasks) ListCompleted(ctx context.Context, since time.Time) ([]model.Task, error) {
	return nil, nil
}

func (m *memTasks) Update(ctx context.Context, t model.Task) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	t.ModifiedTime = t0.Add(time.Duration(m.writes) * time.Second)
	m.tasks[t.ID] = t
	return t, nil
}

func TestUndoIsNotRedoneByTheNextRun(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()
	tasks := &memTasks{tasks: map[string]model.Task{
		"a": {ID: "a", Title: "Devis", Priority: 5, ModifiedTime: t0.Add(-time.Hour)},
	}}
	adj := adjust.New(tasks, adjust.Config{Location: time.UTC})
	adj.Now = func() time.Time { return t0 }
	adj.SetHistory(s)

	state, rep, err := adj.Run(ctx, snapshot.New())
	require.NoError(t, err)
	require.Equal(t, 1, rep.DatesAssigned)
	require.True(t, tasks.tasks["a"].HasDueDate())

	reverted, err := s.Undo(ctx, tasks, &state, 5)
	require.NoError(t, err)
	require.Len(t, reverted, 1)
	assert.Equal(t, "assign", reverted[0].Op)
	assert.False(t, tasks.tasks["a"].HasDueDate())
	assert.False(t, state.Changed(tasks.tasks["a"]))

	_, rep, err = adj.Run(ctx, state)
	require.NoError(t, err)
	assert.Zero(t, rep.TasksAnalyzed)
	assert.Zero(t, rep.DatesAssigned)
	assert.False(t, tasks.tasks["a"].HasDueDate(), "the undone assignment stays undone")

	changes, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestUndoSkipsInactiveTasks(t *testing.T) {
	s := newTestStore(t, 10)
	ctx := context.Background()
	gone := model.Task{ID: "gone", Title: "Archivé"}
	require.NoError(t, s.Record(ctx, "assign", gone, gone.WithDueDate(t0, true)))

	tasks := &memTasks{tasks: map[string]model.Task{}}
	state := snapshot.New()
	reverted, err := s.Undo(ctx, tasks, &state, 1)
	require.NoError(t, err)
	assert.Empty(t, reverted)
	assert.Zero(t, tasks.writes)

	_, err = s.Pop(ctx)
	assert.ErrorIs(t, err, ErrEmpty, "the skipped change is consumed")
}
