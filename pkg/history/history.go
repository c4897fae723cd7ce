// Package history keeps a bounded log of due-date writes in SQLite so the last
// changes made by an adjustment run can be listed and undone.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/snapshot"
	_ "modernc.org/sqlite"
)

// DefaultCapacity is how many changes are kept before the oldest are dropped.
const DefaultCapacity = 200

// ErrEmpty is returned by Pop when there is nothing left to undo.
var ErrEmpty = errors.New("history is empty")

// Change is one recorded due-date write.
type Change struct {
	ID           string
	Op           string
	TaskID       string
	Title        string
	BeforeDue    time.Time
	BeforeAllDay bool
	AfterDue     time.Time
	AfterAllDay  bool
	At           time.Time
}

// Restore returns task with the due date it had before this change.
func (c Change) Restore(task model.Task) model.Task {
	return task.WithDueDate(c.BeforeDue, c.BeforeAllDay)
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s %q: %s -> %s", c.At.Format("2006-01-02 15:04"), c.Op, c.Title, formatDue(c.BeforeDue), formatDue(c.AfterDue))
}

func formatDue(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return t.Format("2006-01-02 15:04")
}

type Store struct {
	db       *sql.DB
	capacity int
	Now      func() time.Time
}

// DefaultPath is ~/.config/tempo/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tempo", "history.db"), nil
}

// Open creates the database if needed and runs migrations.
func Open(dbPath string, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, capacity: capacity, Now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		op TEXT NOT NULL,
		task_id TEXT NOT NULL,
		title TEXT,
		before_due TEXT,
		before_all_day INTEGER NOT NULL DEFAULT 0,
		after_due TEXT,
		after_all_day INTEGER NOT NULL DEFAULT 0,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_changes_task_id ON changes(task_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends a change and trims the log to its capacity.
func (s *Store) Record(ctx context.Context, op string, before, after model.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO changes (id, op, task_id, title, before_due, before_all_day, after_due, after_all_day, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), op, before.ID, before.Title,
		encodeTime(before.DueDate), before.IsAllDay,
		encodeTime(after.DueDate), after.IsAllDay,
		encodeTime(s.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM changes WHERE seq NOT IN (SELECT seq FROM changes ORDER BY seq DESC LIMIT ?)`,
		s.capacity,
	)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return tx.Commit()
}

// List returns up to limit changes, newest first. A limit of 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Change, error) {
	query := `SELECT id, op, task_id, title, before_due, before_all_day, after_due, after_all_day, at FROM changes ORDER BY seq DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Pop removes and returns the most recent change.
func (s *Store) Pop(ctx context.Context) (Change, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, op, task_id, title, before_due, before_all_day, after_due, after_all_day, at FROM changes ORDER BY seq DESC LIMIT 1`)
	c, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Change{}, ErrEmpty
	}
	if err != nil {
		return Change{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM changes WHERE id = ?`, c.ID); err != nil {
		return Change{}, fmt.Errorf("delete change: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Change{}, err
	}
	return c, nil
}

// TaskStore is what Undo needs to read and rewrite tasks.
type TaskStore interface {
	ListActive(ctx context.Context) ([]model.Task, error)
	Update(ctx context.Context, t model.Task) (model.Task, error)
}

// Undo reverts up to count of the newest changes and returns the ones applied.
// Reverted tasks are recorded in state as seen, so the adjustment loop does not
// redo the change on its next run. Changes for tasks that are no longer active
// are dropped. Running out of history is not an error.
func (s *Store) Undo(ctx context.Context, tasks TaskStore, state *snapshot.State, count int) ([]Change, error) {
	active, err := tasks.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	byID := make(map[string]model.Task, len(active))
	for _, t := range active {
		byID[t.ID] = t
	}

	var reverted []Change
	for i := 0; i < count; i++ {
		c, err := s.Pop(ctx)
		if errors.Is(err, ErrEmpty) {
			return reverted, nil
		}
		if err != nil {
			return reverted, err
		}
		task, ok := byID[c.TaskID]
		if !ok {
			log.Printf("Warning: task %s is no longer active, skipping", c.TaskID)
			continue
		}
		updated, err := tasks.Update(ctx, c.Restore(task))
		if err != nil {
			return reverted, fmt.Errorf("reverting %s: %w", c.TaskID, err)
		}
		byID[updated.ID] = updated
		if updated.ModifiedTime.IsZero() {
			state.Forget(updated.ID)
		} else {
			state.Record(updated)
		}
		reverted = append(reverted, c)
	}
	return reverted, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChange(row scanner) (Change, error) {
	var c Change
	var title sql.NullString
	var beforeDue, afterDue sql.NullString
	var at string
	err := row.Scan(&c.ID, &c.Op, &c.TaskID, &title, &beforeDue, &c.BeforeAllDay, &afterDue, &c.AfterAllDay, &at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Change{}, err
		}
		return Change{}, fmt.Errorf("scan change: %w", err)
	}
	c.Title = title.String
	if c.BeforeDue, err = decodeTime(beforeDue.String); err != nil {
		return Change{}, err
	}
	if c.AfterDue, err = decodeTime(afterDue.String); err != nil {
		return Change{}, err
	}
	if c.At, err = decodeTime(at); err != nil {
		return Change{}, err
	}
	return c, nil
}

// Times are stored as RFC 3339 text so the offset survives; zero is empty.
func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
