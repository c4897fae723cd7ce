package ticktick

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harrisonrobin/tempo/pkg/model"
)

const (
	StatusOpen      = 0
	StatusCompleted = 2
)

type Time struct {
	time.Time
}

const (
	timeLayout       = "2006-01-02T15:04:05-0700"
	timeLayoutMillis = "2006-01-02T15:04:05.000-0700"
)

// UnmarshalJSON accepts the API layout with or without milliseconds.
func (ct *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		ct.Time = time.Time{}
		return nil
	}

	t, err := time.Parse(timeLayout, s)
	if err != nil {
		var err2 error
		if t, err2 = time.Parse(timeLayoutMillis, s); err2 != nil {
			return fmt.Errorf("failed to parse TickTick time string '%s': %w", s, err)
		}
	}
	ct.Time = t
	return nil
}

func (ct Time) MarshalJSON() ([]byte, error) {
	if ct.Time.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + ct.Time.Format(timeLayout) + `"`), nil
}

func timePtr(t time.Time) *Time {
	if t.IsZero() {
		return nil
	}
	return &Time{Time: t}
}

func (ct *Time) value() time.Time {
	if ct == nil {
		return time.Time{}
	}
	return ct.Time
}

// Task is the API representation. Fields tempo never edits are carried through
// updates untouched.
type Task struct {
	ID            string          `json:"id,omitempty"`
	ProjectID     string          `json:"projectId"`
	Title         string          `json:"title"`
	Content       string          `json:"content,omitempty"`
	Desc          string          `json:"desc,omitempty"`
	Priority      int             `json:"priority"`
	Status        int             `json:"status"`
	DueDate       *Time           `json:"dueDate"`
	StartDate     *Time           `json:"startDate,omitempty"`
	IsAllDay      bool            `json:"isAllDay"`
	TimeZone      string          `json:"timeZone,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Reminders     []string        `json:"reminders,omitempty"`
	RepeatFlag    string          `json:"repeatFlag,omitempty"`
	SortOrder     int64           `json:"sortOrder,omitempty"`
	Items         json.RawMessage `json:"items,omitempty"`
	ModifiedTime  *Time           `json:"modifiedTime,omitempty"`
	CreatedTime   *Time           `json:"createdTime,omitempty"`
	CompletedTime *Time           `json:"completedTime,omitempty"`
}

type Project struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Closed bool   `json:"closed,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

type projectData struct {
	Project Project `json:"project"`
	Tasks   []Task  `json:"tasks"`
}

// IsInbox reports whether projectID names the account's inbox.
func IsInbox(projectID string) bool {
	return strings.HasPrefix(projectID, "inbox")
}

// DecodeTasks reads either a JSON array of tasks or a stream of task objects.
func DecodeTasks(r io.Reader) ([]Task, error) {
	br := bufio.NewReader(r)
	if first, err := peekNonSpace(br); err == nil && first == '[' {
		var tasks []Task
		if err := json.NewDecoder(br).Decode(&tasks); err != nil {
			return nil, fmt.Errorf("failed to decode task json: %w", err)
		}
		return tasks, nil
	}

	var tasks []Task
	decoder := json.NewDecoder(br)
	for {
		var task Task
		if err := decoder.Decode(&task); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode task json: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := br.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}

// ToModel converts an API task. Tags that parse as a duration ("45m", "1h30m")
// set the time estimate.
func (t Task) ToModel() model.Task {
	m := model.Task{
		ID:           t.ID,
		Title:        t.Title,
		Content:      t.Content,
		DueDate:      t.DueDate.value(),
		IsAllDay:     t.IsAllDay,
		Priority:     t.Priority,
		Tags:         append([]string(nil), t.Tags...),
		ProjectID:    t.ProjectID,
		Status:       model.StatusActive,
		ModifiedTime: t.ModifiedTime.value(),
		CreatedTime:  t.CreatedTime.value(),
	}
	if t.Status == StatusCompleted {
		m.Status = model.StatusCompleted
	}
	for _, tag := range t.Tags {
		if d, err := time.ParseDuration(tag); err == nil && d > 0 {
			m.TimeEstimate = int(d.Minutes())
			break
		}
	}
	return m
}

// Merge writes the fields tempo manages onto a copy of the API task.
func (t Task) Merge(m model.Task) Task {
	out := t
	out.ID = m.ID
	out.Title = m.Title
	out.ProjectID = m.ProjectID
	out.Priority = m.Priority
	out.IsAllDay = m.IsAllDay
	if t.StartDate != nil && t.DueDate != nil && t.StartDate.Equal(t.DueDate.Time) {
		out.StartDate = timePtr(m.DueDate)
	}
	out.DueDate = timePtr(m.DueDate)
	out.Tags = append([]string(nil), m.Tags...)
	out.Content = m.Content
	out.Status = StatusOpen
	if m.Status == model.StatusCompleted {
		out.Status = StatusCompleted
	}
	return out
}
