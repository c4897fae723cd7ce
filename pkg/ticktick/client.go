// Package ticktick is the task store adapter for the TickTick Open API.
package ticktick

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/harrisonrobin/tempo/pkg/keywords"
	"github.com/harrisonrobin/tempo/pkg/model"
	"github.com/harrisonrobin/tempo/pkg/retry"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const DefaultBaseURL = "https://api.ticktick.com/open/v1"

var ErrNotFound = errors.New("ticktick: not found")

type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Policy
	loc     *time.Location

	mu   sync.Mutex
	seen map[string]Task
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

// NewClient authenticates every request with a static bearer token.
func NewClient(ctx context.Context, baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})),
		retry:   retry.Default(),
		loc:     time.Local,
		seen:    make(map[string]Task),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/project", nil, &projects); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

// ResolveProject maps a project name or id to its id. Names are compared
// without case or accents; "inbox" always resolves to the inbox.
func (c *Client) ResolveProject(ctx context.Context, nameOrID string) (string, error) {
	if IsInbox(nameOrID) {
		return "inbox", nil
	}
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	want := keywords.Fold(strings.TrimSpace(nameOrID))
	for _, p := range projects {
		if p.ID == nameOrID || keywords.Fold(p.Name) == want {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: project %q", ErrNotFound, nameOrID)
}

// ListActive returns every open task of the inbox and all open projects.
func (c *Client) ListActive(ctx context.Context) ([]model.Task, error) {
	projects, err := c.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	ids := []string{"inbox"}
	for _, p := range projects {
		if !p.Closed {
			ids = append(ids, p.ID)
		}
	}

	results := make([][]Task, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			var data projectData
			if err := c.do(gctx, http.MethodGet, "/project/"+url.PathEscape(id)+"/data", nil, &data); err != nil {
				return fmt.Errorf("listing tasks of project %s: %w", id, err)
			}
			results[i] = data.Tasks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var tasks []model.Task
	for _, batch := range results {
		for _, t := range batch {
			if t.Status == StatusCompleted {
				continue
			}
			c.remember(t)
			tasks = append(tasks, t.ToModel())
		}
	}
	return tasks, nil
}

type completedQuery struct {
	StartDate *Time `json:"startDate,omitempty"`
	EndDate   *Time `json:"endDate,omitempty"`
}

// ListCompleted returns tasks completed since the given time.
func (c *Client) ListCompleted(ctx context.Context, since time.Time) ([]model.Task, error) {
	q := completedQuery{StartDate: timePtr(since), EndDate: timePtr(time.Now().In(c.loc))}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/task/completed", q, &raw); err != nil {
		return nil, fmt.Errorf("listing completed tasks: %w", err)
	}
	wire, err := DecodeTasks(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	tasks := make([]model.Task, 0, len(wire))
	for _, t := range wire {
		m := t.ToModel()
		m.Status = model.StatusCompleted
		tasks = append(tasks, m)
	}
	return tasks, nil
}

// Update writes the full task, merged over the last version read from the API.
func (c *Client) Update(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		return model.Task{}, errors.New("ticktick: update without task id")
	}
	body := c.base(t.ID).Merge(t)
	if body.TimeZone == "" {
		body.TimeZone = c.loc.String()
	}

	var out Task
	if err := c.do(ctx, http.MethodPost, "/task/"+url.PathEscape(t.ID), body, &out); err != nil {
		return model.Task{}, fmt.Errorf("updating task %s: %w", t.ID, err)
	}
	if out.ID == "" {
		log.Printf("Warning: empty response updating task %s, modification time unknown", t.ID)
		out = body
		out.ModifiedTime = nil
	}
	c.remember(out)
	return out.ToModel(), nil
}

func (c *Client) Create(ctx context.Context, t model.Task) (model.Task, error) {
	body := Task{}.Merge(t)
	body.ID = ""
	body.TimeZone = c.loc.String()

	var out Task
	if err := c.do(ctx, http.MethodPost, "/task", body, &out); err != nil {
		return model.Task{}, fmt.Errorf("creating task %q: %w", t.Title, err)
	}
	c.remember(out)
	return out.ToModel(), nil
}

func (c *Client) base(id string) Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[id]
}

func (c *Client) remember(t Task) {
	if t.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[t.ID] = t
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = b
	}

	return c.retry.Do(ctx, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
		if out == nil {
			return nil
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
		return nil
	})
}
