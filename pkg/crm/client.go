// Package crm reads prospect records from the CRM so the daily run can seed
// follow-up calls.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harrisonrobin/tempo/pkg/keywords"
	"github.com/harrisonrobin/tempo/pkg/retry"
	"golang.org/x/oauth2"
)

// HotScore is the lowest score treated as hot when the status is unset.
const HotScore = 70

type Lead struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Company      string    `json:"company,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Status       string    `json:"status,omitempty"`
	Score        int       `json:"score,omitempty"`
	LastContact  time.Time `json:"last_contact,omitempty"`
	NextFollowUp time.Time `json:"next_follow_up,omitempty"`
}

// IsHot reports whether the lead deserves a call soon.
func (l Lead) IsHot() bool {
	switch keywords.Fold(l.Status) {
	case "hot", "chaud":
		return true
	case "cold", "froid", "lost", "perdu", "won", "gagne":
		return false
	}
	return l.Score >= HotScore
}

// CallTitle is the title of the follow-up task seeded for this lead.
func (l Lead) CallTitle(prefix string) string {
	if l.Company != "" && !strings.EqualFold(l.Company, l.Name) {
		return fmt.Sprintf("%s %s (%s)", prefix, l.Name, l.Company)
	}
	return prefix + " " + l.Name
}

type page struct {
	Leads []Lead `json:"leads"`
	Next  string `json:"next,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Policy
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient authenticates every request with the CRM API key as a bearer token.
func NewClient(ctx context.Context, baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey})),
		retry:   retry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListLeads follows the cursor until the CRM returns no next page.
func (c *Client) ListLeads(ctx context.Context) ([]Lead, error) {
	var leads []Lead
	cursor := ""
	for {
		p, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing leads: %w", err)
		}
		leads = append(leads, p.Leads...)
		if p.Next == "" || p.Next == cursor {
			return leads, nil
		}
		cursor = p.Next
	}
}

func (c *Client) fetchPage(ctx context.Context, cursor string) (page, error) {
	endpoint := c.baseURL + "/leads"
	if cursor != "" {
		endpoint += "?cursor=" + url.QueryEscape(cursor)
	}

	var p page
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
		p = page{}
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return fmt.Errorf("decoding leads: %w", err)
		}
		return nil
	})
	return p, err
}
