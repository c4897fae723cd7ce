package crm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/harrisonrobin/tempo/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p := retry.Default()
	p.MaxAttempts = 3
	p.Backoff = gax.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}
	return NewClient(context.Background(), srv.URL+"/", "key", WithRetry(p))
}

func TestListLeadsFollowsCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "/leads", r.URL.Path)
		switch r.URL.Query().Get("cursor") {
		case "":
			io.WriteString(w, `{"leads":[{"id":"l1","name":"Dupont","status":"chaud"}],"next":"c2"}`)
		case "c2":
			io.WriteString(w, `{"leads":[{"id":"l2","name":"Martin","company":"Acme","score":40,
				"last_contact":"2026-10-12T10:00:00Z"}]}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})

	leads, err := c.ListLeads(context.Background())
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "Dupont", leads[0].Name)
	assert.True(t, leads[0].IsHot())
	assert.False(t, leads[1].IsHot())
	assert.True(t, leads[1].LastContact.Equal(time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)))
}

func TestListLeadsRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"leads":[]}`)
	})

	leads, err := c.ListLeads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, leads)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestListLeadsSurfacesClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	_, err := c.ListLeads(context.Background())
	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "bad key", se.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLeadHeuristics(t *testing.T) {
	cases := []struct {
		lead Lead
		hot  bool
	}{
		{Lead{Status: "Hot"}, true},
		{Lead{Status: "perdu", Score: 95}, false},
		{Lead{Score: 70}, true},
		{Lead{Score: 69}, false},
		{Lead{Status: "gagné"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.hot, tc.lead.IsHot(), "%+v", tc.lead)
	}

	assert.Equal(t, "Appel Dupont", Lead{Name: "Dupont"}.CallTitle("Appel"))
	assert.Equal(t, "Appel Martin (Acme)", Lead{Name: "Martin", Company: "Acme"}.CallTitle("Appel"))
}
