package colors

import (
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, fs afero.Fs) *ColorCache {
	t.Helper()
	c, err := NewColorCache(fs, "/cfg/project_colors.json")
	require.NoError(t, err)
	clock := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	c.Now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return c
}

func TestGetColorIDIsStable(t *testing.T) {
	c := newTestCache(t, afero.NewMemMapFs())
	assert.Equal(t, NoProject, c.GetColorID(""))

	first := c.GetColorID("work")
	assert.Equal(t, first, c.GetColorID("work"))
	assert.NotEqual(t, first, c.GetColorID("home"))
}

func TestRecyclesLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t, afero.NewMemMapFs())
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		id := c.GetColorID(fmt.Sprintf("p%d", i))
		assert.NotEqual(t, NoProject, id)
		assert.False(t, seen[id], "color %s handed out twice", id)
		seen[id] = true
	}

	// p0 is refreshed, so p1 becomes the oldest.
	c.GetColorID("p0")
	p1 := c.Projects["p1"].ColorID
	assert.Equal(t, p1, c.GetColorID("p10"))
	assert.NotContains(t, c.Projects, "p1")
}

func TestSaveAndReload(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := newTestCache(t, fs)
	id := c.GetColorID("work")
	require.NoError(t, c.Save())

	reloaded := newTestCache(t, fs)
	require.Contains(t, reloaded.Projects, "work")
	assert.Equal(t, id, reloaded.GetColorID("work"))
}
