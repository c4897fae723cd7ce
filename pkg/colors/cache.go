// Package colors hands out Google Calendar color ids to projects, recycling the
// least recently used one once all eleven are taken.
package colors

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

const (
	// NoProject is graphite, used for tasks without a project.
	NoProject = "8"
	maxColors = 11
)

type ProjectState struct {
	ColorID      string    `json:"color_id"`
	LastAssigned time.Time `json:"last_assigned"`
}

type ColorCache struct {
	Path     string
	Projects map[string]*ProjectState `json:"projects"`
	Now      func() time.Time
	fs       afero.Fs
	dirty    bool
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tempo", "project_colors.json"), nil
}

func NewColorCache(fs afero.Fs, path string) (*ColorCache, error) {
	cache := &ColorCache{
		Path:     path,
		Projects: make(map[string]*ProjectState),
		Now:      time.Now,
		fs:       fs,
	}
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := cache.Load(); err != nil {
			return nil, err
		}
	}
	return cache, nil
}

func (c *ColorCache) Load() error {
	f, err := c.fs.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&c.Projects); err != nil {
		return err
	}
	if c.Projects == nil {
		c.Projects = make(map[string]*ProjectState)
	}
	return nil
}

func (c *ColorCache) Save() error {
	if !c.dirty {
		return nil
	}
	if err := c.fs.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		log.Printf("Error creating color cache directory: %v", err)
		return err
	}

	f, err := c.fs.Create(c.Path)
	if err != nil {
		log.Printf("Error creating color cache file: %v", err)
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(c.Projects); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// GetColorID returns the color of project, assigning one on first use.
func (c *ColorCache) GetColorID(project string) string {
	if project == "" {
		return NoProject
	}

	if state, exists := c.Projects[project]; exists {
		state.LastAssigned = c.Now()
		c.dirty = true
		return state.ColorID
	}
	return c.assignColor(project)
}

func (c *ColorCache) assignColor(project string) string {
	used := make(map[string]bool)
	for _, s := range c.Projects {
		used[s.ColorID] = true
	}

	for i := 1; i <= maxColors; i++ {
		id := strconv.Itoa(i)
		if id == NoProject || used[id] {
			continue
		}
		c.claim(project, id)
		return id
	}

	var oldest string
	for p, s := range c.Projects {
		if oldest == "" || s.LastAssigned.Before(c.Projects[oldest].LastAssigned) {
			oldest = p
		}
	}
	if oldest == "" {
		return "1"
	}
	recycled := c.Projects[oldest].ColorID
	delete(c.Projects, oldest)
	c.claim(project, recycled)
	return recycled
}

func (c *ColorCache) claim(project, id string) {
	c.Projects[project] = &ProjectState{ColorID: id, LastAssigned: c.Now()}
	c.dirty = true
}
