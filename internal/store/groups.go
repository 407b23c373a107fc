package store

import (
	"encoding/json"
	"os"
	"sync"

	"castbot/internal/post"
	"castbot/pkg/logx"
)

// Groups is the destination registry: destination id -> display name.
type Groups struct {
	path string
	log  logx.Logger

	mu    sync.Mutex
	cache map[string]string
}

func NewGroups(path string, log logx.Logger) *Groups {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Groups{path: path, log: log}
}

// List returns the registered destinations.
func (g *Groups) List() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.loadLocked()
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Register adds or renames a destination.
func (g *Groups) Register(id, title string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.loadLocked()
	m[id] = title
	return g.saveLocked(m)
}

// Unregister removes a destination, returning its title when it existed.
func (g *Groups) Unregister(id string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.loadLocked()
	title, ok := m[id]
	if !ok {
		return "", false, nil
	}
	delete(m, id)
	return title, true, g.saveLocked(m)
}

// Clear removes every destination.
func (g *Groups) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saveLocked(map[string]string{})
}

func (g *Groups) loadLocked() map[string]string {
	if g.cache == nil {
		g.cache = map[string]string{}
	}
	b, err := os.ReadFile(g.path)
	if err != nil {
		if !os.IsNotExist(err) {
			g.log.Warn("groups file unreadable; using last good state", logx.String("path", g.path), logx.Err(err))
		}
		return g.cache
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		g.log.Warn("groups file corrupt; using last good state", logx.String("path", g.path), logx.Err(err))
		return g.cache
	}
	if m == nil {
		m = map[string]string{}
	}
	g.cache = m
	return m
}

func (g *Groups) saveLocked(m map[string]string) error {
	g.cache = m
	if err := writeSnapshot(g.path, m); err != nil {
		g.log.Error("groups file write failed; in-memory state is source of truth", logx.String("path", g.path), logx.Err(err))
		return post.WrapErr(post.ErrPersistence, "write groups file", err)
	}
	return nil
}
