// Package store persists castbot's durable state as whole-file JSON
// snapshots: the post records (posts.json) and the destination registry
// (groups.json). Every mutation is a read-modify-write of the full snapshot
// under one mutex; there is no incremental update format.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"castbot/internal/post"
	"castbot/pkg/logx"
)

// Posts is the durable post-id -> record mapping.
//
// Reads go to disk on every query (the file is the source of truth); when the
// file is unreadable the last good in-memory snapshot wins until the next
// successful write. Both subsystems that touch it (conversation handling and
// scheduler callbacks) are serialized by the mutex.
type Posts struct {
	path string
	log  logx.Logger

	mu    sync.Mutex
	cache []post.Post
}

func NewPosts(path string, log logx.Logger) *Posts {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Posts{path: path, log: log}
}

// List returns the current snapshot. A missing or corrupt file yields the
// last good snapshot (empty at startup) and is logged, never fatal.
func (s *Posts) List() []post.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePosts(s.loadLocked())
}

// Get looks up one record by id.
func (s *Posts) Get(id string) (post.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.loadLocked() {
		if p.ID == id {
			return p, true
		}
	}
	return post.Post{}, false
}

// Append adds a new record and writes the snapshot.
func (s *Posts) Append(p post.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	posts := append(s.loadLocked(), p)
	return s.saveLocked(posts)
}

// Update applies fn to the record with the given id and writes the snapshot.
// fn runs with the store locked; it must not call back into the store.
func (s *Posts) Update(id string, fn func(p *post.Post)) (post.Post, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	posts := s.loadLocked()
	for i := range posts {
		if posts[i].ID == id {
			fn(&posts[i])
			updated := posts[i]
			return updated, true, s.saveLocked(posts)
		}
	}
	return post.Post{}, false, nil
}

// Delete removes the record with the given id and writes the snapshot.
// It returns the removed record when one existed.
func (s *Posts) Delete(id string) (post.Post, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	posts := s.loadLocked()
	for i := range posts {
		if posts[i].ID == id {
			removed := posts[i]
			posts = append(posts[:i], posts[i+1:]...)
			return removed, true, s.saveLocked(posts)
		}
	}
	return post.Post{}, false, nil
}

func (s *Posts) loadLocked() []post.Post {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("posts snapshot unreadable; using last good state", logx.String("path", s.path), logx.Err(err))
		}
		return s.cache
	}
	var posts []post.Post
	if err := json.Unmarshal(b, &posts); err != nil {
		s.log.Warn("posts snapshot corrupt; using last good state", logx.String("path", s.path), logx.Err(err))
		return s.cache
	}
	s.cache = posts
	return posts
}

func (s *Posts) saveLocked(posts []post.Post) error {
	// In-memory state wins even if the write fails.
	s.cache = posts
	if err := writeSnapshot(s.path, posts); err != nil {
		s.log.Error("posts snapshot write failed; in-memory state is source of truth", logx.String("path", s.path), logx.Err(err))
		return post.WrapErr(post.ErrPersistence, "write posts snapshot", err)
	}
	return nil
}

// writeSnapshot marshals v and replaces path atomically via tmp+rename.
func writeSnapshot(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func clonePosts(in []post.Post) []post.Post {
	out := make([]post.Post, len(in))
	copy(out, in)
	return out
}
