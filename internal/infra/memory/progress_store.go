package memory

import (
	"sync"

	"arrangement-grading-service/internal/app"
)

// ProgressStore keeps live progress entries in process. Viewer counts change only
// under mu, so an entry being released cannot be handed to a new viewer.
type ProgressStore struct {
	mu      sync.Mutex
	entries map[app.ProgressKey]*app.Progress
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		entries: make(map[app.ProgressKey]*app.Progress),
	}
}

// Acquire returns the entry for key with a viewer claimed, creating it on first use.
func (s *ProgressStore) Acquire(key app.ProgressKey) *app.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[key]
	if !ok {
		p = app.NewProgress(key)
		s.entries[key] = p
	}
	p.AddViewer()
	return p
}

func (s *ProgressStore) Get(key app.ProgressKey) (*app.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[key]
	return p, ok
}

// Touch is a no-op: in-process entries live exactly as long as their viewers.
func (s *ProgressStore) Touch(app.ProgressKey) {}

// Release drops a viewer and forgets the entry, history included, once nobody watches it.
func (s *ProgressStore) Release(key app.ProgressKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[key]
	if !ok {
		return
	}
	if p.RemoveViewer() == 0 {
		delete(s.entries, key)
	}
}

// Len reports how many students are currently watched.
func (s *ProgressStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
