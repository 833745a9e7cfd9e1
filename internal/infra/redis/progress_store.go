package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"arrangement-grading-service/internal/app"
	"github.com/redis/go-redis/v9"
)

// ProgressStore is a Redis-aware implementation of app.ProgressRepository.
// Notes:
//   - Progress entries stay in a local map so the in-process broadcast logic is reused.
//   - Redis carries a liveness marker per watched student (progress:{arrangement}:{student})
//     so other instances can see who is being graded live. The marker expires after ttl
//     unless the entry is acquired or touched again, so a crashed instance leaves nothing behind.
type ProgressStore struct {
	client  *redis.Client
	ttl     time.Duration
	mu      sync.Mutex
	entries map[app.ProgressKey]*app.Progress
}

func NewProgressStore(client *redis.Client, ttl time.Duration) *ProgressStore {
	return &ProgressStore{
		client:  client,
		ttl:     ttl,
		entries: make(map[app.ProgressKey]*app.Progress),
	}
}

func (s *ProgressStore) Acquire(key app.ProgressKey) *app.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[key]
	if !ok {
		p = app.NewProgress(key)
		s.entries[key] = p
	}
	p.AddViewer()
	s.mark(key)
	return p
}

func (s *ProgressStore) Get(key app.ProgressKey) (*app.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[key]
	return p, ok
}

// Touch extends the liveness marker of a watched entry.
func (s *ProgressStore) Touch(key app.ProgressKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; ok {
		s.mark(key)
	}
}

func (s *ProgressStore) Release(key app.ProgressKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[key]
	if !ok {
		return
	}
	if p.RemoveViewer() > 0 {
		return
	}
	delete(s.entries, key)
	if err := s.client.Del(context.Background(), s.key(key)).Err(); err != nil {
		slog.Warn("clear progress marker failed", "error", err, "key", s.key(key))
	}
}

// mark sets the liveness marker; best effort, grading never depends on it.
func (s *ProgressStore) mark(key app.ProgressKey) {
	if err := s.client.Set(context.Background(), s.key(key), "1", s.ttl).Err(); err != nil {
		slog.Warn("set progress marker failed", "error", err, "key", s.key(key))
	}
}

func (s *ProgressStore) key(key app.ProgressKey) string {
	return "progress:" + key.ArrangementID + ":" + key.StudentID
}
