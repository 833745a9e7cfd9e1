package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"arrangement-grading-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ArrangementStore is the durable home of arrangement definitions (e.g., Postgres).
type ArrangementStore interface {
	LoadArrangement(ctx context.Context, id string) (domain.QuestionArrangement, error)
	StoreArrangement(ctx context.Context, a domain.QuestionArrangement) error
}

// ArrangementRepository caches arrangements with TTL to avoid repeated store hits.
type ArrangementRepository struct {
	store ArrangementStore
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand
	rndMu sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedArrangement
	// generation is bumped by every save; a load only fills the cache if no save
	// happened while it was reading the store.
	generation map[string]uint64
}

type cachedArrangement struct {
	arrangement domain.QuestionArrangement
	expiresAt   time.Time
}

func NewArrangementRepository(store ArrangementStore, ttl time.Duration) *ArrangementRepository {
	return &ArrangementRepository{
		store: store,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:      make(map[string]cachedArrangement),
		generation: make(map[string]uint64),
	}
}

func (r *ArrangementRepository) GetArrangement(ctx context.Context, id string) (domain.QuestionArrangement, error) {
	if a, ok := r.cached(id); ok {
		return a, nil
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		if a, ok := r.cached(id); ok {
			return a, nil
		}

		r.mu.RLock()
		gen := r.generation[id]
		r.mu.RUnlock()

		a, err := r.store.LoadArrangement(ctx, id)
		if err != nil {
			return domain.QuestionArrangement{}, err
		}

		r.mu.Lock()
		if r.generation[id] == gen {
			r.cache[id] = cachedArrangement{
				arrangement: a,
				expiresAt:   r.clock().Add(r.ttlWithJitter()),
			}
		}
		r.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return domain.QuestionArrangement{}, err
	}
	return result.(domain.QuestionArrangement).Clone(), nil
}

// SaveArrangement writes through to the store and evicts the cached copy. Loads
// already in flight are detached so later reads see the saved definition.
func (r *ArrangementRepository) SaveArrangement(ctx context.Context, a domain.QuestionArrangement) error {
	if err := r.store.StoreArrangement(ctx, a); err != nil {
		return err
	}
	r.mu.Lock()
	r.generation[a.ID]++
	delete(r.cache, a.ID)
	r.mu.Unlock()
	r.sf.Forget(a.ID)
	return nil
}

func (r *ArrangementRepository) cached(id string) (domain.QuestionArrangement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[id]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.QuestionArrangement{}, false
	}
	return entry.arrangement.Clone(), true
}

func (r *ArrangementRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticArrangementStore is a map-backed store (useful for tests/demos and when no
// database is configured).
type StaticArrangementStore struct {
	mu           sync.RWMutex
	arrangements map[string]domain.QuestionArrangement
}

func NewStaticArrangementStore(arrangements map[string]domain.QuestionArrangement) *StaticArrangementStore {
	copied := make(map[string]domain.QuestionArrangement, len(arrangements))
	for id, a := range arrangements {
		copied[id] = a.Clone()
	}
	return &StaticArrangementStore{arrangements: copied}
}

func (s *StaticArrangementStore) LoadArrangement(_ context.Context, id string) (domain.QuestionArrangement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.arrangements[id]; ok {
		return a.Clone(), nil
	}
	return domain.QuestionArrangement{}, domain.ErrArrangementNotFound
}

func (s *StaticArrangementStore) StoreArrangement(_ context.Context, a domain.QuestionArrangement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrangements[a.ID] = a.Clone()
	return nil
}
