package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"arrangement-grading-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ArrangementStore is the durable home of arrangement definitions (e.g., Postgres).
type ArrangementStore interface {
	LoadArrangement(ctx context.Context, id string) (domain.QuestionArrangement, error)
	StoreArrangement(ctx context.Context, a domain.QuestionArrangement) error
}

// ArrangementRepository caches arrangement JSON in Redis and falls back to the store on miss.
// Definitions are stored as: SET arrangement:{id} {json} EX ttl
// Saves bump arrangement:{id}:version; a load only fills the cache when the
// version it started with is still current (WATCH/MULTI).
type ArrangementRepository struct {
	client *redis.Client
	store  ArrangementStore
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

func NewArrangementRepository(client *redis.Client, store ArrangementStore, ttl time.Duration) *ArrangementRepository {
	return &ArrangementRepository{
		client: client,
		store:  store,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ArrangementRepository) GetArrangement(ctx context.Context, id string) (domain.QuestionArrangement, error) {
	key := r.key(id)
	if a, ok := r.fromCache(ctx, key); ok {
		return a, nil
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if a, ok := r.fromCache(ctx, key); ok {
			return a, nil
		}

		version, err := r.version(ctx, r.client, id)
		if err != nil {
			slog.Warn("read arrangement version failed", "error", err, "arrangement_id", id)
		}

		a, err := r.store.LoadArrangement(ctx, id)
		if err != nil {
			return domain.QuestionArrangement{}, err
		}

		data, err := json.Marshal(a)
		if err != nil {
			return domain.QuestionArrangement{}, err
		}
		if err := r.fill(ctx, id, version, data); err != nil {
			slog.Warn("cache arrangement failed", "error", err, "arrangement_id", id)
		}
		return a, nil
	})
	if err != nil {
		return domain.QuestionArrangement{}, err
	}
	return result.(domain.QuestionArrangement).Clone(), nil
}

// SaveArrangement writes through to the store and evicts the cached copy.
func (r *ArrangementRepository) SaveArrangement(ctx context.Context, a domain.QuestionArrangement) error {
	if err := r.store.StoreArrangement(ctx, a); err != nil {
		return err
	}
	// version first: a fill that passed its WATCH check before this point is removed by the Del
	if err := r.client.Incr(ctx, r.versionKey(a.ID)).Err(); err != nil {
		return err
	}
	r.sf.Forget(a.ID)
	return r.client.Del(ctx, r.key(a.ID)).Err()
}

// fill caches data unless the arrangement was saved after version was read.
func (r *ArrangementRepository) fill(ctx context.Context, id string, version int64, data []byte) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := r.version(ctx, tx, id)
		if err != nil {
			return err
		}
		if current != version {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key(id), data, r.ttlWithJitter())
			return nil
		})
		return err
	}, r.versionKey(id))
	if errors.Is(err, errStaleLoad) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

var errStaleLoad = errors.New("arrangement saved during load")

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *ArrangementRepository) version(ctx context.Context, c getter, id string) (int64, error) {
	v, err := c.Get(ctx, r.versionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *ArrangementRepository) fromCache(ctx context.Context, key string) (domain.QuestionArrangement, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("read cached arrangement failed", "error", err, "key", key)
		}
		return domain.QuestionArrangement{}, false
	}
	var a domain.QuestionArrangement
	if err := json.Unmarshal(raw, &a); err != nil {
		slog.Warn("discarding unreadable cached arrangement", "error", err, "key", key)
		return domain.QuestionArrangement{}, false
	}
	return a, true
}

func (r *ArrangementRepository) key(id string) string {
	return "arrangement:" + id
}

func (r *ArrangementRepository) versionKey(id string) string {
	return "arrangement:" + id + ":version"
}

func (r *ArrangementRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
