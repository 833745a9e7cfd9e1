package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"arrangement-grading-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ArrangementStore keeps arrangement definitions as JSONB in Postgres.
type ArrangementStore struct {
	pool *pgxpool.Pool
}

func NewArrangementStore(pool *pgxpool.Pool) *ArrangementStore {
	return &ArrangementStore{pool: pool}
}

func (s *ArrangementStore) LoadArrangement(ctx context.Context, id string) (domain.QuestionArrangement, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM arrangements WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionArrangement{}, domain.ErrArrangementNotFound
	}
	if err != nil {
		return domain.QuestionArrangement{}, fmt.Errorf("load arrangement: %w", err)
	}
	var a domain.QuestionArrangement
	if err := json.Unmarshal(raw, &a); err != nil {
		return domain.QuestionArrangement{}, fmt.Errorf("unmarshal arrangement: %w", err)
	}
	return a, nil
}

func (s *ArrangementStore) StoreArrangement(ctx context.Context, a domain.QuestionArrangement) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal arrangement: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO arrangements (id, data, updated_at) VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		a.ID, string(data))
	if err != nil {
		return fmt.Errorf("store arrangement: %w", err)
	}
	return nil
}
