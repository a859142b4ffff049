package valueset

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/formimport/internal/form"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore keeps resolved answer lists in the valueset_answers table.
type PGStore struct {
	db querier
}

// NewPGStore creates a store on db, usually a *pgxpool.Pool.
func NewPGStore(db querier) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, key string) ([]*form.Answer, bool, error) {
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT answers FROM valueset_answers WHERE cache_key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("valueset_answers get %s: %w", key, err)
	}
	var answers []*form.Answer
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, false, fmt.Errorf("decoding stored answers for %s: %w", key, err)
	}
	return answers, true, nil
}

func (s *PGStore) Put(ctx context.Context, key string, answers []*form.Answer) error {
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encoding answers for %s: %w", key, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO valueset_answers (cache_key, answers, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (cache_key) DO UPDATE SET answers = EXCLUDED.answers, updated_at = NOW()`,
		key, data)
	if err != nil {
		return fmt.Errorf("valueset_answers put %s: %w", key, err)
	}
	return nil
}

func (s *PGStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM valueset_answers`); err != nil {
		return fmt.Errorf("valueset_answers clear: %w", err)
	}
	return nil
}
