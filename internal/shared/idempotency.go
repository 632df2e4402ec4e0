package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// IdempotencyFormField carries the one-shot token rendered into mutation forms.
const IdempotencyFormField = "idempotency_key"

// ErrIdempotencyConflict indicates the form was already submitted.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore persists processed form tokens so a double-clicked reply or
// status change reaches the remote API once.
type IdempotencyStore struct {
	db Execer
}

// NewIdempotencyStore constructs the store. A nil db disables the check.
func NewIdempotencyStore(db Execer) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// NewIdempotencyKey returns a fresh token for a form.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// Claim records key for module, returning ErrIdempotencyConflict when it was
// already claimed. Empty keys are accepted without a check.
func (s *IdempotencyStore) Claim(ctx context.Context, key, module string) error {
	if s == nil || s.db == nil || key == "" {
		return nil
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.db.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Release removes a key after the guarded call failed, so the user may retry.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if s == nil || s.db == nil || key == "" {
		return nil
	}
	_, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}

// Cleanup removes entries older than retention and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
