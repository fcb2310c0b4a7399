// Package postgres implements store.Store on lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/store"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

var _ store.Store = (*Store)(nil)

// Store is the Postgres persistence layer. Calls made with a context carrying
// a transaction scope run on that transaction.
type Store struct {
	pg *database.PostgresClient
}

func New(pg *database.PostgresClient) *Store {
	return &Store{pg: pg}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pg.DB.ExecContext(ctx, schema); err != nil {
		return apperr.NewDatabaseError("migrate", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.pg.WithinTx(ctx, fn)
}

func (s *Store) conn(ctx context.Context) database.Executor {
	return s.pg.Conn(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// notFoundOr maps sql.ErrNoRows to a typed not-found error.
func notFoundOr(err error, entity, id, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NewNotFoundError(entity, id)
	}
	return apperr.NewDatabaseError(op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return raw, nil
}

func stringsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
