// internal/common/database/tx.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

type scopeKey struct{}

// Scope is a unit of work carried in context. It holds the SQL transaction, when
// there is one, and callbacks that must only run once the work has committed.
type Scope struct {
	tx *sql.Tx

	mu    sync.Mutex
	hooks []func(ctx context.Context)
}

// Executor is satisfied by both *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewScope opens a scope on ctx. tx may be nil for stores without SQL.
func NewScope(ctx context.Context, tx *sql.Tx) (context.Context, *Scope) {
	s := &Scope{tx: tx}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// ScopeFrom returns the active scope, if any.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// TxFrom returns the SQL transaction of the active scope.
func TxFrom(ctx context.Context) (*sql.Tx, bool) {
	s, ok := ScopeFrom(ctx)
	if !ok || s.tx == nil {
		return nil, false
	}
	return s.tx, true
}

// Conn returns the scope transaction when present, otherwise db.
func Conn(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := TxFrom(ctx); ok {
		return tx
	}
	return db
}

// AfterCommit defers fn until the enclosing scope commits. Outside a scope fn
// runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	s, ok := ScopeFrom(ctx)
	if !ok {
		fn(ctx)
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Committed runs the registered hooks in registration order on a context that
// no longer carries the scope.
func (s *Scope) Committed(ctx context.Context) {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	detached := context.WithValue(ctx, scopeKey{}, (*Scope)(nil))
	for _, h := range hooks {
		h(detached)
	}
}

// RunInTx executes fn inside a SQL transaction. A call nested in an existing
// scope joins it instead of opening a new transaction.
func RunInTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) (err error) {
	if _, ok := ScopeFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txCtx, scope := NewScope(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	scope.Committed(ctx)
	return nil
}
