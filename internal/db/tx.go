package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is a transaction carrying a deferred-effect queue. Effects (typically
// bus publishes) registered during the transaction run only after a
// successful commit, in registration order. A rollback discards them, so
// subscribers never observe state that was not persisted.
type Tx struct {
	tx      *sql.Tx
	db      *DB
	effects []func()
}

// WithTx runs fn inside a transaction. fn returning an error rolls back
// and discards queued effects; otherwise the transaction commits and the
// effects run.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	t := &Tx{tx: sqlTx, db: d}

	if err := fn(t); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, fx := range t.effects {
		fx()
	}
	return nil
}

// Effect queues fn to run after commit. No-op if the transaction rolls back.
func (t *Tx) Effect(fn func()) {
	t.effects = append(t.effects, fn)
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.db.Rebind(query), args...)
}

// Query runs a query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.db.Rebind(query), args...)
}

// QueryRow runs a single-row query inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.db.Rebind(query), args...)
}
