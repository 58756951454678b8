package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"aocr/internal/db"
)

// Repo is the SQL store behind requests and their subordinate records.
// Methods ending in Tx run on the caller's transaction.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict reports a compare-and-swap that matched no row.
	ErrVersionConflict = errors.New("version conflict")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

// on returns tx when set, otherwise the pool.
func (r Repo) on(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// BeginTx starts a transaction on the underlying pool.
func (r Repo) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.DB.BeginTx(ctx, nil)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
