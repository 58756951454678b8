// Package ledger is the append-only transition history of requests.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aocr/internal/db"
	"aocr/internal/domain"
)

var ErrEmpty = errors.New("ledger empty")

// Ledger writes transition records inside the caller's transaction.
// No caller outside the engine appends.
type Ledger struct {
	DB      *sql.DB
	Dialect db.Dialect
}

// Append writes one record and returns it with its id filled. A record
// without a timestamp is stamped with the current time.
// The per-request sequence is unique, so two writers racing on the same
// snapshot cannot both commit.
func (l Ledger) Append(ctx context.Context, tx *sql.Tx, rec domain.TransitionRecord) (domain.TransitionRecord, error) {
	if tx == nil {
		return rec, errors.New("ledger append requires a transaction")
	}
	if rec.TS == "" {
		rec.TS = time.Now().UTC().Format(time.RFC3339)
	}
	var from any
	if rec.From != nil {
		from = string(*rec.From)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, l.Dialect.Rebind(`SELECT COALESCE(MAX(seq),0)+1 FROM transitions WHERE request_id=?`), rec.RequestID).Scan(&seq); err != nil {
		return rec, fmt.Errorf("ledger sequence: %w", err)
	}
	err := tx.QueryRowContext(ctx, l.Dialect.Rebind(`INSERT INTO transitions(request_id,seq,from_state,to_state,actor_id,reason,ts)
VALUES (?,?,?,?,?,?,?) RETURNING id`), rec.RequestID, seq, from, string(rec.To), rec.ActorID, nullable(rec.Reason), rec.TS).Scan(&rec.ID)
	if err != nil {
		return rec, fmt.Errorf("ledger append: %w", err)
	}
	return rec, nil
}

// History returns every record of a request in append order.
func (l Ledger) History(ctx context.Context, requestID int64) ([]domain.TransitionRecord, error) {
	rows, err := l.DB.QueryContext(ctx, l.Dialect.Rebind(`SELECT id,request_id,from_state,to_state,actor_id,COALESCE(reason,''),ts
FROM transitions WHERE request_id=? ORDER BY seq, id`), requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TransitionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.TransitionRecord, error) {
	var (
		rec  domain.TransitionRecord
		from sql.NullString
		to   string
	)
	if err := row.Scan(&rec.ID, &rec.RequestID, &from, &to, &rec.ActorID, &rec.Reason, &rec.TS); err != nil {
		return rec, err
	}
	if from.Valid {
		s := domain.State(from.String)
		rec.From = &s
	}
	rec.To = domain.State(to)
	return rec, nil
}

// Fold replays records from the creation event and returns the resulting state.
// It fails when the chain is broken: a missing creation record, or a record
// whose before-state differs from the state reached so far.
func Fold(records []domain.TransitionRecord) (domain.State, error) {
	if len(records) == 0 {
		return "", ErrEmpty
	}
	first := records[0]
	if first.From != nil || first.To != domain.StateDraft {
		return "", fmt.Errorf("record %d: history must start with the Draft creation event", first.ID)
	}
	state := first.To
	for _, rec := range records[1:] {
		if rec.From == nil || *rec.From != state {
			return "", fmt.Errorf("record %d: expected before-state %s", rec.ID, state)
		}
		state = rec.To
	}
	return state, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
