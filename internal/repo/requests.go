package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"aocr/internal/domain"
)

const requestColumns = `id,number,type,COALESCE(title,''),owner_id,state,version,technician_id,created_at,created_by,updated_at,updated_by,deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (domain.Request, error) {
	var (
		req        domain.Request
		state      string
		technician sql.NullString
		deletedAt  sql.NullString
	)
	err := row.Scan(&req.ID, &req.Number, &req.Type, &req.Title, &req.OwnerID, &state, &req.Version,
		&technician, &req.CreatedAt, &req.CreatedBy, &req.UpdatedAt, &req.UpdatedBy, &deletedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	req.State = domain.State(state)
	req.TechnicianID = stringPtr(technician)
	req.DeletedAt = stringPtr(deletedAt)
	return req, nil
}

// NextNumberTx allocates the next human-readable request number for year.
func (r Repo) NextNumberTx(ctx context.Context, tx *sql.Tx, prefix string, year int) (string, error) {
	var last int64
	err := tx.QueryRowContext(ctx, r.q(`INSERT INTO request_sequences(year,last) VALUES (?,1)
ON CONFLICT(year) DO UPDATE SET last=request_sequences.last+1 RETURNING last`), year).Scan(&last)
	if err != nil {
		return "", fmt.Errorf("allocate request number: %w", err)
	}
	return fmt.Sprintf("%s-%04d-%05d", prefix, year, last), nil
}

// InsertRequestTx stores a new request and returns its id.
func (r Repo) InsertRequestTx(ctx context.Context, tx *sql.Tx, req domain.Request) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, r.q(`INSERT INTO requests(number,type,title,owner_id,state,version,technician_id,created_at,created_by,updated_at,updated_by)
VALUES (?,?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		req.Number, req.Type, nullable(req.Title), req.OwnerID, string(req.State), req.Version,
		nullableStringPtr(req.TechnicianID), req.CreatedAt, req.CreatedBy, req.UpdatedAt, req.UpdatedBy).Scan(&id)
	return id, err
}

func (r Repo) GetRequest(ctx context.Context, id int64) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, r.q(`SELECT `+requestColumns+` FROM requests WHERE id=?`), id))
}

// GetRequestTx reads the request inside tx, locking the row where the dialect supports it.
func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx, r.q(`SELECT `+requestColumns+` FROM requests WHERE id=?`)+r.Dialect.ForUpdate(), id))
}

func (r Repo) GetRequestByNumber(ctx context.Context, number string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, r.q(`SELECT `+requestColumns+` FROM requests WHERE number=?`), number))
}

// CompareAndSwapStateTx moves the request to next when its version still equals expected.
// Withdrawn also stamps the soft-delete marker.
func (r Repo) CompareAndSwapStateTx(ctx context.Context, tx *sql.Tx, id, expected int64, next domain.State, actorID, at string) error {
	var deletedAt any
	if next == domain.StateWithdrawn {
		deletedAt = at
	}
	res, err := tx.ExecContext(ctx, r.q(`UPDATE requests SET state=?, version=version+1, updated_at=?, updated_by=?, deleted_at=COALESCE(?, deleted_at)
WHERE id=? AND version=?`), string(next), at, actorID, deletedAt, id, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// SetTechnicianTx assigns the technician under the same version check as state changes.
func (r Repo) SetTechnicianTx(ctx context.Context, tx *sql.Tx, id, expected int64, technicianID, actorID, at string) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE requests SET technician_id=?, version=version+1, updated_at=?, updated_by=?
WHERE id=? AND version=?`), technicianID, at, actorID, id, expected)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

type RequestFilters struct {
	State          string
	OwnerID        string
	Type           string
	TechnicianID   string
	IncludeDeleted bool
	Limit          int
	AfterID        int64
}

// ListRequests returns requests newest first; AfterID pages backwards by id.
func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var (
		clauses []string
		args    []any
	)
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.TechnicianID != "" {
		clauses = append(clauses, "technician_id=?")
		args = append(args, f.TechnicianID)
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, f.AfterID)
	}
	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}
