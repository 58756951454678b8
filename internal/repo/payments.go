package repo

import (
	"context"
	"database/sql"

	"aocr/internal/domain"
)

const paymentColumns = `id,request_id,amount,COALESCE(reference,''),status,reviewer_id,created_at,updated_at`

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p        domain.Payment
		status   string
		reviewer sql.NullString
	)
	err := row.Scan(&p.ID, &p.RequestID, &p.Amount, &p.Reference, &status, &reviewer, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = domain.ReviewStatus(status)
	p.ReviewerID = stringPtr(reviewer)
	return p, nil
}

func (r Repo) InsertPayment(ctx context.Context, tx *sql.Tx, p domain.Payment) (int64, error) {
	var id int64
	err := r.on(tx).QueryRowContext(ctx, r.q(`INSERT INTO payments(request_id,amount,reference,status,reviewer_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?) RETURNING id`),
		p.RequestID, p.Amount, nullable(p.Reference), string(p.Status), nullableStringPtr(p.ReviewerID), p.CreatedAt, p.UpdatedAt).Scan(&id)
	return id, err
}

func (r Repo) GetPayment(ctx context.Context, tx *sql.Tx, id int64) (domain.Payment, error) {
	return scanPayment(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+paymentColumns+` FROM payments WHERE id=?`), id))
}

func (r Repo) ListPayments(ctx context.Context, requestID int64) ([]domain.Payment, error) {
	return r.listPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE request_id=? ORDER BY id`, requestID)
}

// ApprovedPayments returns every approved payment of a request. More than one is a data fault
// the caller must handle.
func (r Repo) ApprovedPayments(ctx context.Context, requestID int64) ([]domain.Payment, error) {
	return r.listPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE request_id=? AND status='Approved' ORDER BY id`, requestID)
}

func (r Repo) listPayments(ctx context.Context, query string, args ...any) ([]domain.Payment, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePaymentStatus(ctx context.Context, tx *sql.Tx, id int64, status domain.ReviewStatus, reviewerID, at string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE payments SET status=?, reviewer_id=?, updated_at=? WHERE id=?`),
		string(status), nullable(reviewerID), at, id)
	if err != nil {
		return err
	}
	return affected(res)
}
