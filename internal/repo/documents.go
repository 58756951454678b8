package repo

import (
	"context"
	"database/sql"

	"aocr/internal/domain"
)

const documentColumns = `id,request_id,kind,name,status,reviewer_id,COALESCE(note,''),created_at,updated_at`

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		d        domain.Document
		status   string
		reviewer sql.NullString
	)
	err := row.Scan(&d.ID, &d.RequestID, &d.Kind, &d.Name, &status, &reviewer, &d.Note, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.Status = domain.ReviewStatus(status)
	d.ReviewerID = stringPtr(reviewer)
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) (int64, error) {
	var id int64
	err := r.on(tx).QueryRowContext(ctx, r.q(`INSERT INTO documents(request_id,kind,name,status,reviewer_id,note,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?) RETURNING id`),
		d.RequestID, d.Kind, d.Name, string(d.Status), nullableStringPtr(d.ReviewerID), nullable(d.Note), d.CreatedAt, d.UpdatedAt).Scan(&id)
	return id, err
}

func (r Repo) GetDocument(ctx context.Context, tx *sql.Tx, id int64) (domain.Document, error) {
	return scanDocument(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+documentColumns+` FROM documents WHERE id=?`), id))
}

func (r Repo) ListDocuments(ctx context.Context, requestID int64) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+documentColumns+` FROM documents WHERE request_id=? ORDER BY id`), requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDocumentStatus(ctx context.Context, tx *sql.Tx, id int64, status domain.ReviewStatus, reviewerID, note, at string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE documents SET status=?, reviewer_id=?, note=?, updated_at=? WHERE id=?`),
		string(status), nullable(reviewerID), nullable(note), at, id)
	if err != nil {
		return err
	}
	return affected(res)
}

// DocumentAggregate counts the documents of a request by review status.
func (r Repo) DocumentAggregate(ctx context.Context, requestID int64) (domain.DocumentAggregate, error) {
	var agg domain.DocumentAggregate
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(*),
  COALESCE(SUM(CASE WHEN status='Approved' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='Rejected' THEN 1 ELSE 0 END),0)
FROM documents WHERE request_id=?`), requestID).Scan(&agg.Total, &agg.Approved, &agg.Rejected)
	return agg, err
}
