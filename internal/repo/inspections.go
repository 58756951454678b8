package repo

import (
	"context"
	"database/sql"

	"aocr/internal/domain"
)

const inspectionColumns = `id,request_id,inspector_id,status,result,opened_at,closed_at`

func scanInspection(row rowScanner) (domain.Inspection, error) {
	var (
		in       domain.Inspection
		status   string
		result   sql.NullString
		closedAt sql.NullString
	)
	err := row.Scan(&in.ID, &in.RequestID, &in.InspectorID, &status, &result, &in.OpenedAt, &closedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.Status = domain.InspectionStatus(status)
	if result.Valid {
		res := domain.InspectionResult(result.String)
		in.Result = &res
	}
	in.ClosedAt = stringPtr(closedAt)
	return in, nil
}

func (r Repo) InsertInspection(ctx context.Context, tx *sql.Tx, in domain.Inspection) (int64, error) {
	var id int64
	err := r.on(tx).QueryRowContext(ctx, r.q(`INSERT INTO inspections(request_id,inspector_id,status,opened_at) VALUES (?,?,?,?) RETURNING id`),
		in.RequestID, in.InspectorID, string(in.Status), in.OpenedAt).Scan(&id)
	return id, err
}

func (r Repo) GetInspection(ctx context.Context, tx *sql.Tx, id int64) (domain.Inspection, error) {
	return scanInspection(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+inspectionColumns+` FROM inspections WHERE id=?`), id))
}

func (r Repo) ListInspections(ctx context.Context, requestID int64) ([]domain.Inspection, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+inspectionColumns+` FROM inspections WHERE request_id=? ORDER BY id`), requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Inspection
	for rows.Next() {
		in, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// CloseInspection records the result; closing an already closed inspection is ErrNotFound.
func (r Repo) CloseInspection(ctx context.Context, tx *sql.Tx, id int64, result domain.InspectionResult, at string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE inspections SET status='Closed', result=?, closed_at=? WHERE id=? AND status='Open'`),
		string(result), at, id)
	if err != nil {
		return err
	}
	return affected(res)
}

// LatestInspection summarises the most recent inspection of a request.
func (r Repo) LatestInspection(ctx context.Context, requestID int64) (domain.InspectionSummary, error) {
	in, err := scanInspection(r.DB.QueryRowContext(ctx, r.q(`SELECT `+inspectionColumns+` FROM inspections WHERE request_id=? ORDER BY opened_at DESC, id DESC LIMIT 1`), requestID))
	if err != nil {
		return domain.InspectionSummary{}, err
	}
	summary := domain.InspectionSummary{
		InspectionID: in.ID,
		Closed:       in.Status == domain.InspectionClosed,
		Result:       in.Result,
	}
	err = r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM findings WHERE inspection_id=? AND status='Open'`), in.ID).Scan(&summary.OpenFindings)
	return summary, err
}

const findingColumns = `id,inspection_id,description,status,created_at,closed_at`

func scanFinding(row rowScanner) (domain.Finding, error) {
	var (
		f        domain.Finding
		status   string
		closedAt sql.NullString
	)
	err := row.Scan(&f.ID, &f.InspectionID, &f.Description, &status, &f.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	f.Status = domain.FindingStatus(status)
	f.ClosedAt = stringPtr(closedAt)
	return f, nil
}

func (r Repo) InsertFinding(ctx context.Context, tx *sql.Tx, f domain.Finding) (int64, error) {
	var id int64
	err := r.on(tx).QueryRowContext(ctx, r.q(`INSERT INTO findings(inspection_id,description,status,created_at) VALUES (?,?,?,?) RETURNING id`),
		f.InspectionID, f.Description, string(f.Status), f.CreatedAt).Scan(&id)
	return id, err
}

func (r Repo) GetFinding(ctx context.Context, tx *sql.Tx, id int64) (domain.Finding, error) {
	return scanFinding(r.on(tx).QueryRowContext(ctx, r.q(`SELECT `+findingColumns+` FROM findings WHERE id=?`), id))
}

func (r Repo) ListFindings(ctx context.Context, inspectionID int64) ([]domain.Finding, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+findingColumns+` FROM findings WHERE inspection_id=? ORDER BY id`), inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) CloseFinding(ctx context.Context, tx *sql.Tx, id int64, at string) error {
	res, err := r.on(tx).ExecContext(ctx, r.q(`UPDATE findings SET status='Closed', closed_at=? WHERE id=? AND status='Open'`), at, id)
	if err != nil {
		return err
	}
	return affected(res)
}
