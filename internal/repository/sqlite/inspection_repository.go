package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lid-inspector/internal/domain"
	"lid-inspector/internal/repository"
)

const createInspectionsTable = `
CREATE TABLE IF NOT EXISTS inspections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	path TEXT NOT NULL,
	verdict TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	confidence INTEGER NOT NULL DEFAULT -1,
	strictness INTEGER NOT NULL,
	no_brand INTEGER NOT NULL DEFAULT 0,
	model TEXT NOT NULL DEFAULT '',
	raw_response TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	s3_location TEXT NOT NULL DEFAULT '',
	result_path TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	inspected_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inspections_created_at ON inspections(created_at);
`

const inspectionColumns = `id, correlation_id, file_name, path, verdict, reason, confidence, strictness, no_brand, model, raw_response, error_message, s3_location, result_path, created_at, inspected_at`

type InspectionRepository struct {
	db *sql.DB
}

func NewInspectionRepository(db *sql.DB) repository.InspectionRepository {
	return &InspectionRepository{db: db}
}

func (r *InspectionRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createInspectionsTable); err != nil {
		return fmt.Errorf("create inspections table: %w", err)
	}
	return nil
}

func (r *InspectionRepository) Create(ctx context.Context, in *domain.Inspection) (int64, error) {
	in.CreatedAt = time.Now().UTC()
	if in.InspectedAt.IsZero() {
		in.InspectedAt = in.CreatedAt
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO inspections (correlation_id, file_name, path, verdict, reason, confidence, strictness, no_brand, model, raw_response, error_message, s3_location, result_path, created_at, inspected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.CorrelationID,
		in.FileName,
		in.Path,
		string(in.Verdict),
		in.Reason,
		in.Confidence,
		in.Strictness,
		in.NoBrand,
		in.Model,
		in.RawResponse,
		in.ErrorMessage,
		in.S3Location,
		in.ResultPath,
		in.CreatedAt,
		in.InspectedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert inspection: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	in.ID = id
	return id, nil
}

func (r *InspectionRepository) Get(ctx context.Context, id int64) (*domain.Inspection, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id=?`, id)
	return scanInspection(row)
}

func (r *InspectionRepository) List(ctx context.Context, limit, offset int) ([]domain.Inspection, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+inspectionColumns+`
FROM inspections
ORDER BY id DESC
LIMIT ? OFFSET ?`, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("query inspections: %w", err)
	}
	defer rows.Close()

	var out []domain.Inspection
	for rows.Next() {
		in, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (r *InspectionRepository) ListFileNamesSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT file_name
FROM inspections
WHERE created_at > ?
ORDER BY file_name`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query inspected files: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan file name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *InspectionRepository) MarkArchived(ctx context.Context, id int64, s3Location string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE inspections SET s3_location=? WHERE id=?`, s3Location, id)
	if err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	return expectOneRow(res, "inspection")
}

func (r *InspectionRepository) Stats(ctx context.Context, since time.Time) (domain.Stats, error) {
	var s domain.Stats
	err := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN verdict = ? THEN 1 ELSE 0 END), 0)
FROM inspections
WHERE created_at > ?`,
		string(domain.VerdictAccept),
		string(domain.VerdictReject),
		string(domain.VerdictError),
		since.UTC(),
	).Scan(&s.Total, &s.Accepted, &s.Rejected, &s.Errored)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("inspection stats: %w", err)
	}
	return s, nil
}

func (r *InspectionRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM inspections WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete inspection: %w", err)
	}
	return expectOneRow(res, "inspection")
}

func expectOneRow(res sql.Result, what string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("%s %w", what, domain.ErrNotFound)
	}
	return nil
}

func scanInspection(scanner interface {
	Scan(dest ...any) error
}) (*domain.Inspection, error) {
	var (
		in          domain.Inspection
		verdict     string
		createdAt   time.Time
		inspectedAt time.Time
	)

	if err := scanner.Scan(
		&in.ID,
		&in.CorrelationID,
		&in.FileName,
		&in.Path,
		&verdict,
		&in.Reason,
		&in.Confidence,
		&in.Strictness,
		&in.NoBrand,
		&in.Model,
		&in.RawResponse,
		&in.ErrorMessage,
		&in.S3Location,
		&in.ResultPath,
		&createdAt,
		&inspectedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("inspection %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan inspection: %w", err)
	}

	in.Verdict = domain.Verdict(verdict)
	in.CreatedAt = createdAt.Local()
	in.InspectedAt = inspectedAt.Local()
	return &in, nil
}

var _ repository.InspectionRepository = (*InspectionRepository)(nil)
