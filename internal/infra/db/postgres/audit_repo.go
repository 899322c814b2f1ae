package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
)

const jobColumns = `
id, tenant_id, location_id, requested_by, audit_type,
document_name, document_key, inline_text,
first_name, last_name, mode, replace_first, replace_last, extra_rules, consent,
status, progress, error_message, score, analysis, report_key,
created_at, processed_at`

type AuditRepository struct{ db *sql.DB }

func NewAuditRepository(db *sql.DB) *AuditRepository { return &AuditRepository{db: db} }

func (r *AuditRepository) Create(ctx context.Context, j *domain.Job) (domain.JobID, error) {
	const q = `
INSERT INTO audit_jobs
(tenant_id, location_id, requested_by, audit_type,
 document_name, document_key, inline_text,
 first_name, last_name, mode, replace_first, replace_last, extra_rules, consent,
 status, progress, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
RETURNING id;`

	rules := ""
	if len(j.ExtraRules) > 0 {
		b, err := json.Marshal(j.ExtraRules)
		if err != nil {
			return 0, fmt.Errorf("encoding extra rules: %w", err)
		}
		rules = string(b)
	}
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	var id int64
	err := r.db.QueryRowContext(ctx, q,
		j.TenantID, j.LocationID, j.RequestedBy, j.AuditType,
		j.DocumentName, j.DocumentKey, j.InlineText,
		j.FirstName, j.LastName, j.Mode, j.ReplaceFirst, j.ReplaceLast, rules, j.Consent,
		j.Status, j.Progress, created,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return domain.JobID(id), nil
}

func (r *AuditRepository) Get(ctx context.Context, tenant string, id domain.JobID) (*domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM audit_jobs WHERE tenant_id=$1 AND id=$2 LIMIT 1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, tenant, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (r *AuditRepository) List(ctx context.Context, tenant string, f domain.ListFilter) ([]*domain.Job, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := `SELECT ` + jobColumns + ` FROM audit_jobs WHERE tenant_id=$1`
	args := []any{tenant}
	if f.Status != "" {
		q += fmt.Sprintf(` AND status=$%d`, len(args)+1)
		args = append(args, f.Status)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d;`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *AuditRepository) Stats(ctx context.Context, tenant string) (domain.Stats, error) {
	const q = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status='pending'),
       COUNT(*) FILTER (WHERE status='processing'),
       COUNT(*) FILTER (WHERE status='completed'),
       COUNT(*) FILTER (WHERE status='failed'),
       COALESCE(AVG(score) FILTER (WHERE status='completed'), 0)
FROM audit_jobs
WHERE tenant_id=$1;`
	var s domain.Stats
	err := r.db.QueryRowContext(ctx, q, tenant).Scan(
		&s.Total, &s.Pending, &s.Processing, &s.Completed, &s.Failed, &s.AverageScore,
	)
	return s, err
}

// ClaimOldestPending uses SKIP LOCKED so concurrent workers never block on
// or double-claim the same row.
func (r *AuditRepository) ClaimOldestPending(ctx context.Context) (*domain.Job, error) {
	q := `
UPDATE audit_jobs
SET status='processing', progress='Starting analysis...'
WHERE id = (
    SELECT id FROM audit_jobs
    WHERE status='pending'
    ORDER BY created_at ASC, id ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.db.QueryRowContext(ctx, q))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (r *AuditRepository) UpdateProgress(ctx context.Context, id domain.JobID, progress string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE audit_jobs SET progress=$1 WHERE id=$2;`, progress, id)
	return err
}

func (r *AuditRepository) MarkCompleted(ctx context.Context, id domain.JobID, score int, analysisJSON, reportKey string, processedAt time.Time) error {
	const q = `
UPDATE audit_jobs
SET status='completed', progress='Analysis complete',
    score=$1, analysis=$2, report_key=$3, error_message='',
    processed_at=$4
WHERE id=$5;`
	_, err := r.db.ExecContext(ctx, q, score, analysisJSON, reportKey, processedAt, id)
	return err
}

func (r *AuditRepository) MarkFailed(ctx context.Context, id domain.JobID, errorMessage string, processedAt time.Time) error {
	const q = `
UPDATE audit_jobs
SET status='failed', progress='Failed', error_message=$1, processed_at=$2
WHERE id=$3;`
	_, err := r.db.ExecContext(ctx, q, errorMessage, processedAt, id)
	return err
}

func (r *AuditRepository) Delete(ctx context.Context, tenant string, id domain.JobID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_jobs WHERE tenant_id=$1 AND id=$2 AND status <> 'processing';`,
		tenant, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gErr := r.Get(ctx, tenant, id); gErr != nil {
			return gErr
		}
		return domain.ErrInvalidState
	}
	return nil
}

func (r *AuditRepository) ExpireReports(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
UPDATE audit_jobs
SET report_key=''
WHERE report_key <> '' AND processed_at IS NOT NULL AND processed_at < $1
RETURNING report_key;`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j           domain.Job
		rules       sql.NullString
		score       sql.NullInt64
		analysis    sql.NullString
		errMsg      sql.NullString
		processedAt sql.NullTime
	)
	if err := row.Scan(
		&j.ID, &j.TenantID, &j.LocationID, &j.RequestedBy, &j.AuditType,
		&j.DocumentName, &j.DocumentKey, &j.InlineText,
		&j.FirstName, &j.LastName, &j.Mode, &j.ReplaceFirst, &j.ReplaceLast, &rules, &j.Consent,
		&j.Status, &j.Progress, &errMsg, &score, &analysis, &j.ReportKey,
		&j.CreatedAt, &processedAt,
	); err != nil {
		return nil, err
	}
	if rules.Valid && rules.String != "" {
		if err := json.Unmarshal([]byte(rules.String), &j.ExtraRules); err != nil {
			return nil, fmt.Errorf("decoding extra rules: %w", err)
		}
	}
	if errMsg.Valid {
		j.ErrorMessage = errMsg.String
	}
	if score.Valid {
		v := int(score.Int64)
		j.Score = &v
	}
	if analysis.Valid {
		j.Analysis = analysis.String
	}
	if processedAt.Valid {
		t := processedAt.Time
		j.ProcessedAt = &t
	}
	return &j, nil
}
