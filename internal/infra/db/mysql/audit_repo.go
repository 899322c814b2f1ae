package mysql

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

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new pending job and returns its id
func (r *AuditRepository) Create(ctx context.Context, j *domain.Job) (domain.JobID, error) {
	const q = `
INSERT INTO audit_jobs
(tenant_id, location_id, requested_by, audit_type,
 document_name, document_key, inline_text,
 first_name, last_name, mode, replace_first, replace_last, extra_rules, consent,
 status, progress, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);
`
	rules, err := encodeRules(j.ExtraRules)
	if err != nil {
		return 0, err
	}
	created := j.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := r.db.ExecContext(ctx, q,
		j.TenantID, j.LocationID, j.RequestedBy, j.AuditType,
		j.DocumentName, j.DocumentKey, j.InlineText,
		j.FirstName, j.LastName, j.Mode, j.ReplaceFirst, j.ReplaceLast, rules, j.Consent,
		j.Status, j.Progress, created,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return domain.JobID(id), nil
}

// Get by ID + Tenant
func (r *AuditRepository) Get(ctx context.Context, tenant string, id domain.JobID) (*domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM audit_jobs WHERE tenant_id=? AND id=? LIMIT 1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, tenant, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (r *AuditRepository) getByID(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM audit_jobs WHERE id=? LIMIT 1;`
	j, err := scanJob(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

// List jobs per tenant, newest first
func (r *AuditRepository) List(ctx context.Context, tenant string, f domain.ListFilter) ([]*domain.Job, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := `SELECT ` + jobColumns + ` FROM audit_jobs WHERE tenant_id=?`
	args := []any{tenant}
	if f.Status != "" {
		q += ` AND status=?`
		args = append(args, f.Status)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?;`
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

// Stats per tenant
func (r *AuditRepository) Stats(ctx context.Context, tenant string) (domain.Stats, error) {
	const q = `
SELECT COUNT(*),
       COALESCE(SUM(status='pending'),0),
       COALESCE(SUM(status='processing'),0),
       COALESCE(SUM(status='completed'),0),
       COALESCE(SUM(status='failed'),0),
       COALESCE(AVG(CASE WHEN status='completed' THEN score END),0)
FROM audit_jobs
WHERE tenant_id=?;
`
	var s domain.Stats
	err := r.db.QueryRowContext(ctx, q, tenant).Scan(
		&s.Total, &s.Pending, &s.Processing, &s.Completed, &s.Failed, &s.AverageScore,
	)
	return s, err
}

// ClaimOldestPending transitions the oldest pending job to processing.
// The claim is a conditional update so two workers can never both win:
// the loser sees zero affected rows and walks away.
func (r *AuditRepository) ClaimOldestPending(ctx context.Context) (*domain.Job, error) {
	var id domain.JobID
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM audit_jobs WHERE status='pending' ORDER BY created_at ASC, id ASC LIMIT 1;`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE audit_jobs SET status='processing', progress='Starting analysis...' WHERE id=? AND status='pending';`,
		id,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // lost the race
	}
	return r.getByID(ctx, id)
}

// UpdateProgress only touches the progress column
func (r *AuditRepository) UpdateProgress(ctx context.Context, id domain.JobID, progress string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE audit_jobs SET progress=? WHERE id=?;`, progress, id)
	return err
}

// MarkCompleted stores the analysis payload and report key with the
// terminal state in one statement.
func (r *AuditRepository) MarkCompleted(ctx context.Context, id domain.JobID, score int, analysisJSON, reportKey string, processedAt time.Time) error {
	const q = `
UPDATE audit_jobs
SET status='completed', progress='Analysis complete',
    score=?, analysis=?, report_key=?, error_message='',
    processed_at=?
WHERE id=?;`
	_, err := r.db.ExecContext(ctx, q, score, analysisJSON, reportKey, processedAt, id)
	return err
}

// MarkFailed records the error and sets processed_at so retention applies
// uniformly to both terminal states.
func (r *AuditRepository) MarkFailed(ctx context.Context, id domain.JobID, errorMessage string, processedAt time.Time) error {
	const q = `
UPDATE audit_jobs
SET status='failed', progress='Failed', error_message=?, processed_at=?
WHERE id=?;`
	_, err := r.db.ExecContext(ctx, q, errorMessage, processedAt, id)
	return err
}

// Delete removes a job unless a worker holds it. The status guard is part
// of the statement so a concurrent claim cannot slip through.
func (r *AuditRepository) Delete(ctx context.Context, tenant string, id domain.JobID) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_jobs WHERE tenant_id=? AND id=? AND status <> 'processing';`,
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

// ExpireReports detaches report objects of terminal jobs past retention
func (r *AuditRepository) ExpireReports(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT report_key FROM audit_jobs WHERE report_key <> '' AND processed_at IS NOT NULL AND processed_at < ?;`,
		cutoff,
	)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE audit_jobs SET report_key='' WHERE report_key <> '' AND processed_at IS NOT NULL AND processed_at < ?;`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	return keys, nil
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

func encodeRules(rules []domain.Rule) (string, error) {
	if len(rules) == 0 {
		return "", nil
	}
	b, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("encoding extra rules: %w", err)
	}
	return string(b), nil
}
