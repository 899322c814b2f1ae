package audits

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dioara/care-compliance-system-sub001/internal/application"
	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
)

// Service implements the job API use-cases: submit, list, get, status,
// download, delete, stats. Submission never blocks on AI processing; the
// worker picks pending jobs up separately.
type Service struct {
	Repo      domain.Repository
	Documents domain.DocumentStore
	Clock     application.Clock
}

// SubmitCommand carries everything needed to queue one document audit.
type SubmitCommand struct {
	TenantID    string
	LocationID  string
	RequestedBy string
	AuditType   string

	DocumentName string
	DocumentKey  string // object-store pointer, or
	InlineText   string // pasted text

	FirstName    string
	LastName     string
	Mode         string
	ReplaceFirst string
	ReplaceLast  string
	ExtraRules   []domain.Rule
	Consent      bool
}

// Submit validates the command and creates a pending job. The returned job
// carries its id; callers poll Status/Get for progress.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*domain.Job, error) {
	if err := validateSubmit(cmd); err != nil {
		return nil, err
	}

	job := &domain.Job{
		TenantID:     cmd.TenantID,
		LocationID:   cmd.LocationID,
		RequestedBy:  cmd.RequestedBy,
		AuditType:    domain.AuditType(cmd.AuditType),
		DocumentName: cmd.DocumentName,
		DocumentKey:  cmd.DocumentKey,
		InlineText:   cmd.InlineText,
		FirstName:    strings.TrimSpace(cmd.FirstName),
		LastName:     strings.TrimSpace(cmd.LastName),
		Mode:         domain.Mode(cmd.Mode),
		ReplaceFirst: strings.TrimSpace(cmd.ReplaceFirst),
		ReplaceLast:  strings.TrimSpace(cmd.ReplaceLast),
		ExtraRules:   cmd.ExtraRules,
		Consent:      cmd.Consent,
		Status:       domain.StatusPending,
		Progress:     "Waiting for a worker...",
		CreatedAt:    s.Clock.Now(),
	}

	id, err := s.Repo.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("creating audit job: %w", err)
	}
	job.ID = id
	return job, nil
}

func validateSubmit(cmd SubmitCommand) error {
	if strings.TrimSpace(cmd.TenantID) == "" {
		return &domain.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	switch domain.AuditType(cmd.AuditType) {
	case domain.TypeCarePlan, domain.TypeDailyNotes:
	default:
		return &domain.ValidationError{Field: "audit_type", Reason: "must be care_plan or daily_notes"}
	}
	if strings.TrimSpace(cmd.DocumentName) == "" {
		return &domain.ValidationError{Field: "document_name", Reason: "required"}
	}
	hasKey := strings.TrimSpace(cmd.DocumentKey) != ""
	hasText := strings.TrimSpace(cmd.InlineText) != ""
	if hasKey == hasText {
		return &domain.ValidationError{Field: "document", Reason: "exactly one of document_key or inline_text is required"}
	}
	if strings.TrimSpace(cmd.FirstName) == "" {
		return &domain.ValidationError{Field: "first_name", Reason: "required"}
	}

	switch domain.Mode(cmd.Mode) {
	case domain.ModeReplace:
		if strings.TrimSpace(cmd.ReplaceFirst) == "" {
			return &domain.ValidationError{Field: "replace_first", Reason: "required in replace mode"}
		}
		if strings.TrimSpace(cmd.LastName) != "" && strings.TrimSpace(cmd.ReplaceLast) == "" {
			return &domain.ValidationError{Field: "replace_last", Reason: "required when last_name is set"}
		}
		for _, r := range cmd.ExtraRules {
			if strings.TrimSpace(r.Name) != "" && strings.TrimSpace(r.ReplaceWith) == "" {
				return &domain.ValidationError{Field: "extra_rules", Reason: "replacement token required for " + r.Name}
			}
		}
	case domain.ModeKeep:
		if !cmd.Consent {
			return &domain.ValidationError{Field: "consent", Reason: "explicit consent is required to keep real names"}
		}
	default:
		return &domain.ValidationError{Field: "mode", Reason: "must be replace or keep"}
	}
	return nil
}

// List returns the tenant's jobs, newest first.
func (s *Service) List(ctx context.Context, tenant string, status string, limit, offset int) ([]*domain.Job, error) {
	if status != "" {
		switch domain.Status(status) {
		case domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed:
		default:
			return nil, &domain.ValidationError{Field: "status", Reason: "unknown status filter"}
		}
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.Repo.List(ctx, tenant, domain.ListFilter{
		Status: domain.Status(status),
		Limit:  limit,
		Offset: offset,
	})
}

// JobDetail is one job plus its parsed analysis payload.
type JobDetail struct {
	*domain.Job
	Result *domain.StoredAnalysis `json:"analysis,omitempty"`
}

// Get returns one job with its stored analysis decoded.
func (s *Service) Get(ctx context.Context, tenant string, id domain.JobID) (*JobDetail, error) {
	job, err := s.Repo.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	detail := &JobDetail{Job: job}
	if job.Analysis != "" {
		var stored domain.StoredAnalysis
		if err := json.Unmarshal([]byte(job.Analysis), &stored); err != nil {
			return nil, fmt.Errorf("decoding stored analysis: %w", err)
		}
		detail.Result = &stored
	}
	return detail, nil
}

// StatusInfo is the lightweight polling payload.
type StatusInfo struct {
	ID           domain.JobID  `json:"id"`
	Status       domain.Status `json:"status"`
	Progress     string        `json:"progress,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ProcessedAt  *time.Time    `json:"processed_at,omitempty"`
}

// Status returns just enough for clients polling a submitted job. Clients
// should stop polling once they observe a terminal status.
func (s *Service) Status(ctx context.Context, tenant string, id domain.JobID) (StatusInfo, error) {
	job, err := s.Repo.Get(ctx, tenant, id)
	if err != nil {
		return StatusInfo{}, err
	}
	return StatusInfo{
		ID:           job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		ProcessedAt:  job.ProcessedAt,
	}, nil
}

// DownloadResult is the rendered report plus a derived filename.
type DownloadResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Download serves the rendered report of a completed job. Reports expire
// 90 days after processing and are then reported as expired, not missing.
func (s *Service) Download(ctx context.Context, tenant string, id domain.JobID) (DownloadResult, error) {
	job, err := s.Repo.Get(ctx, tenant, id)
	if err != nil {
		return DownloadResult{}, err
	}
	if job.Status != domain.StatusCompleted {
		return DownloadResult{}, fmt.Errorf("job %d is %s: %w", id, job.Status, domain.ErrInvalidState)
	}
	if job.Expired(s.Clock.Now()) || job.ReportKey == "" {
		return DownloadResult{}, domain.ErrExpired
	}

	data, err := s.Documents.Fetch(ctx, job.ReportKey)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("fetching report %s: %w", job.ReportKey, err)
	}

	subject := job.DisplayName()
	if subject == "" || subject == "Service User" {
		subject = job.DocumentName
	}
	date := job.ProcessedAt.Format("2006-01-02")
	filename := fmt.Sprintf("AI_Audit_%s_%s.html", sanitizeName(subject), date)

	return DownloadResult{
		Filename:    filename,
		ContentType: "text/html; charset=utf-8",
		Data:        data,
	}, nil
}

// Delete permanently removes a job and its stored documents. Jobs that are
// processing cannot be deleted; pending jobs can, which doubles as the only
// way to cancel work the worker has not claimed yet.
func (s *Service) Delete(ctx context.Context, tenant string, id domain.JobID) error {
	job, err := s.Repo.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, tenant, id); err != nil {
		return err
	}

	// Row is gone; object cleanup is best effort.
	if job.ReportKey != "" {
		_ = s.Documents.Remove(ctx, job.ReportKey)
	}
	if job.DocumentKey != "" {
		_ = s.Documents.Remove(ctx, job.DocumentKey)
	}
	return nil
}

// Stats returns per-status totals and the average score of completed jobs.
func (s *Service) Stats(ctx context.Context, tenant string) (domain.Stats, error) {
	return s.Repo.Stats(ctx, tenant)
}

// UploadDocument stores raw document bytes and returns the object key to
// reference in a subsequent Submit.
func (s *Service) UploadDocument(ctx context.Context, tenant, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &domain.ValidationError{Field: "document", Reason: "empty upload"}
	}
	if strings.TrimSpace(name) == "" {
		name = "document.txt"
	}
	key := fmt.Sprintf("%s/uploads/%s-%s", tenant, uuid.New().String(), sanitizeName(name))
	if err := s.Documents.Put(ctx, key, data, contentTypeFor(name)); err != nil {
		return "", fmt.Errorf("storing upload: %w", err)
	}
	return key, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
