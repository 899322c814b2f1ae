package audits

import (
	"context"
	"time"
)

// ListFilter narrows List results
type ListFilter struct {
	Status Status // empty = all
	Limit  int
	Offset int
}

// Repository port (interface for persistence)
type Repository interface {
	Create(ctx context.Context, j *Job) (JobID, error)
	Get(ctx context.Context, tenant string, id JobID) (*Job, error)
	List(ctx context.Context, tenant string, f ListFilter) ([]*Job, error)
	Stats(ctx context.Context, tenant string) (Stats, error)

	// ClaimOldestPending atomically transitions the oldest pending job to
	// processing and returns it. Returns (nil, nil) when the queue is empty
	// or another worker won the claim.
	ClaimOldestPending(ctx context.Context) (*Job, error)

	UpdateProgress(ctx context.Context, id JobID, progress string) error
	MarkCompleted(ctx context.Context, id JobID, score int, analysisJSON, reportKey string, processedAt time.Time) error
	MarkFailed(ctx context.Context, id JobID, errorMessage string, processedAt time.Time) error

	// Delete removes a job unless it is processing. Returns ErrNotFound or
	// ErrInvalidState accordingly.
	Delete(ctx context.Context, tenant string, id JobID) error

	// ExpireReports clears the report reference of terminal jobs processed
	// before cutoff and returns the object keys that were detached.
	ExpireReports(ctx context.Context, cutoff time.Time) ([]string, error)
}

// DocumentStore port (object storage for uploads and rendered reports)
type DocumentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Fetch(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// Scorer port (interface to the external AI model)
type Scorer interface {
	Score(ctx context.Context, text string, auditType AuditType) (*AnalysisResult, error)
}

// Renderer port. Must be a pure function of its inputs so a report can be
// regenerated byte-identically for the same completed job.
type Renderer interface {
	Render(result *AnalysisResult, mapping NameMapping, displayName, date string) ([]byte, error)
}
