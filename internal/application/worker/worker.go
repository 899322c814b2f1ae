package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dioara/care-compliance-system-sub001/internal/application"
	"github.com/dioara/care-compliance-system-sub001/internal/domain/anonymise"
	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
	"github.com/dioara/care-compliance-system-sub001/internal/middleware"
)

// Worker drains pending audit jobs in the background. It is the sole
// writer of a job after submission: claim is an atomic pending→processing
// transition in the repository, and every path out of processing ends in
// completed or failed.
type Worker struct {
	Repo      domain.Repository
	Documents domain.DocumentStore
	Scorer    domain.Scorer
	Renderer  domain.Renderer
	Clock     application.Clock

	PollInterval    time.Duration
	CleanupInterval time.Duration

	mu            sync.Mutex
	running       bool
	startedAt     time.Time
	lastPollAt    time.Time
	jobsProcessed int
	currentJobID  domain.JobID
	lastError     string
}

// Run polls until ctx is cancelled. One job is processed at a time; failed
// jobs never stop the loop.
func (w *Worker) Run(ctx context.Context) {
	poll := w.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	cleanup := w.CleanupInterval
	if cleanup <= 0 {
		cleanup = 24 * time.Hour
	}

	w.mu.Lock()
	w.running = true
	w.startedAt = w.Clock.Now()
	w.mu.Unlock()

	log.Printf("worker started poll=%s cleanup=%s", poll, cleanup)

	pollTicker := time.NewTicker(poll)
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(cleanup)
	defer cleanupTicker.Stop()

	// clear stale report references once at startup too
	w.expireReports(ctx)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			log.Printf("worker stopped")
			return
		case <-cleanupTicker.C:
			w.expireReports(ctx)
		case <-pollTicker.C:
			w.mu.Lock()
			w.lastPollAt = w.Clock.Now()
			w.mu.Unlock()
			w.ProcessNext(ctx)
		}
	}
}

// ProcessNext claims and processes at most one pending job. Exported so
// deployments without a long-lived loop can drive the worker themselves.
func (w *Worker) ProcessNext(ctx context.Context) {
	job, err := w.Repo.ClaimOldestPending(ctx)
	if err != nil {
		w.recordError(fmt.Errorf("claiming job: %w", err))
		return
	}
	if job == nil {
		return // queue empty or another worker won the claim
	}

	w.mu.Lock()
	w.currentJobID = job.ID
	w.mu.Unlock()

	log.Printf("worker claimed job id=%d tenant=%s type=%s", job.ID, job.TenantID, job.AuditType)

	if err := w.process(ctx, job); err != nil {
		w.recordError(err)
		middleware.IncrementAuditsFailed()
		log.Printf("worker job failed id=%d err=%v", job.ID, err)
	} else {
		middleware.IncrementAuditsCompleted()
		log.Printf("worker job completed id=%d", job.ID)
	}

	w.mu.Lock()
	w.currentJobID = 0
	w.jobsProcessed++
	w.mu.Unlock()
}

// process runs the pipeline for one claimed job. Any error is recorded on
// the job as a failure so nothing stays processing forever.
func (w *Worker) process(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if err == nil {
			return
		}
		// Use a fresh context: the job must reach a terminal state even
		// when the worker is shutting down.
		now := w.Clock.Now()
		if mErr := w.Repo.MarkFailed(context.Background(), job.ID, err.Error(), now); mErr != nil {
			log.Printf("worker could not mark job %d failed: %v", job.ID, mErr)
		}
	}()

	// 1. document text
	w.progress(ctx, job.ID, "Retrieving document...")
	text := job.InlineText
	if text == "" {
		data, fErr := w.Documents.Fetch(ctx, job.DocumentKey)
		if fErr != nil {
			return fmt.Errorf("fetching document %s: %w", job.DocumentKey, fErr)
		}
		text = string(data)
	}

	// 2. anonymise (keep mode still scans, for report transparency)
	w.progress(ctx, job.ID, "Anonymising content...")
	anon := anonymise.Apply(text, job.FirstName, job.LastName, job.Mode, job.ReplaceFirst, job.ReplaceLast, job.ExtraRules)

	// 3. AI scoring; upstream failures surface to the user, no retry
	w.progress(ctx, job.ID, "Analysing document with AI...")
	result, sErr := w.Scorer.Score(ctx, anon.Text, job.AuditType)
	if sErr != nil {
		return sErr
	}

	// 4. render the report
	w.progress(ctx, job.ID, "Generating report document...")
	date := w.Clock.Now().Format("2006-01-02")
	doc, rErr := w.Renderer.Render(result, anon.Mapping, job.DisplayName(), date)
	if rErr != nil {
		return fmt.Errorf("rendering report: %w", rErr)
	}

	reportKey := fmt.Sprintf("%s/reports/%d-%s.html", job.TenantID, job.ID, uuid.New().String())
	if pErr := w.Documents.Put(ctx, reportKey, doc, "text/html; charset=utf-8"); pErr != nil {
		return fmt.Errorf("storing report: %w", pErr)
	}

	// 5. persist analysis and complete
	w.progress(ctx, job.ID, "Saving results...")
	stored, mErr := json.Marshal(domain.StoredAnalysis{Analysis: result, NameMappings: anon.Mapping})
	if mErr != nil {
		return fmt.Errorf("encoding analysis: %w", mErr)
	}
	if cErr := w.Repo.MarkCompleted(ctx, job.ID, result.OverallScore, string(stored), reportKey, w.Clock.Now()); cErr != nil {
		return fmt.Errorf("completing job: %w", cErr)
	}
	return nil
}

func (w *Worker) progress(ctx context.Context, id domain.JobID, msg string) {
	if err := w.Repo.UpdateProgress(ctx, id, msg); err != nil {
		log.Printf("worker progress update failed id=%d: %v", id, err)
	}
}

// expireReports detaches rendered reports past the retention window and
// removes the underlying objects. Rows stay; download reports them expired.
func (w *Worker) expireReports(ctx context.Context) {
	cutoff := w.Clock.Now().AddDate(0, 0, -domain.RetentionDays)
	keys, err := w.Repo.ExpireReports(ctx, cutoff)
	if err != nil {
		w.recordError(fmt.Errorf("expiring reports: %w", err))
		return
	}
	for _, key := range keys {
		if err := w.Documents.Remove(ctx, key); err != nil {
			log.Printf("worker could not remove expired report %s: %v", key, err)
		}
	}
	if len(keys) > 0 {
		log.Printf("worker expired %d report(s) older than %s", len(keys), cutoff.Format("2006-01-02"))
	}
}

func (w *Worker) recordError(err error) {
	w.mu.Lock()
	w.lastError = err.Error()
	w.mu.Unlock()
}

// Snapshot reports worker health for the metrics endpoint.
func (w *Worker) Snapshot() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := map[string]any{
		"running":        w.running,
		"jobs_processed": w.jobsProcessed,
		"current_job_id": int64(w.currentJobID),
		"last_error":     w.lastError,
	}
	if !w.startedAt.IsZero() {
		snap["started_at"] = w.startedAt
		snap["uptime_seconds"] = time.Since(w.startedAt).Seconds()
	}
	if !w.lastPollAt.IsZero() {
		snap["last_poll_at"] = w.lastPollAt
	}
	return map[string]any{"worker": snap}
}
