package audits

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeRepo struct {
	mu     sync.Mutex
	nextID domain.JobID
	jobs   map[domain.JobID]*domain.Job
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[domain.JobID]*domain.Job)}
}

func (r *fakeRepo) Create(ctx context.Context, j *domain.Job) (domain.JobID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *j
	cp.ID = r.nextID
	r.jobs[cp.ID] = &cp
	return cp.ID, nil
}

func (r *fakeRepo) Get(ctx context.Context, tenant string, id domain.JobID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.TenantID != tenant {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *fakeRepo) List(ctx context.Context, tenant string, f domain.ListFilter) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Job
	for _, j := range r.jobs {
		if j.TenantID != tenant {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) Stats(ctx context.Context, tenant string) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s domain.Stats
	for _, j := range r.jobs {
		if j.TenantID != tenant {
			continue
		}
		s.Total++
		switch j.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusProcessing:
			s.Processing++
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (r *fakeRepo) ClaimOldestPending(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *domain.Job
	for _, j := range r.jobs {
		if j.Status != domain.StatusPending {
			continue
		}
		if oldest == nil || j.ID < oldest.ID {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = domain.StatusProcessing
	cp := *oldest
	return &cp, nil
}

func (r *fakeRepo) UpdateProgress(ctx context.Context, id domain.JobID, progress string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Progress = progress
	}
	return nil
}

func (r *fakeRepo) MarkCompleted(ctx context.Context, id domain.JobID, score int, analysisJSON, reportKey string, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = domain.StatusCompleted
	j.Score = &score
	j.Analysis = analysisJSON
	j.ReportKey = reportKey
	j.ProcessedAt = &processedAt
	j.Progress = ""
	return nil
}

func (r *fakeRepo) MarkFailed(ctx context.Context, id domain.JobID, errorMessage string, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = domain.StatusFailed
	j.ErrorMessage = errorMessage
	j.ProcessedAt = &processedAt
	j.Progress = ""
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, tenant string, id domain.JobID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.TenantID != tenant {
		return domain.ErrNotFound
	}
	if j.Status == domain.StatusProcessing {
		return domain.ErrInvalidState
	}
	delete(r.jobs, id)
	return nil
}

func (r *fakeRepo) ExpireReports(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for _, j := range r.jobs {
		if j.Status.Terminal() && j.ReportKey != "" && j.ProcessedAt != nil && j.ProcessedAt.Before(cutoff) {
			keys = append(keys, j.ReportKey)
			j.ReportKey = ""
		}
	}
	return keys, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return data, nil
}

func (s *fakeStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func newService(now time.Time) (*Service, *fakeRepo, *fakeStore) {
	repo := newFakeRepo()
	store := newFakeStore()
	return &Service{Repo: repo, Documents: store, Clock: fixedClock{t: now}}, repo, store
}

func validSubmit() SubmitCommand {
	return SubmitCommand{
		TenantID:     "sunrise-care",
		AuditType:    "care_plan",
		DocumentName: "care-plan-march.txt",
		InlineText:   "Anne Smith prefers tea in the morning.",
		FirstName:    "Anne",
		LastName:     "Smith",
		Mode:         "replace",
		ReplaceFirst: "A",
		ReplaceLast:  "S",
	}
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, repo, _ := newService(now)

	job, err := svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID == 0 {
		t.Error("job id not assigned")
	}
	if job.Status != domain.StatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.Progress == "" {
		t.Error("submitted job should carry an initial progress message")
	}
	if !job.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", job.CreatedAt, now)
	}

	stored, err := repo.Get(context.Background(), "sunrise-care", job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ProcessedAt != nil || stored.Score != nil {
		t.Error("pending job must not carry processedAt or score")
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newService(time.Now())

	cases := []struct {
		name   string
		mutate func(*SubmitCommand)
		field  string
	}{
		{"missing tenant", func(c *SubmitCommand) { c.TenantID = " " }, "tenant_id"},
		{"bad audit type", func(c *SubmitCommand) { c.AuditType = "handover" }, "audit_type"},
		{"missing document name", func(c *SubmitCommand) { c.DocumentName = "" }, "document_name"},
		{"both document sources", func(c *SubmitCommand) { c.DocumentKey = "t/uploads/x" }, "document"},
		{"no document source", func(c *SubmitCommand) { c.InlineText = "" }, "document"},
		{"missing first name", func(c *SubmitCommand) { c.FirstName = "" }, "first_name"},
		{"bad mode", func(c *SubmitCommand) { c.Mode = "redact" }, "mode"},
		{"replace without token", func(c *SubmitCommand) { c.ReplaceFirst = "" }, "replace_first"},
		{"replace last missing", func(c *SubmitCommand) { c.ReplaceLast = "" }, "replace_last"},
		{"keep without consent", func(c *SubmitCommand) { c.Mode = "keep"; c.Consent = false }, "consent"},
		{"rule without replacement", func(c *SubmitCommand) {
			c.ExtraRules = []domain.Rule{{Name: "Mary"}}
		}, "extra_rules"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validSubmit()
			tc.mutate(&cmd)
			_, err := svc.Submit(context.Background(), cmd)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if vErr.Field != tc.field {
				t.Errorf("field = %s, want %s", vErr.Field, tc.field)
			}
		})
	}
}

func TestSubmitKeepModeWithConsent(t *testing.T) {
	svc, _, _ := newService(time.Now())
	cmd := validSubmit()
	cmd.Mode = "keep"
	cmd.ReplaceFirst = ""
	cmd.ReplaceLast = ""
	cmd.Consent = true
	if _, err := svc.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("keep with consent should be accepted: %v", err)
	}
}

func TestGetIncludesParsedAnalysis(t *testing.T) {
	now := time.Now()
	svc, repo, _ := newService(now)

	job, _ := svc.Submit(context.Background(), validSubmit())
	analysis := `{"analysis":{"score":72,"summary":{"sections_analysed":1,"critical":0,"major":0,"minor":0}},"name_mappings":[{"original":"Anne Smith","replacement":"A S","occurrences":2}]}`
	repo.MarkCompleted(context.Background(), job.ID, 72, analysis, "sunrise-care/reports/r1.html", now)

	detail, err := svc.Get(context.Background(), "sunrise-care", job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Result == nil || detail.Result.Analysis == nil {
		t.Fatal("completed job detail should carry the parsed analysis")
	}
	if detail.Result.Analysis.OverallScore != 72 {
		t.Errorf("score = %d, want 72", detail.Result.Analysis.OverallScore)
	}
	if len(detail.Result.NameMappings) != 1 {
		t.Errorf("name mappings = %+v", detail.Result.NameMappings)
	}
}

func TestListRejectsUnknownStatusFilter(t *testing.T) {
	svc, _, _ := newService(time.Now())
	_, err := svc.List(context.Background(), "sunrise-care", "archived", 10, 0)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestDownloadNotCompleted(t *testing.T) {
	svc, _, _ := newService(time.Now())
	job, err := svc.Submit(context.Background(), validSubmit())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = svc.Download(context.Background(), "sunrise-care", job.ID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestDownloadCompleted(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, repo, store := newService(now)

	job, _ := svc.Submit(context.Background(), validSubmit())
	processed := now.AddDate(0, 0, -10)
	store.objects["sunrise-care/reports/r1.html"] = []byte("<html>report</html>")
	if err := repo.MarkCompleted(context.Background(), job.ID, 72, `{"analysis":{}}`, "sunrise-care/reports/r1.html", processed); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	res, err := svc.Download(context.Background(), "sunrise-care", job.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(res.Data) != "<html>report</html>" {
		t.Errorf("unexpected data %q", res.Data)
	}
	wantName := "AI_Audit_A_S_" + processed.Format("2006-01-02") + ".html"
	if res.Filename != wantName {
		t.Errorf("filename = %s, want %s", res.Filename, wantName)
	}
}

func TestDownloadExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	svc, repo, _ := newService(now)

	job, _ := svc.Submit(context.Background(), validSubmit())
	// processed 91 days ago, one past the retention window
	processed := now.AddDate(0, 0, -(domain.RetentionDays + 1))
	if err := repo.MarkCompleted(context.Background(), job.ID, 72, `{}`, "sunrise-care/reports/r1.html", processed); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	_, err := svc.Download(context.Background(), "sunrise-care", job.ID)
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestDownloadDetachedReport(t *testing.T) {
	now := time.Now()
	svc, repo, _ := newService(now)

	job, _ := svc.Submit(context.Background(), validSubmit())
	processed := now.AddDate(0, 0, -10)
	if err := repo.MarkCompleted(context.Background(), job.ID, 72, `{}`, "", processed); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	// reaper already detached the report object
	_, err := svc.Download(context.Background(), "sunrise-care", job.ID)
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestDeleteRemovesJobAndObjects(t *testing.T) {
	now := time.Now()
	svc, repo, store := newService(now)

	job, _ := svc.Submit(context.Background(), validSubmit())
	processed := now.AddDate(0, 0, -1)
	store.objects["sunrise-care/reports/r1.html"] = []byte("x")
	repo.MarkCompleted(context.Background(), job.ID, 72, `{}`, "sunrise-care/reports/r1.html", processed)

	if err := svc.Delete(context.Background(), "sunrise-care", job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(context.Background(), "sunrise-care", job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Error("job row should be gone")
	}
	if _, ok := store.objects["sunrise-care/reports/r1.html"]; ok {
		t.Error("report object should be removed")
	}
}

func TestDeleteProcessingJob(t *testing.T) {
	svc, repo, _ := newService(time.Now())
	job, _ := svc.Submit(context.Background(), validSubmit())
	if _, err := repo.ClaimOldestPending(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.Delete(context.Background(), "sunrise-care", job.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestDeleteWrongTenant(t *testing.T) {
	svc, _, _ := newService(time.Now())
	job, _ := svc.Submit(context.Background(), validSubmit())
	if err := svc.Delete(context.Background(), "other-home", job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUploadDocument(t *testing.T) {
	svc, _, store := newService(time.Now())

	key, err := svc.UploadDocument(context.Background(), "sunrise-care", "march notes.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(key, "sunrise-care/uploads/") {
		t.Errorf("key = %s, want tenant uploads prefix", key)
	}
	if strings.Contains(key, " ") {
		t.Errorf("key %s should not contain spaces", key)
	}
	if _, ok := store.objects[key]; !ok {
		t.Error("uploaded bytes not stored")
	}

	if _, err := svc.UploadDocument(context.Background(), "sunrise-care", "x.txt", nil); err == nil {
		t.Error("empty upload should be rejected")
	}
}
