package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dioara/care-compliance-system-sub001/internal/application"
	appaudits "github.com/dioara/care-compliance-system-sub001/internal/application/audits"
	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
	"github.com/dioara/care-compliance-system-sub001/internal/middleware"
)

type memRepo struct {
	mu     sync.Mutex
	nextID domain.JobID
	jobs   map[domain.JobID]*domain.Job
}

func newMemRepo() *memRepo { return &memRepo{jobs: make(map[domain.JobID]*domain.Job)} }

func (r *memRepo) Create(ctx context.Context, j *domain.Job) (domain.JobID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *j
	cp.ID = r.nextID
	r.jobs[cp.ID] = &cp
	return cp.ID, nil
}

func (r *memRepo) Get(ctx context.Context, tenant string, id domain.JobID) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.TenantID != tenant {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *memRepo) List(ctx context.Context, tenant string, f domain.ListFilter) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*domain.Job{}
	for _, j := range r.jobs {
		if j.TenantID == tenant {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) Stats(ctx context.Context, tenant string) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s domain.Stats
	for _, j := range r.jobs {
		if j.TenantID == tenant {
			s.Total++
		}
	}
	return s, nil
}

func (r *memRepo) ClaimOldestPending(ctx context.Context) (*domain.Job, error) { return nil, nil }

func (r *memRepo) UpdateProgress(ctx context.Context, id domain.JobID, progress string) error {
	return nil
}

func (r *memRepo) MarkCompleted(ctx context.Context, id domain.JobID, score int, analysisJSON, reportKey string, processedAt time.Time) error {
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
	return nil
}

func (r *memRepo) MarkFailed(ctx context.Context, id domain.JobID, errorMessage string, processedAt time.Time) error {
	return nil
}

func (r *memRepo) Delete(ctx context.Context, tenant string, id domain.JobID) error {
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

func (r *memRepo) ExpireReports(ctx context.Context, cutoff time.Time) ([]string, error) {
	return nil, nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (s *memStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (s *memStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memRepo, *memStore) {
	t.Helper()
	repo := newMemRepo()
	store := newMemStore()
	svc := &appaudits.Service{Repo: repo, Documents: store, Clock: application.SystemClock{}}
	srv := httptest.NewServer(NewRouter(svc))
	t.Cleanup(srv.Close)
	return srv, repo, store
}

const submitBody = `{
  "audit_type": "care_plan",
  "document_name": "care-plan-march.txt",
  "inline_text": "Anne Smith prefers tea in the morning.",
  "first_name": "Anne",
  "last_name": "Smith",
  "mode": "replace",
  "replace_first": "A",
  "replace_last": "S"
}`

func TestSubmitAccepted(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/sunrise-care/audits", "application/json", strings.NewReader(submitBody))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var job struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID == 0 || job.Status != "pending" {
		t.Errorf("job = %+v, want pending with id", job)
	}
}

func TestSubmitValidationError(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"audit_type": "handover", "document_name": "x", "inline_text": "y", "first_name": "Anne", "mode": "replace", "replace_first": "A"}`
	resp, err := http.Post(srv.URL+"/v1/sunrise-care/audits", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var payload map[string]string
	json.NewDecoder(resp.Body).Decode(&payload)
	if !strings.Contains(payload["error"], "audit_type") {
		t.Errorf("error = %q, want mention of audit_type", payload["error"])
	}
}

func TestSubmitMalformedJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/v1/sunrise-care/audits", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetUnknownJob(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/sunrise-care/audits/99")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetBadID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/sunrise-care/audits/not-a-number")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDownloadStates(t *testing.T) {
	srv, repo, store := newTestServer(t)

	// queue a job through the API
	resp, err := http.Post(srv.URL+"/v1/sunrise-care/audits", "application/json", strings.NewReader(submitBody))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	// still pending -> conflict
	resp, err = http.Get(srv.URL + "/v1/sunrise-care/audits/1/download")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("pending download status = %d, want 409", resp.StatusCode)
	}

	// completed recently -> served with attachment headers
	store.objects["sunrise-care/reports/r1.html"] = []byte("<html>report</html>")
	repo.MarkCompleted(context.Background(), 1, 72, `{}`, "sunrise-care/reports/r1.html", time.Now().AddDate(0, 0, -1))

	resp, err = http.Get(srv.URL + "/v1/sunrise-care/audits/1/download")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("completed download status = %d, want 200", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, ".html") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// past retention -> gone
	repo.MarkCompleted(context.Background(), 1, 72, `{}`, "sunrise-care/reports/r1.html", time.Now().AddDate(0, 0, -(domain.RetentionDays+1)))
	resp, err = http.Get(srv.URL + "/v1/sunrise-care/audits/1/download")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expired download status = %d, want 410", resp.StatusCode)
	}
}

func TestDeleteJob(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/sunrise-care/audits", "application/json", strings.NewReader(submitBody))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/sunrise-care/audits/1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v1/sunrise-care/audits/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", resp.StatusCode)
	}
}

func TestUploadDocument(t *testing.T) {
	srv, _, store := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/sunrise-care/documents", strings.NewReader("document body"))
	req.Header.Set("X-Document-Name", "march notes.txt")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	key := payload["document_key"]
	if !strings.HasPrefix(key, "sunrise-care/uploads/") {
		t.Errorf("document_key = %q", key)
	}
	if string(store.objects[key]) != "document body" {
		t.Error("upload bytes not stored under returned key")
	}
}

func TestInvalidTenantFormat(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/bad%20tenant!/audits")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTenantMismatchWithAuth(t *testing.T) {
	repo := newMemRepo()
	svc := &appaudits.Service{Repo: repo, Documents: newMemStore(), Clock: application.SystemClock{}}
	handler := middleware.APIKeyAuth(map[string]string{"sunrise-care": "secret-key"})(NewRouter(svc))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/other-home/audits", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for tenant mismatch", resp.StatusCode)
	}
}
