package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appaudits "github.com/dioara/care-compliance-system-sub001/internal/application/audits"
	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
	"github.com/dioara/care-compliance-system-sub001/internal/middleware"
)

// maxUploadBytes caps document uploads at 10 MiB.
const maxUploadBytes = 10 << 20

type Router struct {
	auditsSvc *appaudits.Service
}

func NewRouter(auditsSvc *appaudits.Service) http.Handler {
	r := &Router{auditsSvc: auditsSvc}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Post("/audits", r.wrap(r.handleSubmit))
		rt.Get("/audits", r.wrap(r.handleList))
		rt.Get("/audits/stats", r.wrap(r.handleStats))
		rt.Get("/audits/{id}", r.wrap(r.handleGet))
		rt.Get("/audits/{id}/status", r.wrap(r.handleStatus))
		rt.Get("/audits/{id}/download", r.wrap(r.handleDownload))
		rt.Delete("/audits/{id}", r.wrap(r.handleDelete))
		rt.Post("/documents", r.wrap(r.handleUpload))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps domain errors onto HTTP statuses. Handlers just return errors.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		var vErr *domain.ValidationError
		switch {
		case errors.As(err, &vErr):
			writeError(w, http.StatusBadRequest, vErr.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "audit job not found")
		case errors.Is(err, domain.ErrInvalidState):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrExpired):
			writeError(w, http.StatusGone, "report has passed its retention period and is no longer available")
		case errors.Is(err, domain.ErrUpstream):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// requestTenant returns the URL tenant after checking it against the
// authenticated tenant, when auth is enabled.
func requestTenant(req *http.Request) (string, error) {
	tenant := chi.URLParam(req, "tenant")
	if err := middleware.ValidateTenantID(tenant); err != nil {
		return "", &domain.ValidationError{Field: "tenant", Reason: err.Error()}
	}
	if auth := middleware.GetTenantFromContext(req.Context()); auth != "" && auth != tenant {
		return "", &domain.ValidationError{Field: "tenant", Reason: "tenant does not match API key"}
	}
	return tenant, nil
}

func jobID(req *http.Request) (domain.JobID, error) {
	raw := chi.URLParam(req, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return domain.JobID(id), nil
}

// POST /v1/{tenant}/audits
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	tenant, err := requestTenant(req)
	if err != nil {
		return err
	}

	var body struct {
		LocationID   string        `json:"location_id"`
		RequestedBy  string        `json:"requested_by"`
		AuditType    string        `json:"audit_type"`
		DocumentName string        `json:"document_name"`
		DocumentKey  string        `json:"document_key"`
		InlineText   string        `json:"inline_text"`
		FirstName    string        `json:"first_name"`
		LastName     string        `json:"last_name"`
		Mode         string        `json:"mode"`
		ReplaceFirst string        `json:"replace_first"`
		ReplaceLast  string        `json:"replace_last"`
		ExtraRules   []domain.Rule `json:"extra_rules"`
		Consent      bool          `json:"consent"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return &domain.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	if err := middleware.ValidateDocumentName(body.DocumentName); err != nil {
		return &domain.ValidationError{Field: "document_name", Reason: err.Error()}
	}

	job, err := r.auditsSvc.Submit(req.Context(), appaudits.SubmitCommand{
		TenantID:     tenant,
		LocationID:   body.LocationID,
		RequestedBy:  body.RequestedBy,
		AuditType:    body.AuditType,
		DocumentName: body.DocumentName,
		DocumentKey:  body.DocumentKey,
		InlineText:   body.InlineText,
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		Mode:         body.Mode,
		ReplaceFirst: body.ReplaceFirst,
		ReplaceLast:  body.ReplaceLast,
		ExtraRules:   body.ExtraRules,
		Consent:      body.Consent,
	})
	if err != nil {
		return err
	}

	middleware.IncrementAuditsSubmitted()
	return writeJSON(w, http.StatusAccepted, job)
}

// GET /v1/{tenant}/audits?status=&limit=&offset=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	tenant, err := requestTenant(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))

	list, err := r.auditsSvc.List(req.Context(), tenant, req.URL.Query().Get("status"),
		middleware.ValidateLimit(limit), middleware.ValidateOffset(offset))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/{tenant}/audits/stats
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) error {
	tenant, err := requestTenant(req)
	if err != nil {
		return err
	}
	stats, err := r.auditsSvc.Stats(req.Context(), tenant)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, stats)
}

// GET /v1/{tenant}/audits/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	tenant, err := requestTenant(req)
	if err != nil {
		return err
	}
	id, err := jobID(req)
	if err != nil {
		return err
	}
	job, err := r.auditsSvc.Get(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, job)
}

// GET /v1/{tenant}/audits/{id}/status
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) error {
	tenant, err := requestTenant(req)
	if err != nil {
		return err
	}
	id, err := jobID(req)
	if err != nil {
		return err
	}
	info, err := r.auditsSvc.Status(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, info)
}

// GET /v1/{tenant}/audits/{id}/download
func (r *Router) handleDownload(w http.ResponseWriter, req *http.Request) error {
	tenant, err := requestTenant(req)
	if err != nil {
		return err
	}
	id, err := jobID(req)
	if err != nil {
		return err
	}
	res, err := r.auditsSvc.Download(req.Context(), tenant, id)
	if err != nil {
		return err
	}

	middleware.IncrementReportsDownloaded()
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	_, err = w.Write(res.Data)
	return err
}

// DELETE /v1/{tenant}/audits/{id}
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) error {
	tenant, err := requestTenant(req)
	if err != nil {
		return err
	}
	id, err := jobID(req)
	if err != nil {
		return err
	}
	if err := r.auditsSvc.Delete(req.Context(), tenant, id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// POST /v1/{tenant}/documents
// Body is the raw document; name comes from X-Document-Name.
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	tenant, err := requestTenant(req)
	if err != nil {
		return err
	}

	name := middleware.SanitizeString(req.Header.Get("X-Document-Name"))
	data, err := io.ReadAll(io.LimitReader(req.Body, maxUploadBytes+1))
	if err != nil {
		return fmt.Errorf("reading upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return &domain.ValidationError{Field: "document", Reason: "upload exceeds 10 MiB"}
	}

	key, err := r.auditsSvc.UploadDocument(req.Context(), tenant, name, data)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]string{"document_key": key})
}
