package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	AuditsSubmitted    uint64
	AuditsCompleted    uint64
	AuditsFailed       uint64
	ReportsDownloaded  uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

func IncrementRequests() {
	atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
}

func IncrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
}

func DecrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))
}

func IncrementSuccess() {
	atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
}

func IncrementFailed() {
	atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
}

// IncrementAuditsSubmitted counts accepted audit submissions
func IncrementAuditsSubmitted() {
	atomic.AddUint64(&globalMetrics.AuditsSubmitted, 1)
}

// IncrementAuditsCompleted counts jobs the worker finished successfully
func IncrementAuditsCompleted() {
	atomic.AddUint64(&globalMetrics.AuditsCompleted, 1)
}

// IncrementAuditsFailed counts jobs that ended in failure
func IncrementAuditsFailed() {
	atomic.AddUint64(&globalMetrics.AuditsFailed, 1)
}

// IncrementReportsDownloaded counts served report downloads
func IncrementReportsDownloaded() {
	atomic.AddUint64(&globalMetrics.ReportsDownloaded, 1)
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"audits_submitted":     atomic.LoadUint64(&globalMetrics.AuditsSubmitted),
		"audits_completed":     atomic.LoadUint64(&globalMetrics.AuditsCompleted),
		"audits_failed":        atomic.LoadUint64(&globalMetrics.AuditsFailed),
		"reports_downloaded":   atomic.LoadUint64(&globalMetrics.ReportsDownloaded),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON. Extra snapshot funcs (e.g. the
// background worker's) are merged into the payload.
func MetricsHandler(extras ...func() map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := GetMetrics()
		for _, extra := range extras {
			for k, v := range extra() {
				payload[k] = v
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payload)
	}
}
