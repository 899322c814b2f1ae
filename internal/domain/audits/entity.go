package audits

import (
	"time"
)

// JobID is the database identity of an audit job
type JobID int64

// AuditType enum
type AuditType string

const (
	TypeCarePlan   AuditType = "care_plan"
	TypeDailyNotes AuditType = "daily_notes"
)

// ScoreBounds returns the valid score range for an audit type.
// Care plans are scored 0-100, daily notes 1-10; the two scales
// must not be mixed.
func (t AuditType) ScoreBounds() (min, max int) {
	if t == TypeDailyNotes {
		return 1, 10
	}
	return 0, 100
}

// Mode enum for anonymisation
type Mode string

const (
	ModeReplace Mode = "replace"
	ModeKeep    Mode = "keep"
)

// Status enum
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further worker transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RetentionDays is how long a report stays downloadable after processing.
const RetentionDays = 90

// Severity enum for analysis issues
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Issue is one finding inside a section
type Issue struct {
	Severity       Severity `json:"severity"`
	Field          string   `json:"field"`
	Detail         string   `json:"detail"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Section groups issues for one part of the document
type Section struct {
	Name   string  `json:"name"`
	Score  int     `json:"score"`
	Issues []Issue `json:"issues"`
}

// SummaryCounts value object
type SummaryCounts struct {
	SectionsAnalysed int `json:"sections_analysed"`
	Critical         int `json:"critical"`
	Major            int `json:"major"`
	Minor            int `json:"minor"`
}

// AnalysisResult is the structured output of AI scoring. It is owned by
// exactly one job and never shared.
type AnalysisResult struct {
	OverallScore        int           `json:"score"`
	Summary             SummaryCounts `json:"summary"`
	Sections            []Section     `json:"sections,omitempty"`
	Strengths           []string      `json:"strengths,omitempty"`
	AreasForImprovement []string      `json:"areas_for_improvement,omitempty"`
	Recommendations     []string      `json:"recommendations,omitempty"`
	ComplianceNotes     string        `json:"compliance_notes,omitempty"`
}

// NamePair records one original name and what it became. When a name is
// kept (consented), Replacement equals Original.
type NamePair struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Occurrences int    `json:"occurrences"`
}

// NameMapping is the full substitution record for one job, carried into
// the rendered report for transparency.
type NameMapping []NamePair

// Applied reports whether any actual substitution happened.
func (m NameMapping) Applied() bool {
	for _, p := range m {
		if p.Replacement != p.Original {
			return true
		}
	}
	return false
}

// Rule is an extra caller-declared name to anonymise besides the
// subject's first/last name.
type Rule struct {
	Name        string `json:"name"`
	ReplaceWith string `json:"replace_with"`
}

// StoredAnalysis is the payload persisted on a completed job.
type StoredAnalysis struct {
	Analysis     *AnalysisResult `json:"analysis"`
	NameMappings NameMapping     `json:"name_mappings,omitempty"`
}

// Aggregate root: Job. Created pending by the submit operation, then
// exclusively mutated by the worker until it reaches a terminal state.
type Job struct {
	ID          JobID     `json:"id"`
	TenantID    string    `json:"tenant_id"`
	LocationID  string    `json:"location_id,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	AuditType   AuditType `json:"audit_type"`

	DocumentName string `json:"document_name"`
	DocumentKey  string `json:"document_key,omitempty"`
	InlineText   string `json:"-"`

	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Mode         Mode   `json:"mode"`
	ReplaceFirst string `json:"replace_first,omitempty"`
	ReplaceLast  string `json:"replace_last,omitempty"`
	ExtraRules   []Rule `json:"extra_rules,omitempty"`
	Consent      bool   `json:"consent"`

	Status       Status `json:"status"`
	Progress     string `json:"progress,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Score     *int   `json:"score,omitempty"`
	Analysis  string `json:"-"` // StoredAnalysis JSON, populated when completed
	ReportKey string `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// SubjectName is the full real name of the service user.
func (j *Job) SubjectName() string {
	if j.FirstName == "" && j.LastName == "" {
		return ""
	}
	if j.LastName == "" {
		return j.FirstName
	}
	if j.FirstName == "" {
		return j.LastName
	}
	return j.FirstName + " " + j.LastName
}

// DisplayName is the name a rendered report may show, honouring the
// anonymisation mode.
func (j *Job) DisplayName() string {
	if j.Mode == ModeReplace {
		if j.ReplaceFirst == "" && j.ReplaceLast == "" {
			return "Service User"
		}
		if j.ReplaceLast == "" {
			return j.ReplaceFirst
		}
		return j.ReplaceFirst + " " + j.ReplaceLast
	}
	if n := j.SubjectName(); n != "" {
		return n
	}
	return "Service User"
}

// ExpiresAt returns the end of the retention window, or zero when the
// job is not terminal yet.
func (j *Job) ExpiresAt() time.Time {
	if j.ProcessedAt == nil {
		return time.Time{}
	}
	return j.ProcessedAt.AddDate(0, 0, RetentionDays)
}

// Expired reports whether the retention window has passed.
func (j *Job) Expired(now time.Time) bool {
	exp := j.ExpiresAt()
	return !exp.IsZero() && now.After(exp)
}

// Stats rekap per tenant
type Stats struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Processing   int     `json:"processing"`
	Completed    int     `json:"completed"`
	Failed       int     `json:"failed"`
	AverageScore float64 `json:"average_score"`
}
