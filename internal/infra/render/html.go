// Package render turns a stored analysis into the downloadable report.
// Rendering is a pure function of its inputs: identical analysis, mapping,
// name and date always produce byte-identical output, so a report can be
// regenerated for a completed job at any time.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
)

type HTMLRenderer struct{}

func NewHTMLRenderer() *HTMLRenderer { return &HTMLRenderer{} }

type reportData struct {
	DisplayName string
	Date        string
	Result      *domain.AnalysisResult
	PrivacyNote string
}

func (r *HTMLRenderer) Render(result *domain.AnalysisResult, mapping domain.NameMapping, displayName, date string) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("nil analysis result")
	}

	data := reportData{
		DisplayName: displayName,
		Date:        date,
		Result:      result,
		PrivacyNote: privacyNote(mapping),
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("executing report template: %w", err)
	}
	return buf.Bytes(), nil
}

func privacyNote(mapping domain.NameMapping) string {
	if len(mapping) == 0 {
		return "No subject names were declared for this document."
	}
	if !mapping.Applied() {
		return "Real names were retained in this analysis with explicit consent."
	}
	parts := make([]string, 0, len(mapping))
	for _, p := range mapping {
		parts = append(parts, fmt.Sprintf("%s → %s (%d occurrence(s))", p.Original, p.Replacement, p.Occurrences))
	}
	return "Names were anonymised before analysis: " + strings.Join(parts, "; ") + "."
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en-GB">
<head>
<meta charset="utf-8">
<title>AI Audit Report - {{.DisplayName}}</title>
<style>
body { font-family: Georgia, serif; margin: 2em auto; max-width: 52em; color: #222; }
h1 { border-bottom: 2px solid #2c5f8a; padding-bottom: 0.2em; }
h2 { color: #2c5f8a; }
.score { font-size: 1.4em; font-weight: bold; }
.summary td { padding: 0.2em 1em 0.2em 0; }
.issue { margin: 0.6em 0; padding: 0.5em 0.8em; border-left: 4px solid #999; }
.issue.critical { border-color: #b00020; }
.issue.major { border-color: #e07b00; }
.issue.minor { border-color: #777; }
.severity { text-transform: uppercase; font-size: 0.8em; font-weight: bold; }
.privacy { margin-top: 2em; padding: 0.8em; background: #f2f6fa; font-size: 0.9em; }
</style>
</head>
<body>
<h1>AI Audit Report</h1>
<p>Subject: <strong>{{.DisplayName}}</strong><br>Date: {{.Date}}</p>
<p class="score">Overall score: {{.Result.OverallScore}}</p>
<h2>Summary</h2>
<table class="summary">
<tr><td>Sections analysed</td><td>{{.Result.Summary.SectionsAnalysed}}</td></tr>
<tr><td>Critical issues</td><td>{{.Result.Summary.Critical}}</td></tr>
<tr><td>Major issues</td><td>{{.Result.Summary.Major}}</td></tr>
<tr><td>Minor issues</td><td>{{.Result.Summary.Minor}}</td></tr>
</table>
{{if .Result.Sections}}
<h2>Sections</h2>
{{range .Result.Sections}}
<h3>{{.Name}} — score {{.Score}}</h3>
{{range .Issues}}
<div class="issue {{.Severity}}">
<span class="severity">{{.Severity}}</span> — {{.Field}}<br>
{{.Detail}}
{{if .Recommendation}}<br><em>Recommendation: {{.Recommendation}}</em>{{end}}
</div>
{{end}}
{{end}}
{{end}}
{{if .Result.Strengths}}
<h2>Strengths</h2>
<ul>{{range .Result.Strengths}}<li>{{.}}</li>{{end}}</ul>
{{end}}
{{if .Result.AreasForImprovement}}
<h2>Areas for improvement</h2>
<ul>{{range .Result.AreasForImprovement}}<li>{{.}}</li>{{end}}</ul>
{{end}}
{{if .Result.Recommendations}}
<h2>Recommendations</h2>
<ul>{{range .Result.Recommendations}}<li>{{.}}</li>{{end}}</ul>
{{end}}
{{if .Result.ComplianceNotes}}
<h2>Compliance notes</h2>
<p>{{.Result.ComplianceNotes}}</p>
{{end}}
<div class="privacy">{{.PrivacyNote}}</div>
</body>
</html>
`))
