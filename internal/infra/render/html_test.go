package render

import (
	"bytes"
	"strings"
	"testing"

	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
)

func sampleResult() *domain.AnalysisResult {
	return &domain.AnalysisResult{
		OverallScore: 72,
		Summary:      domain.SummaryCounts{SectionsAnalysed: 1, Critical: 1, Major: 0, Minor: 1},
		Sections: []domain.Section{
			{
				Name:  "Mobility",
				Score: 60,
				Issues: []domain.Issue{
					{Severity: domain.SeverityCritical, Field: "Risk", Detail: "No falls risk assessment", Recommendation: "Add one"},
					{Severity: domain.SeverityMinor, Field: "Outcomes", Detail: "Outcome not time-bound"},
				},
			},
		},
		Strengths:       []string{"Person-centred language"},
		Recommendations: []string{"Introduce SMART outcomes"},
		ComplianceNotes: "Partially meets Regulation 9.",
	}
}

func TestRenderDeterministic(t *testing.T) {
	r := NewHTMLRenderer()
	mapping := domain.NameMapping{{Original: "Anne Smith", Replacement: "A S", Occurrences: 3}}

	first, err := r.Render(sampleResult(), mapping, "A S", "2026-09-01")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := r.Render(sampleResult(), mapping, "A S", "2026-09-01")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("identical inputs produced different reports")
	}
}

func TestRenderContent(t *testing.T) {
	r := NewHTMLRenderer()
	mapping := domain.NameMapping{{Original: "Anne Smith", Replacement: "A S", Occurrences: 3}}

	out, err := r.Render(sampleResult(), mapping, "A S", "2026-09-01")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := string(out)

	for _, want := range []string{
		"Overall score: 72",
		"Mobility",
		"No falls risk assessment",
		"Partially meets Regulation 9.",
		"Names were anonymised before analysis",
		"A S (3 occurrence(s))",
		"2026-09-01",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(html, "Areas for improvement") {
		t.Error("empty section should be omitted")
	}
}

func TestRenderPrivacyNoteKeepMode(t *testing.T) {
	r := NewHTMLRenderer()
	mapping := domain.NameMapping{{Original: "Anne Smith", Replacement: "Anne Smith", Occurrences: 2}}

	out, err := r.Render(sampleResult(), mapping, "Anne Smith", "2026-09-01")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(out), "retained in this analysis with explicit consent") {
		t.Error("keep-mode privacy note missing")
	}
}

func TestRenderNilResult(t *testing.T) {
	if _, err := NewHTMLRenderer().Render(nil, nil, "A S", "2026-09-01"); err == nil {
		t.Fatal("expected error for nil result")
	}
}
