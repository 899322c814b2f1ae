package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/dioara/care-compliance-system-sub001/internal/infra/ai/prompt"

	domain "github.com/dioara/care-compliance-system-sub001/internal/domain/audits"
)

const maxTokens = 2000

// Client scores anonymised documents against the fixed response schema.
// Anything the provider returns that does not parse against the schema is
// rejected as an upstream error; no partial results flow downstream.
type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

func (c *Client) Score(ctx context.Context, text string, auditType domain.AuditType) (*domain.AnalysisResult, error) {
	model := c.Model
	if model == "" {
		model = openai.GPT4o
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt(auditType)},
			{Role: openai.ChatMessageRoleUser, Content: prompt.GetUserPrompt(auditType, text)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %v", domain.ErrUpstream, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: empty response", domain.ErrUpstream)
	}

	return parseResult(resp.Choices[0].Message.Content, auditType)
}

// parseResult validates the model's JSON against the expected schema and
// derives the summary counts. The boundary is strict: a missing score, an
// out-of-range score or an unknown severity rejects the whole response.
func parseResult(content string, auditType domain.AuditType) (*domain.AnalysisResult, error) {
	var raw struct {
		Score               *int             `json:"score"`
		Sections            []domain.Section `json:"sections"`
		Strengths           []string         `json:"strengths"`
		AreasForImprovement []string         `json:"areas_for_improvement"`
		Recommendations     []string         `json:"recommendations"`
		ComplianceNotes     string           `json:"compliance_notes"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON: %v", domain.ErrUpstream, err)
	}
	if raw.Score == nil {
		return nil, fmt.Errorf("%w: response is missing the score", domain.ErrUpstream)
	}
	min, max := auditType.ScoreBounds()
	if *raw.Score < min || *raw.Score > max {
		return nil, fmt.Errorf("%w: score %d outside %d-%d for %s", domain.ErrUpstream, *raw.Score, min, max, auditType)
	}

	summary := domain.SummaryCounts{SectionsAnalysed: len(raw.Sections)}
	for _, sec := range raw.Sections {
		for _, issue := range sec.Issues {
			switch issue.Severity {
			case domain.SeverityCritical:
				summary.Critical++
			case domain.SeverityMajor:
				summary.Major++
			case domain.SeverityMinor:
				summary.Minor++
			default:
				return nil, fmt.Errorf("%w: unknown severity %q", domain.ErrUpstream, issue.Severity)
			}
		}
	}

	return &domain.AnalysisResult{
		OverallScore:        *raw.Score,
		Summary:             summary,
		Sections:            raw.Sections,
		Strengths:           raw.Strengths,
		AreasForImprovement: raw.AreasForImprovement,
		Recommendations:     raw.Recommendations,
		ComplianceNotes:     raw.ComplianceNotes,
	}, nil
}
