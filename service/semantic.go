package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"appraisal-review-backend/models"

	"github.com/google/generative-ai-go/genai"
)

var (
	ErrSemanticFailed      = errors.New("semantic review failed")
	ErrSemanticUnavailable = errors.New("semantic review backend unavailable")
)

const (
	generationAPI = "https://generativelanguage.googleapis.com/v1beta/models/gemini-3-pro-preview:generateContent"

	// semanticDeadline bounds one semantic pass so a slow model call
	// cannot hold a worker slot indefinitely
	semanticDeadline = 60 * time.Second

	maxReviewTextLen = 30000
)

// SemanticReviewer examines report prose for issues the rule validator
// cannot see: contradictory statements, unsupported conclusions, and
// inconsistencies between the narrative and the cited cases
type SemanticReviewer interface {
	Review(ctx context.Context, report *models.ExtractedReport) ([]models.SemanticIssue, error)
}

// GeminiSemanticReviewer implements SemanticReviewer over the Gemini
// generation API. Output is requested as a strict JSON array and
// re-validated on the way in.
type GeminiSemanticReviewer struct {
	geminiClient *genai.Client
	httpClient   *http.Client
}

// NewGeminiSemanticReviewer creates a new Gemini semantic reviewer
func NewGeminiSemanticReviewer(client *genai.Client) *GeminiSemanticReviewer {
	return &GeminiSemanticReviewer{
		geminiClient: client,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
}

// Review runs one semantic pass over the report text
func (r *GeminiSemanticReviewer) Review(ctx context.Context, report *models.ExtractedReport) ([]models.SemanticIssue, error) {
	if r.geminiClient == nil {
		return nil, fmt.Errorf("%w: gemini client not set", ErrSemanticUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, semanticDeadline)
	defer cancel()

	prompt := buildReviewPrompt(report)

	var content string
	var err error
	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrSemanticUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		content, err = r.callGenerationAPI(ctx, prompt, 0.2)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrSemanticUnavailable, ctx.Err())
			}
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("%w: %v", ErrSemanticUnavailable, err)
			}
			continue
		}
		break
	}
	if content == "" {
		return nil, ErrSemanticFailed
	}

	issues, err := parseSemanticIssues(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSemanticFailed, err)
	}
	return issues, nil
}

// buildReviewPrompt renders the report for the model. Case rows are
// included so the model can cross-check prose against the numbers.
func buildReviewPrompt(report *models.ExtractedReport) string {
	var caseLines strings.Builder
	for _, c := range report.Cases {
		caseLines.WriteString(caseLabel(c))
		if c.Address != "" {
			caseLines.WriteString(" at " + c.Address)
		}
		if c.Area != nil {
			fmt.Fprintf(&caseLines, ", area %.1f sqm", *c.Area)
		}
		if c.UnitPrice != nil {
			fmt.Fprintf(&caseLines, ", unit price %.0f", *c.UnitPrice)
		}
		if c.BuildYear != nil {
			fmt.Fprintf(&caseLines, ", built %d", *c.BuildYear)
		}
		caseLines.WriteString("\n")
	}

	reviewText := report.ReviewText
	if len(reviewText) > maxReviewTextLen {
		reviewText = reviewText[:maxReviewTextLen]
	}

	return fmt.Sprintf(`You are a senior real estate appraisal reviewer checking a %s report for internal consistency.

SUBJECT PROPERTY:
%s

COMPARABLE CASES:
%s
REPORT TEXT:
%s

TASK:
Find issues in the report text itself: statements that contradict each other, conclusions with no supporting reasoning, descriptions that conflict with the comparable case data above, and missing mandatory disclosures.

Return ONLY a JSON array, no prose and no markdown fences. Each element:
{"type": "<short category>", "severity": "minor"|"major"|"critical", "description": "<what is wrong>", "suggestion": "<how to fix it>", "case_id": "<related case id or empty>"}

Use "critical" only for issues that undermine the appraisal conclusion. Return [] if the text is consistent.`,
		report.ReportType,
		BuildSubjectText(&report.Subject),
		caseLines.String(),
		reviewText,
	)
}

// parseSemanticIssues decodes the model output, tolerating markdown
// fences, and drops elements with unknown severities
func parseSemanticIssues(content string) ([]models.SemanticIssue, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Some responses wrap the array in commentary despite instructions
	if start := strings.Index(content, "["); start > 0 {
		if end := strings.LastIndex(content, "]"); end > start {
			content = content[start : end+1]
		}
	}

	var raw []models.SemanticIssue
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("unparseable model output: %w", err)
	}

	issues := make([]models.SemanticIssue, 0, len(raw))
	for _, issue := range raw {
		switch issue.Severity {
		case models.SemanticMinor, models.SemanticMajor, models.SemanticCritical:
		default:
			issue.Severity = models.SemanticMinor
		}
		if issue.Description == "" {
			continue
		}
		if issue.Type == "" {
			issue.Type = "consistency"
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// callGenerationAPI calls the Gemini generation API directly via HTTP
func (r *GeminiSemanticReviewer) callGenerationAPI(ctx context.Context, prompt string, temperature float64) (string, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("GEMINI_API_KEY not set")
	}

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": prompt},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"temperature": temperature,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", generationAPI, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Printf("Gemini API error: Status %d, Body: %s", resp.StatusCode, string(bodyBytes))
		return "", fmt.Errorf("API error: %d", resp.StatusCode)
	}

	var apiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason,omitempty"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason,omitempty"`
		} `json:"promptFeedback,omitempty"`
		Error struct {
			Code    int    `json:"code,omitempty"`
			Message string `json:"message,omitempty"`
		} `json:"error,omitempty"`
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if apiResp.Error.Message != "" {
		return "", fmt.Errorf("API error: %s (code: %d)", apiResp.Error.Message, apiResp.Error.Code)
	}
	if apiResp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("API blocked prompt: %s", apiResp.PromptFeedback.BlockReason)
	}
	if len(apiResp.Candidates) == 0 {
		return "", fmt.Errorf("API returned no candidates")
	}

	var responseText strings.Builder
	for i, candidate := range apiResp.Candidates {
		if candidate.FinishReason != "" && candidate.FinishReason != "STOP" {
			log.Printf("Warning: Candidate %d finished with reason: %s", i, candidate.FinishReason)
		}
		for _, part := range candidate.Content.Parts {
			responseText.WriteString(part.Text)
		}
	}

	result := responseText.String()
	if result == "" {
		return "", fmt.Errorf("API returned empty content")
	}
	return result, nil
}
