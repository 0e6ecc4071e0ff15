package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"appraisal-review-backend/models"
)

var (
	ErrEmbeddingFailed      = errors.New("failed to generate embedding")
	ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")
)

const (
	embeddingAPI   = "https://generativelanguage.googleapis.com/v1beta/models/gemini-embedding-001:embedContent"
	embeddingDims  = 768
	maxRetries     = 3
	initialBackoff = time.Second
)

// EmbeddingRequest represents an embedding API request
type EmbeddingRequest struct {
	Model                string       `json:"model"`
	Content              ContentInput `json:"content"`
	TaskType             string       `json:"task_type,omitempty"`
	OutputDimensionality int          `json:"output_dimensionality,omitempty"`
}

// ContentInput represents content for embedding
type ContentInput struct {
	Parts []PartInput `json:"parts"`
}

// PartInput represents a part of content
type PartInput struct {
	Text string `json:"text"`
}

// EmbeddingResponse represents an embedding API response
type EmbeddingResponse struct {
	Embedding EmbeddingData `json:"embedding"`
}

// EmbeddingData contains the embedding values
type EmbeddingData struct {
	Values []float64 `json:"values"`
}

// Embedder produces a fixed-dimension vector for a piece of case text.
// A failed call returns an error and never a partial vector.
type Embedder interface {
	Embed(ctx context.Context, text, taskType string) ([]float64, error)
}

// GeminiEmbedder calls the Gemini embedding API over HTTP with retry
// and exponential backoff. Vectors are L2-normalized before returning
// so cosine distance in the index stays well defined.
type GeminiEmbedder struct {
	httpClient *http.Client
}

// NewGeminiEmbedder creates a new Gemini embedder
func NewGeminiEmbedder() *GeminiEmbedder {
	return &GeminiEmbedder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed generates a normalized embedding for the given text
func (e *GeminiEmbedder) Embed(ctx context.Context, text, taskType string) ([]float64, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY not set", ErrEmbeddingUnavailable)
	}

	reqBody := EmbeddingRequest{
		Model: "models/gemini-embedding-001",
		Content: ContentInput{
			Parts: []PartInput{{Text: text}},
		},
		TaskType:             taskType,
		OutputDimensionality: embeddingDims,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	backoff := initialBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, "POST", embeddingAPI, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", apiKey)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			var apiResp EmbeddingResponse
			decodeErr := json.NewDecoder(resp.Body).Decode(&apiResp)
			resp.Body.Close()
			if decodeErr != nil {
				if attempt == maxRetries-1 {
					return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
				}
				continue
			}

			embedding := apiResp.Embedding.Values
			if len(embedding) == 0 {
				return nil, fmt.Errorf("%w: empty embedding in response", ErrEmbeddingFailed)
			}
			normalize(embedding)
			return embedding, nil
		}

		resp.Body.Close()

		// 400 and 401 are permanent, retrying cannot help
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: API error %d", ErrEmbeddingFailed, resp.StatusCode)
		}

		if attempt == maxRetries-1 {
			return nil, fmt.Errorf("%w: API error %d after %d attempts", ErrEmbeddingUnavailable, resp.StatusCode, maxRetries)
		}
	}

	return nil, ErrEmbeddingFailed
}

// normalize scales a vector to unit length in place
func normalize(v []float64) {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}

// BuildCaseText renders a corpus case as the canonical text fed to the
// embedding model. Both stored cases and query subjects go through the
// same rendering so the vector space stays consistent.
func BuildCaseText(c *models.Case) string {
	var b strings.Builder

	writeField(&b, "district", c.District)
	writeField(&b, "address", c.Address)
	writeField(&b, "street", c.Street)
	writeField(&b, "usage", c.Usage)
	if c.Area > 0 {
		writeField(&b, "area", fmt.Sprintf("%.1f sqm", c.Area))
	}
	if c.Price > 0 {
		writeField(&b, "unit price", fmt.Sprintf("%.0f", c.Price))
	}
	if c.BuildYear != nil {
		writeField(&b, "build year", fmt.Sprintf("%d", *c.BuildYear))
	}
	if c.CurrentFloor != nil && c.TotalFloor != nil {
		writeField(&b, "floor", fmt.Sprintf("%d/%d", *c.CurrentFloor, *c.TotalFloor))
	}
	writeField(&b, "orientation", c.Orientation)
	writeField(&b, "decoration", c.Decoration)
	writeField(&b, "structure", c.Structure)

	return b.String()
}

// BuildSubjectText renders the report subject in the same shape as
// BuildCaseText for retrieval queries
func BuildSubjectText(subject *models.ReportSubject) string {
	var b strings.Builder

	writeField(&b, "district", subject.District)
	writeField(&b, "address", subject.Address)
	writeField(&b, "usage", subject.Usage)
	if subject.BuildingArea != nil && *subject.BuildingArea > 0 {
		writeField(&b, "area", fmt.Sprintf("%.1f sqm", *subject.BuildingArea))
	}
	if subject.UnitPrice != nil && *subject.UnitPrice > 0 {
		writeField(&b, "unit price", fmt.Sprintf("%.0f", *subject.UnitPrice))
	}

	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteString("; ")
	}
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
}
