package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ReportType represents the kind of appraisal report a document holds
type ReportType string

const (
	ReportTypeShezhi       ReportType = "shezhi"       // court-ordered disposal appraisal
	ReportTypeZujin        ReportType = "zujin"        // rental appraisal
	ReportTypeBiaozhunfang ReportType = "biaozhunfang" // standard-unit appraisal
)

// CaseExtra carries case fields that are not promoted to structured columns
type CaseExtra map[string]interface{}

// Value implements driver.Valuer for JSONB
func (e CaseExtra) Value() (driver.Value, error) {
	return json.Marshal(e)
}

// Scan implements sql.Scanner for JSONB
func (e *CaseExtra) Scan(value interface{}) error {
	if value == nil {
		*e = make(CaseExtra)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*e = make(CaseExtra)
		return nil
	}

	if len(bytes) == 0 {
		*e = make(CaseExtra)
		return nil
	}

	return json.Unmarshal(bytes, e)
}

// Case represents one comparable transaction record in the corpus.
// A case either carries a valid embedding (HasEmbedding=true) or is
// explicitly marked unembedded; it is never silently stale.
type Case struct {
	CaseID       string     `json:"case_id"`
	DocID        string     `json:"doc_id"`
	ReportType   ReportType `json:"report_type"`
	Address      string     `json:"address"`
	District     string     `json:"district"`
	Street       string     `json:"street"`
	Area         float64    `json:"area"`
	Price        float64    `json:"price"`
	Usage        string     `json:"usage"`
	BuildYear    *int       `json:"build_year,omitempty"`
	CurrentFloor *int       `json:"current_floor,omitempty"`
	TotalFloor   *int       `json:"total_floor,omitempty"`
	Orientation  string     `json:"orientation,omitempty"`
	Decoration   string     `json:"decoration,omitempty"`
	Structure    string     `json:"structure,omitempty"`
	Extra        CaseExtra  `json:"extra,omitempty"`
	HasEmbedding bool       `json:"has_embedding"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DocumentMetadata carries report-level fields kept schema-on-read
type DocumentMetadata map[string]interface{}

// Value implements driver.Valuer for JSONB
func (m DocumentMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB
func (m *DocumentMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(DocumentMetadata)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*m = make(DocumentMetadata)
		return nil
	}

	if len(bytes) == 0 {
		*m = make(DocumentMetadata)
		return nil
	}

	return json.Unmarshal(bytes, m)
}

// Document represents one submitted appraisal report owning 0..N cases.
// Deleting a document cascades to its cases.
type Document struct {
	DocID      string           `json:"doc_id"`
	Filename   string           `json:"filename"`
	ReportType ReportType       `json:"report_type"`
	Address    string           `json:"address"`
	Area       float64          `json:"area"`
	CaseCount  int              `json:"case_count"`
	Metadata   DocumentMetadata `json:"metadata,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// CaseQuery carries the structured constraints used to build a candidate
// pool from the corpus. Nil/zero fields are not applied.
type CaseQuery struct {
	ReportType   ReportType
	District     string
	Usage        string
	Keyword      string
	MinPrice     *float64
	MaxPrice     *float64
	MinArea      *float64
	MaxArea      *float64
	MinFloor     *int
	MaxFloor     *int
	MinBuildYear *int
	MaxBuildYear *int
	Limit        int
}

// CaseNeighbor is one hit from the embedding index: a case identity and
// its similarity to the query vector, normalized to [0,1]
type CaseNeighbor struct {
	CaseID string  `json:"case_id"`
	Score  float64 `json:"score"`
}

// RangeStats summarizes one numeric corpus field
type RangeStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// SimilarCase pairs a corpus case with a query-relative score in [0,1].
// Scores are recomputed per query and never persisted on the case.
type SimilarCase struct {
	Case  Case    `json:"case"`
	Score float64 `json:"score"`
}
