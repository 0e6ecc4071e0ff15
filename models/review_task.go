package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a review task.
// Transitions only follow pending -> running -> completed|failed.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions are allowed
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// RiskLevel represents the overall risk verdict of a completed review
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// riskRank orders risk levels for max-merging
var riskRank = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// Max returns the higher of two risk levels
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if riskRank[other] > riskRank[r] {
		return other
	}
	return r
}

// ReviewResult is the full structured outcome of one review, persisted
// as a self-describing JSONB blob (schema-on-read)
type ReviewResult struct {
	Subject          *ReportSubject     `json:"subject,omitempty"`
	CaseCount        int                `json:"case_count"`
	ValidationIssues []ValidationIssue  `json:"validation_issues"`
	FormulaChecks    []FormulaCheck     `json:"formula_checks,omitempty"`
	Comparisons      []ComparisonResult `json:"comparisons"`
	SimilarCases     []SimilarCase      `json:"similar_cases"`
	SemanticIssues   []SemanticIssue    `json:"semantic_issues"`
	Recommendations  []string           `json:"recommendations"`
	Summary          string             `json:"summary,omitempty"`
	OverallRisk      RiskLevel          `json:"overall_risk"`
	Degraded         bool               `json:"degraded"`
}

// Value implements driver.Valuer for JSONB
func (r ReviewResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB
func (r *ReviewResult) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	if len(bytes) == 0 {
		return nil
	}

	return json.Unmarshal(bytes, r)
}

// ReviewTask represents one asynchronous review of a submitted report
type ReviewTask struct {
	ID              uuid.UUID     `json:"id"`
	Filename        string        `json:"filename"`
	PayloadPath     string        `json:"payload_path,omitempty"`
	Status          TaskStatus    `json:"status"`
	OverallRisk     *RiskLevel    `json:"overall_risk,omitempty"`
	IssueCount      int           `json:"issue_count"`
	ValidationCount int           `json:"validation_count"`
	SemanticCount   int           `json:"semantic_count"`
	Result          *ReviewResult `json:"result,omitempty"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
}

// TaskStats summarizes tasks by status and by risk
type TaskStats struct {
	Total    int                `json:"total"`
	ByStatus map[TaskStatus]int `json:"by_status"`
	ByRisk   map[RiskLevel]int  `json:"by_risk"`
}
