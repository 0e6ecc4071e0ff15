package models

// IssueLevel represents the severity of a validation issue
type IssueLevel string

const (
	IssueLevelInfo    IssueLevel = "info"
	IssueLevelWarning IssueLevel = "warning"
	IssueLevelError   IssueLevel = "error"
)

// Issue categories produced by the rule validator
const (
	CategoryCompleteness  = "completeness"
	CategoryFormula       = "formula"
	CategoryReasonability = "reasonability"
)

// ValidationIssue represents one finding from the rule validator.
// Issues are produced once per validator run and never mutated.
type ValidationIssue struct {
	Level       IssueLevel `json:"level"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Suggestion  string     `json:"suggestion,omitempty"`
}

// FormulaCheck represents one arithmetic back-check of a case entry
type FormulaCheck struct {
	CaseID     string  `json:"case_id"`
	Formula    string  `json:"formula"`
	Expected   float64 `json:"expected"`
	Actual     float64 `json:"actual"`
	Difference float64 `json:"difference"`
	IsValid    bool    `json:"is_valid"`
}

// ComparisonResult represents one numeric field placed against the
// matched neighborhood. KBMin/KBMax are the margin-adjusted bounds the
// candidate value was tested against. Insufficient is set instead of
// IsAbnormal when the neighborhood had no usable samples.
type ComparisonResult struct {
	Item         string  `json:"item"`
	CurrentValue float64 `json:"current_value"`
	KBMin        float64 `json:"kb_min"`
	KBMax        float64 `json:"kb_max"`
	IsAbnormal   bool    `json:"is_abnormal"`
	Severe       bool    `json:"severe,omitempty"`
	Insufficient bool    `json:"insufficient,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// SemanticSeverity represents the severity of an issue raised by the
// semantic-review collaborator
type SemanticSeverity string

const (
	SemanticMinor    SemanticSeverity = "minor"
	SemanticMajor    SemanticSeverity = "major"
	SemanticCritical SemanticSeverity = "critical"
)

// SemanticIssue represents one finding from the semantic reviewer
type SemanticIssue struct {
	Type        string           `json:"type"`
	Severity    SemanticSeverity `json:"severity"`
	Description string           `json:"description"`
	Suggestion  string           `json:"suggestion,omitempty"`
	CaseID      string           `json:"case_id,omitempty"`
}
