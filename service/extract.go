package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"appraisal-review-backend/models"
)

var (
	ErrExtractionFailed  = errors.New("failed to extract report payload")
	ErrUnknownReportType = errors.New("unknown report type")
)

// Extractor turns a raw uploaded payload into a structured report.
// The JSON extractor covers the current intake format; OCR or document
// parsing backends can satisfy the same interface later.
type Extractor interface {
	Extract(payload []byte) (*models.ExtractedReport, error)
}

// JSONExtractor parses reports submitted as structured JSON
type JSONExtractor struct{}

// NewJSONExtractor creates a new JSON extractor
func NewJSONExtractor() *JSONExtractor {
	return &JSONExtractor{}
}

// Extract parses and minimally normalizes a JSON report payload
func (e *JSONExtractor) Extract(payload []byte) (*models.ExtractedReport, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrExtractionFailed)
	}

	var report models.ExtractedReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	report.ReportType = models.ReportType(strings.TrimSpace(string(report.ReportType)))
	if report.ReportType == "" {
		return nil, fmt.Errorf("%w: missing report_type", ErrExtractionFailed)
	}
	switch report.ReportType {
	case models.ReportTypeShezhi, models.ReportTypeZujin, models.ReportTypeBiaozhunfang:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownReportType, report.ReportType)
	}

	report.Subject.District = strings.TrimSpace(report.Subject.District)
	report.Subject.Address = strings.TrimSpace(report.Subject.Address)
	report.Subject.Usage = strings.TrimSpace(report.Subject.Usage)

	return &report, nil
}
