package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"appraisal-review-backend/models"

	"github.com/google/uuid"
)

var ErrCaseNotFound = errors.New("case not found")

// KBService manages the comparable-case corpus: document ingestion,
// case lookup, embedding maintenance, and similarity search
type KBService struct {
	cases      CaseStore
	embedder   Embedder
	similarity *SimilarityEngine
}

// KBServiceOption is a functional option for KBService
type KBServiceOption func(*KBService)

// KBWithCaseStore sets the corpus store
func KBWithCaseStore(cases CaseStore) KBServiceOption {
	return func(s *KBService) {
		s.cases = cases
	}
}

// KBWithEmbedder sets the embedding backend
func KBWithEmbedder(embedder Embedder) KBServiceOption {
	return func(s *KBService) {
		s.embedder = embedder
	}
}

// NewKBService creates a new knowledge-base service
func NewKBService(opts ...KBServiceOption) *KBService {
	s := &KBService{}
	for _, opt := range opts {
		opt(s)
	}
	if s.cases != nil {
		s.similarity = NewSimilarityEngine(s.cases, s.embedder)
	}
	return s
}

// IngestRequest carries one extracted report into the corpus
type IngestRequest struct {
	Report *models.ExtractedReport
}

// IngestResult reports what one ingestion produced
type IngestResult struct {
	DocID         string `json:"doc_id"`
	CaseCount     int    `json:"case_count"`
	EmbeddedCount int    `json:"embedded_count"`
}

// IngestDocument stores a report's cases as corpus entries and embeds
// each one. An embedding failure marks the case unembedded instead of
// aborting the whole document.
func (s *KBService) IngestDocument(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if s.cases == nil {
		return nil, errors.New("case store not set")
	}
	report := req.Report
	if report == nil || len(report.Cases) == 0 {
		return nil, ErrEmptyDocument
	}

	doc := &models.Document{
		DocID:      uuid.NewString(),
		Filename:   report.Filename,
		ReportType: report.ReportType,
		Address:    report.Subject.Address,
		CaseCount:  len(report.Cases),
	}
	if report.Subject.BuildingArea != nil {
		doc.Area = *report.Subject.BuildingArea
	}
	if err := s.cases.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	result := &IngestResult{DocID: doc.DocID}
	for _, ec := range report.Cases {
		c := caseFromExtracted(doc, ec)
		if err := s.cases.CreateCase(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to create case %s: %w", c.CaseID, err)
		}
		result.CaseCount++

		if s.embedder == nil {
			continue
		}
		embedding, err := s.embedder.Embed(ctx, BuildCaseText(c), "RETRIEVAL_DOCUMENT")
		if err != nil {
			log.Printf("Warning: failed to embed case %s: %v", c.CaseID, err)
			if markErr := s.cases.MarkUnembedded(ctx, c.CaseID); markErr != nil {
				return nil, fmt.Errorf("failed to mark case %s unembedded: %w", c.CaseID, markErr)
			}
			continue
		}
		if err := s.cases.UpsertEmbedding(ctx, c.CaseID, embedding); err != nil {
			return nil, fmt.Errorf("failed to store embedding for case %s: %w", c.CaseID, err)
		}
		result.EmbeddedCount++
	}

	return result, nil
}

// caseFromExtracted converts one extracted case row into a corpus case
func caseFromExtracted(doc *models.Document, ec models.ExtractedCase) *models.Case {
	c := &models.Case{
		CaseID:       ec.CaseID,
		DocID:        doc.DocID,
		ReportType:   doc.ReportType,
		Address:      ec.Address,
		District:     ec.District,
		Street:       ec.Street,
		Usage:        ec.Usage,
		BuildYear:    ec.BuildYear,
		CurrentFloor: ec.CurrentFloor,
		TotalFloor:   ec.TotalFloor,
		Orientation:  ec.Orientation,
		Decoration:   ec.Decoration,
		Structure:    ec.Structure,
		Extra:        ec.Extra,
	}
	if c.CaseID == "" {
		c.CaseID = uuid.NewString()
	}
	if ec.Area != nil {
		c.Area = *ec.Area
	}
	if ec.UnitPrice != nil {
		c.Price = *ec.UnitPrice
	}
	return c
}

// GetDocument retrieves one document
func (s *KBService) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	doc, err := s.cases.GetDocument(ctx, docID)
	if err != nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// ListDocuments lists documents, newest first
func (s *KBService) ListDocuments(ctx context.Context, reportType models.ReportType, limit int) ([]*models.Document, error) {
	return s.cases.ListDocuments(ctx, reportType, limit)
}

// DeleteDocument removes a document and, by cascade, its cases
func (s *KBService) DeleteDocument(ctx context.Context, docID string) error {
	if err := s.cases.DeleteDocument(ctx, docID); err != nil {
		return ErrDocumentNotFound
	}
	return nil
}

// GetCase retrieves one corpus case
func (s *KBService) GetCase(ctx context.Context, caseID string) (*models.Case, error) {
	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

// QueryCases runs a structured constraint query over the corpus
func (s *KBService) QueryCases(ctx context.Context, q models.CaseQuery) ([]models.Case, error) {
	return s.cases.Query(ctx, q)
}

// SearchSimilar scores corpus cases against an ad hoc query subject
func (s *KBService) SearchSimilar(ctx context.Context, q SimilarityQuery) ([]models.SimilarCase, bool, error) {
	if s.similarity == nil {
		return nil, false, errors.New("case store not set")
	}
	return s.similarity.Search(ctx, q)
}

// KBStats summarizes the corpus for one report type
type KBStats struct {
	ReportType models.ReportType  `json:"report_type"`
	PriceRange *models.RangeStats `json:"price_range"`
	AreaRange  *models.RangeStats `json:"area_range"`
}

// Stats returns the corpus value ranges for a report type
func (s *KBService) Stats(ctx context.Context, reportType models.ReportType) (*KBStats, error) {
	priceRange, err := s.cases.PriceRange(ctx, reportType)
	if err != nil {
		return nil, fmt.Errorf("failed to compute price range: %w", err)
	}
	areaRange, err := s.cases.AreaRange(ctx, reportType)
	if err != nil {
		return nil, fmt.Errorf("failed to compute area range: %w", err)
	}
	return &KBStats{
		ReportType: reportType,
		PriceRange: priceRange,
		AreaRange:  areaRange,
	}, nil
}
