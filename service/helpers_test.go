package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"appraisal-review-backend/models"

	"github.com/google/uuid"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// memStorage keeps payloads in a map for tests
type memStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{blobs: make(map[string][]byte)}
}

func (s *memStorage) Upload(ctx context.Context, fileID uuid.UUID, filename string, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := fileID.String() + "/" + filename
	s.blobs[path] = payload
	return path, nil
}

func (s *memStorage) Download(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.blobs[storagePath]
	if !ok {
		return nil, errors.New("not found: " + storagePath)
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (s *memStorage) Delete(ctx context.Context, storagePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, storagePath)
	return nil
}

// fakeCaseStore serves a fixed corpus and canned vector neighbors
type fakeCaseStore struct {
	mu        sync.Mutex
	docs      map[string]*models.Document
	cases     map[string]models.Case
	neighbors []models.CaseNeighbor
	searchErr error
}

func newFakeCaseStore(cases ...models.Case) *fakeCaseStore {
	s := &fakeCaseStore{
		docs:  make(map[string]*models.Document),
		cases: make(map[string]models.Case),
	}
	for _, c := range cases {
		s.cases[c.CaseID] = c
	}
	return s
}

func (s *fakeCaseStore) Query(ctx context.Context, q models.CaseQuery) ([]models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Case
	for _, c := range s.cases {
		if q.ReportType != "" && c.ReportType != q.ReportType {
			continue
		}
		if q.District != "" && c.District != q.District {
			continue
		}
		if q.Usage != "" && c.Usage != q.Usage {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeCaseStore) GetCasesByIDs(ctx context.Context, caseIDs []string) ([]models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Case
	for _, id := range caseIDs {
		if c, ok := s.cases[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCaseStore) SearchByEmbedding(ctx context.Context, embedding []float64, k int, q models.CaseQuery) ([]models.CaseNeighbor, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if len(s.neighbors) > k {
		return s.neighbors[:k], nil
	}
	return s.neighbors, nil
}

func (s *fakeCaseStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.DocID] = doc
	return nil
}

func (s *fakeCaseStore) GetDocument(ctx context.Context, docID string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok {
		return nil, errors.New("document not found")
	}
	return doc, nil
}

func (s *fakeCaseStore) DeleteDocument(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[docID]; !ok {
		return errors.New("document not found")
	}
	delete(s.docs, docID)
	for id, c := range s.cases {
		if c.DocID == docID {
			delete(s.cases, id)
		}
	}
	return nil
}

func (s *fakeCaseStore) ListDocuments(ctx context.Context, reportType models.ReportType, limit int) ([]*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Document
	for _, doc := range s.docs {
		if reportType != "" && doc.ReportType != reportType {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *fakeCaseStore) CreateCase(ctx context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.CaseID] = *c
	return nil
}

func (s *fakeCaseStore) GetCase(ctx context.Context, caseID string) (*models.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, errors.New("case not found")
	}
	return &c, nil
}

func (s *fakeCaseStore) UpsertEmbedding(ctx context.Context, caseID string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return errors.New("case not found")
	}
	c.HasEmbedding = true
	s.cases[caseID] = c
	return nil
}

func (s *fakeCaseStore) MarkUnembedded(ctx context.Context, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return errors.New("case not found")
	}
	c.HasEmbedding = false
	s.cases[caseID] = c
	return nil
}

func (s *fakeCaseStore) fieldRange(pick func(models.Case) float64, reportType models.ReportType) *models.RangeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.RangeStats{}
	sum := 0.0
	for _, c := range s.cases {
		if reportType != "" && c.ReportType != reportType {
			continue
		}
		v := pick(c)
		if v <= 0 {
			continue
		}
		if stats.Count == 0 || v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		sum += v
		stats.Count++
	}
	if stats.Count > 0 {
		stats.Avg = sum / float64(stats.Count)
	}
	return stats
}

func (s *fakeCaseStore) PriceRange(ctx context.Context, reportType models.ReportType) (*models.RangeStats, error) {
	return s.fieldRange(func(c models.Case) float64 { return c.Price }, reportType), nil
}

func (s *fakeCaseStore) AreaRange(ctx context.Context, reportType models.ReportType) (*models.RangeStats, error) {
	return s.fieldRange(func(c models.Case) float64 { return c.Area }, reportType), nil
}

// fakeEmbedder returns a fixed vector, or an error when set
type fakeEmbedder struct {
	vector []float64
	err    error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text, taskType string) ([]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.vector != nil {
		return e.vector, nil
	}
	return []float64{1, 0, 0}, nil
}

// fakeSemanticReviewer returns canned issues, or an error when set
type fakeSemanticReviewer struct {
	issues []models.SemanticIssue
	err    error
}

func (r *fakeSemanticReviewer) Review(ctx context.Context, report *models.ExtractedReport) ([]models.SemanticIssue, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.issues, nil
}
