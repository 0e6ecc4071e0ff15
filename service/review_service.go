package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"appraisal-review-backend/models"
	"appraisal-review-backend/storage"

	"github.com/google/uuid"
)

var (
	ErrTaskNotFound       = errors.New("review task not found")
	ErrTaskNotTerminal    = errors.New("review task is still pending or running")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrEmptyDocument      = errors.New("document has no cases")
	ErrTaskCreationFailed = errors.New("failed to create review task")
)

// TaskStore is the persistence surface the review pipeline needs. Both
// the postgres repository and the in-memory store satisfy it.
type TaskStore interface {
	Create(ctx context.Context, task *models.ReviewTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ReviewTask, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, result *models.ReviewResult) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
	List(ctx context.Context, status models.TaskStatus, limit, offset int) ([]*models.ReviewTask, error)
	Stats(ctx context.Context) (*models.TaskStats, error)
	Delete(ctx context.Context, id uuid.UUID) error
	FailOrphans(ctx context.Context, errorMessage string) (int, error)
	ListPending(ctx context.Context) ([]uuid.UUID, error)
}

// CaseStore is the corpus surface the review and knowledge-base
// operations need
type CaseStore interface {
	caseFinder

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, docID string) (*models.Document, error)
	DeleteDocument(ctx context.Context, docID string) error
	ListDocuments(ctx context.Context, reportType models.ReportType, limit int) ([]*models.Document, error)
	CreateCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, caseID string) (*models.Case, error)
	UpsertEmbedding(ctx context.Context, caseID string, embedding []float64) error
	MarkUnembedded(ctx context.Context, caseID string) error
	PriceRange(ctx context.Context, reportType models.ReportType) (*models.RangeStats, error)
	AreaRange(ctx context.Context, reportType models.ReportType) (*models.RangeStats, error)
}

// ReviewService runs the full review pipeline for one task and carries
// the knowledge-base operations that feed it
type ReviewService struct {
	tasks      TaskStore
	cases      CaseStore
	store      storage.Storage
	extractor  Extractor
	validator  *RuleValidator
	similarity *SimilarityEngine
	comparator *KBComparator
	aggregator *Aggregator
	semantic   SemanticReviewer
	embedder   Embedder
}

// ReviewServiceOption is a functional option for ReviewService
type ReviewServiceOption func(*ReviewService)

// ReviewWithTaskStore sets the task store
func ReviewWithTaskStore(tasks TaskStore) ReviewServiceOption {
	return func(s *ReviewService) {
		s.tasks = tasks
	}
}

// ReviewWithCaseStore sets the corpus store
func ReviewWithCaseStore(cases CaseStore) ReviewServiceOption {
	return func(s *ReviewService) {
		s.cases = cases
	}
}

// ReviewWithStorage sets the payload storage backend
func ReviewWithStorage(store storage.Storage) ReviewServiceOption {
	return func(s *ReviewService) {
		s.store = store
	}
}

// ReviewWithExtractor sets the payload extractor
func ReviewWithExtractor(extractor Extractor) ReviewServiceOption {
	return func(s *ReviewService) {
		s.extractor = extractor
	}
}

// ReviewWithSimilarityEngine sets the similarity engine
func ReviewWithSimilarityEngine(engine *SimilarityEngine) ReviewServiceOption {
	return func(s *ReviewService) {
		s.similarity = engine
	}
}

// ReviewWithComparator sets the knowledge-base comparator
func ReviewWithComparator(comparator *KBComparator) ReviewServiceOption {
	return func(s *ReviewService) {
		s.comparator = comparator
	}
}

// ReviewWithSemanticReviewer sets the semantic reviewer
func ReviewWithSemanticReviewer(reviewer SemanticReviewer) ReviewServiceOption {
	return func(s *ReviewService) {
		s.semantic = reviewer
	}
}

// ReviewWithEmbedder sets the embedding backend
func ReviewWithEmbedder(embedder Embedder) ReviewServiceOption {
	return func(s *ReviewService) {
		s.embedder = embedder
	}
}

// NewReviewService creates a new review service. The validator,
// comparator, and aggregator default to their standard configurations.
func NewReviewService(opts ...ReviewServiceOption) *ReviewService {
	s := &ReviewService{
		extractor:  NewJSONExtractor(),
		validator:  NewRuleValidator(),
		comparator: NewKBComparator(),
		aggregator: NewAggregator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.similarity == nil && s.cases != nil {
		s.similarity = NewSimilarityEngine(s.cases, s.embedder)
	}
	return s
}

// SubmitRequest carries one report payload for review
type SubmitRequest struct {
	Filename string
	Payload  []byte
}

// Submit stores the payload and creates a pending task. It never runs
// the review itself; the caller hands the task ID to the orchestrator.
func (s *ReviewService) Submit(ctx context.Context, req SubmitRequest) (*models.ReviewTask, error) {
	if s.tasks == nil {
		return nil, errors.New("task store not set")
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrExtractionFailed)
	}

	task := &models.ReviewTask{
		ID:       uuid.New(),
		Filename: req.Filename,
	}

	if s.store != nil {
		path, err := s.store.Upload(ctx, task.ID, req.Filename, strings.NewReader(string(req.Payload)))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTaskCreationFailed, err)
		}
		task.PayloadPath = path
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTaskCreationFailed, err)
	}
	return task, nil
}

// GetTask retrieves one task
func (s *ReviewService) GetTask(ctx context.Context, id uuid.UUID) (*models.ReviewTask, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// ListTasks lists tasks, newest first
func (s *ReviewService) ListTasks(ctx context.Context, status models.TaskStatus, limit, offset int) ([]*models.ReviewTask, error) {
	return s.tasks.List(ctx, status, limit, offset)
}

// TaskStats summarizes the task table
func (s *ReviewService) TaskStats(ctx context.Context) (*models.TaskStats, error) {
	return s.tasks.Stats(ctx)
}

// DeleteTask removes a terminal task and its stored payload. Pending
// and running tasks must be cancelled first.
func (s *ReviewService) DeleteTask(ctx context.Context, id uuid.UUID) error {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return ErrTaskNotFound
	}
	if !task.Status.Terminal() {
		return ErrTaskNotTerminal
	}

	if s.store != nil && task.PayloadPath != "" {
		if err := s.store.Delete(ctx, task.PayloadPath); err != nil {
			log.Printf("Warning: failed to delete payload %s: %v", task.PayloadPath, err)
		}
	}
	return s.tasks.Delete(ctx, id)
}

// Process runs the full pipeline for one task. It claims the task
// first; a task already claimed elsewhere is skipped without error.
// Cancellation is checked between stages, not mid-stage.
func (s *ReviewService) Process(ctx context.Context, taskID uuid.UUID) error {
	if s.tasks == nil {
		return errors.New("task store not set")
	}

	claimed, err := s.tasks.Claim(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	if !claimed {
		return nil
	}

	report, err := s.loadReport(ctx, taskID)
	if err != nil {
		s.failTask(taskID, err.Error())
		return err
	}

	if err := s.checkCancelled(ctx, taskID); err != nil {
		return err
	}

	result := &models.ReviewResult{
		Subject:   &report.Subject,
		CaseCount: len(report.Cases),
	}
	result.ValidationIssues, result.FormulaChecks = s.validator.Validate(report)

	if err := s.checkCancelled(ctx, taskID); err != nil {
		return err
	}

	similar, degraded, err := s.findSimilar(ctx, report)
	if err != nil {
		s.failTask(taskID, "similarity search failed: "+err.Error())
		return err
	}
	result.SimilarCases = similar
	result.Degraded = degraded

	neighborhood := make([]models.Case, 0, len(similar))
	for _, sc := range similar {
		neighborhood = append(neighborhood, sc.Case)
	}
	result.Comparisons = s.comparator.Compare(&report.Subject, neighborhood)

	if err := s.checkCancelled(ctx, taskID); err != nil {
		return err
	}

	if s.semantic != nil {
		issues, err := s.semantic.Review(ctx, report)
		if err != nil {
			if ctx.Err() != nil {
				return s.failCancelled(taskID)
			}
			// A dead reviewer degrades the verdict instead of failing it
			log.Printf("Warning: semantic review unavailable for task %s: %v", taskID, err)
			result.Degraded = true
			result.SemanticIssues = []models.SemanticIssue{}
		} else {
			result.SemanticIssues = issues
		}
	} else {
		result.Degraded = true
		result.SemanticIssues = []models.SemanticIssue{}
	}

	s.aggregator.Aggregate(result)

	if err := s.tasks.Complete(ctx, taskID, result); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// loadReport fetches and extracts the stored payload for a task
func (s *ReviewService) loadReport(ctx context.Context, taskID uuid.UUID) (*models.ExtractedReport, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	if s.store == nil || task.PayloadPath == "" {
		return nil, fmt.Errorf("%w: no stored payload", ErrExtractionFailed)
	}

	rc, err := s.store.Download(ctx, task.PayloadPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer rc.Close()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	return s.extractor.Extract(payload)
}

// findSimilar runs the hybrid search for the report subject. Vector
// unavailability degrades to structured-only scoring.
func (s *ReviewService) findSimilar(ctx context.Context, report *models.ExtractedReport) ([]models.SimilarCase, bool, error) {
	if s.similarity == nil {
		return nil, true, nil
	}

	q := SimilarityQuery{
		ReportType: report.ReportType,
		District:   report.Subject.District,
		Address:    report.Subject.Address,
		Usage:      report.Subject.Usage,
		Area:       report.Subject.BuildingArea,
		Price:      report.Subject.UnitPrice,
		Mode:       ModeHybrid,
		Limit:      10,
	}
	return s.similarity.Search(ctx, q)
}

// checkCancelled fails the task when its context has been cancelled
func (s *ReviewService) checkCancelled(ctx context.Context, taskID uuid.UUID) error {
	if ctx.Err() == nil {
		return nil
	}
	return s.failCancelled(taskID)
}

func (s *ReviewService) failCancelled(taskID uuid.UUID) error {
	s.failTask(taskID, "cancelled")
	return context.Canceled
}

// failTask marks a task failed, using a fresh context so the write
// survives the task's own cancellation
func (s *ReviewService) failTask(taskID uuid.UUID, errorMessage string) {
	if err := s.tasks.Fail(context.Background(), taskID, errorMessage); err != nil {
		log.Printf("Warning: failed to mark task %s failed: %v", taskID, err)
	}
}
