package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"appraisal-review-backend/models"

	"github.com/google/uuid"
)

// MemoryTaskStore keeps review tasks in a mutex-guarded map. It mirrors
// ReviewTaskRepository's behavior closely enough to back the orchestrator
// in tests and in database-less deployments.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.ReviewTask
}

// NewMemoryTaskStore creates an empty in-memory task store
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[uuid.UUID]*models.ReviewTask),
	}
}

func (s *MemoryTaskStore) Create(ctx context.Context, task *models.ReviewTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.Status = models.TaskStatusPending
	task.CreatedAt = time.Now()
	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *MemoryTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*models.ReviewTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	clone := *task
	return &clone, nil
}

func (s *MemoryTaskStore) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status != models.TaskStatusPending {
		return false, nil
	}
	now := time.Now()
	task.Status = models.TaskStatusRunning
	task.StartedAt = &now
	return true, nil
}

func (s *MemoryTaskStore) Complete(ctx context.Context, id uuid.UUID, result *models.ReviewResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status != models.TaskStatusRunning {
		return ErrTaskNotFound
	}
	now := time.Now()
	clone := *result
	risk := result.OverallRisk
	task.Status = models.TaskStatusCompleted
	task.OverallRisk = &risk
	task.ValidationCount = len(result.ValidationIssues)
	task.SemanticCount = len(result.SemanticIssues)
	task.IssueCount = task.ValidationCount + task.SemanticCount
	task.Result = &clone
	task.EndedAt = &now
	return nil
}

func (s *MemoryTaskStore) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.Status.Terminal() {
		return ErrTaskNotFound
	}
	now := time.Now()
	task.Status = models.TaskStatusFailed
	task.ErrorMessage = &errorMessage
	task.EndedAt = &now
	return nil
}

func (s *MemoryTaskStore) List(ctx context.Context, status models.TaskStatus, limit, offset int) ([]*models.ReviewTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var tasks []*models.ReviewTask
	for _, task := range s.tasks {
		if status != "" && task.Status != status {
			continue
		}
		clone := *task
		tasks = append(tasks, &clone)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	if offset >= len(tasks) {
		return nil, nil
	}
	tasks = tasks[offset:]
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *MemoryTaskStore) Stats(ctx context.Context) (*models.TaskStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &models.TaskStats{
		ByStatus: make(map[models.TaskStatus]int),
		ByRisk:   make(map[models.RiskLevel]int),
	}
	for _, task := range s.tasks {
		stats.ByStatus[task.Status]++
		stats.Total++
		if task.Status == models.TaskStatusCompleted && task.OverallRisk != nil {
			stats.ByRisk[*task.OverallRisk]++
		}
	}
	return stats, nil
}

func (s *MemoryTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryTaskStore) FailOrphans(ctx context.Context, errorMessage string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, task := range s.tasks {
		if task.Status != models.TaskStatusRunning {
			continue
		}
		now := time.Now()
		msg := errorMessage
		task.Status = models.TaskStatusFailed
		task.ErrorMessage = &msg
		task.EndedAt = &now
		count++
	}
	return count, nil
}

func (s *MemoryTaskStore) ListPending(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*models.ReviewTask
	for _, task := range s.tasks {
		if task.Status == models.TaskStatusPending {
			pending = append(pending, task)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	ids := make([]uuid.UUID, 0, len(pending))
	for _, task := range pending {
		ids = append(ids, task.ID)
	}
	return ids, nil
}
