package repository

import (
	"context"
	"errors"
	"strconv"

	"appraisal-review-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTaskNotFound is returned when a review task does not exist
var ErrTaskNotFound = errors.New("review task not found")

// ReviewTaskRepository persists review tasks in postgres. Status and
// result are always written in a single statement so readers never
// observe a half-updated record.
type ReviewTaskRepository struct {
	db *pgxpool.Pool
}

// NewReviewTaskRepository creates a new review task repository
func NewReviewTaskRepository(db *pgxpool.Pool) *ReviewTaskRepository {
	return &ReviewTaskRepository{db: db}
}

const taskColumns = `id, filename, payload_path, status, overall_risk,
		issue_count, validation_count, semantic_count,
		result, error_message, created_at, started_at, ended_at`

func scanTask(row pgx.Row) (*models.ReviewTask, error) {
	task := &models.ReviewTask{}
	err := row.Scan(
		&task.ID,
		&task.Filename,
		&task.PayloadPath,
		&task.Status,
		&task.OverallRisk,
		&task.IssueCount,
		&task.ValidationCount,
		&task.SemanticCount,
		&task.Result,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.StartedAt,
		&task.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Create inserts a new pending task
func (r *ReviewTaskRepository) Create(ctx context.Context, task *models.ReviewTask) error {
	query := `
		INSERT INTO review_tasks (id, filename, payload_path, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	return r.db.QueryRow(
		ctx, query,
		task.ID,
		task.Filename,
		task.PayloadPath,
		models.TaskStatusPending,
	).Scan(&task.CreatedAt)
}

// GetByID retrieves a task by ID
func (r *ReviewTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ReviewTask, error) {
	query := `SELECT ` + taskColumns + ` FROM review_tasks WHERE id = $1`
	task, err := scanTask(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// Claim atomically transitions a pending task to running on behalf of one
// worker. It returns false when the task was not pending anymore, which
// gives each task exactly one owner.
func (r *ReviewTaskRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE review_tasks SET
			status = $2,
			started_at = NOW()
		WHERE id = $1 AND status = $3`

	tag, err := r.db.Exec(ctx, query, id, models.TaskStatusRunning, models.TaskStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Complete marks a running task completed, storing the verdict and the
// full result blob in one statement
func (r *ReviewTaskRepository) Complete(ctx context.Context, id uuid.UUID, result *models.ReviewResult) error {
	validationCount := len(result.ValidationIssues)
	semanticCount := len(result.SemanticIssues)

	query := `
		UPDATE review_tasks SET
			status = $2,
			overall_risk = $3,
			issue_count = $4,
			validation_count = $5,
			semantic_count = $6,
			result = $7,
			ended_at = NOW()
		WHERE id = $1 AND status = $8`

	tag, err := r.db.Exec(
		ctx, query,
		id,
		models.TaskStatusCompleted,
		result.OverallRisk,
		validationCount+semanticCount,
		validationCount,
		semanticCount,
		*result,
		models.TaskStatusRunning,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Fail marks a task failed with a captured error message. No partial
// result is persisted.
func (r *ReviewTaskRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE review_tasks SET
			status = $2,
			error_message = $3,
			ended_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)`

	tag, err := r.db.Exec(
		ctx, query,
		id,
		models.TaskStatusFailed,
		errorMessage,
		models.TaskStatusPending,
		models.TaskStatusRunning,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List retrieves tasks, newest first, optionally filtered by status
func (r *ReviewTaskRepository) List(ctx context.Context, status models.TaskStatus, limit, offset int) ([]*models.ReviewTask, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + taskColumns + ` FROM review_tasks`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	args = append(args, limit, offset)
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.ReviewTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// Stats returns task counts by status and by risk
func (r *ReviewTaskRepository) Stats(ctx context.Context) (*models.TaskStats, error) {
	stats := &models.TaskStats{
		ByStatus: make(map[models.TaskStatus]int),
		ByRisk:   make(map[models.RiskLevel]int),
	}

	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM review_tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status models.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, `
		SELECT overall_risk, COUNT(*) FROM review_tasks
		WHERE status = $1 AND overall_risk IS NOT NULL
		GROUP BY overall_risk`, models.TaskStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var risk models.RiskLevel
		var count int
		if err := rows.Scan(&risk, &count); err != nil {
			return nil, err
		}
		stats.ByRisk[risk] = count
	}

	return stats, rows.Err()
}

// Delete removes a task record
func (r *ReviewTaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM review_tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// FailOrphans fails tasks left in running state by a previous process,
// so no task is ever stuck in running across a restart
func (r *ReviewTaskRepository) FailOrphans(ctx context.Context, errorMessage string) (int, error) {
	query := `
		UPDATE review_tasks SET
			status = $1,
			error_message = $2,
			ended_at = NOW()
		WHERE status = $3`

	tag, err := r.db.Exec(ctx, query, models.TaskStatusFailed, errorMessage, models.TaskStatusRunning)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListPending returns the IDs of pending tasks, oldest first, for
// requeueing at startup
func (r *ReviewTaskRepository) ListPending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM review_tasks
		WHERE status = $1
		ORDER BY created_at`, models.TaskStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
