package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"appraisal-review-backend/models"
	"appraisal-review-backend/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingReviewer parks until released or cancelled, so tests can hold
// a task in the running state
type blockingReviewer struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingReviewer() *blockingReviewer {
	return &blockingReviewer{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (r *blockingReviewer) Review(ctx context.Context, report *models.ExtractedReport) ([]models.SemanticIssue, error) {
	r.started <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.release:
		return nil, nil
	}
}

type pipeline struct {
	orchestrator *Orchestrator
	service      *ReviewService
	tasks        *repository.MemoryTaskStore
}

func newPipeline(t *testing.T, opts ...ReviewServiceOption) *pipeline {
	t.Helper()

	tasks := repository.NewMemoryTaskStore()
	corpus := newFakeCaseStore(
		models.Case{CaseID: "k1", ReportType: models.ReportTypeShezhi, District: "Chaoyang", Area: 118, Price: 24500},
		models.Case{CaseID: "k2", ReportType: models.ReportTypeShezhi, District: "Chaoyang", Area: 122, Price: 25500},
		models.Case{CaseID: "k3", ReportType: models.ReportTypeShezhi, District: "Chaoyang", Area: 115, Price: 26000},
	)

	base := []ReviewServiceOption{
		ReviewWithTaskStore(tasks),
		ReviewWithCaseStore(corpus),
		ReviewWithStorage(newMemStorage()),
		ReviewWithEmbedder(&fakeEmbedder{}),
		ReviewWithSemanticReviewer(&fakeSemanticReviewer{}),
	}
	svc := NewReviewService(append(base, opts...)...)

	return &pipeline{
		orchestrator: NewOrchestrator(svc, tasks),
		service:      svc,
		tasks:        tasks,
	}
}

func (p *pipeline) submitReport(t *testing.T, filename string) uuid.UUID {
	t.Helper()
	payload, err := json.Marshal(fullReport())
	require.NoError(t, err)
	task, err := p.service.Submit(context.Background(), SubmitRequest{Filename: filename, Payload: payload})
	require.NoError(t, err)
	return task.ID
}

func (p *pipeline) waitForStatus(t *testing.T, taskID uuid.UUID, want models.TaskStatus) *models.ReviewTask {
	t.Helper()
	var task *models.ReviewTask
	assert.Eventually(t, func() bool {
		var err error
		task, err = p.tasks.GetByID(context.Background(), taskID)
		return err == nil && task.Status == want
	}, 3*time.Second, 10*time.Millisecond, "task never reached %s", want)
	return task
}

func TestOrchestratorCompletesTask(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	taskID := p.submitReport(t, "report.json")
	require.NoError(t, p.orchestrator.Submit(taskID))

	task := p.waitForStatus(t, taskID, models.TaskStatusCompleted)
	require.NotNil(t, task.Result)
	assert.Equal(t, 3, task.Result.CaseCount)
	assert.Len(t, task.Result.SimilarCases, 3)
	assert.Len(t, task.Result.Comparisons, 2)
	assert.False(t, task.Result.Degraded)
	assert.Equal(t, models.RiskLow, task.Result.OverallRisk)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.EndedAt)
}

func TestOrchestratorFailsOnBadPayload(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	task, err := p.service.Submit(context.Background(), SubmitRequest{
		Filename: "junk.json",
		Payload:  []byte("not a report"),
	})
	require.NoError(t, err)
	require.NoError(t, p.orchestrator.Submit(task.ID))

	failed := p.waitForStatus(t, task.ID, models.TaskStatusFailed)
	require.NotNil(t, failed.ErrorMessage)
	assert.NotEmpty(t, *failed.ErrorMessage)
	assert.Nil(t, failed.Result)
}

func TestOrchestratorDegradesWhenSemanticDown(t *testing.T) {
	p := newPipeline(t, ReviewWithSemanticReviewer(&fakeSemanticReviewer{err: errors.New("model down")}))
	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	taskID := p.submitReport(t, "report.json")
	require.NoError(t, p.orchestrator.Submit(taskID))

	task := p.waitForStatus(t, taskID, models.TaskStatusCompleted)
	require.NotNil(t, task.Result)
	assert.True(t, task.Result.Degraded)
	assert.Empty(t, task.Result.SemanticIssues)
}

func TestOrchestratorConcurrentTasksKeepResultsApart(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	const n = 8
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, p.submitReport(t, fmt.Sprintf("report-%d.json", i)))
	}
	require.NoError(t, p.orchestrator.SubmitBatch(ids))

	for i, id := range ids {
		task := p.waitForStatus(t, id, models.TaskStatusCompleted)
		assert.Equal(t, fmt.Sprintf("report-%d.json", i), task.Filename)
		require.NotNil(t, task.Result)
		assert.Equal(t, 3, task.Result.CaseCount)
	}
}

func TestOrchestratorSubmitAfterStop(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.orchestrator.Start(context.Background()))
	p.orchestrator.Stop()

	err := p.orchestrator.Submit(uuid.New())
	assert.ErrorIs(t, err, ErrOrchestratorStopped)

	err = p.orchestrator.SubmitBatch([]uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, ErrOrchestratorStopped)
}

func TestOrchestratorFailsOrphansOnStart(t *testing.T) {
	p := newPipeline(t)

	// Simulate a task a previous process claimed and never finished
	taskID := p.submitReport(t, "orphan.json")
	claimed, err := p.tasks.Claim(context.Background(), taskID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	task, err := p.tasks.GetByID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "interrupted by restart")
}

func TestOrchestratorRequeuesPendingOnStart(t *testing.T) {
	p := newPipeline(t)

	// Created before the pool exists, picked up at the next start
	taskID := p.submitReport(t, "leftover.json")

	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	p.waitForStatus(t, taskID, models.TaskStatusCompleted)
}

func TestOrchestratorCancelRunningTask(t *testing.T) {
	reviewer := newBlockingReviewer()
	p := newPipeline(t, ReviewWithSemanticReviewer(reviewer))
	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	taskID := p.submitReport(t, "slow.json")
	require.NoError(t, p.orchestrator.Submit(taskID))

	select {
	case <-reviewer.started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never reached the semantic stage")
	}

	require.NoError(t, p.orchestrator.Cancel(context.Background(), taskID))

	task := p.waitForStatus(t, taskID, models.TaskStatusFailed)
	require.NotNil(t, task.ErrorMessage)
	assert.Equal(t, "cancelled", *task.ErrorMessage)
}

func TestOrchestratorCancelQueuedTask(t *testing.T) {
	reviewer := newBlockingReviewer()
	p := newPipeline(t, ReviewWithSemanticReviewer(reviewer))
	p.orchestrator = NewOrchestrator(p.service, p.tasks, OrchestratorWithWorkers(1))
	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	blocker := p.submitReport(t, "blocker.json")
	require.NoError(t, p.orchestrator.Submit(blocker))
	select {
	case <-reviewer.started:
	case <-time.After(3 * time.Second):
		t.Fatal("blocker never started")
	}

	queued := p.submitReport(t, "queued.json")
	require.NoError(t, p.orchestrator.Submit(queued))
	require.Equal(t, 1, p.orchestrator.QueueDepth())

	require.NoError(t, p.orchestrator.Cancel(context.Background(), queued))
	assert.Equal(t, 0, p.orchestrator.QueueDepth())

	task, err := p.tasks.GetByID(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)

	close(reviewer.release)
	p.waitForStatus(t, blocker, models.TaskStatusCompleted)
}

func TestOrchestratorCancelUnqueuedPendingTask(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	// Created but never handed to the orchestrator
	taskID := p.submitReport(t, "forgotten.json")

	require.NoError(t, p.orchestrator.Cancel(context.Background(), taskID))

	task, err := p.tasks.GetByID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
}

func TestOrchestratorCancelFinishedTask(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	taskID := p.submitReport(t, "done.json")
	require.NoError(t, p.orchestrator.Submit(taskID))
	p.waitForStatus(t, taskID, models.TaskStatusCompleted)

	err := p.orchestrator.Cancel(context.Background(), taskID)
	assert.ErrorIs(t, err, ErrTaskNotCancellable)
}

func TestOrchestratorCancelUnknownTask(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.orchestrator.Start(context.Background()))
	defer p.orchestrator.Stop()

	err := p.orchestrator.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestProcessSkipsAlreadyClaimedTask(t *testing.T) {
	p := newPipeline(t)

	taskID := p.submitReport(t, "claimed.json")
	claimed, err := p.tasks.Claim(context.Background(), taskID)
	require.NoError(t, err)
	require.True(t, claimed)

	// A second claim loses the race and must leave the task untouched
	require.NoError(t, p.service.Process(context.Background(), taskID))

	task, err := p.tasks.GetByID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, task.Status)
}

func TestProcessDegradesWhenVectorDown(t *testing.T) {
	p := newPipeline(t, ReviewWithEmbedder(&fakeEmbedder{err: errors.New("embedding api down")}))

	taskID := p.submitReport(t, "no-vector.json")
	require.NoError(t, p.service.Process(context.Background(), taskID))

	task, err := p.tasks.GetByID(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.True(t, task.Result.Degraded)
	// Structured candidates still back the comparisons
	assert.Len(t, task.Result.SimilarCases, 3)
}
