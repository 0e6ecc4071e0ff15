package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"appraisal-review-backend/models"

	"github.com/google/uuid"
)

// defaultWorkers is the number of concurrent review workers
const defaultWorkers = 3

var (
	ErrOrchestratorStopped = errors.New("orchestrator is not running")
	ErrTaskNotCancellable  = errors.New("task is already finished")
)

// Orchestrator drives review tasks through a bounded worker pool. The
// pending queue is unbounded so Submit never blocks a request handler;
// backpressure shows up as queue depth, not as rejected submissions.
type Orchestrator struct {
	service *ReviewService
	tasks   TaskStore
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []uuid.UUID
	cancels map[uuid.UUID]context.CancelFunc
	running bool

	wg sync.WaitGroup
}

// OrchestratorOption is a functional option for Orchestrator
type OrchestratorOption func(*Orchestrator)

// OrchestratorWithWorkers overrides the worker count
func OrchestratorWithWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// NewOrchestrator creates a new orchestrator over the given review
// service and its task store
func NewOrchestrator(service *ReviewService, tasks TaskStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		service: service,
		tasks:   tasks,
		workers: defaultWorkers,
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
	o.cond = sync.NewCond(&o.mu)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start fails tasks orphaned in running state by a previous process,
// requeues surviving pending tasks, and launches the worker pool
func (o *Orchestrator) Start(ctx context.Context) error {
	orphaned, err := o.tasks.FailOrphans(ctx, "interrupted by restart")
	if err != nil {
		return fmt.Errorf("failed to fail orphaned tasks: %w", err)
	}
	if orphaned > 0 {
		log.Printf("Failed %d tasks orphaned by a previous run", orphaned)
	}

	pending, err := o.tasks.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}

	o.mu.Lock()
	o.running = true
	o.queue = append(o.queue, pending...)
	o.mu.Unlock()

	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	if len(pending) > 0 {
		log.Printf("Requeued %d pending tasks", len(pending))
	}
	return nil
}

// Stop drains the pool: queued tasks stay pending for the next start,
// running tasks are cancelled, and Stop returns once every worker has
// exited
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.running = false
	for _, cancel := range o.cancels {
		cancel()
	}
	o.cond.Broadcast()
	o.mu.Unlock()

	o.wg.Wait()
}

// Submit enqueues a task for processing. It returns immediately; the
// task runs when a worker frees up.
func (o *Orchestrator) Submit(taskID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return ErrOrchestratorStopped
	}
	o.queue = append(o.queue, taskID)
	o.cond.Signal()
	return nil
}

// SubmitBatch enqueues several tasks at once
func (o *Orchestrator) SubmitBatch(taskIDs []uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return ErrOrchestratorStopped
	}
	o.queue = append(o.queue, taskIDs...)
	o.cond.Broadcast()
	return nil
}

// Cancel stops a task. A queued task is removed and failed immediately;
// a running task has its context cancelled and fails at the next stage
// boundary. Finished tasks cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, taskID uuid.UUID) error {
	o.mu.Lock()
	for i, queued := range o.queue {
		if queued == taskID {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			o.mu.Unlock()
			return o.tasks.Fail(ctx, taskID, "cancelled")
		}
	}
	if cancel, ok := o.cancels[taskID]; ok {
		cancel()
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	task, err := o.tasks.GetByID(ctx, taskID)
	if err != nil {
		return ErrTaskNotFound
	}
	if task.Status == models.TaskStatusPending {
		// Pending in the store but not in our queue: created but never
		// submitted, or submitted to a previous process
		return o.tasks.Fail(ctx, taskID, "cancelled")
	}
	return ErrTaskNotCancellable
}

// QueueDepth reports the number of tasks waiting for a worker
func (o *Orchestrator) QueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// worker pulls task IDs off the queue until the orchestrator stops
func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()

	for {
		o.mu.Lock()
		for o.running && len(o.queue) == 0 {
			o.cond.Wait()
		}
		if !o.running {
			o.mu.Unlock()
			return
		}
		taskID := o.queue[0]
		o.queue = o.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		o.cancels[taskID] = cancel
		o.mu.Unlock()

		o.run(ctx, taskID)

		o.mu.Lock()
		delete(o.cancels, taskID)
		o.mu.Unlock()
		cancel()
	}
}

// run executes one task, converting panics into task failures so a bad
// payload cannot take a worker down
func (o *Orchestrator) run(ctx context.Context, taskID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic while processing task %s: %v\n%s", taskID, r, debug.Stack())
			if err := o.tasks.Fail(context.Background(), taskID, fmt.Sprintf("internal error: %v", r)); err != nil {
				log.Printf("Warning: failed to mark panicked task %s failed: %v", taskID, err)
			}
		}
	}()

	if err := o.service.Process(ctx, taskID); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Task %s failed: %v", taskID, err)
	}
}
