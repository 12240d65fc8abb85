package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwexplorer/chainstate/internal/chain"
	"github.com/mwexplorer/chainstate/internal/util"
)

// TaskStatus is the task envelope's state machine: IN_PROGRESS -> {SUCCESS |
// FAILURE | SKIPPED}.
type TaskStatus string

const (
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskSuccess    TaskStatus = "SUCCESS"
	TaskFailure    TaskStatus = "FAILURE"
	TaskSkipped    TaskStatus = "SKIPPED"
)

// TaskKind distinguishes the two kinds of job the supervisor can run for a
// blockchain; target is always a Blockchain today, but kept as a named field
// rather than folded into Kind so a future target variant doesn't need a
// breaking change here.
type TaskKind string

const (
	TaskBootstrap TaskKind = "BOOTSTRAP"
	TaskDelete    TaskKind = "DELETE"
)

// Task is the out-of-core job envelope: an id, a kind, a target blockchain,
// and a status that only ever moves forward.
type Task struct {
	ID             string
	Kind           TaskKind
	BlockchainSlug string
	Status         TaskStatus
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	cancel       context.CancelFunc
	cancelReason string
}

// Supervisor enforces at-most-one in-flight ingestion job per blockchain and
// runs jobs on its own worker pool, independent from the HTTP
// request-serving goroutines that handle live ingress.
type Supervisor struct {
	engine *Engine

	mu      sync.Mutex
	current map[int64]*Task // blockchainID -> in-flight task
}

func NewSupervisor(engine *Engine) *Supervisor {
	return &Supervisor{engine: engine, current: make(map[int64]*Task)}
}

// EnqueueBootstrap cancels any in-flight bootstrap/delete job for bc, then
// starts a new bootstrap job and returns its envelope immediately (the job
// itself runs in the background).
func (s *Supervisor) EnqueueBootstrap(ctx context.Context, bc *chain.Blockchain, startHeight, endHeight int64, skipReorgCheck bool, onProgress func(BootstrapProgress)) *Task {
	s.cancelInFlight(bc.ID, "superseded by new bootstrap request")

	jobCtx, cancel := context.WithCancel(context.Background())
	task := &Task{
		ID:             uuid.NewString(),
		Kind:           TaskBootstrap,
		BlockchainSlug: bc.Slug,
		Status:         TaskInProgress,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		cancel:         cancel,
	}

	s.mu.Lock()
	s.current[bc.ID] = task
	s.mu.Unlock()

	go func() {
		err := s.engine.RunBootstrap(jobCtx, bc, startHeight, endHeight, skipReorgCheck, onProgress)
		s.finish(bc.ID, task, err)
	}()

	return task
}

// EnqueueDelete cancels any in-flight job for bc, then runs fn (the actual
// row/cascade deletion) as a tracked job so live ingress can discard
// notifications for a blockchain mid-deletion.
func (s *Supervisor) EnqueueDelete(bc *chain.Blockchain, fn func(ctx context.Context) error) *Task {
	s.cancelInFlight(bc.ID, "superseded by delete request")

	jobCtx, cancel := context.WithCancel(context.Background())
	task := &Task{
		ID:             uuid.NewString(),
		Kind:           TaskDelete,
		BlockchainSlug: bc.Slug,
		Status:         TaskInProgress,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		cancel:         cancel,
	}

	s.mu.Lock()
	s.current[bc.ID] = task
	s.mu.Unlock()

	err := fn(jobCtx)
	s.finish(bc.ID, task, err)
	return task
}

// Abort cancels the in-flight job for a blockchain, if any.
func (s *Supervisor) Abort(blockchainID int64) {
	s.cancelInFlight(blockchainID, "Aborted")
}

// Shutdown cancels every in-flight job with reason "Worker shutdown", used
// during graceful process termination. Distinct from Abort's "Aborted" reason
// so a task envelope tells callers whether the job was cancelled on purpose
// by an operator or cut short by process termination.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.current))
	for _, t := range s.current {
		t.cancelReason = "Worker shutdown"
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
}

func (s *Supervisor) cancelInFlight(blockchainID int64, reason string) {
	s.mu.Lock()
	existing, ok := s.current[blockchainID]
	if ok {
		existing.cancelReason = reason
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	existing.cancel()
	util.Info("cancelled in-flight job", "blockchain_id", blockchainID, "reason", reason)
}

func (s *Supervisor) finish(blockchainID int64, task *Task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.UpdatedAt = time.Now()
	switch {
	case err == nil:
		task.Status = TaskSuccess
	case err == context.Canceled:
		task.Status = TaskFailure
		if task.cancelReason != "" {
			task.FailureReason = task.cancelReason
		} else {
			task.FailureReason = "Aborted"
		}
	default:
		task.Status = TaskFailure
		task.FailureReason = err.Error()
	}

	if s.current[blockchainID] == task {
		delete(s.current, blockchainID)
	}

	s.engine.sink.Publish(Event{Kind: EventTaskStatusChanged, BlockchainSlug: task.BlockchainSlug, Payload: task})
	util.Info("job finished", "blockchain", task.BlockchainSlug, "status", string(task.Status), "reason", task.FailureReason)
}

// CurrentTask returns the in-flight task for a blockchain, if any.
func (s *Supervisor) CurrentTask(blockchainID int64) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.current[blockchainID]
	return t, ok
}

// InFlight reports whether a job of the given kind is currently running for a
// blockchain; used by the live-ingress handler to discard notifications while
// a delete is in progress.
func (s *Supervisor) InFlight(blockchainID int64, kind TaskKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.current[blockchainID]
	return ok && t.Kind == kind
}
