package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/speech-trainer/api-go/internal/apperr"
	"github.com/example/speech-trainer/api-go/internal/joblog"
	"github.com/example/speech-trainer/api-go/internal/model"
)

// ErrJobAlreadyRunning is returned when a model already has an active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// Store persists job history. It is optional.
type Store interface {
	CreateJob(ctx context.Context, job model.Job) error
	UpdateJob(ctx context.Context, id string, patch model.JobPatch) error
}

// Work is one unit of long-running work. It reports through log and returns
// a non-nil error on failure; the runner owns the end of the log.
type Work func(ctx context.Context, log *joblog.Log) error

// Outcome is the terminal result of a job.
type Outcome struct {
	Status model.JobStatus
	Err    error
}

// Handle is the caller's view of a dispatched job.
type Handle struct {
	Job model.Job
	Log *joblog.Log

	done    chan struct{}
	outcome Outcome
}

// Done is closed after the end marker has been pushed and history recorded.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome is valid once Done is closed.
func (h *Handle) Outcome() Outcome {
	<-h.done
	return h.outcome
}

// Runner dispatches jobs on their own goroutines, at most one per model id.
type Runner struct {
	Store   Store
	Logger  *slog.Logger
	Timeout time.Duration // per-job limit, 0 disables

	base context.Context
	mu   sync.Mutex
	busy map[string]string // model id -> job id
	wg   sync.WaitGroup
}

// NewRunner creates a runner whose jobs live until base is cancelled.
// Jobs never inherit request contexts.
func NewRunner(base context.Context, store Store, logger *slog.Logger) *Runner {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Store:  store,
		Logger: logger,
		base:   base,
		busy:   map[string]string{},
	}
}

// Start records a job and runs work in the background. It returns as soon as
// the job is dispatched.
func (r *Runner) Start(kind model.JobKind, modelID, suffix string, work Work) (*Handle, error) {
	now := time.Now().UTC()
	job := model.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		ModelID:   modelID,
		Suffix:    suffix,
		Status:    model.JobRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.acquire(modelID, job.ID); err != nil {
		return nil, err
	}

	if r.Store != nil {
		ctx, cancel := context.WithTimeout(r.base, 5*time.Second)
		err := r.Store.CreateJob(ctx, job)
		cancel()
		if err != nil {
			r.release(modelID)
			return nil, fmt.Errorf("create job: %w", err)
		}
	}

	h := &Handle{
		Job:  job,
		Log:  joblog.New(),
		done: make(chan struct{}),
	}

	r.Logger.Info("job started", "id", job.ID, "kind", job.Kind, "model", modelID, "suffix", suffix)
	r.wg.Add(1)
	go r.run(h, work)
	return h, nil
}

// Busy reports whether modelID has an active job.
func (r *Runner) Busy(modelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.busy[modelID]
	return ok
}

// Wait blocks until every dispatched job has finished.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) acquire(modelID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if running, ok := r.busy[modelID]; ok {
		return apperr.Conflict(
			fmt.Sprintf("model %s already has a running job (%s)", modelID, running),
			ErrJobAlreadyRunning,
		)
	}
	r.busy[modelID] = jobID
	return nil
}

func (r *Runner) release(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.busy, modelID)
}

func (r *Runner) run(h *Handle, work Work) {
	defer r.wg.Done()
	defer r.release(h.Job.ModelID)
	defer close(h.done)
	// Backstop for anything below panicking; End is a no-op when already pushed.
	defer func() { _ = h.Log.End() }()

	ctx, cancel := r.jobContext()
	defer cancel()

	start := time.Now()
	out := r.execute(ctx, h.Log, work)
	if out.Err != nil {
		_ = h.Log.Error(out.Err.Error())
	}
	_ = h.Log.End()

	h.outcome = out
	r.record(h.Job, out)
	r.Logger.Info("job finished",
		"id", h.Job.ID,
		"kind", h.Job.Kind,
		"model", h.Job.ModelID,
		"status", out.Status,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"dropped", h.Log.Dropped(),
	)
}

func (r *Runner) jobContext() (context.Context, context.CancelFunc) {
	if r.Timeout > 0 {
		return context.WithTimeout(r.base, r.Timeout)
	}
	return context.WithCancel(r.base)
}

func (r *Runner) execute(ctx context.Context, log *joblog.Log, work Work) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Status: model.JobError, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	err := work(ctx, log)
	if err == nil {
		return Outcome{Status: model.JobDone}
	}
	if errors.Is(err, context.DeadlineExceeded) && r.Timeout > 0 && ctx.Err() != nil {
		err = fmt.Errorf("job exceeded %s: %w", r.Timeout, err)
	}
	return Outcome{Status: model.JobError, Err: err}
}

func (r *Runner) record(job model.Job, out Outcome) {
	if r.Store == nil {
		return
	}
	status := string(out.Status)
	finished := time.Now().UTC()
	patch := model.JobPatch{Status: &status, FinishedAt: &finished}
	if out.Err != nil {
		msg := out.Err.Error()
		patch.Error = &msg
	}

	// The base context may already be cancelled at shutdown; history is still written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.base), 5*time.Second)
	defer cancel()
	if err := r.Store.UpdateJob(ctx, job.ID, patch); err != nil {
		r.Logger.Error("record job outcome", "id", job.ID, "err", err)
	}
}
