// Package dispatch runs asynchronous processing jobs for imported frames.
// Reconciliation itself is synchronous; everything that follows a commit
// (volume conversion, evaluation, whole-slide thumbnails) flows through the
// Worker here.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"miqa/internal/ingest"
)

// Kind identifies a job type.
type Kind string

const (
	KindImport          Kind = "import"
	KindExport          Kind = "export"
	KindFrameConversion Kind = "frame_conversion"
	KindWSIThumbnail    Kind = "wsi_thumbnail"
	KindEvaluation      Kind = "evaluation"
)

// Status describes the lifecycle stage of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job tracks a submitted unit of work. ProjectID references persisted frame
// jobs; ProjectName addresses import and export jobs, which resolve the
// project themselves.
type Job struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	ProjectID   string     `json:"project_id,omitempty"`
	ProjectName string     `json:"project_name,omitempty"`
	FrameIDs    []string   `json:"frame_ids,omitempty"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input represents a job submission.
type Input struct {
	Kind        Kind
	ProjectID   string
	ProjectName string
	FrameIDs    []string
}

// Runner executes one job kind. A nil error marks the job succeeded.
type Runner func(ctx context.Context, job Job) error

// Worker executes jobs asynchronously on a single goroutine per Start call.
type Worker struct {
	runners map[Kind]Runner
	metrics *Metrics

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id string
}

// NewWorker constructs a worker. metrics may be nil.
func NewWorker(metrics *Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		runners: make(map[Kind]Runner),
		metrics: metrics,
		queue:   make(chan task, 64),
		jobs:    make(map[string]*Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register installs the runner for a job kind. Must be called before Start.
func (w *Worker) Register(kind Kind, run Runner) {
	w.runners[kind] = run
}

// Start begins processing submitted jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t.id)
		}
	}
}

// Submit schedules a job and returns its queued snapshot.
func (w *Worker) Submit(_ context.Context, input Input) (Job, error) {
	if _, ok := w.runners[input.Kind]; !ok {
		return Job{}, fmt.Errorf("no runner registered for job kind %s", input.Kind)
	}
	now := time.Now().UTC()
	job := Job{
		ID:          uuid.NewString(),
		Kind:        input.Kind,
		ProjectID:   input.ProjectID,
		ProjectName: input.ProjectName,
		FrameIDs:    append([]string(nil), input.FrameIDs...),
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[job.ID] = &job
	snapshot := job.copy()
	w.mu.Unlock()

	select {
	case w.queue <- task{id: job.ID}:
	default:
		w.mu.Lock()
		delete(w.jobs, job.ID)
		w.mu.Unlock()
		return Job{}, fmt.Errorf("job queue full")
	}

	if w.metrics != nil {
		w.metrics.jobSubmitted(input.Kind)
		w.metrics.queueDepth(len(w.queue))
	}
	return snapshot, nil
}

// Poll returns a snapshot of the job record.
func (w *Worker) Poll(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

// Jobs returns snapshots of all tracked jobs, unordered.
func (w *Worker) Jobs() []Job {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Job, 0, len(w.jobs))
	for _, job := range w.jobs {
		out = append(out, job.copy())
	}
	return out
}

func (w *Worker) process(id string) {
	w.mu.RLock()
	job, ok := w.jobs[id]
	var snapshot Job
	if ok {
		snapshot = job.copy()
	}
	w.mu.RUnlock()
	if !ok {
		return
	}

	run, ok := w.runners[snapshot.Kind]
	if !ok {
		w.finish(id, StatusFailed, fmt.Sprintf("no runner for kind %s", snapshot.Kind))
		return
	}

	w.updateStatus(id, StatusRunning)
	if err := run(w.ctx, snapshot); err != nil {
		w.finish(id, StatusFailed, err.Error())
		return
	}
	w.finish(id, StatusSucceeded, "")
}

func (w *Worker) updateStatus(id string, status Status) {
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = status
		job.UpdatedAt = time.Now().UTC()
	}
	w.mu.Unlock()
}

func (w *Worker) finish(id string, status Status, reason string) {
	now := time.Now().UTC()
	var kind Kind
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = status
		job.Error = reason
		job.UpdatedAt = now
		job.CompletedAt = &now
		kind = job.Kind
	}
	w.mu.Unlock()
	if w.metrics != nil && kind != "" {
		w.metrics.jobFinished(kind, status)
		w.metrics.queueDepth(len(w.queue))
	}
}

func (j *Job) copy() Job {
	dup := *j
	dup.FrameIDs = append([]string(nil), j.FrameIDs...)
	return dup
}

// Notifier adapts the worker to the ingest.Dispatcher contract so the import
// service can submit post-commit jobs without importing this package's
// types.
type Notifier struct {
	Worker *Worker
}

var _ ingest.Dispatcher = (*Notifier)(nil)

// Notify submits the job matching the reconciliation notification.
func (n *Notifier) Notify(ctx context.Context, note ingest.Notification) error {
	kind, err := kindFor(note.Kind)
	if err != nil {
		return err
	}
	_, err = n.Worker.Submit(ctx, Input{Kind: kind, ProjectID: note.ProjectID, FrameIDs: note.FrameIDs})
	return err
}

func kindFor(k ingest.NotificationKind) (Kind, error) {
	switch k {
	case ingest.NotifyConversion:
		return KindFrameConversion, nil
	case ingest.NotifyThumbnail:
		return KindWSIThumbnail, nil
	case ingest.NotifyEvaluation:
		return KindEvaluation, nil
	default:
		return "", fmt.Errorf("unknown notification kind %s", k)
	}
}
