package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
	"github.com/kirillkom/doc-ocr/internal/core/ports"
)

const (
	stderrLogLimit      = 8 << 10
	statusUpdateTimeout = 10 * time.Second
	publishTimeout      = 2 * time.Second
)

var errShuttingDown = errors.New("orchestrator is shutting down")

// transition is one repository mutation handed to the reconciler. reply is nil
// for terminal updates nobody waits on.
type transition struct {
	ctx    context.Context
	id     int64
	update domain.StatusUpdate
	reply  chan transitionResult
}

type transitionResult struct {
	doc *domain.Document
	err error
}

type OrchestratorOption func(*ProcessOrchestrator)

// WithWorkerTimeout bounds every worker run. Zero keeps runs unbounded.
func WithWorkerTimeout(d time.Duration) OrchestratorOption {
	return func(o *ProcessOrchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithStatusPublisher(p ports.StatusPublisher) OrchestratorOption {
	return func(o *ProcessOrchestrator) {
		o.publisher = p
	}
}

func WithProcessObserver(obs ports.ProcessObserver) OrchestratorOption {
	return func(o *ProcessOrchestrator) {
		o.observer = obs
	}
}

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *ProcessOrchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// ProcessOrchestrator spawns one recognition worker per job and drives the job
// through processing to a terminal status. A single reconciler goroutine issues
// every repository mutation, so updates for one job never interleave.
type ProcessOrchestrator struct {
	repo      ports.DocumentRepository
	launcher  ports.WorkerLauncher
	decoder   ports.WorkerResultDecoder
	publisher ports.StatusPublisher
	observer  ports.ProcessObserver
	logger    *slog.Logger
	timeout   time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc

	updates        chan transition
	reconcilerDone chan struct{}

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	stopOnce sync.Once
}

func NewProcessOrchestrator(
	repo ports.DocumentRepository,
	launcher ports.WorkerLauncher,
	decoder ports.WorkerResultDecoder,
	opts ...OrchestratorOption,
) *ProcessOrchestrator {
	baseCtx, cancel := context.WithCancel(context.Background())
	o := &ProcessOrchestrator{
		repo:           repo,
		launcher:       launcher,
		decoder:        decoder,
		logger:         slog.Default(),
		baseCtx:        baseCtx,
		cancelBase:     cancel,
		updates:        make(chan transition, 64),
		reconcilerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	go o.reconcileLoop()
	return o
}

// Run spawns the worker for doc and records the processing transition before
// returning. The terminal transition is applied asynchronously once the worker exits.
//
// The hand-off is detached from ctx: a caller that goes away after the record was
// created must not strand it in pending. Whenever Run returns an error for a known
// record it has already tried to drive that record to failed.
func (o *ProcessOrchestrator) Run(ctx context.Context, doc *domain.Document, inputPath, outputPath string) (*domain.Document, error) {
	if doc == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run worker", errors.New("document is nil"))
	}
	ctx = context.WithoutCancel(ctx)
	if !o.acquire() {
		o.failRejected(doc.ID)
		return nil, domain.WrapError(domain.ErrTemporary, "run worker", errShuttingDown)
	}

	logger := o.logger.With("job_id", doc.ID)
	workerCtx, cancel := o.workerContext()

	proc, err := o.launcher.Start(workerCtx, inputPath, outputPath)
	if err != nil {
		cancel()
		defer o.inflight.Done()
		logger.Error("worker_spawn_failed", "input_path", inputPath, "error", err)

		processing, updErr := o.submitAndWait(ctx, doc.ID, domain.StatusUpdate{Status: domain.StatusProcessing})
		if updErr != nil {
			o.abandon(doc.ID)
			return nil, fmt.Errorf("set status=processing: %w", updErr)
		}
		o.enqueue(transition{ctx: ctx, id: doc.ID, update: domain.StatusUpdate{Status: domain.StatusFailed}})
		return processing, nil
	}

	logger.Info("worker_spawned", "pid", proc.PID(), "input_path", inputPath, "output_path", outputPath)
	if o.observer != nil {
		o.observer.WorkerStarted(time.Since(doc.CreatedAt))
	}

	processing, err := o.submitAndWait(ctx, doc.ID, domain.StatusUpdate{Status: domain.StatusProcessing})
	if err != nil {
		// The worker's result could not be recorded against a pending job, so it
		// is stopped and the job is failed instead.
		cancel()
		go func() {
			defer o.inflight.Done()
			proc.Wait()
			o.observe(domain.StatusFailed, 0)
			o.abandon(doc.ID)
		}()
		return nil, fmt.Errorf("set status=processing: %w", err)
	}

	go o.await(doc.ID, proc, cancel)
	return processing, nil
}

// abandon retries the processing transition once and then fails the job. It must
// run while holding an inflight slot. If the repository is still refusing writes
// the job stays pending and the error is logged.
func (o *ProcessOrchestrator) abandon(id int64) {
	ctx := context.Background()
	if _, err := o.submitAndWait(ctx, id, domain.StatusUpdate{Status: domain.StatusProcessing}); err != nil {
		// The first attempt may have been applied even though it reported an error.
		doc, getErr := o.repo.GetByID(ctx, id)
		if getErr != nil || doc.Status != domain.StatusProcessing {
			o.logger.Error("job_abandoned_in_pending", "job_id", id, "error", err)
			return
		}
	}
	o.enqueue(transition{ctx: ctx, id: id, update: domain.StatusUpdate{Status: domain.StatusFailed}})
}

// failRejected fails a job that arrived after Shutdown began. The reconciler may
// already be gone, so the repository is written directly; no worker exists for
// the job and nothing else mutates it.
func (o *ProcessOrchestrator) failRejected(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), statusUpdateTimeout)
	defer cancel()

	for _, status := range []domain.DocumentStatus{domain.StatusProcessing, domain.StatusFailed} {
		doc, err := o.repo.UpdateStatus(ctx, id, domain.StatusUpdate{Status: status})
		if err != nil {
			o.logger.Error("rejected_job_not_failed", "job_id", id, "status", status, "error", err)
			return
		}
		o.publish(doc)
	}
	o.logger.Warn("job_rejected_shutting_down", "job_id", id)
}

// Accepting reports whether Run would still admit a job.
func (o *ProcessOrchestrator) Accepting() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.closed
}

// Shutdown stops accepting jobs and waits for running workers. When ctx expires
// first the remaining workers are killed and reconciled as failed.
func (o *ProcessOrchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn("orchestrator_shutdown_killing_workers", "error", ctx.Err())
		o.cancelBase()
		<-done
		shutdownErr = ctx.Err()
	}

	o.stopOnce.Do(func() {
		o.cancelBase()
		close(o.updates)
	})
	<-o.reconcilerDone
	return shutdownErr
}

func (o *ProcessOrchestrator) acquire() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return false
	}
	o.inflight.Add(1)
	return true
}

func (o *ProcessOrchestrator) workerContext() (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(o.baseCtx, o.timeout)
	}
	return context.WithCancel(o.baseCtx)
}

func (o *ProcessOrchestrator) await(id int64, proc ports.WorkerProcess, cancel context.CancelFunc) {
	defer o.inflight.Done()
	defer cancel()

	exit := proc.Wait()
	update := o.reconcile(id, exit)
	o.observe(update.Status, exit.Duration)
	o.enqueue(transition{ctx: context.Background(), id: id, update: update})
}

// reconcile maps a worker exit onto the terminal status update for the job.
func (o *ProcessOrchestrator) reconcile(id int64, exit domain.WorkerExit) domain.StatusUpdate {
	logger := o.logger.With("job_id", id, "exit_code", exit.ExitCode, "duration_ms", exit.Duration.Milliseconds())
	failed := domain.StatusUpdate{Status: domain.StatusFailed}

	if exit.Err != nil {
		if errors.Is(exit.Err, context.DeadlineExceeded) {
			logger.Error("worker_timeout", "timeout", o.timeout.String())
		} else {
			logger.Error("worker_wait_failed", "error", exit.Err, "stderr", truncate(string(exit.Stderr), stderrLogLimit))
		}
		return failed
	}
	if exit.ExitCode != 0 {
		logger.Error("worker_exited_non_zero", "stderr", truncate(string(exit.Stderr), stderrLogLimit))
		return failed
	}

	result, err := o.decoder.Decode(exit.Stdout)
	if err != nil {
		logger.Error("worker_output_invalid", "error", err, "stdout", truncate(string(exit.Stdout), stderrLogLimit))
		return failed
	}
	if result.Status != domain.WorkerStatusCompleted {
		logger.Warn("worker_reported_failure", "status", result.Status, "reason", result.Error)
		return failed
	}

	update := domain.StatusUpdate{
		Status:        domain.StatusCompleted,
		ExtractedText: result.ExtractedText,
		ConvertedPath: result.ConvertedPath,
	}
	// An empty extractedText also fails the job, blank pages included: a
	// completed job always carries both derived fields.
	if err := update.Validate(); err != nil {
		logger.Error("worker_result_incomplete", "error", err)
		return failed
	}

	logger.Info("worker_completed", "converted_path", *result.ConvertedPath)
	return update
}

func (o *ProcessOrchestrator) submitAndWait(ctx context.Context, id int64, update domain.StatusUpdate) (*domain.Document, error) {
	reply := make(chan transitionResult, 1)
	o.enqueue(transition{ctx: ctx, id: id, update: update, reply: reply})
	res := <-reply
	return res.doc, res.err
}

// enqueue must only be called while holding an inflight slot, which keeps the
// channel open until the send completes.
func (o *ProcessOrchestrator) enqueue(t transition) {
	o.updates <- t
}

func (o *ProcessOrchestrator) reconcileLoop() {
	defer close(o.reconcilerDone)
	for t := range o.updates {
		doc, err := o.apply(t)
		if t.reply != nil {
			t.reply <- transitionResult{doc: doc, err: err}
		}
	}
}

func (o *ProcessOrchestrator) apply(t transition) (*domain.Document, error) {
	ctx, cancel := context.WithTimeout(t.ctx, statusUpdateTimeout)
	defer cancel()

	doc, err := o.repo.UpdateStatus(ctx, t.id, t.update)
	if err != nil {
		o.logger.Error("status_update_failed", "job_id", t.id, "status", t.update.Status, "error", err)
		return nil, err
	}
	o.publish(doc)
	return doc, nil
}

func (o *ProcessOrchestrator) publish(doc *domain.Document) {
	if o.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	event := domain.StatusEvent{ID: doc.ID, Status: doc.Status, OccurredAt: time.Now().UTC()}
	if err := o.publisher.PublishStatus(ctx, event); err != nil {
		o.logger.Warn("status_publish_failed", "job_id", doc.ID, "status", doc.Status, "error", err)
	}
}

func (o *ProcessOrchestrator) observe(status domain.DocumentStatus, d time.Duration) {
	if o.observer != nil {
		o.observer.WorkerFinished(status, d)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
