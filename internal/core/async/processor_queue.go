// Package async runs extraction jobs on a bounded pool of workers.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("queue is shutting down")

// Extractor is the part of core.Processor the queue drives.
type Extractor interface {
	RunExtraction(ctx context.Context, doc entity.Document) (entity.ExtractionRun, error)
	RetryExtraction(ctx context.Context, doc entity.Document, forceLLM bool) (entity.ExtractionRun, error)
}

type ProcessorQueue struct {
	proc     Extractor
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	onResult func(Result)

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithResultHandler is called from worker goroutines once per job.
func WithResultHandler(fn func(Result)) Option {
	return func(q *ProcessorQueue) {
		if fn != nil {
			q.onResult = fn
		}
	}
}

func NewProcessorQueue(proc Extractor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:     proc,
		logger:   logger,
		workers:  4,
		timeout:  3 * time.Minute,
		ch:       make(chan Job, 256),
		onResult: func(Result) {},
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)

				for job := range q.ch {
					q.onResult(q.process(workerID, job))
				}

				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) process(workerID int, job Job) Result {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	var (
		run entity.ExtractionRun
		err error
	)
	if job.Retry || job.ForceLLM {
		run, err = q.proc.RetryExtraction(ctx, job.Document, job.ForceLLM)
	} else {
		run, err = q.proc.RunExtraction(ctx, job.Document)
	}

	log := q.logger.With("worker_id", workerID, "document_id", job.Document.ID, "run_id", run.ID)
	switch {
	case err != nil:
		log.Error("queue.job.failed", "error", err)
	case run.Error != nil:
		log.Warn("queue.job.run_failed", "code", run.Error.Code, "retryable", run.Error.Retryable)
	default:
		log.Info("queue.job.done", "variant", run.Variant, "confidence", run.Confidence(), "waited_ms", time.Since(job.SubmittedAt).Milliseconds())
	}
	return Result{Job: job, Run: run, Err: err}
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.rejected", "document_id", job.Document.ID)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queue.enqueued", "document_id", job.Document.ID, "force_llm", job.ForceLLM)
		return nil
	default:
	}
	q.logger.Warn("queue.full.backpressure", "document_id", job.Document.ID)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops intake and waits for queued jobs to drain or ctx to end.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}

var _ Queue = (*ProcessorQueue)(nil)
