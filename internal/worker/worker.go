package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapwise/receiptpipe/internal/config"
	"github.com/snapwise/receiptpipe/internal/queue"
	"github.com/snapwise/receiptpipe/internal/receipt"
	"github.com/snapwise/receiptpipe/internal/status"
	"github.com/snapwise/receiptpipe/internal/vision"
)

// Store is the slice of receipt persistence the worker needs.
type Store interface {
	UpdateReceipt(id string, update receipt.Update) (*receipt.Receipt, error)
	ReplaceItems(id string, items []receipt.Item) error
}

// JobQueue is the slice of the queue the worker drives.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(jobID string) error
	Fail(jobID string, reason string, retryable bool) error
	SetProgress(jobID string, pct int) error
}

// Processor turns raw image bytes into a validated receipt.
type Processor interface {
	Process(ctx context.Context, data []byte, contentType string) (*vision.ParsedReceipt, error)
}

// Publisher receives job-state transitions for fan-out to subscribers.
type Publisher interface {
	Publish(receiptID string, event status.Event)
}

// Worker runs a fixed pool of goroutines pulling jobs from the queue. Each
// goroutine processes one job start to finish before pulling the next. A
// token-bucket limiter shared across the pool caps parse calls to the model
// provider independently of concurrency.
type Worker struct {
	logger      *slog.Logger
	queue       JobQueue
	store       Store
	images      receipt.ImageFetcher
	processor   Processor
	hub         Publisher
	limiter     *rate.Limiter
	concurrency int
	maxAttempts int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Worker from configuration and collaborators.
func New(cfg *config.Config, jobQueue JobQueue, store Store, images receipt.ImageFetcher, processor Processor, hub Publisher, logger *slog.Logger) *Worker {
	interval := cfg.RateWindow / time.Duration(cfg.RateLimit)
	return &Worker{
		logger:      logger,
		queue:       jobQueue,
		store:       store,
		images:      images,
		processor:   processor,
		hub:         hub,
		limiter:     rate.NewLimiter(rate.Every(interval), cfg.RateLimit),
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Start spawns the worker pool. It returns immediately; processing stops
// when ctx is canceled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("Starting worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.loop(runCtx, i)
	}
}

// Stop stops accepting new jobs and waits for in-flight jobs to finish.
// Jobs interrupted by a hard kill instead are reclaimed from the queue's
// crash recovery on next start.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker pool...")
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Worker pool stopped")
}

// loop is the processing loop of one pool goroutine.
func (w *Worker) loop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				w.logger.Info("Worker goroutine stopping", slog.Int("worker_num", workerNum))
				return
			}
			w.logger.Error("Failed to dequeue job",
				slog.Int("worker_num", workerNum),
				slog.String("error", err.Error()),
			)
			continue
		}

		// The dequeue context stops new claims on shutdown; the job itself
		// runs to completion even while the pool is draining.
		w.runJob(context.WithoutCancel(ctx), job, workerNum)
	}
}

// retryable classifies an in-job failure. Authentication and configuration
// errors must not burn through the retry budget.
func retryable(err error) bool {
	return !vision.IsFatal(err)
}

// jobAttrs builds the common log fields for one job.
func jobAttrs(job *queue.Job, workerNum int) []any {
	return []any{
		slog.String("job_id", job.ID),
		slog.String("receipt_id", job.Payload.ReceiptID),
		slog.Int("attempt", job.AttemptsMade),
		slog.Int("worker_num", workerNum),
	}
}
