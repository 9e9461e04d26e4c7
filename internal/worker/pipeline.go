package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/snapwise/receiptpipe/internal/queue"
	"github.com/snapwise/receiptpipe/internal/receipt"
	"github.com/snapwise/receiptpipe/internal/status"
)

// runJob drives one job through the pipeline: mark the receipt PROCESSING,
// download the image, parse it, persist the outcome. Every failure is
// caught here, classified, and translated into a job transition plus a
// receipt status write; nothing escapes silently.
func (w *Worker) runJob(ctx context.Context, job *queue.Job, workerNum int) {
	start := time.Now()
	receiptID := job.Payload.ReceiptID

	w.logger.Info("Processing job", jobAttrs(job, workerNum)...)

	// Readers must see PROCESSING before any parsing begins.
	processing := receipt.StatusProcessing
	if _, err := w.store.UpdateReceipt(receiptID, receipt.Update{Status: &processing}); err != nil {
		if errors.Is(err, receipt.ErrNotFound) {
			w.failJob(job, start, workerNum, errors.New("receipt record missing"), false)
			return
		}
		w.failJob(job, start, workerNum, err, true)
		return
	}
	w.hub.Publish(receiptID, status.Event{
		Type:   status.EventStatus,
		Status: string(receipt.StatusProcessing),
	})
	w.setProgress(job, workerNum, 10)

	data, contentType, err := w.images.Fetch(ctx, job.Payload.ImageURL)
	if err != nil {
		w.failJob(job, start, workerNum, err, true)
		return
	}
	w.setProgress(job, workerNum, 30)

	// The limiter protects the model provider from bursts; it is shared
	// across all pool goroutines.
	if err := w.limiter.Wait(ctx); err != nil {
		w.failJob(job, start, workerNum, err, true)
		return
	}

	parsed, err := w.processor.Process(ctx, data, contentType)
	if err != nil {
		w.failJob(job, start, workerNum, err, retryable(err))
		return
	}
	w.setProgress(job, workerNum, 80)

	elapsed := time.Since(start).Milliseconds()

	completed := receipt.StatusCompleted
	update := receipt.Update{
		Status:           &completed,
		RawText:          &parsed.RawText,
		OcrConfidence:    &parsed.Confidence,
		ProcessingTimeMs: &elapsed,
	}
	// Optional extractions are written only when present.
	if parsed.StoreName != "" {
		update.StoreName = &parsed.StoreName
	}
	if parsed.Date != "" {
		update.PurchaseDate = &parsed.Date
	}
	if parsed.Total != 0 {
		update.TotalAmount = &parsed.Total
	}

	items := make([]receipt.Item, 0, len(parsed.Items))
	for i, it := range parsed.Items {
		lineNumber := it.LineNumber
		if lineNumber <= 0 {
			lineNumber = i + 1
		}
		items = append(items, receipt.Item{
			Name:       it.Name,
			Price:      it.Price,
			Quantity:   it.Quantity,
			LineNumber: lineNumber,
			Confidence: it.Confidence,
		})
	}

	if err := w.store.ReplaceItems(receiptID, items); err != nil {
		w.failJob(job, start, workerNum, err, true)
		return
	}
	if _, err := w.store.UpdateReceipt(receiptID, update); err != nil {
		w.failJob(job, start, workerNum, err, true)
		return
	}

	if err := w.queue.Complete(job.ID); err != nil {
		w.logger.Error("Failed to mark job completed", append(jobAttrs(job, workerNum), slog.String("error", err.Error()))...)
	}

	w.hub.Publish(receiptID, status.Event{
		Type:   status.EventComplete,
		Status: string(receipt.StatusCompleted),
		Data: &status.Data{
			StoreName:      parsed.StoreName,
			PurchaseDate:   parsed.Date,
			TotalAmount:    parsed.Total,
			ItemCount:      len(items),
			OcrConfidence:  parsed.Confidence,
			ProcessingTime: elapsed,
		},
	})

	w.logger.Info("Job completed",
		append(jobAttrs(job, workerNum), slog.Int64("processing_time_ms", elapsed))...)
}

// setProgress records advisory progress. A failure here never aborts the
// job, but it is not an expected condition either.
func (w *Worker) setProgress(job *queue.Job, workerNum int, pct int) {
	if err := w.queue.SetProgress(job.ID, pct); err != nil {
		w.logger.Warn("Failed to update job progress",
			append(jobAttrs(job, workerNum), slog.Int("progress", pct), slog.String("error", err.Error()))...)
	}
}

// failJob records one failed attempt. The queue decides between a DELAYED
// retry and terminal FAILED from the retryable flag and the attempt budget;
// the receipt row and the status channel are only touched on the terminal
// transition.
func (w *Worker) failJob(job *queue.Job, start time.Time, workerNum int, cause error, canRetry bool) {
	reason := cause.Error()
	terminal := !canRetry || job.AttemptsMade >= w.maxAttempts

	w.logger.Error("Job attempt failed",
		append(jobAttrs(job, workerNum),
			slog.String("error", reason),
			slog.Bool("retryable", canRetry),
			slog.Bool("terminal", terminal),
		)...)

	if terminal {
		elapsed := time.Since(start).Milliseconds()
		failed := receipt.StatusFailed
		_, err := w.store.UpdateReceipt(job.Payload.ReceiptID, receipt.Update{
			Status:           &failed,
			FailedReason:     &reason,
			ProcessingTimeMs: &elapsed,
		})
		if err != nil && !errors.Is(err, receipt.ErrNotFound) {
			w.logger.Error("Failed to mark receipt failed",
				append(jobAttrs(job, workerNum), slog.String("error", err.Error()))...)
		}
	}

	if err := w.queue.Fail(job.ID, reason, canRetry); err != nil {
		w.logger.Error("Failed to record job failure",
			append(jobAttrs(job, workerNum), slog.String("error", err.Error()))...)
	}

	if terminal {
		w.hub.Publish(job.Payload.ReceiptID, status.Event{
			Type:    status.EventError,
			Status:  string(receipt.StatusFailed),
			Message: reason,
		})
	}
}
