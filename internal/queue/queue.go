package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const jobsBucket = "jobs"

var (
	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueClosed is returned from operations on a closed queue.
	ErrQueueClosed = errors.New("queue closed")
)

// Options is the delivery policy baked into every enqueue.
type Options struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	RetainCompleted int
	RetainFailed    int
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2000 * time.Millisecond
	}
	if o.RetainCompleted <= 0 {
		o.RetainCompleted = 100
	}
	if o.RetainFailed <= 0 {
		o.RetainFailed = 50
	}
	return o
}

// Queue is a durable at-least-once job queue keyed by receipt id. Every
// state transition is written to bbolt before the mutating call returns, so
// Status always reflects the latest transition. Enqueue is an upsert by id:
// a non-terminal job dedupes, a terminal one is overwritten.
type Queue struct {
	mu        sync.Mutex
	db        *bbolt.DB
	opts      Options
	jobs      map[string]*Job
	pending   []string // FIFO of runnable ids
	completed []string // oldest first, for retention eviction
	failed    []string
	wake      chan struct{}
	done      chan struct{}
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the queue database at path and recovers persisted
// jobs. A job found ACTIVE at open belonged to a crashed worker; it is
// reclaimed to PENDING with its attempt already counted.
func Open(path string, opts Options) (*Queue, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening queue db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(jobsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating jobs bucket: %w", err)
	}

	q := &Queue{
		db:   db,
		opts: opts.withDefaults(),
		jobs: make(map[string]*Job),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if err := q.recover(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

// recover loads persisted jobs and rebuilds the in-memory indexes.
func (q *Queue) recover() error {
	var reclaimed int
	err := q.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobsBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("unmarshaling job %s: %w", k, err)
			}
			if job.State == StateActive {
				// Worker died mid-flight; the attempt stays counted.
				job.State = StatePending
				job.UpdatedAt = time.Now()
				reclaimed++
				data, err := json.Marshal(&job)
				if err != nil {
					return err
				}
				if err := bucket.Put(k, data); err != nil {
					return err
				}
			}
			q.jobs[job.ID] = &job
			return nil
		})
	})
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(q.jobs))
	for id := range q.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return q.jobs[ids[i]].UpdatedAt.Before(q.jobs[ids[j]].UpdatedAt)
	})
	for _, id := range ids {
		switch q.jobs[id].State {
		case StatePending:
			q.pending = append(q.pending, id)
		case StateCompleted:
			q.completed = append(q.completed, id)
		case StateFailed:
			q.failed = append(q.failed, id)
		}
	}

	if len(q.jobs) > 0 {
		slog.Info("Recovered jobs from disk", "total", len(q.jobs), "reclaimed", reclaimed)
	}
	return nil
}

// Enqueue creates or reuses the job for jobID. An existing non-terminal job
// is returned unchanged; a terminal job is replaced by a fresh PENDING one.
func (q *Queue) Enqueue(jobID string, payload Payload) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if existing, ok := q.jobs[jobID]; ok && !existing.State.Terminal() {
		job := *existing
		return &job, nil
	}

	now := time.Now()
	job := &Job{
		ID:        jobID,
		Payload:   payload,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.persist(job); err != nil {
		return nil, err
	}

	q.dropFromRetention(jobID)
	q.jobs[jobID] = job
	q.pending = append(q.pending, jobID)
	q.signal()

	copied := *job
	return &copied, nil
}

// Dequeue blocks until a runnable job is available, claims it and returns a
// copy. The claim transitions PENDING/DELAYED -> ACTIVE and increments
// AttemptsMade before the job is handed out.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}

		if job := q.nextRunnable(); job != nil {
			job.State = StateActive
			job.AttemptsMade++
			job.NextRunAt = time.Time{}
			job.UpdatedAt = time.Now()
			if err := q.persist(job); err != nil {
				q.mu.Unlock()
				return nil, err
			}
			copied := *job
			q.mu.Unlock()
			return &copied, nil
		}

		wait := q.nextDelay()
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.done:
			timer.Stop()
			return nil, ErrQueueClosed
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// nextRunnable pops the oldest PENDING job, falling back to the earliest
// DELAYED job whose backoff has elapsed. Caller holds the lock.
func (q *Queue) nextRunnable() *Job {
	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		if job, ok := q.jobs[id]; ok && job.State == StatePending {
			return job
		}
	}

	now := time.Now()
	var due *Job
	for _, job := range q.jobs {
		if job.State != StateDelayed || job.NextRunAt.After(now) {
			continue
		}
		if due == nil || job.NextRunAt.Before(due.NextRunAt) {
			due = job
		}
	}
	return due
}

// nextDelay returns how long Dequeue may sleep before a DELAYED job could
// become runnable. Caller holds the lock.
func (q *Queue) nextDelay() time.Duration {
	const idle = 500 * time.Millisecond
	wait := idle
	now := time.Now()
	for _, job := range q.jobs {
		if job.State != StateDelayed {
			continue
		}
		if d := job.NextRunAt.Sub(now); d < wait {
			wait = d
		}
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// Complete marks an ACTIVE job COMPLETED.
func (q *Queue) Complete(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateActive {
		return fmt.Errorf("job %s is %s, not ACTIVE", jobID, job.State)
	}

	job.State = StateCompleted
	job.Progress = 100
	job.FailedReason = ""
	job.UpdatedAt = time.Now()
	if err := q.persist(job); err != nil {
		return err
	}

	q.completed = append(q.completed, jobID)
	q.evict(&q.completed, q.opts.RetainCompleted)
	return nil
}

// Fail records a failed attempt for an ACTIVE job. A retryable failure with
// remaining budget schedules a DELAYED retry after an exponential backoff
// (base * 2^(attempts-1)); anything else is terminal.
func (q *Queue) Fail(jobID string, reason string, retryable bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateActive {
		return fmt.Errorf("job %s is %s, not ACTIVE", jobID, job.State)
	}

	job.FailedReason = reason
	job.UpdatedAt = time.Now()

	if retryable && job.AttemptsMade < q.opts.MaxAttempts {
		job.State = StateDelayed
		job.NextRunAt = time.Now().Add(q.backoff(job.AttemptsMade))
		if err := q.persist(job); err != nil {
			return err
		}
		q.signal()
		return nil
	}

	job.State = StateFailed
	if err := q.persist(job); err != nil {
		return err
	}
	q.failed = append(q.failed, jobID)
	q.evict(&q.failed, q.opts.RetainFailed)
	return nil
}

// backoff doubles the base delay for each attempt already made.
func (q *Queue) backoff(attemptsMade int) time.Duration {
	d := q.opts.BackoffBase
	for i := 1; i < attemptsMade; i++ {
		d *= 2
	}
	return d
}

// SetProgress updates the advisory progress of a job.
func (q *Queue) SetProgress(jobID string, pct int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	job.Progress = pct
	job.UpdatedAt = time.Now()
	return q.persist(job)
}

// Status returns the externally visible state of a job. It never blocks on
// the worker.
func (q *Queue) Status(jobID string) (*JobStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.status(), nil
}

// Close releases queue resources. Safe to call more than once.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
		q.closeErr = q.db.Close()
	})
	return q.closeErr
}

// persist writes a job to bbolt. Caller holds the lock; the write completes
// before the transition becomes visible to callers.
func (q *Queue) persist(job *Job) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobsBucket))
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshaling job: %w", err)
		}
		return bucket.Put([]byte(job.ID), data)
	})
}

// evict trims a retention list to its cap, removing the oldest jobs from
// memory and disk. Caller holds the lock.
func (q *Queue) evict(list *[]string, limit int) {
	for len(*list) > limit {
		id := (*list)[0]
		*list = (*list)[1:]
		delete(q.jobs, id)
		err := q.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket([]byte(jobsBucket)).Delete([]byte(id))
		})
		if err != nil {
			slog.Warn("Failed to evict retained job", "job_id", id, "error", err)
		}
	}
}

// dropFromRetention removes an id from the terminal retention lists when the
// job is being overwritten by a fresh enqueue. Caller holds the lock.
func (q *Queue) dropFromRetention(id string) {
	for _, list := range []*[]string{&q.completed, &q.failed} {
		for i, existing := range *list {
			if existing == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				break
			}
		}
	}
}

// signal wakes one blocked Dequeue without ever blocking the caller.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
