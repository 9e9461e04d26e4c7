package queue

import "time"

// State is the lifecycle state of a job.
type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateDelayed   State = "DELAYED" // waiting out a retry backoff
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Payload identifies the work a job carries.
type Payload struct {
	ReceiptID string `json:"receipt_id"`
	ImageURL  string `json:"image_url"`
}

// Job is one durable unit of receipt-processing work. The job id equals the
// receipt id, which makes enqueue an upsert and rules out two jobs racing on
// the same receipt.
type Job struct {
	ID           string    `json:"id"`
	Payload      Payload   `json:"payload"`
	State        State     `json:"state"`
	Progress     int       `json:"progress"` // 0-100, advisory
	AttemptsMade int       `json:"attempts_made"`
	FailedReason string    `json:"failed_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	NextRunAt    time.Time `json:"next_run_at,omitempty"` // set while DELAYED
}

// JobStatus is the externally visible view of a job.
type JobStatus struct {
	ID           string `json:"id"`
	State        State  `json:"state"`
	Progress     int    `json:"progress"`
	AttemptsMade int    `json:"attempts_made"`
	FailedReason string `json:"failed_reason,omitempty"`
}

func (j *Job) status() *JobStatus {
	return &JobStatus{
		ID:           j.ID,
		State:        j.State,
		Progress:     j.Progress,
		AttemptsMade: j.AttemptsMade,
		FailedReason: j.FailedReason,
	}
}
