package jobs

import (
	"sync"
	"sync/atomic"
	"time"
)

// State represents the lifecycle state of a batch recognition job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// maxErrors bounds the loud error list kept per job.
const maxErrors = 100

// Outcome records the result of recognizing one hit.
type Outcome struct {
	AssetID  string
	Success  bool
	Quiet    bool
	Error    string
	Duration time.Duration
	Page     int
}

// AssetError is a failure worth surfacing to whoever polls the job.
type AssetError struct {
	AssetID string `json:"assetId"`
	Error   string `json:"error"`
}

// Job is one batch recognition run over the results of a search query.
type Job struct {
	ID        string
	Query     string
	CreatedAt time.Time

	successCount atomic.Int64
	failedCount  atomic.Int64

	cancelled  atomic.Bool
	cancelOnce sync.Once
	cancelCh   chan struct{}

	mu         sync.Mutex
	state      State
	finishedAt time.Time
	failure    string
	errors     []AssetError
	outcomes   []Outcome
}

func newJob(id, query string) *Job {
	return &Job{
		ID:        id,
		Query:     query,
		CreatedAt: time.Now(),
		cancelCh:  make(chan struct{}),
		state:     StatePending,
	}
}

// Cancel flags the job as cancelled. The flag never resets.
func (j *Job) Cancel() {
	j.cancelOnce.Do(func() {
		j.cancelled.Store(true)
		close(j.cancelCh)
	})
}

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// Done returns a channel that is closed once cancellation is requested.
func (j *Job) Done() <-chan struct{} {
	return j.cancelCh
}

// Start moves a pending job to running. It returns false if the job was
// already started or finished.
func (j *Job) Start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePending {
		return false
	}
	j.state = StateRunning
	return true
}

// Finish moves the job into a terminal state. Once terminal, later calls are
// ignored and false is returned.
func (j *Job) Finish(state State, reason string) bool {
	if !state.Terminal() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = state
	j.failure = reason
	j.finishedAt = time.Now()
	return true
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Record accounts for one processed hit. Quiet failures count as failures but
// are left out of the error list.
func (j *Job) Record(o Outcome) {
	if o.Success {
		j.successCount.Add(1)
	} else {
		j.failedCount.Add(1)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
	if !o.Success && !o.Quiet && len(j.errors) < maxErrors {
		j.errors = append(j.errors, AssetError{AssetID: o.AssetID, Error: o.Error})
	}
}

// SuccessCount returns the number of hits recognized successfully.
func (j *Job) SuccessCount() int64 {
	return j.successCount.Load()
}

// FailedCount returns the number of hits that failed.
func (j *Job) FailedCount() int64 {
	return j.failedCount.Load()
}

// Processed returns the number of hits accounted for so far.
func (j *Job) Processed() int64 {
	return j.SuccessCount() + j.FailedCount()
}

// Outcomes returns a copy of the per-hit outcomes recorded so far.
func (j *Job) Outcomes() []Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Outcome, len(j.outcomes))
	copy(out, j.outcomes)
	return out
}

// Snapshot is the JSON view of a job returned to API clients.
type Snapshot struct {
	ID           string       `json:"id"`
	Query        string       `json:"query"`
	State        State        `json:"state"`
	SuccessCount int64        `json:"successCount"`
	FailedCount  int64        `json:"failedCount"`
	Cancelled    bool         `json:"cancelled"`
	Failure      string       `json:"failure,omitempty"`
	Errors       []AssetError `json:"errors,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty"`
}

// Snapshot returns a consistent copy of the job's externally visible state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:           j.ID,
		Query:        j.Query,
		State:        j.state,
		SuccessCount: j.successCount.Load(),
		FailedCount:  j.failedCount.Load(),
		Cancelled:    j.cancelled.Load(),
		Failure:      j.failure,
		CreatedAt:    j.CreatedAt,
	}
	if len(j.errors) > 0 {
		s.Errors = make([]AssetError, len(j.errors))
		copy(s.Errors, j.errors)
	}
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		s.FinishedAt = &finished
	}
	return s
}
