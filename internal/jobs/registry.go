package jobs

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrJobNotFound = errors.New("job not found")

// Registry keeps every job created during the life of the process in memory.
type Registry struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
	}
}

// Create registers a new pending job for query.
func (r *Registry) Create(query string) *Job {
	job := newJob(uuid.New().String(), query)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return job
}

func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, exists := r.jobs[id]
	if !exists {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cancel requests cancellation of the job with the given id.
func (r *Registry) Cancel(id string) (*Job, error) {
	job, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	job.Cancel()
	return job, nil
}

// List returns all jobs, oldest first.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result
}
