package server

import (
	"sync"

	"github.com/INLOpen/expirebin/sweep"
)

// jobRegistry keeps sweep job handles addressable for status polling.
// Finished jobs are evicted oldest-first once the history cap is hit;
// running jobs are never evicted.
type jobRegistry struct {
	mu    sync.Mutex
	cap   int
	jobs  map[string]*sweep.Job
	order []string
}

func newJobRegistry(capacity int) *jobRegistry {
	if capacity <= 0 {
		capacity = 64
	}
	return &jobRegistry{
		cap:  capacity,
		jobs: make(map[string]*sweep.Job),
	}
}

func (r *jobRegistry) add(job *sweep.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := job.ID().String()
	r.jobs[id] = job
	r.order = append(r.order, id)
	r.evictLocked()
}

func (r *jobRegistry) get(id string) (*sweep.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *jobRegistry) evictLocked() {
	for len(r.jobs) > r.cap {
		evicted := false
		for i, id := range r.order {
			job := r.jobs[id]
			select {
			case <-job.Done():
			default:
				continue
			}
			delete(r.jobs, id)
			r.order = append(r.order[:i], r.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}
