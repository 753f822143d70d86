package controller

import (
	"sync"

	"github.com/lsst/qserv-sub024/internal/job"
	"github.com/lsst/qserv-sub024/internal/request"
)

// registry is the Controller's bookkeeping of active Requests and Jobs. It
// implements both request.Registry and job.Registry so Base.Start/finish
// can register/unregister through the same interface regardless of which
// kind of object it is tracking.
type registry struct {
	mu       sync.Mutex
	requests map[string]*request.Base
	jobs     map[string]*job.Base
}

func newRegistry() *registry {
	return &registry{
		requests: make(map[string]*request.Base),
		jobs:     make(map[string]*job.Base),
	}
}

func (r *registry) AddRequest(id string, req *request.Base) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[id] = req
}

func (r *registry) RemoveRequest(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, id)
}

func (r *registry) AddJob(id string, j *job.Base) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = j
}

func (r *registry) RemoveJob(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Request looks up an active request by id.
func (r *registry) Request(id string) (*request.Base, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	return req, ok
}

// Job looks up an active job by id.
func (r *registry) Job(id string) (*job.Base, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// ActiveRequestIDs returns a snapshot of currently-registered request ids,
// used by the admin "stats" endpoint.
func (r *registry) ActiveRequestIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requests))
	for id := range r.requests {
		out = append(out, id)
	}
	return out
}

// ActiveJobIDs returns a snapshot of currently-registered job ids.
func (r *registry) ActiveJobIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		out = append(out, id)
	}
	return out
}
