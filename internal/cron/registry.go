package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateJob is returned by Register when a name is taken.
var ErrDuplicateJob = errors.New("cron job already registered")

// Job is one unit of scheduled library maintenance.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in schedule order and indexes them by name.
type Registry struct {
	order  []string
	byName map[string]Job
}

// NewRegistry registers jobs in order. A bad job panics since it can only
// come from wiring code.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{byName: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			panic(err)
		}
	}
	return r
}

// Register appends job to the schedule. Nil jobs are ignored.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return errors.New("cron job name is empty")
	}
	if r.byName == nil {
		r.byName = map[string]Job{}
	}
	if _, taken := r.byName[name]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	r.byName[name] = job
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Lookup(name string) (Job, bool) {
	job, ok := r.byName[strings.TrimSpace(name)]
	return job, ok
}

// Jobs returns a fresh slice in registration order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
