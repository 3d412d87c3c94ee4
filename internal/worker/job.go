package worker

import (
	"fmt"
	"net/url"
	"time"

	"github.com/matthieugras/pos-client/internal/api"
)

// Resource is an API collection the fetch command can download
type Resource struct {
	Name  string // output file name and display label
	Path  string // relative to the API base URL
	Query url.Values
}

// Known resources, keyed by name
var resources = map[string]Resource{
	"ingredients":  {Name: "ingredients", Path: "inventory/ingredients/"},
	"transactions": {Name: "transactions", Path: "inventory/transactions/"},
	"users":        {Name: "users", Path: "users/"},
	"me":           {Name: "me", Path: api.PathMe},
}

// DefaultResourceNames is the fetch order when none are requested
var DefaultResourceNames = []string{"ingredients", "transactions", "users", "me"}

// LookupResource returns the resource registered under name
func LookupResource(name string) (Resource, error) {
	r, ok := resources[name]
	if !ok {
		return Resource{}, fmt.Errorf("unknown resource %q (known: ingredients, transactions, users, me)", name)
	}
	return r, nil
}

// BuildJobs creates one job per named resource, in order
func BuildJobs(names []string) ([]*Job, error) {
	if len(names) == 0 {
		names = DefaultResourceNames
	}
	jobs := make([]*Job, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		r, err := LookupResource(name)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, &Job{ID: len(jobs), Resource: r})
	}
	return jobs, nil
}

// Job downloads one resource
type Job struct {
	ID       int
	Resource Resource
}

// DisplayName returns the label shown for the job
func (j *Job) DisplayName() string {
	if j == nil {
		return ""
	}
	return j.Resource.Name
}

// JobResult represents the result of a job
type JobResult struct {
	Job         *Job
	RecordCount int
	OutputFile  string
	Error       error
	Duration    time.Duration
	Fatal       bool // If true, the session is gone and the whole fetch was aborted
}

// WorkerStatus represents the status of a worker
type WorkerStatus struct {
	ID              int
	State           WorkerState
	CurrentResource string
	JobID           int
	Progress        int // Records written
	StartedAt       time.Time
}

// WorkerState represents the state of a worker
type WorkerState int

const (
	WorkerStateIdle WorkerState = iota
	WorkerStateWorking
	WorkerStateBackingOff
	WorkerStateWriting
	WorkerStateDone
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateWorking:
		return "working"
	case WorkerStateBackingOff:
		return "backing off"
	case WorkerStateWriting:
		return "writing"
	case WorkerStateDone:
		return "done"
	default:
		return "unknown"
	}
}
