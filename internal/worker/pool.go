package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/matthieugras/pos-client/internal/api"
	"github.com/matthieugras/pos-client/internal/backoff"
	"github.com/matthieugras/pos-client/internal/logging"
	"github.com/matthieugras/pos-client/internal/output"
)

// PoolConfig configures the worker pool
type PoolConfig struct {
	NumWorkers  int
	Client      *api.Client
	Backoff     *backoff.GlobalBackoff
	FileManager *output.FileManager
}

// Pool manages a pool of fetch workers using pond. All workers share one
// api.Client, so an expired access token seen by several of them at once
// is refreshed a single time.
type Pool struct {
	pond       pond.Pool
	numWorkers int

	// Dependencies
	client      *api.Client
	backoff     *backoff.GlobalBackoff
	fileManager *output.FileManager

	// Results channel
	results chan JobResult

	// Status tracking
	statusMu      sync.RWMutex
	workerStatus  map[int]*WorkerStatus
	statusUpdates chan WorkerStatus
	workerIDPool  chan int // Pool of reusable worker IDs

	// First fatal error; set once, then the pool context is cancelled
	fatalOnce sync.Once
	fatalErr  error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a new worker pool using pond.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	pondPool := pond.NewPool(cfg.NumWorkers)

	// Create pool of reusable worker IDs for status tracking
	workerIDPool := make(chan int, cfg.NumWorkers)
	for i := range cfg.NumWorkers {
		workerIDPool <- i
	}

	return &Pool{
		pond:          pondPool,
		numWorkers:    cfg.NumWorkers,
		client:        cfg.Client,
		backoff:       cfg.Backoff,
		fileManager:   cfg.FileManager,
		results:       make(chan JobResult, cfg.NumWorkers*2),
		workerStatus:  make(map[int]*WorkerStatus),
		statusUpdates: make(chan WorkerStatus, cfg.NumWorkers*10),
		workerIDPool:  workerIDPool,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Submit adds a job to the pool.
func (p *Pool) Submit(job *Job) {
	p.pond.Submit(func() {
		p.executeJob(job)
	})
}

// SubmitAll submits multiple jobs
func (p *Pool) SubmitAll(jobs []*Job) {
	for _, job := range jobs {
		p.Submit(job)
	}
}

// executeJob processes a single job and sends results
func (p *Pool) executeJob(job *Job) {
	// Acquire a worker ID from the pool (blocks until one is available)
	workerID := <-p.workerIDPool
	defer func() {
		p.workerIDPool <- workerID
	}()

	p.updateStatus(workerID, WorkerStateWorking, job, 0)
	defer p.updateStatus(workerID, WorkerStateIdle, nil, 0)

	result := p.processJob(workerID, job)

	// A fatal result is delivered even though the pool context is cancelled
	if result.Fatal {
		p.results <- result
		return
	}
	select {
	case p.results <- result:
	case <-p.ctx.Done():
	}
}

func (p *Pool) processJob(workerID int, job *Job) JobResult {
	start := time.Now()
	result := JobResult{Job: job}
	ctx := p.ctx

	fail := func(err error) JobResult {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	// Check context
	if ctx.Err() != nil {
		if err := p.Err(); err != nil {
			return fail(fmt.Errorf("skipped: fetch aborted: %w", err))
		}
		return fail(ctx.Err())
	}

	// Wait if backoff is active
	if p.backoff.IsBackingOff() {
		p.updateStatus(workerID, WorkerStateBackingOff, job, 0)
		if err := p.backoff.WaitIfNeeded(ctx); err != nil {
			return fail(err)
		}
		p.updateStatus(workerID, WorkerStateWorking, job, 0)
	}

	logging.Info("Fetching %s (%s)", job.Resource.Name, job.Resource.Path)
	req, err := api.NewRequest(http.MethodGet, job.Resource.Path, nil)
	if err != nil {
		return fail(err)
	}
	req.Query = job.Resource.Query

	resp, err := p.client.DoWithRetry(ctx, req)
	if err != nil {
		logging.Error("Fetching %s failed: %v", job.Resource.Name, err)
		if api.IsSessionExpired(err) {
			// Nothing else can succeed without logging in again
			result.Fatal = true
			p.abort(err)
		}
		return fail(fmt.Errorf("fetch failed: %w", err))
	}

	p.updateStatus(workerID, WorkerStateWriting, job, 0)
	writer, outputPath, err := p.fileManager.GetWriter(job.Resource.Name)
	if err != nil {
		logging.Error("Failed to create output file for %s: %v", job.Resource.Name, err)
		return fail(fmt.Errorf("failed to create output file: %w", err))
	}
	result.OutputFile = outputPath

	count, err := writer.WriteRecords(resp.Body)
	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		logging.Error("Failed to write %s: %v", job.Resource.Name, err)
		return fail(fmt.Errorf("write failed: %w", err))
	}
	p.updateStatus(workerID, WorkerStateWriting, job, count)
	logging.Info("Wrote %d %s records to %s", count, job.Resource.Name, outputPath)

	result.RecordCount = count
	result.Duration = time.Since(start)
	return result
}

// abort records the first fatal error and stops all remaining jobs
func (p *Pool) abort(err error) {
	p.fatalOnce.Do(func() {
		p.fatalErr = err
		logging.Error("Fatal error encountered, stopping all jobs: %v", err)
		p.cancel()
	})
}

// Err returns the fatal error that aborted the pool, if any
func (p *Pool) Err() error {
	if p.ctx.Err() == nil {
		return nil
	}
	return p.fatalErr
}

// Results returns channel of completed results
func (p *Pool) Results() <-chan JobResult {
	return p.results
}

// StatusUpdates returns channel of worker status updates
func (p *Pool) StatusUpdates() <-chan WorkerStatus {
	return p.statusUpdates
}

// GetWorkerStatus returns the current status of all workers
func (p *Pool) GetWorkerStatus() []WorkerStatus {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()

	status := make([]WorkerStatus, 0, len(p.workerStatus))
	for _, ws := range p.workerStatus {
		status = append(status, *ws)
	}
	return status
}

// StopAndWait waits for submitted jobs to finish and closes the channels
func (p *Pool) StopAndWait() {
	p.pond.StopAndWait()
	p.cancel()
	close(p.results)
	close(p.statusUpdates)
}

// Stop cancels running jobs and drops queued ones
func (p *Pool) Stop() {
	p.cancel()
	p.pond.Stop()
}

func (p *Pool) updateStatus(id int, state WorkerState, job *Job, progress int) {
	status := WorkerStatus{
		ID:       id,
		State:    state,
		Progress: progress,
	}
	if job != nil {
		status.JobID = job.ID
		status.CurrentResource = job.Resource.Name
		status.StartedAt = time.Now()
	}

	p.statusMu.Lock()
	if prev, ok := p.workerStatus[id]; ok && job != nil && prev.JobID == job.ID && !prev.StartedAt.IsZero() {
		status.StartedAt = prev.StartedAt
	}
	p.workerStatus[id] = &status
	p.statusMu.Unlock()

	// Non-blocking send to status updates channel
	select {
	case p.statusUpdates <- status:
	default:
	}
}
