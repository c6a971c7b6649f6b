package downloader

import (
	"context"
	"sync"
	"time"

	"likegrab/pkg/logger"
	"likegrab/pkg/storage"
)

// Job is one media item to fetch
type Job struct {
	PostID string
	Index  int
	URL    string
}

// Result is the outcome of a fetch. On success Staged holds the content,
// still uncommitted.
type Result struct {
	Job         Job
	Staged      *storage.Staged
	ContentType string
	Attempts    int
	Err         error
	Duration    time.Duration
}

// Fetcher retrieves the content of a job
type Fetcher interface {
	Fetch(ctx context.Context, job Job) Result
}

// WorkerPool runs fetches on a fixed number of workers. Jobs go in through
// Jobs and outcomes come back on Results; the pool never touches the manifest.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	fetcher     Fetcher
	logger      logger.Logger
}

// NewWorkerPool creates a new download worker pool
func NewWorkerPool(numWorkers int, fetcher Fetcher, log logger.Logger) *WorkerPool {
	if log == nil {
		log = logger.GetLogger()
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job),
		resultQueue: make(chan Result, numWorkers),
		fetcher:     fetcher,
		logger:      log,
	}
}

// Start launches the workers. They stop when Stop is called.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Stop closes the job queue, waits for the workers and closes Results.
// Results must be drained concurrently or before calling Stop.
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.logger.Debug("Worker pool stopped")
}

// Jobs is the send side of the job queue
func (wp *WorkerPool) Jobs() chan<- Job {
	return wp.jobQueue
}

// Results returns the result channel for consuming fetch results
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

// Size returns the number of workers
func (wp *WorkerPool) Size() int {
	return wp.numWorkers
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		wp.logger.DebugWithFields("Worker processing job", map[string]interface{}{
			"worker_id": id,
			"post_id":   job.PostID,
			"index":     job.Index,
		})

		start := time.Now()
		result := wp.fetcher.Fetch(ctx, job)
		result.Job = job
		result.Duration = time.Since(start)

		// Every result is delivered: the consumer owns cleanup of staged files.
		wp.resultQueue <- result
	}
}
