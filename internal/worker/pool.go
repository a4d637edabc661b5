package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// Skipper is implemented by jobs that report a result when they are never started
type Skipper interface {
	Skip(err error) Result
}

// Pool runs a fixed number of workers, each draining its own job list in order
type Pool struct {
	workers    int
	queues     [][]Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
}

// NewPool creates a pool of workers bound to ctx.
// Cancelling ctx stops workers from starting further jobs; running jobs finish.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool{
		workers:    workers,
		queues:     make([][]Job, workers),
		results:    make(chan Result, workers*2), // Buffered to prevent blocking
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Workers returns the pool size
func (p *Pool) Workers() int {
	return p.workers
}

// Assign appends jobs to a worker's list. Call before Start.
func (p *Pool) Assign(worker int, jobs ...Job) {
	p.queues[worker%p.workers] = append(p.queues[worker%p.workers], jobs...)
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// worker runs its queue one job at a time
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for i, job := range p.queues[id] {
		if err := p.ctx.Err(); err != nil {
			p.skip(p.queues[id][i:], err)
			return
		}
		// Started jobs run to completion
		p.results <- job.Execute(context.WithoutCancel(p.ctx))
	}
}

// skip reports jobs that were never started
func (p *Pool) skip(jobs []Job, err error) {
	for _, job := range jobs {
		if s, ok := job.(Skipper); ok {
			p.results <- s.Skip(err)
		}
	}
}

// Wait waits for all workers to finish and returns the results
func (p *Pool) Wait() []Result {
	// Use a goroutine to wait for workers and close results
	go func() {
		p.wg.Wait()
		p.closeResults()
	}()

	// Collect all results
	var results []Result
	for result := range p.results {
		results = append(results, result)
	}

	p.cancelFunc()
	return results
}

// Shutdown stops workers from starting new jobs
func (p *Pool) Shutdown() {
	p.cancelFunc()
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
