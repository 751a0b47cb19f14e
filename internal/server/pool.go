package server

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/handset/host/internal/logging"
)

// Defaults for NewPool.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Pool runs jobs on a fixed set of workers fed by a bounded queue.
// Submission never blocks: when the queue is full the job is dropped.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup

	// mu guards closed against concurrent TrySubmit and Close.
	mu     sync.RWMutex
	closed bool

	completed atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// NewPool starts workers goroutines with a queue of queueSize jobs.
// Non-positive arguments take the defaults.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool{jobs: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

// run executes one job, containing any panic to that job.
func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			logging.Errorf("server: worker recovered from panic: %v\n%s", r, debug.Stack())
		}
	}()
	job()
	p.completed.Add(1)
}

// TrySubmit queues job without blocking and reports whether it was accepted.
func (p *Pool) TrySubmit(job func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Close stops accepting jobs, drains the queue and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Completed int64 `json:"completed"`
	Dropped   int64 `json:"dropped"`
	Panics    int64 `json:"panics"`
	Queued    int   `json:"queued"`
}

// Stats returns current counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Completed: p.completed.Load(),
		Dropped:   p.dropped.Load(),
		Panics:    p.panics.Load(),
		Queued:    len(p.jobs),
	}
}
