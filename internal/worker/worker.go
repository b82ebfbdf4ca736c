package worker

import (
	"context"
	"sync"
)

type Task interface{}

type HandleFunc func(ctx context.Context, task Task) error

// Pool runs tasks on a fixed number of workers. The marker refresher runs
// it with a single worker so fetches never interleave. After Stop, both
// submit paths report rejection instead of panicking, so late callers on a
// draining server stay safe.
type Pool struct {
	numWorkers int
	tasks      chan Task
	handler    HandleFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(numWorkers int, bufferSize int, handler HandleFunc) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		tasks:      make(chan Task, bufferSize),
		handler:    handler,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.work(ctx)
	}
}

// work drains the task channel until it is closed. Tasks still queued when
// the context is cancelled are discarded rather than run.
func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()

	for task := range p.tasks {
		if ctx.Err() != nil {
			continue
		}
		p.handler(ctx, task)
	}
}

// Submit enqueues a task, blocking while the buffer is full. It reports
// whether the pool accepted the task; a stopped pool rejects.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.tasks <- task
	return true
}

// TrySubmit enqueues without blocking. A full buffer or a stopped pool
// drops the task and returns false, which coalesces bursts of identical
// refresh requests.
func (p *Pool) TrySubmit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
