// Package executor provides the fixed-size worker pools the streaming
// components run on. The worker keeps two pools: one for CPU-bound tasks
// (surrogate assignment) and one for I/O-bound tasks (blob stream polling).
package executor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Pool is a fixed set of worker goroutines fed by a bounded task FIFO.
// Submit fails fast when the queue is full; it never blocks the caller.
type Pool struct {
	name    string
	tasks   chan func()
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewPool starts workers goroutines draining a queue of queueDepth tasks.
func NewPool(name string, workers, queueDepth int) *Pool {
	p := &Pool{
		name:  name,
		tasks: make(chan func(), queueDepth),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	log.Debug().Str("pool", name).Int("workers", workers).Int("queue_depth", queueDepth).Msg("Executor pool started")
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues a task for execution. It returns an error if the pool has
// been stopped or the task queue is full.
func (p *Pool) Submit(task func()) error {
	if p.stopped.Load() {
		return fmt.Errorf("executor pool %s is stopped", p.name)
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return fmt.Errorf("executor pool %s queue is full", p.name)
	}
}

// Stop drains already-queued tasks and waits for workers to exit.
// Submissions racing with Stop may be dropped; callers stop producers first.
func (p *Pool) Stop() {
	if p.stopped.Swap(true) {
		return
	}
	close(p.tasks)
	p.wg.Wait()
	log.Debug().Str("pool", p.name).Msg("Executor pool stopped")
}
