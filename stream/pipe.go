// Package stream provides the bounded single-producer/single-consumer pipes
// that connect stream stages: blob download → parser, parser → upload, and
// the surrogate assigner's request/response channels. A pipe carries data
// items one way plus a single-shot terminal status.
package stream

import (
	"sync/atomic"

	"github.com/jizhuozhi/go-future"
	"github.com/puzpuzpuz/xsync/v3"
)

// Pipe is a bounded FIFO of items plus stream lifecycle state. The pushing
// side calls TryPush then MarkDone; the reading side drains with TryNext.
// Either side may request an abort with TryCancel. The side that owns the
// stream resolves the terminal status exactly once via Finish: the reader
// for uploads and assigner requests, the pusher for downloads and assigner
// responses.
type Pipe[T any] struct {
	queue     *xsync.MPMCQueueOf[T]
	done      atomic.Bool
	cancelled atomic.Bool
	finished  atomic.Bool
	promise   *future.Promise[error]
	result    *future.Future[error]
}

// NewPipe creates a pipe holding at most capacity in-flight items.
func NewPipe[T any](capacity int) *Pipe[T] {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pipe[T]{
		queue:   xsync.NewMPMCQueueOf[T](capacity),
		promise: future.NewPromise[error](),
	}
	p.result = p.promise.Future()
	return p
}

// TryPush enqueues an item without blocking. False means the pipe is full.
func (p *Pipe[T]) TryPush(v T) bool {
	return p.queue.TryEnqueue(v)
}

// TryNext dequeues one item without blocking. False means the pipe is
// currently empty; check IsMarkedDone to tell exhaustion from starvation.
func (p *Pipe[T]) TryNext() (T, bool) {
	return p.queue.TryDequeue()
}

// MarkDone signals that no further items will be pushed. Items already
// enqueued remain readable.
func (p *Pipe[T]) MarkDone() {
	p.done.Store(true)
}

func (p *Pipe[T]) IsMarkedDone() bool {
	return p.done.Load()
}

// TryCancel requests the owning side to abort. The owner observes the flag
// between drains and resolves the terminal status with a failure.
func (p *Pipe[T]) TryCancel() {
	p.cancelled.Store(true)
}

func (p *Pipe[T]) IsCancelled() bool {
	return p.cancelled.Load()
}

// Finish resolves the terminal status. Only the first call wins; later calls
// are no-ops so finalize-on-error paths can race finalize-on-done paths.
func (p *Pipe[T]) Finish(err error) {
	if p.finished.Swap(true) {
		return
	}
	p.promise.Set(err, err)
}

func (p *Pipe[T]) IsFinished() bool {
	return p.finished.Load()
}

// Result blocks until Finish has been called and returns the terminal status.
func (p *Pipe[T]) Result() error {
	_, err := p.result.Get()
	return err
}
