package blob

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/executor"
	"github.com/pairworks/pairworker/stream"
	"github.com/pairworks/pairworker/telemetry"
)

// ChunkCallback receives download chunks in arrival order. It is invoked
// serially from one poller goroutine: zero or more calls with done=false and
// a payload, then exactly one call with done=true carrying the terminal
// status. Callbacks must stay cheap; the poller does nothing else meanwhile.
type ChunkCallback func(chunk []byte, done bool, err error)

// GetStreamContext describes one streaming download and where its chunks go.
type GetStreamContext struct {
	Bucket           string
	Path             string
	MaxBytesPerChunk int
	OnChunk          ChunkCallback
	Identity         *common.CloudIdentity
}

// PutStreamContext describes one streaming upload.
type PutStreamContext struct {
	Bucket      string
	Path        string
	InitialData []byte
	Identity    *common.CloudIdentity
}

// Streamer adapts Store streams to the contracts jobs consume: a callback
// pump for downloads and a PutStream handle for uploads. Stop aborts all
// download pollers for process shutdown.
type Streamer struct {
	io    *executor.Pool
	store Store
	stop  atomic.Bool
}

// NewStreamer creates a streamer polling on the given I/O pool.
func NewStreamer(ioPool *executor.Pool, store Store) *Streamer {
	return &Streamer{io: ioPool, store: store}
}

// Stop makes every running download poller finish its callback with a
// cancelled status. Uploads in flight are left to their owners.
func (s *Streamer) Stop() {
	s.stop.Store(true)
}

// GetBlobStream starts a download and schedules a poller that forwards each
// chunk to gctx.OnChunk, ending with exactly one done=true invocation.
func (s *Streamer) GetBlobStream(gctx GetStreamContext) error {
	if gctx.OnChunk == nil {
		return fmt.Errorf("get stream %s/%s: OnChunk callback is required", gctx.Bucket, gctx.Path)
	}
	pipe, err := s.store.GetBlobStream(GetStreamRequest{
		Bucket:           gctx.Bucket,
		Path:             gctx.Path,
		MaxBytesPerChunk: gctx.MaxBytesPerChunk,
		Identity:         gctx.Identity,
	})
	if err != nil {
		return err
	}
	if err := s.io.Submit(func() { s.pollGetStream(pipe, gctx) }); err != nil {
		pipe.TryCancel()
		return err
	}
	return nil
}

func (s *Streamer) pollGetStream(pipe *stream.Pipe[[]byte], gctx GetStreamContext) {
	for {
		if s.stop.Load() {
			// Shutdown: tell the backend to stop producing and still
			// deliver the done-callback so callers pumping on it unblock.
			pipe.TryCancel()
			gctx.OnChunk(nil, true, common.ErrStreamCancelled)
			return
		}
		chunk, ok := pipe.TryNext()
		if !ok {
			if pipe.IsMarkedDone() {
				// A chunk can be pushed after the empty read but before
				// the done mark was observed; look once more.
				if chunk, ok = pipe.TryNext(); ok {
					s.deliver(gctx, chunk)
					continue
				}
				if pipe.IsFinished() {
					terminal := pipe.Result()
					if terminal != nil {
						telemetry.BlobStreamFailuresTotal.Inc()
					}
					gctx.OnChunk(nil, true, terminal)
					return
				}
			}
			runtime.Gosched()
			continue
		}
		s.deliver(gctx, chunk)
	}
}

func (s *Streamer) deliver(gctx GetStreamContext, chunk []byte) {
	telemetry.BlobChunksTotal.With("download").Inc()
	telemetry.BlobBytesTotal.With("download").Add(float64(len(chunk)))
	gctx.OnChunk(chunk, false, nil)
}

// PutStream is the push handle for one streaming upload. After any call
// returns a non-nil status the stream is settled: further calls are no-ops
// returning the same status.
type PutStream struct {
	pipe     *stream.Pipe[[]byte]
	mu       sync.Mutex
	settled  bool
	terminal error
}

// PutBlobStream opens an upload carrying pctx.InitialData as its first chunk
// and returns the push handle for the rest of the stream.
func (s *Streamer) PutBlobStream(pctx PutStreamContext) (*PutStream, error) {
	pipe, err := s.store.PutBlobStream(PutStreamRequest{
		Bucket:      pctx.Bucket,
		Path:        pctx.Path,
		InitialData: pctx.InitialData,
		Identity:    pctx.Identity,
	})
	if err != nil {
		return nil, err
	}
	telemetry.BlobChunksTotal.With("upload").Inc()
	telemetry.BlobBytesTotal.With("upload").Add(float64(len(pctx.InitialData)))
	return &PutStream{pipe: pipe}, nil
}

// Push enqueues one more chunk. It does not block while the backend queue
// has room; a full queue cancels the upload, waits for the backend to
// finish, and returns its terminal status.
func (p *PutStream) Push(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return p.terminal
	}
	if !p.pipe.TryPush(data) {
		p.pipe.TryCancel()
		return p.settle()
	}
	telemetry.BlobChunksTotal.With("upload").Inc()
	telemetry.BlobBytesTotal.With("upload").Add(float64(len(data)))
	return nil
}

// Close signals end-of-stream and blocks until the upload completes,
// returning the terminal status.
func (p *PutStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return p.terminal
	}
	p.pipe.MarkDone()
	return p.settle()
}

// Cancel aborts the upload because of cause and blocks until the backend
// reports completion. The returned status is the stream's own failure, not
// cause.
func (p *PutStream) Cancel(cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return p.terminal
	}
	log.Debug().Err(cause).Msg("Cancelling blob upload")
	p.pipe.TryCancel()
	return p.settle()
}

func (p *PutStream) settle() error {
	p.terminal = p.pipe.Result()
	p.settled = true
	if p.terminal != nil {
		telemetry.BlobStreamFailuresTotal.Inc()
	}
	return p.terminal
}
