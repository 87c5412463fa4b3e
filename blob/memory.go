package blob

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/stream"
)

// MemoryStore is an in-process Store used by tests and local development.
// Streams run on their own goroutines with the same pipe contract as the
// real backends, including injectable terminal failures.
type MemoryStore struct {
	mu         sync.Mutex
	buckets    map[string]map[string][]byte
	streamErrs map[string]error
	queueDepth int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:    make(map[string]map[string][]byte),
		streamErrs: make(map[string]error),
		queueDepth: 16,
	}
}

func objectKey(bucket, path string) string {
	return bucket + "/" + path
}

// Seed stores an object directly, bypassing the Store interface.
func (m *MemoryStore) Seed(bucket, path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string][]byte)
	}
	m.buckets[bucket][path] = append([]byte(nil), data...)
}

// Object returns a stored object and whether it exists.
func (m *MemoryStore) Object(bucket, path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.buckets[bucket][path]
	return data, ok
}

// FailStreamWith makes the download stream of bucket/path terminate with err
// after delivering whatever data exists.
func (m *MemoryStore) FailStreamWith(bucket, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErrs[objectKey(bucket, path)] = err
}

func (m *MemoryStore) GetBlob(ctx context.Context, bucket, path string, identity *common.CloudIdentity) ([]byte, error) {
	m.mu.Lock()
	data, ok := m.buckets[bucket][path]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, path, ErrBlobNotFound)
	}
	return maybeGunzip(path, append([]byte(nil), data...))
}

func (m *MemoryStore) PutBlob(ctx context.Context, bucket, path string, data []byte, identity *common.CloudIdentity) error {
	m.Seed(bucket, path, data)
	return nil
}

func (m *MemoryStore) GetBlobStream(req GetStreamRequest) (*stream.Pipe[[]byte], error) {
	if req.MaxBytesPerChunk < 1 {
		return nil, fmt.Errorf("max bytes per chunk must be >= 1, got %d", req.MaxBytesPerChunk)
	}
	pipe := stream.NewPipe[[]byte](m.queueDepth)

	m.mu.Lock()
	data, ok := m.buckets[req.Bucket][req.Path]
	failure := m.streamErrs[objectKey(req.Bucket, req.Path)]
	m.mu.Unlock()

	go func() {
		if !ok && failure == nil {
			pipe.MarkDone()
			pipe.Finish(fmt.Errorf("get stream %s/%s: %w", req.Bucket, req.Path, ErrBlobNotFound))
			return
		}
		for start := 0; start < len(data); start += req.MaxBytesPerChunk {
			end := start + req.MaxBytesPerChunk
			if end > len(data) {
				end = len(data)
			}
			chunk := append([]byte(nil), data[start:end]...)
			for !pipe.TryPush(chunk) {
				if pipe.IsCancelled() {
					pipe.MarkDone()
					pipe.Finish(common.ErrStreamCancelled)
					return
				}
				runtime.Gosched()
			}
		}
		pipe.MarkDone()
		pipe.Finish(failure)
	}()
	return pipe, nil
}

func (m *MemoryStore) PutBlobStream(req PutStreamRequest) (*stream.Pipe[[]byte], error) {
	pipe := stream.NewPipe[[]byte](m.queueDepth)
	go func() {
		assembled := append([]byte(nil), req.InitialData...)
		for {
			if chunk, ok := pipe.TryNext(); ok {
				assembled = append(assembled, chunk...)
				continue
			}
			if pipe.IsCancelled() {
				pipe.Finish(common.ErrStreamCancelled)
				return
			}
			if pipe.IsMarkedDone() {
				// Drain anything pushed between the empty read and the
				// done mark.
				for {
					chunk, ok := pipe.TryNext()
					if !ok {
						break
					}
					assembled = append(assembled, chunk...)
				}
				m.Seed(req.Bucket, req.Path, assembled)
				pipe.Finish(nil)
				return
			}
			runtime.Gosched()
		}
	}()
	return pipe, nil
}
