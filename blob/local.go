package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/stream"
)

// LocalStore keeps objects on the local filesystem under root/bucket/path.
// Used for on-prem deployments and integration tests.
type LocalStore struct {
	root       string
	queueDepth int
}

// NewLocalStore creates a filesystem-backed store rooted at root.
func NewLocalStore(root string, queueDepth int) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", root, err)
	}
	return &LocalStore{root: root, queueDepth: queueDepth}, nil
}

func (l *LocalStore) objectPath(bucket, path string) string {
	return filepath.Join(l.root, bucket, filepath.FromSlash(path))
}

func (l *LocalStore) GetBlob(ctx context.Context, bucket, path string, identity *common.CloudIdentity) ([]byte, error) {
	data, err := os.ReadFile(l.objectPath(bucket, path))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, path, ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, path, err)
	}
	return maybeGunzip(path, data)
}

func (l *LocalStore) PutBlob(ctx context.Context, bucket, path string, data []byte, identity *common.CloudIdentity) error {
	target := l.objectPath(bucket, path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, path, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, path, err)
	}
	return nil
}

func (l *LocalStore) GetBlobStream(req GetStreamRequest) (*stream.Pipe[[]byte], error) {
	if req.MaxBytesPerChunk < 1 {
		return nil, fmt.Errorf("max bytes per chunk must be >= 1, got %d", req.MaxBytesPerChunk)
	}
	pipe := stream.NewPipe[[]byte](l.queueDepth)
	go func() {
		f, err := os.Open(l.objectPath(req.Bucket, req.Path))
		if err != nil {
			pipe.MarkDone()
			if os.IsNotExist(err) {
				err = fmt.Errorf("get stream %s/%s: %w", req.Bucket, req.Path, ErrBlobNotFound)
			}
			pipe.Finish(err)
			return
		}
		defer f.Close()

		buf := make([]byte, req.MaxBytesPerChunk)
		for {
			n, readErr := f.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				for !pipe.TryPush(chunk) {
					if pipe.IsCancelled() {
						pipe.MarkDone()
						pipe.Finish(common.ErrStreamCancelled)
						return
					}
					runtime.Gosched()
				}
			}
			if readErr != nil {
				pipe.MarkDone()
				if errors.Is(readErr, io.EOF) {
					pipe.Finish(nil)
				} else {
					pipe.Finish(fmt.Errorf("get stream %s/%s: %w", req.Bucket, req.Path, readErr))
				}
				return
			}
		}
	}()
	return pipe, nil
}

func (l *LocalStore) PutBlobStream(req PutStreamRequest) (*stream.Pipe[[]byte], error) {
	pipe := stream.NewPipe[[]byte](l.queueDepth)
	target := l.objectPath(req.Bucket, req.Path)
	go func() {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			drainUntilSettled(pipe)
			pipe.Finish(fmt.Errorf("put stream %s/%s: %w", req.Bucket, req.Path, err))
			return
		}
		f, err := os.Create(target)
		if err != nil {
			drainUntilSettled(pipe)
			pipe.Finish(fmt.Errorf("put stream %s/%s: %w", req.Bucket, req.Path, err))
			return
		}
		if _, err := f.Write(req.InitialData); err != nil {
			f.Close()
			drainUntilSettled(pipe)
			pipe.Finish(fmt.Errorf("put stream %s/%s: %w", req.Bucket, req.Path, err))
			return
		}
		for {
			if chunk, ok := pipe.TryNext(); ok {
				if _, err := f.Write(chunk); err != nil {
					f.Close()
					pipe.Finish(fmt.Errorf("put stream %s/%s: %w", req.Bucket, req.Path, err))
					return
				}
				continue
			}
			if pipe.IsCancelled() {
				f.Close()
				if err := os.Remove(target); err != nil {
					log.Warn().Err(err).Str("path", target).Msg("Failed removing cancelled upload")
				}
				pipe.Finish(common.ErrStreamCancelled)
				return
			}
			if pipe.IsMarkedDone() {
				for {
					chunk, ok := pipe.TryNext()
					if !ok {
						break
					}
					if _, err := f.Write(chunk); err != nil {
						f.Close()
						pipe.Finish(fmt.Errorf("put stream %s/%s: %w", req.Bucket, req.Path, err))
						return
					}
				}
				pipe.Finish(f.Close())
				return
			}
			runtime.Gosched()
		}
	}()
	return pipe, nil
}

// drainUntilSettled consumes pushes until the caller marks done or cancels,
// so a failed open does not leave the pusher spinning against a full pipe.
func drainUntilSettled(pipe *stream.Pipe[[]byte]) {
	for !pipe.IsMarkedDone() && !pipe.IsCancelled() {
		if _, ok := pipe.TryNext(); !ok {
			runtime.Gosched()
		}
	}
}
