package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/cfg"
	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/stream"
)

// S3Store talks to any S3-compatible backend. The CloudIdentity on requests
// is advisory here: credential exchange against a workload identity pool is
// the credential provider's concern, not the data path's.
type S3Store struct {
	client     *minio.Client
	queueDepth int
}

// NewS3Store builds a store from the s3 section of the configuration.
func NewS3Store(conf cfg.S3Configuration, queueDepth int) (*S3Store, error) {
	client, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, conf.SessionToken),
		Secure: conf.UseSSL,
		Region: conf.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client for %s: %w", conf.Endpoint, err)
	}
	return &S3Store{client: client, queueDepth: queueDepth}, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

func (s *S3Store) GetBlob(ctx context.Context, bucket, path string, identity *common.CloudIdentity) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("get %s/%s: %w", bucket, path, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("get %s/%s: %w", bucket, path, err)
	}
	return maybeGunzip(path, data)
}

func (s *S3Store) PutBlob(ctx context.Context, bucket, path string, data []byte, identity *common.CloudIdentity) error {
	_, err := s.client.PutObject(ctx, bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, path, err)
	}
	return nil
}

func (s *S3Store) GetBlobStream(req GetStreamRequest) (*stream.Pipe[[]byte], error) {
	if req.MaxBytesPerChunk < 1 {
		return nil, fmt.Errorf("max bytes per chunk must be >= 1, got %d", req.MaxBytesPerChunk)
	}
	pipe := stream.NewPipe[[]byte](s.queueDepth)
	go func() {
		obj, err := s.client.GetObject(context.Background(), req.Bucket, req.Path, minio.GetObjectOptions{})
		if err != nil {
			pipe.MarkDone()
			pipe.Finish(fmt.Errorf("get stream %s/%s: %w", req.Bucket, req.Path, err))
			return
		}
		defer obj.Close()

		buf := make([]byte, req.MaxBytesPerChunk)
		for {
			n, readErr := obj.Read(buf)
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
				switch {
				case errors.Is(readErr, io.EOF):
					pipe.Finish(nil)
				case isNoSuchKey(readErr):
					pipe.Finish(fmt.Errorf("get stream %s/%s: %w", req.Bucket, req.Path, ErrBlobNotFound))
				default:
					pipe.Finish(fmt.Errorf("get stream %s/%s: %w", req.Bucket, req.Path, readErr))
				}
				return
			}
		}
	}()
	return pipe, nil
}

func (s *S3Store) PutBlobStream(req PutStreamRequest) (*stream.Pipe[[]byte], error) {
	pipe := stream.NewPipe[[]byte](s.queueDepth)
	pr, pw := io.Pipe()

	// Feed goroutine: move chunks from the pipe into the object writer.
	go func() {
		if _, err := pw.Write(req.InitialData); err != nil {
			pw.CloseWithError(err)
			return
		}
		for {
			if chunk, ok := pipe.TryNext(); ok {
				if _, err := pw.Write(chunk); err != nil {
					pw.CloseWithError(err)
					return
				}
				continue
			}
			if pipe.IsCancelled() {
				pw.CloseWithError(common.ErrStreamCancelled)
				return
			}
			if pipe.IsMarkedDone() {
				for {
					chunk, ok := pipe.TryNext()
					if !ok {
						break
					}
					if _, err := pw.Write(chunk); err != nil {
						pw.CloseWithError(err)
						return
					}
				}
				pw.Close()
				return
			}
			runtime.Gosched()
		}
	}()

	// Upload goroutine: stream the reader into the backend and record the
	// terminal status.
	go func() {
		_, err := s.client.PutObject(context.Background(), req.Bucket, req.Path, pr, -1, minio.PutObjectOptions{})
		if err != nil {
			log.Debug().Err(err).Str("bucket", req.Bucket).Str("path", req.Path).Msg("Streaming upload failed")
			pipe.Finish(fmt.Errorf("put stream %s/%s: %w", req.Bucket, req.Path, err))
			return
		}
		pipe.Finish(nil)
	}()
	return pipe, nil
}
