// Package blob provides the object-store surface of the worker: bulk and
// streaming blob access over pluggable backends, and the Streamer that
// adapts backend streams to the callback/push contracts the jobs consume.
package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/stream"
)

// ErrBlobNotFound is returned when the requested object does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// GetStreamRequest describes a streaming download.
type GetStreamRequest struct {
	Bucket           string
	Path             string
	MaxBytesPerChunk int
	Identity         *common.CloudIdentity
}

// PutStreamRequest describes a streaming upload. InitialData is the first
// chunk and travels with the request so an upload always carries at least
// one byte of payload.
type PutStreamRequest struct {
	Bucket      string
	Path        string
	InitialData []byte
	Identity    *common.CloudIdentity
}

// Store is the object-store client. Bulk calls block; streaming calls hand
// back a pipe owned by the backend:
//
//   - GetBlobStream: the backend pushes chunks, then MarkDone and Finish
//     with the terminal status.
//   - PutBlobStream: the caller pushes chunks and MarkDone (or TryCancel);
//     the backend drains, persists, and Finishes with the terminal status.
type Store interface {
	GetBlob(ctx context.Context, bucket, path string, identity *common.CloudIdentity) ([]byte, error)
	PutBlob(ctx context.Context, bucket, path string, data []byte, identity *common.CloudIdentity) error
	GetBlobStream(req GetStreamRequest) (*stream.Pipe[[]byte], error)
	PutBlobStream(req PutStreamRequest) (*stream.Pipe[[]byte], error)
}

// maybeGunzip transparently decompresses objects stored with a .gz suffix.
func maybeGunzip(path string, data []byte) ([]byte, error) {
	if !strings.HasSuffix(path, ".gz") {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
