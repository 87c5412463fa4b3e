package generator

import (
	"context"
	"fmt"

	"github.com/pairworks/pairworker/blob"
	"github.com/pairworks/pairworker/common"
)

// UploadMappingRequest names the destination of a generated mapping.
type UploadMappingRequest struct {
	Bucket string
	// Prefix, when set, is joined with Name by a slash.
	Prefix   string
	Name     string
	Mapping  []byte
	Identity *common.CloudIdentity
}

// MappingUploader persists a generated plaintext→surrogate mapping.
type MappingUploader interface {
	UploadIDMapping(ctx context.Context, req UploadMappingRequest) error
}

// StoreMappingUploader uploads mappings with a bulk put.
type StoreMappingUploader struct {
	store blob.Store
}

// NewStoreMappingUploader creates an uploader over the given store.
func NewStoreMappingUploader(store blob.Store) *StoreMappingUploader {
	return &StoreMappingUploader{store: store}
}

func (u *StoreMappingUploader) UploadIDMapping(ctx context.Context, req UploadMappingRequest) error {
	path := req.Name
	if req.Prefix != "" {
		path = req.Prefix + "/" + req.Name
	}
	if err := u.store.PutBlob(ctx, req.Bucket, path, req.Mapping, req.Identity); err != nil {
		return fmt.Errorf("uploading mapping %s/%s: %w", req.Bucket, path, err)
	}
	return nil
}
