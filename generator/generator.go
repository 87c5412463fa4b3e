package generator

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/blob"
	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/stream"
)

const metadataCacheSize = 128

// GeneratePublisherListRequest names the inputs and output of one generate
// job.
type GeneratePublisherListRequest struct {
	// BucketName holds both the plaintext list and the metadata blob.
	BucketName string
	// BlobName is the plaintext ID list object.
	BlobName string
	// MetadataName is the object whose body names the output bucket.
	MetadataName string
	// GeneratedListName is the object name for the uploaded mapping.
	GeneratedListName string
	Identity          *common.CloudIdentity
}

// Generator runs generate jobs: fetch the list, assign surrogates, upload
// the mapping.
type Generator struct {
	fetcher   ListFetcher
	encryptor *RandomIDEncryptor
	uploader  MappingUploader
	store     blob.Store
	// Metadata blobs change rarely relative to job volume; cache the
	// bucket-name lookups.
	metaCache *lru.Cache[string, string]
}

// NewGenerator wires a generator from its collaborators.
func NewGenerator(fetcher ListFetcher, encryptor *RandomIDEncryptor, uploader MappingUploader, store blob.Store) (*Generator, error) {
	cache, err := lru.New[string, string](metadataCacheSize)
	if err != nil {
		return nil, err
	}
	return &Generator{
		fetcher:   fetcher,
		encryptor: encryptor,
		uploader:  uploader,
		store:     store,
		metaCache: cache,
	}, nil
}

// GeneratePublisherList reads the publisher's plaintext list from
// BucketName/BlobName, assigns every ID a fresh surrogate, and uploads the
// mapping to the bucket named by BucketName/MetadataName.
func (g *Generator) GeneratePublisherList(ctx context.Context, req GeneratePublisherListRequest) error {
	ids, err := g.fetcher.FetchPublisherIDs(ctx, FetchIDsRequest{
		Bucket:   req.BucketName,
		Path:     req.BlobName,
		Identity: req.Identity,
	})
	if err != nil {
		return fmt.Errorf("fetching publisher IDs: %w", err)
	}

	outputBucket, err := g.outputBucketName(ctx, req)
	if err != nil {
		return fmt.Errorf("getting output bucket name: %w", err)
	}
	log.Info().Int("ids", len(ids)).Str("output_bucket", outputBucket).Msg("Assigning surrogates")

	pairs, err := g.assignSurrogates(ids)
	if err != nil {
		return fmt.Errorf("assigning surrogates: %w", err)
	}

	var mapping strings.Builder
	mapping.Grow(len(pairs) * 48)
	for _, pair := range pairs {
		mapping.WriteString(pair.Plaintext)
		mapping.WriteByte(',')
		mapping.WriteString(pair.SurrogateHex())
		mapping.WriteByte('\n')
	}

	return g.uploader.UploadIDMapping(ctx, UploadMappingRequest{
		Bucket:   outputBucket,
		Name:     req.GeneratedListName,
		Mapping:  []byte(mapping.String()),
		Identity: req.Identity,
	})
}

// outputBucketName reads the metadata blob whose raw body is the bucket
// name, consulting the cache first.
func (g *Generator) outputBucketName(ctx context.Context, req GeneratePublisherListRequest) (string, error) {
	cacheKey := req.BucketName + "/" + req.MetadataName
	if name, ok := g.metaCache.Get(cacheKey); ok {
		return name, nil
	}
	data, err := g.store.GetBlob(ctx, req.BucketName, req.MetadataName, req.Identity)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", fmt.Errorf("metadata blob %s is empty", cacheKey)
	}
	g.metaCache.Add(cacheKey, name)
	return name, nil
}

// assignSurrogates pushes every plaintext through the encryptor and drains
// the paired stream. Emission order is the encryptor's, not the input's.
func (g *Generator) assignSurrogates(ids []string) ([]SurrogatePair, error) {
	pctx := stream.NewPipe[string](len(ids) + 1)
	if err := g.encryptor.Encrypt(pctx); err != nil {
		return nil, err
	}

	// Push the plaintexts from a dedicated worker; the pipe is sized to the
	// run so a failed push is an invariant violation, not backpressure.
	var pushErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			if !pctx.TryPush(id) {
				pushErr = common.ErrQueueFull
				pctx.MarkDone()
				return
			}
		}
		pctx.MarkDone()
	}()

	cctx := stream.NewPipe[SurrogatePair](len(ids) + 1)
	if err := g.encryptor.StreamEncryptedIDs(cctx); err != nil {
		wg.Wait()
		pctx.TryCancel()
		return nil, err
	}

	pairs := make([]SurrogatePair, 0, len(ids))
	for {
		pair, ok := cctx.TryNext()
		if ok {
			pairs = append(pairs, pair)
			continue
		}
		if cctx.IsFinished() {
			break
		}
		runtime.Gosched()
	}
	// Responses can be enqueued between the last empty read and the finish.
	for {
		pair, ok := cctx.TryNext()
		if !ok {
			break
		}
		pairs = append(pairs, pair)
	}

	wg.Wait()
	if pushErr != nil {
		return nil, fmt.Errorf("pushing plaintexts: %w", pushErr)
	}
	if err := pctx.Result(); err != nil {
		return nil, fmt.Errorf("assignment worker: %w", err)
	}
	if err := cctx.Result(); err != nil {
		return nil, fmt.Errorf("streaming worker: %w", err)
	}
	return pairs, nil
}
