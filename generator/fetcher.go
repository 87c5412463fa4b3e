package generator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/blob"
	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/csvstream"
)

const listCSVColumns = 1

// FetchIDsRequest names the publisher list blob to read.
type FetchIDsRequest struct {
	Bucket   string
	Path     string
	Identity *common.CloudIdentity
}

// ListFetcher reads a publisher's plaintext ID list.
type ListFetcher interface {
	FetchPublisherIDs(ctx context.Context, req FetchIDsRequest) ([]string, error)
}

// StoreListFetcher fetches the list from the object store and parses it as a
// one-column CSV.
type StoreListFetcher struct {
	store blob.Store
}

// NewStoreListFetcher creates a fetcher over the given store.
func NewStoreListFetcher(store blob.Store) *StoreListFetcher {
	return &StoreListFetcher{store: store}
}

func (f *StoreListFetcher) FetchPublisherIDs(ctx context.Context, req FetchIDsRequest) ([]string, error) {
	data, err := f.store.GetBlob(ctx, req.Bucket, req.Path, req.Identity)
	if err != nil {
		log.Error().Err(err).Str("bucket", req.Bucket).Str("path", req.Path).Msg("Failed getting ID blob")
		return nil, fmt.Errorf("%w: %s/%s: %w", common.ErrPublisherListOpeningFile, req.Bucket, req.Path, err)
	}

	config, err := csvstream.NewParserConfig(listCSVColumns, true,
		csvstream.DefaultDelimiter, csvstream.DefaultLineBreak, csvstream.MaxBufferedBytesCap)
	if err != nil {
		return nil, err
	}
	parser := csvstream.NewStreamParser(config)
	if err := parser.AddChunk(data); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", common.ErrPublisherListParsingData, req.Bucket, req.Path, err)
	}

	var ids []string
	for parser.HasRow() {
		row, err := parser.NextRow()
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %w", common.ErrPublisherListParsingData, req.Bucket, req.Path, err)
		}
		id, err := row.Column(0)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %w", common.ErrPublisherListParsingData, req.Bucket, req.Path, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
