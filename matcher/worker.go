package matcher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/blob"
	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/csvstream"
	"github.com/pairworks/pairworker/telemetry"
)

const (
	publisherCSVColumns  = 2
	advertiserCSVColumns = 1
	// Advertiser lists are streamed in large chunks; the parser cap bounds
	// total buffering regardless.
	advertiserBytesPerChunk = 80 * 1024 * 1024
)

// ExportMatchesRequest names the blobs one match job touches.
type ExportMatchesRequest struct {
	PublisherMappingBucket string
	PublisherMappingPath   string
	AdvertiserListBucket   string
	AdvertiserListPath     string
	OutputBucket           string
	MatchedIDsPath         string
	PublisherIdentity      *common.CloudIdentity
	AdvertiserIdentity     *common.CloudIdentity
}

// MatchWorker loads a publisher mapping, streams the advertiser list through
// it, and streams the surrogates of matched IDs to the output bucket.
type MatchWorker struct {
	store    blob.Store
	streamer *blob.Streamer
}

// NewMatchWorker creates a match worker over the given store and streamer.
func NewMatchWorker(store blob.Store, streamer *blob.Streamer) *MatchWorker {
	return &MatchWorker{store: store, streamer: streamer}
}

// downloadState carries the advertiser stream's outcome from the chunk
// callback to the pump loop. The first error wins; the terminal status only
// lands if nothing failed earlier.
type downloadState struct {
	mu          sync.Mutex
	err         error
	allReceived atomic.Bool
}

func (s *downloadState) recordError(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *downloadState) firstError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// cancelIfStarted aborts the upload if one was opened.
func cancelIfStarted(put *blob.PutStream, cause error) {
	if put != nil {
		put.Cancel(cause)
	}
}

// ExportMatches runs one match job.
func (w *MatchWorker) ExportMatches(ctx context.Context, req ExportMatchesRequest) error {
	table := NewTable[string, string]()

	mapping, err := w.store.GetBlob(ctx, req.PublisherMappingBucket, req.PublisherMappingPath, req.PublisherIdentity)
	if err != nil {
		return fmt.Errorf("fetching publisher mapping %s/%s: %w", req.PublisherMappingBucket, req.PublisherMappingPath, err)
	}
	filter, err := parseMappingIntoTable(mapping, table)
	if err != nil {
		return fmt.Errorf("parsing publisher mapping %s/%s: %w", req.PublisherMappingBucket, req.PublisherMappingPath, err)
	}
	log.Info().Int("mapping_entries", table.Len()).
		Str("bucket", req.AdvertiserListBucket).Str("path", req.AdvertiserListPath).
		Msg("Mapping loaded, streaming advertiser list")

	parserConfig, err := csvstream.NewParserConfig(advertiserCSVColumns, true,
		csvstream.DefaultDelimiter, csvstream.DefaultLineBreak, csvstream.MaxBufferedBytesCap)
	if err != nil {
		return err
	}
	parser := csvstream.NewStreamParser(parserConfig)

	state := &downloadState{}
	err = w.streamer.GetBlobStream(blob.GetStreamContext{
		Bucket:           req.AdvertiserListBucket,
		Path:             req.AdvertiserListPath,
		MaxBytesPerChunk: advertiserBytesPerChunk,
		Identity:         req.AdvertiserIdentity,
		OnChunk: func(chunk []byte, done bool, chunkErr error) {
			if done {
				if chunkErr != nil {
					state.recordError(chunkErr)
				}
				state.allReceived.Store(true)
				return
			}
			if state.firstError() != nil {
				// Already failed; drop the rest of the stream.
				return
			}
			if err := feedChunk(parser, chunk); err != nil {
				state.recordError(err)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("opening advertiser stream %s/%s: %w", req.AdvertiserListBucket, req.AdvertiserListPath, err)
	}

	// Pump: drain rows while chunks arrive, then once more for rows parsed
	// between the last drain and the done mark.
	var put *blob.PutStream
	for !state.allReceived.Load() {
		put, err = w.exportRows(req, parser, table, filter, put)
		if err != nil {
			return err
		}
		runtime.Gosched()
	}
	if streamErr := state.firstError(); streamErr != nil {
		cancelIfStarted(put, streamErr)
		return streamErr
	}
	put, err = w.exportRows(req, parser, table, filter, put)
	if err != nil {
		return err
	}

	if put == nil {
		// Nothing matched: no output object is created and the job still
		// succeeds. Downstream tooling treats the absent blob as "empty".
		log.Info().Str("bucket", req.OutputBucket).Str("path", req.MatchedIDsPath).
			Msg("No advertiser IDs matched, skipping output upload")
		return nil
	}
	return put.Close()
}

// feedChunk pushes one chunk into the parser, retrying while the buffer is
// at capacity; the pump loop drains it concurrently.
func feedChunk(parser *csvstream.StreamParser, chunk []byte) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Millisecond
	policy.MaxInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 2 * time.Minute

	return backoff.Retry(func() error {
		err := parser.AddChunk(chunk)
		if err != nil && !common.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// parseMappingIntoTable loads the two-column publisher mapping into the
// table and builds the membership prefilter over its keys.
func parseMappingIntoTable(mapping []byte, table *Table[string, string]) (*prefilter, error) {
	config, err := csvstream.NewParserConfig(publisherCSVColumns, true,
		csvstream.DefaultDelimiter, csvstream.DefaultLineBreak, csvstream.MaxBufferedBytesCap)
	if err != nil {
		return nil, err
	}
	parser := csvstream.NewStreamParser(config)
	if err := parser.AddChunk(mapping); err != nil {
		return nil, err
	}

	// Rough sizing: a mapping row is at least a surrogate plus separators.
	filter := newPrefilter(len(mapping)/34 + 1)
	for parser.HasRow() {
		row, err := parser.NextRow()
		if err != nil {
			return nil, err
		}
		plaintext, err := row.Column(0)
		if err != nil {
			return nil, err
		}
		surrogate, err := row.Column(1)
		if err != nil {
			return nil, err
		}
		// A duplicate key means the mapping is corrupt.
		if err := table.Add(plaintext, surrogate); err != nil {
			return nil, fmt.Errorf("mapping key %s: %w", common.IDDigest(plaintext), err)
		}
		filter.add(plaintext)
	}
	return filter, nil
}

// exportRows drains every ready row, marks matches, and streams matched
// surrogates to the output. The upload is opened lazily on the first match;
// any error cancels it.
func (w *MatchWorker) exportRows(req ExportMatchesRequest, parser *csvstream.StreamParser,
	table *Table[string, string], filter *prefilter, put *blob.PutStream) (*blob.PutStream, error) {

	for parser.HasRow() {
		row, err := parser.NextRow()
		if err != nil {
			if errors.Is(err, common.ErrCSVStreamParserNoRowAvailable) {
				// The producer cannot race rows away from the single
				// consumer; HasRow guaranteed one.
				break
			}
			cancelIfStarted(put, err)
			return put, err
		}
		plaintext, err := row.Column(0)
		if err != nil {
			cancelIfStarted(put, err)
			return put, err
		}
		if !filter.mightContain(plaintext) {
			telemetry.MatchMissesTotal.Inc()
			continue
		}
		surrogate, err := table.MarkMatched(plaintext)
		if errors.Is(err, common.ErrMatchTableElementDoesNotExist) {
			telemetry.MatchMissesTotal.Inc()
			continue
		}
		if err != nil {
			cancelIfStarted(put, err)
			return put, err
		}

		telemetry.MatchHitsTotal.Inc()
		line := surrogate + "\n"
		if put == nil {
			put, err = w.streamer.PutBlobStream(blob.PutStreamContext{
				Bucket:      req.OutputBucket,
				Path:        req.MatchedIDsPath,
				InitialData: []byte(line),
				Identity:    req.PublisherIdentity,
			})
			if err != nil {
				return nil, fmt.Errorf("opening match output %s/%s: %w", req.OutputBucket, req.MatchedIDsPath, err)
			}
			continue
		}
		if err := put.Push([]byte(line)); err != nil {
			return put, err
		}
	}
	return put, nil
}
