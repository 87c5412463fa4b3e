package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairworks/pairworker/blob"
	"github.com/pairworks/pairworker/executor"
)

func newTestWorker(t *testing.T, store *blob.MemoryStore) *MatchWorker {
	t.Helper()
	pool := executor.NewPool("io-test", 4, 64)
	t.Cleanup(pool.Stop)
	return NewMatchWorker(store, blob.NewStreamer(pool, store))
}

func matchRequest() ExportMatchesRequest {
	return ExportMatchesRequest{
		PublisherMappingBucket: "pub",
		PublisherMappingPath:   "mapping.csv",
		AdvertiserListBucket:   "adv",
		AdvertiserListPath:     "list.csv",
		OutputBucket:           "out",
		MatchedIDsPath:         "matches.csv",
	}
}

func TestExportMatchesHappyPath(t *testing.T) {
	store := blob.NewMemoryStore()
	store.Seed("pub", "mapping.csv", []byte("key1,val1\nkey2,val2\nkey3,val3\n"))
	store.Seed("adv", "list.csv", []byte("key1\nkey3\n"))
	w := newTestWorker(t, store)

	require.NoError(t, w.ExportMatches(context.Background(), matchRequest()))

	data, ok := store.Object("out", "matches.csv")
	require.True(t, ok)
	assert.Equal(t, "val1\nval3\n", string(data))
}

func TestExportMatchesOutputOrderFollowsAdvertiserList(t *testing.T) {
	store := blob.NewMemoryStore()
	store.Seed("pub", "mapping.csv", []byte("key1,val1\nkey2,val2\nkey3,val3\n"))
	store.Seed("adv", "list.csv", []byte("key3\nkey1\nkey2\n"))
	w := newTestWorker(t, store)

	require.NoError(t, w.ExportMatches(context.Background(), matchRequest()))

	data, ok := store.Object("out", "matches.csv")
	require.True(t, ok)
	assert.Equal(t, "val3\nval1\nval2\n", string(data))
}

func TestExportMatchesNoHitsUploadsNothing(t *testing.T) {
	store := blob.NewMemoryStore()
	store.Seed("pub", "mapping.csv", []byte("key1,val1\nkey2,val2\nkey3,val3\n"))
	store.Seed("adv", "list.csv", []byte("keyZ\n"))
	w := newTestWorker(t, store)

	require.NoError(t, w.ExportMatches(context.Background(), matchRequest()))

	_, ok := store.Object("out", "matches.csv")
	assert.False(t, ok)
}

func TestExportMatchesDownloadFailureCancelsUpload(t *testing.T) {
	store := blob.NewMemoryStore()
	store.Seed("pub", "mapping.csv", []byte("key1,val1\nkey2,val2\nkey3,val3\n"))
	store.Seed("adv", "list.csv", []byte("key1\n"))
	transportErr := errors.New("transport failure 12345")
	store.FailStreamWith("adv", "list.csv", transportErr)
	w := newTestWorker(t, store)

	err := w.ExportMatches(context.Background(), matchRequest())
	assert.ErrorIs(t, err, transportErr)

	// The cancelled upload left no output object behind.
	_, ok := store.Object("out", "matches.csv")
	assert.False(t, ok)
}

func TestExportMatchesMissingMapping(t *testing.T) {
	store := blob.NewMemoryStore()
	store.Seed("adv", "list.csv", []byte("key1\n"))
	w := newTestWorker(t, store)

	err := w.ExportMatches(context.Background(), matchRequest())
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)
}

func TestExportMatchesDuplicateMappingKeyFails(t *testing.T) {
	store := blob.NewMemoryStore()
	store.Seed("pub", "mapping.csv", []byte("key1,val1\nkey1,val9\n"))
	store.Seed("adv", "list.csv", []byte("key1\n"))
	w := newTestWorker(t, store)

	err := w.ExportMatches(context.Background(), matchRequest())
	assert.Error(t, err)
}

func TestExportMatchesMalformedMappingFails(t *testing.T) {
	store := blob.NewMemoryStore()
	store.Seed("pub", "mapping.csv", []byte("key1,val1,extra\n"))
	w := newTestWorker(t, store)

	err := w.ExportMatches(context.Background(), matchRequest())
	assert.Error(t, err)
}

func TestExportMatchesDuplicateAdvertiserIDEmitsPerOccurrence(t *testing.T) {
	store := blob.NewMemoryStore()
	store.Seed("pub", "mapping.csv", []byte("key1,val1\n"))
	store.Seed("adv", "list.csv", []byte("key1\nkey1\n"))
	w := newTestWorker(t, store)

	require.NoError(t, w.ExportMatches(context.Background(), matchRequest()))

	// Marking is idempotent but each occurrence streams its surrogate;
	// the advertiser list drives the output.
	data, ok := store.Object("out", "matches.csv")
	require.True(t, ok)
	assert.Equal(t, "val1\nval1\n", string(data))
}

func TestExportMatchesLargeListAcrossChunks(t *testing.T) {
	store := blob.NewMemoryStore()

	mapping := ""
	advertiser := ""
	want := ""
	keys := make([]string, 500)
	for i := range keys {
		keys[i] = "user" + itoa(i)
		mapping += keys[i] + ",tok" + itoa(i) + "\n"
	}
	for i := 0; i < len(keys); i += 3 {
		advertiser += keys[i] + "\n"
		want += "tok" + itoa(i) + "\n"
	}

	store.Seed("pub", "mapping.csv", []byte(mapping))
	store.Seed("adv", "list.csv", []byte(advertiser))
	w := newTestWorker(t, store)

	require.NoError(t, w.ExportMatches(context.Background(), matchRequest()))

	data, ok := store.Object("out", "matches.csv")
	require.True(t, ok)
	assert.Equal(t, want, string(data))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
