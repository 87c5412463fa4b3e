package generator

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/executor"
	"github.com/pairworks/pairworker/stream"
)

func newTestEncryptor(t *testing.T) *RandomIDEncryptor {
	t.Helper()
	pool := executor.NewPool("cpu-test", 4, 256)
	t.Cleanup(pool.Stop)
	return NewRandomIDEncryptor(pool, 1024)
}

func runAssignment(t *testing.T, e *RandomIDEncryptor, ids []string) []SurrogatePair {
	t.Helper()
	pctx := stream.NewPipe[string](len(ids) + 1)
	require.NoError(t, e.Encrypt(pctx))

	go func() {
		for _, id := range ids {
			for !pctx.TryPush(id) {
				runtime.Gosched()
			}
		}
		pctx.MarkDone()
	}()

	cctx := stream.NewPipe[SurrogatePair](len(ids) + 1)
	require.NoError(t, e.StreamEncryptedIDs(cctx))

	var pairs []SurrogatePair
	deadline := time.Now().Add(10 * time.Second)
	for {
		if pair, ok := cctx.TryNext(); ok {
			pairs = append(pairs, pair)
			continue
		}
		if cctx.IsFinished() {
			break
		}
		require.True(t, time.Now().Before(deadline), "assignment did not finish")
		runtime.Gosched()
	}
	for {
		pair, ok := cctx.TryNext()
		if !ok {
			break
		}
		pairs = append(pairs, pair)
	}
	require.NoError(t, pctx.Result())
	require.NoError(t, cctx.Result())
	return pairs
}

func TestEncryptAssignsEveryPlaintextOnce(t *testing.T) {
	e := newTestEncryptor(t)
	ids := []string{"id1", "id2", "id3", "id4", "id5"}

	pairs := runAssignment(t, e, ids)
	require.Len(t, pairs, len(ids))

	plaintexts := map[string]int{}
	surrogates := map[string]int{}
	for _, p := range pairs {
		plaintexts[p.Plaintext]++
		surrogates[p.SurrogateHex()]++
	}
	for _, id := range ids {
		assert.Equal(t, 1, plaintexts[id])
	}
	// Surrogates are collision-free.
	assert.Len(t, surrogates, len(ids))
	for hex := range surrogates {
		assert.Len(t, hex, 32)
	}
}

func TestEncryptHandlesDuplicatePlaintexts(t *testing.T) {
	e := newTestEncryptor(t)
	ids := []string{"same", "same", "same"}

	pairs := runAssignment(t, e, ids)
	require.Len(t, pairs, 3)

	surrogates := map[string]struct{}{}
	for _, p := range pairs {
		assert.Equal(t, "same", p.Plaintext)
		surrogates[p.SurrogateHex()] = struct{}{}
	}
	// Every occurrence still draws its own token.
	assert.Len(t, surrogates, 3)
}

func TestEncryptRejectsConcurrentRuns(t *testing.T) {
	e := newTestEncryptor(t)

	pctx := stream.NewPipe[string](4)
	require.NoError(t, e.Encrypt(pctx))

	// The first run has not been marked done, so a second one is rejected.
	err := e.Encrypt(stream.NewPipe[string](4))
	assert.ErrorIs(t, err, common.ErrEncryptorBusy)

	// Finish the first run and the encryptor frees up.
	pctx.MarkDone()
	cctx := stream.NewPipe[SurrogatePair](4)
	require.NoError(t, e.StreamEncryptedIDs(cctx))
	require.NoError(t, pctx.Result())
	require.NoError(t, cctx.Result())

	pctx2 := stream.NewPipe[string](4)
	require.NoError(t, e.Encrypt(pctx2))
	pctx2.MarkDone()
	cctx2 := stream.NewPipe[SurrogatePair](4)
	require.NoError(t, e.StreamEncryptedIDs(cctx2))
	require.NoError(t, pctx2.Result())
	require.NoError(t, cctx2.Result())
}

func TestSurrogatesUniqueAcrossRuns(t *testing.T) {
	e := newTestEncryptor(t)

	seen := map[string]struct{}{}
	for run := 0; run < 3; run++ {
		pairs := runAssignment(t, e, []string{"a", "b", "c"})
		for _, p := range pairs {
			_, dup := seen[p.SurrogateHex()]
			assert.False(t, dup)
			seen[p.SurrogateHex()] = struct{}{}
		}
	}
	assert.Len(t, seen, 9)
}

func TestEncryptEmptyRun(t *testing.T) {
	e := newTestEncryptor(t)
	pairs := runAssignment(t, e, nil)
	assert.Empty(t, pairs)
}
