// Package generator implements the publisher side of PAIR: fetching the
// plaintext ID list, assigning each ID a fresh surrogate token, and
// uploading the resulting mapping.
package generator

import (
	"encoding/hex"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pairworks/pairworker/common"
	"github.com/pairworks/pairworker/executor"
	"github.com/pairworks/pairworker/stream"
	"github.com/pairworks/pairworker/telemetry"
)

// SurrogatePair couples a plaintext ID with its assigned surrogate token.
type SurrogatePair struct {
	Plaintext string
	Surrogate uuid.UUID
}

// SurrogateHex returns the 32-char hex form written to mapping rows.
func (p SurrogatePair) SurrogateHex() string {
	return hex.EncodeToString(p.Surrogate[:])
}

// RandomIDEncryptor assigns uniformly random 128-bit surrogates to a stream
// of plaintexts. One run at a time: Encrypt rejects callers until both the
// assignment worker and the streaming worker of the previous run finished.
//
// Both workers run as tasks on the CPU pool and re-submit themselves between
// drains to yield; the pool needs at least two workers so they can overlap.
type RandomIDEncryptor struct {
	cpu     *executor.Pool
	out     *stream.Pipe[SurrogatePair]
	usedIDs map[uuid.UUID]struct{}

	doneEncrypting atomic.Bool
	doneStreaming  atomic.Bool
}

// NewRandomIDEncryptor creates an encryptor whose internal pair queue holds
// up to queueCapacity in-flight assignments.
func NewRandomIDEncryptor(cpu *executor.Pool, queueCapacity int) *RandomIDEncryptor {
	e := &RandomIDEncryptor{
		cpu:     cpu,
		out:     stream.NewPipe[SurrogatePair](queueCapacity),
		usedIDs: make(map[uuid.UUID]struct{}),
	}
	e.doneEncrypting.Store(true)
	e.doneStreaming.Store(true)
	return e
}

// uniqueToken draws random tokens until one misses the used set. Only the
// assignment worker touches usedIDs.
func (e *RandomIDEncryptor) uniqueToken() uuid.UUID {
	for {
		id := uuid.New()
		if _, used := e.usedIDs[id]; !used {
			e.usedIDs[id] = struct{}{}
			return id
		}
	}
}

// Encrypt starts assigning surrogates to the plaintexts pushed onto pctx.
// The worker drains pctx until it is marked done and fully consumed, then
// finalizes pctx with the run's status.
func (e *RandomIDEncryptor) Encrypt(pctx *stream.Pipe[string]) error {
	if !e.doneEncrypting.Load() || !e.doneStreaming.Load() {
		return common.ErrEncryptorBusy
	}
	e.doneEncrypting.Store(false)
	e.doneStreaming.Store(false)

	if err := e.cpu.Submit(func() { e.encryptLoop(pctx) }); err != nil {
		e.doneEncrypting.Store(true)
		e.doneStreaming.Store(true)
		return err
	}
	return nil
}

func (e *RandomIDEncryptor) encryptLoop(pctx *stream.Pipe[string]) {
	for {
		plaintext, ok := pctx.TryNext()
		if !ok {
			if !pctx.IsMarkedDone() {
				// Nothing to do yet; yield the pool worker.
				if err := e.cpu.Submit(func() { e.encryptLoop(pctx) }); err != nil {
					e.doneEncrypting.Store(true)
					pctx.Finish(err)
				}
				return
			}
			// A plaintext can land between the empty read and the done
			// mark; look once more before finishing.
			if plaintext, ok = pctx.TryNext(); !ok {
				e.doneEncrypting.Store(true)
				pctx.Finish(nil)
				return
			}
		}
		pair := SurrogatePair{Plaintext: plaintext, Surrogate: e.uniqueToken()}
		for !e.out.TryPush(pair) {
			runtime.Gosched()
		}
		telemetry.SurrogatesAssignedTotal.Inc()
	}
}

// StreamEncryptedIDs starts streaming assigned pairs onto cctx. The worker
// marks cctx done and finalizes it once the assignment worker finished and
// the internal queue drained.
func (e *RandomIDEncryptor) StreamEncryptedIDs(cctx *stream.Pipe[SurrogatePair]) error {
	return e.cpu.Submit(func() { e.streamLoop(cctx) })
}

func (e *RandomIDEncryptor) streamLoop(cctx *stream.Pipe[SurrogatePair]) {
	for {
		pair, ok := e.out.TryNext()
		if !ok {
			if !e.doneEncrypting.Load() {
				if err := e.cpu.Submit(func() { e.streamLoop(cctx) }); err != nil {
					e.doneStreaming.Store(true)
					cctx.MarkDone()
					cctx.Finish(err)
				}
				return
			}
			// Pairs can land between the empty read and the flag flip.
			if pair, ok = e.out.TryNext(); !ok {
				e.doneStreaming.Store(true)
				cctx.MarkDone()
				cctx.Finish(nil)
				return
			}
		}
		for !cctx.TryPush(pair) {
			runtime.Gosched()
		}
	}
}
