package csvstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairworks/pairworker/common"
)

func newTestParser(t *testing.T, numCols, maxBuffered int) *StreamParser {
	t.Helper()
	config, err := NewParserConfig(numCols, true, DefaultDelimiter, DefaultLineBreak, maxBuffered)
	require.NoError(t, err)
	return NewStreamParser(config)
}

func TestParserConfigRejectsOversizedBuffer(t *testing.T) {
	_, err := NewParserConfig(1, true, ',', '\n', MaxBufferedBytesCap+1)
	assert.Error(t, err)

	_, err = NewParserConfig(1, true, ',', '\n', 0)
	assert.Error(t, err)

	_, err = NewParserConfig(1, true, ',', '\n', MaxBufferedBytesCap)
	assert.NoError(t, err)
}

func TestParserSingleChunkMultipleRows(t *testing.T) {
	p := newTestParser(t, 2, 1<<20)
	require.NoError(t, p.AddChunk([]byte("k1,v1\nk2,v2\nk3,v3\n")))

	var rows [][]string
	for p.HasRow() {
		row, err := p.NextRow()
		require.NoError(t, err)
		c0, _ := row.Column(0)
		c1, _ := row.Column(1)
		rows = append(rows, []string{c0, c1})
	}
	assert.Equal(t, [][]string{{"k1", "v1"}, {"k2", "v2"}, {"k3", "v3"}}, rows)
	assert.Equal(t, 0, p.BufferedBytes())
}

func TestParserChunkSplitMidRow(t *testing.T) {
	p := newTestParser(t, 2, 1<<20)
	require.NoError(t, p.AddChunk([]byte("val1")))
	assert.False(t, p.HasRow())

	require.NoError(t, p.AddChunk([]byte(",val2\n")))
	require.True(t, p.HasRow())

	row, err := p.NextRow()
	require.NoError(t, err)
	c0, _ := row.Column(0)
	c1, _ := row.Column(1)
	assert.Equal(t, "val1", c0)
	assert.Equal(t, "val2", c1)
	assert.False(t, p.HasRow())
}

func TestParserBackpressure(t *testing.T) {
	config, err := NewParserConfig(2, true, ',', '\n', 10)
	require.NoError(t, err)
	p := NewStreamParser(config)

	// Exactly at capacity.
	require.NoError(t, p.AddChunk([]byte("val1,val2\n")))

	// One more byte must be rejected without mutating state.
	err = p.AddChunk([]byte("1"))
	assert.ErrorIs(t, err, common.ErrCSVStreamParserBufferAtCapacity)
	assert.True(t, common.Retryable(err))
	assert.Equal(t, 10, p.BufferedBytes())

	// Draining one row frees its bytes and the chunk fits again.
	_, err = p.NextRow()
	require.NoError(t, err)
	require.NoError(t, p.AddChunk([]byte("1")))
}

func TestParserNoRowAvailable(t *testing.T) {
	p := newTestParser(t, 1, 1<<20)
	_, err := p.NextRow()
	assert.ErrorIs(t, err, common.ErrCSVStreamParserNoRowAvailable)

	require.NoError(t, p.AddChunk([]byte("partial")))
	_, err = p.NextRow()
	assert.ErrorIs(t, err, common.ErrCSVStreamParserNoRowAvailable)
}

func TestParserBufferedBytesAccounting(t *testing.T) {
	p := newTestParser(t, 1, 1<<20)
	require.NoError(t, p.AddChunk([]byte("abc\nde")))
	assert.Equal(t, 6, p.BufferedBytes())

	_, err := p.NextRow()
	require.NoError(t, err)
	// "abc" plus its line break released; "de" still rolling.
	assert.Equal(t, 2, p.BufferedBytes())
}

// Any segmentation of the same byte stream must emit identical rows.
func TestParserRoundTripUnderArbitrarySegmentation(t *testing.T) {
	input := "id1,tok1\nid2,tok2\n,tok3\nid4,\nid5,tok5\n"

	parseAll := func(chunks []string) [][]string {
		p := newTestParser(t, 2, 1<<20)
		var rows [][]string
		for _, c := range chunks {
			require.NoError(t, p.AddChunk([]byte(c)))
			for p.HasRow() {
				row, err := p.NextRow()
				require.NoError(t, err)
				c0, _ := row.Column(0)
				c1, _ := row.Column(1)
				rows = append(rows, []string{c0, c1})
			}
		}
		return rows
	}

	whole := parseAll([]string{input})
	require.Len(t, whole, 5)

	for split := 1; split < len(input); split++ {
		got := parseAll([]string{input[:split], input[split:]})
		assert.Equal(t, whole, got, "split at byte %d", split)
	}

	// Byte-at-a-time.
	var bytes []string
	for _, b := range []byte(input) {
		bytes = append(bytes, string([]byte{b}))
	}
	assert.Equal(t, whole, parseAll(bytes))
}

// Emitted rows plus the rolling remainder must reconstruct the input.
func TestParserConservesBytes(t *testing.T) {
	input := "a\nbb\nccc\ndddd"
	p := newTestParser(t, 1, 1<<20)
	require.NoError(t, p.AddChunk([]byte(input)))

	var emitted []string
	for p.HasRow() {
		row, err := p.NextRow()
		require.NoError(t, err)
		c0, _ := row.Column(0)
		emitted = append(emitted, c0)
	}
	reconstructed := strings.Join(emitted, "\n") + "\n"
	assert.Equal(t, input[:strings.LastIndexByte(input, '\n')+1], reconstructed)
	assert.Equal(t, len("dddd"), p.BufferedBytes())
}

func TestParserConcurrentProducerConsumer(t *testing.T) {
	p := newTestParser(t, 1, 1<<20)

	const total = 10000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			chunk := []byte("row\n")
			for {
				err := p.AddChunk(chunk)
				if err == nil {
					break
				}
				require.True(t, common.Retryable(err))
			}
		}
	}()

	seen := 0
	for seen < total {
		if !p.HasRow() {
			continue
		}
		_, err := p.NextRow()
		require.NoError(t, err)
		seen++
	}
	<-done
	assert.False(t, p.HasRow())
}
