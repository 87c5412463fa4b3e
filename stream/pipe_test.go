package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipePushAndDrainInOrder(t *testing.T) {
	p := NewPipe[int](8)
	for i := 0; i < 5; i++ {
		require.True(t, p.TryPush(i))
	}
	for i := 0; i < 5; i++ {
		v, ok := p.TryNext()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := p.TryNext()
	assert.False(t, ok)
}

func TestPipeBoundedCapacity(t *testing.T) {
	p := NewPipe[string](2)
	require.True(t, p.TryPush("a"))
	require.True(t, p.TryPush("b"))
	assert.False(t, p.TryPush("c"))

	_, ok := p.TryNext()
	require.True(t, ok)
	assert.True(t, p.TryPush("c"))
}

func TestPipeDoneLeavesItemsReadable(t *testing.T) {
	p := NewPipe[int](4)
	require.True(t, p.TryPush(1))
	p.MarkDone()
	assert.True(t, p.IsMarkedDone())

	v, ok := p.TryNext()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestPipeFinishIsSingleShot(t *testing.T) {
	p := NewPipe[int](1)
	sentinel := errors.New("boom")
	p.Finish(sentinel)
	p.Finish(nil)
	assert.ErrorIs(t, p.Result(), sentinel)
}

func TestPipeResultBlocksUntilFinish(t *testing.T) {
	p := NewPipe[int](1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Finish(nil)
	}()
	assert.NoError(t, p.Result())
}
