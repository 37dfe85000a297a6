package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cofyye/ai-garaza/internal/audio"
)

func TestCapture_OpenRequiresClient(t *testing.T) {
	c := NewCapture()

	_, err := c.Open(context.Background())
	assert.ErrorIs(t, err, audio.ErrDeviceFailed)
}

func TestCapture_PushDeliversChunks(t *testing.T) {
	c := NewCapture()
	c.setConnected(true)

	ch, err := c.Open(context.Background())
	require.NoError(t, err)

	c.Push([]byte("chunk-1"))
	c.Push([]byte("chunk-2"))

	chunk := <-ch
	assert.Equal(t, []byte("chunk-1"), chunk.Data)
	assert.False(t, chunk.Timestamp.IsZero())
	chunk = <-ch
	assert.Equal(t, []byte("chunk-2"), chunk.Data)

	require.NoError(t, c.Close())
	_, ok := <-ch
	assert.False(t, ok, "stream should be closed")
}

func TestCapture_PushWithoutOpenCycleIsDropped(t *testing.T) {
	c := NewCapture()
	c.setConnected(true)

	assert.NotPanics(t, func() { c.Push([]byte("orphan")) })
}

func TestCapture_SecondOpenRejected(t *testing.T) {
	c := NewCapture()
	c.setConnected(true)

	_, err := c.Open(context.Background())
	require.NoError(t, err)
	_, err = c.Open(context.Background())
	assert.ErrorIs(t, err, audio.ErrDeviceFailed)

	require.NoError(t, c.Close())
}

func TestCapture_DisconnectEndsStream(t *testing.T) {
	c := NewCapture()
	c.setConnected(true)

	ch, err := c.Open(context.Background())
	require.NoError(t, err)

	c.setConnected(false)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "stream should close on disconnect")
	case <-time.After(time.Second):
		t.Fatal("expected the stream to end")
	}
}

func TestCapture_ContextCancelEndsStream(t *testing.T) {
	c := NewCapture()
	c.setConnected(true)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Open(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected the stream to end on cancellation")
	}

	// A new cycle can open afterwards.
	_, err = c.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
