package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOutput records Speak calls and their contexts.
type fakeOutput struct {
	mu       sync.Mutex
	payloads []Payload
	ctxs     []context.Context
	block    bool // Speak waits for its context to be cancelled
	err      error
}

func (o *fakeOutput) Speak(ctx context.Context, payload Payload) error {
	o.mu.Lock()
	o.payloads = append(o.payloads, payload)
	o.ctxs = append(o.ctxs, ctx)
	block, err := o.block, o.err
	o.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (o *fakeOutput) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.payloads)
}

func (o *fakeOutput) ctx(i int) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctxs[i]
}

func TestController_CompletionFiresOnNaturalEnd(t *testing.T) {
	output := &fakeOutput{}
	ctrl := NewController(output, zerolog.Nop())

	done := make(chan struct{}, 1)
	ctrl.OnComplete(func() { done <- struct{}{} })

	ctrl.Play(Payload{Audio: []byte("clip"), Mime: "audio/mpeg"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected completion callback")
	}
	assert.False(t, ctrl.Playing())
}

func TestController_CancelSuppressesCompletion(t *testing.T) {
	output := &fakeOutput{block: true}
	ctrl := NewController(output, zerolog.Nop())

	done := make(chan struct{}, 1)
	ctrl.OnComplete(func() { done <- struct{}{} })

	ctrl.Play(Payload{Audio: []byte("clip")})
	require.Eventually(t, func() bool { return output.callCount() == 1 }, time.Second, 5*time.Millisecond)

	ctrl.Cancel()

	select {
	case <-done:
		t.Fatal("cancelled playback must not report completion")
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, ctrl.Playing())
}

func TestController_PlayReplacesCurrentPlayback(t *testing.T) {
	output := &fakeOutput{block: true}
	ctrl := NewController(output, zerolog.Nop())

	done := make(chan struct{}, 2)
	ctrl.OnComplete(func() { done <- struct{}{} })

	ctrl.Play(Payload{Audio: []byte("first")})
	require.Eventually(t, func() bool { return output.callCount() == 1 }, time.Second, 5*time.Millisecond)

	ctrl.Play(Payload{Audio: []byte("second")})
	require.Eventually(t, func() bool { return output.callCount() == 2 }, time.Second, 5*time.Millisecond)

	// The first playback got cancelled, the second is live.
	require.Eventually(t, func() bool { return output.ctx(0).Err() != nil }, time.Second, 5*time.Millisecond)
	assert.NoError(t, output.ctx(1).Err())

	// The superseded playback never completes.
	assert.Empty(t, done)

	ctrl.Cancel()
}

func TestController_CancelWhenIdleIsNoOp(t *testing.T) {
	ctrl := NewController(&fakeOutput{}, zerolog.Nop())

	assert.NotPanics(t, func() {
		ctrl.Cancel()
		ctrl.Cancel()
	})
	assert.False(t, ctrl.Playing())
}

func TestController_OutputErrorReported(t *testing.T) {
	wantErr := errors.New("speaker gone")
	output := &fakeOutput{err: wantErr}
	ctrl := NewController(output, zerolog.Nop())

	errCh := make(chan error, 1)
	done := make(chan struct{}, 1)
	ctrl.OnError(func(err error) { errCh <- err })
	ctrl.OnComplete(func() { done <- struct{}{} })

	ctrl.Play(Payload{Audio: []byte("clip")})

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, wantErr)
	case <-time.After(time.Second):
		t.Fatal("expected error callback")
	}
	assert.Empty(t, done)
}
