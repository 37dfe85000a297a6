package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDevice is a CaptureDevice that replays a fixed chunk sequence.
type scriptedDevice struct {
	mu        sync.Mutex
	chunks    []Chunk
	openErr   error
	failAfter bool // close the stream after the chunks, simulating device loss
	opens     int
}

func (d *scriptedDevice) Open(ctx context.Context) (<-chan Chunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}

	ch := make(chan Chunk, len(d.chunks)+1)
	for _, c := range d.chunks {
		ch <- c
	}
	if d.failAfter {
		close(ch)
	} else {
		go func() {
			<-ctx.Done()
			close(ch)
		}()
	}
	return ch, nil
}

func (d *scriptedDevice) Close() error { return nil }

func (d *scriptedDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func testRecorderConfig() *Config {
	return &Config{
		SampleRate:      16000,
		Channels:        1,
		BitDepth:        16,
		Format:          FormatWebM,
		VADThreshold:    0.01,
		SmoothingFrames: 1,
		SilenceDuration: 50 * time.Millisecond,
		MaxDuration:     time.Minute,
	}
}

func TestRecorder_AutoStopsAfterPostSpeechSilence(t *testing.T) {
	t0 := time.Now()
	device := &scriptedDevice{chunks: []Chunk{
		{Data: pcm16(160, 8000), Timestamp: t0},
		{Data: pcm16(160, 8000), Timestamp: t0.Add(10 * time.Millisecond)},
		{Data: pcm16(160, 0), Timestamp: t0.Add(20 * time.Millisecond)},
		{Data: pcm16(160, 0), Timestamp: t0.Add(100 * time.Millisecond)},
	}}
	rec := NewRecorder(testRecorderConfig(), device, zerolog.Nop())

	clipCh := make(chan Clip, 1)
	rec.OnClip(func(c Clip) { clipCh <- c })

	began, err := rec.Begin(context.Background())
	require.NoError(t, err)
	require.True(t, began)

	select {
	case clip := <-clipCh:
		assert.NotEmpty(t, clip.ID)
		assert.Equal(t, FormatWebM, clip.Format)
		// The clip carries everything captured, trailing silence included.
		assert.Len(t, clip.Data, 4*160*2)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a clip after post-speech silence")
	}

	assert.Eventually(t, func() bool { return !rec.Active() }, time.Second, 10*time.Millisecond)
}

func TestRecorder_SilenceBeforeSpeechDoesNotStop(t *testing.T) {
	t0 := time.Now()
	device := &scriptedDevice{chunks: []Chunk{
		{Data: pcm16(160, 0), Timestamp: t0},
		{Data: pcm16(160, 0), Timestamp: t0.Add(5 * time.Second)},
	}}
	rec := NewRecorder(testRecorderConfig(), device, zerolog.Nop())

	clipCh := make(chan Clip, 1)
	rec.OnClip(func(c Clip) { clipCh <- c })

	began, err := rec.Begin(context.Background())
	require.NoError(t, err)
	require.True(t, began)

	// Even with far more silence than the threshold, the cycle waits for
	// speech first.
	time.Sleep(150 * time.Millisecond)
	assert.True(t, rec.Active())
	assert.Empty(t, clipCh)

	rec.Stop()
	select {
	case clip := <-clipCh:
		assert.Len(t, clip.Data, 2*160*2)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a clip after explicit stop")
	}
}

func TestRecorder_OpenErrorReportedSynchronously(t *testing.T) {
	device := &scriptedDevice{openErr: ErrPermissionDenied}
	rec := NewRecorder(testRecorderConfig(), device, zerolog.Nop())

	began, err := rec.Begin(context.Background())
	assert.False(t, began)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, rec.Active())

	// A failed open leaves the recorder usable for the next attempt.
	device.mu.Lock()
	device.openErr = nil
	device.mu.Unlock()
	began, err = rec.Begin(context.Background())
	require.NoError(t, err)
	assert.True(t, began)
	rec.Stop()
}

func TestRecorder_DeviceFailureMidCycleEmitsErrorNotClip(t *testing.T) {
	t0 := time.Now()
	device := &scriptedDevice{
		chunks:    []Chunk{{Data: pcm16(160, 8000), Timestamp: t0}},
		failAfter: true,
	}
	rec := NewRecorder(testRecorderConfig(), device, zerolog.Nop())

	clipCh := make(chan Clip, 1)
	errCh := make(chan error, 1)
	rec.OnClip(func(c Clip) { clipCh <- c })
	rec.OnError(func(err error) { errCh <- err })

	began, err := rec.Begin(context.Background())
	require.NoError(t, err)
	require.True(t, began)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDeviceFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a device error")
	}
	assert.Empty(t, clipCh)
}

func TestRecorder_ExplicitStopNeverReportsDeviceError(t *testing.T) {
	// The device closes its stream in reaction to the stop cancellation, so
	// the run loop can see the closed channel and the done context at the
	// same time. Whichever branch the select picks, a stop must yield the
	// clip, never a device error. Iterate to give the race room.
	for i := 0; i < 50; i++ {
		device := &scriptedDevice{chunks: []Chunk{
			{Data: pcm16(160, 0), Timestamp: time.Now()},
		}}
		rec := NewRecorder(testRecorderConfig(), device, zerolog.Nop())

		clipCh := make(chan Clip, 1)
		errCh := make(chan error, 1)
		rec.OnClip(func(c Clip) { clipCh <- c })
		rec.OnError(func(err error) { errCh <- err })

		began, err := rec.Begin(context.Background())
		require.NoError(t, err)
		require.True(t, began)

		rec.Stop()

		select {
		case <-clipCh:
		case err := <-errCh:
			t.Fatalf("iteration %d: explicit stop reported %v", i, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: expected a clip", i)
		}
	}
}

func TestRecorder_BeginWhileActiveIsNoOp(t *testing.T) {
	device := &scriptedDevice{}
	rec := NewRecorder(testRecorderConfig(), device, zerolog.Nop())

	began, err := rec.Begin(context.Background())
	require.NoError(t, err)
	require.True(t, began)

	began, err = rec.Begin(context.Background())
	require.NoError(t, err)
	assert.False(t, began)
	assert.Equal(t, 1, device.openCount())

	rec.Stop()
	assert.Eventually(t, func() bool { return !rec.Active() }, time.Second, 10*time.Millisecond)
}

func TestRecorder_MaxDurationCapsTheCycle(t *testing.T) {
	cfg := testRecorderConfig()
	cfg.MaxDuration = 100 * time.Millisecond

	t0 := time.Now()
	device := &scriptedDevice{chunks: []Chunk{
		{Data: pcm16(160, 8000), Timestamp: t0},
		{Data: pcm16(160, 8000), Timestamp: t0.Add(200 * time.Millisecond)},
	}}
	rec := NewRecorder(cfg, device, zerolog.Nop())

	clipCh := make(chan Clip, 1)
	rec.OnClip(func(c Clip) { clipCh <- c })

	began, err := rec.Begin(context.Background())
	require.NoError(t, err)
	require.True(t, began)

	select {
	case clip := <-clipCh:
		assert.Len(t, clip.Data, 2*160*2)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the cycle to end at the duration cap")
	}
}
