package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/cofyye/ai-garaza/internal/playback"
)

// ErrPlaybackTimeout means the client never acknowledged a play frame.
var ErrPlaybackTimeout = errors.New("playback acknowledgement timed out")

// Output adapts the browser speakers into a playback.Output. Speak pushes
// the payload to the client and blocks until the client reports the clip
// played, the context is cancelled, or the ack times out.
type Output struct {
	send    func(frame) error
	timeout time.Duration

	mu  sync.Mutex
	ack chan struct{}
}

// NewOutput creates an Output that delivers frames through send.
func NewOutput(send func(frame) error, timeout time.Duration) *Output {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Output{send: send, timeout: timeout}
}

// Speak implements playback.Output.
func (o *Output) Speak(ctx context.Context, payload playback.Payload) error {
	o.mu.Lock()
	ack := make(chan struct{})
	o.ack = ack
	o.mu.Unlock()

	err := o.send(frame{
		Type:        frameTypePlay,
		AudioBase64: base64.StdEncoding.EncodeToString(payload.Audio),
		Mime:        payload.Mime,
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		// Tell the client to stop the audio element; barge-in must go
		// silent even though Speak's caller already moved on.
		_ = o.send(frame{Type: frameTypePlayCancel})
		return ctx.Err()
	case <-timer.C:
		return ErrPlaybackTimeout
	}
}

// Played resolves the pending ack. Safe when nothing is playing.
func (o *Output) Played() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ack != nil {
		close(o.ack)
		o.ack = nil
	}
}
