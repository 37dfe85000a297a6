// Package playback plays synthesized speech payloads with replace
// semantics and immediate cancellation.
package playback

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Payload is one synthesized speech clip.
type Payload struct {
	Audio []byte
	Mime  string
}

// Output abstracts the audio output channel. Speak blocks until the
// payload finished playing or ctx is cancelled.
type Output interface {
	Speak(ctx context.Context, payload Payload) error
}

// Controller plays a single payload at a time. Play always replaces the
// current payload; two playbacks never overlap. The completion callback
// fires exactly once per natural completion and never on cancellation, so
// a barge-in is not mistaken for "done speaking".
type Controller struct {
	output Output
	logger zerolog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64

	onComplete func()
	onError    func(error)
}

// NewController creates a playback controller over the given output.
func NewController(output Output, logger zerolog.Logger) *Controller {
	return &Controller{
		output: output,
		logger: logger.With().Str("component", "playback").Logger(),
	}
}

// OnComplete registers the natural-completion callback.
func (c *Controller) OnComplete(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// OnError registers the callback for output failures.
func (c *Controller) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Playing reports whether a payload is currently being played.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Play starts the payload, first cancelling any current playback.
func (c *Controller) Play(payload Payload) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.logger.Debug().Int("bytes", len(payload.Audio)).Str("mime", payload.Mime).Msg("Playback started")

	go func() {
		err := c.output.Speak(ctx, payload)

		c.mu.Lock()
		current := c.generation == gen
		if current {
			c.cancel = nil
		}
		onComplete := c.onComplete
		onError := c.onError
		c.mu.Unlock()

		// A superseded or cancelled playback never completes.
		if !current || ctx.Err() != nil {
			return
		}

		if err != nil {
			c.logger.Warn().Err(err).Msg("Playback failed")
			if onError != nil {
				onError(err)
			}
			return
		}

		c.logger.Debug().Msg("Playback finished")
		if onComplete != nil {
			onComplete()
		}
	}()
}

// Cancel stops the current playback immediately. Safe and idempotent when
// nothing is playing.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		c.logger.Debug().Msg("Playback cancelled")
		cancel()
	}
}
