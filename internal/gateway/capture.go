package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cofyye/ai-garaza/internal/audio"
)

// Capture adapts the browser microphone into an audio.CaptureDevice.
// The connected client streams base64 chunks over the websocket; Push
// delivers them into the active recording cycle.
type Capture struct {
	mu        sync.Mutex
	ch        chan audio.Chunk
	connected bool
}

// NewCapture creates a Capture with no client attached.
func NewCapture() *Capture {
	return &Capture{}
}

func (c *Capture) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
	if !connected && c.ch != nil {
		// Losing the client mid-cycle ends the chunk stream, which the
		// recorder reports as a device failure.
		close(c.ch)
		c.ch = nil
	}
}

// Open starts a chunk stream for one recording cycle. It fails when no
// browser client is connected to supply microphone data.
func (c *Capture) Open(ctx context.Context) (<-chan audio.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, fmt.Errorf("%w: no client connected", audio.ErrDeviceFailed)
	}
	if c.ch != nil {
		return nil, fmt.Errorf("%w: capture already open", audio.ErrDeviceFailed)
	}

	ch := make(chan audio.Chunk, 64)
	c.ch = ch

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.ch == ch {
			close(ch)
			c.ch = nil
		}
		c.mu.Unlock()
	}()

	return ch, nil
}

// Push delivers one decoded audio chunk to the active cycle. Chunks
// arriving while no cycle is open are dropped, as are chunks that would
// block a full buffer.
func (c *Capture) Push(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return
	}
	select {
	case c.ch <- audio.Chunk{Data: data, Timestamp: time.Now()}:
	default:
	}
}

// Close ends the current chunk stream. Called by the recorder at the end
// of every cycle.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil {
		close(c.ch)
		c.ch = nil
	}
	return nil
}
