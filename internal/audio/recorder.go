package audio

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recorder produces exactly one Clip per activation. A cycle ends on an
// explicit Stop, or automatically once sustained silence follows detected
// speech. Energy samples before any speech never trigger the auto-stop, so
// a cycle waits indefinitely for the user to start talking (bounded only by
// MaxDuration).
type Recorder struct {
	config *Config
	device CaptureDevice
	vad    *VAD
	logger zerolog.Logger

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc

	onClip  func(Clip)
	onError func(error)
}

// NewRecorder creates a Recorder over the given capture device.
func NewRecorder(config *Config, device CaptureDevice, logger zerolog.Logger) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}

	return &Recorder{
		config: config,
		device: device,
		vad:    NewVAD(config.VADThreshold, config.SmoothingFrames, config.BitDepth),
		logger: logger.With().Str("component", "recorder").Logger(),
	}
}

// OnClip registers the callback receiving the finished clip of each cycle.
func (r *Recorder) OnClip(fn func(Clip)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClip = fn
}

// OnError registers the callback for permission/device failures.
func (r *Recorder) OnError(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = fn
}

// Active reports whether a recording cycle is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Begin starts a recording cycle. Activating while already active is a
// no-op returning false; cycles are never queued. The device-open error,
// if any, is reported synchronously so the caller can surface permission
// problems immediately.
func (r *Recorder) Begin(ctx context.Context) (bool, error) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return false, nil
	}
	r.active = true
	cycleCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	chunks, err := r.device.Open(cycleCtx)
	if err != nil {
		cancel()
		r.mu.Lock()
		r.active = false
		r.cancel = nil
		r.mu.Unlock()
		r.logger.Error().Err(err).Msg("Failed to open capture device")
		return false, err
	}

	r.vad.Reset()
	r.logger.Debug().Msg("Recording cycle started")

	go r.run(cycleCtx, cancel, chunks)
	return true, nil
}

// Stop ends the current cycle explicitly. Safe to call when idle.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// run consumes chunks until the cycle ends, then emits the clip.
func (r *Recorder) run(ctx context.Context, cancel context.CancelFunc, chunks <-chan Chunk) {
	var (
		buffer       []byte
		startedAt    time.Time
		hasSpoken    bool
		silenceStart time.Time
		failed       bool
	)

	defer func() {
		// Auto-stop must release the cycle context, not just an explicit Stop.
		cancel()
		_ = r.device.Close()
		r.mu.Lock()
		r.active = false
		r.cancel = nil
		onClip := r.onClip
		r.mu.Unlock()

		// A failed cycle surfaces the error instead of a clip.
		if failed {
			return
		}

		duration := time.Duration(0)
		if !startedAt.IsZero() {
			duration = time.Since(startedAt)
		}

		clip := Clip{
			ID:       uuid.NewString(),
			Data:     buffer,
			Duration: duration,
			Format:   r.config.Format,
		}

		r.logger.Debug().
			Str("clipId", clip.ID).
			Int("bytes", len(clip.Data)).
			Dur("duration", clip.Duration).
			Bool("spoke", hasSpoken).
			Msg("Recording cycle finished")

		if onClip != nil {
			onClip(clip)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				// The device closes the stream on cancellation too; when both
				// are ready the select may pick this branch, and an explicit
				// stop must still emit the clip.
				if ctx.Err() != nil {
					return
				}
				// Device stream ended mid-cycle without an explicit stop.
				failed = true
				r.reportError(ErrDeviceFailed)
				return
			}

			if startedAt.IsZero() {
				startedAt = chunk.Timestamp
				if startedAt.IsZero() {
					startedAt = time.Now()
				}
			}
			buffer = append(buffer, chunk.Data...)

			sample := r.vad.Process(chunk.Data)
			now := chunk.Timestamp
			if now.IsZero() {
				now = time.Now()
			}

			if sample.Loud {
				hasSpoken = true
				silenceStart = time.Time{}
			} else if hasSpoken {
				if silenceStart.IsZero() {
					silenceStart = now
				} else if now.Sub(silenceStart) >= r.config.SilenceDuration {
					r.logger.Debug().Msg("Silence threshold reached, auto-stopping")
					return
				}
			}

			if r.config.MaxDuration > 0 && now.Sub(startedAt) >= r.config.MaxDuration {
				r.logger.Warn().Dur("max", r.config.MaxDuration).Msg("Max clip duration reached")
				return
			}
		}
	}
}

// SetVADThreshold applies a new threshold, used by config hot reload.
func (r *Recorder) SetVADThreshold(threshold float64) {
	r.vad.SetThreshold(threshold)
}

func (r *Recorder) reportError(err error) {
	r.mu.Lock()
	onError := r.onError
	r.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}
