// Package audio provides microphone capture, voice-activity detection, and
// the silence-gated recorder.
package audio

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceFailed     = errors.New("recording device failed")
	ErrEmptyClip        = errors.New("clip below minimum size")
)

// Format represents an audio encoding format.
type Format string

const (
	FormatPCM  Format = "pcm"
	FormatWAV  Format = "wav"
	FormatWebM Format = "webm"
	FormatOpus Format = "opus"
)

// MimeType returns the MIME type for the format.
func (f Format) MimeType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatWebM:
		return "audio/webm"
	case FormatOpus:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// Chunk is one captured slice of encoded audio.
type Chunk struct {
	Data      []byte
	Timestamp time.Time
}

// CaptureDevice abstracts the microphone. Open requests exclusive access
// and starts delivering chunks; the channel closes when the device stops.
// Open errors should map onto ErrPermissionDenied or ErrDeviceFailed.
type CaptureDevice interface {
	Open(ctx context.Context) (<-chan Chunk, error)
	Close() error
}

// Clip is the finished product of one recording cycle. It is consumed
// exactly once by the upload step, then discarded.
type Clip struct {
	ID       string
	Data     []byte
	Duration time.Duration
	Format   Format
}

// Config holds capture and VAD configuration.
type Config struct {
	SampleRate      int           `json:"sample_rate"`      // Default: 16000 Hz
	Channels        int           `json:"channels"`         // Default: 1 (mono)
	BitDepth        int           `json:"bit_depth"`        // Default: 16
	Format          Format        `json:"format"`           // Clip container format
	VADThreshold    float64       `json:"vad_threshold"`    // RMS speech threshold
	SmoothingFrames int           `json:"smoothing_frames"` // Frames to smooth, default 5
	SilenceDuration time.Duration `json:"silence_duration"` // Auto-stop after this much post-speech silence
	MaxDuration     time.Duration `json:"max_duration"`     // Hard cap per clip
	MinClipBytes    int           `json:"min_clip_bytes"`   // Below this the clip is discarded as no-speech
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SampleRate:      16000,
		Channels:        1,
		BitDepth:        16,
		Format:          FormatWebM,
		VADThreshold:    0.01,
		SmoothingFrames: 5,
		SilenceDuration: 1500 * time.Millisecond,
		MaxDuration:     2 * time.Minute,
		MinClipBytes:    1000,
	}
}
