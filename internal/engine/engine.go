// Package engine orchestrates a voice-driven interview session: it
// sequences the recorder, playback controller, idle monitor and autosave
// debouncer, talks to the interview service, and mirrors the
// server-declared session state.
package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cofyye/ai-garaza/internal/audio"
	"github.com/cofyye/ai-garaza/internal/autosave"
	"github.com/cofyye/ai-garaza/internal/bus"
	"github.com/cofyye/ai-garaza/internal/idle"
	"github.com/cofyye/ai-garaza/internal/interview"
	"github.com/cofyye/ai-garaza/internal/playback"
	"github.com/cofyye/ai-garaza/internal/session"
)

// Mode controls whether the engine automatically starts a new recording
// cycle after assistant playback ends.
type Mode string

const (
	ModeManual     Mode = "manual"
	ModeContinuous Mode = "continuous"
)

// Common errors
var (
	ErrNotStarted     = errors.New("session not started")
	ErrAlreadyStarted = errors.New("session already started")
	ErrSessionEnded   = errors.New("session has ended")
	ErrBusy           = errors.New("a submission is already in flight")
	ErrEditNotAllowed = errors.New("code editing not allowed in this stage")
)

// Conductor is the slice of the interview service client the engine uses.
// *interview.Client satisfies it.
type Conductor interface {
	Start(ctx context.Context, sessionID string) (*interview.TurnResponse, error)
	SubmitAudio(ctx context.Context, sessionID string, audio []byte, filename, mime string) (*interview.TurnResponse, error)
	SubmitText(ctx context.Context, sessionID, text string) (*interview.TurnResponse, error)
	UpdateCode(ctx context.Context, sessionID, code, language string) error
	ReportIdle(ctx context.Context, sessionID string, secondsIdle int) (*interview.TurnResponse, error)
	State(ctx context.Context, sessionID string) (*interview.StateResponse, error)
}

// Config tunes orchestrator behavior.
type Config struct {
	Mode         Mode
	MinClipBytes int // Clips below this size are discarded as no-speech

	// Backoff for auto-retry after submission failures in continuous mode.
	// Bounded so a persistent outage cannot produce a tight retry loop.
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	MaxRetries      int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode:            ModeContinuous,
		MinClipBytes:    1000,
		RetryBackoff:    2 * time.Second,
		RetryBackoffMax: 30 * time.Second,
		MaxRetries:      5,
	}
}

// Deps are the collaborators the engine is built from.
type Deps struct {
	Client   Conductor
	Capture  audio.CaptureDevice
	Output   playback.Output
	Bus      *bus.EventBus
	Audio    *audio.Config
	Idle     *idle.Config
	Autosave time.Duration
	Logger   zerolog.Logger
}

// Engine owns one interview session from construction to Close. All
// cross-callback state lives on this struct; there are no package-level
// mutable variables.
type Engine struct {
	config   *Config
	client   Conductor
	recorder *audio.Recorder
	player   *playback.Controller
	monitor  *idle.Monitor
	saver    *autosave.Saver
	eventBus *bus.EventBus
	logger   zerolog.Logger

	sessionID  string
	transcript *session.Transcript

	mu          sync.Mutex
	started     bool
	snapshot    session.Snapshot
	muted       bool
	inFlight    bool
	closed      bool
	netFailures int
	retryTimer  *time.Timer
}

// New creates an Engine for the given session token.
func New(sessionID string, cfg *Config, deps Deps) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := &Engine{
		config:     cfg,
		client:     deps.Client,
		eventBus:   deps.Bus,
		logger:     deps.Logger.With().Str("component", "engine").Str("sessionId", sessionID).Logger(),
		sessionID:  sessionID,
		transcript: session.NewTranscript(session.DefaultTranscriptConfig()),
	}
	e.snapshot = session.Snapshot{SessionID: sessionID, Stage: session.StageIntro}

	e.recorder = audio.NewRecorder(deps.Audio, deps.Capture, deps.Logger)
	e.recorder.OnClip(e.handleClip)
	e.recorder.OnError(e.handleRecorderError)

	e.player = playback.NewController(deps.Output, deps.Logger)
	e.player.OnComplete(e.handlePlaybackDone)
	e.player.OnError(func(err error) {
		// A failed playback must not strand the conversation; resume the
		// listen loop as if the line had finished.
		e.logger.Warn().Err(err).Msg("Assistant playback failed")
		e.handlePlaybackDone()
	})

	e.monitor = idle.NewMonitor(deps.Idle, e.handleIdleNudge, deps.Logger)
	e.saver = autosave.NewSaver(deps.Autosave, e.persistCode, deps.Logger)

	return e
}

// Snapshot returns a copy of the mirrored session state.
func (e *Engine) Snapshot() session.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// Messages returns the last n transcript entries.
func (e *Engine) Messages(n int) []session.Message {
	return e.transcript.Tail(n)
}

// Started reports whether the session has been started.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Muted reports whether auto-relisten is suppressed.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// Recording reports whether a recording cycle is active.
func (e *Engine) Recording() bool {
	return e.recorder.Active()
}

// Start issues the start call and plays the greeting. The started flag is
// claimed before the network call so concurrent Starts cannot both pass
// the guard; on failure it is released and the operation is retryable.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	resp, err := e.client.Start(ctx, e.sessionID)
	if err != nil {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		e.logger.Error().Err(err).Msg("Failed to start interview")
		return err
	}

	e.publish(bus.EventTypeSessionStarted, map[string]any{"stage": string(resp.Stage)})
	e.apply(resp)
	e.continueAfterTurn(resp)
	return nil
}

// Resume reconciles the mirror from GET /state, for reconnecting to an
// interview that is already underway. Claims the started flag the same
// way Start does, so Resume and Start cannot race each other.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	state, err := e.client.State(ctx, e.sessionID)
	if err != nil {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.snapshot = session.Snapshot{
		SessionID:    state.SessionID,
		Stage:        state.Stage,
		CanEditCode:  state.CanEditCode,
		TaskUnlocked: state.TaskUnlocked,
		Ended:        state.Ended,
		EndedEarly:   state.EndedEarly,
		Code: session.CodeState{
			Code:     state.CodeCurrent,
			Language: state.CodeLanguage,
		},
	}
	snap := e.snapshot
	e.mu.Unlock()

	e.transcript.Replace(state.MessagesTail)
	e.syncCodingComponents(snap)

	e.logger.Info().Str("stage", string(state.Stage)).Int("messages", len(state.MessagesTail)).Msg("Session resumed")
	return nil
}

// BeginRecording starts a listening cycle. Any active playback is
// cancelled before the microphone is requested, so barge-in stops audio
// output even if the device-open call fails. A no-op while already
// recording or once the session has ended.
func (e *Engine) BeginRecording(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if e.snapshot.Ended || e.closed {
		e.mu.Unlock()
		return ErrSessionEnded
	}
	e.mu.Unlock()

	// Cancel-then-acquire: output must be silent before the mic opens.
	wasPlaying := e.player.Playing()
	e.player.Cancel()
	if wasPlaying {
		e.publish(bus.EventTypePlaybackCancelled, nil)
	}

	began, err := e.recorder.Begin(ctx)
	if err != nil {
		e.publish(bus.EventTypeEngineError, map[string]any{"error": err.Error()})
		return err
	}
	if began {
		e.publish(bus.EventTypeRecordingStarted, nil)
	}
	return nil
}

// StopRecording ends the active cycle explicitly; the finished clip flows
// through the normal submission path.
func (e *Engine) StopRecording() {
	e.recorder.Stop()
}

// Mute suppresses auto-relisten after playback and submissions. It does
// not stop a recording the user started directly.
func (e *Engine) Mute() { e.setMuted(true) }

// Unmute re-enables auto-relisten.
func (e *Engine) Unmute() { e.setMuted(false) }

func (e *Engine) setMuted(muted bool) {
	e.mu.Lock()
	changed := e.muted != muted
	e.muted = muted
	e.mu.Unlock()

	if changed {
		e.publish(bus.EventTypeModeChanged, map[string]any{"muted": muted})
	}
}

// EditCode feeds a code-edit event into the autosave debouncer and resets
// the idle clock. Rejected once editing is locked or the session ended.
func (e *Engine) EditCode(code, language string) error {
	e.mu.Lock()
	if e.snapshot.Ended {
		e.mu.Unlock()
		return ErrSessionEnded
	}
	if !e.snapshot.CanEditCode {
		e.mu.Unlock()
		return ErrEditNotAllowed
	}
	e.mu.Unlock()

	e.monitor.ReportActivity()
	e.saver.Edit(code, language)
	return nil
}

// SetVADThreshold applies a new speech-detection threshold to the
// recorder, wired to config hot reload.
func (e *Engine) SetVADThreshold(threshold float64) {
	e.recorder.SetVADThreshold(threshold)
}

// Close tears the engine down: timers stop, pending autosaves are
// discarded, playback and recording are cancelled.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()

	e.monitor.Disable()
	e.saver.Close()
	e.player.Cancel()
	e.recorder.Stop()
	e.logger.Info().Msg("Engine closed")
}

// publish emits a bus event if a bus is wired.
func (e *Engine) publish(t bus.EventType, data map[string]any) {
	if e.eventBus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	e.eventBus.Publish(bus.Event{Type: t, Data: data})
}

// reportError surfaces a non-recoverable failure to the UI.
func (e *Engine) reportError(err error) {
	e.logger.Error().Err(err).Msg("Engine error")
	e.publish(bus.EventTypeEngineError, map[string]any{"error": err.Error()})
}

// decodeAssistantAudio turns the base64 reply payload into a playable one.
func decodeAssistantAudio(a *interview.Assistant) (playback.Payload, error) {
	data, err := base64.StdEncoding.DecodeString(a.AudioBase64)
	if err != nil {
		return playback.Payload{}, fmt.Errorf("malformed assistant audio: %w", err)
	}
	return playback.Payload{Audio: data, Mime: a.AudioMime}, nil
}
