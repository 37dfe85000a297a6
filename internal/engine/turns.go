package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cofyye/ai-garaza/internal/audio"
	"github.com/cofyye/ai-garaza/internal/bus"
	"github.com/cofyye/ai-garaza/internal/interview"
	"github.com/cofyye/ai-garaza/internal/session"
)

// handleClip receives the finished clip of every recording cycle. Clips
// below the minimum byte threshold are treated as "no speech" and never
// uploaded; in continuous mode the engine simply listens again.
func (e *Engine) handleClip(clip audio.Clip) {
	e.publish(bus.EventTypeRecordingStopped, map[string]any{
		"clipId":   clip.ID,
		"bytes":    len(clip.Data),
		"duration": clip.Duration.Seconds(),
	})

	if len(clip.Data) < e.config.MinClipBytes {
		e.logger.Debug().
			Str("clipId", clip.ID).
			Int("bytes", len(clip.Data)).
			Int("min", e.config.MinClipBytes).
			Msg("Clip below minimum size, discarding")
		e.publish(bus.EventTypeRecordingDiscarded, map[string]any{"clipId": clip.ID})
		e.relisten()
		return
	}

	go e.submitClip(clip)
}

// handleRecorderError surfaces permission and device failures. They need
// user action, so the cycle is never silently retried.
func (e *Engine) handleRecorderError(err error) {
	e.reportError(err)
}

// submitClip uploads one clip. Submissions are serialized: a second clip
// arriving while one is in flight is dropped, never queued.
func (e *Engine) submitClip(clip audio.Clip) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		e.logger.Warn().Str("clipId", clip.ID).Msg("Submission already in flight, dropping clip")
		return
	}
	if e.snapshot.Ended || e.closed {
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.mu.Unlock()

	e.publish(bus.EventTypeUploadStarted, map[string]any{"clipId": clip.ID, "bytes": len(clip.Data)})

	filename := "clip." + string(clip.Format)
	resp, err := e.client.SubmitAudio(context.Background(), e.sessionID, clip.Data, filename, clip.Format.MimeType())

	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()

	if err != nil {
		e.handleSubmitFailure(clip.ID, err)
		return
	}

	e.mu.Lock()
	e.netFailures = 0
	e.mu.Unlock()

	e.publish(bus.EventTypeUploadFinished, map[string]any{
		"clipId":     clip.ID,
		"transcript": resp.Transcript,
		"stage":      string(resp.Stage),
	})

	e.apply(resp)
	e.continueAfterTurn(resp)
}

// handleSubmitFailure drops the clip and decides how to recover. Manual
// mode surfaces the error for the user to retry. Continuous mode restarts
// the listen loop: immediately after a service verdict (e.g. no speech
// detected), with capped exponential backoff after network failures so a
// persistent outage cannot produce a tight retry loop.
func (e *Engine) handleSubmitFailure(clipID string, err error) {
	e.logger.Warn().Err(err).Str("clipId", clipID).Msg("Submission failed, clip dropped")
	e.publish(bus.EventTypeUploadFailed, map[string]any{"clipId": clipID, "error": err.Error()})

	e.mu.Lock()
	continuous := e.config.Mode == ModeContinuous && !e.muted && !e.snapshot.Ended && !e.closed
	e.mu.Unlock()

	if !continuous {
		e.reportError(err)
		return
	}

	if !errors.Is(err, interview.ErrNetwork) {
		e.relisten()
		return
	}

	e.mu.Lock()
	e.netFailures++
	failures := e.netFailures
	e.mu.Unlock()

	if failures >= e.config.MaxRetries {
		e.mu.Lock()
		if e.retryTimer != nil {
			e.retryTimer.Stop()
			e.retryTimer = nil
		}
		e.mu.Unlock()
		e.logger.Error().Int("failures", failures).Msg("Giving up on auto-retry")
		e.reportError(err)
		return
	}

	backoff := e.config.RetryBackoff << (failures - 1)
	if backoff > e.config.RetryBackoffMax {
		backoff = e.config.RetryBackoffMax
	}
	e.logger.Info().Dur("backoff", backoff).Int("failures", failures).Msg("Scheduling listen retry")

	e.mu.Lock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
	}
	e.retryTimer = time.AfterFunc(backoff, func() {
		if err := e.BeginRecording(context.Background()); err != nil {
			e.logger.Warn().Err(err).Msg("Retry listen failed")
		}
	})
	e.mu.Unlock()
}

// SubmitText sends a typed message, the fallback for muted input. Unlike
// clip submissions, failures are always surfaced: the user acted
// deliberately and can retry.
func (e *Engine) SubmitText(ctx context.Context, text string) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if e.snapshot.Ended {
		e.mu.Unlock()
		return ErrSessionEnded
	}
	if e.inFlight {
		e.mu.Unlock()
		return ErrBusy
	}
	e.inFlight = true
	e.mu.Unlock()

	resp, err := e.client.SubmitText(ctx, e.sessionID, text)

	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()

	if err != nil {
		return err
	}

	e.appendMessage(session.RoleUser, text)
	e.apply(resp)
	e.continueAfterTurn(resp)
	return nil
}

// ReportIdle forwards an idle report to the server. The response carries
// assistant content only when the server-side cooldown is satisfied.
func (e *Engine) ReportIdle(ctx context.Context, secondsIdle int) error {
	e.mu.Lock()
	eligible := e.started && !e.snapshot.Ended && !e.closed &&
		e.snapshot.Stage == session.StageCoding && e.snapshot.CanEditCode
	e.mu.Unlock()

	if !eligible {
		return nil
	}

	e.publish(bus.EventTypeIdleNudge, map[string]any{"secondsIdle": secondsIdle})

	resp, err := e.client.ReportIdle(ctx, e.sessionID, secondsIdle)
	if err != nil {
		// Nudges are best-effort; the next poll tries again.
		e.logger.Warn().Err(err).Msg("Idle report failed")
		return err
	}

	if resp.Assistant == nil || resp.Assistant.Text == "" {
		e.logger.Debug().Msg("Idle report absorbed by server cooldown")
		return nil
	}

	e.apply(resp)
	e.continueAfterTurn(resp)
	return nil
}

// handleIdleNudge adapts the idle monitor callback onto ReportIdle.
func (e *Engine) handleIdleNudge(idleFor time.Duration) {
	if err := e.ReportIdle(context.Background(), int(idleFor.Seconds())); err != nil {
		e.logger.Debug().Err(err).Msg("Idle nudge not delivered")
	}
}

// persistCode is the autosave sink. Fire-and-forget: a failed write is
// logged and the next debounce fire tries again with newer code.
func (e *Engine) persistCode(code, language string) {
	e.mu.Lock()
	eligible := e.started && !e.snapshot.Ended && !e.closed && e.snapshot.CanEditCode
	e.mu.Unlock()

	if !eligible {
		return
	}

	if err := e.client.UpdateCode(context.Background(), e.sessionID, code, language); err != nil {
		e.logger.Warn().Err(err).Msg("Code autosave failed")
		return
	}

	e.mu.Lock()
	e.snapshot.Code = session.CodeState{Code: code, Language: language, ChangedAt: time.Now()}
	e.mu.Unlock()

	e.publish(bus.EventTypeCodeSaved, map[string]any{"bytes": len(code), "language": language})
}
