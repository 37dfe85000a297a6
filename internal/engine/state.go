package engine

import (
	"context"
	"time"

	"github.com/cofyye/ai-garaza/internal/bus"
	"github.com/cofyye/ai-garaza/internal/interview"
	"github.com/cofyye/ai-garaza/internal/session"
)

// apply folds a turn response into the mirrored session state. The server
// is authoritative; the engine never advances a stage on its own, it only
// reflects what the response declares.
func (e *Engine) apply(resp *interview.TurnResponse) {
	e.mu.Lock()
	prev := e.snapshot
	next := prev

	if resp.Stage != "" {
		if resp.Stage.CanFollow(prev.Stage) {
			next.Stage = resp.Stage
		} else {
			// A regression would rewind interview progress; keep the
			// further stage and log it.
			e.logger.Warn().
				Str("current", string(prev.Stage)).
				Str("received", string(resp.Stage)).
				Msg("Ignoring backward stage transition")
		}
	}

	canEdit := resp.CanEditCode
	if canEdit && !next.Stage.AllowsCodeEditing() {
		e.logger.Warn().Str("stage", string(next.Stage)).Msg("Server allowed editing in a non-coding stage, clamping")
		canEdit = false
	}
	next.CanEditCode = canEdit
	next.TaskUnlocked = resp.TaskUnlocked
	next.Ended = resp.Ended
	next.EndedEarly = resp.EndedEarly

	e.snapshot = next
	e.mu.Unlock()

	if resp.Transcript != "" {
		e.appendMessage(session.RoleUser, resp.Transcript)
	}
	if resp.Assistant != nil && resp.Assistant.Text != "" {
		e.appendMessage(session.RoleAssistant, resp.Assistant.Text)
	}

	if next.Stage != prev.Stage {
		e.logger.Info().Str("from", string(prev.Stage)).Str("to", string(next.Stage)).Msg("Stage changed")
		e.publish(bus.EventTypeStageChanged, map[string]any{"from": string(prev.Stage), "to": string(next.Stage)})
	}

	e.syncCodingComponents(next)

	if next.Ended && !prev.Ended {
		e.logger.Info().Bool("early", next.EndedEarly).Msg("Interview ended")
		e.publish(bus.EventTypeSessionEnded, map[string]any{"early": next.EndedEarly})
	}
}

// syncCodingComponents enables or disables the idle monitor and autosave
// debouncer to match the session state. The monitor only runs while the
// candidate is expected to be coding.
func (e *Engine) syncCodingComponents(snap session.Snapshot) {
	coding := snap.Stage == session.StageCoding && snap.CanEditCode && !snap.Ended

	if coding {
		e.monitor.Enable()
		return
	}

	e.monitor.Disable()
	if !snap.CanEditCode || snap.Ended {
		// Any pending autosave belongs to an editing window that no
		// longer exists.
		e.saver.Cancel()
	}
}

// continueAfterTurn plays the assistant line if the response carries
// audio; otherwise the conversation advances immediately. A terminal
// response still gets its closing line played, but no new cycle follows.
func (e *Engine) continueAfterTurn(resp *interview.TurnResponse) {
	if resp.Assistant != nil && resp.Assistant.HasAudio() {
		payload, err := decodeAssistantAudio(resp.Assistant)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Dropping undecodable assistant audio")
		} else {
			e.publish(bus.EventTypePlaybackStarted, map[string]any{"bytes": len(payload.Audio), "mime": payload.Mime})
			e.player.Play(payload)
			return
		}
	}
	e.relisten()
}

// handlePlaybackDone runs when an assistant line finishes on its own.
// Cancelled playback never reaches here, so barge-in does not trigger a
// competing relisten.
func (e *Engine) handlePlaybackDone() {
	e.publish(bus.EventTypePlaybackFinished, nil)
	e.relisten()
}

// relisten starts the next recording cycle when the engine is in
// continuous mode and nothing suppresses listening.
func (e *Engine) relisten() {
	e.mu.Lock()
	eligible := e.config.Mode == ModeContinuous && e.started && !e.muted && !e.snapshot.Ended && !e.closed
	e.mu.Unlock()

	if !eligible {
		return
	}
	if err := e.BeginRecording(context.Background()); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to resume listening")
	}
}

// appendMessage records a message in the local transcript and announces
// it on the bus.
func (e *Engine) appendMessage(role, text string) {
	e.transcript.Append(role, text, time.Now())
	e.publish(bus.EventTypeMessageAdded, map[string]any{"role": role, "text": text})
}
