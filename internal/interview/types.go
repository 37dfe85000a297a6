// Package interview provides the HTTP client for the external interview
// conductor service.
package interview

import (
	"errors"
	"fmt"

	"github.com/cofyye/ai-garaza/internal/session"
)

// Common errors
var (
	// ErrNetwork wraps transport failures and timeouts: the request never
	// produced a server verdict, so the caller may retry.
	ErrNetwork = errors.New("interview service unreachable")
	// ErrService wraps non-2xx responses: the server rejected the call.
	ErrService = errors.New("interview service error")
)

// StatusError carries the HTTP status and the decoded detail of a non-2xx
// response. It matches ErrService under errors.Is.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("interview service returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("interview service returned %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrService }

// Assistant is the reply of the interviewer, with optional synthesized audio.
type Assistant struct {
	Text        string `json:"text"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	AudioMime   string `json:"audio_mime,omitempty"`
}

// HasAudio reports whether the reply carries a playable payload.
func (a *Assistant) HasAudio() bool {
	return a != nil && a.AudioBase64 != ""
}

// TurnResponse is the shared response shape of start, audio, message and
// idle calls. The server's declared stage and flags are authoritative.
type TurnResponse struct {
	SessionID    string            `json:"session_id"`
	Stage        session.Stage     `json:"stage"`
	CanEditCode  bool              `json:"can_edit_code"`
	TaskUnlocked bool              `json:"task_unlocked"`
	Ended        bool              `json:"interview_ended"`
	EndedEarly   bool              `json:"early_termination"`
	Transcript   string            `json:"transcript,omitempty"`
	Assistant    *Assistant        `json:"assistant,omitempty"`
	MessagesTail []session.Message `json:"messages_tail"`
}

// StateResponse is the reconciliation mirror returned by GET /state.
type StateResponse struct {
	SessionID    string            `json:"session_id"`
	Stage        session.Stage     `json:"stage"`
	CanEditCode  bool              `json:"can_edit_code"`
	TaskUnlocked bool              `json:"task_unlocked"`
	Ended        bool              `json:"interview_ended"`
	EndedEarly   bool              `json:"early_termination"`
	MessagesTail []session.Message `json:"messages_tail"`
	CodeCurrent  string            `json:"code_current"`
	CodeLanguage string            `json:"code_language"`
}
