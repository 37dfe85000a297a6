package session

import (
	"sync"
	"time"
)

// TranscriptConfig configures the Transcript behavior.
type TranscriptConfig struct {
	// MaxMessages is the maximum number of messages to retain (default: 200)
	MaxMessages int
}

// DefaultTranscriptConfig returns sensible defaults.
func DefaultTranscriptConfig() TranscriptConfig {
	return TranscriptConfig{MaxMessages: 200}
}

// Transcript is the append-only conversation log of a session. Append order
// must reflect the order the producing API calls resolved, so the caller
// serializes its calls; the mutex only protects concurrent readers.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	config   TranscriptConfig
}

// NewTranscript creates an empty Transcript with the given config.
func NewTranscript(config TranscriptConfig) *Transcript {
	if config.MaxMessages <= 0 {
		config.MaxMessages = 200
	}
	return &Transcript{
		messages: make([]Message, 0, 32),
		config:   config,
	}
}

// Append records a message. Old messages are trimmed to stay within
// MaxMessages; trimming drops from the front so ordering is preserved.
func (t *Transcript) Append(role, text string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ts.IsZero() {
		ts = time.Now()
	}
	t.messages = append(t.messages, Message{Role: role, Text: text, Ts: ts})

	if len(t.messages) > t.config.MaxMessages {
		t.messages = t.messages[len(t.messages)-t.config.MaxMessages:]
	}
}

// AppendAll records messages in order.
func (t *Transcript) AppendAll(msgs []Message) {
	for _, m := range msgs {
		t.Append(m.Role, m.Text, m.Ts)
	}
}

// Replace swaps the whole log for the given messages, used when the server
// returns an authoritative tail during reconciliation.
func (t *Transcript) Replace(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = make([]Message, len(msgs))
	copy(t.messages, msgs)
}

// Len returns the number of stored messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Tail returns a copy of the last n messages (all of them if n <= 0 or
// larger than the log).
func (t *Transcript) Tail(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 || n > len(t.messages) {
		n = len(t.messages)
	}
	result := make([]Message, n)
	copy(result, t.messages[len(t.messages)-n:])
	return result
}

// Last returns the most recent message with the given role, or false if
// none exists.
func (t *Transcript) Last(role string) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == role {
			return t.messages[i], true
		}
	}
	return Message{}, false
}

// Clear removes all messages.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = t.messages[:0]
}
