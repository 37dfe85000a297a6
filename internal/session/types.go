package session

import "time"

// Message roles as used on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single conversation entry. Messages are immutable once
// appended and ordering reflects the order their producing calls resolved.
type Message struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	Ts   time.Time `json:"ts"`
}

// CodeState is the single mutable code slot of a session. Each accepted
// edit produces a new logical version; only the latest is persisted.
type CodeState struct {
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	ChangedAt time.Time `json:"changed_at"`
}

// Snapshot mirrors the server-declared session state. It is owned by the
// orchestrator and mutated only by applying an interview API response.
type Snapshot struct {
	SessionID    string    `json:"session_id"`
	Stage        Stage     `json:"stage"`
	CanEditCode  bool      `json:"can_edit_code"`
	TaskUnlocked bool      `json:"task_unlocked"`
	Ended        bool      `json:"interview_ended"`
	EndedEarly   bool      `json:"early_termination"`
	Code         CodeState `json:"code"`
}

// Consistent reports whether the snapshot honors the flag invariant:
// code editing is only permitted in TASK or CODING.
func (s Snapshot) Consistent() bool {
	if s.CanEditCode && !s.Stage.AllowsCodeEditing() {
		return false
	}
	return true
}
