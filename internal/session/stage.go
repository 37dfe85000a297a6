// Package session holds the interview session types mirrored from the server.
package session

// Stage is a named phase of the structured interview.
type Stage string

const (
	StageIntro      Stage = "INTRO"
	StageScreening  Stage = "SCREENING"
	StageTask       Stage = "TASK"
	StageCoding     Stage = "CODING"
	StageWrapup     Stage = "WRAPUP"
	StageTerminated Stage = "TERMINATED"
)

// stageOrder defines the fixed total order of non-terminated stages.
var stageOrder = map[Stage]int{
	StageIntro:     0,
	StageScreening: 1,
	StageTask:      2,
	StageCoding:    3,
	StageWrapup:    4,
}

// Ordinal returns the stage's position in the interview order.
// TERMINATED sorts after everything since it is absorbing.
func (s Stage) Ordinal() int {
	if s == StageTerminated {
		return len(stageOrder)
	}
	if n, ok := stageOrder[s]; ok {
		return n
	}
	return -1
}

// Valid reports whether s is one of the known stage literals.
func (s Stage) Valid() bool {
	if s == StageTerminated {
		return true
	}
	_, ok := stageOrder[s]
	return ok
}

// Terminal reports whether the interview is over in this stage.
func (s Stage) Terminal() bool {
	return s == StageWrapup || s == StageTerminated
}

// CanFollow reports whether transitioning from prev to s respects the
// monotonic stage order. TERMINATED is reachable from any stage; no
// transition may move backward.
func (s Stage) CanFollow(prev Stage) bool {
	if s == StageTerminated {
		return true
	}
	if !s.Valid() || !prev.Valid() {
		return false
	}
	return s.Ordinal() >= prev.Ordinal()
}

// AllowsCodeEditing reports whether can_edit_code may legally be true.
func (s Stage) AllowsCodeEditing() bool {
	return s == StageTask || s == StageCoding
}
