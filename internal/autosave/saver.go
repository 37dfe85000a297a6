// Package autosave coalesces rapid code edits into a single persisted
// write after a quiet period.
package autosave

import (
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"
)

// PersistFunc receives the value to persist when the debounce fires.
type PersistFunc func(code, language string)

// Saver debounces edit events. Each Edit re-arms the timer and stores the
// latest value; only that value is persisted when the quiet period elapses.
// Intermediate values are never queued.
type Saver struct {
	debounced func(func())
	persist   PersistFunc
	logger    zerolog.Logger

	mu         sync.Mutex
	code       string
	language   string
	generation uint64
	closed     bool
}

// NewSaver creates a Saver with the given quiet period.
func NewSaver(delay time.Duration, persist PersistFunc, logger zerolog.Logger) *Saver {
	if delay <= 0 {
		delay = 800 * time.Millisecond
	}

	return &Saver{
		debounced: debounce.New(delay),
		persist:   persist,
		logger:    logger.With().Str("component", "autosave").Logger(),
	}
}

// Edit records the latest value and re-arms the debounce timer.
func (s *Saver) Edit(code, language string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.code = code
	s.language = language
	gen := s.generation
	s.mu.Unlock()

	s.debounced(func() { s.fire(gen) })
}

// Cancel drops any pending persist without closing the Saver, used when
// the session becomes ineligible for code writes.
func (s *Saver) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// Close permanently disables the Saver; a pending timer that fires later
// will not persist.
func (s *Saver) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.generation++
}

// fire runs when the quiet period elapses. A stale generation means the
// pending write was cancelled after scheduling.
func (s *Saver) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	code := s.code
	language := s.language
	s.mu.Unlock()

	s.logger.Debug().Int("bytes", len(code)).Str("language", language).Msg("Persisting code")
	s.persist(code, language)
}
