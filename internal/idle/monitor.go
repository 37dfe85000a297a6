// Package idle detects candidate inactivity during the coding phase and
// fires a throttled nudge callback.
package idle

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config tunes the monitor.
type Config struct {
	Threshold    time.Duration `json:"threshold"`     // Idle time before a nudge, default 30s
	Cooldown     time.Duration `json:"cooldown"`      // Minimum gap between nudges, default 45s
	PollInterval time.Duration `json:"poll_interval"` // Default 5s
}

// DefaultConfig returns sensible defaults. The 45s cooldown mirrors the
// server-side nudge cooldown so suppressed reports are not even sent.
func DefaultConfig() *Config {
	return &Config{
		Threshold:    30 * time.Second,
		Cooldown:     45 * time.Second,
		PollInterval: 5 * time.Second,
	}
}

// Monitor polls wall-clock time since the last reported activity and
// invokes the nudge callback at most once per cooldown window. It is inert
// until Enable is called and must be disabled outside the coding stage.
type Monitor struct {
	config *Config
	logger zerolog.Logger

	// onNudge receives the observed idle duration. lastNudgeAt is updated
	// before the callback runs so an in-flight nudge cannot double-fire.
	onNudge func(idle time.Duration)

	mu             sync.Mutex
	enabled        bool
	lastActivityAt time.Time
	lastNudgeAt    time.Time
	stopCh         chan struct{}

	now func() time.Time
}

// NewMonitor creates a disabled Monitor.
func NewMonitor(config *Config, onNudge func(idle time.Duration), logger zerolog.Logger) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}

	return &Monitor{
		config:  config,
		onNudge: onNudge,
		logger:  logger.With().Str("component", "idle-monitor").Logger(),
		now:     time.Now,
	}
}

// ReportActivity marks the candidate as active, wired to code-edit events.
func (m *Monitor) ReportActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivityAt = m.now()
}

// Enable starts polling. A no-op if already enabled. Activity is reset so
// stale pre-enable idle time cannot trigger an immediate nudge.
func (m *Monitor) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enabled {
		return
	}
	m.enabled = true
	m.lastActivityAt = m.now()
	m.stopCh = make(chan struct{})

	m.logger.Debug().
		Dur("threshold", m.config.Threshold).
		Dur("cooldown", m.config.Cooldown).
		Msg("Idle monitor enabled")

	go m.poll(m.stopCh)
}

// Disable stops polling. Safe to call repeatedly.
func (m *Monitor) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.enabled = false
	close(m.stopCh)
	m.stopCh = nil

	m.logger.Debug().Msg("Idle monitor disabled")
}

// Enabled reports whether the monitor is polling.
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Monitor) poll(stopCh chan struct{}) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check fires the nudge when both the idle threshold and the cooldown are
// satisfied. lastNudgeAt is stamped before the callback so the async
// network call it performs cannot race a second fire.
func (m *Monitor) check() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}

	now := m.now()
	idle := now.Sub(m.lastActivityAt)
	if idle < m.config.Threshold || now.Sub(m.lastNudgeAt) < m.config.Cooldown {
		m.mu.Unlock()
		return
	}

	m.lastNudgeAt = now
	onNudge := m.onNudge
	m.mu.Unlock()

	m.logger.Debug().Dur("idle", idle).Msg("Idle nudge")
	if onNudge != nil {
		onNudge(idle)
	}
}
