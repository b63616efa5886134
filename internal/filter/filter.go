package filter

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"feeportal/internal/debounce"
)

// All is the sentinel meaning "no filter" for school and period.
const All = "all"

// DefaultWindow is the quiet period before a filter change is settled.
const DefaultWindow = 300 * time.Millisecond

// State is the set of list filters. School and Period are never empty: they
// hold All when unset. An empty Status means the caller did not pick one.
type State struct {
	Search string `json:"search"`
	School string `json:"school"`
	Period string `json:"period"`
	Status string `json:"status,omitempty"`
}

// Default is the initial filter state.
func Default() State {
	return State{School: All, Period: All}
}

func (s State) normalized() State {
	if strings.TrimSpace(s.School) == "" {
		s.School = All
	}
	if strings.TrimSpace(s.Period) == "" {
		s.Period = All
	}
	return s
}

// Manager owns one filter state. Fields change only through the setters;
// readers see either the immediate state or the last settled snapshot.
type Manager struct {
	log      *slog.Logger
	debounce *debounce.Debouncer

	mu      sync.Mutex
	current State
	settled State
	changes chan State
	closed  bool
}

// NewManager creates a manager starting from Default, which counts as settled.
// A window <= 0 uses DefaultWindow.
func NewManager(window time.Duration, logger *slog.Logger) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		log:      logger,
		debounce: debounce.New(window),
		current:  Default(),
		settled:  Default(),
		changes:  make(chan State, 1),
	}
}

func (m *Manager) SetSearch(v string) { m.update("search", func(s *State) { s.Search = v }) }
func (m *Manager) SetSchool(v string) { m.update("school", func(s *State) { s.School = v }) }
func (m *Manager) SetPeriod(v string) { m.update("period", func(s *State) { s.Period = v }) }
func (m *Manager) SetStatus(v string) { m.update("status", func(s *State) { s.Status = v }) }

// Current is the keystroke-accurate state, for echoing back into inputs.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Settled is the last snapshot that survived a full quiet window.
func (m *Manager) Settled() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}

// Changes delivers settled snapshots. Only the most recent undelivered one is
// kept. The channel is closed by Close.
func (m *Manager) Changes() <-chan State {
	return m.changes
}

// Close stops pending settlements and closes Changes.
func (m *Manager) Close() {
	m.debounce.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.changes)
}

func (m *Manager) update(field string, apply func(*State)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	next := m.current
	apply(&next)
	next = next.normalized()
	if next == m.current {
		m.mu.Unlock()
		return
	}
	m.current = next
	m.mu.Unlock()

	m.log.Debug("filter changed", "field", field, "state", next)
	m.debounce.Trigger(m.settle)
}

func (m *Manager) settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.current == m.settled {
		return
	}
	m.settled = m.current
	// latest wins: drop an undelivered older snapshot
	select {
	case <-m.changes:
	default:
	}
	m.changes <- m.settled
	m.log.Debug("filter settled", "state", m.settled)
}
