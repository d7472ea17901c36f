package cache

import (
	"sort"
	"sync"
	"time"
)

// SessionTracker records which tools received a full guide in each
// session. Sessions with an empty id are never tracked.
type SessionTracker struct {
	now     func() time.Time
	metrics *Metrics

	mu       sync.RWMutex
	sessions map[string]map[string]time.Time
}

// TrackerOption configures a SessionTracker.
type TrackerOption func(*SessionTracker)

// WithTrackerClock sets the tracker's time source.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *SessionTracker) { t.now = now }
}

// WithTrackerMetrics attaches Prometheus metrics.
func WithTrackerMetrics(m *Metrics) TrackerOption {
	return func(t *SessionTracker) { t.metrics = m }
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker(opts ...TrackerOption) *SessionTracker {
	t := &SessionTracker{
		now:      time.Now,
		sessions: make(map[string]map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkInjected records a full injection of toolName in sessionID. It
// returns true only for the first mark; later marks are no-ops.
func (t *SessionTracker) MarkInjected(sessionID, toolName string) bool {
	if sessionID == "" || toolName == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	tools, ok := t.sessions[sessionID]
	if !ok {
		tools = make(map[string]time.Time)
		t.sessions[sessionID] = tools
		t.metrics.setSessions(len(t.sessions))
	}
	if _, seen := tools[toolName]; seen {
		return false
	}
	tools[toolName] = t.now()
	t.metrics.recordInjection()
	return true
}

// WasInjected reports whether toolName already had a full injection in
// sessionID.
func (t *SessionTracker) WasInjected(sessionID, toolName string) bool {
	if sessionID == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[sessionID][toolName]
	return ok
}

// InjectedAt returns when toolName was first injected in sessionID.
func (t *SessionTracker) InjectedAt(sessionID, toolName string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.sessions[sessionID][toolName]
	return at, ok
}

// Tools lists the tools injected in a session, sorted.
func (t *SessionTracker) Tools(sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tools := make([]string, 0, len(t.sessions[sessionID]))
	for name := range t.sessions[sessionID] {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// Clear forgets a session. It reports whether the session existed and is
// idempotent.
func (t *SessionTracker) Clear(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sessionID]; !ok {
		return false
	}
	delete(t.sessions, sessionID)
	t.metrics.setSessions(len(t.sessions))
	return true
}

// Sessions returns the number of tracked sessions.
func (t *SessionTracker) Sessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
