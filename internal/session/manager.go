package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/metrics"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Manager hands out one Session per (flow, id), restoring it from storage on
// first use. Sessions that go unrequested for the idle period are closed by
// Sweep; their ledger survives in storage and is reloaded on the next Get.
type Manager struct {
	deps Deps
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*managed
}

type managed struct {
	session  *Session
	lastUsed time.Time
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, now: time.Now, sessions: make(map[string]*managed)}
}

func (m *Manager) Get(ctx context.Context, flow domain.Flow, id string) (*Session, error) {
	if !flow.Valid() {
		return nil, fmt.Errorf("%w: unknown flow %q", ErrInvalidSessionID, flow)
	}
	if !sessionIDPattern.MatchString(id) {
		return nil, ErrInvalidSessionID
	}

	key := string(flow) + "/" + id
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[key]; ok {
		entry.lastUsed = m.now()
		return entry.session, nil
	}
	s := Open(ctx, flow, id, m.deps)
	m.sessions[key] = &managed{session: s, lastUsed: m.now()}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return s, nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, entry := range m.sessions {
		out = append(out, entry.session)
	}
	return out
}

// Sweep closes every session not requested within idle and returns how many
// were closed.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	var evicted []*Session
	for key, entry := range m.sessions {
		if entry.lastUsed.Before(cutoff) {
			evicted = append(evicted, entry.session)
			delete(m.sessions, key)
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	// Close drains queued writes, so it runs outside the lock.
	for _, s := range evicted {
		s.Close()
	}
	return len(evicted)
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(idle); n > 0 {
				log.Printf("[session] closed %d idle sessions", n)
			}
		}
	}
}

// Flush waits for every session's queued writes.
func (m *Manager) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m.snapshot() {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s/%s: %w", s.Flow(), s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Close() {
	for _, s := range m.snapshot() {
		s.Close()
	}
	m.mu.Lock()
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(0)
}
