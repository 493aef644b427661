package timer

import (
	"context"
	"sync"
	"time"

	"github.com/kiliankoe/doublecross/internal/game"
)

// Memory is a single-process timer used when no Redis is configured.
type Memory struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	now       func() time.Time
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{deadlines: make(map[string]time.Time), now: now}
}

var _ game.Timer = (*Memory)(nil)

func (m *Memory) Start(_ context.Context, sessionID string, seconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[sessionID] = m.now().Add(time.Duration(seconds) * time.Second)
	return nil
}

func (m *Memory) Cancel(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, sessionID)
	return nil
}

func (m *Memory) RemainingSeconds(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deadlines[sessionID]
	if !ok {
		return 0, nil
	}
	left := d.Sub(m.now())
	if left <= 0 {
		return 0, nil
	}
	return int(left.Round(time.Second) / time.Second), nil
}

func (m *Memory) IsExpired(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deadlines[sessionID]
	return ok && !m.now().Before(d), nil
}
