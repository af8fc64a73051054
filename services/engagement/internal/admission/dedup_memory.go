package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryDeduper is the process-local duplicate suppressor.
type MemoryDeduper struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry
	window  time.Duration
	now     func() time.Time
}

type dedupEntry struct {
	executedAt time.Time
	outcome    []byte
}

func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		entries: make(map[string]*dedupEntry),
		window:  window,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *MemoryDeduper) WithClock(now func() time.Time) *MemoryDeduper {
	m.now = now
	return m
}

func (m *MemoryDeduper) Claim(_ context.Context, fp string) (ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[fp]; ok && now.Sub(e.executedAt) < m.window {
		return ClaimResult{Duplicate: true, Previous: e.outcome}, nil
	}
	m.entries[fp] = &dedupEntry{executedAt: now}
	return ClaimResult{}, nil
}

func (m *MemoryDeduper) Record(_ context.Context, fp string, outcome []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[fp]; ok {
		e.outcome = append([]byte(nil), outcome...)
	}
	return nil
}

func (m *MemoryDeduper) Release(_ context.Context, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fp)
	return nil
}

// Sweep drops entries older than the window.
func (m *MemoryDeduper) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for fp, e := range m.entries {
		if now.Sub(e.executedAt) >= m.window {
			delete(m.entries, fp)
			n++
		}
	}
	return n
}

// RunJanitor sweeps every interval until ctx is done.
func (m *MemoryDeduper) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
