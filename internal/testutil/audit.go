package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/livinlefevreloca/ghareport/internal/db"
)

// MockAuditLog keeps sync runs in memory
type MockAuditLog struct {
	mu         sync.Mutex
	runs       map[string]*db.SyncRun
	order      []string
	startError error
	writeDelay time.Duration
}

func NewMockAuditLog() *MockAuditLog {
	return &MockAuditLog{runs: make(map[string]*db.SyncRun)}
}

func (m *MockAuditLog) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

func (m *MockAuditLog) SetWriteDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeDelay = delay
}

func (m *MockAuditLog) StartSyncRun(_ context.Context, run *db.SyncRun) error {
	m.mu.Lock()
	delay, err := m.writeDelay, m.startError
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *run
	m.runs[run.ID] = &stored
	m.order = append(m.order, run.ID)
	return nil
}

func (m *MockAuditLog) FinishSyncRun(_ context.Context, id string, completedAt time.Time, inserted, updated int, syncErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return db.ErrNotFound
	}
	run.CompletedAt = &completedAt
	run.RowsInserted = inserted
	run.RowsUpdated = updated
	run.Status = db.SyncSucceeded
	run.Error = nil
	if syncErr != nil {
		msg := syncErr.Error()
		run.Status = db.SyncFailed
		run.Error = &msg
	}
	return nil
}

// Runs returns stored runs in the order they were started
func (m *MockAuditLog) Runs() []db.SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]db.SyncRun, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.runs[id])
	}
	return out
}
