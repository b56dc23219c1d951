package syncer

import (
	"time"

	"github.com/livinlefevreloca/ghareport/internal/reports"
)

// auditUpdate is one write to the sync audit log. A zero CompletedAt marks
// the start of a sync.
type auditUpdate struct {
	SyncID      string // UUID shared by the start and finish records
	Report      string
	StartedAt   time.Time
	CompletedAt time.Time
	Inserted    int
	Updated     int
	Err         error
}

func (u auditUpdate) finished() bool {
	return !u.CompletedAt.IsZero()
}

// Outcome is the result of synchronizing one report
type Outcome struct {
	SyncID   string
	Report   reports.Kind
	Sheet    string
	Result   reports.Result
	Duration time.Duration
	Err      error
}

// Stats provides current syncer statistics
type Stats struct {
	PendingAudits int
	DroppedAudits int
}
