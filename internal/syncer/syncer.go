// Package syncer runs report updates one after another and records the
// outcome of each in the sync audit log.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/livinlefevreloca/ghareport/internal/db"
	"github.com/livinlefevreloca/ghareport/internal/reports"
)

// AuditLog persists sync outcomes. *db.DB implements it.
type AuditLog interface {
	StartSyncRun(ctx context.Context, run *db.SyncRun) error
	FinishSyncRun(ctx context.Context, id string, completedAt time.Time, inserted, updated int, syncErr error) error
}

// Recorder receives sync metrics. *telemetry.Metrics implements it.
type Recorder interface {
	RecordSync(ctx context.Context, report, status string, inserted, updated int, elapsed time.Duration)
}

// Syncer runs reports sequentially. Audit records are written by a
// background goroutine so a slow or broken audit store never holds up a
// sync.
type Syncer struct {
	// Configuration
	config  Config
	logger  *slog.Logger
	audit   AuditLog
	metrics Recorder
	now     func() time.Time

	// Audit buffering
	mu           sync.Mutex
	auditChannel chan auditUpdate
	closed       bool
	dropped      int

	// Control
	wg sync.WaitGroup // Tracks the audit writer
}

// NewSyncer creates a syncer. audit and metrics may be nil.
func NewSyncer(config Config, audit AuditLog, metrics Recorder, logger *slog.Logger) (*Syncer, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Syncer{
		config:       config,
		logger:       logger,
		audit:        audit,
		metrics:      metrics,
		now:          time.Now,
		auditChannel: make(chan auditUpdate, config.AuditChannelSize),
	}, nil
}

// SetClock replaces the time source used for cutoffs and audit timestamps
func (s *Syncer) SetClock(now func() time.Time) {
	s.now = now
}

// Start launches the audit writer
func (s *Syncer) Start() {
	if s.audit == nil {
		return
	}
	s.wg.Add(1)
	go s.runAuditWriter()
}

// GetStats returns current syncer statistics
func (s *Syncer) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		PendingAudits: len(s.auditChannel),
		DroppedAudits: s.dropped,
	}
}

// Run synchronizes every updater in order. A failing report is logged and
// skipped; the others still run. The returned error aggregates every
// failure. Cancelling ctx stops the run before the next report.
func (s *Syncer) Run(ctx context.Context, updaters []reports.Updater) ([]Outcome, error) {
	var result *multierror.Error
	outcomes := make([]Outcome, 0, len(updaters))

	for i, u := range updaters {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("sync interrupted", "remaining", len(updaters)-i, "error", err)
			result = multierror.Append(result, fmt.Errorf("sync interrupted: %w", err))
			break
		}

		outcome := s.runOne(ctx, u)
		outcomes = append(outcomes, outcome)
		if outcome.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", outcome.Report, outcome.Err))
		}
	}

	return outcomes, result.ErrorOrNil()
}

func (s *Syncer) runOne(ctx context.Context, u reports.Updater) Outcome {
	started := s.now()
	outcome := Outcome{
		SyncID: uuid.NewString(),
		Report: u.Kind(),
		Sheet:  u.Sheet(),
	}
	logger := s.logger.With("report", string(u.Kind()), "sheet", u.Sheet(), "sync_id", outcome.SyncID)

	s.enqueue(auditUpdate{SyncID: outcome.SyncID, Report: string(u.Kind()), StartedAt: started})

	outcome.Result, outcome.Err = s.update(ctx, u, started, logger)

	completed := s.now()
	outcome.Duration = completed.Sub(started)

	status := db.SyncSucceeded
	if outcome.Err != nil {
		status = db.SyncFailed
		logger.Error("report sync failed", "error", outcome.Err, "duration", outcome.Duration)
	} else {
		logger.Info("report synced",
			"inserted", outcome.Result.Inserted,
			"updated", outcome.Result.Updated,
			"duration", outcome.Duration)
	}

	if s.metrics != nil {
		s.metrics.RecordSync(ctx, string(u.Kind()), status,
			outcome.Result.Inserted, outcome.Result.Updated, outcome.Duration)
	}

	s.enqueue(auditUpdate{
		SyncID:      outcome.SyncID,
		Report:      string(u.Kind()),
		StartedAt:   started,
		CompletedAt: completed,
		Inserted:    outcome.Result.Inserted,
		Updated:     outcome.Result.Updated,
		Err:         outcome.Err,
	})

	return outcome
}

// update runs one updater under the report timeout. A panic is turned into
// the report's error so the remaining reports still run.
func (s *Syncer) update(ctx context.Context, u reports.Updater, now time.Time, logger *slog.Logger) (result reports.Result, err error) {
	reportCtx, cancel := context.WithTimeout(ctx, s.config.ReportTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("report panic recovered", "panic", r)
			result = reports.Result{}
			err = fmt.Errorf("report panicked: %v", r)
		}
	}()

	return u.Update(reportCtx, now)
}

// enqueue hands an audit record to the writer without blocking
func (s *Syncer) enqueue(update auditUpdate) {
	if s.audit == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.dropped++
		return
	}
	select {
	case s.auditChannel <- update:
	default:
		s.dropped++
		s.logger.Warn("audit channel full, dropping record",
			"sync_id", update.SyncID, "report", update.Report)
	}
}

// runAuditWriter writes audit records until the channel is closed
func (s *Syncer) runAuditWriter() {
	defer s.wg.Done()

	for update := range s.auditChannel {
		err := s.writeAudit(update)

		if err != nil {
			s.logger.Error("failed to write sync audit",
				"sync_id", update.SyncID,
				"report", update.Report,
				"error", err)
		} else {
			s.logger.Debug("wrote sync audit",
				"sync_id", update.SyncID,
				"report", update.Report,
				"finished", update.finished())
		}
	}

	s.logger.Debug("audit writer shut down")
}

func (s *Syncer) writeAudit(update auditUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.AuditTimeout)
	defer cancel()

	if !update.finished() {
		return s.audit.StartSyncRun(ctx, &db.SyncRun{
			ID:        update.SyncID,
			Report:    update.Report,
			StartedAt: update.StartedAt,
			Status:    db.SyncRunning,
		})
	}

	err := s.audit.FinishSyncRun(ctx, update.SyncID, update.CompletedAt, update.Inserted, update.Updated, update.Err)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("no audit record started for %s: %w", update.SyncID, err)
	}
	return err
}

// Shutdown stops accepting audit records and waits for pending ones to be
// written.
func (s *Syncer) Shutdown() error {
	s.logger.Info("starting syncer shutdown")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.logger.Debug("closing audit channel", "pending", len(s.auditChannel))
	close(s.auditChannel)
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("syncer shutdown complete")
	return nil
}
