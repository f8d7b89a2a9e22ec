package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/BradenHooton/praxis/internal/models"
	pkglogger "github.com/BradenHooton/praxis/pkg/logger"
)

const (
	auditWriteTimeout = 5 * time.Second
	// maxPendingAuditWrites bounds background writes; Append blocks past it
	maxPendingAuditWrites = 32
)

// AuditEvent is one security-relevant occurrence
type AuditEvent struct {
	UserID   string
	Action   string
	IP       string
	Details  models.AuditDetails
	Severity models.Severity
}

// Auditor appends audit events without ever failing the caller
type Auditor interface {
	Append(ctx context.Context, event AuditEvent)
}

// AuditService dual-writes audit events: synchronously to slog, then
// asynchronously to the append-only table. Persistence failures are logged
// and swallowed.
type AuditService struct {
	repo    AuditRepository
	events  *pkglogger.SecurityLogger
	logger  *slog.Logger
	now     func() time.Time
	pending *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:    repo,
		events:  pkglogger.NewSecurityLogger(logger),
		logger:  logger,
		now:     time.Now,
		pending: semaphore.NewWeighted(maxPendingAuditWrites),
	}
}

// WithMaxPending overrides the bound on background writes
func (s *AuditService) WithMaxPending(n int64) *AuditService {
	s.pending = semaphore.NewWeighted(n)
	return s
}

// WithClock overrides the time source
func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	s.now = now
	return s
}

// Append records event. The database write runs in the background detached
// from the request's cancellation. Append waits for a write slot when too
// many writes are pending and drops the entry if none frees up in time.
func (s *AuditService) Append(ctx context.Context, event AuditEvent) {
	if event.Severity == "" {
		event.Severity = models.SeverityLow
	}
	entry := &models.SecurityAuditLogEntry{
		Action:    event.Action,
		IPAddress: event.IP,
		Details:   event.Details,
		Severity:  event.Severity,
		Timestamp: s.now().UTC(),
	}
	if event.UserID != "" {
		userID := event.UserID
		entry.UserID = &userID
	}

	s.events.Log(ctx, pkglogger.SecurityEvent{
		Action:    entry.Action,
		Severity:  string(entry.Severity),
		UserID:    event.UserID,
		IPAddress: entry.IPAddress,
		Details:   entry.Details,
		Timestamp: entry.Timestamp,
	})

	if s.repo == nil {
		return
	}

	writeCtx := context.WithoutCancel(ctx)

	waitCtx, cancelWait := context.WithTimeout(writeCtx, auditWriteTimeout)
	err := s.pending.Acquire(waitCtx, 1)
	cancelWait()
	if err != nil {
		s.logger.Error("dropped audit entry, too many pending writes",
			slog.String("action", entry.Action),
			slog.String("severity", string(entry.Severity)))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.pending.Release(1)

		writeCtx, cancel := context.WithTimeout(writeCtx, auditWriteTimeout)
		defer cancel()

		if err := s.repo.Append(writeCtx, entry); err != nil {
			s.logger.Error("failed to persist audit entry",
				slog.String("action", entry.Action),
				slog.String("severity", string(entry.Severity)),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until all pending audit writes have finished
func (s *AuditService) Wait() {
	s.wg.Wait()
}
