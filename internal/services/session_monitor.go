package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
)

const ExpiredReasonInactivity = "inactivity"

// SessionPolicy bounds server-side sessions
type SessionPolicy struct {
	MaxAge            time.Duration
	InactivityTimeout time.Duration
	MaxPerUser        int
}

// SessionActivityMonitor owns the lifecycle of server-side sessions and
// enforces the inactivity timeout on every authenticated request
type SessionActivityMonitor struct {
	store  SessionStore
	policy SessionPolicy
	audit  Auditor
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionActivityMonitor creates a new SessionActivityMonitor
func NewSessionActivityMonitor(store SessionStore, policy SessionPolicy, audit Auditor, logger *slog.Logger) *SessionActivityMonitor {
	return &SessionActivityMonitor{
		store:  store,
		policy: policy,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source
func (m *SessionActivityMonitor) WithClock(now func() time.Time) *SessionActivityMonitor {
	m.now = now
	return m
}

// Policy returns the session limits in force
func (m *SessionActivityMonitor) Policy() SessionPolicy {
	return m.policy
}

// Start creates a new session for userID. When the user already holds the
// maximum number of sessions the oldest ones are evicted.
func (m *SessionActivityMonitor) Start(ctx context.Context, userID, ip string) (*models.ServerSession, error) {
	sessionID, _, err := auth.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	now := m.now()
	session := &models.ServerSession{
		SessionID:      sessionID,
		UserID:         userID,
		LastActivityAt: now,
		LastKnownIP:    ip,
		CreatedAt:      now,
	}

	evicted, err := m.store.Create(ctx, session, m.policy.MaxAge, m.policy.MaxPerUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if len(evicted) > 0 {
		m.logger.Info("evicted oldest sessions",
			slog.String("user_id", userID),
			slog.Int("count", len(evicted)))
		m.audit.Append(ctx, AuditEvent{
			UserID:   userID,
			Action:   models.AuditActionSessionEvicted,
			IP:       ip,
			Details:  models.AuditDetails{"evicted": len(evicted), "limit": m.policy.MaxPerUser},
			Severity: models.SeverityLow,
		})
	}

	return session, nil
}

// Validate checks the session on an authenticated request. An idle session
// is destroyed and reported as models.ErrSessionExpired; a live one has its
// activity refreshed. A change of client address is audited but does not
// end the session.
func (m *SessionActivityMonitor) Validate(ctx context.Context, sessionID, ip string) (*models.ServerSession, error) {
	session, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if session.IdleFor(now) > m.policy.InactivityTimeout {
		if err := m.store.Delete(ctx, session.SessionID, session.UserID); err != nil {
			m.logger.Error("failed to delete idle session",
				slog.String("user_id", session.UserID),
				slog.Any("error", err))
		}
		m.audit.Append(ctx, AuditEvent{
			UserID:   session.UserID,
			Action:   models.AuditActionSessionExpired,
			IP:       ip,
			Details:  models.AuditDetails{"reason": ExpiredReasonInactivity, "idle_seconds": int64(session.IdleFor(now).Seconds())},
			Severity: models.SeverityLow,
		})
		return nil, models.ErrSessionExpired
	}

	touched, err := m.store.Touch(ctx, session.SessionID, now, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	if !touched {
		return nil, models.ErrUnauthenticated
	}

	if session.LastKnownIP != "" && ip != "" && session.LastKnownIP != ip {
		m.audit.Append(ctx, AuditEvent{
			UserID:   session.UserID,
			Action:   models.AuditActionIPChange,
			IP:       ip,
			Details:  models.AuditDetails{"previous_ip": session.LastKnownIP, "current_ip": ip},
			Severity: models.SeverityMedium,
		})
	}

	session.LastActivityAt = now
	session.LastKnownIP = ip
	return session, nil
}

// Status reports the remaining idle budget of a session without refreshing
// or destroying it. Unknown sessions yield models.ErrUnauthenticated.
func (m *SessionActivityMonitor) Status(ctx context.Context, sessionID string) (*models.SessionStatus, error) {
	session, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	remaining := m.policy.InactivityTimeout - session.IdleFor(m.now())
	status := &models.SessionStatus{
		Active:         remaining > 0,
		LastActivityAt: session.LastActivityAt,
	}
	if remaining > 0 {
		status.IdleRemaining = remaining
		status.IdleRemainingSec = int64(remaining / time.Second)
	} else {
		status.ExpiresReason = ExpiredReasonInactivity
	}
	return status, nil
}

// Destroy ends one session
func (m *SessionActivityMonitor) Destroy(ctx context.Context, sessionID, userID string) error {
	if err := m.store.Delete(ctx, sessionID, userID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DestroyAllForUser ends every session of userID except exceptID
func (m *SessionActivityMonitor) DestroyAllForUser(ctx context.Context, userID, exceptID string) (int, error) {
	n, err := m.store.DeleteAllForUser(ctx, userID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return n, nil
}

func (m *SessionActivityMonitor) lookup(ctx context.Context, sessionID string) (*models.ServerSession, error) {
	if sessionID == "" {
		return nil, models.ErrUnauthenticated
	}
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}
