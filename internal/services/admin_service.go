package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/praxis/internal/models"
)

// AdminService exposes operator actions on the security state of users
type AdminService struct {
	users        UserRepository
	userAttempts *LoginAttemptTracker
	audit        Auditor
	logger       *slog.Logger
}

// NewAdminService creates a new AdminService
func NewAdminService(users UserRepository, userAttempts *LoginAttemptTracker, audit Auditor, logger *slog.Logger) *AdminService {
	return &AdminService{
		users:        users,
		userAttempts: userAttempts,
		audit:        audit,
		logger:       logger,
	}
}

// ClearLockout removes the failure record of username so it can log in again
func (s *AdminService) ClearLockout(ctx context.Context, admin *models.Principal, username, ip string) error {
	var targetID string
	user, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		targetID = user.ID
	case errors.Is(err, models.ErrNotFound):
		// Unknown usernames accumulate failures too
	default:
		return fmt.Errorf("failed to load user: %w", err)
	}

	if err := s.userAttempts.Clear(ctx, UsernameAttemptKey(username)); err != nil {
		return err
	}

	s.logger.Info("lockout cleared",
		slog.String("admin_id", admin.UserID),
		slog.String("username", username))
	s.audit.Append(ctx, AuditEvent{
		UserID:   targetID,
		Action:   models.AuditActionLockoutCleared,
		IP:       ip,
		Details:  models.AuditDetails{"cleared_by": admin.UserID, "username": username},
		Severity: models.SeverityMedium,
	})
	return nil
}
