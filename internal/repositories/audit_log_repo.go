package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/praxis/internal/database"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository appends security audit entries. There is no update or
// delete path; the table trigger rejects both.
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

// Append inserts an entry
func (r *AuditLogRepository) Append(ctx context.Context, entry *models.SecurityAuditLogEntry) error {
	query := `
		INSERT INTO security_audit_log (user_id, action, ip_address, details, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		entry.UserID, entry.Action, entry.IPAddress, entry.Details, string(entry.Severity), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", database.MapPostgresError(err))
	}
	return nil
}
