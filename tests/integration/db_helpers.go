//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/praxis/internal/database"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/BradenHooton/praxis/internal/repositories"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs the embedded
// goose migrations and returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("praxis"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := database.NewFromPool(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         db,
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates the mutable tables for test isolation. The audit
// log is append-only, so TRUNCATE (which bypasses row triggers) is the only
// way to reset it.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"security_audit_log",
		"oauth_states",
		"email_verification_tokens",
		"password_reset_tokens",
		"users",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// Repositories bundles the Postgres repositories under test
type Repositories struct {
	Users        *repositories.UserRepository
	Resets       *repositories.PasswordResetRepository
	Verification *repositories.EmailVerificationRepository
	OAuthStates  *repositories.OAuthStateRepository
	Audit        *repositories.AuditLogRepository
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) Repositories {
	return Repositories{
		Users:        repositories.NewUserRepository(db),
		Resets:       repositories.NewPasswordResetRepository(db),
		Verification: repositories.NewEmailVerificationRepository(db),
		OAuthStates:  repositories.NewOAuthStateRepository(db),
		Audit:        repositories.NewAuditLogRepository(db),
	}
}

// SeedUser inserts a local user through the repository
func SeedUser(ctx context.Context, users *repositories.UserRepository, username, email string) (*models.User, error) {
	return users.Create(ctx, &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplaceho",
		Role:         models.RoleUser,
	})
}
