package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/background"
	"github.com/BradenHooton/praxis/internal/cache"
	"github.com/BradenHooton/praxis/internal/config"
	"github.com/BradenHooton/praxis/internal/database"
	"github.com/BradenHooton/praxis/internal/federation"
	"github.com/BradenHooton/praxis/internal/handlers"
	middlewareCustom "github.com/BradenHooton/praxis/internal/middleware"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/BradenHooton/praxis/internal/repositories"
	"github.com/BradenHooton/praxis/internal/routes"
	"github.com/BradenHooton/praxis/internal/services"
	pkgauth "github.com/BradenHooton/praxis/pkg/auth"
	pkghttp "github.com/BradenHooton/praxis/pkg/http"
	pkglogger "github.com/BradenHooton/praxis/pkg/logger"
)

func runServe(ctx context.Context, migrate bool) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database and cache
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	rdb, err := cache.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	verificationRepo := repositories.NewEmailVerificationRepository(db)
	oauthStateRepo := repositories.NewOAuthStateRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(rdb)

	// Crypto primitives
	hasher, err := pkgauth.NewPasswordHasher(cfg.Auth.BcryptCost, cfg.Auth.HashConcurrency)
	if err != nil {
		return err
	}
	signer := auth.NewTokenSigner(cfg.Auth.TokenSigningSecret, cfg.Auth.BearerTokenTTL, cfg.Auth.MFAChallengeTTL, "praxis")
	totp, err := auth.NewTOTPProvider(cfg.MFA.EncryptionKey, cfg.MFA.Issuer, cfg.MFA.Skew)
	if err != nil {
		return err
	}
	csrfManager := auth.NewCSRFManager(cfg.Auth.SessionSecret)

	// Security services
	auditService := services.NewAuditService(repositories.NewAuditLogRepository(db), logger)
	userAttempts := services.NewLoginAttemptTracker(attemptRepo, cfg.Lockout.MaxAttempts, cfg.Lockout.Duration)
	ipAttempts := services.NewLoginAttemptTracker(attemptRepo, cfg.Lockout.MaxAttemptsPerIP, cfg.Lockout.Duration)
	sessions := services.NewSessionActivityMonitor(repositories.NewSessionRepository(rdb), services.SessionPolicy{
		MaxAge:            cfg.Session.MaxAge,
		InactivityTimeout: cfg.Session.InactivityTimeout,
		MaxPerUser:        cfg.Session.MaxSessionsPerUser,
	}, auditService, logger)

	emailSender, err := newEmailSender(ctx, cfg, logger)
	if err != nil {
		return err
	}

	verifier := services.NewCredentialVerifier(userRepo, hasher, totp, userAttempts, ipAttempts, auditService, logger)
	authenticator := services.NewAuthenticator(
		services.NewPasswordStrategy(verifier),
		services.NewBearerStrategy(signer, userRepo),
		services.NewFederatedStrategy(userRepo, auditService, logger),
	)

	verificationService := services.NewEmailVerificationService(verificationRepo, userRepo, emailSender, auditService, logger,
		cfg.Server.BaseURL, cfg.Auth.VerificationTokenTTL)
	authService := services.NewAuthService(userRepo, hasher, signer, authenticator, verifier, sessions, verificationService, auditService, logger)
	resetService := services.NewPasswordResetService(resetRepo, userRepo, hasher, sessions, userAttempts, emailSender, auditService, logger,
		cfg.Server.BaseURL, cfg.Auth.ResetTokenTTL)
	mfaService := services.NewMFAService(userRepo, repositories.NewTOTPEnrollmentRepository(rdb), totp, hasher, verifier, auditService, logger,
		cfg.MFA.EnrollmentTTL, cfg.MFA.RecoveryCodeCount)
	adminService := services.NewAdminService(userRepo, userAttempts, auditService, logger)

	registry := federation.NewRegistryFromConfig(cfg.Federation)
	logger.Info("identity providers configured", slog.Any("providers", registry.Names()))
	guard := services.NewOAuthStateGuard(oauthStateRepo, auth.NewValueSigner("oauth:"+cfg.Auth.SessionSecret), cfg.Federation.StateTTL, logger)
	federationService := services.NewFederationService(registry, guard, authenticator, authService, auditService, logger,
		cfg.Federation.AllowedRedirectDomains)

	// Bootstrap first admin user if configured
	bootstrapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, userRepo, hasher, cfg.Server.Env, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// HTTP layer
	clientIP := pkghttp.NewIPResolver(&pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}).ClientIP
	cookies := auth.CookieConfig{
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.Cookie.Secure,
		SameSite: cfg.Cookie.SameSite,
		MaxAge:   cfg.Session.MaxAge,
	}

	h := routes.Handlers{
		Auth:       handlers.NewAuthHandler(authService, csrfManager, cookies, clientIP, logger),
		Account:    handlers.NewAccountHandler(resetService, verificationService, clientIP, logger),
		MFA:        handlers.NewMFAHandler(mfaService, clientIP, logger),
		Federation: handlers.NewFederationHandler(federationService, csrfManager, cookies, cfg.Federation.StateTTL, cfg.Server.BaseURL, clientIP, logger),
		Admin:      handlers.NewAdminHandler(adminService, clientIP, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"database": db.HealthCheck,
			"redis":    func(ctx context.Context) error { return cache.HealthCheck(ctx, rdb) },
		}, logger),
	}

	// Setup router. chi's RealIP is not used: the client address comes from
	// the trusted-proxy resolver.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Federation.AllowedRedirectDomains)))
	router.Use(middlewareCustom.SecureLogger(logger, clientIP))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.WriteTimeout))

	routes.RegisterRoutes(router, h,
		auth.NewMiddleware(authService, clientIP, cookies, logger),
		middlewareCustom.CSRFConfig{Manager: csrfManager, Logger: logger},
		middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Auth.LoginRatePerMinute, ClientIP: clientIP},
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(map[string]services.Purger{
		"password_reset_tokens":     resetRepo,
		"email_verification_tokens": verificationRepo,
		"oauth_states":              oauthStateRepo,
	}, logger, cfg.Auth.CleanupInterval)

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// Pending audit writes finish before the pool closes
	auditService.Wait()

	logger.Info("server stopped gracefully")
	return nil
}

func newEmailSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.EmailSender, error) {
	switch cfg.Email.Provider {
	case "ses":
		sender, err := services.NewSESEmailSender(ctx, cfg.Email.AWSRegion, cfg.Email.From, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email service: %w", err)
		}
		return sender, nil
	default:
		if cfg.IsProduction() {
			logger.Warn("log email provider in production; emails are not delivered")
		}
		return services.NewLogEmailSender(logger), nil
	}
}

// ensureAdminUser creates the first admin user if ADMIN_USERNAME, ADMIN_EMAIL
// and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, hasher *pkgauth.PasswordHasher, env string, logger *slog.Logger) error {
	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminUsername == "" || adminEmail == "" || adminPassword == "" {
		logger.Info("admin bootstrap variables not set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByUsername(ctx, adminUsername)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}
	hashedPassword, err := hasher.Hash(ctx, adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	_, err = userRepo.Create(ctx, &models.User{
		Username:          adminUsername,
		Email:             adminEmail,
		PasswordHash:      hashedPassword,
		Role:              models.RoleAdmin,
		EmailVerified:     true,
		PasswordChangedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully", pkglogger.RedactedAttr("username", adminUsername, env))
	return nil
}
