package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/praxis/internal/auth"
	"github.com/BradenHooton/praxis/internal/models"
)

// State validation paths, recorded on every successful Consume
const (
	StatePathDurable     = "durable"
	StatePathSessionCopy = "session_copy"
)

// IssuedState is a freshly minted state value and its signed session copy
type IssuedState struct {
	State       string
	SessionCopy string
	ExpiresAt   time.Time
}

// ConsumedState is the outcome of a successful Consume
type ConsumedState struct {
	Record   *models.OAuthStateRecord
	ReturnTo string
	Path     string
}

// OAuthStateGuard protects the federation redirect round trip. Each state
// is stored durably and also handed to the browser as a signed flow cookie.
// The durable record is authoritative; the cookie copy only covers a state
// the store has no record of.
type OAuthStateGuard struct {
	repo   OAuthStateRepository
	signer *auth.ValueSigner
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewOAuthStateGuard creates a new OAuthStateGuard
func NewOAuthStateGuard(repo OAuthStateRepository, signer *auth.ValueSigner, ttl time.Duration, logger *slog.Logger) *OAuthStateGuard {
	return &OAuthStateGuard{
		repo:   repo,
		signer: signer,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source
func (g *OAuthStateGuard) WithClock(now func() time.Time) *OAuthStateGuard {
	g.now = now
	return g
}

// TTL returns the lifetime of issued states
func (g *OAuthStateGuard) TTL() time.Duration {
	return g.ttl
}

// Issue creates a state for service. userID is set when an authenticated
// user starts the flow.
func (g *OAuthStateGuard) Issue(ctx context.Context, service, userID, returnTo string) (*IssuedState, error) {
	state, _, err := auth.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	expiresAt := g.now().Add(g.ttl)
	record := &models.OAuthStateRecord{
		State:     state,
		Service:   service,
		ExpiresAt: expiresAt,
	}
	if userID != "" {
		record.UserID = &userID
	}

	if err := g.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store state: %w", err)
	}

	return &IssuedState{
		State:       state,
		SessionCopy: g.signer.Sign(encodeFlow(flowCookie{state, service, userID, expiresAt.Unix(), returnTo})),
		ExpiresAt:   expiresAt,
	}, nil
}

// Consume validates state for service and invalidates it. The durable
// record is flagged used before returning, so a captured state cannot be
// replayed. Store errors fail closed.
func (g *OAuthStateGuard) Consume(ctx context.Context, state, service, sessionCopy string) (*ConsumedState, error) {
	if state == "" {
		return nil, models.ErrStateMismatch
	}

	flow, flowOK := g.parseFlow(sessionCopy)
	if flowOK && subtle.ConstantTimeCompare([]byte(flow.state), []byte(state)) != 1 {
		flowOK = false
	}

	record, err := g.repo.MarkUsed(ctx, state)
	switch {
	case err == nil:
		if record.Used || record.Service != service || record.IsExpired(g.now()) {
			g.logger.Warn("oauth state rejected",
				slog.String("service", service),
				slog.Bool("replayed", record.Used),
				slog.String("path", StatePathDurable))
			return nil, models.ErrStateMismatch
		}
		consumed := &ConsumedState{Record: record, Path: StatePathDurable}
		if flowOK {
			consumed.ReturnTo = flow.returnTo
		}
		return consumed, nil

	case errors.Is(err, models.ErrNotFound):
		if !flowOK || flow.service != service || !g.now().Before(time.Unix(flow.expiresAt, 0)) {
			return nil, models.ErrStateMismatch
		}
		record := &models.OAuthStateRecord{
			State:     flow.state,
			Service:   flow.service,
			ExpiresAt: time.Unix(flow.expiresAt, 0),
			Used:      true,
		}
		if flow.userID != "" {
			userID := flow.userID
			record.UserID = &userID
		}
		// The session copy burns the state durably before it is honored
		inserted, err := g.repo.InsertUsed(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("failed to record consumed state: %w", err)
		}
		if !inserted {
			g.logger.Warn("oauth state rejected",
				slog.String("service", service),
				slog.Bool("replayed", true),
				slog.String("path", StatePathSessionCopy))
			return nil, models.ErrStateMismatch
		}
		g.logger.Warn("oauth state validated from session copy only",
			slog.String("service", service),
			slog.String("path", StatePathSessionCopy))
		return &ConsumedState{Record: record, ReturnTo: flow.returnTo, Path: StatePathSessionCopy}, nil

	default:
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}
}

type flowCookie struct {
	state     string
	service   string
	userID    string
	expiresAt int64
	returnTo  string
}

// The return path is last so it may itself contain the separator
func encodeFlow(f flowCookie) string {
	return strings.Join([]string{f.state, f.service, f.userID, strconv.FormatInt(f.expiresAt, 10), f.returnTo}, "|")
}

func (g *OAuthStateGuard) parseFlow(signed string) (flowCookie, bool) {
	if signed == "" {
		return flowCookie{}, false
	}
	payload, ok := g.signer.Verify(signed)
	if !ok {
		return flowCookie{}, false
	}
	parts := strings.SplitN(payload, "|", 5)
	if len(parts) != 5 {
		return flowCookie{}, false
	}
	exp, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return flowCookie{}, false
	}
	return flowCookie{parts[0], parts[1], parts[2], exp, parts[4]}, true
}
