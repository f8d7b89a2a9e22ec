package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/praxis/internal/handlers"
	"github.com/BradenHooton/praxis/internal/models"
	"github.com/BradenHooton/praxis/internal/services"
)

func newAccountHandler(resets *handlers.MockPasswordResetService, verification *handlers.MockEmailVerificationService) *handlers.AccountHandler {
	return handlers.NewAccountHandler(resets, verification, handlers.StaticClientIP, handlers.DiscardLogger())
}

func TestForgotPassword_UniformResponse(t *testing.T) {
	outcomes := map[string]error{
		"known email":   nil,
		"unknown email": nil,
		"store failure": errors.New("connection refused"),
	}

	var bodies []string
	for name, outcome := range outcomes {
		t.Run(name, func(t *testing.T) {
			resets := &handlers.MockPasswordResetService{
				ForgotPasswordFunc: func(ctx context.Context, email, ip string) error {
					return outcome
				},
			}

			handler := newAccountHandler(resets, &handlers.MockEmailVerificationService{})
			req := handlers.NewTestRequest(t, "POST", "/auth/forgot-password", handlers.ForgotPasswordRequest{Email: "alice@example.com"})

			w := httptest.NewRecorder()
			handler.ForgotPassword(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			bodies = append(bodies, w.Body.String())
		})
	}

	for _, body := range bodies[1:] {
		assert.Equal(t, bodies[0], body)
	}
}

func TestPreviewResetToken(t *testing.T) {
	expires := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		preview    *services.ResetTokenPreview
		err        error
		wantStatus int
		wantCode   string
	}{
		{"valid", &services.ResetTokenPreview{ExpiresAt: expires}, nil, http.StatusOK, ""},
		{"expired", nil, models.ErrTokenExpired, http.StatusBadRequest, "token_expired"},
		{"unknown", nil, models.ErrTokenInvalid, http.StatusBadRequest, "token_invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resets := &handlers.MockPasswordResetService{
				PreviewResetTokenFunc: func(ctx context.Context, plainToken string) (*services.ResetTokenPreview, error) {
					assert.Equal(t, "tok123", plainToken)
					return tt.preview, tt.err
				},
			}

			handler := newAccountHandler(resets, &handlers.MockEmailVerificationService{})
			req := handlers.WithURLParam(httptest.NewRequest("GET", "/auth/reset-password/tok123", nil), "token", "tok123")

			w := httptest.NewRecorder()
			handler.PreviewResetToken(w, req)

			if tt.err != nil {
				handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
				return
			}
			var resp handlers.ResetTokenResponse
			handlers.AssertJSONResponse(t, w, tt.wantStatus, &resp)
			assert.True(t, resp.Valid)
			assert.True(t, resp.ExpiresAt.Equal(expires))
		})
	}
}

func TestResetPassword(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		resets := &handlers.MockPasswordResetService{
			ResetPasswordFunc: func(ctx context.Context, plainToken, newPassword, ip string) error {
				assert.Equal(t, "tok123", plainToken)
				assert.Equal(t, "N3w!Passphrase", newPassword)
				assert.Equal(t, handlers.TestClientIP, ip)
				return nil
			},
		}

		handler := newAccountHandler(resets, &handlers.MockEmailVerificationService{})
		req := handlers.NewTestRequest(t, "POST", "/auth/reset-password", handlers.ResetPasswordRequest{Token: "tok123", NewPassword: "N3w!Passphrase"})

		w := httptest.NewRecorder()
		handler.ResetPassword(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("already redeemed", func(t *testing.T) {
		handler := newAccountHandler(&handlers.MockPasswordResetService{}, &handlers.MockEmailVerificationService{})
		req := handlers.NewTestRequest(t, "POST", "/auth/reset-password", handlers.ResetPasswordRequest{Token: "tok123", NewPassword: "N3w!Passphrase"})

		w := httptest.NewRecorder()
		handler.ResetPassword(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "token_invalid")
	})

	t.Run("missing token", func(t *testing.T) {
		handler := newAccountHandler(&handlers.MockPasswordResetService{}, &handlers.MockEmailVerificationService{})
		req := handlers.NewTestRequest(t, "POST", "/auth/reset-password", handlers.ResetPasswordRequest{NewPassword: "N3w!Passphrase"})

		w := httptest.NewRecorder()
		handler.ResetPassword(w, req)

		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_error")
	})
}

func TestVerifyEmail(t *testing.T) {
	verification := &handlers.MockEmailVerificationService{
		VerifyEmailFunc: func(ctx context.Context, plainToken, ip string) error {
			if plainToken == "good" {
				return nil
			}
			return models.ErrTokenExpired
		},
	}
	handler := newAccountHandler(&handlers.MockPasswordResetService{}, verification)

	w := httptest.NewRecorder()
	handler.VerifyEmail(w, handlers.NewTestRequest(t, "POST", "/auth/verify-email", handlers.VerifyEmailRequest{Token: "good"}))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.VerifyEmail(w, handlers.NewTestRequest(t, "POST", "/auth/verify-email", handlers.VerifyEmailRequest{Token: "stale"}))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "token_expired")
}
