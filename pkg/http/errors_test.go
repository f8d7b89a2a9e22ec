package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/praxis/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decodeError(t, w)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	resp := decodeError(t, w)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestCommonWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		code   string
	}{
		{"bad request", func(w http.ResponseWriter) { pkghttp.WriteBadRequest(w, "x") }, 400, pkghttp.CodeBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { pkghttp.WriteUnauthorized(w, "x") }, 401, pkghttp.CodeUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { pkghttp.WriteForbidden(w, "x") }, 403, pkghttp.CodeForbidden},
		{"not found", func(w http.ResponseWriter) { pkghttp.WriteNotFound(w, "x") }, 404, pkghttp.CodeNotFound},
		{"conflict", func(w http.ResponseWriter) { pkghttp.WriteConflict(w, "x") }, 409, pkghttp.CodeConflict},
		{"rate limited", func(w http.ResponseWriter) { pkghttp.WriteTooManyRequests(w, "x") }, 429, pkghttp.CodeRateLimited},
		{"internal", func(w http.ResponseWriter) { pkghttp.WriteInternalError(w, "x") }, 500, pkghttp.CodeInternal},
		{"session expired", pkghttp.WriteSessionExpired, 401, pkghttp.CodeSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Error)
		})
	}
}

func TestWriteAccountLocked(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteAccountLocked(w, 42)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	resp := decodeError(t, w)
	assert.Equal(t, pkghttp.CodeAccountLocked, resp.Error)
	assert.Equal(t, "retry_after_seconds=42", resp.Details)
}
