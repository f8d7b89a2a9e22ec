package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/praxis/internal/handlers"
)

func TestHealth(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("dial tcp: connection refused") }

	t.Run("all healthy", func(t *testing.T) {
		handler := handlers.NewHealthHandler(map[string]handlers.HealthCheck{"database": ok, "redis": ok}, handlers.DiscardLogger())

		w := httptest.NewRecorder()
		handler.Health(w, httptest.NewRequest("GET", "/health", nil))

		var resp handlers.HealthResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.Checks["redis"])
	})

	t.Run("redis down", func(t *testing.T) {
		handler := handlers.NewHealthHandler(map[string]handlers.HealthCheck{"database": ok, "redis": down}, handlers.DiscardLogger())

		w := httptest.NewRecorder()
		handler.Health(w, httptest.NewRequest("GET", "/health", nil))

		var resp handlers.HealthResponse
		handlers.AssertJSONResponse(t, w, http.StatusServiceUnavailable, &resp)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "ok", resp.Checks["database"])
		assert.Equal(t, "unavailable", resp.Checks["redis"])
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}
