package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-reminders/internal/auth"
	"github.com/ukydev/fleet-reminders/internal/models"
)

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	authService, err := auth.NewService("test-secret", time.Hour)
	require.NoError(t, err)
	return authService
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	authService := newAuthService(t)
	middleware := NewAuthMiddleware(authService)

	t.Run("valid token", func(t *testing.T) {
		token, _ := authService.GenerateToken("dispatch-ui", models.RoleManager)

		req := httptest.NewRequest("GET", "/api/vehicles/abc/reminders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		handlerCalled := false
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalled = true
			claims, ok := GetUserFromContext(r.Context())
			assert.True(t, ok)
			assert.Equal(t, "dispatch-ui", claims.Subject)
			assert.Equal(t, models.RoleManager, claims.Role)
		})

		middleware.Authenticate(handler).ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	rejected := map[string]string{
		"missing authorization header": "",
		"invalid token":                "Bearer invalid-token",
		"wrong scheme":                 "Basic dXNlcjpwYXNz",
	}
	for name, header := range rejected {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/vehicles/abc/reminders", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.False(t, handlerCalled)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}

	t.Run("expired token", func(t *testing.T) {
		shortLived, err := auth.NewService("test-secret", time.Nanosecond)
		require.NoError(t, err)
		token, err := shortLived.GenerateToken("cron", models.RoleAdmin)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)

		req := httptest.NewRequest("GET", "/api/vehicles/abc/reminders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		middleware.Authenticate(http.NotFoundHandler()).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "token expired")
	})

	t.Run("skip auth path", func(t *testing.T) {
		for _, path := range []string{"/health", "/metrics"} {
			req := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()

			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			middleware.Authenticate(handler).ServeHTTP(w, req)
			assert.True(t, handlerCalled, path)
		}
	})
}

func TestAuthMiddleware_RequirePermission(t *testing.T) {
	authService := newAuthService(t)
	middleware := NewAuthMiddleware(authService)

	tests := []struct {
		name   string
		role   models.Role
		action string
		want   int
	}{
		{"admin runs sync", models.RoleAdmin, models.ActionRunSync, http.StatusOK},
		{"manager runs sync", models.RoleManager, models.ActionRunSync, http.StatusOK},
		{"operator cannot run sync", models.RoleOperator, models.ActionRunSync, http.StatusForbidden},
		{"operator closes reminder", models.RoleOperator, models.ActionCloseReminder, http.StatusOK},
		{"viewer cannot manage schedules", models.RoleViewer, models.ActionManageSchedule, http.StatusForbidden},
		{"viewer views reminders", models.RoleViewer, models.ActionViewReminders, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := authService.GenerateToken("caller", tt.role)
			require.NoError(t, err)

			req := httptest.NewRequest("POST", "/api/reminders/sync", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
			middleware.Authenticate(middleware.RequirePermission(tt.action)(handler)).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	t.Run("no claims in context", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/reminders/sync", nil)
		w := httptest.NewRecorder()
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
		middleware.RequirePermission(models.ActionRunSync)(handler).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestGetUserFromContext(t *testing.T) {
	claims := &models.Claims{
		Subject: "dispatch-ui",
		Role:    models.RoleAdmin,
	}

	ctx := context.WithValue(context.Background(), UserContextKey, claims)

	retrievedClaims, ok := GetUserFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, claims, retrievedClaims)

	// a plain string key is not ours
	ctx = context.WithValue(context.Background(), "user", claims)
	_, ok = GetUserFromContext(ctx)
	assert.False(t, ok)

	_, ok = GetUserFromContext(context.Background())
	assert.False(t, ok)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", getClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.8")
	assert.Equal(t, "10.0.0.8", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.4, 10.0.0.1")
	assert.Equal(t, "203.0.113.4", getClientIP(req))
}
