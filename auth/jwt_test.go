package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuth(t *testing.T) *Auth {
	a, err := New(Options{
		Logger:        zap.NewNop(),
		JWTSigningKey: "0123456789abcdef0123",
	})
	require.NoError(t, err)
	return a
}

func adminRouter(a *Auth) http.Handler {
	r := chi.NewRouter()
	r.Use(a.Middleware())
	r.With(a.RequireRole(RoleAdmin)).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		claims, _ := FromContext(r.Context())
		w.Write([]byte(claims.ID))
	})
	return r
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: "short"})
	assert.Error(t, err)
}

func TestMiddlewareRequiresBearer(t *testing.T) {
	a := newTestAuth(t)
	rec := httptest.NewRecorder()
	adminRouter(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	adminRouter(a).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	a := newTestAuth(t)

	tests := []struct {
		role Role
		code int
	}{
		{RoleAdmin, http.StatusOK},
		{RoleTrainer, http.StatusForbidden},
		{RoleClient, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			token, err := a.CreateTokenFromClaims(Claims{ID: "u_1", Role: tt.role})
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			adminRouter(a).ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "u_1", rec.Body.String())
			}
		})
	}
}

func TestTokenSignedWithOtherKeyIsRejected(t *testing.T) {
	a := newTestAuth(t)
	other, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: "another-signing-key-000"})
	require.NoError(t, err)
	token, err := other.CreateTokenFromClaims(Claims{ID: "u_1", Role: RoleAdmin})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	adminRouter(a).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
