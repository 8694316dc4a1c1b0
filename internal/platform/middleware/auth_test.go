package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bansync/internal/configlink"
)

func newRouter(t *testing.T, signer *configlink.Signer, rejected *[]string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(RequestID)
	r.With(RequireConfigLink(signer, "communityID", func(_ context.Context, id, reason string) {
		*rejected = append(*rejected, id+":"+reason)
	}, logger)).Get("/config/{communityID}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, GetCommunityID(r.Context())+"/"+GetActorID(r.Context()))
	})
	return r
}

func TestRequireConfigLink(t *testing.T) {
	signer, err := configlink.NewSigner("test-signing-key-0123456789", "http://localhost", configlink.WithClock(clockwork.NewFakeClock()))
	require.NoError(t, err)
	token, _, err := signer.Issue("g1", "op")
	require.NoError(t, err)

	t.Run("valid token in query sets a cookie", func(t *testing.T) {
		var rejected []string
		rec := httptest.NewRecorder()
		newRouter(t, signer, &rejected).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config/g1?token="+token, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "g1/op", rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, CookieName, cookies[0].Name)
		assert.Empty(t, rejected)
	})

	t.Run("valid token in cookie", func(t *testing.T) {
		var rejected []string
		req := httptest.NewRequest(http.MethodGet, "/config/g1", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
		rec := httptest.NewRecorder()
		newRouter(t, signer, &rejected).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("token for another community", func(t *testing.T) {
		var rejected []string
		rec := httptest.NewRecorder()
		newRouter(t, signer, &rejected).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config/g2?token="+token, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, []string{"g2:token issued for another community"}, rejected)
	})

	t.Run("missing token", func(t *testing.T) {
		var rejected []string
		rec := httptest.NewRecorder()
		newRouter(t, signer, &rejected).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config/g1", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Len(t, rejected, 1)
	})
}

func TestRequestIDReusesInboundHeader(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, GetRequestID(r.Context()))
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Body.String())
}
