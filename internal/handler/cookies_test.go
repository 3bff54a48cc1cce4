package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-auth/internal/service"
	"storefront-auth/internal/token"
)

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestParseSameSite(t *testing.T) {
	assert.Equal(t, http.SameSiteLaxMode, ParseSameSite("Lax"))
	assert.Equal(t, http.SameSiteNoneMode, ParseSameSite(" none "))
	assert.Equal(t, http.SameSiteStrictMode, ParseSameSite("strict"))
	assert.Equal(t, http.SameSiteStrictMode, ParseSameSite(""))
}

func TestCookieJar_SetSession(t *testing.T) {
	jar := NewCookieJar(CookieConfig{Secure: true, Domain: "shop.test"})
	now := time.Now()

	rec := httptest.NewRecorder()
	jar.SetSession(rec, service.Session{
		Access:  token.Token{Value: "acc", ExpiresAt: now.Add(15 * time.Minute)},
		Refresh: token.Token{Value: "ref", ExpiresAt: now.Add(7 * 24 * time.Hour)},
	})

	cookies := cookiesByName(rec)
	access, refresh := cookies[AccessCookieName], cookies[RefreshCookieName]
	require.NotNil(t, access)
	require.NotNil(t, refresh)

	assert.Equal(t, "acc", access.Value)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, "ref", refresh.Value)
	assert.Equal(t, "/api/auth", refresh.Path)
	for _, c := range []*http.Cookie{access, refresh} {
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		assert.Equal(t, "shop.test", c.Domain)
		assert.Positive(t, c.MaxAge)
	}
	assert.Greater(t, refresh.MaxAge, access.MaxAge)
}

func TestCookieJar_Clear(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCookieJar(CookieConfig{}).Clear(rec)

	cookies := cookiesByName(rec)
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge)
	}
}

func TestRefreshTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh-token", nil)
	assert.Empty(t, RefreshTokenFromRequest(req))

	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: "ref"})
	assert.Equal(t, "ref", RefreshTokenFromRequest(req))
}
