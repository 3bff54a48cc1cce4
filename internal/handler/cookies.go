package handler

import (
	"net/http"
	"strings"
	"time"

	"storefront-auth/internal/service"
)

const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"

	accessCookiePath = "/"
	// The refresh credential is only ever sent to the auth endpoints.
	refreshCookiePath = "/api/auth"
)

type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

// ParseSameSite maps a config value to http.SameSite, defaulting to Strict.
func ParseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// CookieJar writes and clears the credential cookies. Credentials never
// appear in response bodies.
type CookieJar struct {
	cfg CookieConfig
}

func NewCookieJar(cfg CookieConfig) *CookieJar {
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteStrictMode
	}
	return &CookieJar{cfg: cfg}
}

func (j *CookieJar) SetSession(w http.ResponseWriter, sess service.Session) {
	http.SetCookie(w, j.cookie(AccessCookieName, accessCookiePath, sess.Access.Value, sess.Access.ExpiresAt))
	http.SetCookie(w, j.cookie(RefreshCookieName, refreshCookiePath, sess.Refresh.Value, sess.Refresh.ExpiresAt))
}

func (j *CookieJar) Clear(w http.ResponseWriter) {
	for _, c := range []*http.Cookie{
		j.cookie(AccessCookieName, accessCookiePath, "", time.Unix(0, 0)),
		j.cookie(RefreshCookieName, refreshCookiePath, "", time.Unix(0, 0)),
	} {
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (j *CookieJar) cookie(name, path, value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   j.cfg.Domain,
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   j.cfg.Secure,
		SameSite: j.cfg.SameSite,
	}
	if maxAge := int(time.Until(expires).Seconds()); value != "" && maxAge > 0 {
		c.MaxAge = maxAge
	}
	return c
}

// RefreshTokenFromRequest reads the refresh credential cookie.
func RefreshTokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
