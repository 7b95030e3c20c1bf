package authkit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Cookie names follow the shape the frontend already expects: HttpOnly token
// cookies, readable CSRF twins, and a non-sensitive logined flag for UI state.
const (
	AccessCookieName      = "access_token_cookie"
	RefreshCookieName     = "refresh_token_cookie"
	AccessCSRFCookieName  = "csrf_access_token"
	RefreshCSRFCookieName = "csrf_refresh_token"
	LoginedCookieName     = "logined"

	// CSRFHeaderName carries the double-submit value on state-changing requests.
	CSRFHeaderName = "X-CSRF-Token"

	refreshCookiePath = "/token"
)

// WriteAccessCookies sets the access token cookie and its CSRF twin.
func WriteAccessCookies(contextGin *gin.Context, configuration ServerConfig, token string, csrfValue string, expiresAt time.Time) {
	writeCookie(contextGin, configuration, AccessCookieName, token, "/", expiresAt, true)
	writeCookie(contextGin, configuration, AccessCSRFCookieName, csrfValue, "/", expiresAt, false)
}

// WriteRefreshCookies sets the refresh token cookie, path-scoped to the token
// routes, and its CSRF twin.
func WriteRefreshCookies(contextGin *gin.Context, configuration ServerConfig, token string, csrfValue string, expiresAt time.Time) {
	writeCookie(contextGin, configuration, RefreshCookieName, token, refreshCookiePath, expiresAt, true)
	writeCookie(contextGin, configuration, RefreshCSRFCookieName, csrfValue, "/", expiresAt, false)
}

// WriteLoginedCookie marks the browser session as logged in for client-side UI.
// It carries no credential.
func WriteLoginedCookie(contextGin *gin.Context, configuration ServerConfig, expiresAt time.Time) {
	writeCookie(contextGin, configuration, LoginedCookieName, "true", "/", expiresAt, false)
}

// ClearSessionCookies unsets every session cookie; this is the whole logout
// mechanism, since tokens stay cryptographically valid until natural expiry.
func ClearSessionCookies(contextGin *gin.Context, configuration ServerConfig) {
	clearCookie(contextGin, configuration, AccessCookieName, "/")
	clearCookie(contextGin, configuration, AccessCSRFCookieName, "/")
	clearCookie(contextGin, configuration, RefreshCookieName, refreshCookiePath)
	clearCookie(contextGin, configuration, RefreshCSRFCookieName, "/")
	clearCookie(contextGin, configuration, LoginedCookieName, "/")
}

func writeCookie(contextGin *gin.Context, configuration ServerConfig, name string, value string, path string, expiresAt time.Time, httpOnly bool) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: httpOnly,
		SameSite: configuration.SameSiteMode,
	})
}

func clearCookie(contextGin *gin.Context, configuration ServerConfig, name string, path string) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   !configuration.AllowInsecureHTTP,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
