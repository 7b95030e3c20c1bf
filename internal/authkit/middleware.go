package authkit

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IdentityContextKey holds the validated identity claim in the gin context.
const IdentityContextKey = "auth_identity"

// RequireAccess rejects requests without a valid access token cookie.
func RequireAccess(configuration ServerConfig) gin.HandlerFunc {
	return requireSession(configuration, TokenKindAccess, AccessCookieName)
}

// RequireRefresh rejects requests without a valid refresh token cookie.
func RequireRefresh(configuration ServerConfig) gin.HandlerFunc {
	return requireSession(configuration, TokenKindRefresh, RefreshCookieName)
}

func requireSession(configuration ServerConfig, expectedKind string, cookieName string) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		sessionCookie, cookieErr := contextGin.Request.Cookie(cookieName)
		if cookieErr != nil || sessionCookie == nil || sessionCookie.Value == "" {
			currentMetrics().Increment(EventSessionRejected)
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		claims, validateErr := ValidateSessionToken(CurrentClock(), sessionCookie.Value, expectedKind, configuration)
		if validateErr != nil {
			currentMetrics().Increment(EventSessionRejected)
			code := "token_invalid"
			if errors.Is(validateErr, ErrTokenExpired) {
				code = "token_expired"
			}
			currentLogger().Warn("session rejected",
				zap.String("code", "session.middleware."+code),
				zap.String("kind", expectedKind))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code})
			return
		}

		if isStateChanging(contextGin.Request.Method) {
			headerValue := contextGin.GetHeader(CSRFHeaderName)
			if subtle.ConstantTimeCompare([]byte(headerValue), []byte(claims.CSRF)) != 1 {
				currentMetrics().Increment(EventCSRFRejected)
				contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "csrf_mismatch"})
				return
			}
		}

		contextGin.Set(IdentityContextKey, claims.Identity)
		contextGin.Next()
	}
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// IdentityFromContext returns the identity injected by the session middleware.
func IdentityFromContext(contextGin *gin.Context) (string, bool) {
	value, found := contextGin.Get(IdentityContextKey)
	if !found {
		return "", false
	}
	identity, ok := value.(string)
	if !ok || identity == "" {
		return "", false
	}
	return identity, true
}
