package authkit

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the kind claim. A refresh token presented where an
// access token is expected fails validation, and vice versa.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

const csrfByteLength = 32

// SessionClaims is the payload of both app token kinds: a single identity
// claim, the token kind, and the CSRF double-submit value.
type SessionClaims struct {
	Identity  string `json:"identity"`
	TokenKind string `json:"kind"`
	CSRF      string `json:"csrf"`
	jwt.RegisteredClaims
}

// MintSessionToken creates a signed HS256 token bound to a user identity.
// It returns the token, its CSRF twin value, and the expiry.
func MintSessionToken(clock Clock, identity string, kind string, configuration ServerConfig, ttl time.Duration) (string, string, time.Time, error) {
	if identity == "" {
		return "", "", time.Time{}, fmt.Errorf("session.mint: identity must be non-empty")
	}
	if kind != TokenKindAccess && kind != TokenKindRefresh {
		return "", "", time.Time{}, fmt.Errorf("session.mint: unknown token kind %q", kind)
	}

	csrfValue, csrfErr := randomCSRF()
	if csrfErr != nil {
		return "", "", time.Time{}, fmt.Errorf("session.mint.csrf: %w", csrfErr)
	}

	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Identity:  identity,
		TokenKind: kind,
		CSRF:      csrfValue,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    configuration.Issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(configuration.SigningKey)
	if signErr != nil {
		return "", "", time.Time{}, fmt.Errorf("session.mint.sign: %w", signErr)
	}
	return signed, csrfValue, expiresAt, nil
}

// ValidateSessionToken checks signature, issuer, expiry, and token kind.
func ValidateSessionToken(clock Clock, tokenText string, expectedKind string, configuration ServerConfig) (*SessionClaims, error) {
	parsedToken, parseErr := jwt.ParseWithClaims(tokenText, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return configuration.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return clock.Now().UTC() }),
	)
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("session.validate: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("session.validate: %w: %v", ErrTokenInvalid, parseErr)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("session.validate: %w", ErrTokenInvalid)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok || claims.Identity == "" {
		return nil, fmt.Errorf("session.validate.claims: %w", ErrTokenInvalid)
	}
	if claims.Issuer != configuration.Issuer {
		return nil, fmt.Errorf("session.validate.issuer: %w", ErrTokenInvalid)
	}
	if claims.TokenKind != expectedKind {
		return nil, fmt.Errorf("session.validate.kind_mismatch: %w", ErrTokenInvalid)
	}
	return claims, nil
}

func randomCSRF() (string, error) {
	buffer := make([]byte, csrfByteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
