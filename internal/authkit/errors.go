package authkit

import "errors"

var (
	// ErrTokenExpired indicates the session token passed signature checks but its expiry has elapsed.
	ErrTokenExpired = errors.New("session.token_expired")
	// ErrTokenInvalid indicates a bad signature, wrong issuer, or a token-kind mismatch.
	ErrTokenInvalid = errors.New("session.token_invalid")
	// ErrCSRFMismatch indicates a state-changing request without a matching double-submit token.
	ErrCSRFMismatch = errors.New("session.csrf_mismatch")
)
