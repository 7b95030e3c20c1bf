package authkit

import (
	"net/http"
	"time"
)

// ServerConfig configures token minting, validation, and cookie delivery.
type ServerConfig struct {
	SigningKey        []byte
	Issuer            string
	CookieDomain      string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
}
