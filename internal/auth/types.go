package auth

import (
	"errors"
	"time"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSigner     = errors.New("token issuance requires jwt mode")
)

// Mode enumerates the supported token verifiers.
type Mode string

const (
	// ModeDisabled trusts every request and attributes it to AnonymousUser.
	ModeDisabled Mode = "disabled"
	// ModeJWT verifies HS256 tokens whose subject claim is the user id.
	ModeJWT Mode = "jwt"
	// ModeStatic maps opaque bearer tokens to user ids.
	ModeStatic Mode = "static"
)

// AnonymousUser is the subject used when authentication is disabled.
const AnonymousUser = "anonymous"

// Subject is the authenticated caller passed to handlers via context.
type Subject struct {
	ID     string
	Source Mode
	// ExpiresAt is zero for tokens without an expiry.
	ExpiresAt time.Time
}

// Config configures the authentication service.
type Config struct {
	Mode         Mode
	JWT          JWTOptions
	StaticTokens map[string]string
}

// JWTOptions contains parameters for HS256 verification.
type JWTOptions struct {
	Secret   string
	Issuer   string
	Audience []string
	// Leeway tolerates clock skew when checking exp and nbf.
	Leeway time.Duration
}
