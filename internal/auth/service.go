package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"SpriteForge/pkg/logger"
)

// Service verifies bearer tokens. Token issuance belongs to an external
// identity provider; IssueToken exists for development tooling only.
type Service struct {
	mode   Mode
	jwt    *jwtVerifier
	static map[string]string
	audit  *slog.Logger
}

// NewService constructs the authentication service.
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.jwt = &jwtVerifier{
			secret:   []byte(cfg.JWT.Secret),
			issuer:   cfg.JWT.Issuer,
			audience: cfg.JWT.Audience,
			leeway:   cfg.JWT.Leeway,
		}
	case ModeStatic:
		if len(cfg.StaticTokens) == 0 {
			return nil, errors.New("static mode requires at least one token")
		}
		svc.static = make(map[string]string, len(cfg.StaticTokens))
		for token, user := range cfg.StaticTokens {
			token, user = strings.TrimSpace(token), strings.TrimSpace(user)
			if token == "" || user == "" {
				return nil, errors.New("static tokens and user ids must not be empty")
			}
			svc.static[token] = user
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
	return svc, nil
}

// Mode returns the configured mode.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest validates an Authorization header value.
func (s *Service) AuthenticateRequest(ctx context.Context, header string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return &Subject{ID: AnonymousUser, Source: ModeDisabled}, nil
	}
	token, err := bearerToken(header)
	if err != nil {
		return nil, err
	}
	return s.Verify(ctx, token)
}

// Verify validates a raw token.
func (s *Service) Verify(_ context.Context, token string) (*Subject, error) {
	switch s.mode {
	case ModeJWT:
		return s.jwt.verify(token)
	case ModeStatic:
		return s.verifyStatic(token)
	default:
		return &Subject{ID: AnonymousUser, Source: ModeDisabled}, nil
	}
}

// IssueToken signs a token for userID. A zero ttl yields a token without
// expiry. Only available in jwt mode.
func (s *Service) IssueToken(userID string, ttl time.Duration) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrNoSigner
	}
	return s.jwt.sign(userID, ttl)
}

func (s *Service) verifyStatic(token string) (*Subject, error) {
	// 逐个常量时间比较，避免通过耗时推断令牌。
	var matched string
	for candidate, user := range s.static {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			matched = user
		}
	}
	if matched == "" {
		return nil, ErrInvalidToken
	}
	return &Subject{ID: matched, Source: ModeStatic}, nil
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type jwtVerifier struct {
	secret   []byte
	issuer   string
	audience []string
	leeway   time.Duration
}

func (v *jwtVerifier) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if len(v.audience) > 0 {
		// 令牌必须包含第一个受众。
		opts = append(opts, jwt.WithAudience(v.audience[0]))
	}
	return opts
}

func (v *jwtVerifier) verify(raw string) (*Subject, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, v.parserOptions()...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	subject := &Subject{ID: claims.Subject, Source: ModeJWT}
	if claims.ExpiresAt != nil {
		subject.ExpiresAt = claims.ExpiresAt.Time
	}
	return subject, nil
}

func (v *jwtVerifier) sign(userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id must not be empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		Issuer:   v.issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if len(v.audience) > 0 {
		claims.Audience = jwt.ClaimStrings(v.audience)
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
