// Package session verifies the signed session tokens that carry the caller's
// user id and active organization.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer = "peoplegate"
	clockSkew     = 5 * time.Second
	minSecretLen  = 32
)

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrNoSession is returned when a request carries no verified session.
	ErrNoSession = errors.New("no session")
)

// Claims are the JWT claims of a session token.
type Claims struct {
	OrgID string `json:"org"`
	jwt.RegisteredClaims
}

// Session is the verified identity of a caller.
type Session struct {
	UserID    string
	OrgID     string
	TokenID   string
	ExpiresAt time.Time
}

// Verifier issues and verifies HS256 session tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithIssuer(issuer string) Option {
	return func(v *Verifier) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuer = issuer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier returns a verifier for secret, which must be at least 32 bytes.
func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLen)
	}
	v := &Verifier{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Issue signs a token for userID acting in orgID.
func (v *Verifier) Issue(userID, orgID string, ttl time.Duration) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	orgID = strings.TrimSpace(orgID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	if orgID == "" {
		return "", time.Time{}, errors.New("orgID is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	now := v.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and claims of token.
func (v *Verifier) Verify(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithLeeway(clockSkew), jwt.WithIssuer(v.issuer))
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Session{}, ErrInvalidToken
	}
	if err := v.validateClaims(claims); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Session{
		UserID:    strings.TrimSpace(claims.Subject),
		OrgID:     strings.TrimSpace(claims.OrgID),
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (v *Verifier) validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.OrgID) == "" {
		return errors.New("org claim missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.IssuedAt.After(v.now().Add(clockSkew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

type ctxKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the verified session stored in ctx.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	if !ok || s.UserID == "" || s.OrgID == "" {
		return Session{}, false
	}
	return s, true
}
