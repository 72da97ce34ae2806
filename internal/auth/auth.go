package auth

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
	issuer = "jiralink"
	// stateAudience marks tokens minted for the OAuth state round trip.
	// They travel through third-party URLs and never authenticate API calls.
	stateAudience = "oauth_state"
)

// Role distinguishes the two tenant kinds.
type Role string

const (
	RoleOrganization Role = "organization"
	RoleEmployee     Role = "employee"
)

// ParseRole normalizes s into a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(s))) {
	case RoleOrganization:
		return RoleOrganization, true
	case RoleEmployee:
		return RoleEmployee, true
	}
	return "", false
}

// Identity is the authenticated caller: a tenant id and its role.
type Identity struct {
	TenantID string
	Role     Role
}

// Claims represents JWT claims issued to callers.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Resolver turns a bearer token into the caller identity.
type Resolver interface {
	Resolve(token string) (Identity, error)
}

var _ Resolver = (*Verifier)(nil)

// Verifier signs and validates HS256 caller tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the verifier clock.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier builds a verifier for the shared secret.
func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth secret is not configured")
	}
	v := &Verifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// GenerateToken signs a bearer token for the tenant and role.
func (v *Verifier) GenerateToken(id Identity, ttl time.Duration) (string, error) {
	return v.sign(id, ttl, nil)
}

// GenerateState signs an OAuth state value bound to the caller. Resolve
// rejects state values.
func (v *Verifier) GenerateState(id Identity, ttl time.Duration) (string, error) {
	return v.sign(id, ttl, jwt.ClaimStrings{stateAudience})
}

// Resolve verifies a bearer token and returns the caller identity.
func (v *Verifier) Resolve(token string) (Identity, error) {
	claims, err := v.parse(token)
	if err != nil {
		return Identity{}, err
	}
	if len(claims.Audience) != 0 {
		return Identity{}, ErrInvalidToken
	}
	return v.identity(claims)
}

// ResolveState verifies a value minted by GenerateState.
func (v *Verifier) ResolveState(state string) (Identity, error) {
	claims, err := v.parse(state)
	if err != nil {
		return Identity{}, err
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != stateAudience {
		return Identity{}, ErrInvalidToken
	}
	return v.identity(claims)
}

func (v *Verifier) sign(id Identity, ttl time.Duration, aud jwt.ClaimStrings) (string, error) {
	tenantID := strings.TrimSpace(id.TenantID)
	if tenantID == "" {
		return "", errors.New("tenant id is required")
	}
	if _, ok := ParseRole(string(id.Role)); !ok {
		return "", fmt.Errorf("unknown role %q", id.Role)
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}

	now := v.now().UTC()
	claims := Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   tenantID,
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (v *Verifier) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *Verifier) identity(claims *Claims) (Identity, error) {
	role, ok := ParseRole(claims.Role)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return Identity{TenantID: claims.Subject, Role: role}, nil
}

func (v *Verifier) validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := v.now().UTC()
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

type identityKey struct{}

// ContextWithIdentity stores the caller identity in the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext extracts the authenticated caller.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || strings.TrimSpace(id.TenantID) == "" {
		return Identity{}, false
	}
	return id, true
}

// Require returns the caller identity if it holds one of roles.
func Require(ctx context.Context, roles ...Role) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	if len(roles) == 0 {
		return id, nil
	}
	for _, r := range roles {
		if id.Role == r {
			return id, nil
		}
	}
	return Identity{}, ErrForbidden
}
