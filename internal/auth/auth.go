// Package auth verifies bearer tokens issued by the account service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

// Identity is the authenticated caller.
type Identity struct {
	Username string
	IsAdmin  bool
}

// Claims is the token payload. Username falls back to the subject.
type Claims struct {
	Username string `json:"username,omitempty"`
	IsStaff  bool   `json:"is_staff,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier returns a Verifier for secret. An empty issuer accepts any.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates raw and returns the identity it carries.
func (v *Verifier) Verify(raw string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errpkg.ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, errpkg.ErrUnauthenticated
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", errpkg.ErrUnauthenticated)
	}

	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	if name == "" {
		return nil, fmt.Errorf("%w: token has no subject", errpkg.ErrUnauthenticated)
	}
	return &Identity{Username: name, IsAdmin: claims.IsStaff}, nil
}

// Issue signs a token for id. It is used by the CLI and by tests.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: id.Username,
		IsStaff:  id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Username,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromHeader extracts the token from an Authorization header value.
// Both "Bearer" and "Token" schemes are accepted.
func TokenFromHeader(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return "", errors.New("malformed authorization header")
	}
	switch strings.ToLower(scheme) {
	case "bearer", "token":
	default:
		return "", fmt.Errorf("unsupported authorization scheme %q", scheme)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}
