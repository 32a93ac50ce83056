package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errpkg "github.com/veranemoloko/offline-downloader/internal/errors"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret", "accounts")

	raw, err := v.Issue(Identity{Username: "alice@example.com", IsAdmin: true}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", id.Username)
	assert.True(t, id.IsAdmin)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret", "accounts")

	expired, err := v.Issue(Identity{Username: "alice"}, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewVerifier("other", "accounts").Issue(Identity{Username: "alice"}, time.Minute)
	require.NoError(t, err)

	otherIssuer, err := NewVerifier("secret", "elsewhere").Issue(Identity{Username: "alice"}, time.Minute)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(raw)
			assert.True(t, errors.Is(err, errpkg.ErrUnauthenticated))
		})
	}
}

func TestVerifier_SubjectFallback(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := NewVerifier("secret", "").Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "bob", id.Username)
	assert.False(t, id.IsAdmin)
}

func TestTokenFromHeader(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"Token abc", "abc", false},
		{"bearer  abc ", "abc", false},
		{"Basic abc", "", true},
		{"abc", "", true},
		{"Bearer ", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := TokenFromHeader(tt.header)
		if tt.wantErr {
			assert.Error(t, err, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, got)
	}
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), &Identity{Username: "alice"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "alice", id.Username)
}
