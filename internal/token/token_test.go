package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/domain"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/repository"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/token"
)

const testIssuer = "https://echosphere.test"

func newGenerator(t *testing.T, accessTTL, refreshTTL time.Duration) *token.Generator {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	manager := token.NewKeyManager(repository.NewMemoryKeyRepo(), node)
	return token.NewGenerator(manager, testIssuer, accessTTL, refreshTTL)
}

func testUser() domain.User {
	return domain.User{
		ID:                42,
		Email:             "john@example.com",
		Name:              "John Doe",
		PasswordChangedAt: time.Unix(1700000000, 0),
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, time.Minute, time.Hour)

	pair, err := gen.IssuePair(ctx, testUser())
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	require.Equal(t, 60, pair.ExpiresIn)

	userID, claims, err := gen.Verify(ctx, pair.AccessToken, token.UseAccess)
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
	require.Equal(t, "john@example.com", claims.Email)
	require.Equal(t, int64(1700000000), claims.PwdAt)

	userID, _, err = gen.Verify(ctx, pair.RefreshToken, token.UseRefresh)
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
}

func TestVerifyEnforcesTokenUse(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, time.Minute, time.Hour)

	pair, err := gen.IssuePair(ctx, testUser())
	require.NoError(t, err)

	_, _, err = gen.Verify(ctx, pair.RefreshToken, token.UseAccess)
	require.ErrorIs(t, err, token.ErrInvalid)

	_, _, err = gen.Verify(ctx, pair.AccessToken, token.UseRefresh)
	require.ErrorIs(t, err, token.ErrInvalid)
}

func TestElapsedTTLIsExpiredNeverInvalid(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, -time.Minute, time.Hour)

	pair, err := gen.IssuePair(ctx, testUser())
	require.NoError(t, err)

	_, _, err = gen.Verify(ctx, pair.AccessToken, token.UseAccess)
	require.ErrorIs(t, err, token.ErrExpired)
	require.NotErrorIs(t, err, token.ErrInvalid)
}

func TestTamperedTokenIsInvalidNeverExpired(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, time.Minute, time.Hour)

	pair, err := gen.IssuePair(ctx, testUser())
	require.NoError(t, err)

	// Flip a character in the middle of the token so the payload no longer
	// matches the signature.
	tampered := []byte(pair.AccessToken)
	mid := len(tampered) / 2
	if tampered[mid] == 'a' {
		tampered[mid] = 'b'
	} else {
		tampered[mid] = 'a'
	}

	_, _, err = gen.Verify(ctx, string(tampered), token.UseAccess)
	require.ErrorIs(t, err, token.ErrInvalid)
	require.NotErrorIs(t, err, token.ErrExpired)

	_, _, err = gen.Verify(ctx, "not-a-jwt", token.UseAccess)
	require.ErrorIs(t, err, token.ErrInvalid)
}

func TestPairsAreUniquePerIssue(t *testing.T) {
	ctx := context.Background()
	gen := newGenerator(t, time.Minute, time.Hour)
	user := testUser()

	first, err := gen.IssuePair(ctx, user)
	require.NoError(t, err)
	second, err := gen.IssuePair(ctx, user)
	require.NoError(t, err)

	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
}

func TestWrongIssuerIsInvalid(t *testing.T) {
	ctx := context.Background()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	keys := token.NewKeyManager(repository.NewMemoryKeyRepo(), node)
	gen := token.NewGenerator(keys, testIssuer, time.Minute, time.Hour)
	other := token.NewGenerator(keys, "https://attacker.test", time.Minute, time.Hour)

	pair, err := other.IssuePair(ctx, testUser())
	require.NoError(t, err)

	_, _, err = gen.Verify(ctx, pair.AccessToken, token.UseAccess)
	require.ErrorIs(t, err, token.ErrInvalid)
}
