package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/domain"
)

// Token uses carried in the token_use claim. A refresh token can never pass
// for an access token and vice versa.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// ErrExpired marks a well-formed, correctly signed token whose TTL elapsed.
// Callers holding a refresh token should attempt a silent refresh.
var ErrExpired = errors.New("token expired")

// ErrInvalid marks a malformed or tampered token. Terminal: re-login required.
var ErrInvalid = errors.New("token invalid")

// Claims is the custom JWT payload shared by both token kinds.
type Claims struct {
	TokenUse string `json:"token_use"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	// PwdAt is the unix time of the user's last password change. Tokens
	// minted before a password reset carry a stale value and fail validation.
	PwdAt int64 `json:"pwd_at"`
}

// Pair bundles the access and refresh tokens issued together.
type Pair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int
}

// Generator signs and verifies session tokens.
type Generator struct {
	keys       *KeyManager
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewGenerator constructs a token generator.
func NewGenerator(keys *KeyManager, issuer string, accessTTL, refreshTTL time.Duration) *Generator {
	return &Generator{keys: keys, issuer: issuer, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// AccessTTL reports the configured access token lifetime.
func (g *Generator) AccessTTL() time.Duration { return g.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (g *Generator) RefreshTTL() time.Duration { return g.refreshTTL }

// IssuePair mints an access and refresh token with a shared subject claim.
func (g *Generator) IssuePair(ctx context.Context, user domain.User) (Pair, error) {
	access, err := g.sign(ctx, user, UseAccess, g.accessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := g.sign(ctx, user, UseRefresh, g.refreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(g.accessTTL.Seconds()),
	}, nil
}

func (g *Generator) sign(ctx context.Context, user domain.User, use string, ttl time.Duration) (string, error) {
	key, err := g.keys.EnsureSigningKey(ctx)
	if err != nil {
		return "", err
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.SignatureAlgorithm(key.Algorithm), Key: key.Secret},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", key.KID),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(user.ID, 10),
		Issuer:    g.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(ttl)),
	}
	custom := Claims{
		TokenUse: use,
		Email:    user.Email,
		Name:     user.Name,
		PwdAt:    user.PasswordChangedAt.UTC().Unix(),
	}

	serialized, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return serialized, nil
}

// Verify checks the signature and TTL of a token and enforces the token_use
// claim. Failures are always one of ErrExpired or ErrInvalid: an elapsed TTL
// on an otherwise valid token is never reported as invalid, and a tampered
// token is never reported as expired.
func (g *Generator) Verify(ctx context.Context, raw, use string) (int64, *Claims, error) {
	key, err := g.keys.EnsureSigningKey(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("load signing key: %w", err)
	}

	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{gojose.SignatureAlgorithm(key.Algorithm)})
	if err != nil {
		return 0, nil, ErrInvalid
	}

	var std gojwt.Claims
	var custom Claims
	if err := parsed.Claims(key.Secret, &std, &custom); err != nil {
		return 0, nil, ErrInvalid
	}

	if err := std.Validate(gojwt.Expected{Issuer: g.issuer, Time: time.Now().UTC()}); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return 0, nil, ErrExpired
		}
		return 0, nil, ErrInvalid
	}

	if custom.TokenUse != use {
		return 0, nil, ErrInvalid
	}

	userID, err := strconv.ParseInt(std.Subject, 10, 64)
	if err != nil {
		return 0, nil, ErrInvalid
	}

	return userID, &custom, nil
}
