package service_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/config"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/mail"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/password"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/repository"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/service"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/storage"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/token"
)

type testEnv struct {
	svc      *service.SessionService
	users    *repository.MemoryUserRepo
	mailer   *captureSender
	presence *fakePresence
	avatars  *storage.Memory
}

func newTestEnv(t *testing.T, accessTTL time.Duration) *testEnv {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		BaseURL:         "https://echosphere.test",
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: time.Hour,
		ResetTokenTTL:   time.Hour,
		VerifyTokenTTL:  24 * time.Hour,
		AvatarMaxBytes:  1 << 20,
	}

	users := repository.NewMemoryUserRepo()
	keys := token.NewKeyManager(repository.NewMemoryKeyRepo(), node)
	generator := token.NewGenerator(keys, cfg.BaseURL, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	mailer := &captureSender{}
	presence := &fakePresence{online: make(map[int64]bool)}
	avatars := storage.NewMemory()

	svc := service.NewSessionService(users, generator, mailer, presence, avatars, node, cfg, zap.NewNop())
	return &testEnv{svc: svc, users: users, mailer: mailer, presence: presence, avatars: avatars}
}

func requireServiceError(t *testing.T, err error, code string) {
	t.Helper()
	var svcErr *service.Error
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, code, svcErr.Code)
}

func TestSignupIssuesSessionAndHashesPassword(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, pair, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	require.Equal(t, "john@example.com", user.Email)
	require.NotEqual(t, "StrongP@ss1", user.PasswordHash)

	ok, err := password.Verify("StrongP@ss1", user.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)

	userID, err := env.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)

	// Signup dispatches a verification email.
	sent := env.mailer.sent()
	require.Len(t, sent, 1)
	require.Equal(t, mail.TemplateVerifyEmail, sent[0].template)
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	_, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	_, _, err = env.svc.Signup(ctx, "Impostor", "John@Example.com", "OtherP@ss1")
	requireServiceError(t, err, service.CodeConflict)
}

func TestSignupRejectsWeakPasswordBeforeAnyWork(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	_, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "weak")
	requireServiceError(t, err, service.CodeWeakPassword)

	// Nothing was persisted and nothing was emailed.
	_, err = env.users.GetByEmail(ctx, "john@example.com")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.Empty(t, env.mailer.sent())
}

func TestSignupRejectsMalformedEmail(t *testing.T) {
	env := newTestEnv(t, time.Minute)

	_, _, err := env.svc.Signup(context.Background(), "John Doe", "not-an-email", "StrongP@ss1")
	requireServiceError(t, err, service.CodeInvalidRequest)
}

func TestLoginUniformFailureAndNoLockout(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	_, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	_, _, wrongPassword := env.svc.Login(ctx, "john@example.com", "WrongP@ss1")
	_, _, unknownEmail := env.svc.Login(ctx, "nobody@example.com", "WrongP@ss1")
	requireServiceError(t, wrongPassword, service.CodeInvalidCredentials)
	requireServiceError(t, unknownEmail, service.CodeInvalidCredentials)
	require.Equal(t, wrongPassword.Error(), unknownEmail.Error())

	// Five failures in a row never lock the account.
	for i := 0; i < 5; i++ {
		_, _, err := env.svc.Login(ctx, "john@example.com", "WrongP@ss1")
		requireServiceError(t, err, service.CodeInvalidCredentials)
	}

	user, pair, err := env.svc.Login(ctx, "john@example.com", "StrongP@ss1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.True(t, env.presence.isOnline(user.ID))
}

func TestRefreshRotatesTokenMaterial(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, pair, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	refreshed, next, err := env.svc.RefreshSession(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, refreshed.ID)
	require.NotEqual(t, pair.AccessToken, next.AccessToken)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	userID, err := env.svc.Authenticate(ctx, next.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	_, pair, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	_, _, err = env.svc.RefreshSession(ctx, pair.AccessToken)
	requireServiceError(t, err, service.CodeTokenInvalid)
}

func TestRefreshRejectsDeletedAccount(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, pair, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	env.users.Delete(user.ID)

	_, _, err = env.svc.RefreshSession(ctx, pair.RefreshToken)
	requireServiceError(t, err, service.CodeTokenInvalid)
}

func TestAuthenticateExpiredIsDistinctFromInvalid(t *testing.T) {
	env := newTestEnv(t, -time.Minute)
	ctx := context.Background()

	_, pair, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	_, err = env.svc.Authenticate(ctx, pair.AccessToken)
	requireServiceError(t, err, service.CodeTokenExpired)

	_, err = env.svc.Authenticate(ctx, "garbage.token.value")
	requireServiceError(t, err, service.CodeTokenInvalid)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, pair, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)
	env.mailer.reset()

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "john@example.com"))
	sent := env.mailer.sent()
	require.Len(t, sent, 1)
	require.Equal(t, mail.TemplatePasswordReset, sent[0].template)

	resetToken := tokenFromLink(t, sent[0].payload.Link)
	require.NoError(t, env.svc.ResetPassword(ctx, resetToken, "NewStr0ng!Pass"))

	// The previous password no longer authenticates; the new one does.
	_, _, err = env.svc.Login(ctx, "john@example.com", "StrongP@ss1")
	requireServiceError(t, err, service.CodeInvalidCredentials)
	_, _, err = env.svc.Login(ctx, "john@example.com", "NewStr0ng!Pass")
	require.NoError(t, err)

	// The reset token is single use.
	err = env.svc.ResetPassword(ctx, resetToken, "Another1!Pass")
	requireServiceError(t, err, service.CodeTokenInvalid)

	// Tokens issued before the reset stop validating.
	_, err = env.svc.Authenticate(ctx, pair.AccessToken)
	requireServiceError(t, err, service.CodeTokenInvalid)
	_, _, err = env.svc.RefreshSession(ctx, pair.RefreshToken)
	requireServiceError(t, err, service.CodeTokenInvalid)

	_ = user
}

func TestRequestPasswordResetUniformForUnknownEmail(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	_, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)
	env.mailer.reset()

	knownErr := env.svc.RequestPasswordReset(ctx, "john@example.com")
	unknownErr := env.svc.RequestPasswordReset(ctx, "nobody@example.com")
	require.NoError(t, knownErr)
	require.NoError(t, unknownErr)

	// Only the real account received mail, but the caller cannot tell.
	require.Len(t, env.mailer.sent(), 1)
}

func TestRequestPasswordResetOverwritesPriorToken(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	_, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)
	env.mailer.reset()

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "john@example.com"))
	require.NoError(t, env.svc.RequestPasswordReset(ctx, "john@example.com"))
	sent := env.mailer.sent()
	require.Len(t, sent, 2)

	first := tokenFromLink(t, sent[0].payload.Link)
	second := tokenFromLink(t, sent[1].payload.Link)
	require.NotEqual(t, first, second)

	// The older token was invalidated by the overwrite.
	err = env.svc.ResetPassword(ctx, first, "NewStr0ng!Pass")
	requireServiceError(t, err, service.CodeTokenInvalid)
	require.NoError(t, env.svc.ResetPassword(ctx, second, "NewStr0ng!Pass"))
}

func TestResetPasswordRejectsWeakReplacement(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	_, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)
	env.mailer.reset()

	require.NoError(t, env.svc.RequestPasswordReset(ctx, "john@example.com"))
	resetToken := tokenFromLink(t, env.mailer.sent()[0].payload.Link)

	err = env.svc.ResetPassword(ctx, resetToken, "weak")
	requireServiceError(t, err, service.CodeWeakPassword)

	// The failed attempt consumed nothing.
	require.NoError(t, env.svc.ResetPassword(ctx, resetToken, "NewStr0ng!Pass"))
}

func TestVerifyEmailFlow(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	sent := env.mailer.sent()
	require.Len(t, sent, 1)
	verifyToken := tokenFromLink(t, sent[0].payload.Link)

	// A wrong token never verifies.
	err = env.svc.VerifyEmail(ctx, user.ID, "12345.deadbeef")
	requireServiceError(t, err, service.CodeTokenInvalid)

	require.NoError(t, env.svc.VerifyEmail(ctx, user.ID, verifyToken))

	profile, err := env.svc.Profile(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, profile.EmailVerified)

	// Idempotent when already verified, even with a stale token.
	require.NoError(t, env.svc.VerifyEmail(ctx, user.ID, verifyToken))
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)
	verifyToken := tokenFromLink(t, env.mailer.sent()[0].payload.Link)

	past := time.Now().UTC().Add(-time.Minute)
	_, err = env.users.Update(ctx, user.ID, repository.UserPatch{VerifyTokenExpiry: &past})
	require.NoError(t, err)

	err = env.svc.VerifyEmail(ctx, user.ID, verifyToken)
	requireServiceError(t, err, service.CodeTokenExpired)
}

func TestRequestEmailVerificationIdempotentWhenVerified(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)
	require.NoError(t, env.svc.VerifyEmail(ctx, user.ID, tokenFromLink(t, env.mailer.sent()[0].payload.Link)))
	env.mailer.reset()

	require.NoError(t, env.svc.RequestEmailVerification(ctx, user.ID))
	require.Empty(t, env.mailer.sent())
}

func TestProfileMutations(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	updated, err := env.svc.UpdateAboutMe(ctx, user.ID, "Hey there, I am using echoSphere.")
	require.NoError(t, err)
	require.Equal(t, "Hey there, I am using echoSphere.", updated.AboutMe)

	_, err = env.svc.UpdateAboutMe(ctx, user.ID, strings.Repeat("x", 513))
	requireServiceError(t, err, service.CodeInvalidRequest)

	updated, err = env.svc.UpdatePhone(ctx, user.ID, "+4915123456789")
	require.NoError(t, err)
	require.Equal(t, "+4915123456789", updated.Phone)

	_, err = env.svc.UpdatePhone(ctx, user.ID, "call me maybe")
	requireServiceError(t, err, service.CodeInvalidRequest)
}

func TestUpdateAvatar(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, _, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	img := []byte("fake-png-bytes")
	updated, err := env.svc.UpdateAvatar(ctx, user.ID, "me.png", "image/png", int64(len(img)), bytes.NewReader(img))
	require.NoError(t, err)
	require.NotEmpty(t, updated.AvatarURL)
	require.Contains(t, updated.AvatarURL, ".png")

	_, err = env.svc.UpdateAvatar(ctx, user.ID, "notes.txt", "text/plain", 4, strings.NewReader("text"))
	requireServiceError(t, err, service.CodeInvalidRequest)

	huge := int64(2 << 20)
	_, err = env.svc.UpdateAvatar(ctx, user.ID, "big.png", "image/png", huge, bytes.NewReader(img))
	requireServiceError(t, err, service.CodeInvalidRequest)
}

func TestRevokeMarksOffline(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	user, pair, err := env.svc.Signup(ctx, "John Doe", "john@example.com", "StrongP@ss1")
	require.NoError(t, err)

	_, _, err = env.svc.Login(ctx, "john@example.com", "StrongP@ss1")
	require.NoError(t, err)
	require.True(t, env.presence.isOnline(user.ID))

	env.svc.Revoke(ctx, user.ID)
	require.False(t, env.presence.isOnline(user.ID))

	// Stateless design: the access token still verifies until its TTL ends.
	userID, err := env.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, userID)
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	_, value, ok := strings.Cut(link, "token=")
	require.True(t, ok, "link %q carries no token", link)
	return value
}

type sentMail struct {
	to       string
	template mail.Template
	payload  mail.Payload
}

type captureSender struct {
	mu    sync.Mutex
	mails []sentMail
}

func (c *captureSender) Send(ctx context.Context, to string, template mail.Template, payload mail.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mails = append(c.mails, sentMail{to: to, template: template, payload: payload})
	return nil
}

func (c *captureSender) sent() []sentMail {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMail(nil), c.mails...)
}

func (c *captureSender) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mails = nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[int64]bool
}

func (f *fakePresence) MarkOnline(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = true
	return nil
}

func (f *fakePresence) MarkOffline(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, userID)
	return nil
}

func (f *fakePresence) IsOnline(ctx context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID], nil
}

func (f *fakePresence) isOnline(userID int64) bool {
	ok, _ := f.IsOnline(context.Background(), userID)
	return ok
}
