package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/config"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/domain"
	appmail "github.com/Abdullahkhan871/echoSphere-BACKEND/internal/mail"
	pw "github.com/Abdullahkhan871/echoSphere-BACKEND/internal/password"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/repository"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/storage"
	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/token"
)

const aboutMeMaxLen = 512

var phoneRx = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// Presence flags users online and offline.
type Presence interface {
	MarkOnline(ctx context.Context, userID int64) error
	MarkOffline(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// SessionService owns the authentication and session lifecycle: issuing and
// rotating token pairs, gating profile mutations, and the email
// verification / password reset flows.
type SessionService struct {
	users    repository.UserRepository
	tokens   *token.Generator
	mailer   appmail.Sender
	presence Presence
	avatars  storage.ObjectStorage
	node     *snowflake.Node
	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewSessionService wires dependencies.
func NewSessionService(users repository.UserRepository, tokens *token.Generator, mailer appmail.Sender, presence Presence, avatars storage.ObjectStorage, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *SessionService {
	return &SessionService{
		users:    users,
		tokens:   tokens,
		mailer:   mailer,
		presence: presence,
		avatars:  avatars,
		node:     node,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/Abdullahkhan871/echoSphere-BACKEND/internal/service"),
	}
}

// Signup validates input, creates the user, and issues a first session.
// Validation runs before any hashing or store work; a rejected password
// leaves no partial state behind.
func (s *SessionService) Signup(ctx context.Context, name, email, password string) (domain.User, token.Pair, error) {
	ctx, span := s.startSpan(ctx, "SessionService.Signup")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, token.Pair{}, errInvalidRequest("Name is required.")
	}
	normalized, err := normalizeEmail(email)
	if err != nil {
		return domain.User{}, token.Pair{}, errInvalidRequest("Invalid email address.")
	}
	if err := pw.Validate(password); err != nil {
		return domain.User{}, token.Pair{}, errWeakPassword()
	}

	hashed, err := pw.Hash(password)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, token.Pair{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:                s.node.Generate().Int64(),
		Email:             normalized,
		PasswordHash:      hashed,
		Name:              name,
		PasswordChangedAt: time.Now().UTC().Truncate(time.Second),
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.User{}, token.Pair{}, errConflict("Email already registered.")
		}
		span.RecordError(err)
		return domain.User{}, token.Pair{}, fmt.Errorf("create user: %w", err)
	}

	// Verification email is best effort; a delivery failure never fails signup.
	if err := s.issueVerifyToken(ctx, created); err != nil {
		s.log().Warn("signup verification email failed", zap.Int64("user_id", created.ID), zap.Error(err))
	}

	pair, err := s.IssueSession(ctx, created)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, token.Pair{}, err
	}

	s.audit("signup.success", "user_id", created.ID)
	return created, pair, nil
}

// Login authenticates with email and password. Unknown email and wrong
// password produce the same error and a comparable amount of hashing work.
func (s *SessionService) Login(ctx context.Context, email, password string) (domain.User, token.Pair, error) {
	ctx, span := s.startSpan(ctx, "SessionService.Login")
	defer span.End()

	normalized, err := normalizeEmail(email)
	if err != nil {
		return domain.User{}, token.Pair{}, errInvalidCredentials()
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		// Burn a verification against a throwaway hash so the miss costs the
		// same as a mismatch.
		_, _ = pw.Verify(password, decoyHash)
		return domain.User{}, token.Pair{}, errInvalidCredentials()
	}

	valid, err := pw.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		return domain.User{}, token.Pair{}, errInvalidCredentials()
	}

	pair, err := s.IssueSession(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, token.Pair{}, err
	}

	s.markOnline(ctx, user.ID)
	s.audit("login.success", "user_id", user.ID)
	return user, pair, nil
}

// IssueSession mints an access and refresh token pair for the user. It has
// no side effect on the credential store.
func (s *SessionService) IssueSession(ctx context.Context, user domain.User) (token.Pair, error) {
	pair, err := s.tokens.IssuePair(ctx, user)
	if err != nil {
		return token.Pair{}, fmt.Errorf("issue session: %w", err)
	}
	return pair, nil
}

// Authenticate resolves an access token to its user. Expired and invalid
// tokens fail distinctly; a subject that no longer exists, or a token minted
// before the last password change, fails as invalid.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (int64, error) {
	userID, claims, err := s.tokens.Verify(ctx, accessToken, token.UseAccess)
	if err != nil {
		return 0, mapTokenError(err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, errTokenInvalid()
		}
		return 0, fmt.Errorf("authenticate load user: %w", err)
	}

	if claims.PwdAt != user.PasswordChangedAt.UTC().Unix() {
		return 0, errTokenInvalid()
	}

	return userID, nil
}

// RefreshSession verifies a refresh token and issues a fresh pair. The new
// access token never equals the one it replaces (rotation).
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (domain.User, token.Pair, error) {
	ctx, span := s.startSpan(ctx, "SessionService.RefreshSession")
	defer span.End()

	userID, claims, err := s.tokens.Verify(ctx, refreshToken, token.UseRefresh)
	if err != nil {
		return domain.User{}, token.Pair{}, mapTokenError(err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, token.Pair{}, errTokenInvalid()
		}
		span.RecordError(err)
		return domain.User{}, token.Pair{}, fmt.Errorf("refresh load user: %w", err)
	}

	if claims.PwdAt != user.PasswordChangedAt.UTC().Unix() {
		return domain.User{}, token.Pair{}, errTokenInvalid()
	}

	pair, err := s.IssueSession(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, token.Pair{}, err
	}

	s.markOnline(ctx, user.ID)
	s.audit("refresh.success", "user_id", user.ID)
	return user, pair, nil
}

// Revoke ends the session server-side as far as a stateless design allows:
// the user drops offline and the handler clears both cookies. Already-issued
// tokens stay verifiable until their TTL elapses; there is no denylist.
func (s *SessionService) Revoke(ctx context.Context, userID int64) {
	if s.presence != nil {
		if err := s.presence.MarkOffline(ctx, userID); err != nil {
			s.log().Warn("mark offline failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	s.audit("logout", "user_id", userID)
}

// RequestPasswordReset stores a single-use reset token and emails the link.
// The response is identical whether or not the email exists, and a new
// request overwrites any earlier token (last write wins).
func (s *SessionService) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, span := s.startSpan(ctx, "SessionService.RequestPasswordReset")
	defer span.End()

	normalized, err := normalizeEmail(email)
	if err != nil {
		return errInvalidRequest("Invalid email address.")
	}

	// Token material is generated before the lookup so both branches do the
	// same work.
	raw, hash, err := newActionToken()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("generate reset token: %w", err)
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.audit("password_reset.unknown_email")
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("reset lookup user: %w", err)
	}

	expiry := time.Now().UTC().Add(s.cfg.ResetTokenTTL)
	if _, err := s.users.Update(ctx, user.ID, repository.UserPatch{
		ResetTokenHash:   &hash,
		ResetTokenExpiry: &expiry,
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist reset token: %w", err)
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimSuffix(s.cfg.BaseURL, "/"), composeToken(user.ID, raw))
	if err := s.mailer.Send(ctx, user.Email, appmail.TemplatePasswordReset, appmail.Payload{Name: user.Name, Link: link}); err != nil {
		// The token is already persisted and stays valid for a resend. The
		// failure is not surfaced so the response stays uniform.
		s.log().Warn("reset email delivery failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	s.audit("password_reset.requested", "user_id", user.ID)
	return nil
}

// ResetPassword consumes a reset token and stores the new password. The
// token is single use, and the password-changed timestamp moves forward so
// every previously issued access and refresh token stops validating.
func (s *SessionService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	ctx, span := s.startSpan(ctx, "SessionService.ResetPassword")
	defer span.End()

	if err := pw.Validate(newPassword); err != nil {
		return errWeakPassword()
	}

	userID, secret, err := splitToken(rawToken)
	if err != nil {
		return errTokenInvalid()
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errTokenInvalid()
		}
		span.RecordError(err)
		return fmt.Errorf("reset load user: %w", err)
	}

	if user.ResetTokenHash == "" || !hashMatches(secret, user.ResetTokenHash) {
		return errTokenInvalid()
	}
	if time.Now().UTC().After(user.ResetTokenExpiry) {
		return errTokenExpired()
	}

	hashed, err := pw.Hash(newPassword)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("hash password: %w", err)
	}

	// pwd_at has second granularity; a reset in the same second as the last
	// change must still move the value forward or old tokens keep validating.
	changedAt := time.Now().UTC().Truncate(time.Second)
	if !changedAt.After(user.PasswordChangedAt) {
		changedAt = user.PasswordChangedAt.Add(time.Second)
	}
	cleared := ""
	var zeroTime time.Time
	if _, err := s.users.Update(ctx, user.ID, repository.UserPatch{
		PasswordHash:      &hashed,
		PasswordChangedAt: &changedAt,
		ResetTokenHash:    &cleared,
		ResetTokenExpiry:  &zeroTime,
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist new password: %w", err)
	}

	s.audit("password_reset.success", "user_id", user.ID)
	return nil
}

// RequestEmailVerification issues a fresh verification token for an
// authenticated user and emails the link.
func (s *SessionService) RequestEmailVerification(ctx context.Context, userID int64) error {
	ctx, span := s.startSpan(ctx, "SessionService.RequestEmailVerification")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNotFound("User not found.")
		}
		span.RecordError(err)
		return fmt.Errorf("verification load user: %w", err)
	}

	if user.EmailVerified {
		return nil
	}

	if err := s.issueVerifyToken(ctx, user); err != nil {
		if errors.Is(err, errDelivery) {
			return errDeliveryFailed()
		}
		span.RecordError(err)
		return err
	}

	s.audit("email_verification.requested", "user_id", user.ID)
	return nil
}

// VerifyEmail marks the authenticated user's email verified. Idempotent when
// already verified; otherwise the emailed token must match and be unexpired,
// and is consumed on success.
func (s *SessionService) VerifyEmail(ctx context.Context, userID int64, rawToken string) error {
	ctx, span := s.startSpan(ctx, "SessionService.VerifyEmail")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNotFound("User not found.")
		}
		span.RecordError(err)
		return fmt.Errorf("verify load user: %w", err)
	}

	if user.EmailVerified {
		return nil
	}

	tokenUserID, secret, err := splitToken(rawToken)
	if err != nil || tokenUserID != user.ID {
		return errTokenInvalid()
	}
	if user.VerifyTokenHash == "" || !hashMatches(secret, user.VerifyTokenHash) {
		return errTokenInvalid()
	}
	if time.Now().UTC().After(user.VerifyTokenExpiry) {
		return errTokenExpired()
	}

	verified := true
	cleared := ""
	var zeroTime time.Time
	if _, err := s.users.Update(ctx, user.ID, repository.UserPatch{
		EmailVerified:     &verified,
		VerifyTokenHash:   &cleared,
		VerifyTokenExpiry: &zeroTime,
	}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist verification: %w", err)
	}

	s.audit("email_verification.success", "user_id", user.ID)
	return nil
}

// Profile loads a user and annotates the presence flag.
func (s *SessionService) Profile(ctx context.Context, userID int64) (domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, errNotFound("User not found.")
		}
		return domain.User{}, fmt.Errorf("load profile: %w", err)
	}
	if s.presence != nil {
		if online, err := s.presence.IsOnline(ctx, userID); err == nil {
			user.Online = online
		}
	}
	return user, nil
}

// UpdateAboutMe stores the about-me text.
func (s *SessionService) UpdateAboutMe(ctx context.Context, userID int64, text string) (domain.User, error) {
	text = strings.TrimSpace(text)
	if len(text) > aboutMeMaxLen {
		return domain.User{}, errInvalidRequest(fmt.Sprintf("About me must be %d characters or fewer.", aboutMeMaxLen))
	}
	user, err := s.users.Update(ctx, userID, repository.UserPatch{AboutMe: &text})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, errNotFound("User not found.")
		}
		return domain.User{}, fmt.Errorf("update about me: %w", err)
	}
	s.audit("profile.about_me_updated", "user_id", userID)
	return user, nil
}

// UpdatePhone stores the mobile number.
func (s *SessionService) UpdatePhone(ctx context.Context, userID int64, phone string) (domain.User, error) {
	phone = strings.TrimSpace(phone)
	if !phoneRx.MatchString(phone) {
		return domain.User{}, errInvalidRequest("Invalid mobile number.")
	}
	user, err := s.users.Update(ctx, userID, repository.UserPatch{Phone: &phone})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, errNotFound("User not found.")
		}
		return domain.User{}, fmt.Errorf("update phone: %w", err)
	}
	s.audit("profile.phone_updated", "user_id", userID)
	return user, nil
}

// UpdateAvatar streams the image to object storage and stores its URL.
func (s *SessionService) UpdateAvatar(ctx context.Context, userID int64, filename, contentType string, size int64, r io.Reader) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "SessionService.UpdateAvatar")
	defer span.End()

	if s.avatars == nil {
		return domain.User{}, errStorageUnavailable()
	}
	if !strings.HasPrefix(contentType, "image/") {
		return domain.User{}, errInvalidRequest("Avatar must be an image.")
	}
	if size <= 0 || size > s.cfg.AvatarMaxBytes {
		return domain.User{}, errInvalidRequest(fmt.Sprintf("Avatar must be between 1 byte and %d bytes.", s.cfg.AvatarMaxBytes))
	}

	key := fmt.Sprintf("avatars/%d/%s%s", userID, uuid.NewString(), strings.ToLower(filepath.Ext(filename)))
	if err := s.avatars.Put(ctx, key, r, size, contentType); err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("store avatar: %w", err)
	}

	url := s.avatars.URL(key)
	user, err := s.users.Update(ctx, userID, repository.UserPatch{AvatarURL: &url})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, errNotFound("User not found.")
		}
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("update avatar url: %w", err)
	}

	s.audit("profile.avatar_updated", "user_id", userID)
	return user, nil
}

var errDelivery = errors.New("delivery failed")

func (s *SessionService) issueVerifyToken(ctx context.Context, user domain.User) error {
	raw, hash, err := newActionToken()
	if err != nil {
		return fmt.Errorf("generate verify token: %w", err)
	}

	expiry := time.Now().UTC().Add(s.cfg.VerifyTokenTTL)
	if _, err := s.users.Update(ctx, user.ID, repository.UserPatch{
		VerifyTokenHash:   &hash,
		VerifyTokenExpiry: &expiry,
	}); err != nil {
		return fmt.Errorf("persist verify token: %w", err)
	}

	link := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimSuffix(s.cfg.BaseURL, "/"), composeToken(user.ID, raw))
	if err := s.mailer.Send(ctx, user.Email, appmail.TemplateVerifyEmail, appmail.Payload{Name: user.Name, Link: link}); err != nil {
		// Token state stays put; the email can be re-sent.
		return fmt.Errorf("%w: %s", errDelivery, err)
	}
	return nil
}

func (s *SessionService) markOnline(ctx context.Context, userID int64) {
	if s.presence == nil {
		return
	}
	if err := s.presence.MarkOnline(ctx, userID); err != nil {
		s.log().Warn("mark online failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *SessionService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *SessionService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *SessionService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return errTokenExpired()
	case errors.Is(err, token.ErrInvalid):
		return errTokenInvalid()
	default:
		return err
	}
}

func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", fmt.Errorf("empty email")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("malformed email")
	}
	return trimmed, nil
}

// newActionToken returns the raw secret handed to the user and the SHA-256
// hex digest persisted in its place.
func newActionToken() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	sum := sha256.Sum256([]byte(raw))
	return raw, hex.EncodeToString(sum[:]), nil
}

// composeToken embeds the user id so the store never needs a lookup by
// token value.
func composeToken(userID int64, raw string) string {
	return fmt.Sprintf("%d.%s", userID, raw)
}

func splitToken(composed string) (int64, string, error) {
	idPart, secret, ok := strings.Cut(composed, ".")
	if !ok || secret == "" {
		return 0, "", fmt.Errorf("malformed token")
	}
	userID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed token")
	}
	return userID, secret, nil
}

func hashMatches(secret, storedHash string) bool {
	sum := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(storedHash)) == 1
}

// decoyHash is verified against when a login email does not exist, keeping
// the miss and mismatch paths in the same latency class.
var decoyHash = func() string {
	h, err := pw.Hash("decoy-password-for-timing")
	if err != nil {
		panic(err)
	}
	return h
}()
