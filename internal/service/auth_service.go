package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"storefront-auth/internal/event"
	"storefront-auth/internal/metrics"
	"storefront-auth/internal/model"
	"storefront-auth/internal/session"
	"storefront-auth/internal/token"
)

const (
	minPasswordLength = 5
	maxPasswordLength = 72 // bcrypt input limit
	minUsernameLength = 3
	maxUsernameLength = 32

	// Reset requests above this count within the attempt window are logged
	// at warn level. Requests are never refused.
	resetAttemptWarnThreshold = 5
)

var validGenders = map[string]struct{}{"male": {}, "female": {}, "other": {}}

type IdentityRepository interface {
	Create(ctx context.Context, identity model.Identity) error
	FindByID(ctx context.Context, id string) (model.Identity, error)
	FindByEmail(ctx context.Context, email string) (model.Identity, error)
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	MarkVerified(ctx context.Context, id string) (bool, error)
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (model.Identity, error)
}

type AuthConfig struct {
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	ResetTTL           time.Duration
	VerifyTTL          time.Duration
	ResetAttemptWindow time.Duration
	BcryptCost         int
	BaseURL            string
	AdminEmails        []string
}

// Session is the credential pair handed to the delivery channel after a
// successful login, refresh or first email verification.
type Session struct {
	Identity model.Identity
	Access   token.Token
	Refresh  token.Token
}

type SignupInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	Gender          string
}

type AuthService struct {
	users     IdentityRepository
	sessions  session.Backend
	codec     *token.Codec
	mailer    Mailer
	bus       event.Bus
	metrics   *metrics.Metrics
	cfg       AuthConfig
	admins    map[string]struct{}
	dummyHash []byte

	// background reset deliveries
	wg sync.WaitGroup
}

func NewAuthService(
	users IdentityRepository,
	sessions session.Backend,
	codec *token.Codec,
	mailer Mailer,
	bus event.Bus,
	m *metrics.Metrics,
	cfg AuthConfig,
) (*AuthService, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.ResetAttemptWindow <= 0 {
		cfg.ResetAttemptWindow = time.Hour
	}
	if mailer == nil {
		mailer = LogMailer{}
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if email = normalizeEmail(email); email != "" {
			admins[email] = struct{}{}
		}
	}

	return &AuthService{
		users:     users,
		sessions:  sessions,
		codec:     codec,
		mailer:    mailer,
		bus:       bus,
		metrics:   m,
		cfg:       cfg,
		admins:    admins,
		dummyHash: dummy,
	}, nil
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput) (model.Identity, error) {
	email := normalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return model.Identity{}, err
	}
	if in.Password != in.ConfirmPassword {
		return model.Identity{}, ErrPasswordMismatch
	}
	if err := validatePassword(in.Password); err != nil {
		return model.Identity{}, err
	}

	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = defaultUsername(email)
	} else if err := validateUsername(username); err != nil {
		return model.Identity{}, err
	}

	gender := strings.ToLower(strings.TrimSpace(in.Gender))
	if gender != "" {
		if err := validateGender(gender); err != nil {
			return model.Identity{}, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	_, admin := s.admins[email]
	now := time.Now().UTC()
	identity := model.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		Gender:       gender,
		PasswordHash: string(hash),
		IsAdmin:      admin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, identity); err != nil {
		if errors.Is(err, model.ErrUserAlreadyExists) {
			s.metrics.AuthOutcome("signup", "conflict")
			return model.Identity{}, ErrConflict
		}
		return model.Identity{}, err
	}
	s.metrics.AuthOutcome("signup", "success")

	verify, err := s.codec.Issue(identity.ID, token.KindVerify, s.cfg.VerifyTTL)
	if err != nil {
		return model.Identity{}, err
	}
	if err := s.mailer.SendVerification(ctx, identity, buildLink(s.cfg.BaseURL, "verify-email", verify.Value)); err != nil {
		slog.ErrorContext(ctx, "failed to send verification email", "subject_id", identity.ID, "error", err)
	}

	return identity, nil
}

func (s *AuthService) Login(ctx context.Context, email string, password string) (Session, error) {
	identity, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, model.ErrUserNotFound) {
			return Session{}, err
		}
		// equalise timing with the known-account path
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.metrics.AuthOutcome("login", "invalid_credentials")
		return Session{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		s.metrics.AuthOutcome("login", "invalid_credentials")
		return Session{}, ErrInvalidCredentials
	}

	sess, err := s.issueSession(identity, "")
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RecordRotation(ctx, identity.ID, sess.Refresh.ID, s.cfg.RefreshTTL); err != nil {
		return Session{}, fmt.Errorf("record session: %w", err)
	}

	s.metrics.AuthOutcome("login", "success")
	s.publish(event.TypeSessionLogin, identity, "")
	return sess, nil
}

// Refresh rotates the subject's session. Exactly one of several concurrent
// calls presenting the same refresh token succeeds; the others see a replay.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		s.metrics.AuthOutcome("refresh", "invalid_token")
		return Session{}, err
	}
	subjectID := claims.SubjectID()

	identity, err := s.users.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			_ = s.sessions.Revoke(ctx, subjectID)
			s.metrics.AuthOutcome("refresh", "session_not_found")
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}

	next, err := s.issueSession(identity, token.NewID(token.KindRefresh))
	if err != nil {
		return Session{}, err
	}

	err = s.sessions.Rotate(ctx, subjectID, claims.TokenID(), next.Refresh.ID, s.cfg.RefreshTTL)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoSession):
		s.metrics.AuthOutcome("refresh", "session_not_found")
		return Session{}, ErrSessionNotFound
	case errors.Is(err, session.ErrRotationMismatch):
		if revokeErr := s.sessions.Revoke(ctx, subjectID); revokeErr != nil {
			return Session{}, fmt.Errorf("revoke after replay: %w", revokeErr)
		}
		slog.WarnContext(ctx, "refresh token replay detected, session revoked", "subject_id", subjectID)
		s.metrics.AuthOutcome("refresh", "replay")
		s.metrics.ReplayDetected()
		s.publish(event.TypeSessionRevoked, identity, "replay")
		return Session{}, ErrReplayDetected
	default:
		return Session{}, fmt.Errorf("rotate session: %w", err)
	}

	s.metrics.AuthOutcome("refresh", "success")
	return next, nil
}

// Logout ends the session named by the refresh token. It never fails: an
// unreadable or already revoked token leaves nothing to end.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	claims, err := s.codec.VerifyIgnoringExpiry(refreshToken, token.KindRefresh)
	if err != nil {
		slog.DebugContext(ctx, "logout without a readable refresh token", "error", err)
		s.metrics.AuthOutcome("logout", "anonymous")
		return
	}

	if err := s.sessions.Revoke(ctx, claims.SubjectID()); err != nil {
		slog.ErrorContext(ctx, "failed to revoke session on logout", "subject_id", claims.SubjectID(), "error", err)
	}

	s.metrics.AuthOutcome("logout", "success")
	s.publish(event.TypeSessionLogout, model.Identity{ID: claims.SubjectID(), IsAdmin: claims.Admin}, "")
}

// ForgotPassword behaves identically for known and unknown addresses. Work for
// a known address happens in the background and is drained by Close.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	identity, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			s.metrics.AuthOutcome("forgot_password", "accepted")
			return nil
		}
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliverReset(context.WithoutCancel(ctx), identity)
	}()

	s.metrics.AuthOutcome("forgot_password", "accepted")
	return nil
}

func (s *AuthService) deliverReset(ctx context.Context, identity model.Identity) {
	attempts, err := s.sessions.IncrResetAttempts(ctx, identity.ID, s.cfg.ResetAttemptWindow)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count reset attempts", "subject_id", identity.ID, "error", err)
	}
	s.metrics.ResetAttempts(attempts)
	if attempts > resetAttemptWarnThreshold {
		slog.WarnContext(ctx, "repeated password reset requests", "subject_id", identity.ID, "attempts", attempts)
	} else {
		slog.InfoContext(ctx, "password reset requested", "subject_id", identity.ID, "attempts", attempts)
	}

	reset, err := s.codec.Issue(identity.ID, token.KindReset, s.cfg.ResetTTL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to issue reset token", "subject_id", identity.ID, "error", err)
		return
	}
	if err := s.sessions.PutResetTicket(ctx, identity.ID, reset.ID, s.cfg.ResetTTL); err != nil {
		slog.ErrorContext(ctx, "failed to store reset ticket", "subject_id", identity.ID, "error", err)
		return
	}
	if err := s.mailer.SendPasswordReset(ctx, identity, buildLink(s.cfg.BaseURL, "reset-password", reset.Value)); err != nil {
		slog.ErrorContext(ctx, "failed to send password reset email", "subject_id", identity.ID, "error", err)
	}
}

// ResetPassword replaces the password named by a one-shot reset token and
// revokes any session the subject holds.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken string, newPassword string, confirmPassword string) error {
	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	claims, err := s.codec.Verify(resetToken, token.KindReset)
	if err != nil {
		s.metrics.AuthOutcome("reset_password", "invalid_token")
		return linkTokenError(err)
	}
	subjectID := claims.SubjectID()

	if err := s.sessions.ConsumeResetTicket(ctx, subjectID, claims.TokenID()); err != nil {
		if errors.Is(err, session.ErrTicketNotFound) {
			s.metrics.AuthOutcome("reset_password", "consumed")
			return ErrInvalidToken
		}
		return fmt.Errorf("consume reset ticket: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, subjectID, string(hash)); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if err := s.sessions.Revoke(ctx, subjectID); err != nil {
		return fmt.Errorf("revoke session after reset: %w", err)
	}

	s.metrics.AuthOutcome("reset_password", "success")
	s.publish(event.TypePasswordReset, model.Identity{ID: subjectID}, "")
	return nil
}

// VerifyEmail marks the identity verified and starts a session on the first
// presentation. Later presentations succeed without a session.
func (s *AuthService) VerifyEmail(ctx context.Context, verifyToken string) (model.Identity, *Session, error) {
	claims, err := s.codec.Verify(verifyToken, token.KindVerify)
	if err != nil {
		s.metrics.AuthOutcome("verify_email", "invalid_token")
		return model.Identity{}, nil, linkTokenError(err)
	}

	changed, err := s.users.MarkVerified(ctx, claims.SubjectID())
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.Identity{}, nil, ErrInvalidToken
		}
		return model.Identity{}, nil, err
	}

	identity, err := s.users.FindByID(ctx, claims.SubjectID())
	if err != nil {
		return model.Identity{}, nil, err
	}
	if !changed {
		s.metrics.AuthOutcome("verify_email", "already_verified")
		return identity, nil, nil
	}

	sess, err := s.issueSession(identity, "")
	if err != nil {
		return model.Identity{}, nil, err
	}
	if err := s.sessions.RecordRotation(ctx, identity.ID, sess.Refresh.ID, s.cfg.RefreshTTL); err != nil {
		return model.Identity{}, nil, fmt.Errorf("record session: %w", err)
	}

	s.metrics.AuthOutcome("verify_email", "success")
	s.publish(event.TypeEmailVerified, identity, "")
	s.publish(event.TypeSessionLogin, identity, "verify_email")
	return identity, &sess, nil
}

func (s *AuthService) Profile(ctx context.Context, subjectID string) (model.Identity, error) {
	identity, err := s.users.FindByID(ctx, subjectID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Identity{}, ErrNotFound
	}
	return identity, err
}

func (s *AuthService) UpdateProfile(ctx context.Context, subjectID string, update model.ProfileUpdate) (model.Identity, error) {
	if update.Username == nil && update.Gender == nil {
		return model.Identity{}, invalidInput("", "no profile fields to update")
	}
	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if err := validateUsername(username); err != nil {
			return model.Identity{}, err
		}
		update.Username = &username
	}
	if update.Gender != nil {
		gender := strings.ToLower(strings.TrimSpace(*update.Gender))
		if err := validateGender(gender); err != nil {
			return model.Identity{}, err
		}
		update.Gender = &gender
	}

	identity, err := s.users.UpdateProfile(ctx, subjectID, update)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Identity{}, ErrNotFound
	}
	return identity, err
}

// Authenticate validates an access token inline, without touching storage.
func (s *AuthService) Authenticate(accessToken string) (model.Principal, error) {
	claims, err := s.codec.Verify(accessToken, token.KindAccess)
	if err != nil {
		return model.Principal{}, err
	}
	return model.Principal{SubjectID: claims.SubjectID(), Admin: claims.Admin}, nil
}

// Close waits for background reset deliveries to finish.
func (s *AuthService) Close() {
	s.wg.Wait()
}

func (s *AuthService) issueSession(identity model.Identity, rotationID string) (Session, error) {
	access, err := s.codec.Issue(identity.ID, token.KindAccess, s.cfg.AccessTTL, token.WithAdmin(identity.IsAdmin))
	if err != nil {
		return Session{}, err
	}

	var opts []token.IssueOption
	if rotationID != "" {
		opts = append(opts, token.WithID(rotationID))
	}
	refresh, err := s.codec.Issue(identity.ID, token.KindRefresh, s.cfg.RefreshTTL, opts...)
	if err != nil {
		return Session{}, err
	}

	return Session{Identity: identity, Access: access, Refresh: refresh}, nil
}

func (s *AuthService) publish(t event.Type, identity model.Identity, reason string) {
	if s.bus == nil {
		return
	}
	e := event.New(t, identity.ID)
	e.Admin = identity.IsAdmin
	e.Reason = reason
	s.bus.Publish(e)
}

// linkTokenError folds codec failures on emailed tokens into expired or invalid.
func linkTokenError(err error) error {
	if errors.Is(err, token.ErrExpired) {
		return token.ErrExpired
	}
	return fmt.Errorf("%w: %w", ErrInvalidToken, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return invalidInput("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return invalidInput("email", "email is invalid")
	}
	return nil
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return invalidInput("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return invalidInput("password", fmt.Sprintf("password must be at most %d bytes", maxPasswordLength))
	}
	return nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return invalidInput("username", fmt.Sprintf("username must be %d-%d characters", minUsernameLength, maxUsernameLength))
	}
	return nil
}

func validateGender(gender string) error {
	if _, ok := validGenders[gender]; !ok {
		return invalidInput("gender", "gender must be one of male, female, other")
	}
	return nil
}

// defaultUsername derives a username from the email local part that passes
// validateUsername: short parts get a "user_" prefix, long ones are cut.
func defaultUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if utf8.RuneCountInString(local) < minUsernameLength {
		local = "user_" + local
	}
	if utf8.RuneCountInString(local) > maxUsernameLength {
		local = string([]rune(local)[:maxUsernameLength])
	}
	return local
}
