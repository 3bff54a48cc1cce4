package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"storefront-auth/internal/event"
	"storefront-auth/internal/metrics"
	"storefront-auth/internal/model"
	"storefront-auth/internal/repository"
	"storefront-auth/internal/session"
	"storefront-auth/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendVerification(ctx context.Context, to model.Identity, link string) error {
	args := m.Called(ctx, to, link)
	return args.Error(0)
}

func (m *mockMailer) SendPasswordReset(ctx context.Context, to model.Identity, link string) error {
	args := m.Called(ctx, to, link)
	return args.Error(0)
}

// lastToken returns the token at the end of the most recent link sent by method.
func (m *mockMailer) lastToken(t *testing.T, method string) string {
	t.Helper()
	var link string
	for _, call := range m.Calls {
		if call.Method == method {
			link = call.Arguments.String(2)
		}
	}
	require.NotEmpty(t, link, "no %s call recorded", method)
	return link[strings.LastIndex(link, "/")+1:]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *AuthService
	users    *repository.MemoryUserRepository
	sessions *session.MemoryStore
	mailer   *mockMailer
	bus      *event.InMemoryBus
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{now: time.Now().UTC()}
	codec, err := token.NewCodec(testSecret, token.WithIssuer("storefront-auth"), token.WithClock(clock.Now))
	require.NoError(t, err)

	mailer := &mockMailer{}
	mailer.On("SendVerification", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mailer.On("SendPasswordReset", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f := &fixture{
		users:    repository.NewMemoryUserRepository(),
		sessions: session.NewMemoryStore(),
		mailer:   mailer,
		bus:      event.NewBus(),
		clock:    clock,
	}
	f.sessions.SetClock(clock.Now)

	f.svc, err = NewAuthService(f.users, f.sessions, codec, mailer, f.bus, metrics.New(), AuthConfig{
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  7 * 24 * time.Hour,
		ResetTTL:    time.Hour,
		VerifyTTL:   24 * time.Hour,
		BcryptCost:  bcrypt.MinCost,
		BaseURL:     "https://shop.example",
		AdminEmails: []string{"Boss@Shop.example"},
	})
	require.NoError(t, err)
	t.Cleanup(f.svc.Close)

	return f
}

func (f *fixture) signupAndLogin(t *testing.T, email string) Session {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Signup(ctx, SignupInput{Email: email, Password: "P@ss1", ConfirmPassword: "P@ss1"})
	require.NoError(t, err)
	sess, err := f.svc.Login(ctx, email, "P@ss1")
	require.NoError(t, err)
	return sess
}

func nextEvent(t *testing.T, ch <-chan event.Event, want event.Type) event.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event received", want)
			return event.Event{}
		}
	}
}

func TestAuthService_Signup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates unverified identity and mails a verify link", func(t *testing.T) {
		f := newFixture(t)

		identity, err := f.svc.Signup(ctx, SignupInput{
			Username:        "alice",
			Email:           " Alice@Example.com ",
			Password:        "P@ss1",
			ConfirmPassword: "P@ss1",
			Gender:          "Female",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", identity.Email)
		assert.Equal(t, "female", identity.Gender)
		assert.False(t, identity.Verified)
		assert.False(t, identity.IsAdmin)
		assert.NotEqual(t, "P@ss1", identity.PasswordHash)

		f.mailer.AssertNumberOfCalls(t, "SendVerification", 1)
		_, err = f.sessions.CurrentRotation(ctx, identity.ID)
		assert.ErrorIs(t, err, session.ErrNoSession, "signup must not authenticate")
	})

	t.Run("derives username and admin flag", func(t *testing.T) {
		f := newFixture(t)

		identity, err := f.svc.Signup(ctx, SignupInput{Email: "boss@shop.example", Password: "secret", ConfirmPassword: "secret"})
		require.NoError(t, err)
		assert.Equal(t, "boss", identity.Username)
		assert.True(t, identity.IsAdmin)
	})

	t.Run("derived username is always valid", func(t *testing.T) {
		f := newFixture(t)

		short, err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "P@ss1", ConfirmPassword: "P@ss1"})
		require.NoError(t, err)
		assert.Equal(t, "user_a", short.Username)
		assert.NoError(t, validateUsername(short.Username))

		same := short.Username
		_, err = f.svc.UpdateProfile(ctx, short.ID, model.ProfileUpdate{Username: &same})
		assert.NoError(t, err, "resubmitting the derived username is accepted")

		long, err := f.svc.Signup(ctx, SignupInput{Email: strings.Repeat("l", 40) + "@x.com", Password: "P@ss1", ConfirmPassword: "P@ss1"})
		require.NoError(t, err)
		assert.NoError(t, validateUsername(long.Username))
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		f := newFixture(t)
		in := SignupInput{Email: "a@x.com", Password: "P@ss1", ConfirmPassword: "P@ss1"}

		_, err := f.svc.Signup(ctx, in)
		require.NoError(t, err)

		in.Email = "A@X.COM"
		_, err = f.svc.Signup(ctx, in)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		f := newFixture(t)
		cases := map[string]SignupInput{
			"bad email":      {Email: "not-an-email", Password: "P@ss1", ConfirmPassword: "P@ss1"},
			"short password": {Email: "a@x.com", Password: "abc", ConfirmPassword: "abc"},
			"short username": {Email: "a@x.com", Username: "ab", Password: "P@ss1", ConfirmPassword: "P@ss1"},
			"unknown gender": {Email: "a@x.com", Gender: "robot", Password: "P@ss1", ConfirmPassword: "P@ss1"},
		}
		for name, in := range cases {
			_, err := f.svc.Signup(ctx, in)
			assert.ErrorIs(t, err, model.ErrInvalidInput, name)
		}

		_, err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "P@ss1", ConfirmPassword: "P@ss2"})
		assert.ErrorIs(t, err, ErrPasswordMismatch)
	})
}

func TestAuthService_Login(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	sess := f.signupAndLogin(t, "a@x.com")
	assert.Equal(t, token.KindAccess, sess.Access.Kind)
	assert.Equal(t, token.KindRefresh, sess.Refresh.Kind)

	current, err := f.sessions.CurrentRotation(ctx, sess.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Refresh.ID, current)

	_, err = f.svc.Login(ctx, "a@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "nobody@x.com", "P@ss1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_RefreshRotatesAndDetectsReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	first := f.signupAndLogin(t, "a@x.com")

	second, err := f.svc.Refresh(ctx, first.Refresh.Value)
	require.NoError(t, err)
	assert.NotEqual(t, first.Refresh.ID, second.Refresh.ID)

	_, err = f.svc.Refresh(ctx, first.Refresh.Value)
	assert.ErrorIs(t, err, ErrReplayDetected)

	revoked := nextEvent(t, events, event.TypeSessionRevoked)
	assert.Equal(t, first.Identity.ID, revoked.SubjectID)
	assert.Equal(t, "replay", revoked.Reason)

	// the legitimate holder is logged out as well
	_, err = f.svc.Refresh(ctx, second.Refresh.Value)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAuthService_ConcurrentRefreshHasOneWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sess := f.signupAndLogin(t, "a@x.com")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Refresh(ctx, sess.Refresh.Value)
		}(i)
	}
	wg.Wait()

	var ok, replay int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrReplayDetected):
			replay++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, replay)
}

func TestAuthService_RefreshRejectsWrongKindAndExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sess := f.signupAndLogin(t, "a@x.com")

	_, err := f.svc.Refresh(ctx, sess.Access.Value)
	assert.ErrorIs(t, err, token.ErrKindMismatch)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.svc.Refresh(ctx, sess.Refresh.Value)
	assert.ErrorIs(t, err, token.ErrExpired)
}

func TestAuthService_LogoutIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sess := f.signupAndLogin(t, "a@x.com")

	f.svc.Logout(ctx, sess.Refresh.Value)
	f.svc.Logout(ctx, sess.Refresh.Value)
	f.svc.Logout(ctx, "")
	f.svc.Logout(ctx, "garbage")

	_, err := f.sessions.CurrentRotation(ctx, sess.Identity.ID)
	assert.ErrorIs(t, err, session.ErrNoSession)

	_, err = f.svc.Refresh(ctx, sess.Refresh.Value)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAuthService_LogoutAcceptsExpiredRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sess := f.signupAndLogin(t, "a@x.com")

	f.clock.Advance(6 * 24 * time.Hour)
	other, err := f.svc.Login(ctx, "a@x.com", "P@ss1")
	require.NoError(t, err)

	f.clock.Advance(2 * 24 * time.Hour)
	f.svc.Logout(ctx, sess.Refresh.Value)

	_, err = f.sessions.CurrentRotation(ctx, other.Identity.ID)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestAuthService_ForgotPasswordIsIndistinguishable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.signupAndLogin(t, "a@x.com")

	errKnown := f.svc.ForgotPassword(ctx, "a@x.com")
	errUnknown := f.svc.ForgotPassword(ctx, "ghost@x.com")
	assert.NoError(t, errKnown)
	assert.NoError(t, errUnknown)

	f.svc.Close()
	f.mailer.AssertNumberOfCalls(t, "SendPasswordReset", 1)
}

func TestAuthService_ResetPassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	requestReset := func(t *testing.T, f *fixture, email string) string {
		t.Helper()
		require.NoError(t, f.svc.ForgotPassword(ctx, email))
		f.svc.Close()
		return f.mailer.lastToken(t, "SendPasswordReset")
	}

	t.Run("success replaces password and revokes session", func(t *testing.T) {
		f := newFixture(t)
		sess := f.signupAndLogin(t, "a@x.com")
		reset := requestReset(t, f, "a@x.com")

		require.NoError(t, f.svc.ResetPassword(ctx, reset, "N3wpass", "N3wpass"))

		_, err := f.svc.Refresh(ctx, sess.Refresh.Value)
		assert.ErrorIs(t, err, ErrSessionNotFound)

		_, err = f.svc.Login(ctx, "a@x.com", "P@ss1")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = f.svc.Login(ctx, "a@x.com", "N3wpass")
		assert.NoError(t, err)
	})

	t.Run("token is one-shot", func(t *testing.T) {
		f := newFixture(t)
		f.signupAndLogin(t, "a@x.com")
		reset := requestReset(t, f, "a@x.com")

		require.NoError(t, f.svc.ResetPassword(ctx, reset, "N3wpass", "N3wpass"))
		err := f.svc.ResetPassword(ctx, reset, "Other1", "Other1")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("newer request supersedes older token", func(t *testing.T) {
		f := newFixture(t)
		f.signupAndLogin(t, "a@x.com")
		older := requestReset(t, f, "a@x.com")
		newer := requestReset(t, f, "a@x.com")

		assert.ErrorIs(t, f.svc.ResetPassword(ctx, older, "N3wpass", "N3wpass"), ErrInvalidToken)
		assert.NoError(t, f.svc.ResetPassword(ctx, newer, "N3wpass", "N3wpass"))
	})

	t.Run("failures are distinct", func(t *testing.T) {
		f := newFixture(t)
		f.signupAndLogin(t, "a@x.com")
		reset := requestReset(t, f, "a@x.com")

		assert.ErrorIs(t, f.svc.ResetPassword(ctx, reset, "N3wpass", "Different"), ErrPasswordMismatch)
		assert.ErrorIs(t, f.svc.ResetPassword(ctx, reset, "abc", "abc"), model.ErrInvalidInput)
		assert.ErrorIs(t, f.svc.ResetPassword(ctx, "garbage", "N3wpass", "N3wpass"), ErrInvalidToken)

		f.clock.Advance(2 * time.Hour)
		assert.ErrorIs(t, f.svc.ResetPassword(ctx, reset, "N3wpass", "N3wpass"), token.ErrExpired)
	})
}

func TestAuthService_VerifyEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	_, err := f.svc.Signup(ctx, SignupInput{Email: "a@x.com", Password: "P@ss1", ConfirmPassword: "P@ss1"})
	require.NoError(t, err)
	verify := f.mailer.lastToken(t, "SendVerification")

	identity, sess, err := f.svc.VerifyEmail(ctx, verify)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, identity.Verified)
	nextEvent(t, events, event.TypeEmailVerified)

	current, err := f.sessions.CurrentRotation(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Refresh.ID, current)

	again, sess, err := f.svc.VerifyEmail(ctx, verify)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.True(t, again.Verified)

	login, err := f.svc.Login(ctx, "a@x.com", "P@ss1")
	require.NoError(t, err)
	_, _, err = f.svc.VerifyEmail(ctx, login.Access.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)

	f.clock.Advance(25 * time.Hour)
	_, _, err = f.svc.VerifyEmail(ctx, verify)
	assert.ErrorIs(t, err, token.ErrExpired)
}

func TestAuthService_Authenticate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Signup(ctx, SignupInput{Email: "boss@shop.example", Password: "P@ss1", ConfirmPassword: "P@ss1"})
	require.NoError(t, err)
	sess, err := f.svc.Login(ctx, "boss@shop.example", "P@ss1")
	require.NoError(t, err)

	principal, err := f.svc.Authenticate(sess.Access.Value)
	require.NoError(t, err)
	assert.Equal(t, sess.Identity.ID, principal.SubjectID)
	assert.True(t, principal.Admin)

	_, err = f.svc.Authenticate(sess.Refresh.Value)
	assert.ErrorIs(t, err, token.ErrKindMismatch)
}

func TestAuthService_UpdateProfile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	sess := f.signupAndLogin(t, "a@x.com")

	name := "  shopper "
	updated, err := f.svc.UpdateProfile(ctx, sess.Identity.ID, model.ProfileUpdate{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "shopper", updated.Username)

	_, err = f.svc.UpdateProfile(ctx, sess.Identity.ID, model.ProfileUpdate{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	gender := "robot"
	_, err = f.svc.UpdateProfile(ctx, sess.Identity.ID, model.ProfileUpdate{Gender: &gender})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.UpdateProfile(ctx, "missing", model.ProfileUpdate{Username: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Profile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
