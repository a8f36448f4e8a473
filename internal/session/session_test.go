package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/commerce"
	"storefront/internal/store/file"
	"storefront/internal/store/memory"
)

type fakeAuth struct {
	token  string
	err    error
	signup commerce.SignupRequest
	// block makes Login wait for the caller's context.
	block bool
}

func (f *fakeAuth) Login(ctx context.Context, _, _ string) (commerce.AuthResponse, error) {
	if f.block {
		<-ctx.Done()
		return commerce.AuthResponse{}, &commerce.TransportError{Method: "POST", Route: "/auth/login", Err: ctx.Err()}
	}
	if f.err != nil {
		return commerce.AuthResponse{}, f.err
	}
	return commerce.AuthResponse{Token: f.token}, nil
}

func (f *fakeAuth) Signup(_ context.Context, req commerce.SignupRequest) (commerce.AuthResponse, error) {
	f.signup = req
	if f.err != nil {
		return commerce.AuthResponse{}, f.err
	}
	return commerce.AuthResponse{Token: f.token}, nil
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "visitor@example.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	raw, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestLoginPersistsCredential(t *testing.T) {
	ctx := context.Background()
	tokens := memory.NewStore()
	s := New(ctx, &fakeAuth{token: "opaque-token"}, tokens, zerolog.Nop())

	_, ok := s.Current()
	assert.False(t, ok)

	cred, err := s.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", cred.Token)
	assert.True(t, cred.ExpiresAt.IsZero())

	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, cred, current)

	persisted, err := tokens.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", persisted)

	restarted := New(ctx, &fakeAuth{}, tokens, zerolog.Nop())
	again, ok := restarted.Current()
	require.True(t, ok)
	assert.Equal(t, "opaque-token", again.Token)
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()

	rejected := New(ctx, &fakeAuth{err: &commerce.StatusError{Method: "POST", Route: "/auth/login", StatusCode: 401}}, memory.NewStore(), zerolog.Nop())
	_, err := rejected.Login(ctx, "a@b.c", "wrong")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, InvalidCredentials, authErr.Reason)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, ok := rejected.Current()
	assert.False(t, ok)

	down := New(ctx, &fakeAuth{err: &commerce.TransportError{Method: "POST", Route: "/auth/login", Err: errors.New("connection refused")}}, memory.NewStore(), zerolog.Nop())
	_, err = down.Login(ctx, "a@b.c", "pw")
	assert.ErrorIs(t, err, ErrUnavailable)

	empty := New(ctx, &fakeAuth{}, memory.NewStore(), zerolog.Nop())
	_, err = empty.Login(ctx, "a@b.c", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignup(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuth{token: "fresh"}
	s := New(ctx, auth, memory.NewStore(), zerolog.Nop())

	cred, err := s.Signup(ctx, "new@b.c", "pw", "Ada", "Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.Token)
	assert.Equal(t, "Ada", auth.signup.FirstName)
	assert.Equal(t, "Lovelace", auth.signup.LastName)

	pending := New(ctx, &fakeAuth{}, memory.NewStore(), zerolog.Nop())
	cred, err = pending.Signup(ctx, "new@b.c", "pw", "Ada", "Lovelace")
	require.NoError(t, err)
	assert.Empty(t, cred.Token)
	_, ok := pending.Current()
	assert.False(t, ok)
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tokens := memory.NewStore()
	s := New(ctx, &fakeAuth{token: "tok"}, tokens, zerolog.Nop())

	require.NoError(t, s.Logout(ctx))
	_, err := s.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))
	require.NoError(t, s.Logout(ctx))

	_, ok := s.Current()
	assert.False(t, ok)
	_, err = tokens.Load(ctx)
	assert.Error(t, err)
}

func TestExpiredCredentialDiscardedAtStartup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := memory.NewStore()
	require.NoError(t, tokens.Save(ctx, signedToken(t, now.Add(-time.Minute))))

	s := New(ctx, &fakeAuth{}, tokens, zerolog.Nop(), WithClock(func() time.Time { return now }))
	_, ok := s.Current()
	assert.False(t, ok)
	_, err := tokens.Load(ctx)
	assert.Error(t, err)

	valid := signedToken(t, now.Add(time.Hour))
	require.NoError(t, tokens.Save(ctx, valid))
	s = New(ctx, &fakeAuth{}, tokens, zerolog.Nop(), WithClock(func() time.Time { return now }))
	cred, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour).Unix(), cred.ExpiresAt.Unix())
}

func TestInvalidateOnlyDropsMatchingToken(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuth{token: "first"}
	tokens := memory.NewStore()
	s := New(ctx, auth, tokens, zerolog.Nop())
	_, err := s.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)

	auth.token = "second"
	_, err = s.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)

	assert.False(t, s.Invalidate(ctx, "first", commerce.ErrUnauthorized))
	cred, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "second", cred.Token)

	assert.True(t, s.Invalidate(ctx, "second", commerce.ErrUnauthorized))
	_, ok = s.Current()
	assert.False(t, ok)
	_, err = tokens.Load(ctx)
	assert.Error(t, err)
}

func TestLoginReplacesCorruptCredentialFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credential.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	tokens := file.NewStore(path, nil)

	s := New(ctx, &fakeAuth{token: "fresh"}, tokens, zerolog.Nop())
	_, ok := s.Current()
	require.False(t, ok)

	_, err := s.Login(ctx, "a@b.c", "pw")
	require.NoError(t, err)
	persisted, err := tokens.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", persisted)
}

func TestLoginIsBoundedByTimeout(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, &fakeAuth{block: true}, memory.NewStore(), zerolog.Nop(), WithTimeout(20*time.Millisecond))

	_, err := s.Login(ctx, "a@b.c", "pw")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
