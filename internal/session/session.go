// Package session owns the visitor's bearer credential: obtaining it from
// the backend, persisting it across restarts and dropping it on logout or
// when the backend stops accepting it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"storefront/internal/commerce"
	"storefront/internal/domain"
	storepkg "storefront/internal/store"
)

// Authenticator is the part of the backend the session talks to.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (commerce.AuthResponse, error)
	Signup(ctx context.Context, req commerce.SignupRequest) (commerce.AuthResponse, error)
}

type Store struct {
	auth    Authenticator
	tokens  storepkg.CredentialStore
	logger  zerolog.Logger
	now     func() time.Time
	timeout time.Duration

	mu      sync.RWMutex
	cred    domain.Credential
	present bool
}

const defaultTimeout = 15 * time.Second

type Option func(*Store)

// WithTimeout bounds each login or signup round-trip.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides time.Now, used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Store and loads any persisted credential. A credential that
// cannot be read or has already expired leaves the session anonymous.
func New(ctx context.Context, auth Authenticator, tokens storepkg.CredentialStore, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		auth:    auth,
		tokens:  tokens,
		logger:  logger.With().Str("component", "session").Logger(),
		now:     time.Now,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.restore(ctx)
	return s
}

func (s *Store) restore(ctx context.Context) {
	token, err := s.tokens.Load(ctx)
	if err != nil {
		if !errors.Is(err, storepkg.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("persisted credential unreadable, starting anonymous")
		}
		return
	}
	cred := newCredential(token)
	if cred.Expired(s.now()) {
		s.logger.Info().Time("expired_at", cred.ExpiresAt).Msg("persisted credential expired, discarding")
		if err := s.tokens.Delete(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to erase expired credential")
		}
		return
	}
	s.mu.Lock()
	s.cred = cred
	s.present = true
	s.mu.Unlock()
}

func (s *Store) Login(ctx context.Context, email, password string) (domain.Credential, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	resp, err := s.auth.Login(callCtx, email, password)
	cancel()
	if err != nil {
		return domain.Credential{}, classify(err)
	}
	if resp.Token == "" {
		return domain.Credential{}, &AuthError{Reason: InvalidCredentials, Err: errors.New("login response carried no token")}
	}
	cred := newCredential(resp.Token)
	if err := s.persist(ctx, cred); err != nil {
		return domain.Credential{}, err
	}
	s.logger.Info().Str("email", email).Msg("logged in")
	return cred, nil
}

// Signup registers a new account. The account may still need verification on
// the backend side; a response without a token leaves the session anonymous
// and returns a zero Credential.
func (s *Store) Signup(ctx context.Context, email, password, firstName, lastName string) (domain.Credential, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	resp, err := s.auth.Signup(callCtx, commerce.SignupRequest{
		Email:     email,
		Password:  password,
		FirstName: firstName,
		LastName:  lastName,
	})
	cancel()
	if err != nil {
		return domain.Credential{}, classify(err)
	}
	if resp.Token == "" {
		s.logger.Info().Str("email", email).Msg("signed up, no token issued")
		return domain.Credential{}, nil
	}
	cred := newCredential(resp.Token)
	if err := s.persist(ctx, cred); err != nil {
		return domain.Credential{}, err
	}
	s.logger.Info().Str("email", email).Msg("signed up")
	return cred, nil
}

// Logout erases the credential. Calling it while anonymous is a no-op.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.tokens.Delete(ctx); err != nil {
		return fmt.Errorf("erase credential: %w", err)
	}
	s.mu.Lock()
	s.cred = domain.Credential{}
	s.present = false
	s.mu.Unlock()
	return nil
}

func (s *Store) Current() (domain.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.present
}

// Invalidate drops the credential after the backend rejected token. It does
// nothing when the session has already moved on to a different token, and
// reports whether the credential was dropped.
func (s *Store) Invalidate(ctx context.Context, token string, cause error) bool {
	s.mu.Lock()
	if !s.present || s.cred.Token != token {
		s.mu.Unlock()
		return false
	}
	s.cred = domain.Credential{}
	s.present = false
	s.mu.Unlock()

	s.logger.Warn().Err(cause).Msg("backend rejected credential, session cleared")
	if err := s.tokens.Delete(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to erase rejected credential")
	}
	return true
}

func (s *Store) persist(ctx context.Context, cred domain.Credential) error {
	if err := s.tokens.Save(ctx, cred.Token); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	s.mu.Lock()
	s.cred = cred
	s.present = true
	s.mu.Unlock()
	return nil
}

// newCredential reads the exp claim when token is a JWT. The signature is not
// checked; only the backend can do that.
func newCredential(token string) domain.Credential {
	cred := domain.Credential{Token: token}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return cred
	}
	if claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return cred
}

func classify(err error) error {
	var se *commerce.StatusError
	if errors.As(err, &se) {
		return &AuthError{Reason: InvalidCredentials, Err: err}
	}
	return &AuthError{Reason: Unavailable, Err: err}
}
