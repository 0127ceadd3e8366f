package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSecret is returned by token operations on a session without a
// signing secret.
var ErrNoSecret = errors.New("session has no token secret")

// Claims are the JWT claims a session token carries. The subject is the
// user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// Secret verifies and signs HS256 session tokens.
	Secret []byte
	// Issuer, when set, is required on verified tokens and stamped on
	// issued ones.
	Issuer string
	Logger *slog.Logger
}

// Session is a mutable Provider: the signed-in user changes through SignIn,
// SignInWithToken and SignOut.
//
// Thread-safety: all methods are safe for concurrent use. Listeners are
// notified in order, one change at a time; a listener must not sign in or
// out synchronously.
type Session struct {
	opts   SessionOptions
	logger *slog.Logger

	notifyMu sync.Mutex // serializes changes with their notifications

	mu        sync.Mutex
	user      *User
	listeners map[uint64]func(*User)
	nextID    uint64
}

var _ Provider = (*Session)(nil)

// NewSession creates a signed-out session.
func NewSession(opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:      opts,
		logger:    logger,
		listeners: make(map[uint64]func(*User)),
	}
}

// OnChange registers fn and reports the current user synchronously.
func (s *Session) OnChange(fn func(*User)) Unsubscribe {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	cur := s.user
	s.mu.Unlock()

	fn(cur)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Current returns the signed-in user or nil.
func (s *Session) Current() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// SignIn replaces the current user and notifies listeners.
func (s *Session) SignIn(u *User) {
	s.set(u)
	s.logger.Info("signed in", "uid", UIDOf(u))
}

// SignOut clears the current user and notifies listeners.
func (s *Session) SignOut() {
	s.set(nil)
	s.logger.Info("signed out")
}

func (s *Session) set(u *User) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.user = u
	fns := make([]func(*User), 0, len(s.listeners))
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

// SignInWithToken verifies an HS256 token and signs its subject in.
func (s *Session) SignInWithToken(token string) (*User, error) {
	u, err := s.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	s.SignIn(u)
	return u, nil
}

// VerifyToken parses and verifies token without changing the session.
func (s *Session) VerifyToken(token string) (*User, error) {
	if len(s.opts.Secret) == 0 {
		return nil, ErrNoSecret
	}
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.opts.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.opts.Secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("verify token: %w", jwt.ErrTokenInvalidSubject)
	}
	return &User{UID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}, nil
}

// IssueToken signs a token for u valid for ttl. A zero ttl issues a token
// without expiry.
func (s *Session) IssueToken(u *User, ttl time.Duration) (string, error) {
	if len(s.opts.Secret) == 0 {
		return "", ErrNoSecret
	}
	if u == nil || u.UID == "" {
		return "", errors.New("issue token: user id required")
	}
	now := time.Now()
	claims := Claims{
		Email: u.Email,
		Name:  u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  u.UID,
			Issuer:   s.opts.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.Secret)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return signed, nil
}
