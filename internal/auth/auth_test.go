package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livestate/internal/reactive"
)

var ada = &User{UID: "u1", Email: "ada@example.com", DisplayName: "Ada"}

func TestOnce_ResolvesWithFirstUserAndDetaches(t *testing.T) {
	s := NewSession(SessionOptions{})
	s.SignIn(ada)

	f := Once(s)
	u, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ada, u)

	s.SignOut()
	u, ok := f.User()
	assert.True(t, ok)
	assert.Equal(t, ada, u, "the promise never changes")

	s.mu.Lock()
	assert.Empty(t, s.listeners, "listener detached after first notification")
	s.mu.Unlock()
}

// asyncProvider reports asynchronously, after OnChange returns.
type asyncProvider struct {
	ch       chan *User
	detached chan struct{}
}

func (p *asyncProvider) OnChange(fn func(*User)) Unsubscribe {
	go func() {
		for u := range p.ch {
			fn(u)
		}
	}()
	return func() { close(p.detached) }
}

func TestOnce_AsyncProvider(t *testing.T) {
	p := &asyncProvider{ch: make(chan *User), detached: make(chan struct{})}
	f := Once(p)

	_, ok := f.User()
	assert.False(t, ok)

	p.ch <- nil
	u, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u, "signed out resolves to nil")

	select {
	case <-p.detached:
	case <-time.After(time.Second):
		t.Fatal("listener not detached")
	}
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	p := &asyncProvider{ch: make(chan *User), detached: make(chan struct{})}
	f := Once(p)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatic_ReportsFixedUser(t *testing.T) {
	u, err := Once(Static{User: ada}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", u.UID)

	u, err = Once(Anonymous).Wait(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestSession_NotifiesInOrder(t *testing.T) {
	s := NewSession(SessionOptions{})
	var seen []string
	unsub := s.OnChange(func(u *User) { seen = append(seen, UIDOf(u)) })

	s.SignIn(ada)
	s.SignOut()
	unsub()
	s.SignIn(&User{UID: "u2"})

	assert.Equal(t, []string{"", "u1", ""}, seen)
}

func TestSession_TokenRoundTrip(t *testing.T) {
	s := NewSession(SessionOptions{Secret: []byte("secret"), Issuer: "livestate"})

	token, err := s.IssueToken(ada, time.Hour)
	require.NoError(t, err)

	u, err := s.SignInWithToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.UID)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, "Ada", u.DisplayName)
	assert.Equal(t, "u1", UIDOf(s.Current()))
}

func TestSession_RejectsBadTokens(t *testing.T) {
	s := NewSession(SessionOptions{Secret: []byte("secret"), Issuer: "livestate"})

	other := NewSession(SessionOptions{Secret: []byte("other"), Issuer: "livestate"})
	forged, err := other.IssueToken(ada, time.Hour)
	require.NoError(t, err)
	_, err = s.SignInWithToken(forged)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "livestate",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.SignInWithToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	wrongIssuer := NewSession(SessionOptions{Secret: []byte("secret"), Issuer: "elsewhere"})
	tok, err := wrongIssuer.IssueToken(ada, 0)
	require.NoError(t, err)
	_, err = s.SignInWithToken(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	assert.Nil(t, s.Current(), "failed sign-ins leave the session signed out")

	_, err = NewSession(SessionOptions{}).SignInWithToken(tok)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestCurrentUser_TracksProviderWhileObserved(t *testing.T) {
	s := NewSession(SessionOptions{})
	loop := reactive.NewLoop()
	cu := NewCurrentUser(s, reactive.WithScheduler(loop))

	assert.True(t, cu.Loading())

	var seen []string
	release := cu.Observe(func(u *User) { seen = append(seen, UIDOf(u)) })
	assert.False(t, cu.Loading())

	s.SignIn(ada)
	assert.Equal(t, "u1", cu.UID())

	release()
	loop.Drain()
	s.SignOut()

	assert.Equal(t, []string{"", "u1"}, seen)
	assert.Equal(t, "u1", cu.UID(), "not updated once unobserved")
}
