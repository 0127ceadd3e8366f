package auth

import (
	"context"
	"sync"
)

// Future is the one-shot identity promise: it resolves with the first user
// a provider reports and never changes afterwards.
type Future struct {
	done chan struct{}
	user *User
}

// Once subscribes to p, resolves the returned Future on the first
// notification and detaches the listener.
func Once(p Provider) *Future {
	f := &Future{done: make(chan struct{})}

	var (
		mu       sync.Mutex
		resolved bool
		unsub    Unsubscribe
	)
	u := p.OnChange(func(user *User) {
		mu.Lock()
		if resolved {
			mu.Unlock()
			return
		}
		resolved = true
		f.user = user
		close(f.done)
		detach := unsub
		mu.Unlock()

		if detach != nil {
			detach()
		}
	})

	mu.Lock()
	if resolved {
		mu.Unlock()
		// Notified before OnChange returned.
		u()
		return f
	}
	unsub = u
	mu.Unlock()
	return f
}

// Resolved returns a Future that is already resolved with u.
func Resolved(u *User) *Future {
	f := &Future{done: make(chan struct{}), user: u}
	close(f.done)
	return f
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (*User, error) {
	select {
	case <-f.done:
		return f.user, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// User returns the resolved user and whether the future has resolved.
func (f *Future) User() (*User, bool) {
	select {
	case <-f.done:
		return f.user, true
	default:
		return nil, false
	}
}
