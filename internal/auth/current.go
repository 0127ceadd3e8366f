package auth

import (
	"github.com/roach88/livestate/internal/reactive"
)

// CurrentUser is a reactive container tracking the provider's user. It
// subscribes to the provider while observed.
type CurrentUser struct {
	*reactive.Writable[*User]
}

// NewCurrentUser creates a container over p.
func NewCurrentUser(p Provider, opts ...reactive.Option) *CurrentUser {
	w := reactive.NewWritable[*User](func(set func(*User)) func() {
		return p.OnChange(set)
	}, opts...)
	return &CurrentUser{Writable: w}
}

// Loading reports whether the provider has not reported a user yet.
func (c *CurrentUser) Loading() bool {
	_, loaded := c.Value()
	return !loaded
}

// UID returns the current user's id, or "" when signed out or loading.
func (c *CurrentUser) UID() string {
	u, _ := c.Value()
	return UIDOf(u)
}
