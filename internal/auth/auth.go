// Package auth supplies the identity that resource paths and queries are
// computed from.
//
// A Provider reports the signed-in user (or nil) to change listeners: once
// with the current state and again on every sign-in or sign-out. Resources
// only need the first report, which Once turns into a one-shot Future.
package auth

// User is a signed-in identity.
type User struct {
	UID         string         `json:"uid" yaml:"uid"`
	Email       string         `json:"email,omitempty" yaml:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Claims      map[string]any `json:"claims,omitempty" yaml:"claims,omitempty"`
}

// UIDOf returns u.UID, or "" for a nil user.
func UIDOf(u *User) string {
	if u == nil {
		return ""
	}
	return u.UID
}

// Unsubscribe detaches a change listener. It is idempotent.
type Unsubscribe func()

// Provider reports identity changes.
//
// OnChange must invoke fn with the current user (nil when signed out) soon
// after registration, possibly before OnChange returns, and again after
// every change until the returned Unsubscribe is called.
type Provider interface {
	OnChange(fn func(*User)) Unsubscribe
}

// Static is a Provider whose user never changes.
type Static struct {
	User *User
}

// OnChange reports the fixed user once, synchronously.
func (s Static) OnChange(fn func(*User)) Unsubscribe {
	fn(s.User)
	return func() {}
}

// Anonymous is a Provider that always reports no user.
var Anonymous Provider = Static{}
