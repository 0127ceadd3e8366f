package state

import (
	"log/slog"
	"strings"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/reactive"
)

// Options are shared by every resource kind.
type Options struct {
	// Name identifies the resource in logs.
	Name string
	// Auth supplies the identity paths are computed from. Defaults to
	// auth.Anonymous.
	Auth auth.Provider
	// Listen keeps a live subscription open while observed instead of
	// fetching once.
	Listen bool
	// Scheduler defers observer releases. Defaults to
	// reactive.Grace{reactive.DefaultGrace}.
	Scheduler reactive.Scheduler
	Logger    *slog.Logger
	// OnError receives failures of the background fetch/listen path.
	OnError func(error)
}

func (o Options) withDefaults(kind string) Options {
	if o.Auth == nil {
		o.Auth = auth.Anonymous
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Name == "" {
		o.Name = kind
	}
	o.Logger = o.Logger.With("resource", o.Name)
	return o
}

func (o Options) reactiveOptions() []reactive.Option {
	opts := []reactive.Option{reactive.WithLogger(o.Logger)}
	if o.Scheduler != nil {
		opts = append(opts, reactive.WithScheduler(o.Scheduler))
	}
	return opts
}

// PathSpec is a backend path, either literal or computed from the user. An
// empty result means "no reference".
type PathSpec struct {
	literal string
	fn      func(*auth.User) string
}

// Path is a literal path.
func Path(p string) PathSpec {
	return PathSpec{literal: p}
}

// PathFunc computes the path from the user (nil when signed out).
func PathFunc(fn func(*auth.User) string) PathSpec {
	return PathSpec{fn: fn}
}

// Template substitutes {uid}, {email} and {name} from the user. If the
// template references a field the user does not have (or there is no user)
// the path is empty.
func Template(tmpl string) PathSpec {
	if !strings.Contains(tmpl, "{") {
		return Path(tmpl)
	}
	return PathFunc(func(u *auth.User) string {
		out := tmpl
		for _, p := range []struct{ key, val string }{
			{"{uid}", auth.UIDOf(u)},
			{"{email}", emailOf(u)},
			{"{name}", nameOf(u)},
		} {
			if !strings.Contains(out, p.key) {
				continue
			}
			if p.val == "" {
				return ""
			}
			out = strings.ReplaceAll(out, p.key, p.val)
		}
		return out
	})
}

func emailOf(u *auth.User) string {
	if u == nil {
		return ""
	}
	return u.Email
}

func nameOf(u *auth.User) string {
	if u == nil {
		return ""
	}
	return u.DisplayName
}

// IsZero reports whether no path was configured.
func (p PathSpec) IsZero() bool {
	return p.literal == "" && p.fn == nil
}

// Resolve computes the path for u.
func (p PathSpec) Resolve(u *auth.User) string {
	if p.fn != nil {
		return p.fn(u)
	}
	return p.literal
}

// QueryFunc computes query constraints from the user.
type QueryFunc func(*auth.User) []docstore.Constraint

// Constraints is a QueryFunc returning fixed constraints.
func Constraints(cs ...docstore.Constraint) QueryFunc {
	return func(*auth.User) []docstore.Constraint { return cs }
}
