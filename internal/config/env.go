package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/livestate/internal/auth"
	"github.com/roach88/livestate/internal/docstore"
	"github.com/roach88/livestate/internal/docstore/memstore"
	"github.com/roach88/livestate/internal/docstore/sqlstore"
	"github.com/roach88/livestate/internal/ids"
	"github.com/roach88/livestate/internal/kvstore"
	"github.com/roach88/livestate/internal/kvstore/etcdkv"
	"github.com/roach88/livestate/internal/kvstore/memkv"
	"github.com/roach88/livestate/internal/reactive"
	"github.com/roach88/livestate/internal/schema"
)

// Env is an opened configuration: live backends, the session and the
// compiled resource schemas.
type Env struct {
	Config  *Config
	Docs    docstore.Store
	KV      kvstore.Store
	Session *auth.Session

	logger  *slog.Logger
	sched   reactive.Scheduler
	keys    ids.Generator
	schemas map[string]*schema.Schema
}

type openOptions struct {
	logger *slog.Logger
	docIDs ids.Generator
	keys   ids.Generator
	sched  reactive.Scheduler
}

// OpenOption customizes Open.
type OpenOption func(*openOptions)

// WithLogger sets the logger handed to stores and resources.
func WithLogger(l *slog.Logger) OpenOption {
	return func(o *openOptions) { o.logger = l }
}

// WithIDGenerator sets the document store's id generator.
func WithIDGenerator(g ids.Generator) OpenOption {
	return func(o *openOptions) { o.docIDs = g }
}

// WithKeyGenerator sets the child key generator of node lists.
func WithKeyGenerator(g ids.Generator) OpenOption {
	return func(o *openOptions) { o.keys = g }
}

// WithScheduler overrides the release scheduler derived from
// release_grace.
func WithScheduler(s reactive.Scheduler) OpenOption {
	return func(o *openOptions) { o.sched = s }
}

// Open connects the configured backends, signs the configured identity in
// and writes the seed data.
func Open(ctx context.Context, cfg *Config, opts ...OpenOption) (*Env, error) {
	o := openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sched == nil && cfg.ReleaseGrace > 0 {
		o.sched = reactive.Grace{Delay: cfg.ReleaseGrace}
	}

	schemas, err := cfg.CompileSchemas()
	if err != nil {
		return nil, err
	}
	env := &Env{
		Config:  cfg,
		logger:  o.logger,
		sched:   o.sched,
		keys:    o.keys,
		schemas: schemas,
	}

	docs, err := openDocs(cfg.Store, o)
	if err != nil {
		return nil, err
	}
	env.Docs = docs

	kv, err := openKV(cfg.KV, o)
	if err != nil {
		_ = docs.Close()
		return nil, err
	}
	env.KV = kv

	session, err := openSession(cfg.Identity, o.logger)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	env.Session = session

	if err := env.seed(ctx); err != nil {
		_ = env.Close()
		return nil, err
	}
	return env, nil
}

func openDocs(cfg StoreConfig, o openOptions) (docstore.Store, error) {
	switch cfg.Driver {
	case DriverSQLite:
		opts := []sqlstore.Option{sqlstore.WithLogger(o.logger)}
		if o.docIDs != nil {
			opts = append(opts, sqlstore.WithIDGenerator(o.docIDs))
		}
		s, err := sqlstore.Open(cfg.Path, opts...)
		if err != nil {
			return nil, fmt.Errorf("open document store: %w", err)
		}
		return s, nil
	default:
		opts := []memstore.Option{memstore.WithLogger(o.logger)}
		if o.docIDs != nil {
			opts = append(opts, memstore.WithIDGenerator(o.docIDs))
		}
		return memstore.New(opts...), nil
	}
}

func openKV(cfg KVConfig, o openOptions) (kvstore.Store, error) {
	switch cfg.Driver {
	case DriverEtcd:
		s, err := etcdkv.Dial(cfg.Endpoints, etcdkv.Options{
			Namespace:   cfg.Namespace,
			Logger:      o.logger,
			DialTimeout: cfg.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open kv store: %w", err)
		}
		return s, nil
	default:
		return memkv.New(o.logger), nil
	}
}

func openSession(cfg IdentityConfig, logger *slog.Logger) (*auth.Session, error) {
	s := auth.NewSession(auth.SessionOptions{
		Secret: cfg.SecretBytes(),
		Issuer: cfg.Issuer,
		Logger: logger,
	})
	switch {
	case cfg.Token != "":
		if _, err := s.SignInWithToken(cfg.Token); err != nil {
			return nil, fmt.Errorf("sign in with token: %w", err)
		}
	case cfg.UID != "":
		s.SignIn(&auth.User{UID: cfg.UID, Email: cfg.Email, DisplayName: cfg.DisplayName})
	}
	return s, nil
}

// CompileSchemas compiles every resource schema, reading schema files
// relative to Dir.
func (c *Config) CompileSchemas() (map[string]*schema.Schema, error) {
	schemas := make(map[string]*schema.Schema)
	for _, name := range c.ResourceNames() {
		rc := c.Resources[name]
		src, file := rc.Schema, name+".cue"
		if rc.SchemaFile != "" {
			file = rc.SchemaFile
			if !filepath.IsAbs(file) && c.Dir != "" {
				file = filepath.Join(c.Dir, file)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("resources.%s.schema_file: %w", name, err)
			}
			src = string(data)
		}
		if src == "" {
			continue
		}
		s, err := schema.Compile(file, src)
		if err != nil {
			return nil, fmt.Errorf("resources.%s.schema: %w", name, err)
		}
		schemas[name] = s
	}
	return schemas, nil
}

// seed writes the seed documents and keys in path order, so store versions
// are reproducible.
func (e *Env) seed(ctx context.Context) error {
	for _, path := range slices.Sorted(maps.Keys(e.Config.Seed.Documents)) {
		ref, err := docstore.Doc(path)
		if err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		if err := e.Docs.SetMerge(ctx, ref, docstore.Fields(e.Config.Seed.Documents[path])); err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
	}
	for _, key := range slices.Sorted(maps.Keys(e.Config.Seed.Keys)) {
		if err := e.KV.Put(ctx, key, e.Config.Seed.Keys[key]); err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	if n := len(e.Config.Seed.Documents) + len(e.Config.Seed.Keys); n > 0 {
		e.logger.Debug("seed data written", "entries", n)
	}
	return nil
}

// Schema returns the compiled schema of a resource, or nil.
func (e *Env) Schema(name string) *schema.Schema {
	return e.schemas[name]
}

// Close closes both stores.
func (e *Env) Close() error {
	var errs []error
	if e.Docs != nil {
		errs = append(errs, e.Docs.Close())
	}
	if e.KV != nil {
		errs = append(errs, e.KV.Close())
	}
	return errors.Join(errs...)
}
