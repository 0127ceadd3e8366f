// Package config loads livestate configuration files: which backends to
// open, who the current user is, the named resources to bind and the seed
// data to write before use.
//
// # File Format
//
//	store:
//	  driver: sqlite          # memory (default) | sqlite
//	  path: livestate.db
//	kv:
//	  driver: memory          # memory (default) | etcd
//	  endpoints: [localhost:2379]
//	  namespace: livestate/
//	identity:
//	  uid: u1                 # static sign-in, or
//	  token: ${TOKEN}         # HS256 session token verified with secret
//	  secret_env: LIVESTATE_SECRET
//	release_grace: 10ms
//	resources:
//	  todos:
//	    kind: collection
//	    path: users/{uid}/todos
//	    where: [{field: done, op: "==", value: false}]
//	    order_by: [{field: rank}]
//	    listen: true
//	    schema: |
//	      title: string & !=""
//	seed:
//	  documents:
//	    users/u1/todos/t1: {title: write docs, done: false, rank: 1}
//	  keys:
//	    presence/u1: {online: true}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/livestate/internal/docstore"
)

// Kind is a resource kind.
type Kind string

const (
	KindCollection Kind = "collection"
	KindDocument   Kind = "document"
	KindAggregate  Kind = "aggregate"
	KindNode       Kind = "node"
	KindNodeList   Kind = "nodelist"
)

// Kinds lists the supported resource kinds.
var Kinds = []Kind{KindCollection, KindDocument, KindAggregate, KindNode, KindNodeList}

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverEtcd   = "etcd"
)

// Config is a parsed configuration file.
type Config struct {
	Store        StoreConfig               `yaml:"store"`
	KV           KVConfig                  `yaml:"kv"`
	Identity     IdentityConfig            `yaml:"identity"`
	ReleaseGrace time.Duration             `yaml:"release_grace,omitempty"`
	Resources    map[string]ResourceConfig `yaml:"resources"`
	Seed         SeedConfig                `yaml:"seed,omitempty"`

	// Dir resolves relative schema files. Load sets it to the file's
	// directory.
	Dir string `yaml:"-"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Path is the SQLite database file. ":memory:" is allowed.
	Path string `yaml:"path,omitempty"`
}

// KVConfig selects the key-value store.
type KVConfig struct {
	Driver      string        `yaml:"driver"`
	Endpoints   []string      `yaml:"endpoints,omitempty"`
	Namespace   string        `yaml:"namespace,omitempty"`
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`
}

// IdentityConfig describes the signed-in user. Token takes precedence over
// UID; with neither the session starts signed out.
type IdentityConfig struct {
	UID         string `yaml:"uid,omitempty"`
	Email       string `yaml:"email,omitempty"`
	DisplayName string `yaml:"name,omitempty"`
	Token       string `yaml:"token,omitempty"`
	Secret      string `yaml:"secret,omitempty"`
	SecretEnv   string `yaml:"secret_env,omitempty"`
	Issuer      string `yaml:"issuer,omitempty"`
}

// SecretBytes returns the token secret, reading SecretEnv when Secret is
// empty.
func (c IdentityConfig) SecretBytes() []byte {
	if c.Secret != "" {
		return []byte(c.Secret)
	}
	if c.SecretEnv != "" {
		return []byte(os.Getenv(c.SecretEnv))
	}
	return nil
}

// ResourceConfig declares one named resource.
type ResourceConfig struct {
	Kind Kind `yaml:"kind"`
	// Path is the collection, document or key path. It may reference
	// {uid}, {email} and {name}.
	Path string `yaml:"path,omitempty"`
	// Collection selects query-first mode for documents.
	Collection string        `yaml:"collection,omitempty"`
	Where      []WhereConfig `yaml:"where,omitempty"`
	OrderBy    []OrderConfig `yaml:"order_by,omitempty"`
	Limit      int           `yaml:"limit,omitempty"`
	Listen     bool          `yaml:"listen,omitempty"`
	Schema     string        `yaml:"schema,omitempty"`
	SchemaFile string        `yaml:"schema_file,omitempty"`

	Aggregate map[string]AggregateConfig `yaml:"aggregate,omitempty"`
	Autosave  bool                       `yaml:"autosave,omitempty"`
	Last      bool                       `yaml:"last,omitempty"`
}

// WhereConfig is one filter.
type WhereConfig struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value"`
}

// OrderConfig is one sort key. Direction defaults to ascending.
type OrderConfig struct {
	Field     string `yaml:"field"`
	Direction string `yaml:"direction,omitempty"`
}

// AggregateConfig is one aggregation.
type AggregateConfig struct {
	Op    string `yaml:"op"`
	Field string `yaml:"field,omitempty"`
}

// SeedConfig is data written when the environment opens.
type SeedConfig struct {
	Documents map[string]map[string]any `yaml:"documents,omitempty"`
	Keys      map[string]any            `yaml:"keys,omitempty"`
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes YAML strictly (unknown fields are rejected), applies
// defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills in the default drivers. Parse calls it; callers
// decoding a Config themselves call it before Validate.
func (c *Config) ApplyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.KV.Driver == "" {
		c.KV.Driver = DriverMemory
	}
}

// ValidationError reports one invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, invalid("store.path", "required for the sqlite driver"))
		}
	default:
		errs = append(errs, invalid("store.driver", "unknown driver %q", c.Store.Driver))
	}

	switch c.KV.Driver {
	case DriverMemory:
	case DriverEtcd:
		if len(c.KV.Endpoints) == 0 {
			errs = append(errs, invalid("kv.endpoints", "required for the etcd driver"))
		}
	default:
		errs = append(errs, invalid("kv.driver", "unknown driver %q", c.KV.Driver))
	}

	if c.Identity.Token != "" && len(c.Identity.SecretBytes()) == 0 {
		errs = append(errs, invalid("identity.secret", "required to verify identity.token"))
	}
	if c.ReleaseGrace < 0 {
		errs = append(errs, invalid("release_grace", "must not be negative"))
	}

	for _, name := range c.ResourceNames() {
		errs = append(errs, c.Resources[name].validate("resources."+name)...)
	}

	for path := range c.Seed.Documents {
		if _, err := docstore.Doc(path); err != nil {
			errs = append(errs, invalid("seed.documents", "%v", err))
		}
	}
	return errors.Join(errs...)
}

// ResourceNames returns the resource names in sorted order.
func (c *Config) ResourceNames() []string {
	names := make([]string, 0, len(c.Resources))
	for name := range c.Resources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r ResourceConfig) validate(field string) []error {
	var errs []error
	if !slices.Contains(Kinds, r.Kind) {
		return []error{invalid(field+".kind", "unknown kind %q", r.Kind)}
	}

	queryable := r.Kind == KindCollection || r.Kind == KindAggregate ||
		(r.Kind == KindDocument && r.Collection != "")
	if !queryable && (len(r.Where) > 0 || len(r.OrderBy) > 0) {
		errs = append(errs, invalid(field, "where and order_by need a collection"))
	}

	switch r.Kind {
	case KindDocument:
		if (r.Path == "") == (r.Collection == "") {
			errs = append(errs, invalid(field, "exactly one of path or collection is required"))
		}
		if r.Collection != "" && len(r.Where) == 0 && len(r.OrderBy) == 0 {
			errs = append(errs, invalid(field+".where", "query-first documents need a where or order_by"))
		}
	default:
		if r.Path == "" {
			errs = append(errs, invalid(field+".path", "required"))
		}
		if r.Collection != "" {
			errs = append(errs, invalid(field+".collection", "only documents have a collection"))
		}
	}

	if r.Kind == KindAggregate {
		if r.Listen {
			errs = append(errs, invalid(field+".listen", "aggregates cannot be listened to"))
		}
		if len(r.Aggregate) == 0 {
			errs = append(errs, invalid(field+".aggregate", "required"))
		} else if err := r.AggregateSpec().Validate(); err != nil {
			errs = append(errs, invalid(field+".aggregate", "%v", err))
		}
	} else if len(r.Aggregate) > 0 {
		errs = append(errs, invalid(field+".aggregate", "only aggregates have aggregations"))
	}

	for i, w := range r.Where {
		if !slices.Contains(docstore.ValidOps, docstore.Op(w.Op)) {
			errs = append(errs, invalid(fmt.Sprintf("%s.where[%d].op", field, i), "unknown operator %q", w.Op))
		}
	}
	for i, o := range r.OrderBy {
		switch strings.ToLower(o.Direction) {
		case "", string(docstore.Asc), string(docstore.Desc):
		default:
			errs = append(errs, invalid(fmt.Sprintf("%s.order_by[%d].direction", field, i), "unknown direction %q", o.Direction))
		}
	}
	if r.Limit < 0 {
		errs = append(errs, invalid(field+".limit", "must not be negative"))
	}
	if r.Schema != "" && r.SchemaFile != "" {
		errs = append(errs, invalid(field+".schema", "schema and schema_file are exclusive"))
	}
	if r.Autosave && r.Kind != KindNode {
		errs = append(errs, invalid(field+".autosave", "only nodes autosave"))
	}
	if r.Last && r.Kind != KindNodeList {
		errs = append(errs, invalid(field+".last", "only node lists take last"))
	}
	return errs
}

// Constraints converts where, order_by and limit to query constraints.
func (r ResourceConfig) Constraints() []docstore.Constraint {
	var cs []docstore.Constraint
	for _, w := range r.Where {
		cs = append(cs, docstore.Where(w.Field, docstore.Op(w.Op), w.Value))
	}
	for _, o := range r.OrderBy {
		dir := docstore.Asc
		if strings.EqualFold(o.Direction, string(docstore.Desc)) {
			dir = docstore.Desc
		}
		cs = append(cs, docstore.OrderBy(o.Field, dir))
	}
	if r.Limit > 0 {
		cs = append(cs, docstore.Limit(r.Limit))
	}
	return cs
}

// AggregateSpec converts the aggregate section.
func (r ResourceConfig) AggregateSpec() docstore.AggregateSpec {
	spec := make(docstore.AggregateSpec, len(r.Aggregate))
	for alias, a := range r.Aggregate {
		spec[alias] = docstore.Aggregation{Op: docstore.AggregateOp(a.Op), Field: a.Field}
	}
	return spec
}
