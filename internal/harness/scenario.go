package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/livestate/internal/config"
)

// Scenario is a scripted sequence of resource and backend steps plus the
// assertions that must hold afterwards.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Config is the inline configuration. Exactly one of Config and
	// ConfigFile is required.
	Config *config.Config `yaml:"config,omitempty"`

	// ConfigFile is resolved relative to the scenario file.
	ConfigFile string `yaml:"config_file,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	Observe   string        `yaml:"observe,omitempty"`
	Release   string        `yaml:"release,omitempty"`
	Refetch   string        `yaml:"refetch,omitempty"`
	Add       *ResourceStep `yaml:"add,omitempty"`
	Delete    *ResourceStep `yaml:"delete,omitempty"`
	SaveField *ResourceStep `yaml:"save_field,omitempty"`
	Push      *ResourceStep `yaml:"push,omitempty"`
	Write     *BackendStep  `yaml:"write,omitempty"`
	Remove    *BackendStep  `yaml:"remove,omitempty"`
	Put       *BackendStep  `yaml:"put,omitempty"`
	Unset     *BackendStep  `yaml:"unset,omitempty"`

	// ExpectError marks a step that must fail.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// ResourceStep is a mutation through a resource.
type ResourceStep struct {
	Resource string         `yaml:"resource"`
	Data     map[string]any `yaml:"data,omitempty"`
	ID       string         `yaml:"id,omitempty"`
	Field    string         `yaml:"field,omitempty"`
	Value    any            `yaml:"value,omitempty"`
}

// BackendStep is a direct store change.
type BackendStep struct {
	Path   string         `yaml:"path,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`
	Key    string         `yaml:"key,omitempty"`
	Value  any            `yaml:"value,omitempty"`
}

// Step operation names.
const (
	OpObserve   = "observe"
	OpRelease   = "release"
	OpRefetch   = "refetch"
	OpAdd       = "add"
	OpDelete    = "delete"
	OpSaveField = "save_field"
	OpPush      = "push"
	OpWrite     = "write"
	OpRemove    = "remove"
	OpPut       = "put"
	OpUnset     = "unset"
)

// Op returns the step's operation and the resource it names, if any. It
// fails unless exactly one operation is set.
func (s Step) Op() (op, resource string, err error) {
	var ops []string
	named := func(name, res string) {
		if res != "" {
			ops = append(ops, name)
			op, resource = name, res
		}
	}
	mutation := func(name string, rs *ResourceStep) {
		if rs != nil {
			ops = append(ops, name)
			op, resource = name, rs.Resource
		}
	}
	backend := func(name string, bs *BackendStep) {
		if bs != nil {
			ops = append(ops, name)
			op = name
		}
	}

	named(OpObserve, s.Observe)
	named(OpRelease, s.Release)
	named(OpRefetch, s.Refetch)
	mutation(OpAdd, s.Add)
	mutation(OpDelete, s.Delete)
	mutation(OpSaveField, s.SaveField)
	mutation(OpPush, s.Push)
	backend(OpWrite, s.Write)
	backend(OpRemove, s.Remove)
	backend(OpPut, s.Put)
	backend(OpUnset, s.Unset)

	switch len(ops) {
	case 0:
		return "", "", fmt.Errorf("no operation")
	case 1:
		return op, resource, nil
	default:
		return "", "", fmt.Errorf("several operations %v", ops)
	}
}

// Assertion validates the trace or the final data.
type Assertion struct {
	// Type is one of data, trace_contains, trace_count, trace_order.
	Type string `yaml:"type"`

	// Resource names the resource (data; optional filter for the trace
	// assertions).
	Resource string `yaml:"resource,omitempty"`

	// Expect is the resource's expected final data (data).
	Expect any `yaml:"expect,omitempty"`

	// Op is the step operation (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Count is the expected number of matching steps (trace_count).
	Count int `yaml:"count,omitempty"`

	// Ops is the expected operation order (trace_order).
	Ops []string `yaml:"ops,omitempty"`
}

// Assertion type constants.
const (
	AssertData          = "data"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertTraceOrder    = "trace_order"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected, and a config_file is loaded relative to the scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.ConfigFile != "" {
		file := scenario.ConfigFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		cfg, err := config.Load(file)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario: %w", err)
		}
		scenario.Config = cfg
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario. A config_file reference
// is left unresolved.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config != nil {
		scenario.Config.ApplyDefaults()
		if err := scenario.Config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid scenario config: %w", err)
		}
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that steps
// and assertions reference configured resources.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Config == nil) == (s.ConfigFile == "") {
		return fmt.Errorf("exactly one of config and config_file is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	known := func(string) bool { return true }
	if s.Config != nil {
		known = func(name string) bool {
			_, ok := s.Config.Resources[name]
			return ok
		}
	}

	for i, step := range s.Steps {
		op, resource, err := step.Op()
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if resource != "" && !known(resource) {
			return fmt.Errorf("steps[%d]: unknown resource %q", i, resource)
		}
		if err := validateStep(op, step); err != nil {
			return fmt.Errorf("steps[%d].%s: %w", i, op, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
		if a.Resource != "" && !known(a.Resource) {
			return fmt.Errorf("assertions[%d]: unknown resource %q", i, a.Resource)
		}
	}
	return nil
}

func validateStep(op string, s Step) error {
	switch op {
	case OpDelete:
		if s.Delete.ID == "" {
			return fmt.Errorf("id is required")
		}
	case OpSaveField:
		if s.SaveField.Field == "" {
			return fmt.Errorf("field is required")
		}
	case OpWrite:
		if s.Write.Path == "" {
			return fmt.Errorf("path is required")
		}
	case OpRemove:
		if s.Remove.Path == "" {
			return fmt.Errorf("path is required")
		}
	case OpPut:
		if s.Put.Key == "" {
			return fmt.Errorf("key is required")
		}
	case OpUnset:
		if s.Unset.Key == "" {
			return fmt.Errorf("key is required")
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertData:
		if a.Resource == "" {
			return fmt.Errorf("assertions[%d]: resource is required for data", index)
		}
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
