package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relhist/internal/engine"
	"github.com/roach88/relhist/internal/mapping"
)

// Scenario is a scripted history: units of work followed by assertions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mapping is the path to the mapping document, relative to the
	// scenario file.
	Mapping string `yaml:"mapping"`

	// Units are committed (or aborted) in order.
	Units []Unit `yaml:"units"`

	// Assertions are evaluated after every unit has run.
	Assertions []Assertion `yaml:"assertions"`

	// Config is the resolved mapping. LoadScenario fills it from Mapping;
	// tests may set it directly.
	Config *mapping.Config `yaml:"-"`
}

// Unit is one unit of work.
type Unit struct {
	Actor      string `yaml:"actor,omitempty"`
	RemoteAddr string `yaml:"remote_addr,omitempty"`

	// Abort discards the unit instead of committing it.
	Abort bool `yaml:"abort,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpLink   = "link"
	OpUnlink = "unlink"
)

// Step is one staged change.
type Step struct {
	Op string `yaml:"op"`

	// Entity is the qualified entity key (insert/update/delete), or the
	// owner's entity key (link/unlink).
	Entity string `yaml:"entity"`

	// ID identifies the entity (insert/update/delete).
	ID string `yaml:"id,omitempty"`

	// Values are the entity column values (insert/update/delete).
	Values map[string]any `yaml:"values,omitempty"`

	// Role, Owner and Partner address one association (link/unlink).
	Role    string `yaml:"role,omitempty"`
	Owner   string `yaml:"owner,omitempty"`
	Partner string `yaml:"partner,omitempty"`

	// Carried holds carried column values (link).
	Carried map[string]any `yaml:"carried,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError engine.ErrorCode `yaml:"expect_error,omitempty"`
}

// Assertion validates the history after all units ran.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Entity string `yaml:"entity,omitempty"`
	ID     string `yaml:"id,omitempty"`

	// Version is the 0-based index into the entity's versions.
	Version int `yaml:"version,omitempty"`

	// Role is the relationship name (members).
	Role string `yaml:"role,omitempty"`

	// Expect lists member version keys as "type:id@tx" (members).
	Expect []string `yaml:"expect,omitempty"`

	// Values are the expected column values (version_values).
	Values map[string]any `yaml:"values,omitempty"`

	// Count is the expected count (version_count, transaction_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertMembers          = "members"
	AssertVersionCount     = "version_count"
	AssertVersionValues    = "version_values"
	AssertTransactionCount = "transaction_count"
)

// LoadScenario reads and parses a scenario YAML file and the mapping it
// references. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Mapping == "" {
		return nil, fmt.Errorf("invalid scenario: mapping is required")
	}
	mappingPath := scenario.Mapping
	if !filepath.IsAbs(mappingPath) {
		mappingPath = filepath.Join(filepath.Dir(path), mappingPath)
	}
	cfg, err := mapping.Load(mappingPath)
	if err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	scenario.Config = cfg

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config == nil {
		return fmt.Errorf("mapping is required")
	}
	if len(s.Units) == 0 {
		return fmt.Errorf("units list is required and must be non-empty")
	}

	for i, u := range s.Units {
		if len(u.Steps) == 0 {
			return fmt.Errorf("units[%d]: steps list is required and must be non-empty", i)
		}
		for j, step := range u.Steps {
			if err := validateStep(step); err != nil {
				return fmt.Errorf("units[%d].steps[%d]: %w", i, j, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s Step) error {
	if s.Entity == "" {
		return fmt.Errorf("entity is required")
	}
	switch s.Op {
	case OpInsert, OpUpdate, OpDelete:
		if s.ID == "" {
			return fmt.Errorf("id is required for %s", s.Op)
		}
	case OpLink, OpUnlink:
		if s.Role == "" || s.Owner == "" || s.Partner == "" {
			return fmt.Errorf("role, owner and partner are required for %s", s.Op)
		}
		if s.Op == OpUnlink && s.Carried != nil {
			return fmt.Errorf("carried is only valid for link")
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertMembers:
		if a.Entity == "" || a.ID == "" || a.Role == "" {
			return fmt.Errorf("assertions[%d]: entity, id and role are required for members", index)
		}
	case AssertVersionCount:
		if a.Entity == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: entity and id are required for version_count", index)
		}
	case AssertVersionValues:
		if a.Entity == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: entity and id are required for version_values", index)
		}
	case AssertTransactionCount:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	if a.Version < 0 {
		return fmt.Errorf("assertions[%d]: version must be non-negative", index)
	}
	return nil
}
