package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/uql/internal/transpile"
)

// Scenario is one conformance test.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Models is the CUE file declaring the models. Relative paths are
	// resolved against the scenario file's directory by LoadScenario.
	Models string `yaml:"models"`

	// Setup seeds collections before the steps run.
	Setup []SetupStep `yaml:"setup,omitempty"`

	// Steps run in order; each may carry expectations.
	Steps []Step `yaml:"steps"`

	// Assertions check the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// SetupStep inserts records into a model.
type SetupStep struct {
	Model   string           `yaml:"model"`
	Records []map[string]any `yaml:"records"`
}

// Step runs one repository operation.
type Step struct {
	// Op is find, findOne, count, insert, update, remove or upsert.
	Op    string `yaml:"op"`
	Model string `yaml:"model"`

	// Query is a UQL query: where, order, limit, skip.
	Query yaml.Node `yaml:"query,omitempty"`

	// Data is the insert record, the update's field set or the upsert
	// payload.
	Data map[string]any `yaml:"data,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes a step's expected outcome.
type Expect struct {
	Result  map[string]any   `yaml:"result,omitempty"`
	Records []map[string]any `yaml:"records,omitempty"`
	Count   *int64           `yaml:"count,omitempty"`
	Error   string           `yaml:"error,omitempty"`
}

// Assertion checks a collection's final contents.
type Assertion struct {
	// Type is final_state or record_count.
	Type string `yaml:"type"`

	// Collection is the collection to inspect.
	Collection string `yaml:"collection"`

	// Where selects records by field equality (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds field values the selected record must carry
	// (final_state, subset match).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of records (record_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState  = "final_state"
	AssertRecordCount = "record_count"
)

// Step operations beyond the transpile operations.
const (
	opFind    = "find"
	opFindOne = "findOne"
)

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected and the models path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Models != "" && !filepath.IsAbs(s.Models) {
		s.Models = filepath.Join(filepath.Dir(path), s.Models)
	}
	if _, err := os.Stat(s.Models); err != nil {
		return nil, fmt.Errorf("invalid scenario: models file not found: %s", s.Models)
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML. The models path is
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Models == "" {
		return fmt.Errorf("models is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if step.Model == "" {
			return fmt.Errorf("setup[%d]: model is required", i)
		}
	}

	for i, step := range s.Steps {
		if step.Model == "" {
			return fmt.Errorf("steps[%d]: model is required", i)
		}
		if !validOp(step.Op) {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if e := step.Expect; e != nil && e.Error != "" && (e.Result != nil || e.Records != nil || e.Count != nil) {
			return fmt.Errorf("steps[%d].expect: error excludes result, records and count", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validOp(op string) bool {
	if op == opFindOne {
		return true
	}
	_, err := transpile.ParseOperation(op)
	return err == nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Collection == "" {
		return fmt.Errorf("assertions[%d]: collection is required", index)
	}
	switch a.Type {
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
