package config

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// ProjectFileName is the project file looked up in the working directory.
const ProjectFileName = "autoflow.yaml"

// DefaultParallel is the number of suites run concurrently when unset.
const DefaultParallel = 4

// Project holds run-wide settings.
type Project struct {
	Name          string                    `yaml:"name,omitempty" json:"name,omitempty"`
	ReportName    string                    `yaml:"report-name,omitempty" json:"report-name,omitempty"`
	Parallel      int                       `yaml:"parallel,omitempty" json:"parallel,omitempty" validate:"omitempty,min=1,max=256"`
	Properties    map[string]any            `yaml:"properties,omitempty" json:"properties,omitempty"`
	Plugins       map[string]PluginSettings `yaml:"plugins,omitempty" json:"plugins,omitempty" validate:"omitempty,dive"`
	GlobalSetup   []Step                    `yaml:"global-setup,omitempty" json:"global-setup,omitempty" validate:"omitempty,dive"`
	GlobalCleanup []Step                    `yaml:"global-cleanup,omitempty" json:"global-cleanup,omitempty" validate:"omitempty,dive"`

	Path string `yaml:"-" json:"-"`
}

// PluginSettings configures one plugin.
type PluginSettings struct {
	MaxSessions int            `yaml:"max-sessions,omitempty" json:"max-sessions,omitempty" validate:"omitempty,min=1,max=1000"`
	Args        map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// DefaultProject is used when no project file exists.
func DefaultProject() *Project {
	return &Project{Name: "autoflow", ReportName: "Autoflow Report", Parallel: DefaultParallel}
}

// SuiteFile is one test-suite document.
type SuiteFile struct {
	TestSuites    []Suite    `yaml:"test-suites,omitempty" json:"test-suites,omitempty" validate:"omitempty,dive"`
	Functions     []Function `yaml:"functions,omitempty" json:"functions,omitempty" validate:"omitempty,dive"`
	GlobalSetup   []Step     `yaml:"global-setup,omitempty" json:"global-setup,omitempty" validate:"omitempty,dive"`
	GlobalCleanup []Step     `yaml:"global-cleanup,omitempty" json:"global-cleanup,omitempty" validate:"omitempty,dive"`

	Path string `yaml:"-" json:"-"`
}

// Suite is a test suite definition.
type Suite struct {
	Name        string         `yaml:"name" json:"name" validate:"required,min=1,max=200" jsonschema:"required"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	DependsOn   []string       `yaml:"depends-on,omitempty" json:"depends-on,omitempty"`
	Attributes  map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Setup       []Step         `yaml:"setup,omitempty" json:"setup,omitempty" validate:"omitempty,dive"`
	Cleanup     []Step         `yaml:"cleanup,omitempty" json:"cleanup,omitempty" validate:"omitempty,dive"`
	Functions   []Function     `yaml:"functions,omitempty" json:"functions,omitempty" validate:"omitempty,dive"`
	TestCases   []TestCase     `yaml:"test-cases" json:"test-cases" validate:"omitempty,dive"`

	File string `yaml:"-" json:"-"`
}

// TestCase is one test case of a suite.
type TestCase struct {
	Name              string             `yaml:"name" json:"name" validate:"required,min=1,max=200" jsonschema:"required"`
	Description       string             `yaml:"description,omitempty" json:"description,omitempty"`
	Groups            []string           `yaml:"groups,omitempty" json:"groups,omitempty"`
	DependsOn         []string           `yaml:"depends-on,omitempty" json:"depends-on,omitempty"`
	Attributes        map[string]any     `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Setup             []Step             `yaml:"setup,omitempty" json:"setup,omitempty" validate:"omitempty,dive"`
	Cleanup           []Step             `yaml:"cleanup,omitempty" json:"cleanup,omitempty" validate:"omitempty,dive"`
	DataSetup         []Step             `yaml:"data-setup,omitempty" json:"data-setup,omitempty" validate:"omitempty,dive"`
	DataCleanup       []Step             `yaml:"data-cleanup,omitempty" json:"data-cleanup,omitempty" validate:"omitempty,dive"`
	DataProvider      *DataProvider      `yaml:"data-provider,omitempty" json:"data-provider,omitempty"`
	ExpectedException *ExpectedException `yaml:"expected-exception,omitempty" json:"expected-exception,omitempty"`
	Steps             []Step             `yaml:"steps,omitempty" json:"steps,omitempty" validate:"omitempty,dive"`
	Validations       []Step             `yaml:"validations,omitempty" json:"validations,omitempty" validate:"omitempty,dive"`
}

// HasGroup reports whether the test case belongs to any of groups.
func (tc TestCase) HasGroup(groups ...string) bool {
	for _, want := range groups {
		for _, g := range tc.Groups {
			if g == want {
				return true
			}
		}
	}
	return false
}

// DataProvider drives repeated execution of a test case.
type DataProvider struct {
	Name  string     `yaml:"name,omitempty" json:"name,omitempty"`
	List  []any      `yaml:"list,omitempty" json:"list,omitempty"`
	Range *DataRange `yaml:"range,omitempty" json:"range,omitempty"`
}

// DefaultDataAttribute receives each record when the provider names none.
const DefaultDataAttribute = "data"

// Attribute names the attribute that receives each record.
func (d *DataProvider) Attribute() string {
	if d == nil || d.Name == "" {
		return DefaultDataAttribute
	}
	return d.Name
}

// Records returns the ordered records of the provider.
func (d *DataProvider) Records() []any {
	if d == nil {
		return nil
	}
	if d.Range == nil {
		return append([]any(nil), d.List...)
	}

	step := d.Range.Step
	if step == 0 {
		step = 1
	}
	var records []any
	if step > 0 {
		for i := d.Range.From; i <= d.Range.To; i += step {
			records = append(records, i)
		}
	} else {
		for i := d.Range.From; i >= d.Range.To; i += step {
			records = append(records, i)
		}
	}
	return records
}

// DataRange is an inclusive numeric range.
type DataRange struct {
	From int `yaml:"from" json:"from"`
	To   int `yaml:"to" json:"to"`
	Step int `yaml:"step,omitempty" json:"step,omitempty"`
}

// ExpectedException declares the error a test case must raise.
type ExpectedException struct {
	Type      string `yaml:"type" json:"type" validate:"required" jsonschema:"required"`
	Message   string `yaml:"message,omitempty" json:"message,omitempty"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Function is a reusable list of steps.
type Function struct {
	Name       string         `yaml:"name" json:"name" validate:"required,min=1" jsonschema:"required"`
	Parameters []string       `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Defaults   map[string]any `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Steps      []Step         `yaml:"steps" json:"steps" validate:"omitempty,dive"`
}

// Location is where a step is declared.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

func (l Location) String() string {
	if l.File == "" {
		return fmt.Sprintf("line %d", l.Line)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Step is a step or validation invocation: a type plus free-form
// parameters. A nested "steps" list is decoded into Steps so it keeps its
// own locations.
type Step struct {
	Type     string         `validate:"required"`
	Params   map[string]any `validate:"-"`
	Steps    []Step         `validate:"omitempty,dive"`
	Location Location       `validate:"-"`
}

// UnmarshalYAML decodes the mapping and records the declaring line.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: step must be a mapping", value.Line)
	}

	*s = Step{Params: make(map[string]any), Location: Location{Line: value.Line}}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, node := value.Content[i], value.Content[i+1]
		switch key.Value {
		case "type":
			if err := node.Decode(&s.Type); err != nil {
				return err
			}
		case "steps":
			if err := node.Decode(&s.Steps); err != nil {
				return err
			}
		default:
			var v any
			if err := node.Decode(&v); err != nil {
				return err
			}
			s.Params[key.Value] = v
		}
	}
	return nil
}

// MarshalYAML writes the step back in its declared shape.
func (s Step) MarshalYAML() (any, error) {
	out := make(map[string]any, len(s.Params)+2)
	for k, v := range s.Params {
		out[k] = v
	}
	out["type"] = s.Type
	if len(s.Steps) > 0 {
		out["steps"] = s.Steps
	}
	return out, nil
}

// JSONSchema describes a step as an object with a required type.
func (Step) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("type", &jsonschema.Schema{Type: "string", Description: "step or validation type"})
	props.Set("steps", &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "object"}})
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   []string{"type"},
	}
}

func setStepFiles(steps []Step, file string) {
	for i := range steps {
		steps[i].Location.File = file
		setStepFiles(steps[i].Steps, file)
	}
}

func (f *SuiteFile) assignFile(path string) {
	f.Path = path
	setStepFiles(f.GlobalSetup, path)
	setStepFiles(f.GlobalCleanup, path)
	for i := range f.Functions {
		setStepFiles(f.Functions[i].Steps, path)
	}
	for i := range f.TestSuites {
		suite := &f.TestSuites[i]
		suite.File = path
		setStepFiles(suite.Setup, path)
		setStepFiles(suite.Cleanup, path)
		for j := range suite.Functions {
			setStepFiles(suite.Functions[j].Steps, path)
		}
		for j := range suite.TestCases {
			tc := &suite.TestCases[j]
			for _, list := range [][]Step{tc.Setup, tc.Cleanup, tc.DataSetup, tc.DataCleanup, tc.Steps, tc.Validations} {
				setStepFiles(list, path)
			}
		}
	}
}

func (p *Project) assignFile(path string) {
	p.Path = path
	setStepFiles(p.GlobalSetup, path)
	setStepFiles(p.GlobalCleanup, path)
}
