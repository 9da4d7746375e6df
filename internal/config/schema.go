package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const suiteSchemaID = "https://github.com/alexisbeaulieu97/autoflow/schemas/test-suite.json"

// SchemaIssue is one schema violation inside a document.
type SchemaIssue struct {
	Path    string
	Message string
}

func (i SchemaIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// GenerateSuiteSchema produces the JSON Schema of a test-suite document.
func GenerateSuiteSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.FieldNameTag = "yaml"
	r.DoNotReference = false

	s := r.Reflect(&SuiteFile{})
	s.ID = suiteSchemaID
	s.Title = "Autoflow test-suite file"
	s.Description = "Test suites, shared functions and global setup/cleanup"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

// GenerateProjectSchema produces the JSON Schema of the project file.
func GenerateProjectSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.FieldNameTag = "yaml"

	s := r.Reflect(&Project{})
	s.Title = "Autoflow project file"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal project schema: %w", err)
	}
	return data, nil
}

func compileSuiteSchema() (*sjsonschema.Schema, error) {
	schemaJSON, err := GenerateSuiteSchema()
	if err != nil {
		return nil, err
	}
	schemaDoc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("test-suite.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("test-suite.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// ValidateSuiteDocument checks a raw test-suite document against the schema.
func ValidateSuiteDocument(data []byte) ([]SchemaIssue, error) {
	sch, err := compileSuiteSchema()
	if err != nil {
		return nil, err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return []SchemaIssue{{Message: err.Error()}}, nil
	}
	if raw == nil {
		raw = map[string]any{}
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return []SchemaIssue{{Message: err.Error()}}, nil
		}
		var issues []SchemaIssue
		for _, cause := range flattenValidationErrors(ve) {
			issues = append(issues, SchemaIssue{
				Path:    "/" + strings.Join(cause.InstanceLocation, "/"),
				Message: fmt.Sprintf("%v", cause.ErrorKind),
			})
		}
		sort.Slice(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
		return issues, nil
	}
	return nil, nil
}

// ValidateSuiteFile reads path and checks it against the schema.
func ValidateSuiteFile(path string) ([]SchemaIssue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ValidateSuiteDocument(data)
}

func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
