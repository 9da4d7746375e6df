package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/alexisbeaulieu97/autoflow/internal/graph"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if name == "" || name == "-" {
				return strings.ToLower(field.Name)
			}
			return name
		})
		validateInst = v
	})

	return validateInst
}

// ValidateProject checks the project file on its own.
func ValidateProject(project *Project) error {
	if project == nil {
		return autoflowerrors.NewValidationError("project", "project is nil", nil)
	}
	if err := validatorInstance().Struct(project); err != nil {
		return convertValidationError(project.Path, err)
	}
	return nil
}

// ValidateBundle performs struct and cross-reference validation across
// every loaded document.
func ValidateBundle(b *Bundle) error {
	if b == nil {
		return autoflowerrors.NewValidationError("bundle", "nothing loaded", nil)
	}
	if err := ValidateProject(b.Project); err != nil {
		return err
	}

	v := validatorInstance()
	for _, f := range b.Files {
		if err := v.Struct(f); err != nil {
			return convertValidationError(f.Path, err)
		}
	}

	if err := validateGlobalBlocks(b); err != nil {
		return err
	}

	fileFunctions := make(map[string]string)
	for _, f := range b.Files {
		for i, fn := range f.Functions {
			if prev, ok := fileFunctions[fn.Name]; ok {
				return autoflowerrors.NewValidationError(fmt.Sprintf("%s: functions[%d].name", f.Path, i), fmt.Sprintf("function %q already declared in %s", fn.Name, prev), nil)
			}
			fileFunctions[fn.Name] = f.Path
		}
	}

	suites := graph.New()
	seen := make(map[string]string)
	for _, f := range b.Files {
		for i, suite := range f.TestSuites {
			field := fmt.Sprintf("%s: test-suites[%d]", f.Path, i)
			if prev, ok := seen[suite.Name]; ok {
				return autoflowerrors.NewValidationError(field+".name", fmt.Sprintf("duplicate test suite %q (first declared in %s)", suite.Name, prev), nil)
			}
			seen[suite.Name] = f.Path
			suites.AddNode(suite.Name)

			if err := validateSuite(field, suite); err != nil {
				return err
			}
		}
	}

	for _, f := range b.Files {
		for i, suite := range f.TestSuites {
			for _, dep := range suite.DependsOn {
				field := fmt.Sprintf("%s: test-suites[%d].depends-on", f.Path, i)
				if dep == suite.Name {
					return autoflowerrors.NewValidationError(field, fmt.Sprintf("test suite %q depends on itself", suite.Name), nil)
				}
				if !suites.Has(dep) {
					return autoflowerrors.NewValidationError(field, fmt.Sprintf("references unknown test suite %q", dep), nil)
				}
				suites.AddEdge(suite.Name, dep)
			}
		}
	}

	if cycle := suites.Cycle(); len(cycle) > 0 {
		return autoflowerrors.NewValidationError("test-suites", (&graph.CycleError{Cycle: cycle}).Error(), nil)
	}
	return nil
}

func validateGlobalBlocks(b *Bundle) error {
	var setupFrom, cleanupFrom []string
	if len(b.Project.GlobalSetup) > 0 {
		setupFrom = append(setupFrom, b.Project.Path)
	}
	if len(b.Project.GlobalCleanup) > 0 {
		cleanupFrom = append(cleanupFrom, b.Project.Path)
	}
	for _, f := range b.Files {
		if len(f.GlobalSetup) > 0 {
			setupFrom = append(setupFrom, f.Path)
		}
		if len(f.GlobalCleanup) > 0 {
			cleanupFrom = append(cleanupFrom, f.Path)
		}
	}

	if len(setupFrom) > 1 {
		return autoflowerrors.NewValidationError("global-setup", fmt.Sprintf("declared more than once: %s", strings.Join(setupFrom, ", ")), nil)
	}
	if len(cleanupFrom) > 1 {
		return autoflowerrors.NewValidationError("global-cleanup", fmt.Sprintf("declared more than once: %s", strings.Join(cleanupFrom, ", ")), nil)
	}
	return nil
}

func validateSuite(field string, suite Suite) error {
	functions := make(map[string]bool)
	for i, fn := range suite.Functions {
		if functions[fn.Name] {
			return autoflowerrors.NewValidationError(fmt.Sprintf("%s.functions[%d].name", field, i), fmt.Sprintf("duplicate function %q", fn.Name), nil)
		}
		functions[fn.Name] = true
	}

	cases := graph.New()
	for i, tc := range suite.TestCases {
		tcField := fmt.Sprintf("%s.test-cases[%d]", field, i)
		if cases.Has(tc.Name) {
			return autoflowerrors.NewValidationError(tcField+".name", fmt.Sprintf("duplicate test case %q in suite %q", tc.Name, suite.Name), nil)
		}
		cases.AddNode(tc.Name)

		if err := validateDataProvider(tcField+".data-provider", tc.DataProvider); err != nil {
			return err
		}
	}

	for i, tc := range suite.TestCases {
		tcField := fmt.Sprintf("%s.test-cases[%d].depends-on", field, i)
		for _, dep := range tc.DependsOn {
			if dep == tc.Name {
				return autoflowerrors.NewValidationError(tcField, fmt.Sprintf("test case %q depends on itself", tc.Name), nil)
			}
			if !cases.Has(dep) {
				return autoflowerrors.NewValidationError(tcField, fmt.Sprintf("references unknown test case %q in suite %q", dep, suite.Name), nil)
			}
			cases.AddEdge(tc.Name, dep)
		}
	}

	if cycle := cases.Cycle(); len(cycle) > 0 {
		return autoflowerrors.NewValidationError(field+".test-cases", (&graph.CycleError{Cycle: cycle}).Error(), nil)
	}
	return nil
}

func validateDataProvider(field string, dp *DataProvider) error {
	if dp == nil {
		return nil
	}
	hasList := dp.List != nil
	hasRange := dp.Range != nil
	switch {
	case hasList && hasRange:
		return autoflowerrors.NewValidationError(field, "declare either list or range, not both", nil)
	case !hasList && !hasRange:
		return autoflowerrors.NewValidationError(field, "one of list or range is required", nil)
	}
	if hasRange && dp.Range.Step < 0 && dp.Range.From < dp.Range.To {
		return autoflowerrors.NewValidationError(field+".range", "negative step requires from >= to", nil)
	}
	return nil
}

func convertValidationError(path string, err error) error {
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		ve := ves[0]
		field := yamlishFieldName(ve)
		if path != "" {
			field = path + ": " + field
		}
		msg := fmt.Sprintf("%s failed validation for tag '%s'", ve.Field(), ve.Tag())
		return autoflowerrors.NewValidationError(field, msg, err)
	}

	return autoflowerrors.NewValidationError(path, err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
