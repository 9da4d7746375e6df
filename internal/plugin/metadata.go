package plugin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	semverPattern     = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	apiVersionPattern = regexp.MustCompile(`^\d+\.x$`)
)

// Metadata describes plugin identity and dependency requirements.
type Metadata struct {
	Name         string
	Version      string
	APIVersion   string
	Dependencies []Dependency
	Description  string
}

// Dependency declares that a plugin needs another plugin initialized first.
// Version, when set, is a major-version constraint such as "1.x".
type Dependency struct {
	Name    string
	Version string
}

// Validate ensures metadata is well-formed.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("plugin metadata requires a non-empty Name")
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("plugin '%s' has invalid Version '%s' (expected format: X.Y.Z)", m.Name, m.Version)
	}
	if !apiVersionPattern.MatchString(m.APIVersion) {
		return fmt.Errorf("plugin '%s' has invalid APIVersion '%s' (expected format: N.x)", m.Name, m.APIVersion)
	}

	seen := map[string]struct{}{}
	for _, dep := range m.Dependencies {
		if strings.TrimSpace(dep.Name) == "" {
			return fmt.Errorf("plugin '%s' declares dependency with empty name", m.Name)
		}
		if dep.Name == m.Name {
			return fmt.Errorf("plugin '%s' cannot depend on itself", m.Name)
		}
		if _, exists := seen[dep.Name]; exists {
			return fmt.Errorf("plugin '%s' lists dependency '%s' more than once", m.Name, dep.Name)
		}
		if dep.Version != "" && !apiVersionPattern.MatchString(dep.Version) {
			return fmt.Errorf("plugin '%s' declares dependency '%s' with invalid version constraint '%s'", m.Name, dep.Name, dep.Version)
		}
		seen[dep.Name] = struct{}{}
	}

	return nil
}

// Satisfies reports whether version matches the dependency's major-version constraint.
func (d Dependency) Satisfies(version string) bool {
	if d.Version == "" {
		return true
	}
	want, err := strconv.Atoi(strings.TrimSuffix(d.Version, ".x"))
	if err != nil {
		return false
	}
	major, _, _ := strings.Cut(version, ".")
	got, err := strconv.Atoi(major)
	if err != nil {
		return false
	}
	return got == want
}
