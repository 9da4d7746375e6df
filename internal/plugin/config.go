package plugin

import (
	"os"
	"strings"

	"github.com/alexisbeaulieu97/autoflow/internal/pool"
)

// DependencyPolicy controls how the registry responds to dependency problems.
type DependencyPolicy string

const (
	// PolicyStrict fails initialization when a dependency is missing or mismatched.
	PolicyStrict DependencyPolicy = "strict"
	// PolicyGraceful skips the affected plugins and logs a warning.
	PolicyGraceful DependencyPolicy = "graceful"
)

// Config controls plugin initialization and pool sizing.
type Config struct {
	DependencyPolicy   DependencyPolicy
	DefaultMaxSessions int
	// MaxSessions overrides the pool size per plugin name.
	MaxSessions map[string]int
	// Args holds raw argument values per plugin name.
	Args      map[string]map[string]any
	ReportDir string
}

// DefaultConfig returns environment-aware defaults: strict in CI, graceful elsewhere.
func DefaultConfig() *Config {
	policy := PolicyGraceful
	if isCIEnvironment() {
		policy = PolicyStrict
	}

	return &Config{
		DependencyPolicy:   policy,
		DefaultMaxSessions: pool.DefaultMaxSessions,
		MaxSessions:        map[string]int{},
		Args:               map[string]map[string]any{},
	}
}

func (c *Config) maxSessionsFor(name string) int {
	if n, ok := c.MaxSessions[name]; ok && n > 0 {
		return n
	}
	if c.DefaultMaxSessions > 0 {
		return c.DefaultMaxSessions
	}
	return pool.DefaultMaxSessions
}

func isCIEnvironment() bool {
	ciEnvVars := []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"JENKINS_HOME",
	}

	for _, key := range ciEnvVars {
		value := strings.TrimSpace(os.Getenv(key))
		if value != "" && strings.ToLower(value) != "false" && value != "0" {
			return true
		}
	}

	return false
}
