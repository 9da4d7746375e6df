package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

func bundleOf(t *testing.T, docs ...string) *Bundle {
	t.Helper()
	b := &Bundle{Project: DefaultProject()}
	for i, doc := range docs {
		f, err := ParseSuiteData("suite"+string(rune('a'+i))+".yaml", []byte(doc))
		require.NoError(t, err)
		b.Files = append(b.Files, f)
	}
	return b
}

func TestValidateBundleRejectsConfigurationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		docs    []string
		message string
	}{
		{
			name:    "missing suite name",
			docs:    []string{"test-suites:\n  - test-cases: []\n"},
			message: "required",
		},
		{
			name:    "duplicate suite",
			docs:    []string{"test-suites:\n  - name: a\n    test-cases: []\n", "test-suites:\n  - name: a\n    test-cases: []\n"},
			message: "duplicate test suite",
		},
		{
			name:    "unknown suite dependency",
			docs:    []string{"test-suites:\n  - name: a\n    depends-on: [ghost]\n    test-cases: []\n"},
			message: "unknown test suite",
		},
		{
			name: "suite cycle",
			docs: []string{`test-suites:
  - name: a
    depends-on: [b]
    test-cases: []
  - name: b
    depends-on: [a]
    test-cases: []
`},
			message: "dependency cycle detected",
		},
		{
			name: "unknown test case dependency",
			docs: []string{`test-suites:
  - name: a
    test-cases:
      - name: one
        depends-on: [two]
`},
			message: "unknown test case",
		},
		{
			name: "duplicate test case",
			docs: []string{`test-suites:
  - name: a
    test-cases:
      - name: one
      - name: one
`},
			message: "duplicate test case",
		},
		{
			name: "data provider with list and range",
			docs: []string{`test-suites:
  - name: a
    test-cases:
      - name: one
        data-provider:
          list: [1]
          range: {from: 1, to: 2}
`},
			message: "not both",
		},
		{
			name: "empty data provider",
			docs: []string{`test-suites:
  - name: a
    test-cases:
      - name: one
        data-provider:
          name: x
`},
			message: "one of list or range",
		},
		{
			name:    "global setup twice",
			docs:    []string{"global-setup:\n  - type: log\n", "global-setup:\n  - type: log\n"},
			message: "declared more than once",
		},
		{
			name: "step without type",
			docs: []string{`test-suites:
  - name: a
    test-cases:
      - name: one
        steps:
          - name: x
`},
			message: "type",
		},
		{
			name:    "duplicate shared function",
			docs:    []string{"functions:\n  - name: f\n    steps: []\n", "functions:\n  - name: f\n    steps: []\n"},
			message: "already declared",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateBundle(bundleOf(t, tc.docs...))
			var verr *autoflowerrors.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestValidateProjectBoundsMaxSessions(t *testing.T) {
	t.Parallel()

	project := DefaultProject()
	project.Plugins = map[string]PluginSettings{"http": {MaxSessions: 1001}}
	require.Error(t, ValidateProject(project))

	project.Plugins["http"] = PluginSettings{MaxSessions: 1000}
	require.NoError(t, ValidateProject(project))
}

func TestValidateBundleAcceptsDependenciesAcrossFiles(t *testing.T) {
	t.Parallel()

	b := bundleOf(t, catalogSuite, "test-suites:\n  - name: checkout\n    depends-on: [catalog]\n    test-cases: []\n")
	require.NoError(t, ValidateBundle(b))
}

func TestDataProviderRecords(t *testing.T) {
	t.Parallel()

	require.Equal(t, []any{"a", "b"}, (&DataProvider{List: []any{"a", "b"}}).Records())
	require.Equal(t, []any{3, 2, 1}, (&DataProvider{Range: &DataRange{From: 3, To: 1, Step: -1}}).Records())
	require.Empty(t, (&DataProvider{Range: &DataRange{From: 5, To: 1}}).Records())
	require.Equal(t, DefaultDataAttribute, (*DataProvider)(nil).Attribute())
}
