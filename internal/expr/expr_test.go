package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testEnv() Env {
	return Env{
		Attributes: map[string]any{"user": "alice", "count": 3, "flag": true},
		Params:     map[string]any{"id": 7},
		Global:     map[string]any{"stage": "ci"},
		Properties: map[string]any{"base": "http://localhost"},
	}
}

func TestResolveStrings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input any
		want  any
	}{
		{name: "literal", input: "plain text", want: "plain text"},
		{name: "template attribute", input: "hello {{ .user }}", want: "hello alice"},
		{name: "template sprig", input: "{{ .user | upper }}", want: "ALICE"},
		{name: "template namespaces", input: "{{ .prop.base }}/{{ .param.id }}/{{ .global.stage }}", want: "http://localhost/7/ci"},
		{name: "expr keeps type", input: "expr: count * 2", want: 6},
		{name: "expr bool", input: "expr: attr.flag && param.id > 5", want: true},
		{name: "non string", input: 42, want: 42},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Resolve(tc.input, testEnv())
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveParamsLeavesTemplateUntouched(t *testing.T) {
	t.Parallel()

	template := map[string]any{
		"name":  "{{ .user }}",
		"items": []any{"{{ .user }}", map[string]any{"n": "expr: count + 1"}},
	}

	first, err := ResolveParams(template, testEnv())
	require.NoError(t, err)
	require.Equal(t, "alice", first["name"])
	require.Equal(t, []any{"alice", map[string]any{"n": 4}}, first["items"])

	env := testEnv()
	env.Attributes["user"] = "bob"
	second, err := ResolveParams(template, env)
	require.NoError(t, err)
	require.Equal(t, "bob", second["name"])

	require.Equal(t, "{{ .user }}", template["name"])
	require.Equal(t, "expr: count + 1", template["items"].([]any)[1].(map[string]any)["n"])
}

func TestResolveReportsMissingKeys(t *testing.T) {
	t.Parallel()

	_, err := ResolveParams(map[string]any{"v": "{{ .missing }}"}, testEnv())
	require.Error(t, err)
	require.Contains(t, err.Error(), `parameter "v"`)
}

func TestCondition(t *testing.T) {
	t.Parallel()

	env := testEnv()
	env.Extra = map[string]any{"error": map[string]any{"type": "TimeoutError", "message": "boom"}}

	cases := []struct {
		source string
		want   bool
	}{
		{source: "", want: true},
		{source: "flag == true", want: true},
		{source: "count > 5", want: false},
		{source: "expr: user == 'alice'", want: true},
		{source: `error.message contains "boo"`, want: true},
		{source: "{{ .flag }}", want: true},
		{source: "{{ eq .user \"bob\" }}", want: false},
	}

	for _, tc := range cases {
		got, err := Condition(tc.source, env)
		require.NoError(t, err, tc.source)
		require.Equal(t, tc.want, got, tc.source)
	}

	_, err := Condition("count + 1", env)
	require.Error(t, err)
}

func TestTruthy(t *testing.T) {
	t.Parallel()

	require.True(t, Truthy("yes"))
	require.True(t, Truthy(1))
	require.True(t, Truthy([]any{1}))
	require.False(t, Truthy("false"))
	require.False(t, Truthy(0.0))
	require.False(t, Truthy(nil))
	require.False(t, Truthy(map[string]any{}))
}
