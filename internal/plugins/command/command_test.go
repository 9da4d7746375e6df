package commandplugin

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/autoflow/internal/logger"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
	"github.com/alexisbeaulieu97/autoflow/internal/steps/stepstest"
)

func setup(t *testing.T, args map[string]any) (plugin.Plugin, *steps.Registry, *stepstest.Context) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}

	p := New()
	target := p.ArgumentType()
	require.NoError(t, plugin.BindArguments(target, args))
	require.NoError(t, p.Initialize(context.Background(), plugin.InitContext{Args: target, Logger: logger.Nop()}))

	reg := steps.NewBuiltinRegistry()
	require.NoError(t, p.(steps.Provider).RegisterSteps(reg))
	return p, reg, stepstest.New(p)
}

func TestShellStoresOutputAndExitCode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, reg, sc := setup(t, map[string]any{"work-dir": dir, "env": map[string]any{"GREETING": "hello"}})

	err := stepstest.Run(context.Background(), reg, sc, "shell", steps.Params{
		"command": `echo "$GREETING $WHO" && pwd && echo warn >&2`,
		"env":     map[string]any{"WHO": "autoflow"},
	})
	require.NoError(t, err)

	out := sc.Attrs["shell"].(map[string]any)
	require.Equal(t, 0, out["exitCode"])
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.Contains(t, out["stdout"], "hello autoflow")
	require.Contains(t, out["stdout"], resolved)
	require.Equal(t, "warn", out["stderr"])
}

func TestShellNonZeroExit(t *testing.T) {
	t.Parallel()

	_, reg, sc := setup(t, nil)

	err := stepstest.Run(context.Background(), reg, sc, "shell", steps.Params{"command": "echo broken >&2; exit 4", "attribute": "result"})
	require.Error(t, err)
	require.Equal(t, ErrorType, steps.ErrorType(err))
	require.Contains(t, err.Error(), "code 4: broken")
	require.Equal(t, 4, sc.Attrs["result"].(map[string]any)["exitCode"])

	err = stepstest.Run(context.Background(), reg, sc, "shell", steps.Params{"command": "exit 2", "allow-failure": true})
	require.NoError(t, err)
	require.Equal(t, 2, sc.Attrs["shell"].(map[string]any)["exitCode"])
}

func TestShellSucceeds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))
	_, reg, sc := setup(t, map[string]any{"work-dir": dir})

	ok, err := stepstest.Check(context.Background(), reg, sc, "shell-succeeds", steps.Params{"command": "test -f marker"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = stepstest.Check(context.Background(), reg, sc, "shell-succeeds", steps.Params{"command": "test -f missing"})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = stepstest.Check(context.Background(), reg, sc, "shell-succeeds", steps.Params{})
	require.Error(t, err)
}

func TestShellTimeout(t *testing.T) {
	t.Parallel()

	_, reg, sc := setup(t, map[string]any{"timeout": "50ms"})
	err := stepstest.Run(context.Background(), reg, sc, "shell", steps.Params{"command": "sleep 5"})
	require.Error(t, err)
}

func TestHandleErrorLogsLastCommand(t *testing.T) {
	t.Parallel()

	p, reg, sc := setup(t, nil)
	require.Error(t, stepstest.Run(context.Background(), reg, sc, "shell", steps.Params{"command": "echo out; echo err >&2; exit 1"}))

	log := &stepstest.Log{}
	p.HandleError(context.Background(), plugin.ErrorDetails{Session: sc.Sessions[Name], Log: log})
	require.Equal(t, []string{
		`INFO last command "echo out; echo err >&2; exit 1" exited with code 1`,
		"INFO stdout: out",
		"WARN stderr: err",
	}, log.Lines())

	p.HandleError(context.Background(), plugin.ErrorDetails{Log: log})
	require.Len(t, log.Lines(), 3)
}

func TestInitializeRejectsMissingWorkDir(t *testing.T) {
	t.Parallel()

	p := New()
	err := p.Initialize(context.Background(), plugin.InitContext{Args: &Arguments{WorkDir: filepath.Join(t.TempDir(), "nope")}})
	require.ErrorContains(t, err, "work-dir")
	require.NoError(t, p.Metadata().Validate())
}
