package commandplugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/plugins/internalexec"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

// Name is the plugin name steps lease sessions under.
const Name = "command"

// ErrorType names failures of the shell step for expected-exception matching.
const ErrorType = "CommandError"

// waitDelay bounds how long output pipes are drained after a cancelled
// command is killed.
const waitDelay = time.Second

// Arguments configure every session of the plugin.
type Arguments struct {
	Shell   string            `yaml:"shell"`
	WorkDir string            `yaml:"work-dir"`
	Env     map[string]string `yaml:"env"`
	Timeout time.Duration     `yaml:"timeout" validate:"gte=0"`
}

type commandPlugin struct {
	plugin.Base
	args Arguments
}

// New creates a new command plugin instance.
func New() plugin.Plugin {
	return &commandPlugin{}
}

var (
	_ plugin.Plugin  = (*commandPlugin)(nil)
	_ steps.Provider = (*commandPlugin)(nil)
)

func (p *commandPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		APIVersion:  "1.x",
		Description: "Runs shell commands with environment and working directory control.",
	}
}

func (p *commandPlugin) ArgumentType() any {
	return &Arguments{}
}

func (p *commandPlugin) Initialize(_ context.Context, init plugin.InitContext) error {
	if args, ok := init.Args.(*Arguments); ok && args != nil {
		p.args = *args
	}
	if p.args.WorkDir != "" {
		info, err := os.Stat(p.args.WorkDir)
		if err != nil {
			return fmt.Errorf("work-dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("work-dir %s is not a directory", p.args.WorkDir)
		}
	}
	return nil
}

// session is one worker's shell environment. It remembers the last command
// so the error handler can attach its output.
type session struct {
	shell   string
	dir     string
	env     map[string]string
	timeout time.Duration

	mu   sync.Mutex
	last *internalexec.Result
}

func (s *session) Close() error { return nil }

func (s *session) record(res internalexec.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &res
}

func (s *session) lastResult() (internalexec.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return internalexec.Result{}, false
	}
	return *s.last, true
}

func (p *commandPlugin) NewSession(context.Context) (plugin.Session, error) {
	env := make(map[string]string, len(p.args.Env))
	for k, v := range p.args.Env {
		env[k] = v
	}
	return &session{shell: p.args.Shell, dir: p.args.WorkDir, env: env, timeout: p.args.Timeout}, nil
}

func (p *commandPlugin) HandleError(_ context.Context, details plugin.ErrorDetails) {
	s, ok := details.Session.(*session)
	if !ok || details.Log == nil {
		return
	}
	res, ok := s.lastResult()
	if !ok {
		return
	}
	details.Log.Info(fmt.Sprintf("last command %q exited with code %d", res.Command, res.ExitCode))
	if res.Stdout != "" {
		details.Log.Info("stdout: " + res.Stdout)
	}
	if res.Stderr != "" {
		details.Log.Warn("stderr: " + res.Stderr)
	}
}

func (p *commandPlugin) RegisterSteps(r *steps.Registry) error {
	if err := r.RegisterStep("shell", Name, "run a command and store stdout, stderr and exitCode", steps.StepFunc(shellStep)); err != nil {
		return err
	}
	return r.RegisterValidation("shell-succeeds", Name, "command exits with code 0", steps.ValidationFunc(shellSucceeds))
}

// shellStep runs the command parameter and stores the result map under the
// attribute parameter (default "shell"). A non-zero exit is an error unless
// allow-failure is set.
func shellStep(ctx context.Context, sc steps.Context, inv steps.Invocation) error {
	res, err := execute(ctx, sc, inv)
	if err != nil {
		return err
	}

	sc.SetAttribute(inv.Params.String("attribute", "shell"), map[string]any{
		"stdout":   res.Stdout,
		"stderr":   res.Stderr,
		"exitCode": res.ExitCode,
	})
	sc.Log().Info(fmt.Sprintf("command exited with code %d in %s", res.ExitCode, res.Duration.Round(time.Millisecond)))

	allowFailure, err := inv.Params.Bool("allow-failure", false)
	if err != nil {
		return err
	}
	if !res.Succeeded() && !allowFailure {
		return steps.NewTypedError(ErrorType, "command exited with code %d: %s", res.ExitCode, internalexec.PrimaryOutput(res))
	}
	return nil
}

func shellSucceeds(ctx context.Context, sc steps.Context, inv steps.Invocation) (bool, error) {
	res, err := execute(ctx, sc, inv)
	if err != nil {
		return false, err
	}
	if !res.Succeeded() {
		sc.Log().Warn(fmt.Sprintf("command exited with code %d: %s", res.ExitCode, internalexec.PrimaryOutput(res)))
	}
	return res.Succeeded(), nil
}

func execute(ctx context.Context, sc steps.Context, inv steps.Invocation) (internalexec.Result, error) {
	command, err := inv.Params.RequireString("command")
	if err != nil {
		return internalexec.Result{}, err
	}
	extraEnv, err := inv.Params.StringMap("env")
	if err != nil {
		return internalexec.Result{}, err
	}

	raw, err := sc.Session(ctx, Name)
	if err != nil {
		return internalexec.Result{}, err
	}
	s, ok := raw.(*session)
	if !ok {
		return internalexec.Result{}, autoflowerrors.NewPluginError(Name, fmt.Errorf("unexpected session type %T", raw))
	}

	timeout, err := inv.Params.Duration("timeout", s.timeout)
	if err != nil {
		return internalexec.Result{}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell, shellArgs, err := determineShell(s.shell)
	if err != nil {
		return internalexec.Result{}, autoflowerrors.NewPluginError(Name, err)
	}

	cmd := exec.CommandContext(ctx, shell, append(shellArgs, command)...)
	cmd.Env = buildEnv(s.env, extraEnv)
	cmd.Dir = inv.Params.String("dir", s.dir)
	cmd.WaitDelay = waitDelay

	sc.Log().Info("running: " + command)
	res, err := internalexec.Run(cmd)
	res.Command = command
	s.record(res)
	if err != nil {
		return res, steps.NewTypedError(ErrorType, "run %q: %v", command, err)
	}
	return res, nil
}

func determineShell(explicit string) (string, []string, error) {
	if explicit != "" {
		return explicit, []string{"-c"}, nil
	}

	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C"}, nil
	}

	if path, err := exec.LookPath("sh"); err == nil {
		return path, []string{"-c"}, nil
	}

	if path, err := exec.LookPath("bash"); err == nil {
		return path, []string{"-c"}, nil
	}

	return "", nil, fmt.Errorf("no suitable shell found")
}

// buildEnv layers session and per-step variables over the process
// environment. Keys are applied in sorted order so the result is stable.
func buildEnv(layers ...map[string]string) []string {
	env := os.Environ()
	for _, layer := range layers {
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, layer[k]))
		}
	}
	return env
}
