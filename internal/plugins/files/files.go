package filesplugin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
	"github.com/alexisbeaulieu97/autoflow/pkg/diff"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

// Name is the plugin name steps lease sessions under.
const Name = "files"

// ErrorType names failures of file steps for expected-exception matching.
const ErrorType = "FileError"

const defaultMode os.FileMode = 0o644

// Arguments configure every session of the plugin.
type Arguments struct {
	// Root anchors relative paths. It defaults to the working directory.
	Root string `yaml:"root"`
}

type filesPlugin struct {
	plugin.Base
	root string
}

// New creates a new files plugin instance.
func New() plugin.Plugin {
	return &filesPlugin{}
}

var (
	_ plugin.Plugin  = (*filesPlugin)(nil)
	_ steps.Provider = (*filesPlugin)(nil)
)

func (p *filesPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		APIVersion:  "1.x",
		Description: "Writes, reads and copies files and checks their content.",
	}
}

func (p *filesPlugin) ArgumentType() any {
	return &Arguments{}
}

func (p *filesPlugin) Initialize(_ context.Context, init plugin.InitContext) error {
	root := "."
	if args, ok := init.Args.(*Arguments); ok && args != nil && args.Root != "" {
		root = args.Root
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", abs)
	}
	p.root = abs
	return nil
}

// session remembers the files a worker touched so failures can list them.
type session struct {
	root string

	mu      sync.Mutex
	touched []string
}

func (s *session) Close() error { return nil }

func (s *session) path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.root, p)
}

func (s *session) touch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.touched {
		if existing == path {
			return
		}
	}
	s.touched = append(s.touched, path)
}

func (s *session) files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.touched...)
}

func (p *filesPlugin) NewSession(context.Context) (plugin.Session, error) {
	return &session{root: p.root}, nil
}

func (p *filesPlugin) HandleError(_ context.Context, details plugin.ErrorDetails) {
	s, ok := details.Session.(*session)
	if !ok || details.Log == nil {
		return
	}
	for _, path := range s.files() {
		info, err := os.Stat(path)
		if err != nil {
			details.Log.Warn(fmt.Sprintf("file %s: %v", path, err))
			continue
		}
		details.Log.Info(fmt.Sprintf("file %s: %d bytes, mode %s", path, info.Size(), info.Mode().Perm()))
	}
}

func (p *filesPlugin) RegisterSteps(r *steps.Registry) error {
	for _, s := range []struct {
		typ  string
		desc string
		fn   steps.StepFunc
	}{
		{"write-file", "write content to a file, creating parent folders", writeFile},
		{"read-file", "store the content of a file in an attribute", readFile},
		{"copy-file", "copy a file, keeping its mode", copyFile},
		{"remove-file", "delete a file or folder", removeFile},
	} {
		if err := r.RegisterStep(s.typ, Name, s.desc, s.fn); err != nil {
			return err
		}
	}
	if err := r.RegisterValidation("file-exists", Name, "a file or folder exists", steps.ValidationFunc(fileExists)); err != nil {
		return err
	}
	return r.RegisterValidation("file-contains", Name, "file content equals, contains or matches a value", steps.ValidationFunc(fileContains))
}

func leaseSession(ctx context.Context, sc steps.Context) (*session, error) {
	raw, err := sc.Session(ctx, Name)
	if err != nil {
		return nil, err
	}
	s, ok := raw.(*session)
	if !ok {
		return nil, autoflowerrors.NewPluginError(Name, fmt.Errorf("unexpected session type %T", raw))
	}
	return s, nil
}

// resolvePath leases the session and resolves the named path parameter.
func resolvePath(ctx context.Context, sc steps.Context, inv steps.Invocation, key string) (*session, string, error) {
	raw, err := inv.Params.RequireString(key)
	if err != nil {
		return nil, "", err
	}
	s, err := leaseSession(ctx, sc)
	if err != nil {
		return nil, "", err
	}
	path := s.path(raw)
	s.touch(path)
	return s, path, nil
}

func writeFile(ctx context.Context, sc steps.Context, inv steps.Invocation) error {
	_, path, err := resolvePath(ctx, sc, inv, "path")
	if err != nil {
		return err
	}
	content := inv.Params.String("content", "")
	mode, err := parseMode(inv.Params, "mode", defaultMode)
	if err != nil {
		return err
	}
	appendContent, err := inv.Params.Bool("append", false)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return steps.NewTypedError(ErrorType, "create folder of %s: %v", path, err)
	}
	if appendContent {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, mode)
		if err != nil {
			return steps.NewTypedError(ErrorType, "open %s: %v", path, err)
		}
		if _, err := f.WriteString(content); err != nil {
			_ = f.Close()
			return steps.NewTypedError(ErrorType, "append to %s: %v", path, err)
		}
		if err := f.Close(); err != nil {
			return steps.NewTypedError(ErrorType, "close %s: %v", path, err)
		}
	} else if err := writeAtomic(path, []byte(content), mode); err != nil {
		return steps.NewTypedError(ErrorType, "write %s: %v", path, err)
	}

	sc.Log().Info(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
	return nil
}

// writeAtomic replaces path through a temporary file in the same folder.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func readFile(ctx context.Context, sc steps.Context, inv steps.Invocation) error {
	_, path, err := resolvePath(ctx, sc, inv, "path")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return steps.NewTypedError(ErrorType, "read %s: %v", path, err)
	}
	sc.SetAttribute(inv.Params.String("attribute", "file"), string(data))
	return nil
}

func copyFile(ctx context.Context, sc steps.Context, inv steps.Invocation) error {
	s, src, err := resolvePath(ctx, sc, inv, "source")
	if err != nil {
		return err
	}
	rawDst, err := inv.Params.RequireString("destination")
	if err != nil {
		return err
	}
	dst := s.path(rawDst)
	s.touch(dst)

	overwrite, err := inv.Params.Bool("overwrite", true)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return steps.NewTypedError(ErrorType, "destination %s exists", dst)
		}
	}

	info, err := os.Stat(src)
	if err != nil {
		return steps.NewTypedError(ErrorType, "stat %s: %v", src, err)
	}
	if info.IsDir() {
		return steps.NewTypedError(ErrorType, "source %s is a folder", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return steps.NewTypedError(ErrorType, "open %s: %v", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return steps.NewTypedError(ErrorType, "create folder of %s: %v", dst, err)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return steps.NewTypedError(ErrorType, "read %s: %v", src, err)
	}
	if err := writeAtomic(dst, data, info.Mode().Perm()); err != nil {
		return steps.NewTypedError(ErrorType, "write %s: %v", dst, err)
	}

	sc.Log().Info(fmt.Sprintf("copied %s to %s", src, dst))
	return nil
}

func removeFile(ctx context.Context, sc steps.Context, inv steps.Invocation) error {
	_, path, err := resolvePath(ctx, sc, inv, "path")
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return steps.NewTypedError(ErrorType, "remove %s: %v", path, err)
	}
	sc.Log().Info("removed " + path)
	return nil
}

func fileExists(ctx context.Context, sc steps.Context, inv steps.Invocation) (bool, error) {
	_, path, err := resolvePath(ctx, sc, inv, "path")
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			sc.Log().Warn(path + " does not exist")
			return false, nil
		}
		return false, steps.NewTypedError(ErrorType, "stat %s: %v", path, err)
	}
	return true, nil
}

// fileContains checks exactly one of equals, contains or matches against
// the file content.
func fileContains(ctx context.Context, sc steps.Context, inv steps.Invocation) (bool, error) {
	_, path, err := resolvePath(ctx, sc, inv, "path")
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			sc.Log().Warn(path + " does not exist")
			return false, nil
		}
		return false, steps.NewTypedError(ErrorType, "read %s: %v", path, err)
	}
	content := string(data)

	switch {
	case inv.Params.Has("equals"):
		want := inv.Params.String("equals", "")
		if content != want {
			sc.Log().Warn(fmt.Sprintf("content of %s differs:\n%s", path, diff.Lines(want, content, 0)))
			return false, nil
		}
	case inv.Params.Has("contains"):
		want := inv.Params.String("contains", "")
		if !strings.Contains(content, want) {
			sc.Log().Warn(fmt.Sprintf("%s does not contain %q", path, want))
			return false, nil
		}
	case inv.Params.Has("matches"):
		pattern := inv.Params.String("matches", "")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("parameter \"matches\": %w", err)
		}
		if !re.MatchString(content) {
			sc.Log().Warn(fmt.Sprintf("%s does not match %s", path, pattern))
			return false, nil
		}
	default:
		return false, fmt.Errorf("one of the parameters \"equals\", \"contains\" or \"matches\" is required")
	}
	return true, nil
}

// parseMode accepts octal strings ("0600") and integers decoded from YAML.
func parseMode(params steps.Params, key string, def os.FileMode) (os.FileMode, error) {
	v, ok := params.Value(key)
	if !ok || v == nil {
		return def, nil
	}
	switch m := v.(type) {
	case int:
		return os.FileMode(m).Perm(), nil
	case float64:
		return os.FileMode(int(m)).Perm(), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimPrefix(m, "0o"), 8, 32)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: invalid file mode %q", key, m)
		}
		return os.FileMode(parsed).Perm(), nil
	}
	return 0, fmt.Errorf("parameter %q: invalid file mode %v", key, v)
}
