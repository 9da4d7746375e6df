// Package gitplugin exposes a git working copy to test steps through
// go-git. Each session holds its own handle on the repository.
package gitplugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"

	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

// Name is the plugin name steps lease sessions under.
const Name = "git"

// Arguments locate the repository.
type Arguments struct {
	Path string `yaml:"path" validate:"required"`
}

type gitPlugin struct {
	plugin.Base
	path string
}

// New creates a new git plugin.
func New() plugin.Plugin {
	return &gitPlugin{}
}

var (
	_ plugin.Plugin  = (*gitPlugin)(nil)
	_ steps.Provider = (*gitPlugin)(nil)
)

func (p *gitPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		APIVersion:  "1.x",
		Description: "Reads HEAD and worktree state of a git repository.",
	}
}

func (p *gitPlugin) ArgumentType() any {
	return &Arguments{}
}

func (p *gitPlugin) Initialize(_ context.Context, init plugin.InitContext) error {
	args, ok := init.Args.(*Arguments)
	if !ok || args == nil {
		return fmt.Errorf("missing arguments")
	}
	path, err := filepath.Abs(args.Path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if _, err := git.PlainOpen(path); err != nil {
		return fmt.Errorf("open repository %s: %w", path, err)
	}
	p.path = path
	return nil
}

type session struct {
	path string
	repo *git.Repository
}

func (s *session) Close() error { return nil }

func (p *gitPlugin) NewSession(context.Context) (plugin.Session, error) {
	repo, err := git.PlainOpen(p.path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", p.path, err)
	}
	return &session{path: p.path, repo: repo}, nil
}

// HandleError logs the worktree status of the failing worker's repository.
func (p *gitPlugin) HandleError(_ context.Context, details plugin.ErrorDetails) {
	s, ok := details.Session.(*session)
	if !ok || details.Log == nil {
		return
	}
	changes, err := s.changes()
	if err != nil {
		details.Log.Warn(fmt.Sprintf("git status of %s unavailable: %v", s.path, err))
		return
	}
	if len(changes) == 0 {
		details.Log.Info(fmt.Sprintf("git worktree %s is clean", s.path))
		return
	}
	details.Log.Info(fmt.Sprintf("git worktree %s has %d change(s):\n%s", s.path, len(changes), strings.Join(changes, "\n")))
}

func (p *gitPlugin) RegisterSteps(r *steps.Registry) error {
	if err := r.RegisterStep("git-head", Name, "store the current branch and commit hash", steps.StepFunc(headStep)); err != nil {
		return err
	}
	return r.RegisterValidation("git-clean", Name, "worktree has no uncommitted changes", steps.ValidationFunc(cleanValidation))
}

func lease(ctx context.Context, sc steps.Context) (*session, error) {
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

// headStep stores {branch, hash} under the attribute parameter (default
// "git"). A detached HEAD has an empty branch.
func headStep(ctx context.Context, sc steps.Context, inv steps.Invocation) error {
	s, err := lease(ctx, sc)
	if err != nil {
		return err
	}

	head, err := s.repo.Head()
	if err != nil {
		return steps.NewTypedError("GitError", "read HEAD: %v", err)
	}
	branch := ""
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}

	sc.SetAttribute(inv.Params.String("attribute", "git"), map[string]any{
		"branch": branch,
		"hash":   head.Hash().String(),
	})
	sc.Log().Info(fmt.Sprintf("HEAD is %s (%s)", head.Hash().String(), head.Name()))
	return nil
}

func cleanValidation(ctx context.Context, sc steps.Context, _ steps.Invocation) (bool, error) {
	s, err := lease(ctx, sc)
	if err != nil {
		return false, err
	}
	changes, err := s.changes()
	if err != nil {
		return false, steps.NewTypedError("GitError", "worktree status: %v", err)
	}
	for _, change := range changes {
		sc.Log().Warn("uncommitted: " + change)
	}
	return len(changes) == 0, nil
}

// changes lists "<staging><worktree> <path>" for every changed file.
func (s *session) changes() ([]string, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		if errors.Is(err, git.ErrIsBareRepository) {
			return nil, nil
		}
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, err
	}

	var out []string
	for path, st := range status {
		if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
			continue
		}
		out = append(out, fmt.Sprintf("%c%c %s", st.Staging, st.Worktree, path))
	}
	sort.Strings(out)
	return out, nil
}
