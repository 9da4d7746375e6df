package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/autoflow/internal/logger"
)

type fakeArgs struct {
	BaseURL string        `yaml:"base-url" validate:"required"`
	Timeout time.Duration `yaml:"timeout"`
}

type fakeSession struct {
	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakePlugin struct {
	Base
	meta       Metadata
	args       *fakeArgs
	initOrder  *[]string
	initErr    error
	handled    []ErrorDetails
	handlerErr bool
	closed     bool
}

func newFakePlugin(name string, deps ...Dependency) *fakePlugin {
	return &fakePlugin{meta: Metadata{Name: name, Version: "1.2.0", APIVersion: "1.x", Dependencies: deps}}
}

func (p *fakePlugin) Metadata() Metadata { return p.meta }

func (p *fakePlugin) ArgumentType() any {
	if p.args == nil {
		return nil
	}
	return p.args
}

func (p *fakePlugin) Initialize(context.Context, InitContext) error {
	if p.initOrder != nil {
		*p.initOrder = append(*p.initOrder, p.meta.Name)
	}
	return p.initErr
}

func (p *fakePlugin) NewSession(context.Context) (Session, error) {
	return &fakeSession{}, nil
}

func (p *fakePlugin) HandleError(_ context.Context, details ErrorDetails) {
	p.handled = append(p.handled, details)
	if p.handlerErr {
		panic("handler exploded")
	}
}

func (p *fakePlugin) Close() error {
	p.closed = true
	return nil
}

func strictConfig() *Config {
	cfg := DefaultConfig()
	cfg.DependencyPolicy = PolicyStrict
	return cfg
}

func TestRegisterRejectsDuplicatesAndBadMetadata(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.Nop())
	require.NoError(t, reg.Register(newFakePlugin("rest")))
	require.Error(t, reg.Register(newFakePlugin("rest")))

	bad := newFakePlugin("ui")
	bad.meta.Version = "v1"
	require.Error(t, reg.Register(bad))
	require.Error(t, reg.Register(nil))

	_, err := reg.Get("ui")
	var notFound ErrPluginNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestInitializeRunsDependenciesFirst(t *testing.T) {
	t.Parallel()

	var order []string
	reg := NewRegistry(logger.Nop())

	rest := newFakePlugin("rest", Dependency{Name: "auth", Version: "1.x"})
	auth := newFakePlugin("auth")
	unused := newFakePlugin("ui")
	for _, p := range []*fakePlugin{rest, auth, unused} {
		p.initOrder = &order
		require.NoError(t, reg.Register(p))
	}

	require.NoError(t, reg.Initialize(context.Background(), []string{"rest"}, strictConfig()))
	require.Equal(t, []string{"auth", "rest"}, order)
	require.Equal(t, []string{"auth", "rest"}, reg.Initialized())

	_, err := reg.Acquire(context.Background(), "ui")
	var notInit ErrPluginNotInitialized
	require.ErrorAs(t, err, &notInit)
}

func TestInitializeStrictPolicyFailsOnMissingDependency(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.Nop())
	require.NoError(t, reg.Register(newFakePlugin("rest", Dependency{Name: "auth"})))

	err := reg.Initialize(context.Background(), []string{"rest"}, strictConfig())
	var missing ErrMissingDependency
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "auth", missing.Dependency)
}

func TestInitializeGracefulPolicySkipsConflictingPlugin(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.Nop())
	require.NoError(t, reg.Register(newFakePlugin("auth")))
	require.NoError(t, reg.Register(newFakePlugin("rest", Dependency{Name: "auth", Version: "2.x"})))
	require.NoError(t, reg.Register(newFakePlugin("git")))

	cfg := DefaultConfig()
	cfg.DependencyPolicy = PolicyGraceful
	require.NoError(t, reg.Initialize(context.Background(), []string{"rest", "git"}, cfg))
	require.Equal(t, []string{"git"}, reg.Initialized())
}

func TestInitializeBindsAndValidatesArguments(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.Nop())
	rest := newFakePlugin("rest")
	rest.args = &fakeArgs{}
	require.NoError(t, reg.Register(rest))

	cfg := strictConfig()
	err := reg.Initialize(context.Background(), []string{"rest"}, cfg)
	var invalid ErrInvalidArguments
	require.ErrorAs(t, err, &invalid)
	require.Contains(t, err.Error(), "base-url")

	cfg.Args["rest"] = map[string]any{"base-url": "http://localhost:8080", "timeout": "5s"}
	require.NoError(t, reg.Initialize(context.Background(), []string{"rest"}, cfg))
	require.Equal(t, "http://localhost:8080", rest.args.BaseURL)
	require.Equal(t, 5*time.Second, rest.args.Timeout)
}

func TestInitializeWrapsPluginFailure(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.Nop())
	ui := newFakePlugin("ui")
	ui.initErr = errors.New("no display")
	require.NoError(t, reg.Register(ui))

	err := reg.Initialize(context.Background(), []string{"ui"}, strictConfig())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no display")
}

func TestAcquireRespectsConfiguredPoolSize(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.Nop())
	require.NoError(t, reg.Register(newFakePlugin("ui")))

	cfg := strictConfig()
	cfg.MaxSessions["ui"] = 1
	require.NoError(t, reg.Initialize(context.Background(), []string{"ui"}, cfg))

	lease, err := reg.Acquire(context.Background(), "ui")
	require.NoError(t, err)
	require.Equal(t, "ui", lease.ParentPlugin())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = reg.Acquire(ctx, "ui")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, lease.Release())
	require.NoError(t, lease.Release())

	again, err := reg.Acquire(context.Background(), "ui")
	require.NoError(t, err)
	require.Same(t, lease.Session(), again.Session())

	stats, ok := reg.PoolStats("ui")
	require.True(t, ok)
	require.Equal(t, 1, stats.Created)
	require.Equal(t, 1, stats.Max)
}

func TestHandleErrorSwallowsHandlerPanics(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.Nop())
	noisy := newFakePlugin("noisy")
	noisy.handlerErr = true
	quiet := newFakePlugin("quiet")
	require.NoError(t, reg.Register(noisy))
	require.NoError(t, reg.Register(quiet))
	require.NoError(t, reg.Initialize(context.Background(), []string{"noisy", "quiet"}, strictConfig()))

	held := &fakeSession{}
	details := ErrorDetails{Unit: "tc1", Err: errors.New("boom")}
	require.NotPanics(t, func() {
		reg.HandleError(context.Background(), details, func(name string) Session {
			if name == "quiet" {
				return held
			}
			return nil
		})
	})

	require.Len(t, noisy.handled, 1)
	require.Len(t, quiet.handled, 1)
	require.Same(t, held, quiet.handled[0].Session)
	require.Nil(t, noisy.handled[0].Session)
}

func TestShutdownClosesPoolsAndPlugins(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.Nop())
	ui := newFakePlugin("ui")
	require.NoError(t, reg.Register(ui))
	require.NoError(t, reg.Initialize(context.Background(), []string{"ui"}, strictConfig()))

	lease, err := reg.Acquire(context.Background(), "ui")
	require.NoError(t, err)

	require.NoError(t, reg.Shutdown())
	require.True(t, ui.closed)
	require.True(t, lease.Session().(*fakeSession).closed)
	require.Empty(t, reg.Initialized())
}

func TestListAndArgumentTypes(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(logger.Nop())
	rest := newFakePlugin("rest")
	rest.args = &fakeArgs{}
	require.NoError(t, reg.Register(rest))
	require.NoError(t, reg.Register(newFakePlugin("git")))

	list := reg.List()
	require.Len(t, list, 2)
	require.Equal(t, "git", list[0].Name)

	types := reg.ArgumentTypes()
	require.Contains(t, types, "rest")
	require.NotContains(t, types, "git")
}
