package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/autoflow/internal/graph"
	"github.com/alexisbeaulieu97/autoflow/internal/logger"
	"github.com/alexisbeaulieu97/autoflow/internal/pool"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

// Registry maps plugin names to plugins, their argument schemas and their
// session pools.
type Registry struct {
	mu          sync.RWMutex
	plugins     map[string]Plugin
	metadata    map[string]Metadata
	graph       *graph.Graph
	pools       map[string]*pool.Pool[Session]
	initialized []string
	logger      *logger.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		plugins:  make(map[string]Plugin),
		metadata: make(map[string]Metadata),
		graph:    graph.New(),
		pools:    make(map[string]*pool.Pool[Session]),
		logger:   log,
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}

	meta := p.Metadata()
	if err := meta.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[meta.Name]; exists {
		return fmt.Errorf("plugin '%s' already registered", meta.Name)
	}

	r.plugins[meta.Name] = p
	r.metadata[meta.Name] = meta
	r.graph.AddNode(meta.Name)
	for _, dep := range meta.Dependencies {
		r.graph.AddEdge(meta.Name, dep.Name)
	}
	return nil
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, ErrPluginNotFound{Name: name}
	}
	return p, nil
}

// List returns metadata of every registered plugin sorted by name.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Metadata, 0, len(r.metadata))
	for _, meta := range r.metadata {
		list = append(list, meta)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// ArgumentTypes returns the argument schema of every plugin that declares one.
func (r *Registry) ArgumentTypes() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make(map[string]any)
	for name, p := range r.plugins {
		if arg := p.ArgumentType(); arg != nil {
			types[name] = arg
		}
	}
	return types
}

// Initialize prepares the named plugins and everything they depend on, in
// dependency order, and creates one session pool per plugin.
func (r *Registry) Initialize(ctx context.Context, required []string, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	order, err := r.resolve(required, cfg.DependencyPolicy)
	if err != nil {
		return err
	}

	for _, name := range order {
		if err := r.initializePlugin(ctx, name, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) resolve(required []string, policy DependencyPolicy) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	needed := make(map[string]bool)
	skipped := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		if needed[name] || skipped[name] {
			return nil
		}
		if _, ok := r.plugins[name]; !ok {
			return ErrPluginNotFound{Name: name}
		}
		needed[name] = true

		meta := r.metadata[name]
		for _, dep := range meta.Dependencies {
			depMeta, ok := r.metadata[dep.Name]
			var problem error
			switch {
			case !ok:
				problem = ErrMissingDependency{Plugin: name, Dependency: dep.Name}
			case !dep.Satisfies(depMeta.Version):
				problem = ErrVersionConflict{
					Plugin:        dep.Name,
					ActualVersion: depMeta.Version,
					RequiredBy:    map[string]string{name: dep.Version},
				}
			}
			if problem != nil {
				if policy == PolicyStrict {
					return problem
				}
				r.logger.Warn(problem.Error())
				needed[name] = false
				skipped[name] = true
				return nil
			}
			if err := visit(dep.Name); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range required {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	all, err := r.graph.Order()
	if err != nil {
		return nil, autoflowerrors.NewPluginError("", err)
	}

	order := make([]string, 0, len(needed))
	for _, name := range all {
		if needed[name] && !r.dependsOnSkipped(name, skipped) {
			order = append(order, name)
		}
	}
	return order, nil
}

func (r *Registry) dependsOnSkipped(name string, skipped map[string]bool) bool {
	for _, dep := range r.graph.Dependencies(name) {
		if skipped[dep] || r.dependsOnSkipped(dep, skipped) {
			return true
		}
	}
	return false
}

func (r *Registry) initializePlugin(ctx context.Context, name string, cfg *Config) error {
	r.mu.RLock()
	p := r.plugins[name]
	_, done := r.pools[name]
	r.mu.RUnlock()
	if done {
		return nil
	}

	args := p.ArgumentType()
	if args != nil {
		if err := BindArguments(args, cfg.Args[name]); err != nil {
			return ErrInvalidArguments{Plugin: name, Err: err}
		}
	} else if len(cfg.Args[name]) > 0 {
		r.logger.Warn(fmt.Sprintf("plugin '%s' takes no arguments; ignoring %d supplied value(s)", name, len(cfg.Args[name])))
	}

	initCtx := InitContext{
		Args:      args,
		Registry:  r,
		Logger:    r.logger.WithField("plugin", name),
		ReportDir: cfg.ReportDir,
	}
	if err := p.Initialize(ctx, initCtx); err != nil {
		return autoflowerrors.NewPluginError(name, fmt.Errorf("initialize: %w", err))
	}

	sessions, err := pool.New(name, cfg.maxSessionsFor(name), pool.Factory[Session](p.NewSession))
	if err != nil {
		return autoflowerrors.NewPluginError(name, err)
	}

	r.mu.Lock()
	r.pools[name] = sessions
	r.initialized = append(r.initialized, name)
	r.mu.Unlock()

	r.logger.WithFields(map[string]any{"plugin": name, "maxSessions": cfg.maxSessionsFor(name)}).Debug("plugin initialized")
	return nil
}

// Initialized lists initialized plugins in initialization order.
func (r *Registry) Initialized() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.initialized...)
}

// Acquire leases a session of the named plugin, blocking while its pool is saturated.
func (r *Registry) Acquire(ctx context.Context, name string) (*Lease, error) {
	r.mu.RLock()
	sessions, ok := r.pools[name]
	_, registered := r.plugins[name]
	r.mu.RUnlock()

	if !ok {
		if !registered {
			return nil, ErrPluginNotFound{Name: name}
		}
		return nil, ErrPluginNotInitialized{Name: name}
	}

	session, err := sessions.Acquire(ctx)
	if err != nil {
		return nil, autoflowerrors.NewPluginError(name, err)
	}
	return &Lease{plugin: name, session: session, pool: sessions}, nil
}

// PoolStats reports the pool counters of an initialized plugin.
func (r *Registry) PoolStats(name string) (pool.Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions, ok := r.pools[name]
	if !ok {
		return pool.Stats{}, false
	}
	return sessions.Stats(), true
}

// HandleError runs the error handler of every initialized plugin. sessionFor
// may supply the session the failing worker holds for a plugin. Handler
// failures and panics are logged and swallowed.
func (r *Registry) HandleError(ctx context.Context, details ErrorDetails, sessionFor func(plugin string) Session) {
	for _, name := range r.Initialized() {
		p, err := r.Get(name)
		if err != nil {
			continue
		}

		pluginDetails := details
		if sessionFor != nil {
			pluginDetails.Session = sessionFor(name)
		}
		r.runHandler(ctx, name, p, pluginDetails)
	}
}

func (r *Registry) runHandler(ctx context.Context, name string, p Plugin, details ErrorDetails) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error(fmt.Errorf("%v", recovered), fmt.Sprintf("error handler of plugin '%s' panicked", name))
		}
	}()
	p.HandleError(ctx, details)
}

// Shutdown closes every pool and then every initialized plugin in reverse
// initialization order.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	names := append([]string(nil), r.initialized...)
	pools := r.pools
	r.pools = make(map[string]*pool.Pool[Session])
	r.initialized = nil
	r.mu.Unlock()

	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if sessions, ok := pools[name]; ok {
			if err := sessions.Shutdown(); err != nil {
				errs = append(errs, err)
			}
		}
		p, err := r.Get(name)
		if err != nil {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, autoflowerrors.NewPluginError(name, fmt.Errorf("close: %w", err)))
		}
	}
	return errors.Join(errs...)
}
