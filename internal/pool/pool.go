// Package pool provides a bounded pool of reusable resources with blocking
// acquisition.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxSessions is used when a plugin does not configure a limit.
const DefaultMaxSessions = 10

var (
	// ErrClosed is returned by Acquire once Shutdown has been called.
	ErrClosed = errors.New("pool is shut down")
	// ErrNotLeased is returned when releasing a resource the pool did not hand out.
	ErrNotLeased = errors.New("resource is not leased from this pool")
)

// Resource is anything the pool can hand out and eventually close.
type Resource interface {
	comparable
	Close() error
}

// Factory creates a new resource when no idle one is available.
type Factory[T Resource] func(ctx context.Context) (T, error)

// Stats is a point-in-time view of the pool.
type Stats struct {
	Max     int
	Created int
	Idle    int
	Leased  int
}

// Pool leases at most Max resources at a time. Resources are created lazily and
// returned to an idle set on release.
type Pool[T Resource] struct {
	name    string
	max     int
	factory Factory[T]

	// slots holds one token per leased or in-creation resource.
	slots chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	created int
	idle    []T
	leased  map[T]struct{}
}

// New builds a pool. maxSessions must be at least 1.
func New[T Resource](name string, maxSessions int, factory Factory[T]) (*Pool[T], error) {
	if maxSessions < 1 {
		return nil, fmt.Errorf("pool %q: max sessions must be at least 1, got %d", name, maxSessions)
	}
	if factory == nil {
		return nil, fmt.Errorf("pool %q: factory is required", name)
	}

	return &Pool[T]{
		name:    name,
		max:     maxSessions,
		factory: factory,
		slots:   make(chan struct{}, maxSessions),
		done:    make(chan struct{}),
		leased:  make(map[T]struct{}),
	}, nil
}

// Name returns the pool name.
func (p *Pool[T]) Name() string {
	return p.name
}

// Acquire returns an idle resource or creates one. When Max resources are
// leased it blocks until a Release, Shutdown or ctx cancellation.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	select {
	case <-p.done:
		return zero, ErrClosed
	default:
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.done:
		return zero, ErrClosed
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return zero, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		res := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.leased[res] = struct{}{}
		p.mu.Unlock()
		return res, nil
	}
	p.mu.Unlock()

	res, err := p.factory(ctx)
	if err != nil {
		<-p.slots
		return zero, fmt.Errorf("pool %q: create resource: %w", p.name, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = res.Close()
		<-p.slots
		return zero, ErrClosed
	}
	p.created++
	p.leased[res] = struct{}{}
	p.mu.Unlock()

	return res, nil
}

// Release returns a leased resource to the idle set. It never closes it.
// Releasing after Shutdown is a no-op.
func (p *Pool[T]) Release(res T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if _, ok := p.leased[res]; !ok {
		return ErrNotLeased
	}

	delete(p.leased, res)
	p.idle = append(p.idle, res)
	<-p.slots
	return nil
}

// Shutdown closes every idle and leased resource and fails blocked and future
// acquirers with ErrClosed.
func (p *Pool[T]) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)

	all := make([]T, 0, len(p.idle)+len(p.leased))
	all = append(all, p.idle...)
	for res := range p.leased {
		all = append(all, res)
	}
	p.idle = nil
	p.leased = make(map[T]struct{})
	p.mu.Unlock()

	var errs []error
	for _, res := range all {
		if err := res.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pool %q: shutdown: %w", p.name, errors.Join(errs...))
	}
	return nil
}

// Stats reports the current counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Max:     p.max,
		Created: p.created,
		Idle:    len(p.idle),
		Leased:  len(p.leased),
	}
}
