package execctx

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
)

var (
	// ErrNoActiveFunction is returned by parameter lookups outside any function frame.
	ErrNoActiveFunction = errors.New("no active function: parameters are only available inside a function call")
	// ErrParameterNotFound is returned when the innermost frame lacks the parameter.
	ErrParameterNotFound = errors.New("parameter not found")
)

// SessionSource leases plugin sessions.
type SessionSource interface {
	Acquire(ctx context.Context, plugin string) (*plugin.Lease, error)
}

// ThreadStack is the context stack of one worker. It is confined to that
// worker; only the Manager touches it from elsewhere.
type ThreadStack struct {
	worker   WorkerID
	manager  *Manager
	contexts []*ExecutionContext
	frames   []map[string]any
	sessions map[string]*plugin.Lease
	leased   []string
}

// Worker returns the owning worker id.
func (s *ThreadStack) Worker() WorkerID {
	return s.worker
}

// Current returns the top context or nil when the stack is empty.
func (s *ThreadStack) Current() *ExecutionContext {
	if len(s.contexts) == 0 {
		return nil
	}
	return s.contexts[len(s.contexts)-1]
}

// Len reports the number of contexts on the stack.
func (s *ThreadStack) Len() int {
	return len(s.contexts)
}

// Attribute reads from the top context.
func (s *ThreadStack) Attribute(key string) (any, bool) {
	current := s.Current()
	if current == nil {
		return nil, false
	}
	return current.Attribute(key)
}

// SetAttribute writes to the top context.
func (s *ThreadStack) SetAttribute(key string, value any) {
	current := s.Current()
	if current == nil {
		panic(fmt.Sprintf("execctx: worker %s set attribute %q with an empty stack", s.worker, key))
	}
	current.SetAttribute(key, value)
}

// PushParameters opens a function-call frame. Call depth grows by one.
func (s *ThreadStack) PushParameters(params map[string]any) {
	frame := make(map[string]any, len(params))
	for k, v := range params {
		frame[k] = v
	}
	s.frames = append(s.frames, frame)
}

// PopParameters closes the innermost function-call frame.
func (s *ThreadStack) PopParameters() error {
	if len(s.frames) == 0 {
		return ErrNoActiveFunction
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

// Parameter resolves name in the innermost frame only.
func (s *ThreadStack) Parameter(name string) (any, error) {
	if len(s.frames) == 0 {
		return nil, ErrNoActiveFunction
	}
	v, ok := s.frames[len(s.frames)-1][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrParameterNotFound, name)
	}
	return v, nil
}

// Parameters returns a copy of the innermost frame.
func (s *ThreadStack) Parameters() (map[string]any, error) {
	if len(s.frames) == 0 {
		return nil, ErrNoActiveFunction
	}
	frame := s.frames[len(s.frames)-1]
	out := make(map[string]any, len(frame))
	for k, v := range frame {
		out[k] = v
	}
	return out, nil
}

// Depth is the number of active function-call frames.
func (s *ThreadStack) Depth() int {
	return len(s.frames)
}

// Session returns this worker's session of the plugin, leasing one on first
// use. The lease lives until the stack empties.
func (s *ThreadStack) Session(ctx context.Context, pluginName string) (plugin.Session, error) {
	if lease, ok := s.sessions[pluginName]; ok {
		return lease.Session(), nil
	}
	if s.manager.sessions == nil {
		return nil, plugin.ErrPluginNotFound{Name: pluginName}
	}

	lease, err := s.manager.sessions.Acquire(ctx, pluginName)
	if err != nil {
		return nil, err
	}
	s.sessions[pluginName] = lease
	s.leased = append(s.leased, pluginName)
	return lease.Session(), nil
}

// HeldSession returns the cached session of the plugin without leasing one.
func (s *ThreadStack) HeldSession(pluginName string) plugin.Session {
	if lease, ok := s.sessions[pluginName]; ok {
		return lease.Session()
	}
	return nil
}

func (s *ThreadStack) releaseSessions() error {
	var errs []error
	for i := len(s.leased) - 1; i >= 0; i-- {
		name := s.leased[i]
		if err := s.sessions[name].Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s session: %w", name, err))
		}
	}
	s.sessions = make(map[string]*plugin.Lease)
	s.leased = nil
	return errors.Join(errs...)
}
