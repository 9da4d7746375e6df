package plugin

import (
	"sync"

	"github.com/alexisbeaulieu97/autoflow/internal/pool"
)

// Lease is a session borrowed from a plugin's pool.
type Lease struct {
	plugin  string
	session Session
	pool    *pool.Pool[Session]
	once    sync.Once
	err     error
}

// ParentPlugin names the plugin that owns the session.
func (l *Lease) ParentPlugin() string {
	return l.plugin
}

// Session returns the leased session.
func (l *Lease) Session() Session {
	return l.session
}

// Release hands the session back to its pool. Subsequent calls are no-ops.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.pool.Release(l.session)
	})
	return l.err
}
