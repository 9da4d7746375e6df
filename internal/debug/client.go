package debug

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

// Event is a server announcement received by a Client. Exactly one field is set.
type Event struct {
	Paused   *ExecutionPaused
	Released *ExecutionReleased
}

// Client is a connection to a run's debug server.
type Client struct {
	conn   net.Conn
	enc    *Encoder
	events chan Event

	mu        sync.Mutex
	paused    map[string]ExecutionPaused
	err       error
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
}

// Dial connects to the debug server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, autoflowerrors.NewProtocolError("dial", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		enc:     NewEncoder(conn),
		events:  make(chan Event, 64),
		paused:  make(map[string]ExecutionPaused),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Init replaces the server's breakpoint set. The first Init lets the run start.
func (c *Client) Init(points []Point) error {
	if points == nil {
		points = []Point{}
	}
	return c.enc.Encode(DebuggerInit{Points: points})
}

// Send applies op to a paused execution.
func (c *Client) Send(executionID string, op Op) error {
	if !op.Valid() {
		return fmt.Errorf("unsupported debug operation %q", op)
	}
	return c.enc.Encode(DebugOp{ExecutionID: executionID, Op: op})
}

// Events delivers announcements in arrival order. It is closed when the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Paused lists the executions the server reported as paused and not yet
// released, ordered by location.
func (c *Client) Paused() []ExecutionPaused {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExecutionPaused, 0, len(c.paused))
	for _, p := range c.paused {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].ExecutionID < out[j].ExecutionID
	})
	return out
}

// Err reports why the connection ended, nil for a clean close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	err := c.conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	dec := NewDecoder(c.conn)
	for {
		msg, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}

		var ev Event
		switch m := msg.(type) {
		case ExecutionPaused:
			c.mu.Lock()
			c.paused[m.ExecutionID] = m
			c.mu.Unlock()
			ev.Paused = &m
		case ExecutionReleased:
			c.mu.Lock()
			delete(c.paused, m.ExecutionID)
			c.mu.Unlock()
			ev.Released = &m
		default:
			continue
		}
		select {
		case c.events <- ev:
		case <-c.closing:
			return
		}
	}
}
