package conduit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of one connection. Only in StateOpen may
// client messages or events be dispatched; arrivals during other states are
// dropped with a log entry.
type State int32

const (
	// StateConnecting is the initial state after socket accept.
	StateConnecting State = iota
	// StateAuthenticating means the pre-dispatch auth gate is running.
	StateAuthenticating
	// StateOpen means the connection dispatches messages and events.
	StateOpen
	// StateClosing means teardown has begun; an in-flight handler may still
	// run to completion.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OutFunc writes one wire frame to the underlying socket.
type OutFunc func(data []byte) error

type inboxSource int

const (
	sourceClient inboxSource = iota
	sourceTransport
)

type inboxItem struct {
	source inboxSource
	data   []byte
}

// inboxSize bounds the per-connection work queue. A full queue applies
// backpressure to the socket read loop and the transport delivery callback.
const inboxSize = 256

// Conn is one live connection. It is created by Dispatcher.NewConn on socket
// accept and destroyed on close. All message and event processing for the
// connection runs on a single task, so handlers observe strict arrival
// order: the handler for message n returns before message n+1 is dispatched.
//
// The group-membership set is mutated only by that task (join/leave calls
// originate from handler code), so it needs no lock.
type Conn struct {
	id  string
	d   *Dispatcher
	out OutFunc

	state    atomic.Int32
	identity atomic.Pointer[Identity]

	groups map[string]struct{}

	inbox     chan inboxItem
	quit      chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	started   atomic.Bool
	closeOnce sync.Once

	lastActivity atomic.Int64

	// broadcasts counts group sends within the current unit of work; it
	// drives the group_complete signal. Task-owned.
	broadcasts int

	detach func() error
}

// ID returns the connection-local id, used as the unicast address for the
// transport.
func (c *Conn) ID() string { return c.id }

// Identity returns the authenticated identity, or nil before authentication
// succeeds or for anonymous connections.
func (c *Conn) Identity() *Identity { return c.identity.Load() }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Groups returns the connection's current group memberships. Call it only
// from handler code running on the connection task.
func (c *Conn) Groups() []string {
	out := make([]string, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	return out
}

// LastActivity returns the time the connection last dispatched work.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// BeginAuth transitions Connecting -> Authenticating. The adapter calls it
// before running its auth gate.
func (c *Conn) BeginAuth() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticating))
}

// Reject records an authentication failure: the connection transitions
// directly to Closing with the given reason and is then closed. The adapter
// is responsible for any close frame on the socket itself.
func (c *Conn) Reject(reason string) {
	if c.state.CompareAndSwap(int32(StateAuthenticating), int32(StateClosing)) {
		c.d.rejected(c, reason)
	}
	_ = c.Close()
}

// Open completes the handshake: the identity (nil for anonymous) is pinned,
// the transport inbox is attached, and the connection task starts. The
// provided context is the parent of every handler invocation on this
// connection.
func (c *Conn) Open(ctx context.Context, identity *Identity) error {
	if !c.state.CompareAndSwap(int32(StateAuthenticating), int32(StateOpen)) &&
		!c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return fmt.Errorf("open connection %s: bad state %s", c.id, c.State())
	}
	if identity != nil {
		c.identity.Store(identity)
	}

	detach, err := c.d.transport.Attach(c.id, c.deliver)
	if err != nil {
		c.state.Store(int32(StateClosing))
		return &TransportError{Op: "attach", Err: err}
	}
	c.detach = detach

	taskCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started.Store(true)
	c.touch()
	go c.run(taskCtx)
	return nil
}

// Close tears the connection down: the task is cancelled, the transport
// inbox detached, and group memberships released. An in-flight handler is
// allowed to run to completion or observe the cancellation at its next
// suspension point; Close waits for the task to finish. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.quit)
		if c.cancel != nil {
			c.cancel()
		}
		if c.started.Load() {
			<-c.done
		}
		ctx := context.Background()
		for g := range c.groups {
			if lerr := c.d.transport.LeaveGroup(ctx, g, c.id); lerr != nil && err == nil {
				err = &TransportError{Op: "leave_group", Err: lerr}
			}
			delete(c.groups, g)
		}
		if c.detach != nil {
			if derr := c.detach(); derr != nil && err == nil {
				err = &TransportError{Op: "detach", Err: derr}
			}
		}
		c.state.Store(int32(StateClosed))
	})
	return err
}

// Receive feeds one raw client frame into the connection's work queue. The
// socket read loop calls it; processing happens on the connection task in
// arrival order. Frames arriving outside StateOpen are dropped.
func (c *Conn) Receive(data []byte) {
	if c.State() != StateOpen {
		c.d.dropped(c)
		return
	}
	select {
	case c.inbox <- inboxItem{source: sourceClient, data: data}:
	case <-c.quit:
	}
}

// deliver is the transport inbox for this connection.
func (c *Conn) deliver(data []byte) error {
	if c.State() != StateOpen {
		c.d.dropped(c)
		return nil
	}
	select {
	case c.inbox <- inboxItem{source: sourceTransport, data: data}:
		return nil
	case <-c.quit:
		return ErrConnClosed
	}
}

// run is the connection task: one goroutine consuming the merged work queue
// sequentially, which gives the per-connection ordering guarantee for both
// client messages and transport deliveries.
func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case item := <-c.inbox:
			c.touch()
			switch item.source {
			case sourceClient:
				_ = c.d.Dispatch(ctx, c, item.data)
			case sourceTransport:
				c.handleDelivery(ctx, item.data)
			}
		}
	}
}

// handleDelivery interprets one transport envelope: pre-framed unicast
// payloads are written through, group payloads are enriched with the
// per-recipient relevance flags, events are routed through the event union.
func (c *Conn) handleDelivery(ctx context.Context, data []byte) {
	env, err := parseEnvelope(data)
	if err != nil {
		c.d.routingError(ctx, c, &RoutingError{Err: err})
		return
	}

	switch env.Kind {
	case kindMessage:
		if err := c.send(env.Body); err != nil {
			c.d.routingError(ctx, c, &RoutingError{Err: err})
		}
	case kindGroup:
		if env.ExcludeOrigin && env.Origin == c.id {
			return
		}
		frame, err := enrich(env.Body, c.Identity().Equal(env.OriginIdentity), env.Origin == c.id)
		if err != nil {
			c.d.routingError(ctx, c, &RoutingError{Err: err})
			return
		}
		if err := c.send(frame); err != nil {
			c.d.routingError(ctx, c, &RoutingError{Err: err})
		}
	case kindEvent:
		c.d.routeEvent(ctx, c, env, ModeUnicast)
	case kindGroupEvent:
		c.d.routeEvent(ctx, c, env, ModeGroup)
	default:
		c.d.routingError(ctx, c, &RoutingError{Err: fmt.Errorf("unknown envelope kind %q", env.Kind)})
	}
}

func (c *Conn) send(frame []byte) error {
	return c.out(frame)
}

// JoinGroup adds the connection to a named group via the transport. Call it
// from handler code or from the adapter right after Open.
func (c *Conn) JoinGroup(ctx context.Context, group string) error {
	if err := c.d.transport.JoinGroup(ctx, group, c.id); err != nil {
		return &TransportError{Op: "join_group", Err: err}
	}
	c.groups[group] = struct{}{}
	return nil
}

// LeaveGroup removes the connection from a named group.
func (c *Conn) LeaveGroup(ctx context.Context, group string) error {
	if err := c.d.transport.LeaveGroup(ctx, group, c.id); err != nil {
		return &TransportError{Op: "leave_group", Err: err}
	}
	delete(c.groups, group)
	return nil
}
