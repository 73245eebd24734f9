// Package natschan implements the conduit channel layer on NATS core
// pub/sub. Each connection address maps to an inbox subject; group
// membership is realized as a subscription on the group's subject, so NATS
// itself owns the global membership index and the cross-process fan-out.
package natschan

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/bjaus/conduit"
)

// DefaultPrefix is the subject prefix when none is configured.
const DefaultPrefix = "conduit"

// Option configures a Transport.
type Option func(*Transport)

// WithPrefix overrides the subject prefix, isolating multiple connection
// classes on one NATS cluster.
func WithPrefix(prefix string) Option {
	return func(t *Transport) {
		t.prefix = prefix
	}
}

// Transport is a NATS-backed channel layer. Delivery semantics are NATS
// core at-most-once: no queuing, retry, or persistence happens here.
type Transport struct {
	nc     *nats.Conn
	prefix string

	mu    sync.Mutex
	conns map[string]*attachment
}

// attachment tracks one local connection's inbox and group subscriptions.
type attachment struct {
	deliver conduit.DeliveryFunc
	inbox   *nats.Subscription
	groups  map[string]*nats.Subscription
}

// New wraps an established NATS connection. The caller owns the connection's
// lifecycle; Close only tears down this transport's subscriptions.
func New(nc *nats.Conn, opts ...Option) *Transport {
	t := &Transport{
		nc:     nc,
		prefix: DefaultPrefix,
		conns:  make(map[string]*attachment),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) connSubject(address string) string {
	return t.prefix + ".conn." + address
}

func (t *Transport) groupSubject(group string) string {
	return t.prefix + ".group." + group
}

// Attach subscribes the connection's inbox subject and routes deliveries to
// its work queue.
func (t *Transport) Attach(address string, deliver conduit.DeliveryFunc) (func() error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.conns[address]; exists {
		return nil, fmt.Errorf("address %q already attached", address)
	}

	sub, err := t.nc.Subscribe(t.connSubject(address), func(m *nats.Msg) {
		_ = deliver(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe inbox: %w", err)
	}

	a := &attachment{
		deliver: deliver,
		inbox:   sub,
		groups:  make(map[string]*nats.Subscription),
	}
	t.conns[address] = a

	return func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.conns, address)
		err := a.inbox.Unsubscribe()
		for _, gsub := range a.groups {
			if uerr := gsub.Unsubscribe(); uerr != nil && err == nil {
				err = uerr
			}
		}
		return err
	}, nil
}

// Send publishes to one connection's inbox subject.
func (t *Transport) Send(_ context.Context, address string, data []byte) error {
	return t.nc.Publish(t.connSubject(address), data)
}

// SendEvent shares the inbox subject with Send; the envelope carries the
// kind.
func (t *Transport) SendEvent(ctx context.Context, address string, data []byte) error {
	return t.Send(ctx, address, data)
}

// JoinGroup subscribes the connection to the group's subject. NATS fans
// group publishes out to every subscription, local or remote.
func (t *Transport) JoinGroup(_ context.Context, group, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.conns[address]
	if !ok {
		return conduit.ErrNotAttached
	}
	if _, joined := a.groups[group]; joined {
		return nil
	}
	sub, err := t.nc.Subscribe(t.groupSubject(group), func(m *nats.Msg) {
		_ = a.deliver(m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe group %q: %w", group, err)
	}
	a.groups[group] = sub
	return nil
}

// LeaveGroup drops the connection's subscription on the group subject.
func (t *Transport) LeaveGroup(_ context.Context, group, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.conns[address]
	if !ok {
		return nil
	}
	sub, joined := a.groups[group]
	if !joined {
		return nil
	}
	delete(a.groups, group)
	return sub.Unsubscribe()
}

// SendToGroup publishes once; NATS delivers to every member subscription.
func (t *Transport) SendToGroup(_ context.Context, group string, data []byte) error {
	return t.nc.Publish(t.groupSubject(group), data)
}

// BroadcastEvent shares the group subject with SendToGroup.
func (t *Transport) BroadcastEvent(ctx context.Context, group string, data []byte) error {
	return t.SendToGroup(ctx, group, data)
}

// Close unsubscribes every attachment. The NATS connection itself is left
// to its owner.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for address, a := range t.conns {
		if uerr := a.inbox.Unsubscribe(); uerr != nil && err == nil {
			err = uerr
		}
		for _, gsub := range a.groups {
			if uerr := gsub.Unsubscribe(); uerr != nil && err == nil {
				err = uerr
			}
		}
		delete(t.conns, address)
	}
	return err
}

var _ conduit.Transport = (*Transport)(nil)
