// Package redischan implements the conduit channel layer on Redis pub/sub.
// Each connection address maps to a Redis channel; joining a group adds the
// group's channel to the connection's subscription, so Redis fans group
// publishes out to every member across processes.
package redischan

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/bjaus/conduit"
)

// DefaultPrefix is the channel prefix when none is configured.
const DefaultPrefix = "conduit"

// Option configures a Transport.
type Option func(*Transport)

// WithPrefix overrides the channel prefix.
func WithPrefix(prefix string) Option {
	return func(t *Transport) {
		t.prefix = prefix
	}
}

// Transport is a Redis-backed channel layer. Redis pub/sub is fire-and-
// forget: a member that is not subscribed at publish time misses the
// payload, matching the best-effort contract.
type Transport struct {
	rdb    redis.UniversalClient
	prefix string

	mu    sync.Mutex
	conns map[string]*attachment
}

// attachment tracks one local connection's pub/sub subscription and the
// groups it has joined.
type attachment struct {
	pubsub *redis.PubSub
	groups map[string]struct{}
	done   chan struct{}
}

// New wraps an established Redis client. The caller owns the client's
// lifecycle; Close only tears down this transport's subscriptions.
func New(rdb redis.UniversalClient, opts ...Option) *Transport {
	t := &Transport{
		rdb:    rdb,
		prefix: DefaultPrefix,
		conns:  make(map[string]*attachment),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) connChannel(address string) string {
	return t.prefix + ":conn:" + address
}

func (t *Transport) groupChannel(group string) string {
	return t.prefix + ":group:" + group
}

// Attach subscribes the connection's channel and pumps received payloads
// into its work queue. Group channels joined later arrive on the same
// subscription.
func (t *Transport) Attach(address string, deliver conduit.DeliveryFunc) (func() error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.conns[address]; exists {
		return nil, fmt.Errorf("address %q already attached", address)
	}

	ctx := context.Background()
	pubsub := t.rdb.Subscribe(ctx, t.connChannel(address))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe inbox: %w", err)
	}

	a := &attachment{
		pubsub: pubsub,
		groups: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	t.conns[address] = a

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-a.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = deliver([]byte(msg.Payload))
			}
		}
	}()

	return func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.conns, address)
		close(a.done)
		return a.pubsub.Close()
	}, nil
}

// Send publishes to one connection's channel.
func (t *Transport) Send(ctx context.Context, address string, data []byte) error {
	return t.rdb.Publish(ctx, t.connChannel(address), data).Err()
}

// SendEvent shares the unicast channel with Send; the envelope carries the
// kind.
func (t *Transport) SendEvent(ctx context.Context, address string, data []byte) error {
	return t.Send(ctx, address, data)
}

// JoinGroup adds the group channel to the connection's subscription.
func (t *Transport) JoinGroup(ctx context.Context, group, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.conns[address]
	if !ok {
		return conduit.ErrNotAttached
	}
	if _, joined := a.groups[group]; joined {
		return nil
	}
	if err := a.pubsub.Subscribe(ctx, t.groupChannel(group)); err != nil {
		return fmt.Errorf("subscribe group %q: %w", group, err)
	}
	a.groups[group] = struct{}{}
	return nil
}

// LeaveGroup removes the group channel from the connection's subscription.
func (t *Transport) LeaveGroup(ctx context.Context, group, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.conns[address]
	if !ok {
		return nil
	}
	if _, joined := a.groups[group]; !joined {
		return nil
	}
	delete(a.groups, group)
	return a.pubsub.Unsubscribe(ctx, t.groupChannel(group))
}

// SendToGroup publishes once; Redis delivers to every subscribed member.
func (t *Transport) SendToGroup(ctx context.Context, group string, data []byte) error {
	return t.rdb.Publish(ctx, t.groupChannel(group), data).Err()
}

// BroadcastEvent shares the group channel with SendToGroup.
func (t *Transport) BroadcastEvent(ctx context.Context, group string, data []byte) error {
	return t.SendToGroup(ctx, group, data)
}

// Close tears down every subscription. The Redis client itself is left to
// its owner.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for address, a := range t.conns {
		close(a.done)
		if cerr := a.pubsub.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(t.conns, address)
	}
	return err
}

var _ conduit.Transport = (*Transport)(nil)
