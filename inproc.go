package conduit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// LocalTransport is an in-process channel layer: unicast and group delivery
// for connections living in this process only. It backs tests and
// single-process deployments; multi-process deployments use the NATS or
// Redis transports.
type LocalTransport struct {
	mu      sync.RWMutex
	inboxes map[string]DeliveryFunc
	groups  map[string]map[string]struct{}
}

// NewLocalTransport creates an empty in-process transport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		inboxes: make(map[string]DeliveryFunc),
		groups:  make(map[string]map[string]struct{}),
	}
}

// Attach registers the inbox for a connection address.
func (t *LocalTransport) Attach(address string, deliver DeliveryFunc) (func() error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.inboxes[address]; exists {
		return nil, fmt.Errorf("address %q already attached", address)
	}
	t.inboxes[address] = deliver
	return func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.inboxes, address)
		for g, members := range t.groups {
			delete(members, address)
			if len(members) == 0 {
				delete(t.groups, g)
			}
		}
		return nil
	}, nil
}

// Send delivers a payload to one attached connection.
func (t *LocalTransport) Send(_ context.Context, address string, data []byte) error {
	t.mu.RLock()
	deliver, ok := t.inboxes[address]
	t.mu.RUnlock()
	if !ok {
		return ErrUnknownAddress
	}
	return deliver(data)
}

// SendEvent shares the unicast path with Send; the envelope carries the
// kind.
func (t *LocalTransport) SendEvent(ctx context.Context, address string, data []byte) error {
	return t.Send(ctx, address, data)
}

// JoinGroup adds an attached address to a group.
func (t *LocalTransport) JoinGroup(_ context.Context, group, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inboxes[address]; !ok {
		return ErrNotAttached
	}
	members, ok := t.groups[group]
	if !ok {
		members = make(map[string]struct{})
		t.groups[group] = members
	}
	members[address] = struct{}{}
	return nil
}

// LeaveGroup removes an address from a group. Leaving a group the address
// never joined is a no-op.
func (t *LocalTransport) LeaveGroup(_ context.Context, group, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.groups[group]
	if !ok {
		return nil
	}
	delete(members, address)
	if len(members) == 0 {
		delete(t.groups, group)
	}
	return nil
}

// SendToGroup fans a payload out to every current member concurrently.
// Sending to an empty or unknown group delivers to nobody and is not an
// error.
func (t *LocalTransport) SendToGroup(ctx context.Context, group string, data []byte) error {
	t.mu.RLock()
	var targets []DeliveryFunc
	for address := range t.groups[group] {
		if deliver, ok := t.inboxes[address]; ok {
			targets = append(targets, deliver)
		}
	}
	t.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, deliver := range targets {
		deliver := deliver
		g.Go(func() error {
			return deliver(data)
		})
	}
	return g.Wait()
}

// BroadcastEvent shares the group path with SendToGroup.
func (t *LocalTransport) BroadcastEvent(ctx context.Context, group string, data []byte) error {
	return t.SendToGroup(ctx, group, data)
}

// Members returns the current member addresses of a group, mainly for
// stats endpoints and tests.
func (t *LocalTransport) Members(group string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.groups[group]))
	for address := range t.groups[group] {
		out = append(out, address)
	}
	return out
}

var _ Transport = (*LocalTransport)(nil)
