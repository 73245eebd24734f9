package conduit

import "context"

// DeliveryFunc consumes one raw transport payload addressed to a local
// connection. It returns an error when the connection can no longer accept
// deliveries.
type DeliveryFunc func(data []byte) error

// Transport is the external channel layer this core delegates delivery to:
// a pub/sub or queue mechanism that moves unicast and group payloads across
// connections and processes. The core never implements queuing, retry, or
// persistence for these calls; it assumes the transport provides at-least-
// once or best-effort delivery per its own configuration.
//
// The transport owns the global group-membership index. Per-origin causal
// order to the same remote connection is expected from the transport, but no
// total order across connections is assumed anywhere in this package.
type Transport interface {
	// Send delivers a payload to the connection registered under address.
	Send(ctx context.Context, address string, data []byte) error

	// SendEvent delivers an externally injected event to one connection's
	// inbox. The payload is self-describing; implementations may share the
	// unicast path with Send.
	SendEvent(ctx context.Context, address string, data []byte) error

	// JoinGroup adds a connection address to a named group.
	JoinGroup(ctx context.Context, group, address string) error

	// LeaveGroup removes a connection address from a named group.
	LeaveGroup(ctx context.Context, group, address string) error

	// SendToGroup fans a payload out to every member of a group, across
	// however many processes hold members.
	SendToGroup(ctx context.Context, group string, data []byte) error

	// BroadcastEvent fans an externally injected event out to every member
	// of a group.
	BroadcastEvent(ctx context.Context, group string, data []byte) error

	// Attach registers the local inbox for a connection address. The
	// returned detach function removes it and tears down any group
	// subscriptions for the address.
	Attach(address string, deliver DeliveryFunc) (detach func() error, err error)
}
