package conduit

import "context"

type broadcastOptions struct {
	groups        []string
	excludeOrigin bool
}

// BroadcastOption adjusts one broadcast call.
type BroadcastOption func(*broadcastOptions)

// ToGroups overrides the target groups. The default is the origin
// connection's current memberships.
func ToGroups(groups ...string) BroadcastOption {
	return func(o *broadcastOptions) {
		o.groups = groups
	}
}

// ExcludeOrigin removes the origin connection from the recipient set
// entirely: it receives nothing, regardless of the relevance flags.
func ExcludeOrigin() BroadcastOption {
	return func(o *broadcastOptions) {
		o.excludeOrigin = true
	}
}

// Broadcast enriches a message with its origin metadata and hands it to the
// transport's group-send primitive. Each recipient — local or in another
// process — observes the message with two injected flags: isMine, true iff
// the recipient's identity equals the origin's (both non-null), and
// isCurrent, true iff the recipient is the origin connection itself.
//
// The call returns once delivery has been locally initiated; fan-out to
// remote members is the transport's responsibility, so no cross-connection
// ordering is guaranteed between two broadcasts observed by a third party.
func (c *Conn) Broadcast(ctx context.Context, msg Message, opts ...BroadcastOption) error {
	var o broadcastOptions
	for _, opt := range opts {
		opt(&o)
	}
	groups := o.groups
	if groups == nil {
		groups = c.Groups()
	}
	if len(groups) == 0 {
		return nil
	}

	body, err := c.d.cfg.frame(msg.Action(), msg)
	if err != nil {
		return err
	}
	env := newEnvelope(kindGroup, body)
	env.Origin = c.id
	env.OriginIdentity = c.Identity()
	env.ExcludeOrigin = o.excludeOrigin
	data, err := env.encode()
	if err != nil {
		return err
	}

	for _, g := range groups {
		if err := c.d.transport.SendToGroup(ctx, g, data); err != nil {
			return &TransportError{Op: "send_to_group", Err: err}
		}
	}

	c.broadcasts++
	c.d.callOnBroadcast(ctx, c.id, msg.Action(), groups)
	return nil
}
