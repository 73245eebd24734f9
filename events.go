package conduit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DispatchMode records how an event reached this process, which decides how
// the handler's result is routed.
type DispatchMode int

const (
	// ModeUnicast means the event was sent to exactly one connection; a
	// concrete handler result is sent directly to that connection.
	ModeUnicast DispatchMode = iota
	// ModeGroup means the event was broadcast to a group; a concrete
	// handler result is enriched against the event's declared origin and
	// delivered to each recipient.
	ModeGroup
)

// String returns the mode name.
func (m DispatchMode) String() string {
	switch m {
	case ModeUnicast:
		return "unicast"
	case ModeGroup:
		return "group"
	default:
		return "unknown"
	}
}

// EventOption attaches origin metadata to an injected event. The relevance
// flags on a group event's result are computed against this declared origin;
// without one the identity is null and isMine is false for every recipient.
type EventOption func(*envelope)

// WithEventOrigin declares the originating connection id for an event.
func WithEventOrigin(connID string) EventOption {
	return func(e *envelope) {
		e.Origin = connID
	}
}

// WithEventIdentity declares the originating identity for an event.
func WithEventIdentity(identity *Identity) EventOption {
	return func(e *envelope) {
		e.OriginIdentity = identity
	}
}

// EventExcludeOrigin drops the declared origin connection from the
// recipients of a group event.
func EventExcludeOrigin() EventOption {
	return func(e *envelope) {
		e.ExcludeOrigin = true
	}
}

// EventSender injects events into connection pipelines from outside the
// socket — background jobs, cron tasks, other services. It only needs the
// transport and the connection class configuration, not a dispatcher, so it
// can live in a process that serves no connections at all.
type EventSender struct {
	transport Transport
	cfg       Config
}

// NewEventSender creates a sender for one connection class.
func NewEventSender(t Transport, cfg Config) *EventSender {
	return &EventSender{transport: t, cfg: cfg.withDefaults()}
}

// Send unicasts an event to one connection. The event handler's result, if
// any, is sent directly and exclusively to that connection.
func (s *EventSender) Send(ctx context.Context, address string, event Message, opts ...EventOption) error {
	body, err := s.cfg.frame(event.Action(), event)
	if err != nil {
		return err
	}
	env := newEnvelope(kindEvent, body)
	for _, opt := range opts {
		opt(&env)
	}
	data, err := env.encode()
	if err != nil {
		return err
	}
	if err := s.transport.SendEvent(ctx, address, data); err != nil {
		return &TransportError{Op: "send_event", Err: err}
	}
	return nil
}

// Broadcast injects an event for every member of a group. The event handler
// runs on each recipient connection's task; a concrete result is enriched
// against the event's declared origin and delivered to that recipient.
func (s *EventSender) Broadcast(ctx context.Context, group string, event Message, opts ...EventOption) error {
	body, err := s.cfg.frame(event.Action(), event)
	if err != nil {
		return err
	}
	env := newEnvelope(kindGroupEvent, body)
	env.Group = group
	for _, opt := range opts {
		opt(&env)
	}
	data, err := env.encode()
	if err != nil {
		return err
	}
	if err := s.transport.BroadcastEvent(ctx, group, data); err != nil {
		return &TransportError{Op: "broadcast_event", Err: err}
	}
	return nil
}

// routeEvent validates a delivered event against the event union and invokes
// the bound handler. Routing failures never crash the process or close the
// connection: they are logged and the event is dropped, except on the
// unicast path where the target connection gets an error notification.
func (d *Dispatcher) routeEvent(ctx context.Context, c *Conn, env envelope, mode DispatchMode) {
	if mode == ModeGroup && env.ExcludeOrigin && env.Origin == c.id {
		return
	}

	view, err := d.insp.Inspect(env.Body)
	if err != nil {
		d.eventFailure(ctx, c, mode, &RoutingError{Err: err},
			ErrTypeMalformedPayload, "event frame is not valid JSON")
		return
	}

	field := d.cfg.DiscriminatorField
	action, ok := view.GetString(field)
	if !ok {
		d.eventFailure(ctx, c, mode, &RoutingError{Err: fmt.Errorf("missing %q field", field)},
			ErrTypeMissingDiscriminator, "missing event discriminator")
		return
	}

	bind, ok := d.reg.lookup(DirectionEvent, action)
	if !ok {
		d.eventFailure(ctx, c, mode, &RoutingError{Action: action, Err: errors.New("no matching event handler")},
			ErrTypeUnknownDiscriminator, fmt.Sprintf("unknown event %q", action))
		return
	}

	payload, _ := view.GetBytes("payload")

	d.callOnEvent(ctx, c.id, action, mode)

	start := time.Now()
	res, err := invoke(ctx, bind, c, payload)
	duration := time.Since(start)

	var derr *decodeError
	var ierr *invalidError
	switch {
	case errors.As(err, &derr):
		d.eventFailure(ctx, c, mode, &RoutingError{Action: action, Err: derr},
			ErrTypeMalformedPayload, "malformed event payload")
		return
	case errors.As(err, &ierr):
		d.eventFailure(ctx, c, mode, &RoutingError{Action: action, Err: ierr},
			ErrTypeInvalidPayload, "invalid event payload")
		return
	case err != nil:
		d.callOnFailure(ctx, c.id, action, &HandlerError{Action: action, ConnID: c.id, Err: err}, duration)
		if mode == ModeUnicast {
			d.notifyEventError(c, ErrTypeHandlerError, "internal handler error")
		}
		return
	}

	d.callOnSuccess(ctx, c.id, action, duration)

	if res != nil {
		frame, ferr := d.cfg.frame(res.action, res.payload)
		if ferr != nil {
			d.routingError(ctx, c, &RoutingError{Action: action, Err: ferr})
			return
		}
		if mode == ModeGroup {
			frame, ferr = enrich(frame, c.Identity().Equal(env.OriginIdentity), env.Origin == c.id)
			if ferr != nil {
				d.routingError(ctx, c, &RoutingError{Action: action, Err: ferr})
				return
			}
		}
		if serr := c.send(frame); serr != nil {
			d.routingError(ctx, c, &RoutingError{Action: action, Err: serr})
			return
		}
	}

	d.eventComplete(c, mode)
}

// eventFailure logs a routing failure and, for unicast events only, notifies
// the target connection. Group recipients never initiated the event, so
// there is nothing to reply to.
func (d *Dispatcher) eventFailure(ctx context.Context, c *Conn, mode DispatchMode, rerr *RoutingError, errType, msg string) {
	d.routingError(ctx, c, rerr)
	if mode == ModeUnicast {
		d.notifyEventError(c, errType, msg)
	}
}

func (d *Dispatcher) notifyEventError(c *Conn, errType, msg string) {
	frame, err := d.cfg.errorFrame([]ErrorItem{{Type: errType, Loc: []string{}, Msg: msg}})
	if err != nil {
		return
	}
	_ = c.send(frame)
}

// eventComplete emits the completion marker for one routed event: complete
// for unicast delivery, group_complete for each group recipient.
func (d *Dispatcher) eventComplete(c *Conn, mode DispatchMode) {
	if !d.cfg.CompletionSignals {
		return
	}
	var frame []byte
	var err error
	if mode == ModeUnicast {
		frame, err = d.cfg.completeFrame()
	} else {
		frame, err = d.cfg.groupCompleteFrame()
	}
	if err != nil {
		return
	}
	_ = c.send(frame)
}
