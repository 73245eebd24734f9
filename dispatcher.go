package conduit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Dispatcher validates, routes, and dispatches inbound work for one
// connection class. It is safe for concurrent use by any number of
// connection tasks: the registry and configuration are immutable and the
// transport guards its own state.
type Dispatcher struct {
	reg       *Registry
	cfg       Config
	transport Transport
	insp      Inspector
	hooks     hooks
}

// NewDispatcher wires a registry to a channel-layer transport.
//
// Example:
//
//	d := conduit.NewDispatcher(reg, transport,
//	    conduit.WithLogging(slog.Default()),
//	    conduit.WithMetrics(metrics),
//	)
func NewDispatcher(reg *Registry, t Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:       reg,
		cfg:       reg.Config(),
		transport: t,
		insp:      JSONInspector(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the immutable registry backing this dispatcher.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Transport returns the channel layer backing this dispatcher.
func (d *Dispatcher) Transport() Transport { return d.transport }

// NewConn creates a connection in the Connecting state. The adapter owns
// the id (it doubles as the transport address) and the out function that
// writes frames to the socket.
func (d *Dispatcher) NewConn(id string, out OutFunc) *Conn {
	c := &Conn{
		id:     id,
		d:      d,
		out:    out,
		groups: make(map[string]struct{}),
		inbox:  make(chan inboxItem, inboxSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.touch()
	return c
}

// Dispatch validates one raw client frame against the client union, resolves
// the handler, invokes it, and interprets its return value: a concrete reply
// is unicast to the originating connection, nil means the handler produced
// any output itself. Validation and handler errors are recovered locally —
// an error frame goes to the client and the connection stays open. Only
// socket write and transport failures propagate to the caller.
//
// Connection tasks call Dispatch sequentially, which provides the strict
// per-connection ordering guarantee. Calling it directly is appropriate in
// tests or custom adapters that provide their own ordering.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Conn, raw []byte) error {
	if c.State() != StateOpen {
		d.dropped(c)
		return nil
	}

	view, err := d.insp.Inspect(raw)
	if err != nil {
		return d.validationFailure(ctx, c,
			singleValidationError(ErrTypeMalformedPayload, []string{}, "frame is not valid JSON"))
	}

	field := d.cfg.DiscriminatorField
	action, ok := view.GetString(field)
	if !ok {
		return d.validationFailure(ctx, c,
			singleValidationError(ErrTypeMissingDiscriminator, []string{field},
				fmt.Sprintf("missing or non-string %q field", field)))
	}

	bind, ok := d.reg.lookup(DirectionClient, action)
	if !ok {
		return d.validationFailure(ctx, c,
			singleValidationError(ErrTypeUnknownDiscriminator, []string{field},
				fmt.Sprintf("unknown %q value %q", field, action)))
	}

	payload, _ := view.GetBytes("payload")

	d.callOnDispatch(ctx, c.id, action)
	c.broadcasts = 0

	start := time.Now()
	res, err := invoke(ctx, bind, c, payload)
	duration := time.Since(start)

	var derr *decodeError
	if errors.As(err, &derr) {
		return d.validationFailure(ctx, c,
			singleValidationError(ErrTypeMalformedPayload, []string{"payload"}, derr.Error()))
	}
	var ierr *invalidError
	if errors.As(err, &ierr) {
		return d.validationFailure(ctx, c,
			singleValidationError(ErrTypeInvalidPayload, []string{"payload"}, ierr.Error()))
	}

	if err != nil {
		// Handler errors are converted into a generic outcome: logged with
		// full context, a generic error frame sent, connection kept open.
		d.callOnFailure(ctx, c.id, action, &HandlerError{Action: action, ConnID: c.id, Err: err}, duration)
		frame, ferr := d.cfg.errorFrame([]ErrorItem{
			{Type: ErrTypeHandlerError, Loc: []string{}, Msg: "internal handler error"},
		})
		if ferr != nil {
			return ferr
		}
		if serr := c.send(frame); serr != nil {
			return serr
		}
		return d.complete(c)
	}

	d.callOnSuccess(ctx, c.id, action, duration)

	if res != nil {
		frame, ferr := d.cfg.frame(res.action, res.payload)
		if ferr != nil {
			return ferr
		}
		if serr := c.send(frame); serr != nil {
			return serr
		}
	}

	return d.complete(c)
}

// invoke runs the bound handler, converting a panic into an ordinary error
// so one misbehaving handler cannot take the connection task down.
func invoke(ctx context.Context, bind binding, c *Conn, payload json.RawMessage) (res *reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return bind.invoke(ctx, c, payload)
}

// validationFailure sends an error frame for a malformed or unrecognized
// inbound frame. No handler runs and no completion signal follows.
func (d *Dispatcher) validationFailure(ctx context.Context, c *Conn, verr *ValidationError) error {
	d.callOnValidationError(ctx, c.id, verr.Items)
	frame, err := d.cfg.errorFrame(verr.Items)
	if err != nil {
		return err
	}
	return c.send(frame)
}

// complete emits the completion markers for one unit of work: exactly one
// message-complete, followed by one group-complete iff the handler triggered
// at least one group broadcast.
func (d *Dispatcher) complete(c *Conn) error {
	broadcasts := c.broadcasts
	c.broadcasts = 0
	if !d.cfg.CompletionSignals {
		return nil
	}
	frame, err := d.cfg.completeFrame()
	if err != nil {
		return err
	}
	if serr := c.send(frame); serr != nil {
		return serr
	}
	if broadcasts > 0 {
		gframe, err := d.cfg.groupCompleteFrame()
		if err != nil {
			return err
		}
		return c.send(gframe)
	}
	return nil
}

// SendTo unicasts a message to an arbitrary connection address through the
// transport, whichever process currently holds it.
func (d *Dispatcher) SendTo(ctx context.Context, address string, msg Message) error {
	body, err := d.cfg.frame(msg.Action(), msg)
	if err != nil {
		return err
	}
	env := newEnvelope(kindMessage, body)
	data, err := env.encode()
	if err != nil {
		return err
	}
	if err := d.transport.Send(ctx, address, data); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}
