package conduit

import (
	"context"
	"time"
)

// OnDispatchFunc is called just before a client-message handler executes.
type OnDispatchFunc func(ctx context.Context, connID, action string)

// OnSuccessFunc is called after a handler completes successfully.
type OnSuccessFunc func(ctx context.Context, connID, action string, duration time.Duration)

// OnFailureFunc is called after a handler returns an error or panics.
type OnFailureFunc func(ctx context.Context, connID, action string, err error, duration time.Duration)

// OnValidationErrorFunc is called when an inbound client frame fails
// validation; the items mirror the error frame sent to the client.
type OnValidationErrorFunc func(ctx context.Context, connID string, items []ErrorItem)

// OnEventFunc is called just before an event handler executes.
type OnEventFunc func(ctx context.Context, connID, action string, mode DispatchMode)

// OnRoutingErrorFunc is called when an event fails validation or has no
// matching handler; the event is dropped from the client's perspective.
type OnRoutingErrorFunc func(ctx context.Context, connID string, err error)

// OnBroadcastFunc is called after a broadcast has been handed to the
// transport.
type OnBroadcastFunc func(ctx context.Context, connID, action string, groups []string)

// OnDroppedFunc is called when a frame arrives on a connection outside the
// Open state.
type OnDroppedFunc func(connID string, state State)

// OnRejectedFunc is called when authentication fails and the connection
// transitions to Closing with a reason code.
type OnRejectedFunc func(connID, reason string)

// hooks holds all configured hook functions. Multiple hooks of the same
// type run in registration order.
type hooks struct {
	onDispatch        []OnDispatchFunc
	onSuccess         []OnSuccessFunc
	onFailure         []OnFailureFunc
	onValidationError []OnValidationErrorFunc
	onEvent           []OnEventFunc
	onRoutingError    []OnRoutingErrorFunc
	onBroadcast       []OnBroadcastFunc
	onDropped         []OnDroppedFunc
	onRejected        []OnRejectedFunc
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithInspector overrides the default JSON inspector used to extract
// discriminators from inbound frames.
func WithInspector(i Inspector) Option {
	return func(d *Dispatcher) {
		d.insp = i
	}
}

// WithOnDispatch adds a hook called just before a client handler executes.
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onDispatch = append(d.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a handler completes successfully.
//
// Example:
//
//	conduit.WithOnSuccess(func(ctx context.Context, connID, action string, d time.Duration) {
//	    metrics.Timing("dispatch.success", d, "action:"+action)
//	})
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onSuccess = append(d.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after a handler fails.
func WithOnFailure(fn OnFailureFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onFailure = append(d.hooks.onFailure, fn)
	}
}

// WithOnValidationError adds a hook called when an inbound frame fails
// validation.
func WithOnValidationError(fn OnValidationErrorFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onValidationError = append(d.hooks.onValidationError, fn)
	}
}

// WithOnEvent adds a hook called just before an event handler executes.
func WithOnEvent(fn OnEventFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onEvent = append(d.hooks.onEvent, fn)
	}
}

// WithOnRoutingError adds a hook called when an event cannot be routed.
func WithOnRoutingError(fn OnRoutingErrorFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onRoutingError = append(d.hooks.onRoutingError, fn)
	}
}

// WithOnBroadcast adds a hook called after a broadcast is handed to the
// transport.
func WithOnBroadcast(fn OnBroadcastFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onBroadcast = append(d.hooks.onBroadcast, fn)
	}
}

// WithOnDropped adds a hook called when a frame is dropped because the
// connection is not open.
func WithOnDropped(fn OnDroppedFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onDropped = append(d.hooks.onDropped, fn)
	}
}

// WithOnRejected adds a hook called when authentication fails.
func WithOnRejected(fn OnRejectedFunc) Option {
	return func(d *Dispatcher) {
		d.hooks.onRejected = append(d.hooks.onRejected, fn)
	}
}

func (d *Dispatcher) callOnDispatch(ctx context.Context, connID, action string) {
	for _, fn := range d.hooks.onDispatch {
		fn(ctx, connID, action)
	}
}

func (d *Dispatcher) callOnSuccess(ctx context.Context, connID, action string, duration time.Duration) {
	for _, fn := range d.hooks.onSuccess {
		fn(ctx, connID, action, duration)
	}
}

func (d *Dispatcher) callOnFailure(ctx context.Context, connID, action string, err error, duration time.Duration) {
	for _, fn := range d.hooks.onFailure {
		fn(ctx, connID, action, err, duration)
	}
}

func (d *Dispatcher) callOnValidationError(ctx context.Context, connID string, items []ErrorItem) {
	for _, fn := range d.hooks.onValidationError {
		fn(ctx, connID, items)
	}
}

func (d *Dispatcher) callOnEvent(ctx context.Context, connID, action string, mode DispatchMode) {
	for _, fn := range d.hooks.onEvent {
		fn(ctx, connID, action, mode)
	}
}

func (d *Dispatcher) routingError(ctx context.Context, c *Conn, err error) {
	for _, fn := range d.hooks.onRoutingError {
		fn(ctx, c.id, err)
	}
}

func (d *Dispatcher) callOnBroadcast(ctx context.Context, connID, action string, groups []string) {
	for _, fn := range d.hooks.onBroadcast {
		fn(ctx, connID, action, groups)
	}
}

func (d *Dispatcher) dropped(c *Conn) {
	for _, fn := range d.hooks.onDropped {
		fn(c.id, c.State())
	}
}

func (d *Dispatcher) rejected(c *Conn, reason string) {
	for _, fn := range d.hooks.onRejected {
		fn(c.id, reason)
	}
}
