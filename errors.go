package conduit

import (
	"errors"
	"fmt"
	"strings"
)

// Error item types reported in outbound error frames.
const (
	ErrTypeMissingDiscriminator = "missing_discriminator"
	ErrTypeUnknownDiscriminator = "unknown_discriminator"
	ErrTypeMalformedPayload     = "malformed_payload"
	ErrTypeInvalidPayload       = "invalid_payload"
	ErrTypeHandlerError         = "handler_error"
)

// Sentinel errors for transport and connection conditions.
var (
	// ErrUnknownAddress is returned by a transport when no connection is
	// attached under the requested address.
	ErrUnknownAddress = errors.New("unknown connection address")

	// ErrNotAttached is returned when a group operation targets an address
	// that has no attached inbox.
	ErrNotAttached = errors.New("connection not attached to transport")

	// ErrConnClosed is returned when writing to a connection that has left
	// the Open state.
	ErrConnClosed = errors.New("connection closed")
)

// ErrorItem is one entry of an outbound error frame payload.
type ErrorItem struct {
	Type string   `json:"type"`
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
}

// ValidationError reports a malformed or unrecognized inbound payload. It is
// recovered locally: an error frame is sent to the originating connection, no
// handler runs, and the connection stays open.
type ValidationError struct {
	Items []ErrorItem
}

func (e *ValidationError) Error() string {
	if len(e.Items) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Items))
	for i, it := range e.Items {
		parts[i] = fmt.Sprintf("%s at %s: %s", it.Type, strings.Join(it.Loc, "."), it.Msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// singleValidationError builds a one-item ValidationError.
func singleValidationError(typ string, loc []string, msg string) *ValidationError {
	return &ValidationError{Items: []ErrorItem{{Type: typ, Loc: loc, Msg: msg}}}
}

// HandlerError wraps an error returned (or recovered) from a handler body.
// It is caught at the dispatch boundary, logged, and converted into a generic
// error frame; the connection is not closed.
type HandlerError struct {
	Action string
	ConnID string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q on connection %s: %v", e.Action, e.ConnID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// RoutingError reports an event that failed validation or had no matching
// handler. Logged and dropped; the client never initiated it, so there is
// usually nothing to reply to.
type RoutingError struct {
	Action string
	Err    error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("route event %q: %v", e.Action, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// ConstructionError reports an inconsistent registry: duplicate discriminator
// values within one direction, a reserved discriminator, or a declared output
// type contradicting an inferred one. Fatal: raised by Builder.Build before
// any connection is accepted.
type ConstructionError struct {
	Reason string
}

func (e *ConstructionError) Error() string {
	return "registry construction: " + e.Reason
}

// TransportError wraps a failure of a channel-layer primitive. Fatal to the
// specific send, not to the connection; the calling framework decides whether
// to close.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// decodeError marks a payload that failed structural decoding so the
// dispatcher can tell it apart from handler errors.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// invalidError marks a payload that decoded but failed Validate.
type invalidError struct {
	err error
}

func (e *invalidError) Error() string { return e.err.Error() }
func (e *invalidError) Unwrap() error { return e.err }
