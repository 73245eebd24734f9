package conduit

import (
	"reflect"
	"sort"
)

// Direction tags a handler binding as serving client-originated messages or
// externally injected events. The two directions form independent
// discriminator namespaces: a client message and an event may share a value
// without collision.
type Direction int

const (
	// DirectionClient marks handlers for messages arriving on the socket.
	DirectionClient Direction = iota
	// DirectionEvent marks handlers for events arriving via the transport.
	DirectionEvent
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionClient:
		return "client"
	case DirectionEvent:
		return "event"
	default:
		return "unknown"
	}
}

// MessageType is the immutable descriptor of one variant of a discriminated
// union: its discriminator value, the Go type of its payload, and the Go
// type of its declared output (nil when the handler produces no reply).
type MessageType struct {
	Action string
	Input  reflect.Type
	Output reflect.Type
	Doc    string
}

// DiscriminatedUnion maps discriminator values to message types for one
// direction. Built once by Builder.Build and read-only afterward; safe for
// concurrent use without synchronization.
type DiscriminatedUnion struct {
	field string
	types map[string]MessageType
}

// Lookup returns the message type registered under action.
func (u *DiscriminatedUnion) Lookup(action string) (MessageType, bool) {
	mt, ok := u.types[action]
	return mt, ok
}

// Match extracts the discriminator from a frame view and resolves it against
// the union. ok is false when the field is absent, not a string, or not a
// registered value.
func (u *DiscriminatedUnion) Match(v View) (MessageType, bool) {
	action, ok := v.GetString(u.field)
	if !ok {
		return MessageType{}, false
	}
	mt, ok := u.types[action]
	return mt, ok
}

// Actions returns the registered discriminator values in sorted order.
func (u *DiscriminatedUnion) Actions() []string {
	out := make([]string, 0, len(u.types))
	for a := range u.types {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of variants in the union.
func (u *DiscriminatedUnion) Len() int { return len(u.types) }
