package conduit

import "context"

// Message is an outbound payload that knows its own discriminator value.
// Handler return types and broadcast payloads implement it; the framework
// uses Action to fill the discriminator field of the wire frame.
//
// Example:
//
//	type Pong struct {
//	    Timestamp int64 `json:"timestamp"`
//	}
//
//	func (Pong) Action() string { return "pong" }
type Message interface {
	Action() string
}

// Validatable payloads are checked after structural decoding. A non-nil
// error is converted into a ValidationError outcome and the handler is
// never invoked.
type Validatable interface {
	Validate() error
}

// Proc (procedure) handles a message without producing a reply. Use this for
// handlers whose output, if any, is produced explicitly — typically by
// calling Conn.Broadcast.
//
// The type parameter T is the payload type. The dispatcher decodes the
// inbound payload to T and validates it if T implements Validatable.
//
// Example:
//
//	type ChatProc struct{}
//
//	func (ChatProc) Run(ctx context.Context, c *conduit.Conn, msg Chat) error {
//	    return c.Broadcast(ctx, ChatNotify{Text: msg.Text})
//	}
type Proc[T any] interface {
	Run(ctx context.Context, c *Conn, msg T) error
}

// ProcFunc is a function adapter for Proc.
type ProcFunc[T any] func(ctx context.Context, c *Conn, msg T) error

// Run implements the Proc interface.
func (f ProcFunc[T]) Run(ctx context.Context, c *Conn, msg T) error {
	return f(ctx, c, msg)
}

// Func (function) handles a message and returns a typed reply. For client
// messages the reply is unicast to the originating connection; for events it
// is routed according to how the event was dispatched.
//
// The type parameters are T for the inbound payload and R for the reply,
// which must carry its own discriminator via Message.
//
// Example:
//
//	type PingFunc struct{}
//
//	func (PingFunc) Call(ctx context.Context, c *conduit.Conn, msg Ping) (Pong, error) {
//	    return Pong{Timestamp: msg.Timestamp}, nil
//	}
type Func[T any, R Message] interface {
	Call(ctx context.Context, c *Conn, msg T) (R, error)
}

// FuncFunc is a function adapter for Func.
type FuncFunc[T any, R Message] func(ctx context.Context, c *Conn, msg T) (R, error)

// Call implements the Func interface.
func (f FuncFunc[T, R]) Call(ctx context.Context, c *Conn, msg T) (R, error) {
	return f(ctx, c, msg)
}
