// Package conduit routes typed messages and events on persistent
// bidirectional connections.
//
// Application code declares typed handlers once at startup; inbound frames
// are validated against a discriminated union built from those declarations,
// routed to the matching handler, and the handler's result is delivered —
// without hand-written switch chains over raw JSON.
//
// # Quick Start
//
// Declare payload types. Outbound types carry their own discriminator via
// Action:
//
//	type Ping struct {
//	    Timestamp int64 `json:"timestamp"`
//	}
//
//	type Pong struct {
//	    Timestamp int64 `json:"timestamp"`
//	}
//
//	func (Pong) Action() string { return "pong" }
//
// Build a registry, wire it to a transport, and accept connections:
//
//	b := conduit.NewBuilder(conduit.Config{})
//	conduit.HandleFunc(b, "ping", func(ctx context.Context, c *conduit.Conn, msg Ping) (Pong, error) {
//	    return Pong{Timestamp: msg.Timestamp}, nil
//	})
//	reg, err := b.Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d := conduit.NewDispatcher(reg, conduit.NewLocalTransport(),
//	    conduit.WithLogging(slog.Default()),
//	)
//
// A frame {"action":"ping","payload":{"timestamp":1}} now yields
// {"action":"pong","payload":{"timestamp":1}} on the sending connection.
//
// # Design
//
// The package separates concerns into four layers:
//
//   - Registry: an immutable product of explicit startup-time registration.
//     Two independent discriminated unions — client messages and events —
//     plus the handler table. Duplicate discriminators, reserved values, and
//     contradictory output declarations fail at Build, before any connection
//     is accepted.
//   - Dispatcher: validates one raw frame, resolves the handler, invokes it,
//     and interprets the result. Validation and handler errors become error
//     frames on the originating connection; the connection stays open.
//   - Connection: one task per connection consuming a single ordered work
//     queue fed by both the socket and the transport, so handlers always see
//     strict arrival order.
//   - Transport: the external channel layer (in-process, NATS, or Redis)
//     that moves unicast and group payloads across processes. The core only
//     calls its primitives and consumes its delivery semantics.
//
// # Handlers
//
// Two handler shapes exist, mirroring the two reply conventions:
//
//   - Func[T, R]: returns a typed reply R, unicast to the originating
//     connection (or routed by dispatch mode for events).
//   - Proc[T]: returns nothing; any output is produced explicitly, usually
//     via Conn.Broadcast.
//
// Payloads implementing Validate() error are validated after structural
// decoding; a failure produces a ValidationError outcome and the handler is
// never invoked.
//
// # Groups and Broadcast
//
// Connections join named groups through the transport. Conn.Broadcast
// packages a message with its origin metadata and delegates to the group-
// send primitive; every recipient observes two injected flags:
//
//	{"action":"chat_notify","payload":{...},"isMine":false,"isCurrent":false}
//
// isMine is true iff the recipient's identity equals the origin's (both
// non-null); isCurrent is true iff the recipient is the origin connection.
// ExcludeOrigin removes the origin from the recipient set entirely.
//
// # Events
//
// Events are messages injected from outside the socket — background jobs,
// cron tasks, other services — validated against their own union, in a
// namespace independent from client messages. EventSender.Send targets one
// connection; EventSender.Broadcast targets a group, running the handler on
// each recipient's task and enriching the result against the event's
// declared origin.
//
// # Completion Signals
//
// With Config.CompletionSignals enabled, each unit of work ends with a
// marker frame: {"action":"complete"}, followed by {"action":"group_complete"}
// iff the handler triggered a group broadcast. Test harnesses use the
// markers to know no more frames are coming.
//
// # Ordering
//
// Within one connection, processing is strictly sequential: the handler for
// message n returns before message n+1 is dispatched, suspension points
// included. Across connections no total order exists; two broadcasts from
// the same origin may be observed in either order by a third party when
// delivered through different transport paths.
//
// # Thread Safety
//
// The Registry and both unions are immutable after Build and shared without
// synchronization. A connection's group set is mutated only by its own task.
// Builder registration is not safe for concurrent use; construct the
// registry once at startup.
package conduit
