package conduit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// reply is the framed result of a handler invocation: the discriminator of
// the output message plus its encoded payload.
type reply struct {
	action  string
	payload json.RawMessage
}

// invoker wraps a typed handler so bindings of different types can live in a
// single table. A nil *reply means the handler produced no implicit output.
type invoker func(ctx context.Context, c *Conn, payload json.RawMessage) (*reply, error)

// binding associates one discriminator value with the handler that serves
// it. Immutable once the registry is built.
type binding struct {
	action       string
	direction    Direction
	invoke       invoker
	input        reflect.Type
	output       reflect.Type // nil for procedures without a declared output
	outputAction string
	doc          string
}

// Builder collects handler declarations and produces an immutable Registry.
// Registration is not safe for concurrent use; build the registry once at
// startup, before any connection exists. Build has no side effects beyond
// constructing the registry.
//
// Example:
//
//	b := conduit.NewBuilder(conduit.Config{CompletionSignals: true})
//	conduit.HandleFunc(b, "ping", pingHandler)
//	conduit.HandleProcFunc(b, "chat", chatHandler)
//	conduit.HandleEventFunc(b, "job_done", jobDoneHandler)
//	reg, err := b.Build()
type Builder struct {
	cfg      Config
	bindings []binding
	declared []declaration
}

// declaration is an explicit output type declared for documentation
// purposes, typically for procedures that broadcast instead of replying.
type declaration struct {
	direction Direction
	action    string
	output    reflect.Type
}

// NewBuilder creates a Builder for one connection class.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg.withDefaults()}
}

// BindOption attaches metadata to a registration.
type BindOption func(*binding)

// WithDoc records a human-readable description on the binding.
func WithDoc(doc string) BindOption {
	return func(b *binding) {
		b.doc = doc
	}
}

// Handle registers a replying handler for a client message. The reply type's
// Action becomes the discriminator of the unicast response.
//
// This is a package-level function (not a method) due to Go generics
// limitations: methods cannot have type parameters independent of the
// receiver.
func Handle[T any, R Message](b *Builder, action string, h Func[T, R], opts ...BindOption) {
	b.add(newFuncBinding(action, DirectionClient, h), opts)
}

// HandleFunc is a convenience wrapper for registering a plain function as a
// replying client-message handler.
func HandleFunc[T any, R Message](b *Builder, action string, fn func(ctx context.Context, c *Conn, msg T) (R, error), opts ...BindOption) {
	Handle(b, action, FuncFunc[T, R](fn), opts...)
}

// HandleProc registers a non-replying handler for a client message. Any
// output the handler produces must be explicit, e.g. via Conn.Broadcast.
func HandleProc[T any](b *Builder, action string, h Proc[T], opts ...BindOption) {
	b.add(newProcBinding(action, DirectionClient, h), opts)
}

// HandleProcFunc is a convenience wrapper for registering a plain function
// as a non-replying client-message handler.
func HandleProcFunc[T any](b *Builder, action string, fn func(ctx context.Context, c *Conn, msg T) error, opts ...BindOption) {
	HandleProc(b, action, ProcFunc[T](fn), opts...)
}

// HandleEvent registers a replying handler for an externally injected event.
// How the reply is routed depends on how the event was dispatched: unicast
// events reply to the target connection, group events are enriched and
// delivered to every recipient.
func HandleEvent[T any, R Message](b *Builder, action string, h Func[T, R], opts ...BindOption) {
	b.add(newFuncBinding(action, DirectionEvent, h), opts)
}

// HandleEventFunc is a convenience wrapper for registering a plain function
// as a replying event handler.
func HandleEventFunc[T any, R Message](b *Builder, action string, fn func(ctx context.Context, c *Conn, msg T) (R, error), opts ...BindOption) {
	HandleEvent(b, action, FuncFunc[T, R](fn), opts...)
}

// HandleEventProc registers a non-replying event handler.
func HandleEventProc[T any](b *Builder, action string, h Proc[T], opts ...BindOption) {
	b.add(newProcBinding(action, DirectionEvent, h), opts)
}

// HandleEventProcFunc is a convenience wrapper for registering a plain
// function as a non-replying event handler.
func HandleEventProcFunc[T any](b *Builder, action string, fn func(ctx context.Context, c *Conn, msg T) error, opts ...BindOption) {
	HandleEventProc(b, action, ProcFunc[T](fn), opts...)
}

// DeclareOutput records an explicit output type for a handler that produces
// side-effect broadcasts and returns nothing. Declaration is documentation
// only; it must not contradict an output inferred from a replying handler.
func (b *Builder) DeclareOutput(dir Direction, action string, prototype Message) {
	b.declared = append(b.declared, declaration{
		direction: dir,
		action:    action,
		output:    reflect.TypeOf(prototype),
	})
}

func (b *Builder) add(bind binding, opts []BindOption) {
	for _, opt := range opts {
		opt(&bind)
	}
	b.bindings = append(b.bindings, bind)
}

func newFuncBinding[T any, R Message](action string, dir Direction, h Func[T, R]) binding {
	return binding{
		action:       action,
		direction:    dir,
		input:        typeOf[T](),
		output:       typeOf[R](),
		outputAction: messageActionOf[R](),
		invoke: func(ctx context.Context, c *Conn, payload json.RawMessage) (*reply, error) {
			msg, err := decodePayload[T](payload)
			if err != nil {
				return nil, err
			}
			res, err := h.Call(ctx, c, msg)
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(res)
			if err != nil {
				return nil, fmt.Errorf("encode %q reply: %w", action, err)
			}
			return &reply{action: res.Action(), payload: data}, nil
		},
	}
}

func newProcBinding[T any](action string, dir Direction, h Proc[T]) binding {
	return binding{
		action:    action,
		direction: dir,
		input:     typeOf[T](),
		invoke: func(ctx context.Context, c *Conn, payload json.RawMessage) (*reply, error) {
			msg, err := decodePayload[T](payload)
			if err != nil {
				return nil, err
			}
			return nil, h.Run(ctx, c, msg)
		},
	}
}

// decodePayload structurally validates the raw payload against T, then runs
// the payload's own Validate if it has one. An absent payload decodes as the
// zero value.
func decodePayload[T any](payload json.RawMessage) (T, error) {
	var msg T
	if len(payload) == 0 {
		return msg, validatePayload(msg)
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, &decodeError{err: err}
	}
	return msg, validatePayload(msg)
}

func validatePayload[T any](msg T) error {
	if v, ok := any(msg).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return &invalidError{err: err}
		}
	} else if v, ok := any(&msg).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return &invalidError{err: err}
		}
	}
	return nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// messageActionOf resolves the discriminator of an output type without a
// live value. Pointer types are instantiated so the method can be called on
// a non-nil receiver.
func messageActionOf[R Message]() string {
	t := typeOf[R]()
	if t.Kind() == reflect.Pointer {
		if m, ok := reflect.New(t.Elem()).Interface().(Message); ok {
			return m.Action()
		}
		return ""
	}
	var r R
	return r.Action()
}

// Build validates the collected declarations and produces the immutable
// Registry. Duplicate discriminator values within one direction, reserved
// values, and declared outputs contradicting inferred ones all fail here, at
// startup, before any connection is accepted.
func (b *Builder) Build() (*Registry, error) {
	table := map[Direction]map[string]binding{
		DirectionClient: make(map[string]binding),
		DirectionEvent:  make(map[string]binding),
	}

	for _, bind := range b.bindings {
		if bind.action == "" {
			return nil, &ConstructionError{Reason: "empty discriminator value"}
		}
		if reserved(bind.action) {
			return nil, &ConstructionError{Reason: fmt.Sprintf("discriminator %q is reserved", bind.action)}
		}
		dir := table[bind.direction]
		if _, dup := dir[bind.action]; dup {
			return nil, &ConstructionError{
				Reason: fmt.Sprintf("duplicate %s discriminator %q", bind.direction, bind.action),
			}
		}
		dir[bind.action] = bind
	}

	for _, decl := range b.declared {
		bind, ok := table[decl.direction][decl.action]
		if !ok {
			return nil, &ConstructionError{
				Reason: fmt.Sprintf("output declared for unregistered %s discriminator %q", decl.direction, decl.action),
			}
		}
		if bind.output != nil && bind.output != decl.output {
			return nil, &ConstructionError{
				Reason: fmt.Sprintf("declared output %s for %s %q contradicts inferred %s",
					decl.output, decl.direction, decl.action, bind.output),
			}
		}
		bind.output = decl.output
		if m, ok := reflect.New(decl.output).Interface().(Message); ok && bind.outputAction == "" {
			bind.outputAction = m.Action()
		}
		table[decl.direction][decl.action] = bind
	}

	return &Registry{
		cfg:    b.cfg,
		client: newUnion(b.cfg.DiscriminatorField, table[DirectionClient]),
		events: newUnion(b.cfg.DiscriminatorField, table[DirectionEvent]),
		table:  table,
	}, nil
}

func newUnion(field string, bindings map[string]binding) *DiscriminatedUnion {
	types := make(map[string]MessageType, len(bindings))
	for action, bind := range bindings {
		types[action] = MessageType{
			Action: action,
			Input:  bind.input,
			Output: bind.output,
			Doc:    bind.doc,
		}
	}
	return &DiscriminatedUnion{field: field, types: types}
}

// Registry is the immutable product of Builder.Build: two discriminated
// unions (client messages and events) plus the handler table. Safe for
// concurrent reads from every connection task.
type Registry struct {
	cfg    Config
	client *DiscriminatedUnion
	events *DiscriminatedUnion
	table  map[Direction]map[string]binding
}

// Config returns the configuration the registry was built with.
func (r *Registry) Config() Config { return r.cfg }

// ClientUnion returns the discriminated union over client messages.
func (r *Registry) ClientUnion() *DiscriminatedUnion { return r.client }

// EventUnion returns the discriminated union over events.
func (r *Registry) EventUnion() *DiscriminatedUnion { return r.events }

func (r *Registry) lookup(dir Direction, action string) (binding, bool) {
	bind, ok := r.table[dir][action]
	return bind, ok
}

// BindingInfo is the human-readable description of one handler binding.
type BindingInfo struct {
	Action    string
	Direction Direction
	Input     string
	Output    string
	Doc       string
}

// Bindings returns descriptions of every registered handler, sorted by
// direction then discriminator. Intended for startup logs and tooling.
func (r *Registry) Bindings() []BindingInfo {
	var out []BindingInfo
	for _, dir := range []Direction{DirectionClient, DirectionEvent} {
		for _, bind := range r.table[dir] {
			info := BindingInfo{
				Action:    bind.action,
				Direction: bind.direction,
				Input:     bind.input.String(),
				Doc:       bind.doc,
			}
			if bind.output != nil {
				info.Output = bind.output.String()
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction < out[j].Direction
		}
		return out[i].Action < out[j].Action
	})
	return out
}
