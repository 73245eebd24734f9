package conduit

// Reserved discriminator values emitted by the framework itself. Handlers
// cannot be registered under these values.
const (
	// ActionError is the discriminator of outbound error frames.
	ActionError = "error"

	// ActionComplete marks the end of one unit of dispatch work.
	ActionComplete = "complete"

	// ActionGroupComplete marks that a group broadcast triggered by a unit
	// of work has been handed to the transport.
	ActionGroupComplete = "group_complete"
)

// DefaultDiscriminatorField is the wire field used to select a message type
// when Config.DiscriminatorField is empty.
const DefaultDiscriminatorField = "action"

// Config controls dispatch behavior for one connection class. It is read at
// construction time and never mutated afterward; every connection created by
// the same Dispatcher shares it.
//
// The zero value is usable: completion signals off, discriminator field
// "action", nothing excluded from logging.
type Config struct {
	// CompletionSignals enables the "complete" / "group_complete" marker
	// frames emitted after each unit of dispatch work. Primarily useful to
	// make asynchronous test assertions deterministic.
	CompletionSignals bool

	// DiscriminatorField is the wire field whose value selects the message
	// type. Defaults to "action".
	DiscriminatorField string

	// IgnoredActions lists discriminator values that logging hooks skip,
	// e.g. high-frequency heartbeats.
	IgnoredActions []string
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.DiscriminatorField == "" {
		c.DiscriminatorField = DefaultDiscriminatorField
	}
	return c
}

// ignored reports whether an action is excluded from logging.
func (c Config) ignored(action string) bool {
	for _, a := range c.IgnoredActions {
		if a == action {
			return true
		}
	}
	return false
}

// reserved reports whether a discriminator value is claimed by the framework.
func reserved(action string) bool {
	switch action {
	case ActionError, ActionComplete, ActionGroupComplete:
		return true
	}
	return false
}
