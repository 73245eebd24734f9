package conduit

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Identity is the authenticated principal behind a connection. A nil
// *Identity means the connection is anonymous.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Equal reports whether both identities are non-nil and refer to the same
// principal.
func (i *Identity) Equal(other *Identity) bool {
	return i != nil && other != nil && i.ID == other.ID
}

// envelopeKind discriminates payloads moving through the channel layer.
type envelopeKind string

const (
	kindMessage    envelopeKind = "message"     // raw frame for one socket
	kindGroup      envelopeKind = "group"       // broadcast, enriched per recipient
	kindEvent      envelopeKind = "event"       // externally injected, unicast
	kindGroupEvent envelopeKind = "group_event" // externally injected, group
)

// envelope is the internal wrapper the transports move between processes.
// Body holds a complete wire frame (for message/group kinds) or the raw
// event frame (for event kinds).
type envelope struct {
	ID             string          `json:"id"`
	Kind           envelopeKind    `json:"kind"`
	Group          string          `json:"group,omitempty"`
	Origin         string          `json:"origin,omitempty"`
	OriginIdentity *Identity       `json:"origin_identity,omitempty"`
	ExcludeOrigin  bool            `json:"exclude_origin,omitempty"`
	Body           json.RawMessage `json:"body"`
}

func newEnvelope(kind envelopeKind, body json.RawMessage) envelope {
	return envelope{ID: uuid.NewString(), Kind: kind, Body: body}
}

func (e envelope) encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func parseEnvelope(data []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// frame builds an outbound wire frame: the discriminator field plus an
// optional payload.
func (c Config) frame(action string, payload any) ([]byte, error) {
	m := map[string]any{c.DiscriminatorField: action}
	if payload != nil {
		m["payload"] = payload
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %q frame: %w", action, err)
	}
	return data, nil
}

func (c Config) errorFrame(items []ErrorItem) ([]byte, error) {
	return c.frame(ActionError, items)
}

func (c Config) completeFrame() ([]byte, error) {
	return c.frame(ActionComplete, nil)
}

func (c Config) groupCompleteFrame() ([]byte, error) {
	return c.frame(ActionGroupComplete, nil)
}

// enrich injects the per-recipient relevance flags into an existing wire
// frame. isMine is true iff the recipient's identity equals the origin's
// (both non-nil); isCurrent is true iff the recipient is the origin
// connection itself.
func enrich(body json.RawMessage, isMine, isCurrent bool) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("enrich frame: %w", err)
	}
	fields["isMine"] = rawBool(isMine)
	fields["isCurrent"] = rawBool(isCurrent)
	return json.Marshal(fields)
}

func rawBool(b bool) json.RawMessage {
	if b {
		return json.RawMessage("true")
	}
	return json.RawMessage("false")
}
