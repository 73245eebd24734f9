package conduit

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIdentity_Equal(t *testing.T) {
	u1 := &Identity{ID: "u1", Name: "alice"}
	cases := []struct {
		name string
		a, b *Identity
		want bool
	}{
		{"same id", u1, &Identity{ID: "u1", Name: "alice-phone"}, true},
		{"different id", u1, &Identity{ID: "u2"}, false},
		{"nil other", u1, nil, false},
		{"nil receiver", nil, u1, false},
		{"both nil", nil, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.want {
				t.Errorf("Equal = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConfig_Frame(t *testing.T) {
	cfg := Config{}.withDefaults()

	t.Run("with payload", func(t *testing.T) {
		data, err := cfg.frame("pong", pongMsg{Timestamp: 5})
		if err != nil {
			t.Fatalf("frame: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		want := map[string]any{
			"action":  "pong",
			"payload": map[string]any{"timestamp": float64(5)},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("frame mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("without payload", func(t *testing.T) {
		data, err := cfg.completeFrame()
		if err != nil {
			t.Fatalf("frame: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if _, exists := got["payload"]; exists {
			t.Error("complete frame carries a payload")
		}
		if got["action"] != ActionComplete {
			t.Errorf("action = %v", got["action"])
		}
	})

	t.Run("custom discriminator field", func(t *testing.T) {
		cfg := Config{DiscriminatorField: "type"}
		data, err := cfg.frame("pong", nil)
		if err != nil {
			t.Fatalf("frame: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["type"] != "pong" {
			t.Errorf("frame = %v, want type=pong", got)
		}
	})
}

func TestEnrich(t *testing.T) {
	body := []byte(`{"action":"chat_notify","payload":{"text":"hi"}}`)

	out, err := enrich(body, true, false)
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{
		"action":    "chat_notify",
		"payload":   map[string]any{"text": "hi"},
		"isMine":    true,
		"isCurrent": false,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("enriched frame mismatch (-want +got):\n%s", diff)
	}

	if _, err := enrich([]byte(`[1,2]`), false, false); err == nil {
		t.Error("enriching a non-object succeeded")
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env := newEnvelope(kindGroup, json.RawMessage(`{"action":"x"}`))
	env.Group = "room"
	env.Origin = "conn-a"
	env.OriginIdentity = &Identity{ID: "u1"}
	env.ExcludeOrigin = true

	data, err := env.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := parseEnvelope(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.ID == "" {
		t.Error("envelope id is empty")
	}
	if got.Kind != kindGroup || got.Group != "room" || got.Origin != "conn-a" || !got.ExcludeOrigin {
		t.Errorf("envelope = %+v", got)
	}
	if got.OriginIdentity == nil || got.OriginIdentity.ID != "u1" {
		t.Errorf("origin identity = %+v", got.OriginIdentity)
	}

	if _, err := parseEnvelope([]byte("not json")); err == nil {
		t.Error("parsing garbage succeeded")
	}
}
