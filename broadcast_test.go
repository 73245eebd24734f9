package conduit

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// cluster is a set of open connections sharing one in-process transport,
// driven through the real connection tasks.
type cluster struct {
	t         *testing.T
	transport *LocalTransport
	d         *Dispatcher
}

func newCluster(t *testing.T, reg *Registry, opts ...Option) *cluster {
	t.Helper()
	transport := NewLocalTransport()
	return &cluster{
		t:         t,
		transport: transport,
		d:         NewDispatcher(reg, transport, opts...),
	}
}

func (cl *cluster) open(id string, identity *Identity, groups ...string) (*Conn, *frameSink) {
	cl.t.Helper()
	sink := &frameSink{}
	c := cl.d.NewConn(id, sink.out)
	require.NoError(cl.t, c.Open(context.Background(), identity))
	for _, g := range groups {
		require.NoError(cl.t, c.JoinGroup(context.Background(), g))
	}
	cl.t.Cleanup(func() { _ = c.Close() })
	return c, sink
}

func chatRegistry(t *testing.T, opts ...BroadcastOption) *Registry {
	t.Helper()
	b := NewBuilder(Config{CompletionSignals: true})
	HandleProcFunc(b, "chat", func(ctx context.Context, c *Conn, msg chatMsg) error {
		return c.Broadcast(ctx, chatNotifyMsg{Text: msg.Text}, opts...)
	})
	b.DeclareOutput(DirectionClient, "chat", chatNotifyMsg{})
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

type relevance struct {
	IsMine    bool
	IsCurrent bool
}

func notifyFlags(t *testing.T, frame []byte) relevance {
	t.Helper()
	m := decodeFrame(t, frame)
	require.Equal(t, "chat_notify", m["action"])
	mine, _ := m["isMine"].(bool)
	current, _ := m["isCurrent"].(bool)
	return relevance{IsMine: mine, IsCurrent: current}
}

func TestBroadcast_RelevanceFlags(t *testing.T) {
	cl := newCluster(t, chatRegistry(t))

	alice := &Identity{ID: "u1", Name: "alice"}
	origin, originSink := cl.open("conn-a", alice, "room")
	_, deviceSink := cl.open("conn-a2", &Identity{ID: "u1", Name: "alice"}, "room")
	_, otherSink := cl.open("conn-b", &Identity{ID: "u2", Name: "bob"}, "room")

	origin.Receive([]byte(`{"action":"chat","payload":{"text":"hello"}}`))

	// Origin: its own unit of work completes before the queued group
	// delivery is processed.
	frames := originSink.wait(t, 3)
	require.Equal(t, ActionComplete, frameAction(t, frames[0]))
	require.Equal(t, ActionGroupComplete, frameAction(t, frames[1]))
	if diff := cmp.Diff(relevance{IsMine: true, IsCurrent: true}, notifyFlags(t, frames[2])); diff != "" {
		t.Errorf("origin flags mismatch (-want +got):\n%s", diff)
	}

	// Same identity on a second connection: mine, not current.
	frames = deviceSink.wait(t, 1)
	if diff := cmp.Diff(relevance{IsMine: true, IsCurrent: false}, notifyFlags(t, frames[0])); diff != "" {
		t.Errorf("second-device flags mismatch (-want +got):\n%s", diff)
	}

	// Different identity: neither.
	frames = otherSink.wait(t, 1)
	if diff := cmp.Diff(relevance{}, notifyFlags(t, frames[0])); diff != "" {
		t.Errorf("other-member flags mismatch (-want +got):\n%s", diff)
	}

	// Payload survives enrichment.
	payload, _ := decodeFrame(t, frames[0])["payload"].(map[string]any)
	require.Equal(t, "hello", payload["text"])
}

func TestBroadcast_AnonymousOrigin(t *testing.T) {
	cl := newCluster(t, chatRegistry(t))

	origin, originSink := cl.open("conn-a", nil, "room")
	_, otherSink := cl.open("conn-b", nil, "room")

	origin.Receive([]byte(`{"action":"chat","payload":{"text":"hi"}}`))

	// Null identities never match, even on the origin connection itself.
	frames := originSink.wait(t, 3)
	require.Equal(t, relevance{IsMine: false, IsCurrent: true}, notifyFlags(t, frames[2]))

	frames = otherSink.wait(t, 1)
	require.Equal(t, relevance{}, notifyFlags(t, frames[0]))
}

func TestBroadcast_ExcludeOrigin(t *testing.T) {
	cl := newCluster(t, chatRegistry(t, ExcludeOrigin()))

	origin, originSink := cl.open("conn-a", &Identity{ID: "u1"}, "room")
	_, otherSink := cl.open("conn-b", &Identity{ID: "u2"}, "room")

	origin.Receive([]byte(`{"action":"chat","payload":{"text":"hi"}}`))

	otherSink.wait(t, 1)
	// Group-complete still fires: the broadcast happened even though the
	// origin is not a recipient.
	frames := originSink.wait(t, 2)
	require.Equal(t, ActionComplete, frameAction(t, frames[0]))
	require.Equal(t, ActionGroupComplete, frameAction(t, frames[1]))

	time.Sleep(20 * time.Millisecond)
	require.Len(t, originSink.snapshot(), 2, "origin received its own excluded broadcast")
}

func TestBroadcast_ToGroupsOverride(t *testing.T) {
	cl := newCluster(t, chatRegistry(t, ToGroups("ops")))

	origin, _ := cl.open("conn-a", &Identity{ID: "u1"}, "room")
	_, roomSink := cl.open("conn-b", &Identity{ID: "u2"}, "room")
	_, opsSink := cl.open("conn-c", &Identity{ID: "u3"}, "ops")

	origin.Receive([]byte(`{"action":"chat","payload":{"text":"paging"}}`))

	opsSink.wait(t, 1)
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, roomSink.snapshot(), "room member received an ops-only broadcast")
}

func TestBroadcast_NoGroupsIsNoop(t *testing.T) {
	cl := newCluster(t, chatRegistry(t))

	// Origin belongs to no group: the broadcast delivers to nobody and the
	// unit of work does not count as having broadcast.
	origin, originSink := cl.open("conn-a", &Identity{ID: "u1"})

	origin.Receive([]byte(`{"action":"chat","payload":{"text":"void"}}`))

	frames := originSink.wait(t, 1)
	require.Equal(t, ActionComplete, frameAction(t, frames[0]))
	time.Sleep(20 * time.Millisecond)
	require.Len(t, originSink.snapshot(), 1, "expected no group_complete without a broadcast")
}

func TestBroadcast_MembershipScopesDelivery(t *testing.T) {
	cl := newCluster(t, chatRegistry(t))

	origin, _ := cl.open("conn-a", &Identity{ID: "u1"}, "room")
	member, memberSink := cl.open("conn-b", &Identity{ID: "u2"}, "room")
	_, outsiderSink := cl.open("conn-c", &Identity{ID: "u3"}, "lounge")

	origin.Receive([]byte(`{"action":"chat","payload":{"text":"first"}}`))
	memberSink.wait(t, 1)

	// After leaving, the former member stops receiving.
	require.NoError(t, member.LeaveGroup(context.Background(), "room"))
	origin.Receive([]byte(`{"action":"chat","payload":{"text":"second"}}`))

	time.Sleep(20 * time.Millisecond)
	require.Len(t, memberSink.snapshot(), 1)
	require.Empty(t, outsiderSink.snapshot())
}

func TestBroadcast_Hook(t *testing.T) {
	type call struct {
		connID string
		action string
		groups []string
	}
	calls := make(chan call, 1)
	cl := newCluster(t, chatRegistry(t),
		WithOnBroadcast(func(_ context.Context, connID, action string, groups []string) {
			calls <- call{connID, action, groups}
		}))

	origin, _ := cl.open("conn-a", &Identity{ID: "u1"}, "room")
	origin.Receive([]byte(`{"action":"chat","payload":{"text":"hi"}}`))

	select {
	case got := <-calls:
		require.Equal(t, call{connID: "conn-a", action: "chat_notify", groups: []string{"room"}}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast hook never fired")
	}
}
