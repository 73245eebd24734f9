package conduit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
)

func TestLocalTransport(t *testing.T) {
	ctx := context.Background()

	collect := func() (DeliveryFunc, func() [][]byte) {
		var mu sync.Mutex
		var got [][]byte
		deliver := func(data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, data)
			return nil
		}
		return deliver, func() [][]byte {
			mu.Lock()
			defer mu.Unlock()
			out := make([][]byte, len(got))
			copy(out, got)
			return out
		}
	}

	t.Run("unicast reaches the attached inbox", func(t *testing.T) {
		tr := NewLocalTransport()
		deliver, got := collect()
		detach, err := tr.Attach("a", deliver)
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		defer detach()

		if err := tr.Send(ctx, "a", []byte("one")); err != nil {
			t.Fatalf("send: %v", err)
		}
		if frames := got(); len(frames) != 1 || string(frames[0]) != "one" {
			t.Errorf("delivered = %q", frames)
		}
	})

	t.Run("send to unknown address", func(t *testing.T) {
		tr := NewLocalTransport()
		if err := tr.Send(ctx, "ghost", []byte("x")); !errors.Is(err, ErrUnknownAddress) {
			t.Errorf("err = %v, want ErrUnknownAddress", err)
		}
	})

	t.Run("duplicate attach fails", func(t *testing.T) {
		tr := NewLocalTransport()
		deliver, _ := collect()
		detach, err := tr.Attach("a", deliver)
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		defer detach()
		if _, err := tr.Attach("a", deliver); err == nil {
			t.Error("second attach succeeded")
		}
	})

	t.Run("join requires attachment", func(t *testing.T) {
		tr := NewLocalTransport()
		if err := tr.JoinGroup(ctx, "room", "ghost"); !errors.Is(err, ErrNotAttached) {
			t.Errorf("err = %v, want ErrNotAttached", err)
		}
	})

	t.Run("group send fans out to members only", func(t *testing.T) {
		tr := NewLocalTransport()
		deliverA, gotA := collect()
		deliverB, gotB := collect()
		deliverC, gotC := collect()
		for addr, deliver := range map[string]DeliveryFunc{"a": deliverA, "b": deliverB, "c": deliverC} {
			if _, err := tr.Attach(addr, deliver); err != nil {
				t.Fatalf("attach %s: %v", addr, err)
			}
		}
		for _, addr := range []string{"a", "b"} {
			if err := tr.JoinGroup(ctx, "room", addr); err != nil {
				t.Fatalf("join %s: %v", addr, err)
			}
		}

		if err := tr.SendToGroup(ctx, "room", []byte("hello")); err != nil {
			t.Fatalf("send to group: %v", err)
		}
		if len(gotA()) != 1 || len(gotB()) != 1 {
			t.Errorf("members: a=%d b=%d, want 1 each", len(gotA()), len(gotB()))
		}
		if len(gotC()) != 0 {
			t.Error("non-member received group send")
		}
	})

	t.Run("group send to empty group is fine", func(t *testing.T) {
		tr := NewLocalTransport()
		if err := tr.SendToGroup(ctx, "empty", []byte("x")); err != nil {
			t.Errorf("send to empty group: %v", err)
		}
	})

	t.Run("leave and re-leave are safe", func(t *testing.T) {
		tr := NewLocalTransport()
		deliver, got := collect()
		detach, err := tr.Attach("a", deliver)
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		defer detach()
		if err := tr.JoinGroup(ctx, "room", "a"); err != nil {
			t.Fatalf("join: %v", err)
		}
		if err := tr.LeaveGroup(ctx, "room", "a"); err != nil {
			t.Fatalf("leave: %v", err)
		}
		if err := tr.LeaveGroup(ctx, "room", "a"); err != nil {
			t.Fatalf("second leave: %v", err)
		}
		if err := tr.SendToGroup(ctx, "room", []byte("x")); err != nil {
			t.Fatalf("send: %v", err)
		}
		if len(got()) != 0 {
			t.Error("former member received group send")
		}
	})

	t.Run("detach removes group memberships", func(t *testing.T) {
		tr := NewLocalTransport()
		deliver, _ := collect()
		detach, err := tr.Attach("a", deliver)
		if err != nil {
			t.Fatalf("attach: %v", err)
		}
		if err := tr.JoinGroup(ctx, "room", "a"); err != nil {
			t.Fatalf("join: %v", err)
		}
		if err := detach(); err != nil {
			t.Fatalf("detach: %v", err)
		}
		if members := tr.Members("room"); len(members) != 0 {
			t.Errorf("members after detach = %v", members)
		}
	})

	t.Run("members snapshot", func(t *testing.T) {
		tr := NewLocalTransport()
		deliver, _ := collect()
		for _, addr := range []string{"a", "b"} {
			if _, err := tr.Attach(addr, deliver); err != nil {
				t.Fatalf("attach %s: %v", addr, err)
			}
			if err := tr.JoinGroup(ctx, "room", addr); err != nil {
				t.Fatalf("join %s: %v", addr, err)
			}
		}
		members := tr.Members("room")
		sort.Strings(members)
		if len(members) != 2 || members[0] != "a" || members[1] != "b" {
			t.Errorf("members = %v, want [a b]", members)
		}
	})
}
