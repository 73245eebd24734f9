package conduit_test

import (
	"context"
	"fmt"

	"github.com/bjaus/conduit"
)

type Ping struct {
	N int `json:"n"`
}

type Pong struct {
	N int `json:"n"`
}

func (Pong) Action() string { return "pong" }

type Announce struct {
	Text string `json:"text"`
}

func (Announce) Action() string { return "announce" }

func ExampleDispatcher() {
	b := conduit.NewBuilder(conduit.Config{})
	conduit.HandleFunc(b, "ping", func(_ context.Context, _ *conduit.Conn, msg Ping) (Pong, error) {
		return Pong{N: msg.N + 1}, nil
	})
	reg, err := b.Build()
	if err != nil {
		panic(err)
	}
	d := conduit.NewDispatcher(reg, conduit.NewLocalTransport())

	frames := make(chan []byte, 1)
	c := d.NewConn("conn-1", func(data []byte) error {
		frames <- data
		return nil
	})
	if err := c.Open(context.Background(), nil); err != nil {
		panic(err)
	}
	defer c.Close()

	c.Receive([]byte(`{"action":"ping","payload":{"n":1}}`))
	fmt.Printf("%s\n", <-frames)
	// Output: {"action":"pong","payload":{"n":2}}
}

func ExampleEventSender_Broadcast() {
	b := conduit.NewBuilder(conduit.Config{})
	conduit.HandleEventFunc(b, "announce", func(_ context.Context, _ *conduit.Conn, msg Announce) (Announce, error) {
		return msg, nil
	})
	reg, err := b.Build()
	if err != nil {
		panic(err)
	}
	transport := conduit.NewLocalTransport()
	d := conduit.NewDispatcher(reg, transport)

	frames := make(chan []byte, 1)
	c := d.NewConn("conn-1", func(data []byte) error {
		frames <- data
		return nil
	})
	if err := c.Open(context.Background(), nil); err != nil {
		panic(err)
	}
	defer c.Close()
	if err := c.JoinGroup(context.Background(), "lobby"); err != nil {
		panic(err)
	}

	// A background job pushes into the lobby; each recipient sees the
	// per-recipient relevance flags.
	sender := conduit.NewEventSender(transport, conduit.Config{})
	if err := sender.Broadcast(context.Background(), "lobby", Announce{Text: "maintenance at noon"}); err != nil {
		panic(err)
	}
	fmt.Printf("%s\n", <-frames)
	// Output: {"action":"announce","isCurrent":false,"isMine":false,"payload":{"text":"maintenance at noon"}}
}
