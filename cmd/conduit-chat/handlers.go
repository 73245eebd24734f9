package main

import (
	"context"
	"errors"
	"time"

	"github.com/bjaus/conduit"
)

// Wire types for the chat protocol.

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64  `json:"timestamp"`
	ServerTS  int64  `json:"serverTs"`
	ClientID  string `json:"clientId"`
}

func (Pong) Action() string { return "pong" }

type Chat struct {
	Text string `json:"text"`
}

func (c Chat) Validate() error {
	if c.Text == "" {
		return errors.New("text is required")
	}
	return nil
}

type ChatNotify struct {
	Text string `json:"text"`
	From string `json:"from,omitempty"`
}

func (ChatNotify) Action() string { return "chat_notify" }

type JoinRoom struct {
	Room string `json:"room"`
}

func (j JoinRoom) Validate() error {
	if j.Room == "" {
		return errors.New("room is required")
	}
	return nil
}

type LeaveRoom struct {
	Room string `json:"room"`
}

type RoomUpdate struct {
	Room   string `json:"room"`
	Status string `json:"status"`
}

func (RoomUpdate) Action() string { return "room_update" }

// JobDone is injected by background workers when long-running work
// finishes; it reaches clients through the event union.
type JobDone struct {
	JobID  string `json:"jobId"`
	Result string `json:"result"`
}

type JobNotify struct {
	JobID  string `json:"jobId"`
	Result string `json:"result"`
}

func (JobNotify) Action() string { return "job_notify" }

// buildRegistry declares the chat protocol's handlers.
func buildRegistry(cfg conduit.Config) (*conduit.Registry, error) {
	b := conduit.NewBuilder(cfg)

	conduit.HandleFunc(b, "ping",
		func(_ context.Context, c *conduit.Conn, msg Ping) (Pong, error) {
			return Pong{
				Timestamp: msg.Timestamp,
				ServerTS:  time.Now().UnixMilli(),
				ClientID:  c.ID(),
			}, nil
		},
		conduit.WithDoc("liveness probe; echoes the client timestamp"))

	conduit.HandleProcFunc(b, "chat",
		func(ctx context.Context, c *conduit.Conn, msg Chat) error {
			notify := ChatNotify{Text: msg.Text}
			if id := c.Identity(); id != nil {
				notify.From = id.Name
			}
			return c.Broadcast(ctx, notify)
		},
		conduit.WithDoc("fan a chat line out to the sender's rooms"))
	b.DeclareOutput(conduit.DirectionClient, "chat", ChatNotify{})

	conduit.HandleFunc(b, "join",
		func(ctx context.Context, c *conduit.Conn, msg JoinRoom) (RoomUpdate, error) {
			if err := c.JoinGroup(ctx, msg.Room); err != nil {
				return RoomUpdate{}, err
			}
			return RoomUpdate{Room: msg.Room, Status: "joined"}, nil
		},
		conduit.WithDoc("join a chat room"))

	conduit.HandleFunc(b, "leave",
		func(ctx context.Context, c *conduit.Conn, msg LeaveRoom) (RoomUpdate, error) {
			if err := c.LeaveGroup(ctx, msg.Room); err != nil {
				return RoomUpdate{}, err
			}
			return RoomUpdate{Room: msg.Room, Status: "left"}, nil
		},
		conduit.WithDoc("leave a chat room"))

	conduit.HandleEventFunc(b, "job_done",
		func(_ context.Context, _ *conduit.Conn, msg JobDone) (JobNotify, error) {
			return JobNotify{JobID: msg.JobID, Result: msg.Result}, nil
		},
		conduit.WithDoc("surface finished background jobs to clients"))

	return b.Build()
}
