// Package wsadapter binds conduit connections to gorilla/websocket sockets:
// it upgrades HTTP requests, runs the authentication gate, and pumps frames
// between the socket and the connection task.
package wsadapter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bjaus/conduit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
)

// ErrSendQueueFull is returned when a connection's outbound queue is full;
// the write pump treats it as a slow consumer and closes the socket.
var ErrSendQueueFull = errors.New("send queue full")

// Authenticator is the pre-dispatch gate: it yields an identity (nil for
// anonymous access) or rejects the connection before any message is
// dispatched.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*conduit.Identity, error)
}

// AuthenticatorFunc is a function adapter for Authenticator.
type AuthenticatorFunc func(ctx context.Context, r *http.Request) (*conduit.Identity, error)

// Authenticate implements the Authenticator interface.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) (*conduit.Identity, error) {
	return f(ctx, r)
}

// Anonymous admits every connection without an identity.
func Anonymous() Authenticator {
	return AuthenticatorFunc(func(context.Context, *http.Request) (*conduit.Identity, error) {
		return nil, nil
	})
}

// Option configures a Server.
type Option func(*Server)

// WithUpgrader overrides the websocket upgrader.
func WithUpgrader(u websocket.Upgrader) Option {
	return func(s *Server) {
		s.upgrader = u
	}
}

// WithLogger overrides the logger; defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithInitialGroups derives the groups a connection joins right after it
// opens, e.g. a room name from the request query.
func WithInitialGroups(fn func(r *http.Request) []string) Option {
	return func(s *Server) {
		s.initialGroups = fn
	}
}

// Server turns HTTP requests into live conduit connections.
type Server struct {
	dispatcher    *conduit.Dispatcher
	auth          Authenticator
	upgrader      websocket.Upgrader
	log           *slog.Logger
	initialGroups func(r *http.Request) []string
}

// New creates an adapter around a dispatcher and an authentication gate.
func New(d *conduit.Dispatcher, auth Authenticator, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		auth:       auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler that upgrades requests and serves each
// socket until it closes.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Error("websocket upgrade failed", "error", err)
			return
		}

		id := uuid.NewString()
		sess := newSession(ws)
		conn := s.dispatcher.NewConn(id, sess.enqueue)

		conn.BeginAuth()
		identity, err := s.auth.Authenticate(r.Context(), r)
		if err != nil {
			conn.Reject(err.Error())
			sess.closeWith(websocket.ClosePolicyViolation, "authentication failed")
			return
		}

		// The connection outlives the HTTP request; its lifetime is bound
		// to the socket, not to r.Context.
		if err := conn.Open(context.Background(), identity); err != nil {
			s.log.Error("open connection failed", "connId", id, "error", err)
			sess.closeWith(websocket.CloseInternalServerErr, "open failed")
			return
		}

		if s.initialGroups != nil {
			for _, g := range s.initialGroups(r) {
				if err := conn.JoinGroup(r.Context(), g); err != nil {
					s.log.Error("join group failed", "connId", id, "group", g, "error", err)
				}
			}
		}

		s.log.Debug("client connected", "connId", id)
		go sess.writePump()
		go s.readPump(sess, conn)
	}
}

// readPump feeds socket frames into the connection's work queue until the
// socket closes, then tears the connection down.
func (s *Server) readPump(sess *session, conn *conduit.Conn) {
	defer func() {
		_ = conn.Close()
		sess.close()
		s.log.Debug("client disconnected", "connId", conn.ID())
	}()

	sess.ws.SetReadLimit(maxMessageSize)
	_ = sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		return sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sess.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Error("read error", "connId", conn.ID(), "error", err)
			}
			return
		}
		conn.Receive(data)
	}
}

// session owns the socket and its outbound queue.
type session struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(ws *websocket.Conn) *session {
	return &session{
		ws:   ws,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

// enqueue is the connection's OutFunc: frames queue for the write pump.
func (s *session) enqueue(data []byte) error {
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return conduit.ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	_ = s.ws.Close()
}

func (s *session) closeWith(code int, reason string) {
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	s.close()
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.ws.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
