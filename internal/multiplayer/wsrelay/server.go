package wsrelay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"tavern/internal/core"
	"tavern/internal/multiplayer"
	"tavern/pkg/game"
)

const (
	pingInterval = 15 * time.Second
	sendBuffer   = 64
)

// Server exposes a Store to websocket clients.
type Server struct {
	store        multiplayer.Store
	logger       core.Logger
	allowOrigins map[string]bool
	allowAny     bool

	mu    sync.Mutex
	conns int
}

// NewServer creates a relay over store. Browser origins must appear in
// allow; "*" admits any origin. Requests without an Origin header are accepted.
func NewServer(store multiplayer.Store, allow []string, logger core.Logger) *Server {
	if logger == nil {
		logger = core.NopLogger{}
	}
	s := &Server{store: store, logger: logger, allowOrigins: map[string]bool{}}
	for _, a := range allow {
		switch a {
		case "":
		case "*":
			s.allowAny = true
		default:
			s.allowOrigins[a] = true
		}
	}
	return s
}

// Handler routes /ws to the relay and /healthz to a liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// conn is one connected participant.
type conn struct {
	ws     *websocket.Conn
	logger core.Logger

	mu     sync.Mutex
	closed bool
	send   chan Msg
	subs   map[string]func()
}

// push queues m without blocking. A client that cannot keep up is disconnected.
func (c *conn) push(m Msg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- m:
	default:
		c.logger.Warn("Send buffer full, dropping connection")
		go c.ws.Close(websocket.StatusPolicyViolation, "slow consumer")
	}
}

func (c *conn) shutdown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

// ServeWS upgrades the request and serves store operations until the peer leaves.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !s.allowAny && !s.allowOrigins[origin] {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	ctx := r.Context()
	c := &conn{
		ws:     ws,
		logger: s.logger.With("remote", r.RemoteAddr),
		send:   make(chan Msg, sendBuffer),
		subs:   make(map[string]func()),
	}
	s.track(1)
	defer s.track(-1)
	c.logger.Info("Relay client connected")

	// writer
	done := make(chan struct{})
	go func() {
		defer close(done)
		ping := time.NewTicker(pingInterval)
		defer ping.Stop()
		for {
			select {
			case m, ok := <-c.send:
				if !ok {
					_ = ws.Close(websocket.StatusNormalClosure, "bye")
					return
				}
				if err := wsjson.Write(ctx, ws, m); err != nil {
					c.logger.Debug("Write failed", "error", err)
				}
			case <-ping.C:
				_ = ws.Ping(ctx)
			}
		}
	}()

	// reader
	for {
		var m Msg
		if err := wsjson.Read(ctx, ws, &m); err != nil {
			break
		}
		c.push(s.handle(ctx, c, m))
	}

	c.shutdown()
	<-done
	c.logger.Info("Relay client disconnected")
}

func (s *Server) track(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns += delta
}

// handle executes one request and returns its reply.
func (s *Server) handle(ctx context.Context, c *conn, m Msg) Msg {
	reply := Msg{T: TypeOK, Req: m.Req, Session: m.Session}
	if m.Session == "" {
		return failure(reply, CodeBadInput, "session is required")
	}

	var err error
	switch m.T {
	case TypeCreate:
		if m.Doc == nil {
			return failure(reply, CodeBadInput, "doc is required")
		}
		err = s.store.Create(ctx, m.Session, *m.Doc)

	case TypeGet:
		var doc game.Document
		doc, err = s.store.Get(ctx, m.Session)
		reply.Doc = &doc

	case TypeAppend:
		if m.Message == nil {
			return failure(reply, CodeBadInput, "message is required")
		}
		err = s.store.AppendToTranscript(ctx, m.Session, *m.Message)

	case TypeUpdate:
		if m.Patch == nil {
			return failure(reply, CodeBadInput, "patch is required")
		}
		err = s.store.UpdateFields(ctx, m.Session, *m.Patch)

	case TypeSubscribe:
		err = s.subscribe(ctx, c, m.Session)

	case TypeUnsubscribe:
		c.mu.Lock()
		unsubscribe := c.subs[m.Session]
		delete(c.subs, m.Session)
		c.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}

	default:
		return failure(reply, CodeBadInput, fmt.Sprintf("unknown message type %q", m.T))
	}

	if err != nil {
		c.logger.Debug("Relay request failed", "type", m.T, "session", m.Session, "error", err)
		return failure(Msg{T: TypeError, Req: m.Req, Session: m.Session}, errorCode(err), err.Error())
	}
	return reply
}

// subscribe forwards every document of session to c. The current document is
// queued before the reply.
func (s *Server) subscribe(ctx context.Context, c *conn, session string) error {
	c.mu.Lock()
	_, exists := c.subs[session]
	c.mu.Unlock()
	if exists {
		return nil
	}

	unsubscribe, err := s.store.Subscribe(ctx, session, func(doc game.Document) {
		c.push(Msg{T: TypeDoc, Session: session, Doc: &doc})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		unsubscribe()
		return nil
	}
	c.subs[session] = unsubscribe
	return nil
}

func failure(m Msg, code, text string) Msg {
	m.T = TypeError
	m.Code = code
	m.Error = text
	return m
}
