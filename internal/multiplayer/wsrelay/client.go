package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"tavern/internal/core"
	"tavern/internal/multiplayer"
	"tavern/pkg/game"
)

// ErrClosed is returned for calls on a client whose connection has ended.
var ErrClosed = errors.New("relay connection closed")

const unsubscribeTimeout = 5 * time.Second

// Client is a multiplayer.Store backed by a remote relay server.
//
// Documents pushed by the server are delivered in order on a single dispatch
// goroutine, so subscriber callbacks may call back into the Client.
type Client struct {
	ws     *websocket.Conn
	logger core.Logger
	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	mu      sync.Mutex
	nextReq uint64
	pending map[uint64]chan Msg
	subs    map[string][]*subscription
	err     error
}

var _ multiplayer.Store = (*Client)(nil)

type subscription struct {
	fn    func(game.Document)
	ready chan struct{}
	once  sync.Once
}

func (s *subscription) deliver(doc game.Document) {
	s.fn(multiplayer.CloneDocument(doc))
	s.once.Do(func() { close(s.ready) })
}

// event is either a pushed document or a request to replay the latest
// document of a session to a newly attached subscriber.
type event struct {
	session string
	doc     *game.Document
	attach  *subscription
}

// Dial connects to the relay at url (ws:// or wss://, path included).
func Dial(ctx context.Context, url string, logger core.Logger) (*Client, error) {
	if logger == nil {
		logger = core.NopLogger{}
	}
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	ws.SetReadLimit(readLimit)

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:      ws,
		logger:  logger,
		ctx:     cctx,
		cancel:  cancel,
		events:  make(chan event, sendBuffer),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan Msg),
		subs:    make(map[string][]*subscription),
	}
	go c.readLoop()
	go c.dispatch()
	logger.Info("Connected to relay", "url", url)
	return c, nil
}

// Close ends the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "bye")
	c.cancel()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	for {
		var m Msg
		if err := wsjson.Read(c.ctx, c.ws, &m); err != nil {
			c.fail(err)
			return
		}
		switch m.T {
		case TypeDoc:
			if m.Doc != nil {
				c.events <- event{session: m.Session, doc: m.Doc}
			}
		case TypeOK, TypeError:
			c.mu.Lock()
			reply, ok := c.pending[m.Req]
			delete(c.pending, m.Req)
			c.mu.Unlock()
			if ok {
				reply <- m
			}
		default:
			c.logger.Debug("Ignoring relay frame", "type", m.T)
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
		close(c.done)
	}
}

func (c *Client) dispatch() {
	latest := make(map[string]game.Document)
	for {
		var ev event
		select {
		case ev = <-c.events:
		case <-c.done:
			return
		}
		if ev.attach != nil {
			if doc, ok := latest[ev.session]; ok {
				ev.attach.deliver(doc)
			}
			continue
		}
		latest[ev.session] = *ev.doc
		c.mu.Lock()
		subs := append([]*subscription(nil), c.subs[ev.session]...)
		c.mu.Unlock()
		for _, s := range subs {
			s.deliver(*ev.doc)
		}
	}
}

// call sends m and waits for the matching reply.
func (c *Client) call(ctx context.Context, m Msg) (Msg, error) {
	reply := make(chan Msg, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Msg{}, err
	}
	c.nextReq++
	m.Req = c.nextReq
	c.pending[m.Req] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, m.Req)
		c.mu.Unlock()
	}

	if err := wsjson.Write(ctx, c.ws, m); err != nil {
		forget()
		return Msg{}, fmt.Errorf("send %s: %w", m.T, err)
	}

	select {
	case r := <-reply:
		if r.T == TypeError {
			return r, &RemoteError{Code: r.Code, Message: r.Error}
		}
		return r, nil
	case <-ctx.Done():
		forget()
		return Msg{}, ctx.Err()
	case <-c.done:
		forget()
		return Msg{}, c.closedErr()
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Create(ctx context.Context, id string, doc game.Document) error {
	_, err := c.call(ctx, Msg{T: TypeCreate, Session: id, Doc: &doc})
	return err
}

func (c *Client) Get(ctx context.Context, id string) (game.Document, error) {
	r, err := c.call(ctx, Msg{T: TypeGet, Session: id})
	if err != nil {
		return game.Document{}, err
	}
	if r.Doc == nil {
		return game.Document{}, fmt.Errorf("relay returned no document for %s", id)
	}
	return *r.Doc, nil
}

func (c *Client) AppendToTranscript(ctx context.Context, id string, msg game.Message) error {
	_, err := c.call(ctx, Msg{T: TypeAppend, Session: id, Message: &msg})
	return err
}

func (c *Client) UpdateFields(ctx context.Context, id string, patch game.Patch) error {
	_, err := c.call(ctx, Msg{T: TypeUpdate, Session: id, Patch: &patch})
	return err
}

// Subscribe registers fn and returns once fn has seen the current document.
// The server subscription is shared by all local subscribers of a session.
func (c *Client) Subscribe(ctx context.Context, id string, fn func(game.Document)) (func(), error) {
	sub := &subscription{fn: fn, ready: make(chan struct{})}

	c.mu.Lock()
	first := len(c.subs[id]) == 0
	c.subs[id] = append(c.subs[id], sub)
	c.mu.Unlock()

	if first {
		if _, err := c.call(ctx, Msg{T: TypeSubscribe, Session: id}); err != nil {
			c.remove(id, sub)
			return nil, err
		}
	} else {
		select {
		case c.events <- event{session: id, attach: sub}:
		case <-c.done:
		}
	}

	select {
	case <-sub.ready:
	case <-ctx.Done():
		c.remove(id, sub)
		return nil, ctx.Err()
	case <-c.done:
		c.remove(id, sub)
		return nil, c.closedErr()
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			if c.remove(id, sub) {
				ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
				defer cancel()
				if _, err := c.call(ctx, Msg{T: TypeUnsubscribe, Session: id}); err != nil {
					c.logger.Debug("Relay unsubscribe failed", "session", id, "error", err)
				}
			}
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}, nil
}

// remove drops sub and reports whether it was the last one for id.
func (c *Client) remove(id string, sub *subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[id]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(c.subs, id)
		return true
	}
	c.subs[id] = subs
	return false
}
