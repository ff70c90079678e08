package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/five82/printfarm/internal/dispatch"
	"github.com/five82/printfarm/internal/logging"
	"github.com/five82/printfarm/internal/metrics"
)

const (
	DefaultPath              = "/ws"
	DefaultReconnectDelay    = 2 * time.Second
	DefaultKeepaliveInterval = 15 * time.Second

	// KeepaliveToken is the application-level text frame sent while open.
	KeepaliveToken = "ping"

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	closeTimeout     = time.Second
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a transport to the push endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Handler receives every text or binary frame read while open, one at a time
// and in read order. Dispatch runs without the client lock held, so it may
// call State or ConnID.
type Handler interface {
	Dispatch(raw []byte) dispatch.Result
}

// Options configures a Client. Zero durations use the defaults.
type Options struct {
	Server            string
	Path              string
	ReconnectDelay    time.Duration
	KeepaliveInterval time.Duration
	Dialer            Dialer

	// OnStateChange runs with the client lock held and must not call back
	// into the client.
	OnStateChange func(State)
}

// Client maintains at most one push connection while enabled and reconnects
// after a fixed delay whenever it drops.
type Client struct {
	opts    Options
	handler Handler
	dialer  Dialer

	mu         sync.Mutex
	machine    *Machine
	pending    []Event
	conn       Conn
	connID     string
	dialCancel context.CancelFunc
	reconnect  *time.Timer
	keepalive  *time.Timer

	// Frames awaiting the handler; one goroutine delivers at a time.
	outbox     [][]byte
	delivering bool

	wg sync.WaitGroup
}

// New returns a disabled client. Call Enable to connect.
func New(handler Handler, opts Options) *Client {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	return &Client{
		opts:    opts,
		handler: handler,
		dialer:  dialer,
		machine: NewMachine(opts.ReconnectDelay, opts.KeepaliveInterval),
	}
}

// Enable starts connecting. Calling it while already enabled does nothing.
func (c *Client) Enable() { c.post(Event{Kind: EventEnable}) }

// Disable closes any connection and cancels pending timers. It is safe to call
// repeatedly and before Enable.
func (c *Client) Disable() { c.post(Event{Kind: EventDisable}) }

// Close disables the client and waits for its goroutines to exit.
func (c *Client) Close() {
	c.Disable()
	c.wg.Wait()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// ConnID returns the id of the current connection, or "" when there is none.
func (c *Client) ConnID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

func (c *Client) post(ev Event) {
	c.mu.Lock()
	c.postLocked(ev)
	c.deliverUnlock()
}

// deliverUnlock hands queued frames to the handler with the lock released.
// It must be called with c.mu held and returns with it unlocked.
func (c *Client) deliverUnlock() {
	if c.delivering || len(c.outbox) == 0 {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.outbox) > 0 {
		raw := c.outbox[0]
		c.outbox[0] = nil
		c.outbox = c.outbox[1:]
		c.mu.Unlock()
		c.handler.Dispatch(raw)
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}

// postLocked drains the event queue. Effects may enqueue follow-up events,
// which run after the current effects finish.
func (c *Client) postLocked(ev Event) {
	c.pending = append(c.pending, ev)
	if len(c.pending) > 1 {
		return
	}
	for len(c.pending) > 0 {
		next := c.pending[0]
		prev := c.machine.State()
		for _, eff := range c.machine.Step(next) {
			c.run(eff)
		}
		if cur := c.machine.State(); cur != prev {
			c.stateChanged(prev, cur)
		}
		c.pending = c.pending[1:]
	}
}

func (c *Client) stateChanged(prev, cur State) {
	metrics.StreamState.Set(float64(cur))
	logging.Debug().
		Str("from", prev.String()).
		Str("to", cur.String()).
		Str("conn", c.connID).
		Msg("stream state changed")
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(cur)
	}
}

func (c *Client) run(eff Effect) {
	switch eff.Kind {
	case EffectDial:
		c.startDial()
	case EffectCancelDial:
		if c.dialCancel != nil {
			c.dialCancel()
		}
	case EffectScheduleReconnect:
		stopTimer(&c.reconnect)
		gen := eff.Gen
		c.reconnect = time.AfterFunc(eff.Delay, func() {
			c.post(Event{Kind: EventReconnectDue, Gen: gen})
		})
		metrics.StreamReconnectsScheduled.Inc()
		logging.Info().Dur("delay", eff.Delay).Msg("stream reconnect scheduled")
	case EffectCancelReconnect:
		stopTimer(&c.reconnect)
	case EffectStartKeepalive:
		stopTimer(&c.keepalive)
		gen := eff.Gen
		c.keepalive = time.AfterFunc(eff.Delay, func() {
			c.post(Event{Kind: EventKeepaliveDue, Gen: gen})
		})
	case EffectStopKeepalive:
		stopTimer(&c.keepalive)
	case EffectSendKeepalive:
		c.sendKeepalive()
	case EffectCloseTransport:
		c.closeTransport()
	case EffectDispatch:
		if c.handler != nil {
			c.outbox = append(c.outbox, eff.Payload)
		}
	}
}

func (c *Client) startDial() {
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	id := uuid.NewString()
	server, path, dialer := c.opts.Server, c.opts.Path, c.dialer

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		endpoint, err := Endpoint(server, path)
		var conn Conn
		if err == nil {
			conn, err = dialer.Dial(ctx, endpoint)
		}

		c.mu.Lock()
		c.dialCancel = nil
		if err != nil {
			metrics.StreamConnects.WithLabelValues("failure").Inc()
			logging.Warn().Err(err).Str("conn", id).Msg("stream dial failed")
			c.postLocked(Event{Kind: EventDialFailed})
			c.deliverUnlock()
			return
		}

		metrics.StreamConnects.WithLabelValues("success").Inc()
		logging.Info().Str("conn", id).Str("endpoint", endpoint).Msg("stream connected")
		c.conn = conn
		c.connID = id
		c.wg.Add(1)
		go c.readLoop(conn, id)
		c.postLocked(Event{Kind: EventDialSucceeded})
		c.deliverUnlock()
	}()
}

// readLoop owns reads on conn until it fails, then reports the close.
func (c *Client) readLoop(conn Conn, id string) {
	defer c.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				_ = conn.Close()
				c.conn = nil
				c.connID = ""
			}
			logging.Info().Str("conn", id).Err(err).Msg("stream closed")
			c.postLocked(Event{Kind: EventClosed})
			c.deliverUnlock()
			return
		}
		metrics.FramesReceived.Inc()
		c.post(Event{Kind: EventMessage, Payload: data})
	}
}

func (c *Client) sendKeepalive() {
	if c.conn == nil {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(KeepaliveToken)); err != nil {
		logging.Warn().Err(err).Str("conn", c.connID).Msg("stream keepalive failed")
		c.pending = append(c.pending, Event{Kind: EventTransportError})
	}
}

// closeTransport starts a close handshake; the read loop reports completion.
func (c *Client) closeTransport() {
	if c.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout)); err != nil {
		logging.Debug().Err(err).Str("conn", c.connID).Msg("stream close frame not sent")
	}
	if err := c.conn.Close(); err != nil {
		logging.Debug().Err(err).Str("conn", c.connID).Msg("stream close")
	}
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// Endpoint derives the push URL from the server origin: http becomes ws,
// https becomes wss, and a bare host:port is treated as http.
func Endpoint(server, path string) (string, error) {
	trimmed := strings.TrimSpace(server)
	if trimmed == "" {
		return "", errors.New("server address is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse server %q: %w", server, err)
	}
	scheme := ""
	switch u.Scheme {
	case "http", "ws":
		scheme = "ws"
	case "https", "wss":
		scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in server %q", u.Scheme, server)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server %q has no host", server)
	}
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: path}).String(), nil
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = handshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}
