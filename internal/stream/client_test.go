package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/five82/printfarm/internal/cache"
	"github.com/five82/printfarm/internal/dispatch"
	"github.com/five82/printfarm/internal/printer"
	"github.com/five82/printfarm/internal/views"
)

// mockServer accepts push connections and hands them to the test.
type mockServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn

	mu  sync.Mutex
	all []*websocket.Conn
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(chan *websocket.Conn, 8),
	}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultPath {
			http.NotFound(w, r)
			return
		}
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.mu.Lock()
		m.all = append(m.all, conn)
		m.mu.Unlock()
		m.conns <- conn
	}))
	t.Cleanup(func() {
		m.mu.Lock()
		for _, c := range m.all {
			_ = c.Close()
		}
		m.mu.Unlock()
		m.server.Close()
	})
	return m
}

func (m *mockServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-m.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connection")
		return nil
	}
}

func (m *mockServer) expectNoConnection(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case <-m.conns:
		t.Fatalf("unexpected connection")
	case <-time.After(within):
	}
}

// countingDialer tracks how many dialed connections are still open.
type countingDialer struct {
	inner Dialer
	live  atomic.Int32
	max   atomic.Int32
	dials atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.dials.Add(1)
	conn, err := d.inner.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	n := d.live.Add(1)
	for {
		cur := d.max.Load()
		if n <= cur || d.max.CompareAndSwap(cur, n) {
			break
		}
	}
	return &countedConn{Conn: conn, d: d}, nil
}

type countedConn struct {
	Conn
	d    *countingDialer
	once sync.Once
}

func (c *countedConn) Close() error {
	c.once.Do(func() { c.d.live.Add(-1) })
	return c.Conn.Close()
}

// fakeConn blocks reads until closed and can fail writes.
type fakeConn struct {
	writeErr error
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn(writeErr error) *fakeConn {
	return &fakeConn{writeErr: writeErr, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("use of closed connection")
}

func (c *fakeConn) WriteMessage(int, []byte) error { return c.writeErr }
func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	attempts []time.Time
	dial     func(n int) (Conn, error)
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, time.Now())
	n := len(d.attempts)
	d.mu.Unlock()
	return d.dial(n)
}

func (d *fakeDialer) times() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.attempts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_DispatchesFramesAndSendsKeepalive(t *testing.T) {
	mock := newMockServer(t)
	store := cache.NewStore()
	v := views.New(store, nil)

	var states []State
	var statesMu sync.Mutex
	client := New(dispatch.New(store), Options{
		Server:            mock.server.URL,
		KeepaliveInterval: 20 * time.Millisecond,
		ReconnectDelay:    time.Second,
		OnStateChange: func(s State) {
			statesMu.Lock()
			states = append(states, s)
			statesMu.Unlock()
		},
	})
	defer client.Close()

	client.Enable()
	conn := mock.accept(t)
	waitFor(t, "open", func() bool { return client.State() == StateOpen })
	if client.ConnID() == "" {
		t.Fatalf("open connection has no id")
	}

	frame := []byte(`{"type":"printer_update","printer_id":"P1","percentage":42.7}`)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	waitFor(t, "percentage", func() bool {
		p, ok := v.Percentage.Get("P1")
		return ok && *p.PrintPercentage == 42.7
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read keepalive: %v", err)
	}
	if mt != websocket.TextMessage || string(data) != KeepaliveToken {
		t.Fatalf("keepalive = (%d, %q), want text %q", mt, data, KeepaliveToken)
	}

	client.Close()
	if got := client.State(); got != StateClosedByUser {
		t.Fatalf("state after close = %v, want closed_by_user", got)
	}

	statesMu.Lock()
	defer statesMu.Unlock()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateOpen {
		t.Fatalf("state changes = %v, want connecting then open first", states)
	}
}

func TestClient_SubscriberMayQueryClient(t *testing.T) {
	mock := newMockServer(t)
	store := cache.NewStore()
	v := views.New(store, nil)

	var client *Client
	type seen struct {
		state  State
		connID string
	}
	got := make(chan seen, 1)
	unsubscribe := v.Percentage.Subscribe("P1", func(printer.PercentagePayload) {
		got <- seen{state: client.State(), connID: client.ConnID()}
	})
	defer unsubscribe()

	client = New(dispatch.New(store), Options{Server: mock.server.URL, ReconnectDelay: time.Second})
	defer client.Close()

	client.Enable()
	conn := mock.accept(t)
	waitFor(t, "open", func() bool { return client.State() == StateOpen })

	frame := []byte(`{"type":"printer_update","printer_id":"P1","percentage":10}`)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	select {
	case s := <-got:
		if s.state != StateOpen || s.connID == "" {
			t.Fatalf("subscriber saw state %v conn %q, want open with an id", s.state, s.connID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber did not return; client lock held during dispatch")
	}
}

func TestClient_ReconnectsAfterServerClose(t *testing.T) {
	mock := newMockServer(t)
	dialer := &countingDialer{inner: WebsocketDialer{}}
	const delay = 40 * time.Millisecond
	client := New(nil, Options{
		Server:         mock.server.URL,
		ReconnectDelay: delay,
		Dialer:         dialer,
	})
	defer client.Close()

	client.Enable()
	first := mock.accept(t)
	waitFor(t, "open", func() bool { return client.State() == StateOpen })

	closedAt := time.Now()
	_ = first.Close()

	mock.accept(t)
	if elapsed := time.Since(closedAt); elapsed < delay {
		t.Fatalf("reconnected after %v, want at least %v", elapsed, delay)
	}
	waitFor(t, "reopen", func() bool { return client.State() == StateOpen })

	if got := dialer.max.Load(); got != 1 {
		t.Fatalf("max live connections = %d, want 1", got)
	}
	if got := dialer.dials.Load(); got != 2 {
		t.Fatalf("dials = %d, want 2", got)
	}
}

func TestClient_DisableStopsReconnect(t *testing.T) {
	mock := newMockServer(t)
	client := New(nil, Options{
		Server:         mock.server.URL,
		ReconnectDelay: 20 * time.Millisecond,
	})
	defer client.Close()

	client.Enable()
	conn := mock.accept(t)
	waitFor(t, "open", func() bool { return client.State() == StateOpen })

	client.Disable()
	client.Disable()
	waitFor(t, "closed by user", func() bool { return client.State() == StateClosedByUser })
	_ = conn.Close()

	mock.expectNoConnection(t, 150*time.Millisecond)
	if got := client.State(); got != StateClosedByUser {
		t.Fatalf("state = %v, want closed_by_user", got)
	}
}

func TestClient_RetriesFailedDialsAtFixedDelay(t *testing.T) {
	const delay = 20 * time.Millisecond
	dialer := &fakeDialer{dial: func(int) (Conn, error) { return nil, errors.New("connection refused") }}
	client := New(nil, Options{Server: "127.0.0.1:1", ReconnectDelay: delay, Dialer: dialer})

	client.Enable()
	waitFor(t, "three attempts", func() bool { return len(dialer.times()) >= 3 })
	if got := client.State(); got != StateConnecting {
		t.Fatalf("state = %v, want connecting while retrying", got)
	}
	client.Close()

	times := dialer.times()
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < delay {
			t.Fatalf("attempt %d after %v, want at least %v", i, gap, delay)
		}
	}

	n := len(dialer.times())
	time.Sleep(5 * delay)
	if got := len(dialer.times()); got != n {
		t.Fatalf("dialed %d more times after close", got-n)
	}
}

func TestClient_KeepaliveFailureReconnects(t *testing.T) {
	first := newFakeConn(errors.New("broken pipe"))
	dialer := &fakeDialer{dial: func(n int) (Conn, error) {
		if n == 1 {
			return first, nil
		}
		return newFakeConn(nil), nil
	}}
	client := New(nil, Options{
		Server:            "127.0.0.1:1",
		ReconnectDelay:    10 * time.Millisecond,
		KeepaliveInterval: 10 * time.Millisecond,
		Dialer:            dialer,
	})
	defer client.Close()

	client.Enable()
	waitFor(t, "second dial", func() bool { return len(dialer.times()) >= 2 })

	select {
	case <-first.closed:
	default:
		t.Fatalf("failed connection was not closed")
	}
	waitFor(t, "reopen", func() bool { return client.State() == StateOpen })
}

func TestClient_InvalidServerKeepsRetrying(t *testing.T) {
	dialer := &fakeDialer{dial: func(int) (Conn, error) { return newFakeConn(nil), nil }}
	client := New(nil, Options{Server: "ftp://printers", ReconnectDelay: 10 * time.Millisecond, Dialer: dialer})
	client.Enable()
	time.Sleep(50 * time.Millisecond)

	if got := client.State(); got != StateConnecting {
		t.Fatalf("state = %v, want connecting", got)
	}
	if n := len(dialer.times()); n != 0 {
		t.Fatalf("dialer called %d times for an invalid endpoint", n)
	}
	client.Close()
	if got := client.State(); got != StateClosedByUser {
		t.Fatalf("state after close = %v, want closed_by_user", got)
	}
}

func TestClient_DisableBeforeEnable(t *testing.T) {
	client := New(nil, Options{Server: "127.0.0.1:1"})
	client.Disable()
	client.Disable()
	client.Close()
	if got := client.State(); got != StateClosedByUser {
		t.Fatalf("state = %v, want closed_by_user", got)
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		server string
		path   string
		want   string
		err    bool
	}{
		{"127.0.0.1:8000", "", "ws://127.0.0.1:8000/ws", false},
		{"http://farm.local:8000", "/ws", "ws://farm.local:8000/ws", false},
		{"https://farm.example.com", "stream", "wss://farm.example.com/stream", false},
		{"http://farm.local:8000/ui/index.html?x=1", "", "ws://farm.local:8000/ws", false},
		{"ws://farm.local", "", "ws://farm.local/ws", false},
		{"", "", "", true},
		{"ftp://farm.local", "", "", true},
		{"http://", "", "", true},
	}
	for _, tt := range tests {
		got, err := Endpoint(tt.server, tt.path)
		if (err != nil) != tt.err {
			t.Fatalf("Endpoint(%q) err = %v, want error %v", tt.server, err, tt.err)
		}
		if got != tt.want {
			t.Fatalf("Endpoint(%q, %q) = %q, want %q", tt.server, tt.path, got, tt.want)
		}
	}
}
