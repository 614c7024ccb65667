package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/server"
	"github.com/gorilla/websocket"
)

func startBroker(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go server.Serve(l)
	t.Cleanup(func() { l.Close() })
	return l.Addr().String()
}

// tcpDialer dials the broker directly and remembers the last connection so
// tests can cut it.
type tcpDialer struct {
	addr  string
	calls atomic.Int32

	mu   sync.Mutex
	last net.Conn
}

func (d *tcpDialer) Dial(ctx context.Context, cfg Config) (io.ReadWriteCloser, error) {
	d.calls.Add(1)
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.last = conn
	d.mu.Unlock()
	return conn, nil
}

func (d *tcpDialer) cut() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last.Close()
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
	errs   []error
	ch     chan State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan State, 32)}
}

func (r *stateRecorder) handle(s State, err error) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- s
}

func (r *stateRecorder) waitFor(t *testing.T, want State) error {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				r.mu.Lock()
				defer r.mu.Unlock()
				return r.errs[len(r.errs)-1]
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func nextEvent(t *testing.T, events <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-events:
		return ev, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}, false
}

func TestRoundTripThroughBroker(t *testing.T) {
	dialer := &tcpDialer{addr: startBroker(t)}
	rec := newStateRecorder()
	ch := NewChannel(Config{URL: "tcp://" + dialer.addr}, WithDialer(dialer.Dial), WithStateHandler(rec.handle))

	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if ch.State() != Connected {
		t.Fatalf("expected connected, got %s", ch.State())
	}

	topic := "/user/1/queue/messages"
	sub, err := ch.Subscribe(topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payloads := []string{`{"id":1}`, `{"id":2}`, `{"id":3}`}
	for _, p := range payloads {
		if err := ch.Send(topic, []byte(p)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	for _, want := range payloads {
		ev, ok := nextEvent(t, sub.Events())
		if !ok {
			t.Fatal("stream closed early")
		}
		if ev.Err != nil {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		if string(ev.Body) != want {
			t.Fatalf("expected %s, got %s", want, ev.Body)
		}
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := nextEvent(t, sub.Events()); ok {
		t.Fatal("expected stream to be closed after Close")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []State{Connecting, Connected, Closing, Disconnected}
	if len(rec.states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, rec.states)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, rec.states)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dialer := &tcpDialer{addr: startBroker(t)}
	ch := NewChannel(Config{URL: "tcp://" + dialer.addr}, WithDialer(dialer.Dial))
	defer ch.Close()

	for i := 0; i < 3; i++ {
		if err := ch.Open(context.Background()); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}
	if n := dialer.calls.Load(); n != 1 {
		t.Fatalf("expected one dial, got %d", n)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	ch := NewChannel(Config{URL: "ws://nowhere"})

	err := ch.Send("/app/chat", []byte(`{}`))
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected SendError, got %v", err)
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if sendErr.Destination != "/app/chat" {
		t.Fatalf("unexpected destination: %s", sendErr.Destination)
	}

	if _, err := ch.Subscribe("/user/1/queue/messages"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected from Subscribe, got %v", err)
	}
}

func TestCloseWhileConnecting(t *testing.T) {
	dialing := make(chan struct{})
	blocking := func(ctx context.Context, cfg Config) (io.ReadWriteCloser, error) {
		close(dialing)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ch := NewChannel(Config{URL: "ws://slow"}, WithDialer(blocking))

	result := make(chan error, 1)
	go func() { result <- ch.Open(context.Background()) }()

	<-dialing
	if ch.State() != Connecting {
		t.Fatalf("expected connecting, got %s", ch.State())
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-result:
		var connErr *ConnectionError
		if !errors.As(err, &connErr) {
			t.Fatalf("expected ConnectionError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Open did not return after Close")
	}

	if ch.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", ch.State())
	}
	if err := ch.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestOpenFailureIsConnectionError(t *testing.T) {
	refused := func(ctx context.Context, cfg Config) (io.ReadWriteCloser, error) {
		return nil, errors.New("connection refused")
	}
	ch := NewChannel(Config{URL: "ws://down"}, WithDialer(refused))

	err := ch.Open(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.URL != "ws://down" {
		t.Fatalf("expected ConnectionError for ws://down, got %v", err)
	}
	if ch.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", ch.State())
	}
}

func TestDropEndsStreamAndAllowsReopen(t *testing.T) {
	dialer := &tcpDialer{addr: startBroker(t)}
	rec := newStateRecorder()
	ch := NewChannel(Config{URL: "tcp://" + dialer.addr}, WithDialer(dialer.Dial), WithStateHandler(rec.handle))
	defer ch.Close()

	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	sub, err := ch.Subscribe("/user/7/queue/messages")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	rec.waitFor(t, Connected)

	dialer.cut()

	dropErr := rec.waitFor(t, Disconnected)
	var connErr *ConnectionError
	if !errors.As(dropErr, &connErr) {
		t.Fatalf("expected ConnectionError on drop, got %v", dropErr)
	}

	for {
		ev, ok := nextEvent(t, sub.Events())
		if !ok {
			break
		}
		if ev.Err == nil {
			t.Fatalf("unexpected event after drop: %s", ev.Body)
		}
	}

	if err := ch.Send("/app/chat", []byte(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after drop, got %v", err)
	}

	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := dialer.calls.Load(); n != 2 {
		t.Fatalf("expected a second dial, got %d", n)
	}
}

func TestWebSocketConnCarriesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"v12.stomp"}}
	var gotCookie atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie.Store(r.Header.Get("Cookie"))
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Cookie", "SESSION=abc")
	cfg := Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Header: header, DialTimeout: 5 * time.Second}

	rwc, err := DialWebSocket(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer rwc.Close()

	if gotCookie.Load() != "SESSION=abc" {
		t.Fatalf("handshake header not forwarded: %v", gotCookie.Load())
	}

	frame := "SEND\ndestination:/app/chat\n\n{}\x00"
	if _, err := rwc.Write([]byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Read in small chunks to cross message boundaries.
	var got []byte
	buf := make([]byte, 5)
	for len(got) < len(frame) {
		n, err := rwc.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != frame {
		t.Fatalf("expected %q, got %q", frame, got)
	}
}
