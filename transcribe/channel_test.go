package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeConn is a scriptable Conn. The test feeds inbound messages into
// in; closing the conn unblocks any pending read.
type fakeConn struct {
	in     chan []byte
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	writes []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return io.EOF
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, string(data))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	copy(out, c.writes)
	return out
}

// fakeDialer scripts dial outcomes: one entry per attempt, nil conn
// means the attempt fails.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *fakeDialer) dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i >= len(d.conns) || d.conns[i] == nil {
		return nil, errors.New("dial refused")
	}
	return d.conns[i], nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testConfig(dial DialFunc) Config {
	return Config{
		URL:           "ws://test/transcribe/ws",
		MaxAttempts:   3,
		RetryInterval: 5 * time.Millisecond,
		DialTimeout:   time.Second,
		Dial:          dial,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestChannel_ConnectAndTranscripts(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := New(testConfig(dialer.dial))

	type update struct {
		text  string
		final bool
	}
	var mu sync.Mutex
	var got []update
	c.OnTranscript(func(text string, isFinal bool) {
		mu.Lock()
		got = append(got, update{text, isFinal})
		mu.Unlock()
	})

	c.SetActive(true)
	waitFor(t, func() bool { return c.State() == StateOpen })

	conn.in <- []byte(`{"type":"partial_transcript","text":"Hel"}`)
	conn.in <- []byte(`{"type":"partial_transcript","text":"Hello"}`)
	conn.in <- []byte(`not json at all`)
	conn.in <- []byte(`{"type":"final_transcript","text":"Hello there.","is_final":true}`)
	conn.in <- []byte(`{"type":"info","text":"Session stopped"}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []update{{"Hel", false}, {"Hello", false}, {"Hello there.", true}}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("update[%d] = %+v, want %+v", i, got[i], w)
		}
	}

	// A malformed message never alters connection state.
	if c.State() != StateOpen {
		t.Errorf("State() = %v, want open", c.State())
	}
}

func TestChannel_SendFrame(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := New(testConfig(dialer.dial))

	if err := c.SendFrame("QUJD"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SendFrame() while idle error = %v, want ErrNotOpen", err)
	}

	c.SetActive(true)
	waitFor(t, func() bool { return c.State() == StateOpen })

	if err := c.SendFrame("QUJD"); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}

	frames := conn.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("sent frames = %d, want 1", len(frames))
	}
	var msg map[string]string
	if err := json.Unmarshal([]byte(frames[0]), &msg); err != nil {
		t.Fatalf("unmarshal sent frame: %v", err)
	}
	if msg["audio_chunk"] != "QUJD" {
		t.Errorf("audio_chunk = %q, want %q", msg["audio_chunk"], "QUJD")
	}

	c.SetActive(false)
	if err := c.SendFrame("QUJD"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SendFrame() after deactivate error = %v, want ErrNotOpen", err)
	}
}

func TestChannel_ServerErrorEventKeepsConnection(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := New(testConfig(dialer.dial))

	var mu sync.Mutex
	var errs []error
	c.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	c.SetActive(true)
	waitFor(t, func() bool { return c.State() == StateOpen })

	conn.in <- []byte(`{"type":"error","text":"recognizer lost"}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	})

	mu.Lock()
	var serr *ServerError
	if !errors.As(errs[0], &serr) || serr.Message != "recognizer lost" {
		t.Errorf("error = %v, want ServerError(recognizer lost)", errs[0])
	}
	mu.Unlock()

	if c.State() != StateOpen {
		t.Errorf("State() = %v, want open after backend error event", c.State())
	}
}

func TestChannel_ReconnectBound(t *testing.T) {
	dialer := &fakeDialer{} // every attempt fails
	c := New(testConfig(dialer.dial))

	var mu sync.Mutex
	var errs []error
	c.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	c.SetActive(true)
	waitFor(t, func() bool { return c.State() == StateClosed })

	if got := dialer.dials(); got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}

	mu.Lock()
	if len(errs) != 1 || !errors.Is(errs[0], ErrExhausted) {
		t.Errorf("errors = %v, want [ErrExhausted]", errs)
	}
	mu.Unlock()

	// No 4th attempt after exhaustion.
	time.Sleep(50 * time.Millisecond)
	if got := dialer.dials(); got != 3 {
		t.Errorf("dial attempts after exhaustion = %d, want 3", got)
	}
}

func TestChannel_DeactivateCancelsRetry(t *testing.T) {
	dialer := &fakeDialer{} // first attempt fails
	cfg := testConfig(dialer.dial)
	cfg.RetryInterval = 50 * time.Millisecond
	c := New(cfg)

	c.SetActive(true)
	waitFor(t, func() bool { return c.State() == StateReconnecting })

	c.SetActive(false)
	if c.State() != StateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}

	// The pending reconnect timer was canceled: no attempt happens.
	time.Sleep(100 * time.Millisecond)
	if got := dialer.dials(); got != 1 {
		t.Errorf("dial attempts = %d, want 1", got)
	}

	// Flipping true again re-initiates connection.
	dialer.mu.Lock()
	dialer.conns = []*fakeConn{nil, newFakeConn()}
	dialer.mu.Unlock()
	c.SetActive(true)
	waitFor(t, func() bool { return c.State() == StateOpen })
}

func TestChannel_UnexpectedCloseReconnects(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	c := New(testConfig(dialer.dial))

	c.SetActive(true)
	waitFor(t, func() bool { return c.State() == StateOpen })

	// Server drops the connection while the flag is still true.
	first.Close()

	waitFor(t, func() bool { return c.State() == StateOpen && dialer.dials() == 2 })
}

func TestChannel_CloseFromAnyState(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	c := New(testConfig(dialer.dial))

	c.SetActive(true)
	waitFor(t, func() bool { return c.State() == StateOpen })

	c.Close()
	if c.State() != StateIdle {
		t.Errorf("State() = %v, want idle", c.State())
	}
	select {
	case <-conn.done:
	default:
		t.Error("socket not closed on teardown")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateOpen, "open"},
		{StateClosed, "closed"},
		{StateReconnecting, "reconnecting"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
