// Package transcribe implements the client side of the live
// transcription channel: a reconnecting websocket gated by an
// activation flag, with bounded retry and event classification.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotOpen is returned by SendFrame while the channel is not open.
// It is an expected condition during connect and reconnect, not a hard
// failure; callers usually drop the frame.
var ErrNotOpen = errors.New("transcribe: channel not open")

// ErrExhausted is reported through the error handler when the bounded
// reconnect attempts are used up. The channel stays Closed until the
// activation flag is cycled.
var ErrExhausted = errors.New("transcribe: reconnect attempts exhausted")

// State is the connection state of the channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the minimal socket surface the channel needs. The production
// implementation wraps a gorilla websocket connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// DialFunc opens a connection to the transcription service.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Config holds configuration for the transcription channel.
type Config struct {
	URL           string
	MaxAttempts   int           // dial attempts before giving up, default 3
	RetryInterval time.Duration // fixed backoff between attempts, default 1s
	DialTimeout   time.Duration // default 5s
	Dial          DialFunc      // default: websocket dial
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		MaxAttempts:   3,
		RetryInterval: time.Second,
		DialTimeout:   5 * time.Second,
	}
}

// Channel is a stateful socket client for the transcription service.
// The caller asserts "should be connected" through SetActive; the
// channel connects, reconnects with bounded retries while the flag is
// true, and force-closes the instant the flag flips false.
type Channel struct {
	cfg Config

	mu         sync.Mutex
	state      State
	active     bool
	conn       Conn
	attempts   int
	retryTimer *time.Timer
	gen        int // connection generation; stale goroutines check it

	onTranscript func(text string, isFinal bool)
	onError      func(error)
	onState      func(State)
}

// New creates a transcription channel. It stays Idle until SetActive.
func New(cfg Config) *Channel {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = dialWebsocket
	}
	return &Channel{cfg: cfg, state: StateIdle}
}

// OnTranscript registers the consumer of partial and final transcript
// events. At most one handler is active; a later call replaces the
// earlier one. The handler must not call back into the channel.
func (c *Channel) OnTranscript(fn func(text string, isFinal bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTranscript = fn
}

// OnError registers the error handler. It receives *ServerError for
// backend-reported error events and ErrExhausted when reconnecting
// gives up. The handler must not call back into the channel.
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnState registers a state-transition observer. The handler must not
// call back into the channel.
func (c *Channel) OnState(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the current activation flag.
func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SetActive asserts or clears the "should be connected" flag. Flipping
// false to true (re)initiates connection; true to false immediately
// closes any open or pending connection, including a pending reconnect
// timer, so a dead call cannot keep recording.
func (c *Channel) SetActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if active == c.active {
		return
	}
	c.active = active

	if active {
		c.attempts = 0
		c.connectLocked()
	} else {
		c.teardownLocked(StateClosed)
	}
}

// Close tears the channel down to Idle regardless of state.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.teardownLocked(StateIdle)
}

// SendFrame sends one base64-encoded audio frame. Returns ErrNotOpen
// unless the channel is Open.
func (c *Channel) SendFrame(encoded string) error {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return ErrNotOpen
	}
	conn := c.conn
	c.mu.Unlock()

	data, err := json.Marshal(audioChunk{AudioChunk: encoded})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// connectLocked starts a dial for a new connection generation.
func (c *Channel) connectLocked() {
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	go c.runDial(gen)
}

func (c *Channel) runDial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()

	conn, err := c.cfg.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	if gen != c.gen || !c.active {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		c.dialFailedLocked(err)
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.attempts = 0
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	go c.readLoop(conn, gen)
}

// dialFailedLocked counts a failed open and either schedules the next
// attempt or gives up with ErrExhausted.
func (c *Channel) dialFailedLocked(err error) {
	c.attempts++
	slog.Warn("transcription connect failed",
		"attempt", c.attempts, "max", c.cfg.MaxAttempts, "error", err)

	if c.attempts >= c.cfg.MaxAttempts {
		c.setStateLocked(StateClosed)
		if fn := c.onError; fn != nil {
			fn(ErrExhausted)
		}
		return
	}
	c.scheduleRetryLocked()
}

// scheduleRetryLocked arms the backoff timer. The timer is canceled by
// teardown, and a stale fire is ignored via the generation counter.
func (c *Channel) scheduleRetryLocked() {
	c.setStateLocked(StateReconnecting)
	gen := c.gen
	c.retryTimer = time.AfterFunc(c.cfg.RetryInterval, func() {
		c.retryFire(gen)
	})
}

func (c *Channel) retryFire(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.active {
		return
	}
	c.retryTimer = nil
	c.connectLocked()
}

func (c *Channel) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen != c.gen || !c.active {
				c.mu.Unlock()
				return
			}
			slog.Warn("transcription socket closed", "error", err)
			c.conn = nil
			c.scheduleRetryLocked()
			c.mu.Unlock()
			return
		}

		ev, perr := parseEvent(data)
		if perr != nil {
			// Malformed payloads are logged and discarded; they never
			// alter connection state.
			slog.Warn("malformed transcription message", "error", perr)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	onTranscript := c.onTranscript
	onError := c.onError
	c.mu.Unlock()

	switch ev.Type {
	case EventPartialTranscript, EventFinalTranscript:
		if onTranscript != nil {
			onTranscript(ev.Text, ev.Final())
		}
	case EventError:
		// The connection stays open for further events.
		if onError != nil {
			onError(&ServerError{Message: ev.Text})
		}
	case EventInfo:
		slog.Info("transcription service", "message", ev.Text)
	}
}

// teardownLocked cancels any pending reconnect timer, closes the
// socket, and settles in the given state.
func (c *Channel) teardownLocked(next State) {
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.attempts = 0
	c.setStateLocked(next)
}

func (c *Channel) setStateLocked(s State) {
	if s == c.state {
		return
	}
	c.state = s
	if fn := c.onState; fn != nil {
		fn(s)
	}
}

// wsConn adapts a gorilla websocket connection to Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return w.conn.Close()
}

func dialWebsocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}
