// Package realtime is a thin client for the realtime conversational
// API. The voice session core consumes it through a narrow surface:
// send an audio frame, clear the pending input buffer, and receive
// audio-delta and speech-started events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by send operations before Start.
var ErrNotConnected = errors.New("realtime: not connected")

// Config holds configuration for the realtime client.
type Config struct {
	URL    string // websocket endpoint, e.g. ws://host/realtime
	APIKey string // optional bearer token
	Model  string
	Voice  string
}

// Client handles the websocket connection to the realtime API.
type Client struct {
	cfg    Config
	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
}

// New creates a realtime client. The connection is opened by Start.
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		events: make(chan Event, 100),
	}
}

// Start establishes the connection and configures the session. It is a
// no-op when already connected, so a new recording can reuse a live
// session.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}
	c.conn = conn

	if err := c.writeLocked(eventSessionUpdate(c.cfg.Model, c.cfg.Voice)); err != nil {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("configure session: %w", err)
	}

	go c.readLoop(conn)

	slog.Info("realtime session started", "url", c.cfg.URL)
	return nil
}

// SendAudio appends one base64-encoded audio frame to the session's
// input buffer.
func (c *Client) SendAudio(encoded string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(eventInputAudioBufferAppend(encoded))
}

// ClearInput discards the session's pending input audio.
func (c *Client) ClearInput() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(eventInputAudioBufferClear())
}

// Events returns the channel of server events. The channel stays open
// across reconnects; slow consumers lose events rather than block the
// read loop.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Stop closes the connection.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"))
	return conn.Close()
}

func (c *Client) writeLocked(event any) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				slog.Warn("realtime connection closed", "error", err)
			}
			c.mu.Unlock()
			return
		}

		ev, perr := parseServerEvent(data)
		if perr != nil {
			slog.Warn("unhandled realtime message", "error", perr)
			continue
		}
		if ev == nil {
			continue
		}

		select {
		case c.events <- *ev:
		default:
			slog.Warn("realtime event dropped", "type", ev.Type)
		}
	}
}
