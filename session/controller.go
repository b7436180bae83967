// Package session orchestrates the call lifecycle: ringing cue, timed
// transition into recording, start/stop of audio capture and the
// transcription channel, and cleanup on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.renvo.me/voxcall/transcribe"
	"go.renvo.me/voxcall/transcript"
)

// CallState is the lifecycle state of the voice session.
type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallRecording
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRinging:
		return "ringing"
	case CallRecording:
		return "recording"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrRinging is returned by Toggle while the call is ringing; no
// transition is possible until the ring timer fires.
var ErrRinging = errors.New("session: call is ringing")

// AudioCapture is the microphone pipeline the controller sequences.
type AudioCapture interface {
	Start() error
	Stop() error
}

// TranscriptionChannel is the activation surface of the transcription
// socket client.
type TranscriptionChannel interface {
	SetActive(active bool)
}

// RealtimeSession is the collaborator surface of the conversational
// API client.
type RealtimeSession interface {
	Start(ctx context.Context) error
	ClearInput() error
}

// CuePlayer plays the looping ringing cue.
type CuePlayer interface {
	Start() error
	Stop()
}

// ResponsePlayer plays synthesized response audio; Reset discards
// anything buffered or in flight.
type ResponsePlayer interface {
	Reset()
}

// CallStore persists completed call transcripts.
type CallStore interface {
	SaveCall(id string, startedAt time.Time, lines []string) error
}

// Config holds configuration for the session controller.
type Config struct {
	RingDuration  time.Duration // default 2s
	SuppressEmpty bool          // drop empty transcript updates
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{RingDuration: 2 * time.Second}
}

// Deps are the collaborators the controller drives. History may be nil.
type Deps struct {
	Capture  AudioCapture
	Channel  TranscriptionChannel
	Realtime RealtimeSession
	Cue      CuePlayer
	Player   ResponsePlayer
	History  CallStore
}

// Controller owns the call state machine. All mutation happens under
// one mutex; registered handlers are invoked inline and must not call
// back into the controller.
type Controller struct {
	cfg  Config
	deps Deps

	mu        sync.Mutex
	state     CallState
	ringTimer *time.Timer
	buf       transcript.Buffer
	callID    string
	startedAt time.Time

	onState      func(CallState)
	onTranscript func(lines []string)
	onNotice     func(text string)
}

// New creates a session controller in the Idle state.
func New(deps Deps, cfg Config) *Controller {
	if cfg.RingDuration <= 0 {
		cfg.RingDuration = 2 * time.Second
	}
	return &Controller{cfg: cfg, deps: deps, state: CallIdle}
}

// OnStateChange registers a state-transition observer.
func (c *Controller) OnStateChange(fn func(CallState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// OnTranscript registers the consumer of transcript snapshots.
func (c *Controller) OnTranscript(fn func(lines []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTranscript = fn
}

// OnNotice registers the consumer of user-visible, non-fatal notices.
func (c *Controller) OnNotice(fn func(text string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotice = fn
}

// State returns the current call state.
func (c *Controller) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns a snapshot of the current transcript lines.
func (c *Controller) Transcript() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Lines()
}

// TranscriptText returns the current transcript joined as one string.
func (c *Controller) TranscriptText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Text()
}

// Status returns a consistent snapshot of the session: state, the
// current call identifier (empty outside a call), when it started, and
// the transcript so far.
func (c *Controller) Status() (state CallState, callID string, startedAt time.Time, lines []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CallRecording {
		callID, startedAt = c.callID, c.startedAt
	}
	return c.state, callID, startedAt, c.buf.Lines()
}

// Toggle flips the call between idle and recording. While ringing it
// returns ErrRinging and does nothing.
func (c *Controller) Toggle() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CallRinging:
		return ErrRinging
	case CallIdle:
		return c.startRingingLocked()
	case CallRecording:
		c.stopRecordingLocked()
		return nil
	default:
		return fmt.Errorf("session: unexpected state %v", c.state)
	}
}

// Close tears the session down from any state.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CallRecording:
		c.stopRecordingLocked()
	case CallRinging:
		if c.ringTimer != nil {
			c.ringTimer.Stop()
			c.ringTimer = nil
		}
		c.deps.Cue.Stop()
		c.setStateLocked(CallIdle)
	}
}

// startRingingLocked begins cue playback and arms the ring timer. Cue
// failure is not fatal: the call proceeds straight to recording.
func (c *Controller) startRingingLocked() error {
	c.setStateLocked(CallRinging)

	if err := c.deps.Cue.Start(); err != nil {
		slog.Warn("ring cue unavailable, starting immediately", "error", err)
		return c.beginRecordingLocked()
	}

	c.ringTimer = time.AfterFunc(c.cfg.RingDuration, c.ringElapsed)
	return nil
}

func (c *Controller) ringElapsed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The timer can fire after an external teardown.
	if c.state != CallRinging {
		return
	}
	if err := c.beginRecordingLocked(); err != nil {
		slog.Error("start recording", "error", err)
	}
}

// beginRecordingLocked sequences the Ringing -> Recording transition:
// cue teardown, channel activation, realtime session, capture, playback
// reset, fresh transcript. Recording is entered only after all of it
// succeeds; a device failure unwinds back to Idle.
func (c *Controller) beginRecordingLocked() error {
	c.ringTimer = nil
	c.deps.Cue.Stop()

	c.deps.Channel.SetActive(true)

	if err := c.deps.Realtime.Start(context.Background()); err != nil {
		slog.Error("start realtime session", "error", err)
		c.notifyLocked("conversation service unavailable")
		c.deps.Channel.SetActive(false)
		c.setStateLocked(CallIdle)
		return fmt.Errorf("start realtime session: %w", err)
	}

	if err := c.deps.Capture.Start(); err != nil {
		slog.Error("start audio capture", "error", err)
		c.notifyLocked("microphone unavailable")
		c.deps.Channel.SetActive(false)
		c.setStateLocked(CallIdle)
		return fmt.Errorf("start audio capture: %w", err)
	}

	c.deps.Player.Reset()
	c.buf = transcript.Buffer{}
	c.callID = uuid.NewString()
	c.startedAt = time.Now()

	c.setStateLocked(CallRecording)
	return nil
}

// stopRecordingLocked runs the Recording -> Idle cleanup. Every step
// executes even when an earlier one fails; failures are logged, never
// propagated, so no microphone handle or socket leaks.
func (c *Controller) stopRecordingLocked() {
	if err := c.deps.Capture.Stop(); err != nil {
		slog.Error("stop audio capture", "error", err)
	}

	c.deps.Player.Reset()

	if err := c.deps.Realtime.ClearInput(); err != nil {
		slog.Error("clear realtime input buffer", "error", err)
	}

	c.deps.Channel.SetActive(false)

	c.saveCallLocked()
	c.setStateLocked(CallIdle)
}

func (c *Controller) saveCallLocked() {
	if c.deps.History == nil || c.buf.Len() == 0 {
		return
	}
	if err := c.deps.History.SaveCall(c.callID, c.startedAt, c.buf.Lines()); err != nil {
		slog.Error("save call transcript", "error", err)
	}
}

// HandleTranscript folds one transcript update into the session buffer.
// Wire it to the transcription channel's transcript handler. Updates
// arriving outside Recording are dropped.
func (c *Controller) HandleTranscript(text string, isFinal bool) {
	c.mu.Lock()
	if c.state != CallRecording {
		c.mu.Unlock()
		return
	}
	if c.cfg.SuppressEmpty && text == "" {
		c.mu.Unlock()
		return
	}

	c.buf = transcript.Reconcile(c.buf, text, isFinal)
	lines := c.buf.Lines()
	fn := c.onTranscript
	c.mu.Unlock()

	if fn != nil {
		fn(lines)
	}
}

// HandleChannelError surfaces channel failures as user-visible notices.
// Reconnect exhaustion does not abort the call; the realtime side of
// the session continues without live transcription.
func (c *Controller) HandleChannelError(err error) {
	var serr *transcribe.ServerError
	switch {
	case errors.Is(err, transcribe.ErrExhausted):
		c.notify("transcription unavailable")
	case errors.As(err, &serr):
		c.notify(serr.Message)
	default:
		slog.Warn("transcription channel", "error", err)
	}
}

// HandleRealtimeError surfaces conversation-service errors as notices.
// Like transcription failures they do not end the call; the user hangs
// up when they are done.
func (c *Controller) HandleRealtimeError(err error) {
	if err == nil {
		return
	}
	slog.Error("realtime session", "error", err)
	c.notify("conversation service error")
}

func (c *Controller) notify(text string) {
	c.mu.Lock()
	fn := c.onNotice
	c.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

func (c *Controller) notifyLocked(text string) {
	if fn := c.onNotice; fn != nil {
		fn(text)
	}
}

func (c *Controller) setStateLocked(s CallState) {
	if s == c.state {
		return
	}
	c.state = s
	if fn := c.onState; fn != nil {
		fn(s)
	}
}
