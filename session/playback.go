package session

import (
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Playback plays synthesized response audio through the speaker. Audio
// arrives in deltas via Write; the player pulls from an internal buffer
// and emits silence when it runs dry, so playback survives gaps between
// deltas. Reset discards everything buffered, for barge-in and call
// teardown.
type Playback struct {
	ctx *oto.Context

	mu     sync.Mutex
	buf    []byte
	player *oto.Player
	closed bool
}

// NewPlayback creates a response player on the given speaker context.
// A nil context yields a no-op player.
func NewPlayback(ctx *oto.Context) *Playback {
	return &Playback{ctx: ctx}
}

// Write appends a response audio delta and starts playback on first
// data.
func (p *Playback) Write(data []byte) {
	if p.ctx == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.buf = append(p.buf, data...)

	if p.player == nil {
		p.player = p.ctx.NewPlayer(p)
		p.player.Play()
	}
}

// Read implements io.Reader for the oto player. It never blocks: when
// the buffer is empty it returns silence so the device keeps running.
func (p *Playback) Read(out []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return len(out), nil
}

// Reset discards all pending audio and stops the current playback so
// stale response audio never overlaps the next one.
func (p *Playback) Reset() {
	p.mu.Lock()
	p.buf = nil
	player := p.player
	p.player = nil
	p.mu.Unlock()

	if player != nil {
		player.Pause()
		player.Close()
	}
}

// Close releases the player.
func (p *Playback) Close() {
	p.mu.Lock()
	p.closed = true
	player := p.player
	p.player = nil
	p.buf = nil
	p.mu.Unlock()

	if player != nil {
		player.Close()
	}
}
