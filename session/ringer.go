package session

import (
	"errors"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Ringer plays a looping ringback cue through the speaker. The cue is
// synthesized: the classic 440Hz+480Hz dual tone with a ring cadence,
// PCM16 mono at the session sample rate.
type Ringer struct {
	ctx  *oto.Context
	tone []byte

	mu     sync.Mutex
	player *oto.Player
}

// NewRinger creates a ringer on the given speaker context. A nil
// context is allowed; Start then fails and the session falls back to
// starting without a cue.
func NewRinger(ctx *oto.Context, sampleRate int) *Ringer {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Ringer{
		ctx:  ctx,
		tone: synthRingback(sampleRate),
	}
}

// Start begins looping cue playback. Calling Start while playing is a
// no-op.
func (r *Ringer) Start() error {
	if r.ctx == nil {
		return errors.New("session: speaker unavailable")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.player != nil {
		return nil
	}
	r.player = r.ctx.NewPlayer(&loopReader{data: r.tone})
	r.player.Play()
	return nil
}

// Stop halts and rewinds the cue. Safe to call when not playing.
func (r *Ringer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.player == nil {
		return
	}
	r.player.Pause()
	r.player.Close()
	r.player = nil
}

// loopReader replays its data forever.
type loopReader struct {
	data []byte
	pos  int
}

func (l *loopReader) Read(p []byte) (int, error) {
	if len(l.data) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(p) {
		c := copy(p[n:], l.data[l.pos:])
		n += c
		l.pos = (l.pos + c) % len(l.data)
	}
	return n, nil
}

// synthRingback builds one cadence period of ringback tone: one second
// of 440Hz+480Hz followed by one second of silence.
func synthRingback(sampleRate int) []byte {
	toneSamples := sampleRate
	totalSamples := sampleRate * 2
	out := make([]byte, totalSamples*2)

	for i := 0; i < toneSamples; i++ {
		t := float64(i) / float64(sampleRate)
		v := 0.5*math.Sin(2*math.Pi*440*t) + 0.5*math.Sin(2*math.Pi*480*t)
		// Leave headroom so the summed tones never clip.
		s := int16(v * 0.4 * math.MaxInt16)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
