// Package audio bridges the microphone input stream into fixed-size,
// base64-encoded frames fanned out to registered sinks.
package audio

import "errors"

// DefaultFrameSize is 100ms of 24kHz mono PCM16 audio.
const DefaultFrameSize = 4800

// ErrUnderflow is returned by TakeFrame when no full frame is buffered.
var ErrUnderflow = errors.New("audio: no full frame buffered")

// FrameBuffer accumulates raw audio bytes and yields fixed-size frames.
// It preserves byte order exactly and retains only the remainder after
// a frame is cut. One instance per capture session.
type FrameBuffer struct {
	size int
	buf  []byte
}

// NewFrameBuffer creates a frame buffer producing frames of size bytes.
// A size <= 0 falls back to DefaultFrameSize.
func NewFrameBuffer(size int) *FrameBuffer {
	if size <= 0 {
		size = DefaultFrameSize
	}
	return &FrameBuffer{
		size: size,
		buf:  make([]byte, 0, size*2),
	}
}

// Append adds raw audio bytes to the buffer.
func (b *FrameBuffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// HasFrame reports whether a full frame can be taken.
func (b *FrameBuffer) HasFrame() bool {
	return len(b.buf) >= b.size
}

// TakeFrame cuts the oldest full frame off the buffer and returns it.
// The returned slice is a copy; the buffer keeps only the remainder.
func (b *FrameBuffer) TakeFrame() ([]byte, error) {
	if len(b.buf) < b.size {
		return nil, ErrUnderflow
	}
	frame := make([]byte, b.size)
	copy(frame, b.buf[:b.size])
	n := copy(b.buf, b.buf[b.size:])
	b.buf = b.buf[:n]
	return frame, nil
}

// Len returns the number of buffered bytes.
func (b *FrameBuffer) Len() int {
	return len(b.buf)
}

// FrameSize returns the configured frame size in bytes.
func (b *FrameBuffer) FrameSize() int {
	return b.size
}

// Reset empties the buffer.
func (b *FrameBuffer) Reset() {
	b.buf = b.buf[:0]
}
