package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAlreadyRunning is returned when trying to start capture while active.
var ErrAlreadyRunning = errors.New("audio: capture already running")

// ErrDeviceUnavailable is returned when the input device cannot be opened.
var ErrDeviceUnavailable = errors.New("audio: input device unavailable")

// Sink consumes one base64-encoded audio frame.
type Sink func(encoded string)

// Config holds configuration for audio capture.
type Config struct {
	FrameSize  int // bytes per frame, default DefaultFrameSize
	SinkBuffer int // frames buffered per sink, default 32
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{
		FrameSize:  DefaultFrameSize,
		SinkBuffer: 32,
	}
}

// Capture owns the microphone input stream and slices it into frames.
// Each registered sink gets its own buffered channel and pump goroutine,
// so a slow or failing sink never blocks delivery to the others. Frames
// reach every sink in strict capture order.
type Capture struct {
	mu      sync.Mutex
	cfg     Config
	device  InputDevice
	frames  *FrameBuffer
	sinks   []*sink
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

type sink struct {
	name string
	fn   Sink
	ch   chan string
}

// New creates a capture reading from device.
func New(device InputDevice, cfg Config) *Capture {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.SinkBuffer <= 0 {
		cfg.SinkBuffer = 32
	}
	return &Capture{
		cfg:    cfg,
		device: device,
		frames: NewFrameBuffer(cfg.FrameSize),
	}
}

// OnFrame registers a sink for encoded frames. The name is used in logs
// when the sink falls behind. Sinks must be registered before Start.
func (c *Capture) OnFrame(name string, fn Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, &sink{name: name, fn: fn})
}

// Start opens the input device and begins frame delivery.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}

	c.frames.Reset()
	c.stop = make(chan struct{})
	for _, s := range c.sinks {
		s.ch = make(chan string, c.cfg.SinkBuffer)
		c.wg.Add(1)
		go c.pump(s)
	}

	if err := c.device.Start(c.handleData); err != nil {
		close(c.stop)
		c.wg.Wait()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	c.running = true
	return nil
}

// Stop releases the input device and shuts down the sink pumps.
// Stopping an already-stopped capture is not an error. The device is
// released even if a sink invocation failed earlier.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stop := c.stop
	c.mu.Unlock()

	// The device callback takes c.mu, so the device must be stopped
	// without holding the lock.
	err := c.device.Stop()
	close(stop)
	c.wg.Wait()

	if err != nil {
		return fmt.Errorf("stop device: %w", err)
	}
	return nil
}

// IsRunning returns true if currently capturing audio.
func (c *Capture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// handleData receives raw bytes from the device callback, cuts full
// frames and fans them out. Encoding happens once per frame; delivery
// to each sink is a non-blocking send so one full sink only drops its
// own frames.
func (c *Capture) handleData(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	c.frames.Append(p)
	for c.frames.HasFrame() {
		frame, err := c.frames.TakeFrame()
		if err != nil {
			return
		}
		encoded := base64.StdEncoding.EncodeToString(frame)
		for _, s := range c.sinks {
			select {
			case s.ch <- encoded:
			default:
				slog.Warn("audio frame dropped", "sink", s.name)
			}
		}
	}
}

func (c *Capture) pump(s *sink) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case encoded := <-s.ch:
			s.fn(encoded)
		}
	}
}
