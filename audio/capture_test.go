package audio

import (
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeDevice is a test InputDevice that lets the test push data.
type fakeDevice struct {
	mu       sync.Mutex
	onData   func([]byte)
	startErr error
	started  bool
	stops    int
}

func (d *fakeDevice) Start(onData func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.onData = onData
	d.started = true
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.stops++
	return nil
}

func (d *fakeDevice) push(p []byte) {
	d.mu.Lock()
	fn := d.onData
	d.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCapture_FanOut(t *testing.T) {
	dev := &fakeDevice{}
	c := New(dev, Config{FrameSize: 4})

	var mu sync.Mutex
	var a, b []string
	c.OnFrame("a", func(enc string) {
		mu.Lock()
		a = append(a, enc)
		mu.Unlock()
	})
	c.OnFrame("b", func(enc string) {
		mu.Lock()
		b = append(b, enc)
		mu.Unlock()
	})

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	dev.push([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(a) == 2 && len(b) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	want := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	if a[0] != want || b[0] != want {
		t.Errorf("first frame = %q / %q, want %q", a[0], b[0], want)
	}
	if a[0] != b[0] || a[1] != b[1] {
		t.Error("sinks received different frames")
	}
}

func TestCapture_SlowSinkDoesNotBlockOther(t *testing.T) {
	dev := &fakeDevice{}
	c := New(dev, Config{FrameSize: 2, SinkBuffer: 1})

	block := make(chan struct{})
	c.OnFrame("slow", func(string) { <-block })

	var mu sync.Mutex
	var fast []string
	c.OnFrame("fast", func(enc string) {
		mu.Lock()
		fast = append(fast, enc)
		mu.Unlock()
	})

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The slow sink swallows one frame and blocks; its buffer fills and
	// further frames for it are dropped. The fast sink must still see all.
	for i := 0; i < 5; i++ {
		dev.push([]byte{byte(i), byte(i)})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fast) == 5
	})

	close(block)
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestCapture_StartErrors(t *testing.T) {
	dev := &fakeDevice{startErr: errors.New("no device")}
	c := New(dev, DefaultConfig())

	if err := c.Start(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start() error = %v, want ErrDeviceUnavailable", err)
	}

	dev.startErr = nil
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	c.Stop()
}

func TestCapture_StopIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	c := New(dev, DefaultConfig())

	if err := c.Stop(); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if dev.stops != 1 {
		t.Errorf("device stops = %d, want 1", dev.stops)
	}
	if c.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestCapture_NoDeliveryAfterStop(t *testing.T) {
	dev := &fakeDevice{}
	c := New(dev, Config{FrameSize: 2})

	var mu sync.Mutex
	var got []string
	c.OnFrame("sink", func(enc string) {
		mu.Lock()
		got = append(got, enc)
		mu.Unlock()
	})

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	dev.push([]byte{1, 2, 3, 4})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 0 {
		t.Errorf("frames delivered after Stop = %d, want 0", len(got))
	}
}
