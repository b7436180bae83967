package audio

// InputDevice is the hardware input stream behind a Capture.
// Implementations deliver raw PCM bytes to the data callback from the
// moment Start returns until Stop is called.
type InputDevice interface {
	Start(onData func(p []byte)) error
	Stop() error
}
