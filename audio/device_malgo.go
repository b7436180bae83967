package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// DeviceConfig holds configuration for the default microphone device.
type DeviceConfig struct {
	SampleRate int // default 24000 Hz
	Channels   int // default 1
}

// malgoDevice captures from the default microphone via miniaudio.
type malgoDevice struct {
	cfg    DeviceConfig
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewDevice creates an InputDevice backed by the system microphone.
// The device is opened lazily on Start.
func NewDevice(cfg DeviceConfig) InputDevice {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &malgoDevice{cfg: cfg}
}

func (d *malgoDevice) Start(onData func(p []byte)) error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.cfg.Channels)
	deviceConfig.SampleRate = uint32(d.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			onData(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		return fmt.Errorf("init microphone: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}

	d.ctx = ctx
	d.device = device
	return nil
}

func (d *malgoDevice) Stop() error {
	if d.device != nil {
		_ = d.device.Stop()
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx = nil
	}
	return nil
}
