package audio

import (
	"fmt"
	"sync/atomic"

	"trackmix/internal/ringbuf"
	"trackmix/pkg/bitint"

	"github.com/gordonklaus/portaudio"
)

// CaptureSource binds one hardware input device. Its callback runs on the
// driver's real-time thread and only copies samples into ring buffers.
type CaptureSource struct {
	device Device
	format Format
	ring   *ringbuf.RingBuffer

	monitoring atomic.Bool
	recordTap  atomic.Pointer[ringbuf.RingBuffer]
	observer   atomic.Pointer[observerBox]

	stats streamStats
	sup   *supervisor
}

// NewCaptureSource opens an input stream on device. It fails with
// ErrNoInputConfig when the device has no input channels.
func NewCaptureSource(device Device, cfg StreamConfig) (*CaptureSource, error) {
	if device.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("%w: [%d] %s", ErrNoInputConfig, device.ID, device.Name)
	}

	rate := cfg.SampleRate
	if rate == 0 {
		rate = device.DefaultSampleRate
	}
	channels := clampChannels(cfg.Channels, device.MaxInputChannels)

	latency := device.DefaultHighInputLatency
	if cfg.LowLatency {
		latency = device.DefaultLowInputLatency
	}

	c := &CaptureSource{
		device: device,
		format: Format{SampleRate: rate, Channels: channels},
		ring:   ringbuf.New(bitint.Capacity(cfg.RingSeconds, rate, channels)),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device.info,
			Channels: channels,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      rate,
	}

	stream, err := openStream(params, c.process)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream on %q: %w", device.Name, err)
	}
	c.sup = newSupervisor("capture "+device.Name, stream, &c.stats)
	return c, nil
}

// process is the real-time callback: no allocation, no I/O, short locks.
func (c *CaptureSource) process(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	c.stats.record(flags)

	if c.monitoring.Load() {
		c.ring.Write(in)
	}
	if tap := c.recordTap.Load(); tap != nil {
		tap.Write(in)
	}
	if box := c.observer.Load(); box != nil {
		box.o.Observe(in)
	}
}

func (c *CaptureSource) Start() error { return c.sup.start() }

// Stop pauses the device and returns once the supervisor has done so.
func (c *CaptureSource) Stop() error {
	c.sup.stop()
	c.sup.wait()
	return nil
}

func (c *CaptureSource) Close() error { return c.sup.close() }

func (c *CaptureSource) Running() bool { return c.sup.running() }
func (c *CaptureSource) Format() Format { return c.format }
func (c *CaptureSource) Kind() SourceKind { return KindDevice }
func (c *CaptureSource) Name() string { return c.device.Name }
func (c *CaptureSource) Device() Device { return c.device }
func (c *CaptureSource) Buffer() *ringbuf.RingBuffer { return c.ring }
func (c *CaptureSource) SetMonitoring(on bool) { c.monitoring.Store(on) }
func (c *CaptureSource) SetRecordTap(rb *ringbuf.RingBuffer) { c.recordTap.Store(rb) }

func (c *CaptureSource) SetObserver(o Observer) {
	if o == nil {
		c.observer.Store(nil)
		return
	}
	c.observer.Store(&observerBox{o: o})
}
