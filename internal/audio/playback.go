package audio

import (
	"fmt"
	"sync/atomic"

	"trackmix/internal/config"
	"trackmix/internal/ringbuf"

	"github.com/gordonklaus/portaudio"
)

// Mixer fills out with the next block of interleaved output frames.
// Implementations run inside the playback callback; scratch is
// preallocated working space.
type Mixer interface {
	Mix(out []float32, channels int, scratch []float32)
}

// PlaybackSink binds the hardware output device and pulls every block
// from a Mixer.
type PlaybackSink struct {
	device  Device
	format  Format
	mixer   Mixer
	scratch []float32

	recordTap atomic.Pointer[ringbuf.RingBuffer]
	observer  atomic.Pointer[observerBox]

	stats streamStats
	sup   *supervisor
}

// NewPlaybackSink opens an output stream on device. It fails with
// ErrNoOutputConfig when the device has no output channels.
func NewPlaybackSink(device Device, cfg StreamConfig, mixer Mixer) (*PlaybackSink, error) {
	if device.MaxOutputChannels <= 0 {
		return nil, fmt.Errorf("%w: [%d] %s", ErrNoOutputConfig, device.ID, device.Name)
	}

	rate := cfg.SampleRate
	if rate == 0 {
		rate = device.DefaultSampleRate
	}
	channels := clampChannels(cfg.Channels, device.MaxOutputChannels)

	latency := device.DefaultHighOutputLatency
	if cfg.LowLatency {
		latency = device.DefaultLowOutputLatency
	}

	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = config.DefaultFramesPerBuffer
	}

	p := &PlaybackSink{
		device:  device,
		format:  Format{SampleRate: rate, Channels: channels},
		mixer:   mixer,
		scratch: make([]float32, frames*config.MaxChannels),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 0, // No input device
			Device:   nil,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   device.info,
			Channels: channels,
			Latency:  latency,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      rate,
	}

	stream, err := openStream(params, p.process)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream on %q: %w", device.Name, err)
	}
	p.sup = newSupervisor("playback "+device.Name, stream, &p.stats)
	return p, nil
}

func (p *PlaybackSink) process(out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	p.stats.record(flags)

	if p.mixer != nil {
		p.mixer.Mix(out, p.format.Channels, p.scratch)
	} else {
		clear(out)
	}

	if tap := p.recordTap.Load(); tap != nil {
		tap.Write(out)
	}
	if box := p.observer.Load(); box != nil {
		box.o.Observe(out)
	}
}

func (p *PlaybackSink) Start() error { return p.sup.start() }

// Stop pauses the device and returns once the supervisor has done so.
func (p *PlaybackSink) Stop() error {
	p.sup.stop()
	p.sup.wait()
	return nil
}

func (p *PlaybackSink) Close() error { return p.sup.close() }

func (p *PlaybackSink) Running() bool { return p.sup.running() }
func (p *PlaybackSink) Format() Format { return p.format }
func (p *PlaybackSink) Kind() SourceKind { return KindDevice }
func (p *PlaybackSink) Name() string { return p.device.Name }
func (p *PlaybackSink) Device() Device { return p.device }
func (p *PlaybackSink) SetRecordTap(rb *ringbuf.RingBuffer) { p.recordTap.Store(rb) }

func (p *PlaybackSink) SetObserver(o Observer) {
	if o == nil {
		p.observer.Store(nil)
		return
	}
	p.observer.Store(&observerBox{o: o})
}
