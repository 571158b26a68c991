package audio

import (
	"trackmix/internal/ringbuf"
)

// SourceKind says what backs a stream, for display and persistence.
type SourceKind uint8

const (
	KindNone SourceKind = iota
	KindDevice
	KindFile
)

func (k SourceKind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindFile:
		return "file"
	}
	return "none"
}

// Format is the sample rate and interleaved channel count of a stream.
type Format struct {
	SampleRate float64
	Channels   int
}

// Stream is anything with a start/stop lifecycle: capture devices, the
// playback device and file readers.
type Stream interface {
	Start() error
	Stop() error
	Close() error
	Format() Format
	Kind() SourceKind
	Name() string
}

// Source is a Stream that produces samples into a ring buffer the mixer
// pops from.
type Source interface {
	Stream
	Buffer() *ringbuf.RingBuffer
}

// Recordable streams can copy every block they see into a second ring
// buffer, drained to disk by a recorder. Passing nil removes the tap.
type Recordable interface {
	SetRecordTap(rb *ringbuf.RingBuffer)
}

// Monitorable streams only feed their mix buffer while monitoring is on.
type Monitorable interface {
	SetMonitoring(on bool)
}

// Runner streams report whether they are still producing. A file source
// stops by itself at end of file.
type Runner interface {
	Running() bool
}

// Observer receives raw sample blocks from inside a device callback. It
// must not block or allocate.
type Observer interface {
	Observe(samples []float32)
}

// Observable streams publish their blocks to an Observer.
type Observable interface {
	SetObserver(o Observer)
}

// StreamConfig carries the stream settings shared by every device stream.
type StreamConfig struct {
	SampleRate      float64 // 0 uses the device default
	FramesPerBuffer int
	Channels        int // clamped to what the device offers
	LowLatency      bool
	RingSeconds     float64
}

type observerBox struct {
	o Observer
}

func clampChannels(requested, available int) int {
	if requested <= 0 || requested > available {
		return available
	}
	return requested
}
