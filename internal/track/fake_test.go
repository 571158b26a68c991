package track

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"trackmix/internal/audio"
	"trackmix/internal/ringbuf"
)

// fakeSource stands in for a capture device or file reader.
type fakeSource struct {
	name   string
	kind   audio.SourceKind
	format audio.Format
	ring   *ringbuf.RingBuffer

	mu         sync.Mutex
	starts     int
	stops      int
	closes     int
	running    bool
	monitoring bool
	startErr   error

	tap atomic.Pointer[ringbuf.RingBuffer]
}

func newFakeSource(name string, channels int) *fakeSource {
	return &fakeSource{
		name:   name,
		kind:   audio.KindDevice,
		format: audio.Format{SampleRate: 8000, Channels: channels},
		ring:   ringbuf.New(1024),
	}
}

func (f *fakeSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.running = true
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSource) Format() audio.Format { return f.format }
func (f *fakeSource) Kind() audio.SourceKind { return f.kind }
func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Buffer() *ringbuf.RingBuffer { return f.ring }
func (f *fakeSource) SetRecordTap(rb *ringbuf.RingBuffer) { f.tap.Store(rb) }

func (f *fakeSource) SetMonitoring(on bool) {
	f.mu.Lock()
	f.monitoring = on
	f.mu.Unlock()
}

// emit plays the role of the device callback.
func (f *fakeSource) emit(samples []float32) {
	f.mu.Lock()
	mon := f.monitoring
	f.mu.Unlock()
	if mon {
		f.ring.Write(samples)
	}
	if tap := f.tap.Load(); tap != nil {
		tap.Write(samples)
	}
}

func (f *fakeSource) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// finish ends the stream the way a file source does at end of file.
func (f *fakeSource) finish() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeSource) counts() (starts, stops, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.closes
}

// fakeSink is a playback device for the master track.
type fakeSink struct {
	name    string
	format  audio.Format
	tap     atomic.Pointer[ringbuf.RingBuffer]
	started atomic.Int32
	stopped atomic.Int32
	closed  atomic.Int32
}

func (s *fakeSink) Start() error { s.started.Add(1); return nil }
func (s *fakeSink) Stop() error { s.stopped.Add(1); return nil }
func (s *fakeSink) Close() error { s.closed.Add(1); return nil }
func (s *fakeSink) Format() audio.Format { return s.format }
func (s *fakeSink) Kind() audio.SourceKind { return audio.KindDevice }
func (s *fakeSink) Name() string { return s.name }
func (s *fakeSink) SetRecordTap(rb *ringbuf.RingBuffer) { s.tap.Store(rb) }

var errDeviceBusy = errors.New("device busy")

func testRecordConfig(dir string) RecordConfig {
	return RecordConfig{Dir: dir, DrainInterval: 5 * time.Millisecond, RingSeconds: 1}
}

func newTestRegistry(dir string) (*Registry, *fakeSink) {
	sink := &fakeSink{name: "speakers", format: audio.Format{SampleRate: 8000, Channels: 2}}
	return NewRegistry(NewMaster(sink, testRecordConfig(dir))), sink
}
