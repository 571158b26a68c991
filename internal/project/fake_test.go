package project

import (
	"errors"
	"fmt"
	"sync"

	"trackmix/internal/audio"
	"trackmix/internal/config"
	"trackmix/internal/ringbuf"
)

type fakeStream struct {
	name   string
	kind   audio.SourceKind
	format audio.Format
	ring   *ringbuf.RingBuffer
	mixer  audio.Mixer

	mu       sync.Mutex
	starts   int
	stops    int
	closes   int
	running  bool
	startErr error
	observer audio.Observer
}

var errDeviceBusy = errors.New("device busy")

func (f *fakeStream) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.running = true
	return nil
}

func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.running = false
	return nil
}

func (f *fakeStream) Format() audio.Format { return f.format }
func (f *fakeStream) Kind() audio.SourceKind { return f.kind }
func (f *fakeStream) Name() string { return f.name }
func (f *fakeStream) Buffer() *ringbuf.RingBuffer { return f.ring }

func (f *fakeStream) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// finish ends the stream the way a file source does at end of file.
func (f *fakeStream) finish() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeStream) SetObserver(o audio.Observer) {
	f.mu.Lock()
	f.observer = o
	f.mu.Unlock()
}

func (f *fakeStream) state() (starts, stops, closes int, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.closes, f.running
}

// rig records every stream a project opens.
type rig struct {
	mu       sync.Mutex
	captures []*fakeStream
	sinks    []*fakeStream
	files    map[string]*fakeStream
	badFiles map[string]bool
	panicky  bool
	busySink bool // new playback streams fail to start
}

var testDevices = []audio.Device{
	{ID: 0, Name: "mic", MaxInputChannels: 1, DefaultSampleRate: 8000},
	{ID: 1, Name: "speakers", MaxOutputChannels: 2, DefaultSampleRate: 8000},
	{ID: 2, Name: "interface", MaxInputChannels: 2, MaxOutputChannels: 2, DefaultSampleRate: 8000},
}

func newRig() *rig {
	return &rig{files: map[string]*fakeStream{}, badFiles: map[string]bool{}}
}

func (r *rig) options(dir string) Options {
	cfg := config.Default()
	cfg.Audio.InputDevice = 0
	cfg.Audio.OutputDevice = 1
	cfg.Recording.OutputDir = dir

	return Options{
		Config:  cfg,
		Devices: testDevices,
		OpenCapture: func(d audio.Device, c audio.StreamConfig) (audio.Source, error) {
			s := &fakeStream{
				name:   d.Name,
				kind:   audio.KindDevice,
				format: audio.Format{SampleRate: d.DefaultSampleRate, Channels: d.MaxInputChannels},
				ring:   ringbuf.New(256),
			}
			r.mu.Lock()
			r.captures = append(r.captures, s)
			r.mu.Unlock()
			return s, nil
		},
		OpenPlayback: func(d audio.Device, c audio.StreamConfig, m audio.Mixer) (audio.Stream, error) {
			s := &fakeStream{
				name:   d.Name,
				kind:   audio.KindDevice,
				format: audio.Format{SampleRate: d.DefaultSampleRate, Channels: d.MaxOutputChannels},
				mixer:  m,
			}
			r.mu.Lock()
			if r.busySink {
				s.startErr = errDeviceBusy
			}
			r.sinks = append(r.sinks, s)
			r.mu.Unlock()
			return s, nil
		},
		OpenFile: func(path string, ringSeconds float64) (audio.Source, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.panicky {
				panic("decoder exploded")
			}
			if r.badFiles[path] {
				return nil, fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, path)
			}
			s := &fakeStream{
				name:   path,
				kind:   audio.KindFile,
				format: audio.Format{SampleRate: 8000, Channels: 1},
				ring:   ringbuf.New(256),
			}
			r.files[path] = s
			return s, nil
		},
	}
}

func (r *rig) sink(i int) *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[i]
}

func (r *rig) capture(i int) *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captures[i]
}

func (r *rig) file(path string) *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[path]
}
