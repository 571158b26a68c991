// Package project holds the authoritative mixer state: the track registry,
// the master output and the device selection. Every command runs under one
// control lock; a panic inside a command poisons the project and later
// commands fail with ErrStateUnavailable.
package project

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"trackmix/internal/audio"
	"trackmix/internal/config"
	"trackmix/internal/log"
	"trackmix/internal/meter"
	"trackmix/internal/track"

	"github.com/google/uuid"
)

// Openers for the stream types a project creates. Tests substitute fakes.
type (
	CaptureOpener  func(audio.Device, audio.StreamConfig) (audio.Source, error)
	PlaybackOpener func(audio.Device, audio.StreamConfig, audio.Mixer) (audio.Stream, error)
	FileOpener     func(path string, ringSeconds float64) (audio.Source, error)
)

// Options wires a Project to its devices and collaborators.
type Options struct {
	Config  config.Config
	Devices []audio.Device

	OpenCapture  CaptureOpener
	OpenPlayback PlaybackOpener
	OpenFile     FileOpener

	// Meter receives raw blocks from every stream when set.
	Meter *meter.Hub
}

func defaultCapture(d audio.Device, c audio.StreamConfig) (audio.Source, error) {
	return audio.NewCaptureSource(d, c)
}

func defaultPlayback(d audio.Device, c audio.StreamConfig, m audio.Mixer) (audio.Stream, error) {
	return audio.NewPlaybackSink(d, c, m)
}

func defaultFile(path string, ringSeconds float64) (audio.Source, error) {
	return audio.OpenFileSource(path, ringSeconds)
}

// Project is the single mixer state created at startup and passed to
// every command handler.
type Project struct {
	mu       sync.Mutex
	poisoned atomic.Bool

	id       uuid.UUID
	cfg      config.Config
	devices  []audio.Device
	input    int
	output   int
	registry *track.Registry
	meter    *meter.Hub

	openCapture  CaptureOpener
	openPlayback PlaybackOpener
	openFile     FileOpener

	log *log.Logger
}

// New builds a project with only the master track, bound to the
// configured output device.
func New(opts Options) (*Project, error) {
	p := &Project{
		id:           uuid.New(),
		cfg:          opts.Config,
		devices:      opts.Devices,
		input:        opts.Config.Audio.InputDevice,
		meter:        opts.Meter,
		openCapture:  opts.OpenCapture,
		openPlayback: opts.OpenPlayback,
		openFile:     opts.OpenFile,
		log:          log.Named("project"),
	}
	if p.openCapture == nil {
		p.openCapture = defaultCapture
	}
	if p.openPlayback == nil {
		p.openPlayback = defaultPlayback
	}
	if p.openFile == nil {
		p.openFile = defaultFile
	}

	out, err := audio.OutputDevice(p.devices, opts.Config.Audio.OutputDevice)
	if err != nil {
		return nil, fmt.Errorf("failed to select output device: %w", err)
	}

	master := track.NewMaster(nil, p.recordConfig())
	p.registry = track.NewRegistry(master)

	sink, err := p.openPlayback(out, p.outputStreamConfig(), p.registry)
	if err != nil {
		return nil, err
	}
	p.attachMeter(track.MasterName, sink)
	p.registry.SwapMasterStream(sink)
	p.output = out.ID

	p.log.Infof("project %s on output [%d] %s", p.id, out.ID, out.Name)
	return p, nil
}

func (p *Project) recordConfig() track.RecordConfig {
	return track.RecordConfig{
		Dir:           p.cfg.Recording.OutputDir,
		DrainInterval: p.cfg.Recording.DrainInterval,
		RingSeconds:   p.cfg.Audio.RingSeconds,
	}
}

func (p *Project) inputStreamConfig() audio.StreamConfig {
	a := p.cfg.Audio
	return audio.StreamConfig{
		SampleRate:      a.SampleRate,
		FramesPerBuffer: a.FramesPerBuffer,
		Channels:        a.InputChannels,
		LowLatency:      a.LowLatency,
		RingSeconds:     a.RingSeconds,
	}
}

func (p *Project) outputStreamConfig() audio.StreamConfig {
	c := p.inputStreamConfig()
	c.Channels = p.cfg.Audio.OutputChannels
	return c
}

func (p *Project) attachMeter(name string, s audio.Stream) {
	if p.meter == nil {
		return
	}
	if o, ok := s.(audio.Observable); ok {
		f := s.Format()
		o.SetObserver(p.meter.Channel(name, f.SampleRate, f.Channels))
	}
}

// guard runs fn under the control lock. A panic in fn poisons the project.
func (p *Project) guard(op string, fn func() error) (err error) {
	if p.poisoned.Load() {
		return fmt.Errorf("%w: %s", ErrStateUnavailable, op)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			p.poisoned.Store(true)
			p.log.Errorf("%s panicked, project state is no longer trusted: %v", op, r)
			err = fmt.Errorf("%w: %s panicked: %v", ErrStateUnavailable, op, r)
		}
	}()
	return fn()
}

// ID identifies the project across saves.
func (p *Project) ID() uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Registry exposes the track registry, mainly for the playback mixer.
func (p *Project) Registry() *track.Registry { return p.registry }

// ListTracks returns a snapshot of every track ordered by name.
func (p *Project) ListTracks() ([]track.Info, error) {
	var infos []track.Info
	err := p.guard("list tracks", func() error {
		infos = p.registry.List()
		return nil
	})
	return infos, err
}

// UpdateTrack applies one attribute change to the named track.
func (p *Project) UpdateTrack(name string, u track.Update) error {
	return p.guard("update track", func() error {
		if err := p.registry.Update(name, u); err != nil {
			return err
		}
		if u.Kind == track.UpdateRename && p.meter != nil {
			p.meter.Rename(name, u.Name)
		}
		p.log.Debugf("%s: %s", name, u)
		return nil
	})
}

// SourceSpec selects what a new track is bound to.
type SourceSpec struct {
	Kind   audio.SourceKind
	Device int    // device ID for KindDevice; config.MinDeviceID uses the selected input
	Path   string // WAV path for KindFile
}

// DeviceSource selects a capture device.
func DeviceSource(id int) SourceSpec { return SourceSpec{Kind: audio.KindDevice, Device: id} }

// FileSource selects a WAV file.
func FileSource(path string) SourceSpec { return SourceSpec{Kind: audio.KindFile, Path: path} }

// AddTrack creates a track and returns the name it was registered under.
// An empty name picks track-N for devices and the file's base name for
// files.
func (p *Project) AddTrack(name string, spec SourceSpec) (string, error) {
	err := p.guard("add track", func() error {
		var err error
		name, err = p.addTrackLocked(name, spec)
		return err
	})
	return name, err
}

func (p *Project) addTrackLocked(name string, spec SourceSpec) (string, error) {
	var (
		src audio.Source
		err error
	)
	switch spec.Kind {
	case audio.KindDevice:
		id := spec.Device
		if id == config.MinDeviceID {
			id = p.input
		}
		dev, derr := audio.InputDevice(p.devices, id)
		if derr != nil {
			return "", derr
		}
		src, err = p.openCapture(dev, p.inputStreamConfig())
		if name == "" {
			name = p.registry.NextName("track")
		}
	case audio.KindFile:
		src, err = p.openFile(spec.Path, p.cfg.Audio.RingSeconds)
		if name == "" {
			name = fileTrackName(spec.Path)
		}
	default:
		return "", fmt.Errorf("unsupported source kind %s", spec.Kind)
	}
	if err != nil {
		return "", err
	}

	t := track.New(name, src, "", track.DefaultAttributes(), p.recordConfig())
	if err := p.registry.Add(t); err != nil {
		src.Close()
		return "", err
	}
	p.attachMeter(name, src)
	p.log.Infof("added %s track %q (%s)", spec.Kind, name, src.Name())
	return name, nil
}

// RemoveTrack stops the named track, finalizes any recording and drops it.
func (p *Project) RemoveTrack(name string) error {
	return p.guard("remove track", func() error {
		if err := p.registry.Remove(name); err != nil {
			return err
		}
		if p.meter != nil {
			p.meter.Remove(name)
		}
		return nil
	})
}

// StartStream starts the master output and every input track with monitor
// or record set.
func (p *Project) StartStream() error {
	return p.guard("start stream", func() error {
		var errs []error
		for _, t := range p.registry.Tracks() {
			if err := t.Start(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// StopStream stops every stream. Stopping twice is a no-op.
func (p *Project) StopStream() error {
	return p.guard("stop stream", func() error {
		return p.stopAll()
	})
}

func (p *Project) stopAll() error {
	var errs []error
	for _, t := range p.registry.Tracks() {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExportTrack writes the unread contents of a track's buffer to a WAV file.
func (p *Project) ExportTrack(name, path string) error {
	return p.guard("export track", func() error {
		t, err := p.registry.Get(name)
		if err != nil {
			return err
		}
		return t.ExportBuffer(path)
	})
}

// Close stops and releases every stream.
func (p *Project) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, t := range p.registry.Tracks() {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
