// Package track implements tracks and the registry the mixer reads from.
//
// Lock order is registry, then track. The playback callback only ever
// try-locks both, so a busy control thread costs one block of silence for
// the affected track instead of a stalled device.
package track

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trackmix/internal/audio"
	"trackmix/internal/config"
	"trackmix/internal/log"
)

// MasterName is the fixed name of the master output track.
const MasterName = "master-out"

// Kind distinguishes input tracks from the master output.
type Kind uint8

const (
	Input Kind = iota
	MasterOutput
)

func (k Kind) String() string {
	if k == MasterOutput {
		return "master"
	}
	return "input"
}

// RecordConfig controls where and how recordings are written.
type RecordConfig struct {
	Dir           string
	DrainInterval time.Duration
	RingSeconds   float64
}

// DefaultRecordConfig mirrors the config package defaults.
func DefaultRecordConfig() RecordConfig {
	return RecordConfig{
		Dir:           config.DefaultRecordingDir,
		DrainInterval: config.DefaultDrainInterval,
		RingSeconds:   config.DefaultRingSeconds,
	}
}

// Info is an immutable view of a track for display and persistence.
type Info struct {
	Name      string
	Kind      Kind
	Source    audio.SourceKind
	Origin    string // device name or file path
	Gain      float32
	Pan       float32
	Mute      bool
	Solo      bool
	Monitor   bool
	Record    bool
	Streaming bool
	Offline   bool
}

// Attributes are the persisted mixer settings of a track.
type Attributes struct {
	Gain    float32
	Pan     float32
	Mute    bool
	Solo    bool
	Monitor bool
	Record  bool
}

// DefaultAttributes is unity gain, centre pan, everything off.
func DefaultAttributes() Attributes {
	return Attributes{Gain: 1}
}

// Track binds a stream to its mixer state. Input tracks own an
// audio.Source; the master track owns the playback sink.
type Track struct {
	mu     sync.Mutex
	name   string
	kind   Kind
	stream audio.Stream
	src    audio.Source // stream as a Source, nil for the master
	origin string       // kept for offline tracks
	attrs  Attributes
	solo   atomic.Bool // mirrors attrs.Solo for the mixer

	streaming bool
	rec       *recorder
	recCfg    RecordConfig
	log       *log.Logger
}

// New creates an input track. stream may be nil for an offline placeholder,
// in which case origin names what it used to be bound to.
func New(name string, stream audio.Stream, origin string, attrs Attributes, rc RecordConfig) *Track {
	if stream != nil {
		origin = stream.Name()
	}
	src, _ := stream.(audio.Source)
	t := &Track{
		name:   name,
		kind:   Input,
		stream: stream,
		src:    src,
		origin: origin,
		attrs:  attrs,
		recCfg: rc,
		log:    log.Named("track " + name),
	}
	t.solo.Store(attrs.Solo)
	return t
}

// NewMaster creates the master output track around the playback sink.
func NewMaster(sink audio.Stream, rc RecordConfig) *Track {
	t := New(MasterName, sink, "", DefaultAttributes(), rc)
	t.kind = MasterOutput
	t.solo.Store(false)
	return t
}

func (t *Track) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

func (t *Track) Kind() Kind { return t.kind }

// Stream returns the bound stream, nil for offline tracks.
func (t *Track) Stream() audio.Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream
}

func (t *Track) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := Info{
		Name:      t.name,
		Kind:      t.kind,
		Origin:    t.origin,
		Gain:      t.attrs.Gain,
		Pan:       t.attrs.Pan,
		Mute:      t.attrs.Mute,
		Solo:      t.attrs.Solo,
		Monitor:   t.attrs.Monitor,
		Record:    t.attrs.Record,
		Streaming: t.running(),
		Offline:   t.stream == nil,
	}
	if t.stream != nil {
		info.Source = t.stream.Kind()
	}
	return info
}

func (t *Track) Attributes() Attributes {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attrs
}

// Restore sets every attribute at once without starting or stopping
// anything; the next Start picks the new flags up.
func (t *Track) Restore(a Attributes) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kind == MasterOutput {
		a.Solo, a.Monitor = false, false
	}
	t.attrs = a
	t.solo.Store(a.Solo)
}

// apply changes one attribute. Rename is handled by the registry.
func (t *Track) apply(u Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch u.Kind {
	case UpdateGain:
		if math.IsNaN(float64(u.Value)) || math.IsInf(float64(u.Value), 0) || u.Value < 0 {
			return fmt.Errorf("%w: gain %v", ErrInvalidValue, u.Value)
		}
		t.attrs.Gain = u.Value
	case UpdatePan:
		if math.IsNaN(float64(u.Value)) {
			return fmt.Errorf("%w: pan %v", ErrInvalidValue, u.Value)
		}
		t.attrs.Pan = max(-1, min(1, u.Value))
	case UpdateMute:
		t.attrs.Mute = u.Flag
	case UpdateSolo:
		if t.kind == MasterOutput {
			return fmt.Errorf("%w: solo", ErrMasterTrack)
		}
		t.attrs.Solo = u.Flag
		t.solo.Store(u.Flag)
	case UpdateMonitor:
		if t.kind == MasterOutput {
			return fmt.Errorf("%w: monitor", ErrMasterTrack)
		}
		return t.setFlag(&t.attrs.Monitor, u.Flag)
	case UpdateRecord:
		return t.setFlag(&t.attrs.Record, u.Flag)
	default:
		return fmt.Errorf("%w: unsupported update %s", ErrInvalidValue, u)
	}
	return nil
}

// setFlag sets the monitor or record flag and reconciles. A flag that
// fails to switch on is switched back off. Callers hold t.mu.
func (t *Track) setFlag(flag *bool, on bool) error {
	was := *flag
	*flag = on
	err := t.reconcile()
	if err != nil && on && !was {
		*flag = false
		if m, ok := t.stream.(audio.Monitorable); ok {
			m.SetMonitoring(t.attrs.Monitor)
		}
	}
	return err
}

// running reports whether the stream is still producing. A stream can
// end by itself, so the cached flag alone is not enough. Callers hold t.mu.
func (t *Track) running() bool {
	if !t.streaming || t.stream == nil {
		return false
	}
	if r, ok := t.stream.(audio.Runner); ok {
		return r.Running()
	}
	return true
}

// reconcile brings the stream and recorder in line with monitor/record.
// Callers hold t.mu.
func (t *Track) reconcile() error {
	if t.stream == nil {
		if t.attrs.Monitor || t.attrs.Record {
			t.log.Warnf("track is offline (%s), nothing to stream", t.origin)
		}
		return nil
	}

	if m, ok := t.stream.(audio.Monitorable); ok {
		m.SetMonitoring(t.attrs.Monitor)
	}

	if t.kind == MasterOutput {
		// The master stream follows the project transport; only the
		// recorder follows the record flag.
		if t.attrs.Record {
			return t.openRecorder()
		}
		return t.closeRecorder()
	}

	want := t.attrs.Monitor || t.attrs.Record
	if !want {
		return t.stopLocked()
	}

	if t.attrs.Record {
		if err := t.openRecorder(); err != nil {
			return err
		}
	} else if err := t.closeRecorder(); err != nil {
		return err
	}

	if !t.running() {
		if err := t.stream.Start(); err != nil {
			t.closeRecorder()
			return fmt.Errorf("failed to start %s: %w", t.name, err)
		}
		t.streaming = true
		t.log.Debugf("streaming")
	}
	return nil
}

func (t *Track) openRecorder() error {
	if t.rec != nil {
		return nil
	}
	tap, ok := t.stream.(audio.Recordable)
	if !ok {
		t.log.Warnf("%s sources cannot be recorded", t.stream.Kind())
		return nil
	}
	path := filepath.Join(t.recCfg.Dir, recordingName(t.name, time.Now()))
	rec, err := startRecorder(tap, t.stream.Format(), path, t.recCfg, t.log)
	if err != nil {
		return fmt.Errorf("failed to start recording on %s: %w", t.name, err)
	}
	t.rec = rec
	return nil
}

func (t *Track) closeRecorder() error {
	if t.rec == nil {
		return nil
	}
	rec := t.rec
	t.rec = nil
	return rec.stop()
}

// stopLocked stops the stream then finalizes any recording.
func (t *Track) stopLocked() error {
	if t.stream == nil {
		return nil
	}
	var err error
	if t.streaming {
		err = t.stream.Stop()
		t.streaming = false
		t.log.Debugf("stopped")
	}
	if cerr := t.closeRecorder(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Start starts the stream if monitor or record is set. The master stream
// always starts.
func (t *Track) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.kind == MasterOutput {
		if t.stream == nil {
			return ErrNoSource
		}
		if err := t.reconcile(); err != nil {
			return err
		}
		if !t.running() {
			if err := t.stream.Start(); err != nil {
				return fmt.Errorf("failed to start %s: %w", t.name, err)
			}
			t.streaming = true
		}
		return nil
	}
	return t.reconcile()
}

// Stop stops the stream and finalizes any recording, leaving attributes
// untouched. Stopping a stopped track is a no-op.
func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked()
}

// Close stops the track and releases its stream.
func (t *Track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.stopLocked()
	if t.stream != nil {
		if cerr := t.stream.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// swapStream replaces the bound stream and returns the old one. Any
// recording keeps running against the new stream.
func (t *Track) swapStream(s audio.Stream) audio.Stream {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.stream
	t.stream = s
	t.src, _ = s.(audio.Source)
	t.origin = s.Name()
	t.streaming = false
	if t.rec != nil {
		if tap, ok := s.(audio.Recordable); ok {
			t.rec.retarget(tap)
		}
	}
	return old
}

func (t *Track) rename(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = name
	t.log = log.Named("track " + name)
}

// ExportBuffer writes what is currently buffered for the mixer to a WAV
// file without consuming it.
func (t *Track) ExportBuffer(path string) error {
	t.mu.Lock()
	src := t.src
	t.mu.Unlock()
	if src == nil {
		return fmt.Errorf("%w: %s has no buffer", ErrNoSource, t.Name())
	}

	rb := src.Buffer()
	samples := make([]float32, rb.Cap())
	n := rb.Peek(samples)
	return audio.WriteWAV(path, src.Format(), samples[:n])
}

func recordingName(track string, at time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, track)
	return fmt.Sprintf("%s-%s.wav", safe, at.Format("20060102-150405.000"))
}
