package audio

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"trackmix/internal/config"
	"trackmix/internal/log"
	"trackmix/internal/ringbuf"
	"trackmix/pkg/bitint"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileSource streams a 16-bit PCM WAV file into a ring buffer at the
// file's own sample rate. It stops at end of file; Start after EOF
// rewinds to the beginning.
type FileSource struct {
	path     string
	format   Format
	ring     *ringbuf.RingBuffer
	interval time.Duration
	log      *log.Logger

	mu   sync.Mutex
	file *os.File
	dec  *wav.Decoder
	pcm  *audio.IntBuffer
	conv []float32
	done chan struct{}

	streaming atomic.Bool
	eof       atomic.Bool
	closed    bool
}

// OpenFileSource opens path and validates it as 16-bit PCM WAV.
func OpenFileSource(path string, ringSeconds float64) (*FileSource, error) {
	return openFileSource(path, ringSeconds, config.DefaultDrainInterval)
}

func openFileSource(path string, ringSeconds float64, interval time.Duration) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file: %w", err)
	}

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%w: %s is not a valid wav file", ErrUnsupportedFormat, path)
	}
	if dec.BitDepth != pcmBitDepth || dec.WavAudioFormat != pcmFormat {
		file.Close()
		return nil, fmt.Errorf("%w: %s is %d-bit format %d, want 16-bit PCM",
			ErrUnsupportedFormat, path, dec.BitDepth, dec.WavAudioFormat)
	}

	format := Format{SampleRate: float64(dec.SampleRate), Channels: int(dec.NumChans)}

	// One tick's worth of frames at the native rate.
	frames := max(1, int(format.SampleRate*interval.Seconds()))
	chunk := frames * format.Channels

	return &FileSource{
		path:     path,
		format:   format,
		ring:     ringbuf.New(bitint.Capacity(ringSeconds, format.SampleRate, format.Channels)),
		interval: interval,
		log:      log.Named("file " + path),
		file:     file,
		dec:      dec,
		pcm: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: format.Channels, SampleRate: int(dec.SampleRate)},
			Data:   make([]int, chunk),
		},
		conv: make([]float32, chunk),
	}, nil
}

// Start begins pushing samples. Starting a running source is a no-op.
func (s *FileSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.streaming.Load() {
		return nil
	}
	if s.done != nil {
		<-s.done
	}
	if s.eof.Load() {
		if err := s.dec.Rewind(); err != nil {
			return fmt.Errorf("failed to rewind %s: %w", s.path, err)
		}
		s.eof.Store(false)
	}

	s.streaming.Store(true)
	done := make(chan struct{})
	s.done = done
	go s.run(done)
	return nil
}

func (s *FileSource) run(done chan struct{}) {
	defer close(done)
	defer s.streaming.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for range ticker.C {
		if !s.streaming.Load() {
			return
		}

		s.pcm.Data = s.pcm.Data[:cap(s.pcm.Data)]
		n, err := s.dec.PCMBuffer(s.pcm)
		if n > 0 {
			for i, v := range s.pcm.Data[:n] {
				s.conv[i] = float32(v) / pcmFullScale
			}
			s.ring.Write(s.conv[:n])
		}
		if err != nil && err != io.EOF {
			s.log.Errorf("decode failed: %v", err)
			return
		}
		if n < len(s.pcm.Data) {
			s.log.Debugf("reached end of file")
			s.eof.Store(true)
			return
		}
	}
}

// Stop halts the decode loop and waits for it to exit. Calling Stop on a
// stopped source is a no-op.
func (s *FileSource) Stop() error {
	s.streaming.Store(false)
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

// Close stops the source and closes the file. Later calls return nil.
func (s *FileSource) Close() error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

func (s *FileSource) Running() bool { return s.streaming.Load() }

// EOF reports whether the decode loop reached the end of the file.
func (s *FileSource) EOF() bool { return s.eof.Load() }

func (s *FileSource) Format() Format { return s.format }
func (s *FileSource) Kind() SourceKind { return KindFile }
func (s *FileSource) Name() string { return s.path }
func (s *FileSource) Path() string { return s.path }
func (s *FileSource) Buffer() *ringbuf.RingBuffer { return s.ring }

// ReadWAV decodes a whole 16-bit PCM WAV file into float samples.
func ReadWAV(path string) ([]float32, Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("%w: %s is not a valid wav file", ErrUnsupportedFormat, path)
	}
	if dec.BitDepth != pcmBitDepth {
		return nil, Format{}, fmt.Errorf("%w: %s is %d-bit", ErrUnsupportedFormat, path, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / pcmFullScale
	}
	return out, Format{SampleRate: float64(dec.SampleRate), Channels: int(dec.NumChans)}, nil
}
