package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	pcmBitDepth   = 16
	pcmFormat     = 1 // WAVE_FORMAT_PCM
	pcmFullScale  = 32767
	sinkChunkSize = 4096
)

// Quantize converts a float sample to 16-bit PCM, clamping to [-1, 1].
func Quantize(sample float32) int {
	s := float64(sample)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int(math.Round(s * pcmFullScale))
}

// FileSink writes float samples to a 16-bit PCM WAV file. Samples arrive in
// arbitrary chunk sizes; only whole frames reach the encoder and a trailing
// partial frame is zero padded on Close.
type FileSink struct {
	mu      sync.Mutex
	path    string
	format  Format
	file    *os.File
	enc     *wav.Encoder
	buf     *audio.IntBuffer
	pending []float32
	samples int
	closed  bool
}

// CreateFileSink creates path (and its parent directory) and writes the
// WAV header for format.
func CreateFileSink(path string, format Format) (*FileSink, error) {
	if format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d channels at %.0f Hz", ErrUnsupportedFormat, format.Channels, format.SampleRate)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create recording directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}

	rate := int(format.SampleRate)
	return &FileSink{
		path:   path,
		format: format,
		file:   file,
		enc:    wav.NewEncoder(file, rate, pcmBitDepth, format.Channels, pcmFormat),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: format.Channels, SampleRate: rate},
			Data:           make([]int, 0, sinkChunkSize),
			SourceBitDepth: pcmBitDepth,
		},
		pending: make([]float32, 0, format.Channels),
	}, nil
}

func (s *FileSink) Path() string   { return s.path }
func (s *FileSink) Format() Format { return s.format }

// Samples returns the number of samples handed to the encoder so far.
func (s *FileSink) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Write quantizes and appends samples. Writing after Close panics.
func (s *FileSink) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		panic("audio: write to closed FileSink " + s.path)
	}

	ch := s.format.Channels
	if len(s.pending) > 0 {
		need := ch - len(s.pending)
		if len(samples) < need {
			s.pending = append(s.pending, samples...)
			return nil
		}
		s.pending = append(s.pending, samples[:need]...)
		samples = samples[need:]
		if err := s.encode(s.pending); err != nil {
			return err
		}
		s.pending = s.pending[:0]
	}

	whole := len(samples) - len(samples)%ch
	if err := s.encode(samples[:whole]); err != nil {
		return err
	}
	s.pending = append(s.pending, samples[whole:]...)
	return nil
}

func (s *FileSink) encode(samples []float32) error {
	for len(samples) > 0 {
		n := min(len(samples), cap(s.buf.Data))
		n -= n % s.format.Channels
		if n == 0 {
			n = len(samples)
		}
		s.buf.Data = s.buf.Data[:0]
		for _, v := range samples[:n] {
			s.buf.Data = append(s.buf.Data, Quantize(v))
		}
		if err := s.enc.Write(s.buf); err != nil {
			return fmt.Errorf("failed to write %s: %w", s.path, err)
		}
		s.samples += n
		samples = samples[n:]
	}
	return nil
}

// Close pads any partial frame and finalizes the WAV header. Closing twice
// panics.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		panic("audio: FileSink closed twice " + s.path)
	}
	s.closed = true

	var firstErr error
	if len(s.pending) > 0 {
		for len(s.pending) < s.format.Channels {
			s.pending = append(s.pending, 0)
		}
		firstErr = s.encode(s.pending)
		s.pending = s.pending[:0]
	}
	if err := s.enc.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to finalize %s: %w", s.path, err)
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// WriteWAV writes samples to a new WAV file at path in one go.
func WriteWAV(path string, format Format, samples []float32) error {
	sink, err := CreateFileSink(path, format)
	if err != nil {
		return err
	}
	if err := sink.Write(samples); err != nil {
		sink.Close()
		return err
	}
	return sink.Close()
}
