package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trackmix/internal/log"

	"github.com/gordonklaus/portaudio"
)

// supervisePoll is how often a supervisor checks its streaming flag.
const supervisePoll = 10 * time.Millisecond

// deviceStream is the subset of *portaudio.Stream the engine drives.
type deviceStream interface {
	Start() error
	Stop() error
	Close() error
}

// openStream opens a PortAudio stream. Tests replace it with a fake that
// hands the callback back to the test.
var openStream = func(p portaudio.StreamParameters, callback any) (deviceStream, error) {
	s, err := portaudio.OpenStream(p, callback)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// streamStats counts driver-reported conditions. Callbacks only add; the
// supervisor goroutine reports.
type streamStats struct {
	inputOverflow   atomic.Uint64
	inputUnderflow  atomic.Uint64
	outputUnderflow atomic.Uint64
	outputOverflow  atomic.Uint64
}

func (s *streamStats) record(flags portaudio.StreamCallbackFlags) {
	if flags == 0 {
		return
	}
	if flags&portaudio.InputOverflow != 0 {
		s.inputOverflow.Add(1)
	}
	if flags&portaudio.InputUnderflow != 0 {
		s.inputUnderflow.Add(1)
	}
	if flags&portaudio.OutputUnderflow != 0 {
		s.outputUnderflow.Add(1)
	}
	if flags&portaudio.OutputOverflow != 0 {
		s.outputOverflow.Add(1)
	}
}

func (s *streamStats) snapshot() [4]uint64 {
	return [4]uint64{
		s.inputOverflow.Load(),
		s.inputUnderflow.Load(),
		s.outputUnderflow.Load(),
		s.outputOverflow.Load(),
	}
}

var statNames = [4]string{"input overflow", "input underflow", "output underflow", "output overflow"}

// supervisor owns a device stream handle for as long as it runs. Start
// activates the stream and spawns a goroutine that holds it until the
// streaming flag drops, then pauses the stream.
type supervisor struct {
	stream deviceStream
	stats  *streamStats
	log    *log.Logger

	mu        sync.Mutex
	streaming atomic.Bool
	done      chan struct{}
	closed    bool
	last      [4]uint64
}

func newSupervisor(name string, stream deviceStream, stats *streamStats) *supervisor {
	return &supervisor{
		stream: stream,
		stats:  stats,
		log:    log.Named(name),
	}
}

func (s *supervisor) start() error {
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

	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	s.streaming.Store(true)

	done := make(chan struct{})
	s.done = done
	go s.run(done)
	return nil
}

func (s *supervisor) run(done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(supervisePoll)
	defer ticker.Stop()

	for range ticker.C {
		s.report()
		if !s.streaming.Load() {
			break
		}
	}

	if err := s.stream.Stop(); err != nil {
		s.log.Warnf("failed to stop stream: %v", err)
	}
	s.report()
}

// report logs counters that moved since the last call.
func (s *supervisor) report() {
	if s.stats == nil {
		return
	}
	now := s.stats.snapshot()
	for i := range now {
		if d := now[i] - s.last[i]; d > 0 {
			s.log.Warnf("%s x%d", statNames[i], d)
		}
	}
	s.last = now
}

// stop flips the streaming flag. Calling it on a stopped stream is a no-op.
func (s *supervisor) stop() {
	s.streaming.Store(false)
}

// wait blocks until the supervisor goroutine has paused the stream.
func (s *supervisor) wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *supervisor) running() bool {
	return s.streaming.Load()
}

// close stops the stream and releases the device handle. Later calls return nil.
func (s *supervisor) close() error {
	s.stop()
	s.wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}
