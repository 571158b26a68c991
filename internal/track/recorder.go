package track

import (
	"time"

	"trackmix/internal/audio"
	"trackmix/internal/log"
	"trackmix/internal/ringbuf"
	"trackmix/pkg/bitint"
)

// recorder drains a record tap into a FileSink on a background goroutine.
type recorder struct {
	tap  audio.Recordable
	ring *ringbuf.RingBuffer
	sink *audio.FileSink
	buf  []float32
	log  *log.Logger

	quit chan struct{}
	done chan struct{}
}

func startRecorder(tap audio.Recordable, format audio.Format, path string, cfg RecordConfig, lg *log.Logger) (*recorder, error) {
	sink, err := audio.CreateFileSink(path, format)
	if err != nil {
		return nil, err
	}

	ring := ringbuf.New(bitint.Capacity(cfg.RingSeconds, format.SampleRate, format.Channels))
	r := &recorder{
		tap:  tap,
		ring: ring,
		sink: sink,
		buf:  make([]float32, ring.Cap()),
		log:  lg,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	tap.SetRecordTap(ring)

	go r.run(cfg.DrainInterval)
	lg.Infof("recording to %s", path)
	return r, nil
}

func (r *recorder) run(interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			r.drain()
			return
		case <-ticker.C:
			r.drain()
		}
	}
}

func (r *recorder) drain() {
	for {
		n := r.ring.Read(r.buf)
		if n == 0 {
			return
		}
		if err := r.sink.Write(r.buf[:n]); err != nil {
			r.log.Errorf("record write failed: %v", err)
			return
		}
	}
}

// retarget moves the tap to a new stream, used when the output device changes.
func (r *recorder) retarget(tap audio.Recordable) {
	r.tap.SetRecordTap(nil)
	r.tap = tap
	tap.SetRecordTap(r.ring)
}

// stop detaches the tap, drains what is left and finalizes the file.
func (r *recorder) stop() error {
	r.tap.SetRecordTap(nil)
	close(r.quit)
	<-r.done
	r.log.Infof("finalized %s (%d samples)", r.sink.Path(), r.sink.Samples())
	return r.sink.Close()
}
