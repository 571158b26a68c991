// SPDX-License-Identifier: MIT
/*
Package meter publishes per-track peak, RMS and band levels. Device
callbacks hand raw blocks to a Channel (a ring buffer write, nothing more);
the Hub goroutine drains every channel on a ticker, reduces it to levels and
sends one Frame per tick over a transport.

Meters are a side channel: a slow or failing transport loses frames and
never touches capture or playback.
*/
package meter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"trackmix/internal/log"
	"trackmix/internal/ringbuf"
	"trackmix/internal/transport"

	"gonum.org/v1/gonum/floats"
)

// DefaultChannelSize is the ring size of each channel, enough for a
// stereo 48kHz stream between two ticks at 10Hz.
const DefaultChannelSize = 16384

var meterLog = log.Named("meter")

// Level is the reduced signal of one track over one tick.
type Level struct {
	Track string            `json:"track"`
	Peak  float32           `json:"peak"`
	RMS   float32           `json:"rms"`
	Bands [NumBands]float32 `json:"bands"` // See Bands for the ranges
}

// Frame is one published set of levels.
type Frame struct {
	Seq       uint32  `json:"seq"`
	Timestamp int64   `json:"ts"` // Nanoseconds since epoch
	Levels    []Level `json:"levels"`
}

func (f Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d", f.Seq)
	for _, l := range f.Levels {
		fmt.Fprintf(&b, " %s=%.3f/%.3f", l.Track, l.Peak, l.RMS)
	}
	return b.String()
}

/*
MarshalBinary packs a frame for UDP (BigEndian):

	+------------------+---------+--------------+---------------------------+
	| Field            | Type    | Size (Bytes) | Description               |
	|------------------|---------|--------------|---------------------------|
	| Sequence Number  | uint32  | 4            | Monotonically increasing  |
	| Timestamp        | int64   | 8            | Nanoseconds since epoch   |
	| Level Count      | uint16  | 2            | Number of levels (N)      |
	| Levels           | N times |              |                           |
	|   Name Length    | uint8   | 1            | Track name bytes (L)      |
	|   Name           | []byte  | L            | UTF-8, truncated to 255   |
	|   Peak           | float32 | 4            |                           |
	|   RMS            | float32 | 4            |                           |
	|   Bands          | float32 | 4 * 6        | Strongest bin per band    |
	+------------------+---------+--------------+---------------------------+
*/
func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Levels) > math.MaxUint16 {
		return nil, fmt.Errorf("meter: %d levels do not fit a frame", len(f.Levels))
	}
	var buf bytes.Buffer
	buf.Grow(14 + len(f.Levels)*48)

	err := binary.Write(&buf, binary.BigEndian, f.Seq)
	if err == nil {
		err = binary.Write(&buf, binary.BigEndian, f.Timestamp)
	}
	if err == nil {
		err = binary.Write(&buf, binary.BigEndian, uint16(len(f.Levels)))
	}
	for _, l := range f.Levels {
		if err != nil {
			break
		}
		name := l.Track
		if len(name) > math.MaxUint8 {
			name = name[:math.MaxUint8]
		}
		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
		var v [2 + NumBands]float32
		v[0], v[1] = l.Peak, l.RMS
		copy(v[2:], l.Bands[:])
		err = binary.Write(&buf, binary.BigEndian, v)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (f *Frame) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &f.Seq); err != nil {
		return fmt.Errorf("meter: short frame: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &f.Timestamp); err != nil {
		return fmt.Errorf("meter: short frame: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("meter: short frame: %w", err)
	}
	f.Levels = make([]Level, count)
	for i := range f.Levels {
		n, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("meter: short frame: %w", err)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(r, name); err != nil {
			return fmt.Errorf("meter: short frame: %w", err)
		}
		var v [2 + NumBands]float32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return fmt.Errorf("meter: short frame: %w", err)
		}
		f.Levels[i] = Level{Track: string(name), Peak: v[0], RMS: v[1]}
		copy(f.Levels[i].Bands[:], v[2:])
	}
	return nil
}

// Levels reduces samples to peak and RMS. scratch must be at least as long
// as samples.
func Levels(samples []float32, scratch []float64) (peak, rms float32) {
	if len(samples) == 0 {
		return 0, 0
	}
	x := scratch[:len(samples)]
	for i, s := range samples {
		x[i] = float64(s)
	}
	hi, lo := floats.Max(x), floats.Min(x)
	peak = float32(math.Max(hi, -lo))
	rms = float32(floats.Norm(x, 2) / math.Sqrt(float64(len(x))))
	return peak, rms
}

// Channel buffers the raw blocks of one track. It implements
// audio.Observer.
type Channel struct {
	ring       *ringbuf.RingBuffer
	sampleRate float64
	channels   int
}

// Observe is called from the device callback.
func (c *Channel) Observe(samples []float32) {
	c.ring.Write(samples)
}

// Hub owns the channels and the publishing goroutine.
type Hub struct {
	transport transport.Transport
	interval  time.Duration
	size      int

	mu       sync.Mutex // Protects channels, ticker and doneChan
	channels map[string]*Channel
	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	seq      uint32
	samples  []float32
	scratch  []float64
	spectrum *spectrum
}

// NewHub creates a hub sending over t. If the interval is invalid (<= 0)
// it defaults to 33ms (~30Hz).
func NewHub(t transport.Transport, interval time.Duration, channelSize int) (*Hub, error) {
	if t == nil {
		return nil, fmt.Errorf("meter: transport cannot be nil")
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
		meterLog.Warnf("invalid interval, defaulting to %s", interval)
	}
	if channelSize <= 0 {
		channelSize = DefaultChannelSize
	}
	return &Hub{
		transport: t,
		interval:  interval,
		size:      channelSize,
		channels:  make(map[string]*Channel),
		samples:   make([]float32, channelSize),
		scratch:   make([]float64, channelSize),
		spectrum:  newSpectrum(SpectrumSize),
	}, nil
}

// Channel returns the channel for name, creating it on first use. The
// format describes the interleaved blocks it will observe; a zero sample
// rate disables band levels.
func (h *Hub) Channel(name string, sampleRate float64, channels int) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.channels[name]
	if !ok {
		c = &Channel{ring: ringbuf.New(h.size)}
		h.channels[name] = c
	}
	c.sampleRate, c.channels = sampleRate, channels
	return c
}

// Rename moves a channel to a new name.
func (h *Hub) Rename(from, to string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.channels[from]; ok {
		delete(h.channels, from)
		h.channels[to] = c
	}
}

func (h *Hub) Remove(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels, name)
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; later calls are no-ops while running.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.ticker != nil {
		h.mu.Unlock()
		return
	}

	h.ticker = time.NewTicker(h.interval)
	h.doneChan = make(chan struct{})
	h.stopOnce = sync.Once{}

	// Capture locals for the goroutine to avoid racing Stop.
	ticker := h.ticker
	doneChan := h.doneChan
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		meterLog.Debugf("publishing every %s", h.interval)
		for {
			select {
			case <-ticker.C:
				h.publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine to terminate and waits for it.
// It is safe to call Stop multiple times.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if h.ticker == nil {
		h.mu.Unlock()
		return nil
	}
	h.stopOnce.Do(func() {
		close(h.doneChan)
		h.ticker.Stop()
		h.ticker = nil
	})
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}

// Close stops publishing and closes the transport.
func (h *Hub) Close() error {
	h.Stop()
	return h.transport.Close()
}

// Collect drains every channel into a frame. Channels that saw no samples
// since the last call report zero.
func (h *Hub) Collect() Frame {
	h.mu.Lock()
	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	slices.Sort(names)

	h.seq++
	frame := Frame{Seq: h.seq, Timestamp: time.Now().UnixNano(), Levels: make([]Level, len(names))}
	for i, name := range names {
		c := h.channels[name]
		n := c.ring.Read(h.samples)
		peak, rms := Levels(h.samples[:n], h.scratch)
		frame.Levels[i] = Level{Track: name, Peak: peak, RMS: rms}
		h.spectrum.bands(h.samples[:n], c.channels, c.sampleRate, &frame.Levels[i].Bands)
	}
	h.mu.Unlock()
	return frame
}

func (h *Hub) publish() {
	frame := h.Collect()
	if err := h.transport.Send(frame); err != nil {
		meterLog.Debugf("dropped frame %d: %v", frame.Seq, err)
	}
}
