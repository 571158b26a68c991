// SPDX-License-Identifier: MIT
/*
Package ringbuf implements the fixed-capacity sample buffer shared between a
real-time producer (a device or file callback) and the goroutines that
consume its samples.

The producer never blocks and never fails: writing into a full buffer
advances the read cursor, dropping the oldest unread sample. Every method
holds the mutex for O(len) work on preallocated memory only, so the lock is
safe to take from inside a device callback.
*/
package ringbuf

import "sync"

// RingBuffer is a circular store of float32 samples. The zero value is not
// usable; create one with New.
type RingBuffer struct {
	mu    sync.Mutex
	data  []float32
	read  int
	write int
	full  bool
}

// New allocates a RingBuffer holding at most size samples.
// It panics if size is not positive.
func New(size int) *RingBuffer {
	if size <= 0 {
		panic("ringbuf: size must be positive")
	}
	return &RingBuffer{data: make([]float32, size)}
}

// Cap returns the fixed capacity in samples.
func (rb *RingBuffer) Cap() int {
	return len(rb.data)
}

// Len returns the number of unread samples.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.length()
}

func (rb *RingBuffer) length() int {
	if rb.full {
		return len(rb.data)
	}
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return len(rb.data) - rb.read + rb.write
}

// Write copies samples into the buffer. When the buffer is full the oldest
// unread samples are overwritten.
func (rb *RingBuffer) Write(samples []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.data)
	// Only the newest size samples can survive the write.
	if len(samples) > size {
		samples = samples[len(samples)-size:]
	}
	for len(samples) > 0 {
		n := copy(rb.data[rb.write:], samples)
		samples = samples[n:]
		free := size - rb.length()
		rb.write = (rb.write + n) % size
		if n >= free {
			rb.full = true
			rb.read = rb.write
		}
	}
}

// Read drains up to len(out) unread samples into out and returns how many
// were copied.
func (rb *RingBuffer) Read(out []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.copyOut(out)
	if n > 0 {
		rb.read = (rb.read + n) % len(rb.data)
		rb.full = false
	}
	return n
}

// Peek copies up to len(out) unread samples into out without consuming
// them.
func (rb *RingBuffer) Peek(out []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.copyOut(out)
}

// Pop removes and returns the oldest unread sample. The boolean is false
// when the buffer is empty.
func (rb *RingBuffer) Pop() (float32, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.full && rb.read == rb.write {
		return 0, false
	}
	s := rb.data[rb.read]
	rb.read = (rb.read + 1) % len(rb.data)
	rb.full = false
	return s, true
}

// Reset discards every unread sample.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	rb.read, rb.write, rb.full = 0, 0, false
	rb.mu.Unlock()
}

// copyOut copies from the read cursor without moving it. Caller holds mu.
func (rb *RingBuffer) copyOut(out []float32) int {
	n := min(len(out), rb.length())
	if n == 0 {
		return 0
	}
	first := copy(out[:n], rb.data[rb.read:])
	if first < n {
		copy(out[first:n], rb.data[:n-first])
	}
	return n
}
