// SPDX-License-Identifier: MIT
package meter

import (
	"math"
	"sync"
	"testing"
	"time"

	"trackmix/pkg/utils"
)

// mockTransport stores sent frames for later inspection.
type mockTransport struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func (m *mockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, data.(Frame))
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func TestLevels(t *testing.T) {
	scratch := make([]float64, 1024)
	tests := []struct {
		name      string
		in        []float32
		peak, rms float64
	}{
		{"empty", nil, 0, 0},
		{"constant", utils.GenerateConstant(100, 0.5), 0.5, 0.5},
		{"negative peak", []float32{0.1, -0.8, 0.2}, 0.8, math.Sqrt((0.01 + 0.64 + 0.04) / 3)},
		{"sine", utils.GenerateSineWave(1000, 1000, 10), 0.9, 0.9 / math.Sqrt2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peak, rms := Levels(tt.in, scratch)
			if math.Abs(float64(peak)-tt.peak) > 1e-3 {
				t.Errorf("peak = %v, want %v", peak, tt.peak)
			}
			if math.Abs(float64(rms)-tt.rms) > 1e-3 {
				t.Errorf("rms = %v, want %v", rms, tt.rms)
			}
		})
	}
}

func TestFrameBinary(t *testing.T) {
	in := Frame{Seq: 7, Timestamp: 123456789, Levels: []Level{
		{Track: "vox", Peak: 0.5, RMS: 0.25, Bands: [NumBands]float32{0, 0.1, 0.2, 0.3, 0.4, 0.5}},
		{Track: "master-out", Peak: 1, RMS: 0.7},
	}}
	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if want := 14 + (1 + 3 + 32) + (1 + 10 + 32); len(data) != want {
		t.Errorf("len = %d, want %d", len(data), want)
	}

	var out Frame
	if err := out.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if out.Seq != in.Seq || out.Timestamp != in.Timestamp || len(out.Levels) != 2 {
		t.Fatalf("out = %+v", out)
	}
	for i := range in.Levels {
		if out.Levels[i] != in.Levels[i] {
			t.Errorf("level %d = %+v, want %+v", i, out.Levels[i], in.Levels[i])
		}
	}

	if err := out.UnmarshalBinary(data[:10]); err == nil {
		t.Error("expected error for truncated frame")
	}
}

func TestHub_CollectDrainsChannels(t *testing.T) {
	hub, err := NewHub(&mockTransport{}, time.Second, 64)
	if err != nil {
		t.Fatal(err)
	}
	hub.Channel("b", 0, 1).Observe([]float32{0.2, -0.4})
	hub.Channel("a", 0, 1).Observe([]float32{0.1})
	hub.Channel("c", 0, 1)

	f := hub.Collect()
	if f.Seq != 1 || len(f.Levels) != 3 {
		t.Fatalf("frame = %+v", f)
	}
	if f.Levels[0].Track != "a" || f.Levels[1].Track != "b" {
		t.Errorf("levels not sorted: %v", f)
	}
	if math.Abs(float64(f.Levels[1].Peak)-0.4) > 1e-6 {
		t.Errorf("b peak = %v", f.Levels[1].Peak)
	}
	if f.Levels[2].Peak != 0 {
		t.Errorf("silent channel peak = %v", f.Levels[2].Peak)
	}

	// Drained: a second collect is silent.
	if f := hub.Collect(); f.Levels[1].Peak != 0 || f.Seq != 2 {
		t.Errorf("second frame = %v", f)
	}

	hub.Rename("a", "z")
	hub.Remove("b")
	f = hub.Collect()
	if len(f.Levels) != 2 || f.Levels[0].Track != "c" || f.Levels[1].Track != "z" {
		t.Errorf("after rename/remove: %v", f)
	}
}

func TestHub_StartStop(t *testing.T) {
	mt := &mockTransport{}
	hub, err := NewHub(mt, 5*time.Millisecond, 0)
	if err != nil {
		t.Fatal(err)
	}
	hub.Channel("vox", 0, 1)
	hub.Start()
	hub.Start()

	deadline := time.Now().Add(2 * time.Second)
	for mt.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("no frames published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := hub.Stop(); err != nil {
		t.Fatal(err)
	}
	n := mt.count()
	time.Sleep(20 * time.Millisecond)
	if mt.count() != n {
		t.Error("frames published after Stop")
	}

	if err := hub.Close(); err != nil {
		t.Fatal(err)
	}
	if !mt.closed {
		t.Error("transport not closed")
	}
}

func TestNewHub_NilTransport(t *testing.T) {
	if _, err := NewHub(nil, time.Second, 0); err == nil {
		t.Error("expected error")
	}
}

func TestSpectrumBands(t *testing.T) {
	const rate = 48000
	s := newSpectrum(SpectrumSize)

	// 22 bins of 46.875Hz, inside the mid band.
	sine := utils.GenerateSineWave(2*SpectrumSize, rate, 1031.25)
	var out [NumBands]float32
	s.bands(sine, 1, rate, &out)
	if math.Abs(float64(out[3])-0.9) > 0.02 {
		t.Errorf("mid = %v, want 0.9", out[3])
	}
	for _, b := range []int{0, 1, 5} {
		if out[b] > 0.01 {
			t.Errorf("%s = %v, want ~0", Bands[b].Name, out[b])
		}
	}

	// Stereo with the tone on one side only reads at half amplitude.
	stereo := make([]float32, 2*len(sine))
	for i, v := range sine {
		stereo[2*i] = v
	}
	s.bands(stereo, 2, rate, &out)
	if math.Abs(float64(out[3])-0.45) > 0.02 {
		t.Errorf("stereo mid = %v, want 0.45", out[3])
	}

	s.bands(sine, 1, 0, &out)
	if out != [NumBands]float32{} {
		t.Errorf("bands without a sample rate = %v", out)
	}
}

func TestHub_CollectBands(t *testing.T) {
	hub, err := NewHub(&mockTransport{}, time.Second, 4096)
	if err != nil {
		t.Fatal(err)
	}
	hub.Channel("tone", 48000, 1).Observe(utils.GenerateSineWave(SpectrumSize, 48000, 1031.25))

	f := hub.Collect()
	if f.Levels[0].Bands[3] < 0.8 {
		t.Errorf("mid band = %v", f.Levels[0].Bands[3])
	}
}
