package track

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trackmix/internal/audio"
	"trackmix/pkg/utils"
)

func addFake(t *testing.T, r *Registry, name string, channels int) *fakeSource {
	t.Helper()
	src := newFakeSource(name+"-dev", channels)
	if err := r.Add(New(name, src, "", DefaultAttributes(), r.master.recCfg)); err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
	return src
}

func mustUpdate(t *testing.T, r *Registry, name string, u Update) {
	t.Helper()
	if err := r.Update(name, u); err != nil {
		t.Fatalf("Update(%s, %s): %v", name, u, err)
	}
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestMix_SumsContributingTracks(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	a := addFake(t, r, "a", 1)
	b := addFake(t, r, "b", 1)
	mustUpdate(t, r, "a", Monitor(true))
	mustUpdate(t, r, "b", Monitor(true))

	a.emit(utils.GenerateConstant(4, 0.2))
	b.emit(utils.GenerateConstant(4, 0.3))

	out := make([]float32, 8) // 4 stereo frames
	r.Mix(out, 2, make([]float32, 64))
	for i, v := range out {
		if !approx(v, 0.5) {
			t.Fatalf("out[%d] = %v, want 0.5", i, v)
		}
	}
}

func TestMix_Eligibility(t *testing.T) {
	tests := []struct {
		name string
		a, b []Update
		want float32
	}{
		{"both", nil, nil, 0.5},
		{"a muted", []Update{Mute(true)}, nil, 0.3},
		{"b soloed", nil, []Update{Solo(true)}, 0.3},
		{"a soloed and muted", []Update{Solo(true), Mute(true)}, nil, 0},
		{"both soloed", []Update{Solo(true)}, []Update{Solo(true)}, 0.5},
		{"b not monitored", nil, []Update{Monitor(false)}, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry(t.TempDir())
			a := addFake(t, r, "a", 1)
			b := addFake(t, r, "b", 1)
			mustUpdate(t, r, "a", Monitor(true))
			mustUpdate(t, r, "b", Monitor(true))
			a.emit(utils.GenerateConstant(2, 0.2))
			b.emit(utils.GenerateConstant(2, 0.3))
			for _, u := range tt.a {
				mustUpdate(t, r, "a", u)
			}
			for _, u := range tt.b {
				mustUpdate(t, r, "b", u)
			}

			out := make([]float32, 2)
			r.Mix(out, 1, make([]float32, 64))
			if !approx(out[0], tt.want) || !approx(out[1], tt.want) {
				t.Errorf("out = %v, want %v", out, tt.want)
			}
		})
	}
}

func TestMix_MissingSamplesAreSilence(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	a := addFake(t, r, "a", 2)
	mustUpdate(t, r, "a", Monitor(true))
	a.emit([]float32{0.1, 0.2, 0.3, 0.4}) // two frames

	out := []float32{9, 9, 9, 9, 9, 9, 9, 9}
	r.Mix(out, 2, make([]float32, 64))
	want := []float32{0.1, 0.2, 0.3, 0.4, 0, 0, 0, 0}
	for i := range want {
		if !approx(out[i], want[i]) {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}

func TestMix_SmallScratchChunks(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	a := addFake(t, r, "a", 2)
	mustUpdate(t, r, "a", Monitor(true))
	a.emit(utils.GenerateConstant(20, 0.25))

	out := make([]float32, 20)
	r.Mix(out, 2, make([]float32, 6)) // three stereo frames per chunk
	for i, v := range out {
		if !approx(v, 0.25) {
			t.Fatalf("out[%d] = %v, want 0.25", i, v)
		}
	}
}

func TestMix_GainPanAndMaster(t *testing.T) {
	tests := []struct {
		name        string
		track       []Update
		master      []Update
		left, right float32
	}{
		{"unity", nil, nil, 0.4, 0.4},
		{"gain", []Update{Gain(0.5)}, nil, 0.2, 0.2},
		{"hard right", []Update{Pan(1)}, nil, 0, 0.4},
		{"half left", []Update{Pan(-0.5)}, nil, 0.4, 0.2},
		{"master gain", nil, []Update{Gain(2)}, 0.8, 0.8},
		{"master pan", nil, []Update{Pan(-1)}, 0.4, 0},
		{"master mute", nil, []Update{Mute(true)}, 0, 0},
		{"unclipped", []Update{Gain(4)}, nil, 1.6, 1.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry(t.TempDir())
			a := addFake(t, r, "a", 1)
			mustUpdate(t, r, "a", Monitor(true))
			for _, u := range tt.track {
				mustUpdate(t, r, "a", u)
			}
			for _, u := range tt.master {
				mustUpdate(t, r, MasterName, u)
			}
			a.emit([]float32{0.4})

			out := make([]float32, 2)
			r.Mix(out, 2, make([]float32, 16))
			if !approx(out[0], tt.left) || !approx(out[1], tt.right) {
				t.Errorf("out = %v, want [%v %v]", out, tt.left, tt.right)
			}
		})
	}
}

func TestMix_MonoOutputAveragesFrame(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	a := addFake(t, r, "a", 2)
	mustUpdate(t, r, "a", Monitor(true))
	a.emit([]float32{0.2, 0.4})

	out := make([]float32, 1)
	r.Mix(out, 1, make([]float32, 16))
	if !approx(out[0], 0.3) {
		t.Errorf("out = %v, want 0.3", out[0])
	}
}

func TestMix_ContentionYieldsSilence(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	a := addFake(t, r, "a", 1)
	mustUpdate(t, r, "a", Monitor(true))
	a.emit([]float32{0.4, 0.4})

	tr, _ := r.Get("a")
	tr.mu.Lock()
	out := make([]float32, 2)
	r.Mix(out, 1, make([]float32, 16))
	tr.mu.Unlock()
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("locked track contributed %v", out)
	}

	r.mu.Lock()
	r.Mix(out, 1, make([]float32, 16))
	r.mu.Unlock()
	if out[0] != 0 {
		t.Fatalf("locked registry produced %v", out)
	}

	// Nothing was consumed while locked.
	r.Mix(out, 1, make([]float32, 16))
	if !approx(out[0], 0.4) {
		t.Errorf("out = %v after unlock, want 0.4", out)
	}
}

func TestMix_Allocs(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	a := addFake(t, r, "a", 2)
	addFake(t, r, "b", 1)
	mustUpdate(t, r, "a", Monitor(true))
	mustUpdate(t, r, "b", Monitor(true))
	block := utils.GenerateConstant(256, 0.1)
	out := make([]float32, 256)
	scratch := make([]float32, 1024)

	allocs := testing.AllocsPerRun(100, func() {
		a.emit(block)
		r.Mix(out, 2, scratch)
	})
	if allocs != 0 {
		t.Errorf("Mix allocates %.1f times per block", allocs)
	}
}

func TestTrack_StreamLifecycle(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestRegistry(dir)
	src := addFake(t, r, "vox", 1)

	mustUpdate(t, r, "vox", Monitor(true))
	if starts, _, _ := src.counts(); starts != 1 {
		t.Fatalf("starts = %d after monitor on", starts)
	}
	src.mu.Lock()
	monitoring := src.monitoring
	src.mu.Unlock()
	if !monitoring {
		t.Error("monitoring flag not forwarded")
	}

	mustUpdate(t, r, "vox", Record(true))
	if src.tap.Load() == nil {
		t.Fatal("record tap not attached")
	}
	src.emit(utils.GenerateConstant(100, 0.5))

	// Still streaming while record is on.
	mustUpdate(t, r, "vox", Monitor(false))
	if starts, stops, _ := src.counts(); starts != 1 || stops != 0 {
		t.Fatalf("starts=%d stops=%d, want 1/0", starts, stops)
	}
	src.emit(utils.GenerateConstant(60, -0.5))

	mustUpdate(t, r, "vox", Record(false))
	if _, stops, _ := src.counts(); stops != 1 {
		t.Fatalf("stops = %d, want 1", stops)
	}
	if src.tap.Load() != nil {
		t.Error("record tap still attached")
	}

	files, _ := filepath.Glob(filepath.Join(dir, "vox-*.wav"))
	if len(files) != 1 {
		t.Fatalf("recordings = %v, want one", files)
	}
	got, format, err := audio.ReadWAV(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if format.SampleRate != 8000 || format.Channels != 1 {
		t.Errorf("format = %+v", format)
	}
	if len(got) != 160 {
		t.Fatalf("recorded %d samples, want 160", len(got))
	}
	if !approx(got[0], 0.5) || !approx(got[159], -0.5) {
		t.Errorf("recorded edges %v..%v", got[0], got[159])
	}

	info := r.List()[1]
	if info.Streaming || info.Monitor || info.Record {
		t.Errorf("info = %+v, want idle", info)
	}
}

func TestTrack_StopIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	src := addFake(t, r, "a", 1)
	mustUpdate(t, r, "a", Monitor(true))

	tr, _ := r.Get("a")
	for range 2 {
		if err := tr.Stop(); err != nil {
			t.Fatal(err)
		}
	}
	if _, stops, _ := src.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
	if !tr.Attributes().Monitor {
		t.Error("Stop must not clear monitor")
	}

	// Start resumes because monitor is still set.
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	if starts, _, _ := src.counts(); starts != 2 {
		t.Errorf("starts = %d, want 2", starts)
	}
}

func TestTrack_StartErrorClosesRecorder(t *testing.T) {
	dir := t.TempDir()
	r, _ := newTestRegistry(dir)
	src := addFake(t, r, "a", 1)
	src.startErr = errDeviceBusy

	err := r.Update("a", Record(true))
	if !errors.Is(err, errDeviceBusy) {
		t.Fatalf("err = %v, want device busy", err)
	}
	if src.tap.Load() != nil {
		t.Error("tap left attached after failed start")
	}
	if info := r.List()[0]; info.Record || info.Streaming {
		t.Errorf("info = %+v after failed record", info)
	}

	err = r.Update("a", Monitor(true))
	if !errors.Is(err, errDeviceBusy) {
		t.Fatalf("err = %v, want device busy", err)
	}
	if info := r.List()[0]; info.Monitor || info.Streaming {
		t.Errorf("info = %+v after failed monitor", info)
	}
	src.mu.Lock()
	monitoring := src.monitoring
	src.mu.Unlock()
	if monitoring {
		t.Error("monitoring left on after failed start")
	}

	// Once the device frees up the same update succeeds.
	src.startErr = nil
	mustUpdate(t, r, "a", Monitor(true))
	if info := r.List()[0]; !info.Monitor || !info.Streaming {
		t.Errorf("info = %+v after retry", info)
	}
}

func TestMaster_RecordErrorClearsFlag(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	r, _ := newTestRegistry(filepath.Join(blocker, "rec"))

	if err := r.Update(MasterName, Record(true)); err == nil {
		t.Fatal("expected error recording into a path under a file")
	}
	if r.Master().Attributes().Record {
		t.Error("record flag left set after failed recorder")
	}
}

func TestTrack_RestartsAfterStreamEnds(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	src := addFake(t, r, "loop", 1)
	mustUpdate(t, r, "loop", Monitor(true))
	tr, _ := r.Get("loop")

	src.finish()
	if tr.Info().Streaming {
		t.Error("ended stream still reported as streaming")
	}

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	if starts, _, _ := src.counts(); starts != 2 {
		t.Errorf("starts = %d, want 2", starts)
	}
	if !tr.Info().Streaming {
		t.Error("track not streaming after restart")
	}
}

func TestTrack_FileRestartsAfterEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loop.wav")
	want := utils.GenerateConstant(80, 0.25)
	if err := audio.WriteWAV(path, audio.Format{SampleRate: 8000, Channels: 1}, want); err != nil {
		t.Fatal(err)
	}
	src, err := audio.OpenFileSource(path, 1)
	if err != nil {
		t.Fatal(err)
	}

	r, _ := newTestRegistry(dir)
	if err := r.Add(New("loop", src, "", DefaultAttributes(), r.master.recCfg)); err != nil {
		t.Fatal(err)
	}
	mustUpdate(t, r, "loop", Monitor(true))
	tr, _ := r.Get("loop")

	drain := func() int {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !src.EOF() || src.Running() {
			if time.Now().After(deadline) {
				t.Fatal("file never reached EOF")
			}
			time.Sleep(5 * time.Millisecond)
		}
		out := make([]float32, 80)
		r.Mix(out, 1, make([]float32, 64))
		n := 0
		for _, v := range out {
			if math.Abs(float64(v-0.25)) <= 1.0/32767 {
				n++
			}
		}
		return n
	}

	if n := drain(); n != len(want) {
		t.Fatalf("first pass mixed %d samples, want %d", n, len(want))
	}
	if tr.Info().Streaming {
		t.Error("file track reported streaming after EOF")
	}

	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	if n := drain(); n != len(want) {
		t.Errorf("after restart mixed %d samples, want %d", n, len(want))
	}
	if err := r.Remove("loop"); err != nil {
		t.Fatal(err)
	}
}

func TestMix_SoloHoldsUnderContention(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	a := addFake(t, r, "a", 1)
	b := addFake(t, r, "b", 1)
	mustUpdate(t, r, "a", Monitor(true))
	mustUpdate(t, r, "b", Monitor(true))
	mustUpdate(t, r, "a", Solo(true))
	a.emit([]float32{0.4})
	b.emit([]float32{0.2})

	tr, _ := r.Get("a")
	tr.mu.Lock()
	out := make([]float32, 1)
	r.Mix(out, 1, make([]float32, 16))
	tr.mu.Unlock()
	if out[0] != 0 {
		t.Fatalf("non-soloed track leaked through while the solo track was busy: %v", out)
	}

	r.Mix(out, 1, make([]float32, 16))
	if !approx(out[0], 0.4) {
		t.Errorf("out = %v, want 0.4", out)
	}
}

func TestTrack_OfflineTrack(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	if err := r.Add(New("ghost", nil, "USB Mic", DefaultAttributes(), DefaultRecordConfig())); err != nil {
		t.Fatal(err)
	}
	mustUpdate(t, r, "ghost", Monitor(true))

	tr, _ := r.Get("ghost")
	info := tr.Info()
	if !info.Offline || info.Streaming || info.Origin != "USB Mic" || info.Source != audio.KindNone {
		t.Errorf("info = %+v", info)
	}
	if err := tr.ExportBuffer(filepath.Join(t.TempDir(), "x.wav")); !errors.Is(err, ErrNoSource) {
		t.Errorf("ExportBuffer = %v, want ErrNoSource", err)
	}
	if err := r.Remove("ghost"); err != nil {
		t.Errorf("Remove offline track: %v", err)
	}
}

func TestTrack_InvalidValues(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	addFake(t, r, "a", 1)

	for _, u := range []Update{Gain(-1), Gain(float32(math.Inf(1))), Pan(float32(math.NaN()))} {
		if err := r.Update("a", u); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("Update(%s) = %v, want ErrInvalidValue", u, err)
		}
	}

	mustUpdate(t, r, "a", Pan(3))
	tr, _ := r.Get("a")
	if p := tr.Attributes().Pan; p != 1 {
		t.Errorf("pan = %v, want clamped to 1", p)
	}

	for _, u := range []Update{Solo(true), Monitor(true)} {
		if err := r.Update(MasterName, u); !errors.Is(err, ErrMasterTrack) {
			t.Errorf("master %s = %v, want ErrMasterTrack", u, err)
		}
	}
}

func TestTrack_ExportBufferDoesNotConsume(t *testing.T) {
	r, _ := newTestRegistry(t.TempDir())
	src := addFake(t, r, "a", 1)
	mustUpdate(t, r, "a", Monitor(true))
	src.emit([]float32{0.1, 0.2, 0.3})

	tr, _ := r.Get("a")
	path := filepath.Join(t.TempDir(), "peek.wav")
	if err := tr.ExportBuffer(path); err != nil {
		t.Fatal(err)
	}
	got, _, err := audio.ReadWAV(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || !approx(float32(math.Round(float64(got[2])*1000)/1000), 0.3) {
		t.Errorf("exported %v", got)
	}
	if src.ring.Len() != 3 {
		t.Errorf("ring Len = %d after export, want 3", src.ring.Len())
	}
}

func TestMaster_RecordAndSwap(t *testing.T) {
	dir := t.TempDir()
	r, sink := newTestRegistry(dir)
	master := r.Master()

	if err := master.Start(); err != nil {
		t.Fatal(err)
	}
	mustUpdate(t, r, MasterName, Record(true))
	tap := sink.tap.Load()
	if tap == nil {
		t.Fatal("master record tap not attached")
	}
	tap.Write([]float32{0.1, 0.1})

	next := &fakeSink{name: "headphones", format: sink.format}
	old := r.SwapMasterStream(next)
	if old != sink {
		t.Fatalf("SwapMasterStream returned %v", old)
	}
	if sink.tap.Load() != nil || next.tap.Load() == nil {
		t.Fatal("recording did not follow the new sink")
	}
	if err := master.Start(); err != nil {
		t.Fatal(err)
	}
	if next.started.Load() != 1 {
		t.Errorf("new sink started %d times", next.started.Load())
	}
	next.tap.Load().Write([]float32{0.2, 0.2})

	if err := master.Stop(); err != nil {
		t.Fatal(err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, MasterName+"-*.wav"))
	if len(files) != 1 {
		t.Fatalf("master recordings = %v", files)
	}
	got, _, err := audio.ReadWAV(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("master recording has %d samples, want 4", len(got))
	}
	if info := master.Info(); info.Origin != "headphones" || info.Kind != MasterOutput {
		t.Errorf("master info = %+v", info)
	}
}
