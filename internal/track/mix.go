package track

// Mix sums every eligible input track into out and applies the master
// gain and pan. It implements audio.Mixer and runs on the playback thread:
// nothing here blocks or allocates. A track contributes when it is
// monitored, not muted, and either nothing is soloed or it is. Missing
// samples are silence and the sum is not clipped.
func (r *Registry) Mix(out []float32, channels int, scratch []float32) {
	clear(out)
	if channels <= 0 || !r.mu.TryRLock() {
		return
	}
	defer r.mu.RUnlock()

	anySolo := false
	for _, t := range r.tracks {
		if t.kind == Input && t.solo.Load() {
			anySolo = true
			break
		}
	}

	for _, t := range r.tracks {
		if t.kind == Input {
			t.mixInto(out, channels, scratch, anySolo)
		}
	}

	r.master.applyMaster(out, channels)
}

// panGains splits gain across left and right with a linear balance law.
// Centre pan leaves both sides at unity.
func panGains(gain, pan float32) (left, right float32) {
	return gain * min(1, 1-pan), gain * min(1, 1+pan)
}

func (t *Track) mixInto(out []float32, channels int, scratch []float32, anySolo bool) {
	if !t.mu.TryLock() {
		return
	}
	defer t.mu.Unlock()

	a := t.attrs
	if t.src == nil || a.Mute || !a.Monitor || (anySolo && !a.Solo) {
		return
	}
	in := t.src.Format().Channels
	if in <= 0 {
		return
	}
	chunk := len(scratch) / in
	if chunk == 0 {
		return
	}

	left, right := panGains(a.Gain, a.Pan)
	rb := t.src.Buffer()
	frames := len(out) / channels

	for f := 0; f < frames; {
		want := min(chunk, frames-f)
		n := rb.Read(scratch[:want*in]) / in
		if n == 0 {
			return
		}
		addFrames(out[f*channels:], channels, scratch[:n*in], in, a.Gain, left, right)
		f += n
		if n < want {
			return
		}
	}
}

// addFrames adds interleaved in frames onto out frames. Mono output takes
// the average of the input frame; otherwise output channel c reads input
// channel c mod in.
func addFrames(out []float32, outCh int, in []float32, inCh int, gain, left, right float32) {
	frames := len(in) / inCh
	for f := range frames {
		frame := in[f*inCh : (f+1)*inCh]
		o := out[f*outCh : (f+1)*outCh]

		if outCh == 1 {
			var sum float32
			for _, s := range frame {
				sum += s
			}
			o[0] += gain * sum / float32(inCh)
			continue
		}

		for c := range o {
			s := frame[c%inCh]
			switch c {
			case 0:
				o[c] += s * left
			case 1:
				o[c] += s * right
			default:
				o[c] += s * gain
			}
		}
	}
}

func (t *Track) applyMaster(out []float32, channels int) {
	if !t.mu.TryLock() {
		return
	}
	a := t.attrs
	t.mu.Unlock()

	if a.Mute {
		clear(out)
		return
	}
	left, right := panGains(a.Gain, a.Pan)
	if left == 1 && right == 1 && a.Gain == 1 {
		return
	}
	for i := range out {
		switch {
		case channels == 1:
			out[i] *= a.Gain
		case i%channels == 0:
			out[i] *= left
		case i%channels == 1:
			out[i] *= right
		default:
			out[i] *= a.Gain
		}
	}
}
