package meter

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// SpectrumSize is the FFT length used for band levels.
const SpectrumSize = 1024

// NumBands is the number of frequency bands reported per track.
const NumBands = 6

// Band is a named frequency range, LowHz inclusive.
type Band struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// Bands are the ranges reported in Level.Bands, in order. The last one
// runs up to Nyquist.
var Bands = [NumBands]Band{
	{Name: "sub", LowHz: 20, HighHz: 60},
	{Name: "bass", LowHz: 60, HighHz: 250},
	{Name: "lowMid", LowHz: 250, HighHz: 500},
	{Name: "mid", LowHz: 500, HighHz: 2000},
	{Name: "highMid", LowHz: 2000, HighHz: 4000},
	{Name: "treble", LowHz: 4000, HighHz: 1e9},
}

// spectrum holds the FFT workspace. It is only used from Collect, under
// the hub lock.
type spectrum struct {
	fft    *fourier.FFT
	input  []float64
	coeffs []complex128
	gain   float64 // amplitude correction for the Hann window
}

func newSpectrum(size int) *spectrum {
	ones := make([]float64, size)
	for i := range ones {
		ones[i] = 1
	}
	w := window.Hann(ones)

	return &spectrum{
		fft:    fourier.NewFFT(size),
		input:  make([]float64, size),
		coeffs: make([]complex128, size/2+1),
		gain:   2 / floats.Sum(w),
	}
}

// bands downmixes the most recent SpectrumSize frames of an interleaved
// block and stores the strongest normalized magnitude of each band in out.
// A sine of amplitude A centred on a bin reads as A.
func (s *spectrum) bands(samples []float32, channels int, sampleRate float64, out *[NumBands]float32) {
	*out = [NumBands]float32{}
	channels = max(1, channels)
	frames := len(samples) / channels
	if frames == 0 || sampleRate <= 0 {
		return
	}

	size := len(s.input)
	start := max(0, frames-size)
	clear(s.input)
	for i := start; i < frames; i++ {
		var sum float64
		for c := range channels {
			sum += float64(samples[i*channels+c])
		}
		s.input[i-start] = sum / float64(channels)
	}
	window.Hann(s.input)

	s.fft.Coefficients(s.coeffs, s.input)
	for i, c := range s.coeffs {
		hz := s.fft.Freq(i) * sampleRate
		for b, band := range Bands {
			if hz < band.LowHz || hz >= band.HighHz {
				continue
			}
			if m := float32(cmplx.Abs(c) * s.gain); m > out[b] {
				out[b] = m
			}
			break
		}
	}
}
