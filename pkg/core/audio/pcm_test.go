package audio

import (
	"math"
	"testing"
)

func TestBytesToSamples_LittleEndian(t *testing.T) {
	got := BytesToSamples([]byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80, 0x7F})
	want := []int16{1, -1, -32768}
	if len(got) != len(want) {
		t.Fatalf("len=%d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%d, want %d", i, got[i], want[i])
		}
	}
}

func TestSamplesToBytes_InvertsBytesToSamples(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 1234}
	back := BytesToSamples(SamplesToBytes(samples))
	for i := range samples {
		if back[i] != samples[i] {
			t.Fatalf("sample %d: got %d, want %d", i, back[i], samples[i])
		}
	}
}

func TestRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{name: "empty", samples: nil, expected: 0},
		{name: "silence", samples: []int16{0, 0, 0, 0}, expected: 0},
		{name: "max amplitude", samples: []int16{32767, 32767, 32767, 32767}, expected: 1.0},
		{name: "half amplitude", samples: []int16{16384, -16384, 16384, -16384}, expected: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMSEnergy(tt.samples); math.Abs(got-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, got)
			}
		})
	}
}

func TestPeakAmplitude_NegativeFullScale(t *testing.T) {
	if got := PeakAmplitude([]int16{0, -32768, 5}); got != 1.0 {
		t.Fatalf("peak=%v, want 1.0", got)
	}
}

func TestDurationMS(t *testing.T) {
	if got := DurationMS(160, 8000); got != 20 {
		t.Fatalf("DurationMS=%d, want 20", got)
	}
	if got := DurationMS(160, 0); got != 0 {
		t.Fatalf("DurationMS with zero rate=%d, want 0", got)
	}
}
