package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuLawDecode_KnownValues(t *testing.T) {
	tests := []struct {
		in   byte
		want int16
	}{
		{0xFF, 0},
		{0x7F, 0},
		{0x00, -32124},
		{0x80, 32124},
		{0xFE, 8},
		{0x7E, -8},
		{0xEF, 132},
		{0x6F, -132},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, MuLawDecode(tt.in), "MuLawDecode(0x%02X)", tt.in)
	}
}

func TestMuLawEncode_KnownValues(t *testing.T) {
	tests := []struct {
		in   int16
		want byte
	}{
		{0, 0xFF},
		{32124, 0x80},
		{-32124, 0x00},
		{32767, 0x80},
		{-32768, 0x00},
		{8, 0xFE},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, MuLawEncode(tt.in), "MuLawEncode(%d)", tt.in)
	}
}

func TestMuLaw_CodebookRoundTrip(t *testing.T) {
	for b := 0; b < 256; b++ {
		if b == 0x7F {
			// negative zero folds onto positive zero
			continue
		}
		got := MuLawEncode(MuLawDecode(byte(b)))
		require.Equalf(t, byte(b), got, "encode(decode(0x%02X))", b)
	}
}

func TestMuLaw_QuantizationErrorBound(t *testing.T) {
	for s := -32768; s <= 32767; s++ {
		got := int(MuLawDecode(MuLawEncode(int16(s))))
		mag := s
		if mag < 0 {
			mag = -mag
		}
		if mag > muLawClip {
			mag = muLawClip
		}
		bound := (mag+muLawBias)/32 + 1
		if s > muLawClip || s < -muLawClip {
			bound += 32767 - muLawClip
		}
		diff := got - s
		if diff < 0 {
			diff = -diff
		}
		if diff > bound {
			t.Fatalf("sample %d decoded to %d (error %d > %d)", s, got, diff, bound)
		}
	}
}

func TestDecodeMuLaw_SilenceFrame(t *testing.T) {
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = 0xFF
	}
	samples := DecodeMuLaw(frame)
	require.Len(t, samples, 160)
	for i, s := range samples {
		require.Zerof(t, s, "sample %d", i)
	}
}

func TestEncodeMuLaw_MatchesPerSample(t *testing.T) {
	samples := []int16{0, 100, -100, 1000, -1000, 32000, -32000}
	out := EncodeMuLaw(samples)
	require.Len(t, out, len(samples))
	for i, s := range samples {
		assert.Equal(t, MuLawEncode(s), out[i])
	}
}
