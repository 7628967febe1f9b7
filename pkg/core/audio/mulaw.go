package audio

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// muLawDecodeTable holds the linear expansion of every mu-law byte.
var muLawDecodeTable = func() [256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = expandMuLaw(byte(i))
	}
	return t
}()

// muLawSegmentTable maps the top bits of a biased magnitude to its segment.
var muLawSegmentTable = func() [256]uint8 {
	var t [256]uint8
	for i := 1; i < 256; i++ {
		seg := uint8(0)
		for v := i; v > 1; v >>= 1 {
			seg++
		}
		t[i] = seg
	}
	return t
}()

func expandMuLaw(b byte) int16 {
	u := ^b
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	magnitude := ((int32(mantissa) << 3) + muLawBias) << exponent
	magnitude -= muLawBias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// MuLawDecode expands one G.711 mu-law byte to a 16-bit linear sample.
func MuLawDecode(b byte) int16 {
	return muLawDecodeTable[b]
}

// MuLawEncode compresses a 16-bit linear sample to one G.711 mu-law byte.
// Magnitudes above 32635 are clipped before biasing.
func MuLawEncode(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias
	exponent := muLawSegmentTable[(s>>7)&0xFF]
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMuLaw expands a mu-law payload into linear samples, one per byte.
func DecodeMuLaw(src []byte) []int16 {
	out := make([]int16, len(src))
	for i, b := range src {
		out[i] = muLawDecodeTable[b]
	}
	return out
}

// EncodeMuLaw compresses linear samples into a mu-law payload.
func EncodeMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = MuLawEncode(s)
	}
	return out
}
