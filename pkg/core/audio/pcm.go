package audio

import (
	"encoding/binary"
	"math"
)

// Encoding identifies a sample encoding on either leg of a call.
type Encoding string

const (
	EncodingMuLaw    Encoding = "mulaw"
	EncodingPCMS16LE Encoding = "pcm_s16le"
)

// BytesToSamples reads 16-bit signed little-endian PCM. A trailing odd byte
// is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes writes samples as 16-bit signed little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMSEnergy computes the root-mean-square energy of samples, normalized to
// the range 0.0 to 1.0.
func RMSEnergy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		n := float64(s) / 32768.0
		sum += n * n
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PeakAmplitude returns the largest absolute sample, normalized to 0.0 to 1.0.
func PeakAmplitude(samples []int16) float64 {
	var peak float64
	for _, s := range samples {
		// float64 avoids overflow when negating -32768
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak / 32768.0
}

// DurationMS reports the playback length of n samples at rateHz.
func DurationMS(n, rateHz int) int {
	if rateHz <= 0 {
		return 0
	}
	return n * 1000 / rateHz
}
