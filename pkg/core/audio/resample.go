package audio

import "math"

// Resample converts linear samples from fromHz to toHz with a box filter.
//
// Each output slot averages the input samples whose time window maps onto it;
// when upsampling the window is a single sample, so samples are duplicated.
// The output has exactly round(len(samples)*toHz/fromHz) samples. Equal rates
// return the input slice itself. Rate pairs whose output length overflows
// produce an empty slice.
//
// This is not a band-limited resampler. Telephony audio carries nothing above
// 4 kHz, so the aliasing it allows is inaudible at the rates used here.
func Resample(samples []int16, fromHz, toHz int) []int16 {
	if fromHz == toHz || fromHz <= 0 || toHz <= 0 {
		return samples
	}
	n := ResampledLen(len(samples), fromHz, toHz)
	if n == 0 {
		return []int16{}
	}

	out := make([]int16, n)
	from, to, inLen := int64(fromHz), int64(toHz), int64(len(samples))
	for i := int64(0); i < int64(n); i++ {
		start := i * from / to
		end := (i + 1) * from / to
		if end <= start {
			end = start + 1
		}
		if end > inLen {
			end = inLen
		}
		if start >= inLen {
			start = inLen - 1
		}

		var sum int64
		for _, s := range samples[start:end] {
			sum += int64(s)
		}
		out[i] = saturate16(sum / (end - start))
	}
	return out
}

// ResampledLen reports how many samples Resample produces for n input samples.
// It returns 0 when the result would not fit in an int.
func ResampledLen(n, fromHz, toHz int) int {
	if fromHz == toHz || fromHz <= 0 || toHz <= 0 {
		return n
	}
	if n <= 0 {
		return 0
	}
	to, den := int64(toHz), int64(fromHz)
	if int64(n) > (math.MaxInt64-den/2)/to {
		return 0
	}
	out := (int64(n)*to + den/2) / den
	if out > math.MaxInt {
		return 0
	}
	return int(out)
}

func saturate16(v int64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
