package audio

import "math"

// MixMean writes the equal-weight average of sources into dst.
//
// Every source must be at least len(dst) long. Each output value is
// round(sum/n), saturated to the int16 range. With no sources dst is zeroed.
func MixMean(dst []int16, sources [][]int16) {
	n := len(sources)
	if n == 0 {
		clear(dst)
		return
	}
	if n == 1 {
		copy(dst, sources[0])
		return
	}

	for i := range dst {
		var sum int64
		for _, src := range sources {
			sum += int64(src[i])
		}
		dst[i] = Saturate(int64(math.Round(float64(sum) / float64(n))))
	}
}

// Saturate clamps v to the valid int16 range.
func Saturate(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
