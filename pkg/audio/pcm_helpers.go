package audio

import (
	"encoding/binary"
	"math"
)

// PCMInt16ToLE converts int16 samples to raw little-endian bytes.
func PCMInt16ToLE(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// S16ToPlanarF32LE converts interleaved int16 samples into planar 32-bit
// float planes laid out back to back, the way libavcodec's "fltp" sample
// format expects them in a single buffer.
func S16ToPlanarF32LE(samples []int16, channels int) []byte {
	if channels <= 0 {
		return nil
	}
	perChannel := len(samples) / channels
	out := make([]byte, perChannel*channels*4)

	for ch := 0; ch < channels; ch++ {
		plane := out[ch*perChannel*4:]
		for i := 0; i < perChannel; i++ {
			v := float32(samples[i*channels+ch]) / 32768
			binary.LittleEndian.PutUint32(plane[i*4:], math.Float32bits(v))
		}
	}
	return out
}
