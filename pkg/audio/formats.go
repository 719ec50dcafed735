package audio

import (
	"errors"
	"fmt"
	"time"
)

// Canonical PCM layout every ingest source is converted to before mixing.
const (
	SampleRate     = 48_000 // Hz
	Channels       = 2      // interleaved stereo
	BytesPerSample = 2      // signed 16-bit
)

// ErrInvalidFormat is returned by Format.Validate.
var ErrInvalidFormat = errors.New("invalid pcm format")

// Format describes interleaved signed 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Canonical returns the format the mixer operates on.
func Canonical() Format {
	return Format{SampleRate: SampleRate, Channels: Channels}
}

// Validate checks that the format can be mixed and encoded.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: %d channels, want 1 or 2", ErrInvalidFormat, f.Channels)
	}

	return nil
}

// Interleaved returns how many int16 values hold n per-channel samples.
func (f Format) Interleaved(n int) int {
	return n * f.Channels
}

// Duration returns the play time of n per-channel samples.
func (f Format) Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// SamplesFor returns ceil(rate × d) per-channel samples.
func (f Format) SamplesFor(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	num := int64(f.SampleRate) * int64(d)

	return (num + int64(time.Second) - 1) / int64(time.Second)
}

// Frame is one fixed-size block of mixed PCM.
//
//	PTS     – sample position of the end of the window, in 1/SampleRate units
//	Samples – frame_size × channels interleaved values, never partial
type Frame struct {
	PTS     int64
	Samples []int16
}
