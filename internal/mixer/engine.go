package mixer

import (
	"github.com/Raikerian/go-room-egress/pkg/audio"
)

// Engine owns the mix timeline and turns speaker windows into frames.
//
// The timeline advances by exactly frameSize on every Tick, whether or not a
// frame is produced, so frame timestamps never skip or repeat.
type Engine struct {
	frameSize int
	channels  int
	delay     int64
	timeline  int64
}

// TickResult describes what one Tick did.
type TickResult struct {
	Frame     audio.Frame
	Emitted   bool
	WarmingUp bool
	Active    int
	Silent    int
}

// NewEngine creates an engine that emits frameSize-sample frames once the
// timeline has reached delay samples.
func NewEngine(frameSize, channels int, delay int64) *Engine {
	return &Engine{
		frameSize: frameSize,
		channels:  channels,
		delay:     delay,
	}
}

// FrameSize returns the per-channel samples of every frame.
func (e *Engine) FrameSize() int { return e.frameSize }

// Delay returns the warm-up length in samples.
func (e *Engine) Delay() int64 { return e.delay }

// Timeline returns the current sample position.
func (e *Engine) Timeline() int64 { return e.timeline }

// Tick advances the timeline by one frame and mixes every speaker that had
// audio for the window. Speakers are polled in slice order.
//
// Nothing is emitted while warming up or when no speaker is active; the
// timeline still moves in both cases.
func (e *Engine) Tick(speakers []*SpeakerBuffer) TickResult {
	next := e.timeline + int64(e.frameSize)

	if next < e.delay {
		e.timeline = next
		return TickResult{WarmingUp: true}
	}

	var res TickResult
	active := make([][]int16, 0, len(speakers))
	for _, s := range speakers {
		// a partially padded window still counts as active
		w, ok := s.NextSamples(next)
		if !ok {
			res.Silent++
			continue
		}
		active = append(active, w.Samples)
	}
	e.timeline = next

	if len(active) == 0 {
		return res
	}

	out := make([]int16, e.frameSize*e.channels)
	audio.MixMean(out, active)

	res.Frame = audio.Frame{PTS: next, Samples: out}
	res.Emitted = true
	res.Active = len(active)

	return res
}
