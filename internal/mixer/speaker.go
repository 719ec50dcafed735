package mixer

import "time"

// SpeakerBuffer is the jitter buffer of one participant.
//
// Chunks of any length are queued in arrival order and handed back as
// fixed-size windows. It is owned by the mixer goroutine and is not safe for
// concurrent use.
type SpeakerBuffer struct {
	id        ParticipantID
	frameSize int
	channels  int

	pending  [][]int16
	cursor   int // interleaved offset into pending[0]
	buffered int // interleaved values not yet consumed

	lastPut     time.Time
	playedUntil int64
}

// Window is one frame-sized read from a SpeakerBuffer.
//
//	Samples – frame_size × channels interleaved values
//	Filled  – per-channel samples that came from real audio, the rest is zero
type Window struct {
	Samples []int16
	Filled  int
}

// NewSpeakerBuffer creates an empty buffer that serves frameSize-sample windows.
func NewSpeakerBuffer(id ParticipantID, frameSize, channels int) *SpeakerBuffer {
	return &SpeakerBuffer{
		id:        id,
		frameSize: frameSize,
		channels:  channels,
	}
}

// ID returns the participant the buffer belongs to.
func (b *SpeakerBuffer) ID() ParticipantID {
	return b.id
}

// Put queues a chunk. Empty chunks are ignored.
func (b *SpeakerBuffer) Put(chunk AudioChunk) {
	if len(chunk.Samples) == 0 {
		return
	}
	b.pending = append(b.pending, chunk.Samples)
	b.buffered += len(chunk.Samples)
	b.lastPut = time.Now()
}

// NextSamples returns the window of frame_size samples ending at windowEnd.
//
// Samples are taken from the head of the queue and consumed. A short buffer
// is padded with zeros at the tail. The boolean is false when nothing was
// buffered, in which case the window is pure silence.
func (b *SpeakerBuffer) NextSamples(windowEnd int64) (Window, bool) {
	b.playedUntil = windowEnd

	out := make([]int16, b.frameSize*b.channels)
	if b.buffered == 0 {
		return Window{Samples: out}, false
	}

	n := 0
	for n < len(out) && len(b.pending) > 0 {
		head := b.pending[0]
		copied := copy(out[n:], head[b.cursor:])
		n += copied
		b.cursor += copied

		if b.cursor == len(head) {
			b.pending[0] = nil
			b.pending = b.pending[1:]
			b.cursor = 0
		}
	}
	b.buffered -= n

	return Window{Samples: out, Filled: n / b.channels}, true
}

// Buffered returns the number of per-channel samples waiting to be played.
func (b *SpeakerBuffer) Buffered() int {
	return b.buffered / b.channels
}

// LastPut returns when the buffer last received audio.
func (b *SpeakerBuffer) LastPut() time.Time {
	return b.lastPut
}

// PlayedUntil returns the end of the last window that was requested.
func (b *SpeakerBuffer) PlayedUntil() int64 {
	return b.playedUntil
}
