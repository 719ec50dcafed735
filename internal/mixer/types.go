// Package mixer combines per-participant PCM streams into one timed mix.
package mixer

// ParticipantID identifies one audio source inside a room.
type ParticipantID string

// AudioChunk is a run of canonical interleaved PCM from one participant.
// Ownership of Samples moves to the mixer once the chunk is sent.
type AudioChunk struct {
	Participant ParticipantID
	Samples     []int16
}
